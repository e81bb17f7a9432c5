// Package trail appends every completed movement primitive to zstd-compressed
// JSONL segments, one directory per session.
//
// A session's segments are named <day>.<part>.jsonl.zst. A new segment starts
// on the first entry of a new UTC day or once the current one holds
// MaxEntries lines. Segments are plain concatenations of zstd frames, so a
// segment reopened after a restart keeps appending.
package trail

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"turtlecraft.ai/internal/nav/history"
)

const DefaultMaxEntries = 5000

const segmentExt = ".jsonl.zst"

// Entry is one trail line.
type Entry struct {
	Session string `json:"session,omitempty"`
	Seq     uint64 `json:"seq"`
	At      string `json:"at"`
	Action  string `json:"action"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	Facing  string `json:"facing"`
}

// Logger is the executor's trail sink.
type Logger struct {
	dir        string
	session    string
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	seq     uint64
	day     string
	part    int
	entries int
	f       *os.File
	enc     *zstd.Encoder
}

func NewLogger(dir, session string) *Logger {
	if session == "" {
		session = "default"
	}
	return &Logger{
		dir:        filepath.Join(dir, session),
		session:    session,
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
	}
}

// Append writes rec as the next entry. Each entry is flushed as its own zstd
// block; the frame is finished when the segment rolls or on Close.
func (l *Logger) Append(rec history.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	day := l.now().UTC().Format("2006-01-02")
	switch {
	case l.enc == nil || day != l.day:
		if err := l.openLocked(day, 0); err != nil {
			return err
		}
	case l.entries >= l.maxEntries:
		if err := l.openLocked(day, l.part+1); err != nil {
			return err
		}
	}

	l.seq++
	b, err := json.Marshal(Entry{
		Session: l.session,
		Seq:     l.seq,
		At:      rec.At.UTC().Format(time.RFC3339Nano),
		Action:  string(rec.Action),
		X:       rec.Pose.X,
		Y:       rec.Pose.Y,
		Z:       rec.Pose.Z,
		Facing:  rec.Pose.Facing.String(),
	})
	if err != nil {
		return err
	}
	if _, err := l.enc.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("trail: %w", err)
	}
	l.entries++
	return l.enc.Flush()
}

func (l *Logger) openLocked(day string, part int) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(l.dir, segmentName(day, part))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f, l.enc = f, enc
	l.day, l.part, l.entries = day, part, 0
	return nil
}

func (l *Logger) closeLocked() error {
	if l.enc == nil {
		return nil
	}
	err := l.enc.Close()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f, l.enc = nil, nil
	return err
}

func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func segmentName(day string, part int) string {
	return fmt.Sprintf("%s.%03d%s", day, part, segmentExt)
}

// Segments lists a session's segment files in write order.
func Segments(dir, session string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, session, "*"+segmentExt))
	if err != nil {
		return nil, err
	}
	// day and zero-padded part sort lexically
	sort.Strings(matches)
	return matches, nil
}

// ReadSession decodes every entry a session wrote, oldest first.
func ReadSession(dir, session string) ([]Entry, error) {
	paths, err := Segments(dir, session)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, p := range paths {
		entries, err := ReadFile(p)
		if err != nil {
			return out, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

// ReadFile decodes every entry of one segment.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return out, fmt.Errorf("%s line %d: %w", filepath.Base(path), len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
