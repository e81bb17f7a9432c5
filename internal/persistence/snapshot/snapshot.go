// Package snapshot encodes movement history snapshots: a JSON header line
// followed by a gob body, zstd-compressed.
package snapshot

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

const Version = 1

type Header struct {
	Version int       `json:"version"`
	Session string    `json:"session"`
	SavedAt time.Time `json:"saved_at"`
	Total   uint64    `json:"total"`
	Count   int       `json:"count"`
}

type HistoryV1 struct {
	Header   Header     `json:"header"`
	Capacity int        `json:"capacity"`
	Records  []RecordV1 `json:"records"`
}

type RecordV1 struct {
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Facing int    `json:"facing"`
	Action string `json:"action"`
	AtNano int64  `json:"at_nano"`
}

// FromRing captures the ring oldest first.
func FromRing(r *history.Ring, session string, now time.Time) HistoryV1 {
	recs := r.ToSlice()
	out := HistoryV1{
		Header: Header{
			Version: Version,
			Session: session,
			SavedAt: now.UTC(),
			Total:   r.Total(),
			Count:   len(recs),
		},
		Capacity: r.Cap(),
		Records:  make([]RecordV1, 0, len(recs)),
	}
	for _, rec := range recs {
		out.Records = append(out.Records, RecordV1{
			X:      rec.Pose.X,
			Y:      rec.Pose.Y,
			Z:      rec.Pose.Z,
			Facing: int(rec.Pose.Facing),
			Action: string(rec.Action),
			AtNano: rec.At.UnixNano(),
		})
	}
	return out
}

// HistoryRecords converts back, rejecting records a ring could never hold.
func (s HistoryV1) HistoryRecords() ([]history.Record, error) {
	out := make([]history.Record, 0, len(s.Records))
	for i, r := range s.Records {
		p := pose.Pose{X: r.X, Y: r.Y, Z: r.Z, Facing: pose.Facing(r.Facing)}
		if err := pose.Validate(p, pose.WorldLimits()); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		a := turtle.Action(r.Action)
		if !a.Valid() {
			return nil, fmt.Errorf("record %d: unknown action %q", i, r.Action)
		}
		out = append(out, history.Record{Pose: p, Action: a, At: time.Unix(0, r.AtNano)})
	}
	return out, nil
}

func Encode(w io.Writer, snap HistoryV1) error {
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func Decode(r io.Reader) (HistoryV1, error) {
	var snap HistoryV1
	dec, err := zstd.NewReader(r)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("parse header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(r io.Reader) (Header, error) {
	var h Header
	dec, err := zstd.NewReader(r)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

func Marshal(snap HistoryV1) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (HistoryV1, error) { return Decode(bytes.NewReader(b)) }

func WriteFile(path string, snap HistoryV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := Encode(f, snap); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func ReadFile(path string) (HistoryV1, error) {
	f, err := os.Open(path)
	if err != nil {
		return HistoryV1{}, err
	}
	defer f.Close()
	return Decode(f)
}
