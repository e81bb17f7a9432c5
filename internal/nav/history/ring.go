// Package history keeps a fixed-capacity ring of recent movement records.
package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

const DefaultCapacity = 1000

// Record is one successful primitive. Pose is the pose after the action.
type Record struct {
	Pose   pose.Pose     `json:"pose"`
	Action turtle.Action `json:"action"`
	At     time.Time     `json:"at"`
}

type Ring struct {
	mu    sync.RWMutex
	buf   []Record
	head  int // next write slot
	n     int
	total uint64
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Ring{buf: make([]Record, capacity)}
}

func (r *Ring) Push(rec Record) {
	r.mu.Lock()
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
	if r.n < len(r.buf) {
		r.n++
	}
	r.total++
	r.mu.Unlock()
}

func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.n
}

func (r *Ring) Cap() int { return len(r.buf) }

// Total counts every record ever pushed, including overwritten ones.
func (r *Ring) Total() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Recent returns the last n records, oldest first.
func (r *Ring) Recent(n int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recentLocked(n)
}

// ToSlice returns every held record, oldest first.
func (r *Ring) ToSlice() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recentLocked(r.n)
}

func (r *Ring) recentLocked(n int) []Record {
	if n > r.n {
		n = r.n
	}
	if n <= 0 {
		return nil
	}
	out := make([]Record, n)
	start := r.head - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *Ring) Clear() {
	r.mu.Lock()
	for i := range r.buf {
		r.buf[i] = Record{}
	}
	r.head, r.n, r.total = 0, 0, 0
	r.mu.Unlock()
}

// Restore replaces the contents with recs (oldest first). When recs exceeds
// the capacity only the newest records are kept.
func (r *Ring) Restore(recs []Record, total uint64) {
	r.Clear()
	if len(recs) > len(r.buf) {
		recs = recs[len(recs)-len(r.buf):]
	}
	for _, rec := range recs {
		r.Push(rec)
	}
	r.mu.Lock()
	if total > r.total {
		r.total = total
	}
	r.mu.Unlock()
}

type Stats struct {
	TotalMoves        uint64 `json:"total_moves"`
	Held              int    `json:"held"`
	Capacity          int    `json:"capacity"`
	DistinctPositions int    `json:"distinct_positions"`
}

func (r *Ring) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{
		TotalMoves:        r.total,
		Held:              r.n,
		Capacity:          len(r.buf),
		DistinctPositions: distinct(r.recentLocked(r.n)),
	}
}

// Pacing reports whether the last window records visited at most maxDistinct
// positions, i.e. the agent is walking a small loop. It needs a full window.
func (r *Ring) Pacing(window, maxDistinct int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if window <= 0 || r.n < window {
		return false
	}
	return distinct(r.recentLocked(window)) <= maxDistinct
}

func distinct(recs []Record) int {
	seen := make(map[pose.Vec3]struct{}, len(recs))
	for _, rec := range recs {
		seen[rec.Pose.Pos()] = struct{}{}
	}
	return len(seen)
}

// Mover issues one primitive.
type Mover interface {
	Do(ctx context.Context, a turtle.Action) error
}

// Backtrack replays the last steps records newest first, issuing the inverse
// of each. The records to undo are captured before the first move, so the
// inverse moves appended by the mover are not themselves undone. It stops at
// the first failure and reports how many steps completed.
func (r *Ring) Backtrack(ctx context.Context, steps int, m Mover) (int, error) {
	plan := r.Recent(steps)
	done := 0
	for i := len(plan) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return done, failure.Wrap(failure.CodeCancelled, err, "backtrack after %d of %d steps", done, len(plan))
		}
		inv := plan[i].Action.Inverse()
		if err := m.Do(ctx, inv); err != nil {
			return done, fmt.Errorf("backtrack step %d of %d (%s): %w", done+1, len(plan), inv, err)
		}
		done++
	}
	return done, nil
}
