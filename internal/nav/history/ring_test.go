package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

func rec(x int, a turtle.Action) Record {
	return Record{Pose: pose.Pose{X: x, Y: 64}, Action: a, At: time.Unix(int64(x), 0)}
}

func TestRingOverwritesOldest(t *testing.T) {
	r := NewRing(3)
	a, b, c, d := rec(1, turtle.ActionForward), rec(2, turtle.ActionForward), rec(3, turtle.ActionUp), rec(4, turtle.ActionDown)
	for _, x := range []Record{a, b, c, d} {
		r.Push(x)
	}
	require.Equal(t, []Record{b, c, d}, r.ToSlice())
	require.Equal(t, 3, r.Len())
	require.Equal(t, 3, r.Cap())
	require.Equal(t, uint64(4), r.Total())
	require.Equal(t, []Record{c, d}, r.Recent(2))
	require.Equal(t, []Record{b, c, d}, r.Recent(10))
	require.Nil(t, r.Recent(0))
}

func TestRingNeverGrows(t *testing.T) {
	r := NewRing(5)
	for i := 0; i < 1000; i++ {
		r.Push(rec(i, turtle.ActionForward))
	}
	require.Len(t, r.buf, 5)
	got := r.ToSlice()
	require.Len(t, got, 5)
	require.Equal(t, 995, got[0].Pose.X)
	require.Equal(t, 999, got[4].Pose.X)
}

func TestRingDefaultsAndClear(t *testing.T) {
	r := NewRing(0)
	require.Equal(t, DefaultCapacity, r.Cap())
	r.Push(rec(1, turtle.ActionForward))
	r.Clear()
	require.Equal(t, 0, r.Len())
	require.Equal(t, uint64(0), r.Total())
	require.Empty(t, r.ToSlice())
}

func TestRestoreKeepsNewest(t *testing.T) {
	r := NewRing(2)
	r.Restore([]Record{rec(1, turtle.ActionForward), rec(2, turtle.ActionForward), rec(3, turtle.ActionForward)}, 40)
	require.Equal(t, []Record{rec(2, turtle.ActionForward), rec(3, turtle.ActionForward)}, r.ToSlice())
	require.Equal(t, uint64(40), r.Total())
}

func TestStatsAndPacing(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 8; i++ {
		r.Push(rec(i%2, turtle.ActionForward))
	}
	st := r.Stats()
	require.Equal(t, uint64(8), st.TotalMoves)
	require.Equal(t, 8, st.Held)
	require.Equal(t, 2, st.DistinctPositions)
	require.True(t, r.Pacing(6, 2))
	require.False(t, r.Pacing(9, 2), "window larger than held records")

	r.Push(rec(5, turtle.ActionForward))
	r.Push(rec(6, turtle.ActionForward))
	require.False(t, r.Pacing(4, 2))
}

type recordingMover struct {
	did    []turtle.Action
	failAt int
	ring   *Ring
	cur    pose.Pose
}

func (m *recordingMover) Do(_ context.Context, a turtle.Action) error {
	if m.failAt > 0 && len(m.did)+1 == m.failAt {
		return failure.New(failure.CodeObstructed, "stone")
	}
	m.did = append(m.did, a)
	m.cur = a.Apply(m.cur)
	if m.ring != nil {
		m.ring.Push(Record{Pose: m.cur, Action: a})
	}
	return nil
}

func TestBacktrackReplaysInverseNewestFirst(t *testing.T) {
	r := NewRing(10)
	m := &recordingMover{ring: r, cur: pose.Pose{Y: 64, Facing: pose.North}}
	start := m.cur
	seq := []turtle.Action{turtle.ActionForward, turtle.ActionTurnRight, turtle.ActionForward, turtle.ActionUp, turtle.ActionForward}
	for _, a := range seq {
		require.NoError(t, m.Do(context.Background(), a))
	}
	m.did = nil

	done, err := r.Backtrack(context.Background(), len(seq), m)
	require.NoError(t, err)
	require.Equal(t, len(seq), done)
	require.Equal(t, []turtle.Action{
		turtle.ActionBack, turtle.ActionDown, turtle.ActionBack, turtle.ActionTurnLeft, turtle.ActionBack,
	}, m.did)
	require.Equal(t, start, m.cur)
}

func TestBacktrackStopsOnFailure(t *testing.T) {
	r := NewRing(10)
	for i := 0; i < 4; i++ {
		r.Push(rec(i, turtle.ActionForward))
	}
	m := &recordingMover{failAt: 3}
	done, err := r.Backtrack(context.Background(), 4, m)
	require.Equal(t, 2, done)
	require.ErrorIs(t, err, failure.ErrObstructed)
}

func TestBacktrackHonoursCancellation(t *testing.T) {
	r := NewRing(4)
	r.Push(rec(1, turtle.ActionForward))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := r.Backtrack(ctx, 1, &recordingMover{})
	require.Equal(t, 0, done)
	require.ErrorIs(t, err, failure.ErrCancelled)
	require.True(t, errors.Is(err, context.Canceled))
}
