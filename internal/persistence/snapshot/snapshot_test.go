package snapshot

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

func filledRing(t *testing.T) *history.Ring {
	t.Helper()
	r := history.NewRing(3)
	base := time.Unix(1700000000, 0)
	p := pose.Pose{Y: -10, Facing: pose.East}
	for i, a := range []turtle.Action{turtle.ActionForward, turtle.ActionUp, turtle.ActionTurnLeft, turtle.ActionForward} {
		p = a.Apply(p)
		r.Push(history.Record{Pose: p, Action: a, At: base.Add(time.Duration(i) * time.Second)})
	}
	return r
}

func TestFileRoundTripRestoresRing(t *testing.T) {
	r := filledRing(t)
	path := filepath.Join(t.TempDir(), "nav", "history.snap.zst")
	require.NoError(t, WriteFile(path, FromRing(r, "s1", time.Now())))

	snap, err := ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "s1", snap.Header.Session)
	require.EqualValues(t, 4, snap.Header.Total)
	require.Equal(t, 3, snap.Capacity)

	recs, err := snap.HistoryRecords()
	require.NoError(t, err)
	restored := history.NewRing(snap.Capacity)
	restored.Restore(recs, snap.Header.Total)

	want := r.ToSlice()
	got := restored.ToSlice()
	require.Len(t, got, len(want))
	for i := range want {
		require.Equal(t, want[i].Pose, got[i].Pose)
		require.Equal(t, want[i].Action, got[i].Action)
		require.True(t, want[i].At.Equal(got[i].At))
	}
	require.Equal(t, r.Total(), restored.Total())
}

func TestReadHeaderOnly(t *testing.T) {
	b, err := Marshal(FromRing(filledRing(t), "s2", time.Unix(5, 0)))
	require.NoError(t, err)
	h, err := ReadHeader(bytes.NewReader(b))
	require.NoError(t, err)
	require.Equal(t, Version, h.Version)
	require.Equal(t, 3, h.Count)
}

func TestRejectsBadRecords(t *testing.T) {
	snap := HistoryV1{Header: Header{Version: Version}, Records: []RecordV1{{Y: 64, Facing: 9, Action: "forward"}}}
	_, err := snap.HistoryRecords()
	require.Error(t, err)

	snap.Records[0].Facing = 0
	snap.Records[0].Action = "teleport"
	_, err = snap.HistoryRecords()
	require.Error(t, err)
}

func TestRejectsUnknownVersion(t *testing.T) {
	b, err := Marshal(HistoryV1{Header: Header{Version: 99}})
	require.NoError(t, err)
	_, err = Unmarshal(b)
	require.ErrorContains(t, err, "unsupported")
}
