package main

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/persistence/trail"
	"turtlecraft.ai/internal/sim/voxel"
	"turtlecraft.ai/internal/transport/ws"
	"turtlecraft.ai/internal/tuning"
)

func TestParseMission(t *testing.T) {
	m, err := ParseMission([]byte(`
name: survey
steps:
  - goto: [4, 64, -2]
    facing: east
    avoid: [[2, 64, 0]]
  - backtrack: 2
  - face: south
  - set_home: true
  - home: true
`))
	require.NoError(t, err)
	assert.Equal(t, "survey", m.Name)
	require.Len(t, m.Steps, 5)
	assert.Equal(t, &[3]int{4, 64, -2}, m.Steps[0].Goto)
	assert.Equal(t, "goto", m.Steps[0].kind())
	assert.Equal(t, "backtrack", m.Steps[1].kind())
	assert.Equal(t, "set_home", m.Steps[3].kind())
}

func TestParseMissionRejects(t *testing.T) {
	cases := map[string]string{
		"empty":        "name: x\n",
		"two kinds":    "steps:\n  - home: true\n    backtrack: 2\n",
		"no kind":      "steps:\n  - facing: east\n",
		"bad facing":   "steps:\n  - goto: [1, 64, 1]\n    facing: up\n",
		"stray facing": "steps:\n  - home: true\n    facing: east\n",
		"string coord": "steps:\n  - goto: [1, \"64\", 1]\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseMission([]byte(body))
			assert.Error(t, err)
		})
	}
}

func simTuning(t *testing.T) tuning.Tuning {
	t.Helper()
	tu := tuning.Defaults()
	dir := t.TempDir()
	tu.Persistence.StateDB = filepath.Join(dir, "nav.sqlite")
	tu.Persistence.TrailDir = filepath.Join(dir, "trail")
	return tu
}

func TestRunMissionOnSim(t *testing.T) {
	tu := simTuning(t)
	ctx := context.Background()
	st, err := openStack(ctx, tu, true, zap.NewNop())
	require.NoError(t, err)
	defer st.Close(ctx)

	m, err := ParseMission([]byte(`
steps:
  - goto: [3, 64, -3]
    facing: west
  - backtrack: 1
  - home: true
`))
	require.NoError(t, err)
	require.NoError(t, RunMission(ctx, st.nav, m, zap.NewNop()))
	assert.Equal(t, tu.HomePose(), st.nav.Position())
	assert.NotEmpty(t, st.nav.PathHistory())
}

func TestStackPersistsAcrossRuns(t *testing.T) {
	tu := simTuning(t)
	ctx := context.Background()

	st, err := openStack(ctx, tu, true, zap.NewNop())
	require.NoError(t, err)
	_, err = st.nav.MoveTo(ctx, pose.Vec3{X: 2, Y: 64, Z: 0}, navigator.MoveOptions{})
	require.NoError(t, err)
	moved := len(st.nav.PathHistory())
	require.NotZero(t, moved)
	st.Close(ctx)

	// The simulated turtle starts at home again, so GPS wins for the pose,
	// while the history comes back from the state db.
	st2, err := openStack(ctx, tu, true, zap.NewNop())
	require.NoError(t, err)
	defer st2.Close(ctx)
	assert.Len(t, st2.nav.PathHistory(), moved)
	assert.Equal(t, tu.HomePose().Pos(), st2.nav.Position().Pos())
}

func TestStackOverLink(t *testing.T) {
	tu := simTuning(t)
	tu.Persistence.StateDB = ""
	tu.Persistence.TrailDir = ""

	world := voxel.NewWorld(voxel.Empty)
	body := voxel.NewTurtle(world, tu.HomePose())
	srv := httptest.NewServer(ws.NewHost(body, "T9", nil).Handler())
	defer srv.Close()
	tu.Link.URL = "ws" + strings.TrimPrefix(srv.URL, "http")

	ctx := context.Background()
	st, err := openStack(ctx, tu, false, zap.NewNop())
	require.NoError(t, err)
	defer st.Close(ctx)
	assert.Equal(t, "T9", st.link.TurtleID())

	_, err = st.nav.MoveTo(ctx, pose.Vec3{X: 0, Y: 66, Z: 0}, navigator.MoveOptions{})
	require.NoError(t, err)
	assert.Equal(t, pose.Vec3{X: 0, Y: 66, Z: 0}, body.TruePose().Pos())
}

func TestStackLinkUnreachable(t *testing.T) {
	tu := simTuning(t)
	tu.Link.URL = "ws://127.0.0.1:1/turtle"
	tu.Link.RequestTimeoutMs = 200
	_, err := openStack(context.Background(), tu, false, zap.NewNop())
	require.Error(t, err)
	assert.Empty(t, failure.CodeOf(err))
	assert.Contains(t, err.Error(), "dial")
}

func TestStackWritesTrail(t *testing.T) {
	tu := simTuning(t)
	ctx := context.Background()

	st, err := openStack(ctx, tu, true, zap.NewNop())
	require.NoError(t, err)
	_, err = st.nav.MoveTo(ctx, pose.Vec3{X: -2, Y: 64, Z: 1}, navigator.MoveOptions{})
	require.NoError(t, err)
	session := st.nav.Session()
	recorded := st.nav.PathHistory()
	st.Close(ctx)

	entries, err := trail.ReadSession(tu.Persistence.TrailDir, session)
	require.NoError(t, err)
	require.Len(t, entries, len(recorded))
	last := entries[len(entries)-1]
	assert.Equal(t, pose.Vec3{X: -2, Y: 64, Z: 1}, pose.Vec3{X: last.X, Y: last.Y, Z: last.Z})
}
