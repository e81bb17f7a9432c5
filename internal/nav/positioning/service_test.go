package positioning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/sim/voxel"
)

type memState struct {
	mu sync.Mutex
	kv map[string][]byte
}

func newMemState() *memState { return &memState{kv: map[string][]byte{}} }

func (m *memState) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.kv[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *memState) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.kv[key]
	return b, ok, nil
}

// stuckGPS never answers.
type stuckGPS struct{}

func (stuckGPS) Locate(ctx context.Context) (pose.Vec3, error) {
	<-ctx.Done()
	return pose.Vec3{}, ctx.Err()
}

var fastCfg = Config{Timeout: 50 * time.Millisecond, Attempts: 3, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}

func setup(t *testing.T, truth pose.Pose) (*Service, *pose.Store, *voxel.Turtle, *voxel.World, *memState) {
	t.Helper()
	store, err := pose.NewStore(pose.Pose{Y: 64}, pose.Limits{})
	require.NoError(t, err)
	w := voxel.NewWorld(nil)
	tt := voxel.NewTurtle(w, truth)
	st := newMemState()
	svc := New(fastCfg, Deps{GPS: tt, Actuator: tt, Poses: store, State: st})
	return svc, store, tt, w, st
}

func TestLocate(t *testing.T) {
	svc, _, tt, _, _ := setup(t, pose.Pose{X: 4, Y: 70, Z: -2})
	v, err := svc.Locate(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, pose.Vec3{X: 4, Y: 70, Z: -2}, v)

	tt.SetGPS(false)
	_, err = svc.Locate(context.Background(), 0)
	require.ErrorIs(t, err, failure.ErrOracleUnavailable)
}

func TestLocateTimesOut(t *testing.T) {
	store, err := pose.NewStore(pose.Pose{Y: 64}, pose.Limits{})
	require.NoError(t, err)
	svc := New(fastCfg, Deps{GPS: stuckGPS{}, Poses: store})

	_, err = svc.Locate(context.Background(), 5*time.Millisecond)
	require.ErrorIs(t, err, failure.ErrOracleUnavailable)
}

func TestCalibrateDerivesFacingAndReturns(t *testing.T) {
	truth := pose.Pose{X: 5, Y: 70, Z: -3, Facing: pose.South}
	svc, store, tt, _, _ := setup(t, truth)

	p, err := svc.Calibrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, truth, p)
	require.Equal(t, truth, store.Pose())
	require.Equal(t, truth, tt.TruePose())
}

func TestCalibrateBlocked(t *testing.T) {
	truth := pose.Pose{X: 5, Y: 70, Z: -3, Facing: pose.West}
	svc, store, _, w, _ := setup(t, truth)
	w.SetBlock(pose.Vec3{X: 4, Y: 70, Z: -3}, voxel.Stone)

	_, err := svc.Calibrate(context.Background())
	require.ErrorIs(t, err, failure.ErrCalibrationBlocked)
	require.Equal(t, pose.Pose{Y: 64}, store.Pose())
}

func TestCalibrateWithoutOracle(t *testing.T) {
	svc, _, tt, _, _ := setup(t, pose.Pose{Y: 64})
	tt.SetGPS(false)
	_, err := svc.Calibrate(context.Background())
	require.ErrorIs(t, err, failure.ErrOracleUnavailable)
	require.Zero(t, tt.Counters().Moves)
}

func TestReconcileKeepsFacing(t *testing.T) {
	svc, store, _, _, _ := setup(t, pose.Pose{X: 3, Y: 64})
	require.NoError(t, store.SetPose(pose.Pose{X: 1, Y: 64, Facing: pose.East}))

	drift, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, pose.Vec3{X: 2}, drift)
	require.Equal(t, pose.Pose{X: 3, Y: 64, Facing: pose.East}, store.Pose())
}

func TestRecoverRetriesGPS(t *testing.T) {
	svc, store, tt, _, st := setup(t, pose.Pose{X: 9, Y: 64, Z: 9})
	require.NoError(t, SavePose(context.Background(), st, KeyPose, pose.Pose{X: 8, Y: 64, Z: 9, Facing: pose.West}))
	tt.FailGPS(2)

	p, m := svc.Recover(context.Background())
	require.Equal(t, MethodGPS, m)
	require.Equal(t, pose.Pose{X: 9, Y: 64, Z: 9, Facing: pose.West}, p)
	require.Equal(t, p, store.Pose())
}

func TestRecoverFallsBackToPersistedPose(t *testing.T) {
	svc, store, tt, _, st := setup(t, pose.Pose{})
	tt.SetGPS(false)
	saved := pose.Pose{X: -7, Y: -12, Z: 30, Facing: pose.North}
	require.NoError(t, SavePose(context.Background(), st, KeyPose, saved))

	p, m := svc.Recover(context.Background())
	require.Equal(t, MethodPersisted, m)
	require.Equal(t, saved, p)
	require.Equal(t, saved, store.Pose())
}

func TestRecoverFallsBackToHome(t *testing.T) {
	svc, store, tt, _, st := setup(t, pose.Pose{})
	tt.SetGPS(false)
	require.NoError(t, st.Save(context.Background(), KeyPose, []byte(`{"x":"1","y":64,"z":0,"facing":0}`)))

	p, m := svc.Recover(context.Background())
	require.Equal(t, MethodHomeFallback, m)
	require.Equal(t, store.Home(), p)
}

func TestRecoverUsesPersistedHome(t *testing.T) {
	svc, store, tt, _, st := setup(t, pose.Pose{})
	tt.SetGPS(false)
	h := pose.Pose{X: 100, Y: 12, Z: 100, Facing: pose.South}
	require.NoError(t, SavePose(context.Background(), st, KeyHome, h))

	p, m := svc.Recover(context.Background())
	require.Equal(t, MethodHomeFallback, m)
	require.Equal(t, h, p)
	require.Equal(t, h, store.Pose())
}
