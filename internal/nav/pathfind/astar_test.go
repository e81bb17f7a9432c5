package pathfind

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/boundary"
	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
)

// boxGuard allows any position inside an axis-aligned box.
type boxGuard struct{ min, max pose.Vec3 }

func (b boxGuard) inside(v pose.Vec3) bool {
	return v.X >= b.min.X && v.X <= b.max.X &&
		v.Y >= b.min.Y && v.Y <= b.max.Y &&
		v.Z >= b.min.Z && v.Z <= b.max.Z
}

func (b boxGuard) IsWithinBounds(p pose.Pose) (bool, string) {
	if !b.inside(p.Pos()) {
		return false, "outside box"
	}
	return true, ""
}

func (b boxGuard) AllowsStep(_, to pose.Pose) (bool, string) { return b.IsWithinBounds(to) }

type recordingObserver struct {
	outcomes []string
	hits     int
	misses   int
}

func (o *recordingObserver) ObservePlan(outcome string, _ time.Duration, _ int) {
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveCacheLookup(hit bool) {
	if hit {
		o.hits++
	} else {
		o.misses++
	}
}

func openGuard() boxGuard {
	return boxGuard{min: pose.Vec3{X: -100, Y: -64, Z: -100}, max: pose.Vec3{X: 100, Y: 319, Z: 100}}
}

func TestStraightLineEast(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	plan, err := f.FindPath(context.Background(), pose.Pose{X: 0, Y: 64, Z: 0, Facing: pose.North}, pose.Vec3{X: 5, Y: 64, Z: 0}, Options{})
	require.NoError(t, err)
	require.Equal(t, 5, plan.Length())
	for i, wp := range plan.Waypoints {
		require.Equal(t, i+1, wp.X, "waypoint %d", i)
		require.Equal(t, 64, wp.Y)
		require.Equal(t, 0, wp.Z)
		require.Equal(t, pose.East, wp.Facing)
	}
	require.InDelta(t, 5.1, plan.EstimatedCost, 1e-9, "five moves plus one turn")
}

func TestOpenTerrainPathIsManhattanOptimal(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	start := pose.Pose{X: 3, Y: 10, Z: -4, Facing: pose.South}
	goals := []pose.Vec3{
		{X: -7, Y: 10, Z: 6},
		{X: 3, Y: -5, Z: -4},
		{X: 12, Y: 20, Z: -15},
		{X: 4, Y: 11, Z: -3},
	}
	for _, g := range goals {
		plan, err := f.FindPath(context.Background(), start, g, Options{})
		require.NoError(t, err, "goal %s", g)
		require.Equal(t, pose.Manhattan(start.Pos(), g), plan.Length(), "goal %s", g)
		require.Equal(t, g, plan.Waypoints[len(plan.Waypoints)-1].Pos())

		prev := start.Pos()
		for _, wp := range plan.Waypoints {
			require.Equal(t, 1, pose.Manhattan(prev, wp.Pos()), "waypoints must be unit steps")
			prev = wp.Pos()
		}
	}
}

func TestPathNeverEntersAvoidSet(t *testing.T) {
	f := New(Config{}, boxGuard{min: pose.Vec3{X: -10, Y: 64, Z: -10}, max: pose.Vec3{X: 10, Y: 64, Z: 10}}, nil, nil)
	avoid := map[pose.Vec3]struct{}{}
	// Wall at x=2 with a single gap at z=6.
	for z := -10; z <= 10; z++ {
		if z != 6 {
			avoid[pose.Vec3{X: 2, Y: 64, Z: z}] = struct{}{}
		}
	}
	plan, err := f.FindPath(context.Background(), pose.Pose{Y: 64, Facing: pose.East}, pose.Vec3{X: 5, Y: 64}, Options{Avoid: avoid})
	require.NoError(t, err)
	for _, wp := range plan.Waypoints {
		_, hit := avoid[wp.Pos()]
		require.False(t, hit, "waypoint %s is in the avoid set", wp)
	}
	require.Contains(t, plan.Waypoints, pose.Pose{X: 2, Y: 64, Z: 6, Facing: pose.East})
	require.Equal(t, 5+12, plan.Length())
}

func TestGoalUnreachableWhenEnclosed(t *testing.T) {
	f := New(Config{}, boxGuard{min: pose.Vec3{X: -5, Y: 0, Z: -5}, max: pose.Vec3{X: 5, Y: 0, Z: 5}}, nil, nil)
	goal := pose.Vec3{X: 3, Y: 0, Z: 3}
	avoid := map[pose.Vec3]struct{}{
		{X: 2, Y: 0, Z: 3}: {}, {X: 4, Y: 0, Z: 3}: {}, {X: 3, Y: 0, Z: 2}: {}, {X: 3, Y: 0, Z: 4}: {},
	}
	_, err := f.FindPath(context.Background(), pose.Pose{}, goal, Options{Avoid: avoid})
	require.ErrorIs(t, err, failure.ErrGoalUnreachable)
}

func TestSearchExhausted(t *testing.T) {
	f := New(Config{MaxIterations: 10}, openGuard(), nil, nil)
	_, err := f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{X: 50, Y: 30, Z: -40}, Options{})
	require.ErrorIs(t, err, failure.ErrSearchExhausted)

	// Per-call budget overrides the configured one.
	f = New(Config{}, openGuard(), nil, nil)
	_, err = f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{X: 50, Y: 30, Z: -40}, Options{MaxIterations: 5})
	require.ErrorIs(t, err, failure.ErrSearchExhausted)
}

func TestPathTooLong(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	_, err := f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{X: 8}, Options{MaxDistance: 7})
	require.ErrorIs(t, err, failure.ErrPathTooLong)

	plan, err := f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{X: 8}, Options{MaxDistance: 8})
	require.NoError(t, err)
	require.Equal(t, 8, plan.Length())
}

func TestGoalValidation(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	_, err := f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{X: 101}, Options{})
	require.ErrorIs(t, err, failure.ErrBoundaryViolation)

	goal := pose.Vec3{X: 1}
	_, err = f.FindPath(context.Background(), pose.Pose{}, goal, Options{Avoid: map[pose.Vec3]struct{}{goal: {}}})
	require.ErrorIs(t, err, failure.ErrGoalUnreachable)
}

func TestStartIsGoal(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	plan, err := f.FindPath(context.Background(), pose.Pose{X: 4, Y: 5, Z: 6, Facing: pose.West}, pose.Vec3{X: 4, Y: 5, Z: 6}, Options{})
	require.NoError(t, err)
	require.Zero(t, plan.Length())
}

func TestCancelledSearch(t *testing.T) {
	f := New(Config{MaxIterations: 1 << 20}, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.FindPath(ctx, pose.Pose{}, pose.Vec3{X: 400, Y: 300, Z: -400}, Options{})
	require.ErrorIs(t, err, failure.ErrCancelled)
}

func TestCacheHitsAndEviction(t *testing.T) {
	obs := &recordingObserver{}
	f := New(Config{CacheSize: 2}, openGuard(), nil, obs)
	start := pose.Pose{Y: 64}

	p1, err := f.FindPath(context.Background(), start, pose.Vec3{X: 3, Y: 64}, Options{UseCache: true})
	require.NoError(t, err)
	p2, err := f.FindPath(context.Background(), start, pose.Vec3{X: 3, Y: 64}, Options{UseCache: true})
	require.NoError(t, err)
	require.Equal(t, p1.Waypoints, p2.Waypoints)
	require.Equal(t, 1, obs.hits)
	require.Equal(t, 1, obs.misses)

	// Returned plans are copies.
	p2.Waypoints[0].X = 99
	p3, err := f.FindPath(context.Background(), start, pose.Vec3{X: 3, Y: 64}, Options{UseCache: true})
	require.NoError(t, err)
	require.Equal(t, 1, p3.Waypoints[0].X)

	// A different avoid set is a different key.
	_, err = f.FindPath(context.Background(), start, pose.Vec3{X: 3, Y: 64}, Options{UseCache: true, Avoid: map[pose.Vec3]struct{}{{X: 9}: {}}})
	require.NoError(t, err)
	_, err = f.FindPath(context.Background(), start, pose.Vec3{X: 0, Y: 64, Z: 3}, Options{UseCache: true})
	require.NoError(t, err)
	st := f.CacheStats()
	require.Equal(t, 2, st.Size)
	require.Equal(t, 2, st.Limit)

	f.ClearCache()
	require.Equal(t, 0, f.CacheStats().Size)
	require.Contains(t, obs.outcomes, "ok")
}

func TestCachedPlanStillHonoursMaxDistance(t *testing.T) {
	f := New(Config{}, openGuard(), nil, nil)
	_, err := f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{Z: 6}, Options{UseCache: true})
	require.NoError(t, err)
	_, err = f.FindPath(context.Background(), pose.Pose{}, pose.Vec3{Z: 6}, Options{UseCache: true, MaxDistance: 3})
	require.ErrorIs(t, err, failure.ErrPathTooLong)
}

func TestTurnFloor(t *testing.T) {
	require.Equal(t, 0, turnFloor(pose.North, pose.Vec3{Y: 4}))
	require.Equal(t, 0, turnFloor(pose.East, pose.Vec3{X: 4}))
	require.Equal(t, 2, turnFloor(pose.West, pose.Vec3{X: 4}))
	require.Equal(t, 1, turnFloor(pose.East, pose.Vec3{X: 4, Z: 1}))
	require.Equal(t, 2, turnFloor(pose.West, pose.Vec3{X: 4, Z: 1}))
}

func TestCacheExpiresWhenEnvelopeChanges(t *testing.T) {
	home, err := pose.NewStore(pose.Pose{Y: 64}, pose.Limits{})
	require.NoError(t, err)
	g := boundary.New(boundary.Config{}, home)
	obs := &recordingObserver{}
	f := New(Config{}, g, nil, obs)
	start := pose.Pose{Y: 64, Facing: pose.East}
	goal := pose.Vec3{X: 5, Y: 64}

	first, err := f.FindPath(context.Background(), start, goal, Options{UseCache: true})
	require.NoError(t, err)
	require.False(t, first.Cached)
	require.Contains(t, first.Waypoints, pose.Pose{X: 2, Y: 64, Facing: pose.East})

	pit := pose.Vec3{X: 2, Y: 64}
	g.AddExclusion("pit", func(v pose.Vec3) bool { return v == pit })
	detour, err := f.FindPath(context.Background(), start, goal, Options{UseCache: true})
	require.NoError(t, err)
	require.False(t, detour.Cached)
	for _, wp := range detour.Waypoints {
		require.NotEqual(t, pit, wp.Pos())
	}

	again, err := f.FindPath(context.Background(), start, goal, Options{UseCache: true})
	require.NoError(t, err)
	require.True(t, again.Cached)
	require.Equal(t, detour.Waypoints, again.Waypoints)

	require.NoError(t, home.SetHome(&pose.Pose{X: 1, Y: 64}))
	moved, err := f.FindPath(context.Background(), start, goal, Options{UseCache: true})
	require.NoError(t, err)
	require.False(t, moved.Cached)
	require.Equal(t, 1, obs.hits)
	require.Equal(t, 3, obs.misses)
}
