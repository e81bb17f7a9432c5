package boundary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"turtlecraft.ai/internal/nav/pose"
)

type fixedHome pose.Pose

func (h fixedHome) Home() pose.Pose { return pose.Pose(h) }

func newGuard(metric Metric) *Guard {
	return New(Config{
		SafetyRadius: 10,
		Metric:       metric,
		Limits:       pose.Limits{MinY: -60, MaxY: 120},
	}, fixedHome{X: 100, Y: 64, Z: -50})
}

func TestIsWithinBoundsVerticalFirst(t *testing.T) {
	g := newGuard(MetricEuclidean)

	ok, reason := g.IsWithinBounds(pose.Pose{X: 100, Y: -61, Z: -50})
	require.False(t, ok)
	require.Contains(t, reason, "vertical limits")

	ok, reason = g.IsWithinBounds(pose.Pose{X: 500, Y: -70, Z: -50})
	require.False(t, ok)
	require.Contains(t, reason, "world limits")

	ok, _ = g.IsWithinBounds(pose.Pose{X: 100, Y: -60, Z: -50})
	require.True(t, ok)
}

func TestNegativeYComparesNumerically(t *testing.T) {
	g := newGuard(MetricEuclidean)
	for _, y := range []int{-9, -10, -59, 0, 9, 100} {
		ok, reason := g.IsWithinBounds(pose.Pose{X: 100, Y: y, Z: -50})
		require.True(t, ok, "y=%d: %s", y, reason)
	}
}

func TestRadiusMetrics(t *testing.T) {
	e := newGuard(MetricEuclidean)
	c := newGuard(MetricChebyshev)
	corner := pose.Pose{X: 108, Y: 64, Z: -42}

	ok, _ := e.IsWithinBounds(corner)
	require.False(t, ok, "8,8 offset is ~11.3 blocks")
	ok, _ = c.IsWithinBounds(corner)
	require.True(t, ok)

	edge := pose.Pose{X: 110, Y: 64, Z: -50}
	ok, _ = e.IsWithinBounds(edge)
	require.True(t, ok)
	ok, _ = e.IsWithinBounds(pose.Pose{X: 111, Y: 64, Z: -50})
	require.False(t, ok)

	require.InDelta(t, 10.0, e.Distance(edge.Pos()), 1e-9)
	require.InDelta(t, 8.0, c.Distance(corner.Pos()), 1e-9)
}

func TestExclusionZones(t *testing.T) {
	g := newGuard(MetricEuclidean)
	g.AddExclusion("quarry", func(v pose.Vec3) bool { return v.X >= 105 && v.Z == -50 })

	ok, reason := g.IsWithinBounds(pose.Pose{X: 106, Y: 64, Z: -50})
	require.False(t, ok)
	require.Contains(t, reason, "quarry")

	g.RemoveExclusion("quarry")
	ok, _ = g.IsWithinBounds(pose.Pose{X: 106, Y: 64, Z: -50})
	require.True(t, ok)
}

func TestAllowsStepBackInward(t *testing.T) {
	g := newGuard(MetricEuclidean)
	outside := pose.Pose{X: 115, Y: 64, Z: -50}
	inward := pose.Pose{X: 114, Y: 64, Z: -50}
	outward := pose.Pose{X: 116, Y: 64, Z: -50}

	ok, _ := g.AllowsStep(outside, inward)
	require.True(t, ok)
	ok, reason := g.AllowsStep(outside, outward)
	require.False(t, ok)
	require.Contains(t, reason, "safety radius")

	ok, _ = g.AllowsStep(pose.Pose{X: 110, Y: 64, Z: -50}, pose.Pose{X: 111, Y: 64, Z: -50})
	require.False(t, ok)

	ok, _ = g.AllowsStep(pose.Pose{X: 100, Y: 120, Z: -50}, pose.Pose{X: 100, Y: 121, Z: -50})
	require.False(t, ok)
}

func TestEnforceClamps(t *testing.T) {
	e := newGuard(MetricEuclidean)
	got := e.Enforce(pose.Pose{X: 130, Y: 500, Z: -50, Facing: pose.East})
	require.Equal(t, pose.Pose{X: 110, Y: 120, Z: -50, Facing: pose.East}, got)

	got = e.Enforce(pose.Pose{X: 120, Y: 64, Z: -30})
	ok, reason := e.IsWithinBounds(got)
	require.True(t, ok, reason)

	c := newGuard(MetricChebyshev)
	got = c.Enforce(pose.Pose{X: 80, Y: -100, Z: -20})
	require.Equal(t, pose.Pose{X: 90, Y: -60, Z: -40}, got)

	inside := pose.Pose{X: 101, Y: 64, Z: -49}
	require.Equal(t, inside, e.Enforce(inside))
}

func TestZeroRadiusDisablesRadius(t *testing.T) {
	g := New(Config{}, fixedHome{})
	ok, _ := g.IsWithinBounds(pose.Pose{X: 1 << 20, Y: 0, Z: -(1 << 20)})
	require.True(t, ok)
	require.Equal(t, pose.WorldLimits(), g.Config().Limits)
}
