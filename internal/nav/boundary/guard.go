// Package boundary enforces the travel envelope: world vertical limits, the
// safety radius around home, and caller-registered exclusion zones.
package boundary

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/sim/mathx"
)

type Metric string

const (
	MetricEuclidean Metric = "euclidean"
	MetricChebyshev Metric = "chebyshev"
)

// Config is read once at construction. SafetyRadius <= 0 disables the radius
// check. The radius is measured on the horizontal plane (x, z); vertical
// travel is bounded by Limits.
type Config struct {
	SafetyRadius int
	Metric       Metric
	Limits       pose.Limits
}

type HomeSource interface {
	Home() pose.Pose
}

// Exclusion reports whether a position is off limits.
type Exclusion func(pose.Vec3) bool

type Guard struct {
	cfg  Config
	home HomeSource

	mu         sync.RWMutex
	exclusions map[string]Exclusion
	gen        uint64
}

func New(cfg Config, home HomeSource) *Guard {
	cfg.Limits = cfg.Limits.Narrow()
	if cfg.Metric != MetricChebyshev {
		cfg.Metric = MetricEuclidean
	}
	return &Guard{cfg: cfg, home: home, exclusions: map[string]Exclusion{}}
}

func (g *Guard) Config() Config { return g.cfg }

func (g *Guard) AddExclusion(name string, fn Exclusion) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.exclusions[name] = fn
	g.gen++
	g.mu.Unlock()
}

func (g *Guard) RemoveExclusion(name string) {
	g.mu.Lock()
	if _, ok := g.exclusions[name]; ok {
		delete(g.exclusions, name)
		g.gen++
	}
	g.mu.Unlock()
}

// Version identifies the envelope the guard currently enforces. It changes
// when an exclusion is added or removed and when home moves.
func (g *Guard) Version() uint64 {
	g.mu.RLock()
	gen := g.gen
	g.mu.RUnlock()
	h := g.home.Home()
	return mathx.Hash3(int64(gen), h.X, h.Y, h.Z)
}

// IsWithinBounds checks vertical world limits, configured vertical limits,
// the safety radius and exclusion zones, in that order.
func (g *Guard) IsWithinBounds(p pose.Pose) (bool, string) {
	if ok, reason := g.checkVertical(p.Y); !ok {
		return false, reason
	}
	if ok, reason := g.checkRadius(p.Pos()); !ok {
		return false, reason
	}
	if name, hit := g.excluded(p.Pos()); hit {
		return false, fmt.Sprintf("inside exclusion zone %q", name)
	}
	return true, ""
}

// AllowsStep decides whether a single move from -> to may be attempted. A
// step that leaves the radius is refused, but a step that stays outside while
// getting strictly closer to home is allowed so an out-of-bounds agent can
// walk back in.
func (g *Guard) AllowsStep(from, to pose.Pose) (bool, string) {
	if ok, reason := g.checkVertical(to.Y); !ok {
		return false, reason
	}
	if name, hit := g.excluded(to.Pos()); hit {
		return false, fmt.Sprintf("inside exclusion zone %q", name)
	}
	ok, reason := g.checkRadius(to.Pos())
	if ok {
		return true, ""
	}
	if g.radial(to.Pos()) < g.radial(from.Pos()) {
		return true, ""
	}
	return false, reason
}

// Enforce clamps p to the nearest in-bounds pose component-wise: Y into the
// vertical limits, then the horizontal offset from home into the radius.
// Exclusion zones are not resolved.
func (g *Guard) Enforce(p pose.Pose) pose.Pose {
	lim := g.cfg.Limits
	if p.Y < lim.MinY {
		p.Y = lim.MinY
	}
	if p.Y > lim.MaxY {
		p.Y = lim.MaxY
	}
	r := g.cfg.SafetyRadius
	if r <= 0 {
		return p
	}
	h := g.home.Home()
	dx, dz := p.X-h.X, p.Z-h.Z
	switch g.cfg.Metric {
	case MetricChebyshev:
		dx, dz = clamp(dx, -r, r), clamp(dz, -r, r)
	default:
		d2 := dx*dx + dz*dz
		if d2 > r*r {
			d := math.Sqrt(float64(d2))
			// Truncation rounds toward home, so the result stays inside.
			dx = int(float64(dx*r) / d)
			dz = int(float64(dz*r) / d)
		}
	}
	p.X, p.Z = h.X+dx, h.Z+dz
	return p
}

// Distance is the horizontal distance from home under the configured metric.
func (g *Guard) Distance(v pose.Vec3) float64 {
	if g.cfg.Metric == MetricChebyshev {
		return float64(g.radial(v))
	}
	return math.Sqrt(float64(g.radial(v)))
}

func (g *Guard) checkVertical(y int) (bool, string) {
	if y < pose.WorldMinY || y > pose.WorldMaxY {
		return false, fmt.Sprintf("y=%d outside world limits [%d,%d]", y, pose.WorldMinY, pose.WorldMaxY)
	}
	lim := g.cfg.Limits
	if !lim.Contains(y) {
		return false, fmt.Sprintf("y=%d outside vertical limits [%d,%d]", y, lim.MinY, lim.MaxY)
	}
	return true, ""
}

func (g *Guard) checkRadius(v pose.Vec3) (bool, string) {
	r := g.cfg.SafetyRadius
	if r <= 0 {
		return true, ""
	}
	limit := r
	if g.cfg.Metric == MetricEuclidean {
		limit = r * r
	}
	if g.radial(v) > limit {
		return false, fmt.Sprintf("%.1f blocks from home exceeds safety radius %d", g.Distance(v), r)
	}
	return true, ""
}

// radial is the squared euclidean or the chebyshev horizontal distance from
// home. Both are integers and monotonic in the true distance.
func (g *Guard) radial(v pose.Vec3) int {
	h := g.home.Home()
	dx, dz := absInt(v.X-h.X), absInt(v.Z-h.Z)
	if g.cfg.Metric == MetricChebyshev {
		if dx > dz {
			return dx
		}
		return dz
	}
	return dx*dx + dz*dz
}

func (g *Guard) excluded(v pose.Vec3) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.exclusions) == 0 {
		return "", false
	}
	names := make([]string, 0, len(g.exclusions))
	for name := range g.exclusions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if g.exclusions[name](v) {
			return name, true
		}
	}
	return "", false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
