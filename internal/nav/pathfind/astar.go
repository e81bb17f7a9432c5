// Package pathfind plans routes over the implicit voxel grid with A*.
//
// The world is unbounded and only partially known, so nothing is
// materialized: nodes are created lazily as the search expands. Cells are
// assumed passable unless listed in Options.Avoid or refused by the boundary
// checker; real obstructions are only discovered when a move is attempted.
package pathfind

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
)

// Costs are in milli-moves: one translational move is 1000.
const MoveCost = 1000

const (
	DefaultMaxIterations = 20000
	DefaultTurnCost      = 100
	DefaultCacheSize     = 32
)

type Config struct {
	MaxIterations int
	TurnCost      int
	CacheSize     int
}

func (c Config) normalized() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.TurnCost < 0 {
		c.TurnCost = 0
	}
	if c.CacheSize <= 0 {
		c.CacheSize = DefaultCacheSize
	}
	return c
}

type Options struct {
	MaxIterations int
	Avoid         map[pose.Vec3]struct{}
	// MaxDistance rejects plans longer than this many moves; 0 means no limit.
	MaxDistance int
	UseCache    bool
}

// Plan is immutable once returned. Waypoints exclude the start pose; each
// one is a single translational move from the previous, with Facing set to
// the heading the turtle has after that move.
type Plan struct {
	Waypoints     []pose.Pose
	EstimatedCost float64
	CreatedAt     time.Time
	Iterations    int
	// Cached is set when the plan was served from the path cache.
	Cached bool
}

// Length is the number of translational moves in the plan.
func (p Plan) Length() int { return len(p.Waypoints) }

type StepChecker interface {
	IsWithinBounds(p pose.Pose) (bool, string)
	AllowsStep(from, to pose.Pose) (bool, string)
}

// A StepChecker that also reports a Version has it folded into cache keys.
type versioned interface {
	Version() uint64
}

// Observer receives search metrics. Implementations must be nil-safe.
type Observer interface {
	ObservePlan(outcome string, d time.Duration, iterations int)
	ObserveCacheLookup(hit bool)
}

type Finder struct {
	cfg   Config
	guard StepChecker
	log   *zap.Logger
	obs   Observer
	cache *planCache
	now   func() time.Time
}

func New(cfg Config, guard StepChecker, logger *zap.Logger, obs Observer) *Finder {
	cfg = cfg.normalized()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{
		cfg:   cfg,
		guard: guard,
		log:   logger,
		obs:   obs,
		cache: newPlanCache(cfg.CacheSize),
		now:   time.Now,
	}
}

func (f *Finder) ClearCache() { f.cache.clear() }

func (f *Finder) CacheStats() CacheStats { return f.cache.stats() }

// FindPath searches from start to the goal position. The goal's facing is
// not constrained.
func (f *Finder) FindPath(ctx context.Context, start pose.Pose, goal pose.Vec3, opts Options) (Plan, error) {
	began := f.now()
	plan, err := f.findPath(ctx, start, goal, opts)
	if f.obs != nil {
		f.obs.ObservePlan(outcomeOf(err), f.now().Sub(began), plan.Iterations)
	}
	if err != nil {
		f.log.Debug("path search failed",
			zap.Stringer("start", start),
			zap.Stringer("goal", goal),
			zap.Error(err))
	}
	return plan, err
}

func (f *Finder) findPath(ctx context.Context, start pose.Pose, goal pose.Vec3, opts Options) (Plan, error) {
	if start.Pos() == goal {
		return Plan{CreatedAt: f.now()}, nil
	}
	if f.guard != nil {
		if ok, reason := f.guard.IsWithinBounds(pose.At(goal, start.Facing)); !ok {
			return Plan{}, failure.New(failure.CodeBoundaryViolation, "goal %s: %s", goal, reason)
		}
	}
	if _, blocked := opts.Avoid[goal]; blocked {
		return Plan{}, failure.New(failure.CodeGoalUnreachable, "goal %s is in the avoid set", goal)
	}

	key := cacheKey{start: start, goal: goal, avoid: avoidHash(opts.Avoid)}
	if v, ok := f.guard.(versioned); ok {
		key.guard = v.Version()
	}
	if opts.UseCache {
		cached, hit := f.cache.get(key)
		if f.obs != nil {
			f.obs.ObserveCacheLookup(hit)
		}
		if hit {
			p := cached.clone()
			p.Cached = true
			return f.checkLength(p, opts)
		}
	}

	maxIter := opts.MaxIterations
	if maxIter <= 0 {
		maxIter = f.cfg.MaxIterations
	}
	plan, err := f.search(ctx, start, goal, opts.Avoid, maxIter)
	if err != nil {
		return plan, err
	}
	plan, err = f.checkLength(plan, opts)
	if err != nil {
		return plan, err
	}
	if opts.UseCache {
		f.cache.put(key, plan.clone())
	}
	return plan, nil
}

func (f *Finder) checkLength(p Plan, opts Options) (Plan, error) {
	if opts.MaxDistance > 0 && p.Length() > opts.MaxDistance {
		return Plan{Iterations: p.Iterations}, failure.New(failure.CodePathTooLong, "path of %d moves exceeds limit %d", p.Length(), opts.MaxDistance)
	}
	return p, nil
}

type node struct {
	pose   pose.Pose
	g, h   int
	parent int
	seq    int
}

func (f *Finder) search(ctx context.Context, start pose.Pose, goal pose.Vec3, avoid map[pose.Vec3]struct{}, maxIter int) (Plan, error) {
	arena := make([]node, 0, 256)
	best := make(map[pose.Pose]int, 256) // pose -> arena index with the lowest g
	open := &openList{arena: &arena}

	push := func(p pose.Pose, g, parent int) {
		arena = append(arena, node{pose: p, g: g, h: f.heuristic(p, goal), parent: parent, seq: len(arena)})
		idx := len(arena) - 1
		best[p] = idx
		heap.Push(open, idx)
	}
	push(start, 0, -1)

	iterations := 0
	for open.Len() > 0 {
		idx := heap.Pop(open).(int)
		cur := arena[idx]
		if best[cur.pose] != idx {
			continue // stale entry superseded by a cheaper one
		}
		if cur.pose.Pos() == goal {
			return f.reconstruct(arena, idx, iterations), nil
		}
		iterations++
		if iterations > maxIter {
			return Plan{Iterations: iterations}, failure.New(failure.CodeSearchExhausted, "no path to %s within %d iterations", goal, maxIter)
		}
		if iterations%256 == 0 {
			if err := ctx.Err(); err != nil {
				return Plan{Iterations: iterations}, failure.Wrap(failure.CodeCancelled, err, "path search")
			}
		}

		for _, e := range f.edges(cur.pose) {
			if _, blocked := avoid[e.to.Pos()]; blocked {
				continue
			}
			if f.guard != nil {
				if ok, _ := f.guard.AllowsStep(cur.pose, e.to); !ok {
					continue
				}
			}
			g := cur.g + e.cost
			if prev, seen := best[e.to]; seen && arena[prev].g <= g {
				continue
			}
			push(e.to, g, idx)
		}
	}
	return Plan{Iterations: iterations}, failure.New(failure.CodeGoalUnreachable, "open set exhausted after %d iterations", iterations)
}

type edge struct {
	to   pose.Pose
	cost int
}

// edges lists successors in a fixed order so equal-cost searches are
// deterministic. Horizontal moves are planned as forward moves after turning;
// back moves are never planned because the turtle cannot clear a block
// behind it.
func (f *Finder) edges(p pose.Pose) [6]edge {
	var out [6]edge
	for i, d := range [4]pose.Facing{pose.North, pose.East, pose.South, pose.West} {
		out[i] = edge{
			to:   pose.At(p.Pos().Add(d.Delta()), d),
			cost: MoveCost + f.cfg.TurnCost*p.Facing.TurnsTo(d),
		}
	}
	out[4] = edge{to: pose.At(p.Pos().Add(pose.Up), p.Facing), cost: MoveCost}
	out[5] = edge{to: pose.At(p.Pos().Add(pose.Down), p.Facing), cost: MoveCost}
	return out
}

// heuristic is the Manhattan distance plus the fewest turns needed to face
// every horizontal direction still to be travelled. Both terms are lower
// bounds, so the sum is admissible.
func (f *Finder) heuristic(p pose.Pose, goal pose.Vec3) int {
	return pose.Manhattan(p.Pos(), goal)*MoveCost + f.cfg.TurnCost*turnFloor(p.Facing, goal.Sub(p.Pos()))
}

func turnFloor(facing pose.Facing, delta pose.Vec3) int {
	var needed []pose.Facing
	if delta.X > 0 {
		needed = append(needed, pose.East)
	} else if delta.X < 0 {
		needed = append(needed, pose.West)
	}
	if delta.Z > 0 {
		needed = append(needed, pose.South)
	} else if delta.Z < 0 {
		needed = append(needed, pose.North)
	}
	switch len(needed) {
	case 0:
		return 0
	case 1:
		return facing.TurnsTo(needed[0])
	}
	// Two perpendicular headings: reach one, then one more turn.
	a, b := facing.TurnsTo(needed[0]), facing.TurnsTo(needed[1])
	if b < a {
		a = b
	}
	return a + 1
}

func (f *Finder) reconstruct(arena []node, goalIdx, iterations int) Plan {
	n := 0
	for i := goalIdx; arena[i].parent >= 0; i = arena[i].parent {
		n++
	}
	wps := make([]pose.Pose, n)
	for i := goalIdx; arena[i].parent >= 0; i = arena[i].parent {
		n--
		wps[n] = arena[i].pose
	}
	return Plan{
		Waypoints:     wps,
		EstimatedCost: float64(arena[goalIdx].g) / MoveCost,
		CreatedAt:     f.now(),
		Iterations:    iterations,
	}
}

func (p Plan) clone() Plan {
	out := p
	out.Waypoints = append([]pose.Pose(nil), p.Waypoints...)
	return out
}

// openList is a binary heap of arena indices ordered by f, then h, then
// insertion order.
type openList struct {
	arena *[]node
	items []int
}

func (o *openList) Len() int { return len(o.items) }

func (o *openList) Less(i, j int) bool {
	a, b := (*o.arena)[o.items[i]], (*o.arena)[o.items[j]]
	fa, fb := a.g+a.h, b.g+b.h
	if fa != fb {
		return fa < fb
	}
	if a.h != b.h {
		return a.h < b.h
	}
	return a.seq < b.seq
}

func (o *openList) Swap(i, j int) { o.items[i], o.items[j] = o.items[j], o.items[i] }

func (o *openList) Push(x any) { o.items = append(o.items, x.(int)) }

func (o *openList) Pop() any {
	n := len(o.items)
	x := o.items[n-1]
	o.items = o.items[:n-1]
	return x
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if c := failure.CodeOf(err); c != "" {
		return string(c)
	}
	return "error"
}
