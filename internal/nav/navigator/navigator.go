// Package navigator is the command-facing API over the navigation stack. It
// wires the pose store, boundary guard, planner, executor, history and
// emergency controller around one turtle body.
package navigator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/boundary"
	"turtlecraft.ai/internal/nav/emergency"
	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/movement"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/nav/positioning"
	"turtlecraft.ai/internal/turtle"
)

type Config struct {
	Boundary    boundary.Config
	Pathfind    pathfind.Config
	Emergency   emergency.Config
	Positioning positioning.Config

	HistoryCapacity int
	// Pacing: fewer than PacingMaxDistinct positions over the last
	// PacingWindow moves flags the turtle as going in circles.
	PacingWindow      int
	PacingMaxDistinct int
}

func (c Config) normalized() Config {
	if c.HistoryCapacity <= 0 {
		c.HistoryCapacity = history.DefaultCapacity
	}
	if c.PacingWindow <= 0 {
		c.PacingWindow = 32
	}
	if c.PacingMaxDistinct <= 0 {
		c.PacingMaxDistinct = 4
	}
	return c
}

// Observer receives metrics from every layer.
type Observer interface {
	pathfind.Observer
	movement.Observer
	emergency.Observer
	ObserveRoute(outcome string, replans int)
}

type Deps struct {
	Body     turtle.Body
	State    turtle.State
	Trail    movement.TrailSink
	Observer Observer
	Logger   *zap.Logger
	// Session names this run in logs, the trail and snapshots. A random id
	// is used when empty.
	Session string
}

type Navigator struct {
	cfg     Config
	log     *zap.Logger
	session string
	started time.Time

	body  turtle.Body
	state turtle.State
	obs   Observer

	poses  *pose.Store
	guard  *boundary.Guard
	ring   *history.Ring
	finder *pathfind.Finder
	exec   *movement.Executor
	ctl    *emergency.Controller
	pos    *positioning.Service

	// route serializes multi-step operations; a second one fails with E_BUSY.
	route sync.Mutex

	mu       sync.Mutex
	counters counters
}

type counters struct {
	routes      int
	plans       int
	replans     int
	diverted    int
	failures    int
	lastFailure string
}

// New builds the stack with boot as both the initial pose and home.
func New(cfg Config, boot pose.Pose, d Deps) (*Navigator, error) {
	if d.Body == nil {
		return nil, errors.New("navigator: nil body")
	}
	cfg = cfg.normalized()
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Boundary.Limits == (pose.Limits{}) {
		cfg.Boundary.Limits = pose.WorldLimits()
	}
	poses, err := pose.NewStore(boot, cfg.Boundary.Limits)
	if err != nil {
		return nil, fmt.Errorf("boot pose: %w", err)
	}

	session := d.Session
	if session == "" {
		session = uuid.NewString()
	}
	n := &Navigator{
		cfg:     cfg,
		log:     log,
		session: session,
		started: time.Now(),
		body:    d.Body,
		state:   d.State,
		obs:     d.Observer,
		poses:   poses,
		ring:    history.NewRing(cfg.HistoryCapacity),
	}
	var (
		planObs pathfind.Observer
		moveObs movement.Observer
		emObs   emergency.Observer
	)
	if d.Observer != nil {
		planObs, moveObs, emObs = d.Observer, d.Observer, d.Observer
	}

	n.guard = boundary.New(cfg.Boundary, poses)
	n.finder = pathfind.New(cfg.Pathfind, n.guard, log.Named("pathfind"), planObs)
	n.ctl = emergency.New(cfg.Emergency, emergency.Deps{
		Poses:    poses,
		Bounds:   n.guard,
		Fuel:     d.Body,
		Hazards:  d.Body,
		Observer: emObs,
		Logger:   log.Named("emergency"),
	})
	n.pos = positioning.New(cfg.Positioning, positioning.Deps{
		GPS:      d.Body,
		Actuator: d.Body,
		Poses:    poses,
		State:    d.State,
		Logger:   log.Named("positioning"),
	})
	n.exec = movement.NewExecutor(movement.Deps{
		Poses:       poses,
		Guard:       n.guard,
		Actuator:    d.Body,
		Miner:       d.Body,
		History:     n.ring,
		Trail:       d.Trail,
		Supervisor:  n.ctl,
		Observer:    moveObs,
		Positioning: n.pos,
		Logger:      log.Named("movement"),
	})
	n.ctl.Bind(n.finder, n.exec)
	log.Info("navigator ready", zap.String("session", n.session), zap.Stringer("home", boot))
	return n, nil
}

func (n *Navigator) Session() string { return n.session }

// Guard exposes the boundary guard so callers can register exclusion zones.
func (n *Navigator) Guard() *boundary.Guard { return n.guard }

func (n *Navigator) Position() pose.Pose { return n.poses.Pose() }

func (n *Navigator) Home() pose.Pose { return n.poses.Home() }

func (n *Navigator) SetPosition(p pose.Pose) error { return n.poses.SetPose(p) }

// SetPositionFields accepts loosely typed input; see pose.FromFields.
func (n *Navigator) SetPositionFields(fields map[string]any) error {
	return n.poses.SetPoseFields(fields)
}

// SetHome moves home to p, or to the current pose when p is nil, and
// persists it when a State store is configured.
func (n *Navigator) SetHome(ctx context.Context, p *pose.Pose) error {
	if err := n.poses.SetHome(p); err != nil {
		return err
	}
	h := n.poses.Home()
	n.log.Info("home set", zap.Stringer("home", h))
	if n.state != nil {
		return positioning.SavePose(ctx, n.state, positioning.KeyHome, h)
	}
	return nil
}

func (n *Navigator) Distance(target pose.Vec3) int {
	return pose.Manhattan(n.poses.Pose().Pos(), target)
}

// EstimateFuel is the fuel for going to target and then home from there,
// the return leg carrying the emergency margin and reserve.
func (n *Navigator) EstimateFuel(target pose.Vec3) int {
	out := pose.Manhattan(n.poses.Pose().Pos(), target)
	back := pose.Manhattan(target, n.poses.Home().Pos())
	return out + n.ctl.RequiredFuel(back)
}

func (n *Navigator) IsWithinBounds(p pose.Pose) (bool, string) { return n.guard.IsWithinBounds(p) }

func (n *Navigator) PathHistory() []history.Record { return n.ring.ToSlice() }

func (n *Navigator) ClearPathCache() { n.finder.ClearCache() }

func (n *Navigator) Face(ctx context.Context, f pose.Facing) error {
	if !n.route.TryLock() {
		return failure.New(failure.CodeBusy, "face: route in progress")
	}
	defer n.route.Unlock()
	return n.exec.Face(ctx, f)
}

// Backtrack undoes the last steps primitives, newest first.
func (n *Navigator) Backtrack(ctx context.Context, steps int) (int, error) {
	if !n.route.TryLock() {
		return 0, failure.New(failure.CodeBusy, "backtrack: route in progress")
	}
	defer n.route.Unlock()
	done, err := n.ring.Backtrack(ctx, steps, n.exec)
	n.persistPose(ctx)
	if err != nil {
		n.noteFailure(err)
	}
	return done, err
}

// EmergencyStop halts all movement until Resume. It does not wait for the
// in-flight primitive.
func (n *Navigator) EmergencyStop() {
	n.log.Warn("emergency stop requested")
	n.ctl.Stop()
}

func (n *Navigator) Resume() { n.ctl.Resume() }

func (n *Navigator) Emergency() emergency.State { return n.ctl.State() }

func (n *Navigator) Calibrate(ctx context.Context) (pose.Pose, error) {
	if !n.route.TryLock() {
		return pose.Pose{}, failure.New(failure.CodeBusy, "calibrate: route in progress")
	}
	defer n.route.Unlock()
	return n.pos.Calibrate(ctx)
}

func (n *Navigator) Reconcile(ctx context.Context) (pose.Vec3, error) { return n.pos.Reconcile(ctx) }

func (n *Navigator) Recover(ctx context.Context) (pose.Pose, positioning.Method) {
	return n.pos.Recover(ctx)
}

func (n *Navigator) persistPose(ctx context.Context) {
	if n.state == nil {
		return
	}
	if err := positioning.SavePose(ctx, n.state, positioning.KeyPose, n.poses.Pose()); err != nil {
		n.log.Warn("pose not persisted", zap.Error(err))
	}
}

func (n *Navigator) noteFailure(err error) {
	n.mu.Lock()
	n.counters.failures++
	n.counters.lastFailure = err.Error()
	n.mu.Unlock()
}
