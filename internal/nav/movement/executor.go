// Package movement executes the six turtle primitives and follows planned
// routes waypoint by waypoint.
package movement

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

type PoseWriter interface {
	Pose() pose.Pose
	SetPose(p pose.Pose) error
}

type StepChecker interface {
	AllowsStep(from, to pose.Pose) (bool, string)
}

// Supervisor vetoes moves and re-evaluates safety after each one.
type Supervisor interface {
	AllowMove(ctx context.Context, from, to pose.Pose, a turtle.Action) (bool, string)
	Observe(ctx context.Context)
}

type Recorder interface {
	Push(rec history.Record)
}

// TrailSink receives every successful primitive for diagnostics.
type TrailSink interface {
	Append(rec history.Record) error
}

type Observer interface {
	ObserveMove(action string, outcome string)
}

// Reconciler replaces the reckoned position with an absolute fix.
type Reconciler interface {
	Reconcile(ctx context.Context) (pose.Vec3, error)
}

type Deps struct {
	Poses      PoseWriter
	Guard      StepChecker
	Actuator   turtle.Actuator
	Miner      turtle.Miner
	History    Recorder
	Trail      TrailSink
	Supervisor Supervisor
	Observer   Observer
	// Positioning settles the pose after a primitive whose outcome never
	// came back. Without it such a primitive is reported as failed.
	Positioning Reconciler
	Logger      *zap.Logger
}

// Executor is the only writer of the pose store and movement history on the
// move path. Primitives are mutually exclusive; a call that arrives while
// another is in flight fails with E_BUSY.
//
// Once issued, a primitive runs to completion: cancelling ctx only stops the
// next one.
type Executor struct {
	d   Deps
	log *zap.Logger
	now func() time.Time
	mu  sync.Mutex

	// uncertain is set when a primitive's outcome is unknown and cleared by a
	// successful reconcile. Guarded by mu.
	uncertain bool
}

func NewExecutor(d Deps) *Executor {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{d: d, log: log, now: time.Now}
}

func (e *Executor) Pose() pose.Pose { return e.d.Poses.Pose() }

func (e *Executor) Forward(ctx context.Context) error   { return e.Do(ctx, turtle.ActionForward) }
func (e *Executor) Back(ctx context.Context) error      { return e.Do(ctx, turtle.ActionBack) }
func (e *Executor) Up(ctx context.Context) error        { return e.Do(ctx, turtle.ActionUp) }
func (e *Executor) Down(ctx context.Context) error      { return e.Do(ctx, turtle.ActionDown) }
func (e *Executor) TurnLeft(ctx context.Context) error  { return e.Do(ctx, turtle.ActionTurnLeft) }
func (e *Executor) TurnRight(ctx context.Context) error { return e.Do(ctx, turtle.ActionTurnRight) }

// Do runs one primitive: veto, boundary pre-check, physical action, and on
// success pose/history bookkeeping. An obstructed translation gets exactly
// one clearing attempt and one retry.
func (e *Executor) Do(ctx context.Context, a turtle.Action) error {
	if !a.Valid() {
		return failure.New(failure.CodePhysicalFailure, "unknown action %q", a)
	}
	if !e.mu.TryLock() {
		return failure.New(failure.CodeBusy, "%s: another move is in flight", a)
	}
	defer e.mu.Unlock()

	err := e.do(ctx, a)
	if e.d.Observer != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(failure.CodeOf(err))
		}
		e.d.Observer.ObserveMove(string(a), outcome)
	}
	return err
}

func (e *Executor) do(ctx context.Context, a turtle.Action) error {
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.CodeCancelled, err, "%s not issued", a)
	}
	if e.uncertain {
		if err := e.settle(ctx); err != nil {
			return err
		}
	}
	from := e.d.Poses.Pose()
	to := a.Apply(from)

	if e.d.Supervisor != nil {
		if ok, reason := e.d.Supervisor.AllowMove(ctx, from, to, a); !ok {
			return failure.New(failure.CodeEmergencyVeto, "%s vetoed: %s", a, reason)
		}
	}
	if a.Translational() && e.d.Guard != nil {
		if ok, reason := e.d.Guard.AllowsStep(from, to); !ok {
			return failure.New(failure.CodeBoundaryViolation, "%s to %s: %s", a, to.Pos(), reason)
		}
	}

	if err := e.physical(ctx, a); err != nil {
		if errors.Is(err, turtle.ErrNoResponse) {
			return e.unresolved(ctx, a, to, err)
		}
		return err
	}
	return e.commit(ctx, a, to)
}

func (e *Executor) commit(ctx context.Context, a turtle.Action, to pose.Pose) error {
	if err := e.d.Poses.SetPose(to); err != nil {
		// The turtle moved but the store refused the pose; positioning must
		// reconcile before the next move.
		e.log.Error("pose store rejected post-move pose", zap.Stringer("pose", to), zap.Error(err))
		e.uncertain = e.d.Positioning != nil
		return err
	}
	rec := history.Record{Pose: to, Action: a, At: e.now()}
	if e.d.History != nil {
		e.d.History.Push(rec)
	}
	if e.d.Trail != nil {
		if err := e.d.Trail.Append(rec); err != nil {
			e.log.Warn("trail append failed", zap.Error(err))
		}
	}
	if e.d.Supervisor != nil {
		e.d.Supervisor.Observe(ctx)
	}
	return nil
}

// unresolved handles a primitive that was sent but never answered. A
// translation is settled against a fix right away; if the turtle turns out to
// be on the target cell the move is committed as done.
func (e *Executor) unresolved(ctx context.Context, a turtle.Action, to pose.Pose, cause error) error {
	e.log.Warn("primitive outcome unknown", zap.String("action", string(a)), zap.Error(cause))
	if e.d.Positioning == nil {
		return failure.Wrap(failure.CodePhysicalFailure, cause, "%s: outcome unknown", a)
	}
	e.uncertain = true
	if !a.Translational() {
		return failure.Wrap(failure.CodePhysicalFailure, cause, "%s: outcome unknown", a)
	}
	if err := e.settle(context.WithoutCancel(ctx)); err != nil {
		return failure.Wrap(failure.CodePhysicalFailure, cause, "%s: outcome unknown, position not settled: %v", a, err)
	}
	if e.d.Poses.Pose().Pos() == to.Pos() {
		return e.commit(ctx, a, to)
	}
	return failure.Wrap(failure.CodePhysicalFailure, cause, "%s: not completed", a)
}

func (e *Executor) settle(ctx context.Context) error {
	drift, err := e.d.Positioning.Reconcile(ctx)
	if err != nil {
		return err
	}
	e.uncertain = false
	e.log.Info("position settled", zap.Stringer("pose", e.d.Poses.Pose()), zap.Stringer("drift", drift))
	return nil
}

// Uncertain reports whether the pose awaits a reconcile after a primitive
// whose outcome was lost.
func (e *Executor) Uncertain() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uncertain
}

// physical issues the primitive detached from ctx cancellation; ctx is still
// checked before the follow-up retry after clearing.
func (e *Executor) physical(ctx context.Context, a turtle.Action) error {
	run := context.WithoutCancel(ctx)
	err := turtle.Do(run, e.d.Actuator, a)
	if err == nil {
		return nil
	}
	if !a.Translational() {
		return failure.Wrap(failure.CodePhysicalFailure, err, "%s", a)
	}
	if !errors.Is(err, turtle.ErrBlocked) {
		return failure.Wrap(failure.CodePhysicalFailure, err, "%s", a)
	}
	if e.d.Miner == nil {
		return failure.Wrap(failure.CodeObstructed, err, "%s blocked, no miner", a)
	}
	dir := a.Direction()
	if cerr := e.d.Miner.ClearObstruction(run, dir); cerr != nil {
		e.log.Debug("obstruction not cleared", zap.String("action", string(a)), zap.String("dir", string(dir)), zap.Error(cerr))
		return failure.Wrap(failure.CodeObstructed, cerr, "%s blocked %s", a, dir)
	}
	if err := ctx.Err(); err != nil {
		return failure.Wrap(failure.CodeCancelled, err, "%s cleared but not retried", a)
	}
	if err := turtle.Do(run, e.d.Actuator, a); err != nil {
		if errors.Is(err, turtle.ErrNoResponse) {
			return err
		}
		return failure.Wrap(failure.CodePhysicalFailure, err, "%s failed after clearing", a)
	}
	return nil
}

// Face turns toward f using the fewest quarter turns.
func (e *Executor) Face(ctx context.Context, f pose.Facing) error {
	if !f.Valid() {
		return failure.New(failure.CodeInvalidPose, "facing %d out of range", int(f))
	}
	for i := 0; i < 3; i++ {
		cur := e.d.Poses.Pose().Facing
		if cur == f {
			return nil
		}
		a := turtle.ActionTurnRight
		if cur.Left() == f {
			a = turtle.ActionTurnLeft
		}
		if err := e.Do(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// StepTo moves onto an adjacent waypoint, turning first for horizontal steps.
func (e *Executor) StepTo(ctx context.Context, wp pose.Pose) error {
	cur := e.d.Poses.Pose()
	delta := wp.Pos().Sub(cur.Pos())
	switch delta {
	case pose.Up:
		return e.Do(ctx, turtle.ActionUp)
	case pose.Down:
		return e.Do(ctx, turtle.ActionDown)
	}
	f, ok := pose.FacingFromDelta(delta)
	if !ok {
		return failure.New(failure.CodeInvalidPose, "waypoint %s is not adjacent to %s", wp.Pos(), cur.Pos())
	}
	if err := e.Face(ctx, f); err != nil {
		return err
	}
	return e.Do(ctx, turtle.ActionForward)
}
