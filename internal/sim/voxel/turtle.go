package voxel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

var (
	ErrOutOfFuel    = errors.New("out of fuel")
	ErrUnbreakable  = errors.New("unbreakable block")
	ErrNothingToDig = errors.New("nothing to dig")
)

// Hazard severities reported by CheckHazard.
const (
	SeverityWater = 2
	SeverityLava  = 9
	SeverityVoid  = 10
)

// Turtle simulates turtle hardware inside a World. Its true pose is private
// to the simulation; navigation only learns it through GPS.
type Turtle struct {
	world *World

	mu        sync.Mutex
	pose      pose.Pose
	fuel      int
	unlimited bool
	gpsDown   bool
	gpsFails  int
	delay     time.Duration
	moves     int
	turns     int
	digs      int
}

type TurtleOption func(*Turtle)

func WithFuel(level int) TurtleOption { return func(t *Turtle) { t.fuel = level } }

func WithUnlimitedFuel() TurtleOption { return func(t *Turtle) { t.unlimited = true } }

// WithStepDelay makes every primitive take d, honoring ctx.
func WithStepDelay(d time.Duration) TurtleOption { return func(t *Turtle) { t.delay = d } }

func NewTurtle(w *World, at pose.Pose, opts ...TurtleOption) *Turtle {
	t := &Turtle{world: w, pose: at, fuel: 1000}
	for _, o := range opts {
		o(t)
	}
	return t
}

var _ turtle.Body = (*Turtle)(nil)

// TruePose is the ground-truth pose, for tests and the sim host.
func (t *Turtle) TruePose() pose.Pose {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pose
}

func (t *Turtle) Teleport(p pose.Pose) {
	t.mu.Lock()
	t.pose = p
	t.mu.Unlock()
}

func (t *Turtle) SetFuel(level int) {
	t.mu.Lock()
	t.fuel = level
	t.mu.Unlock()
}

// SetGPS takes the oracle offline or back online.
func (t *Turtle) SetGPS(online bool) {
	t.mu.Lock()
	t.gpsDown = !online
	t.mu.Unlock()
}

// FailGPS makes the next n Locate calls fail.
func (t *Turtle) FailGPS(n int) {
	t.mu.Lock()
	t.gpsFails = n
	t.mu.Unlock()
}

type Counters struct {
	Moves int `json:"moves"`
	Turns int `json:"turns"`
	Digs  int `json:"digs"`
}

func (t *Turtle) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counters{Moves: t.moves, Turns: t.turns, Digs: t.digs}
}

func (t *Turtle) Forward(ctx context.Context) error { return t.translate(ctx, turtle.ActionForward) }
func (t *Turtle) Back(ctx context.Context) error { return t.translate(ctx, turtle.ActionBack) }
func (t *Turtle) Up(ctx context.Context) error { return t.translate(ctx, turtle.ActionUp) }
func (t *Turtle) Down(ctx context.Context) error { return t.translate(ctx, turtle.ActionDown) }
func (t *Turtle) TurnLeft(ctx context.Context) error {
	return t.turn(ctx, turtle.ActionTurnLeft)
}
func (t *Turtle) TurnRight(ctx context.Context) error {
	return t.turn(ctx, turtle.ActionTurnRight)
}

func (t *Turtle) wait(ctx context.Context) error {
	if t.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(t.delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (t *Turtle) translate(ctx context.Context, a turtle.Action) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.unlimited && t.fuel <= 0 {
		return ErrOutOfFuel
	}
	next := a.Apply(t.pose)
	if !pose.WorldLimits().Contains(next.Y) {
		return fmt.Errorf("%s: %w: world edge", a, turtle.ErrBlocked)
	}
	if b := t.world.Block(next.Pos()); b.Solid() {
		return fmt.Errorf("%s: %w by %s", a, turtle.ErrBlocked, b)
	}
	t.pose = next
	if !t.unlimited {
		t.fuel--
	}
	t.moves++
	return nil
}

func (t *Turtle) turn(ctx context.Context, a turtle.Action) error {
	if err := t.wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	t.pose = a.Apply(t.pose)
	t.turns++
	t.mu.Unlock()
	return nil
}

// target is the cell on the given face of the turtle.
func (t *Turtle) target(dir turtle.Direction) pose.Vec3 {
	p := t.pose
	switch dir {
	case turtle.DirUp:
		return p.Pos().Add(pose.Up)
	case turtle.DirDown:
		return p.Pos().Add(pose.Down)
	case turtle.DirBack:
		return p.Pos().Add(p.Facing.Opposite().Delta())
	}
	return p.Pos().Add(p.Facing.Delta())
}

func (t *Turtle) ClearObstruction(ctx context.Context, dir turtle.Direction) error {
	if dir == turtle.DirBack {
		return errors.New("cannot dig behind")
	}
	if err := t.wait(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.target(dir)
	b, ok := t.world.Dig(v)
	if !ok {
		if b == Bedrock {
			return fmt.Errorf("dig %s at %s: %w", dir, v, ErrUnbreakable)
		}
		return fmt.Errorf("dig %s at %s: %w", dir, v, ErrNothingToDig)
	}
	t.digs++
	return nil
}

func (t *Turtle) FuelLevel(ctx context.Context) (turtle.Fuel, error) {
	if err := ctx.Err(); err != nil {
		return turtle.Fuel{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return turtle.Fuel{Level: t.fuel, Unlimited: t.unlimited}, nil
}

func (t *Turtle) CheckHazard(ctx context.Context, dir turtle.Direction) (turtle.Hazard, error) {
	if err := ctx.Err(); err != nil {
		return turtle.Hazard{}, err
	}
	t.mu.Lock()
	v := t.target(dir)
	t.mu.Unlock()
	if v.Y < pose.WorldMinY {
		return turtle.Hazard{Severity: SeverityVoid, Kind: "void"}, nil
	}
	switch t.world.Block(v) {
	case Lava:
		return turtle.Hazard{Severity: SeverityLava, Kind: "lava"}, nil
	case Water:
		return turtle.Hazard{Severity: SeverityWater, Kind: "water"}, nil
	}
	return turtle.Hazard{Safe: true}, nil
}

func (t *Turtle) Locate(ctx context.Context) (pose.Vec3, error) {
	if err := t.wait(ctx); err != nil {
		return pose.Vec3{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gpsDown {
		return pose.Vec3{}, turtle.ErrNoReading
	}
	if t.gpsFails > 0 {
		t.gpsFails--
		return pose.Vec3{}, turtle.ErrNoReading
	}
	return t.pose.Pos(), nil
}
