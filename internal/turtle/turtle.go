// Package turtle declares the hardware and collaborator contracts the
// navigation stack drives: the movement actuator, the GPS oracle, and the
// Mining, Inventory, Hazard and State collaborators.
package turtle

import (
	"context"
	"errors"

	"turtlecraft.ai/internal/nav/pose"
)

// ErrBlocked is wrapped by actuators when a move is obstructed by a block.
var ErrBlocked = errors.New("blocked")

// ErrNoReading is wrapped by GPS oracles when no fix is available.
var ErrNoReading = errors.New("no position reading")

// ErrNoResponse is wrapped by remote bodies when a command was sent but its
// outcome never came back. The command may or may not have run.
var ErrNoResponse = errors.New("no response")

type Action string

const (
	ActionForward   Action = "forward"
	ActionBack      Action = "back"
	ActionUp        Action = "up"
	ActionDown      Action = "down"
	ActionTurnLeft  Action = "turnLeft"
	ActionTurnRight Action = "turnRight"
)

func (a Action) Valid() bool {
	switch a {
	case ActionForward, ActionBack, ActionUp, ActionDown, ActionTurnLeft, ActionTurnRight:
		return true
	}
	return false
}

func (a Action) Inverse() Action {
	switch a {
	case ActionForward:
		return ActionBack
	case ActionBack:
		return ActionForward
	case ActionUp:
		return ActionDown
	case ActionDown:
		return ActionUp
	case ActionTurnLeft:
		return ActionTurnRight
	case ActionTurnRight:
		return ActionTurnLeft
	}
	return a
}

func (a Action) Translational() bool { return a != ActionTurnLeft && a != ActionTurnRight }

// Direction names the face of the turtle an action targets.
func (a Action) Direction() Direction {
	switch a {
	case ActionBack:
		return DirBack
	case ActionUp:
		return DirUp
	case ActionDown:
		return DirDown
	}
	return DirFront
}

// Apply returns the pose after a successful a from p.
func (a Action) Apply(p pose.Pose) pose.Pose {
	switch a {
	case ActionForward:
		return pose.At(p.Pos().Add(p.Facing.Delta()), p.Facing)
	case ActionBack:
		return pose.At(p.Pos().Add(p.Facing.Opposite().Delta()), p.Facing)
	case ActionUp:
		return pose.At(p.Pos().Add(pose.Up), p.Facing)
	case ActionDown:
		return pose.At(p.Pos().Add(pose.Down), p.Facing)
	case ActionTurnLeft:
		p.Facing = p.Facing.Left()
	case ActionTurnRight:
		p.Facing = p.Facing.Right()
	}
	return p
}

type Direction string

const (
	DirFront Direction = "front"
	DirBack  Direction = "back"
	DirUp    Direction = "up"
	DirDown  Direction = "down"
)

// Actuator issues physical primitives. A primitive blocks until the turtle
// reports completion; an obstruction is reported by wrapping ErrBlocked.
type Actuator interface {
	Forward(ctx context.Context) error
	Back(ctx context.Context) error
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	TurnLeft(ctx context.Context) error
	TurnRight(ctx context.Context) error
}

// Do dispatches a on act.
func Do(ctx context.Context, act Actuator, a Action) error {
	switch a {
	case ActionForward:
		return act.Forward(ctx)
	case ActionBack:
		return act.Back(ctx)
	case ActionUp:
		return act.Up(ctx)
	case ActionDown:
		return act.Down(ctx)
	case ActionTurnLeft:
		return act.TurnLeft(ctx)
	case ActionTurnRight:
		return act.TurnRight(ctx)
	}
	return errors.New("unknown action " + string(a))
}

// Miner removes the block obstructing a move. It decides whether breaking is
// safe; navigation only asks.
type Miner interface {
	ClearObstruction(ctx context.Context, dir Direction) error
}

type Fuel struct {
	Level     int  `json:"level"`
	Unlimited bool `json:"unlimited"`
}

// Inventory reports the fuel level. Navigation never writes fuel.
type Inventory interface {
	FuelLevel(ctx context.Context) (Fuel, error)
}

type Hazard struct {
	Safe     bool   `json:"safe"`
	Severity int    `json:"severity"`
	Kind     string `json:"kind,omitempty"`
}

type HazardChecker interface {
	CheckHazard(ctx context.Context, dir Direction) (Hazard, error)
}

// GPS is the absolute positioning oracle. It reports position only.
type GPS interface {
	Locate(ctx context.Context) (pose.Vec3, error)
}

// State is durable key-value storage.
type State interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, bool, error)
}

// Body bundles everything a physical (or simulated) turtle provides.
type Body interface {
	Actuator
	Miner
	Inventory
	HazardChecker
	GPS
}
