// Package emergency watches fuel, the travel envelope and hazards, and takes
// the turtle home when any of them says it must.
//
// The controller is a two-state machine. Normal becomes Emergency as soon as
// a trigger fires; Emergency only clears once the turtle is standing on home
// and every condition is clear again, so it cannot flap on the way back.
package emergency

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/movement"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

const (
	ReasonInsufficientFuel = "insufficient fuel"
	ReasonStop             = "emergency stop"
)

type Mode int

const (
	Normal Mode = iota
	Emergency
)

func (m Mode) String() string {
	if m == Emergency {
		return "emergency"
	}
	return "normal"
}

type State struct {
	Mode        Mode      `json:"-"`
	Active      bool      `json:"active"`
	Reason      string    `json:"reason,omitempty"`
	TriggeredAt time.Time `json:"triggered_at,omitempty"`
	Halted      bool      `json:"halted,omitempty"`
}

type Config struct {
	// FuelSafetyMargin multiplies the Manhattan distance home; >= 1.
	FuelSafetyMargin float64
	// FuelReserve is kept on top of the margin.
	FuelReserve             int
	HazardSeverityThreshold int
	ReplanBudget            int
}

func (c Config) normalized() Config {
	if c.FuelSafetyMargin < 1 {
		c.FuelSafetyMargin = 1
	}
	if c.FuelReserve < 0 {
		c.FuelReserve = 0
	}
	if c.HazardSeverityThreshold <= 0 {
		c.HazardSeverityThreshold = 1
	}
	if c.ReplanBudget < 0 {
		c.ReplanBudget = 0
	}
	return c
}

type PoseSource interface {
	Pose() pose.Pose
	Home() pose.Pose
}

type Bounds interface {
	IsWithinBounds(p pose.Pose) (bool, string)
}

// Driver follows a route; satisfied by *movement.Executor.
type Driver interface {
	Follow(ctx context.Context, planner movement.Planner, r movement.Route) (movement.RouteResult, error)
}

type Observer interface {
	ObserveEmergency(active bool, reason string)
}

type Deps struct {
	Poses    PoseSource
	Bounds   Bounds
	Fuel     turtle.Inventory
	Hazards  turtle.HazardChecker
	Observer Observer
	Logger   *zap.Logger
}

type Controller struct {
	cfg Config
	d   Deps
	log *zap.Logger
	now func() time.Time

	mu      sync.Mutex
	state   State
	route   map[pose.Vec3]struct{}
	planner movement.Planner
	driver  Driver
}

func New(cfg Config, d Deps) *Controller {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{cfg: cfg.normalized(), d: d, log: log, now: time.Now}
}

// Bind supplies the planner and driver used by ReturnHome. They are bound
// after construction because the executor itself consults the controller.
func (c *Controller) Bind(planner movement.Planner, driver Driver) {
	c.mu.Lock()
	c.planner, c.driver = planner, driver
	c.mu.Unlock()
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Active
}

// RequiredFuel is the fuel needed to get home from distance d, margin and
// reserve included. At home nothing is required.
func (c *Controller) RequiredFuel(d int) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(float64(d)*c.cfg.FuelSafetyMargin)) + c.cfg.FuelReserve
}

// CheckConditions reports whether any trigger currently holds. It does not
// change state.
func (c *Controller) CheckConditions(ctx context.Context) (bool, string) {
	p := c.d.Poses.Pose()
	home := c.d.Poses.Home()

	if c.d.Fuel != nil {
		fuel, err := c.d.Fuel.FuelLevel(ctx)
		switch {
		case err != nil:
			c.log.Warn("fuel level unavailable", zap.Error(err))
		case !fuel.Unlimited:
			d := pose.Manhattan(p.Pos(), home.Pos())
			if fuel.Level < c.RequiredFuel(d) {
				return true, ReasonInsufficientFuel
			}
		}
	}
	if c.d.Bounds != nil {
		if ok, reason := c.d.Bounds.IsWithinBounds(p); !ok {
			return true, "out of bounds: " + reason
		}
	}
	if c.d.Hazards != nil {
		for _, dir := range []turtle.Direction{turtle.DirFront, turtle.DirUp, turtle.DirDown} {
			h, err := c.d.Hazards.CheckHazard(ctx, dir)
			if err != nil {
				c.log.Debug("hazard check failed", zap.String("dir", string(dir)), zap.Error(err))
				continue
			}
			if !h.Safe && h.Severity >= c.cfg.HazardSeverityThreshold {
				return true, fmt.Sprintf("hazard: %s %s severity %d", h.Kind, dir, h.Severity)
			}
		}
	}
	return false, ""
}

// Evaluate applies CheckConditions to the state machine.
func (c *Controller) Evaluate(ctx context.Context) State {
	triggered, reason := c.CheckConditions(ctx)
	atHome := c.d.Poses.Pose().Pos() == c.d.Poses.Home().Pos()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.state.Active && triggered:
		c.activateLocked(reason)
	case c.state.Active && !c.state.Halted && atHome && !triggered:
		c.log.Info("emergency cleared at home", zap.String("reason", c.state.Reason))
		c.state = State{Mode: Normal}
		c.route = nil
		if c.d.Observer != nil {
			c.d.Observer.ObserveEmergency(false, "")
		}
	}
	return c.state
}

// Observe is called by the executor after every completed primitive.
func (c *Controller) Observe(ctx context.Context) { c.Evaluate(ctx) }

// Activate forces the Emergency state. An already active emergency keeps
// its original reason.
func (c *Controller) Activate(reason string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		c.activateLocked(reason)
	}
	return c.state
}

func (c *Controller) activateLocked(reason string) {
	p := c.d.Poses.Pose()
	c.log.Warn("emergency triggered", zap.String("reason", reason), zap.Stringer("pose", p))
	c.state = State{Mode: Emergency, Active: true, Reason: reason, TriggeredAt: c.now(), Halted: c.state.Halted}
	if c.d.Observer != nil {
		c.d.Observer.ObserveEmergency(true, reason)
	}
}

// Stop halts all movement, homeward included, until Resume.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.state.Active {
		c.activateLocked(ReasonStop)
	}
	c.state.Halted = true
}

// Resume lifts a Stop. The emergency itself stays active until it clears at
// home, unless it was only the stop.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Halted = false
	if c.state.Active && c.state.Reason == ReasonStop {
		c.log.Info("emergency stop lifted")
		c.state = State{Mode: Normal}
		if c.d.Observer != nil {
			c.d.Observer.ObserveEmergency(false, "")
		}
	}
}

// AllowMove is the executor's go/no-go check. During an emergency only turns,
// moves that bring the turtle closer to home and moves along the sanctioned
// homeward route are allowed. In normal operation it refuses a step that
// would leave too little fuel to get back, and triggers the emergency.
func (c *Controller) AllowMove(ctx context.Context, from, to pose.Pose, a turtle.Action) (bool, string) {
	home := c.d.Poses.Home().Pos()

	c.mu.Lock()
	st := c.state
	_, onRoute := c.route[to.Pos()]
	c.mu.Unlock()

	if st.Halted {
		return false, ReasonStop
	}
	if !a.Translational() {
		return true, ""
	}
	dFrom := pose.Manhattan(from.Pos(), home)
	dTo := pose.Manhattan(to.Pos(), home)
	if st.Active {
		if dTo < dFrom || onRoute {
			return true, ""
		}
		return false, fmt.Sprintf("emergency (%s): move away from home", st.Reason)
	}
	if dTo < dFrom || c.d.Fuel == nil {
		return true, ""
	}
	fuel, err := c.d.Fuel.FuelLevel(ctx)
	if err != nil || fuel.Unlimited {
		return true, ""
	}
	if fuel.Level-1 < c.RequiredFuel(dTo) {
		c.mu.Lock()
		if !c.state.Active {
			c.activateLocked(ReasonInsufficientFuel)
		}
		c.mu.Unlock()
		return false, fmt.Sprintf("%s: %d left, %d needed from %s", ReasonInsufficientFuel, fuel.Level, c.RequiredFuel(dTo)+1, to.Pos())
	}
	return true, ""
}

// ReturnHome plans a route home, sanctions it and drives it, re-planning
// around obstructions within the replan budget.
func (c *Controller) ReturnHome(ctx context.Context) (movement.RouteResult, error) {
	c.mu.Lock()
	planner, driver := c.planner, c.driver
	if !c.state.Active {
		c.activateLocked("return home requested")
	}
	c.mu.Unlock()
	if planner == nil || driver == nil {
		return movement.RouteResult{}, fmt.Errorf("emergency: no planner bound")
	}

	home := c.d.Poses.Home().Pos()
	c.log.Info("returning home", zap.Stringer("from", c.d.Poses.Pose()), zap.Stringer("home", home))
	res, err := driver.Follow(ctx, planner, movement.Route{
		Goal:         home,
		Options:      pathfind.Options{},
		ReplanBudget: c.cfg.ReplanBudget,
		OnPlan:       c.sanction,
		Interrupt: func() error {
			if c.State().Halted {
				return failure.New(failure.CodeEmergencyVeto, ReasonStop)
			}
			if err := ctx.Err(); err != nil {
				return failure.Wrap(failure.CodeCancelled, err, "return home")
			}
			return nil
		},
	})
	c.mu.Lock()
	c.route = nil
	c.mu.Unlock()
	if err != nil {
		c.log.Error("return home failed", zap.Error(err), zap.Int("moves", res.Moves))
		return res, err
	}
	c.Evaluate(ctx)
	return res, nil
}

func (c *Controller) sanction(plan pathfind.Plan) {
	route := make(map[pose.Vec3]struct{}, len(plan.Waypoints))
	for _, wp := range plan.Waypoints {
		route[wp.Pos()] = struct{}{}
	}
	c.mu.Lock()
	c.route = route
	c.mu.Unlock()
}
