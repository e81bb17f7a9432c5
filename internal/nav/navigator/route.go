package navigator

import (
	"context"

	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/emergency"
	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/movement"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
)

type MoveOptions struct {
	Avoid []pose.Vec3
	// MaxDistance caps the planned path length; 0 uses the current fuel
	// level when fuel is finite.
	MaxDistance   int
	MaxIterations int
	NoCache       bool
	// ReplanBudget overrides the configured budget when > 0.
	ReplanBudget int
	// Facing, when set, is turned to after arrival.
	Facing *pose.Facing
}

type MoveResult struct {
	Reached  bool        `json:"reached"`
	Diverted bool        `json:"diverted"`
	Reason   string      `json:"reason,omitempty"`
	Plans    int         `json:"plans"`
	Replans  int         `json:"replans"`
	Moves    int         `json:"moves"`
	Blocked  []pose.Vec3 `json:"blocked,omitempty"`
	Final    pose.Pose   `json:"final"`
}

// MoveTo drives the turtle to target. When the emergency controller fires
// before or during the route, the turtle is taken home instead and the call
// returns E_EMERGENCY_VETO with Diverted set.
func (n *Navigator) MoveTo(ctx context.Context, target pose.Vec3, opts MoveOptions) (MoveResult, error) {
	if !n.route.TryLock() {
		return MoveResult{Final: n.poses.Pose()}, failure.New(failure.CodeBusy, "move to %s: route in progress", target)
	}
	defer n.route.Unlock()

	res, err := n.moveTo(ctx, target, opts)
	res.Final = n.poses.Pose()
	n.persistPose(ctx)
	if n.obs != nil {
		n.obs.ObserveRoute(routeOutcome(res, err), res.Replans)
	}
	if err != nil {
		n.noteFailure(err)
	}
	return res, err
}

func (n *Navigator) moveTo(ctx context.Context, target pose.Vec3, opts MoveOptions) (MoveResult, error) {
	st := n.ctl.State()
	if st.Halted {
		return MoveResult{}, failure.New(failure.CodeEmergencyVeto, emergency.ReasonStop)
	}
	if st = n.ctl.Evaluate(ctx); st.Active {
		return n.divert(ctx, st.Reason)
	}

	var res MoveResult
	if n.poses.Pose().Pos() != target {
		n.mu.Lock()
		n.counters.routes++
		n.mu.Unlock()

		route := movement.Route{
			Goal:         target,
			Options:      n.planOptions(ctx, opts),
			ReplanBudget: n.cfg.Emergency.ReplanBudget,
			Interrupt: func() error {
				if err := ctx.Err(); err != nil {
					return failure.Wrap(failure.CodeCancelled, err, "move to %s", target)
				}
				if st := n.ctl.State(); st.Active {
					return failure.New(failure.CodeEmergencyVeto, "move to %s: emergency raised: %s", target, st.Reason)
				}
				return nil
			},
		}
		if opts.ReplanBudget > 0 {
			route.ReplanBudget = opts.ReplanBudget
		}
		rr, err := n.exec.Follow(ctx, n.finder, route)
		res = fromRoute(rr)
		n.count(rr)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return res, failure.Wrap(failure.CodeCancelled, cerr, "move to %s", target)
			}
			st := n.ctl.State()
			if st.Active && !st.Halted {
				home, herr := n.divert(ctx, st.Reason)
				home.Plans += res.Plans
				home.Replans += res.Replans
				home.Moves += res.Moves
				home.Blocked = append(res.Blocked, home.Blocked...)
				return home, herr
			}
			return res, err
		}
	}
	if opts.Facing != nil {
		if err := n.exec.Face(ctx, *opts.Facing); err != nil {
			return res, err
		}
	}
	res.Reached = true
	return res, nil
}

func (n *Navigator) planOptions(ctx context.Context, opts MoveOptions) pathfind.Options {
	po := pathfind.Options{
		MaxIterations: opts.MaxIterations,
		MaxDistance:   opts.MaxDistance,
		UseCache:      !opts.NoCache,
	}
	if len(opts.Avoid) > 0 {
		po.Avoid = make(map[pose.Vec3]struct{}, len(opts.Avoid))
		for _, v := range opts.Avoid {
			po.Avoid[v] = struct{}{}
		}
	}
	if po.MaxDistance <= 0 {
		// An empty tank leaves the cap off; the fuel veto stops the first step.
		if fuel, err := n.body.FuelLevel(ctx); err == nil && !fuel.Unlimited && fuel.Level > 0 {
			po.MaxDistance = fuel.Level
		}
	}
	return po
}

// ActivateEmergencyReturn forces the emergency state and takes the turtle
// home. Arriving home is success.
func (n *Navigator) ActivateEmergencyReturn(ctx context.Context, reason string) (MoveResult, error) {
	if !n.route.TryLock() {
		return MoveResult{Final: n.poses.Pose()}, failure.New(failure.CodeBusy, "emergency return: route in progress")
	}
	defer n.route.Unlock()
	if reason == "" {
		reason = "manual"
	}
	n.ctl.Activate(reason)
	res, err := n.goHome(ctx, reason)
	res.Final = n.poses.Pose()
	res.Reached = err == nil
	n.persistPose(ctx)
	if err != nil {
		n.noteFailure(err)
	}
	return res, err
}

// divert abandons the current goal for home. Its error is the
// E_EMERGENCY_VETO explaining the diversion, or the homeward failure.
func (n *Navigator) divert(ctx context.Context, reason string) (MoveResult, error) {
	res, err := n.goHome(ctx, reason)
	if err != nil {
		return res, err
	}
	return res, failure.New(failure.CodeEmergencyVeto, "diverted home: %s", reason)
}

func (n *Navigator) goHome(ctx context.Context, reason string) (MoveResult, error) {
	n.log.Warn("heading home", zap.String("reason", reason), zap.Stringer("pose", n.poses.Pose()))
	n.mu.Lock()
	n.counters.diverted++
	n.mu.Unlock()

	rr, err := n.ctl.ReturnHome(ctx)
	n.count(rr)
	res := fromRoute(rr)
	res.Diverted = true
	res.Reason = reason
	return res, err
}

func (n *Navigator) count(rr movement.RouteResult) {
	n.mu.Lock()
	n.counters.plans += rr.Plans
	n.counters.replans += rr.Replans
	n.mu.Unlock()
}

func fromRoute(rr movement.RouteResult) MoveResult {
	return MoveResult{Plans: rr.Plans, Replans: rr.Replans, Moves: rr.Moves, Blocked: rr.Blocked}
}

func routeOutcome(res MoveResult, err error) string {
	switch {
	case res.Diverted:
		return "diverted"
	case err != nil:
		return string(failure.CodeOf(err))
	}
	return "ok"
}
