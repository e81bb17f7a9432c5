package movement

import (
	"context"
	"errors"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
)

type Planner interface {
	FindPath(ctx context.Context, start pose.Pose, goal pose.Vec3, opts pathfind.Options) (pathfind.Plan, error)
}

type Route struct {
	Goal    pose.Vec3
	Options pathfind.Options
	// ReplanBudget is how many times an obstructed route is re-planned from
	// the current pose before giving up with E_PATH_BLOCKED.
	ReplanBudget int
	// Interrupt is polled before every waypoint; a non-nil error aborts.
	Interrupt func() error
	// OnPlan sees every plan before it is driven.
	OnPlan func(pathfind.Plan)
}

type RouteResult struct {
	Plans   int
	Replans int
	Moves   int
	Blocked []pose.Vec3
}

// Follow plans to r.Goal and drives the plan one waypoint at a time. A
// waypoint that stays obstructed after the executor's own retry is added to
// the avoid set and the route is re-planned from wherever the turtle is. The
// goal itself is never avoided; an obstructed goal is retried until the
// budget runs out.
func (e *Executor) Follow(ctx context.Context, planner Planner, r Route) (RouteResult, error) {
	var res RouteResult
	avoid := make(map[pose.Vec3]struct{}, len(r.Options.Avoid))
	for v := range r.Options.Avoid {
		avoid[v] = struct{}{}
	}
	useCache := r.Options.UseCache

	for {
		cur := e.Pose()
		if cur.Pos() == r.Goal {
			return res, nil
		}
		opts := r.Options
		opts.Avoid = avoid
		opts.UseCache = useCache
		plan, err := planner.FindPath(ctx, cur, r.Goal, opts)
		res.Plans++
		if err != nil {
			return res, err
		}
		if r.OnPlan != nil {
			r.OnPlan(plan)
		}

		blocked, err := e.drive(ctx, plan, r.Interrupt, &res)
		if err != nil {
			// A cached plan can predate a boundary change the planner would
			// now route around.
			if plan.Cached && errors.Is(err, failure.ErrBoundaryViolation) {
				useCache = false
				continue
			}
			return res, err
		}
		if blocked == nil {
			if e.Pose().Pos() != r.Goal {
				return res, failure.New(failure.CodePhysicalFailure, "plan finished at %s, not %s", e.Pose().Pos(), r.Goal)
			}
			return res, nil
		}
		if *blocked != r.Goal {
			avoid[*blocked] = struct{}{}
		}
		res.Blocked = append(res.Blocked, *blocked)
		if res.Replans >= r.ReplanBudget {
			return res, failure.New(failure.CodePathBlocked, "route to %s still blocked after %d replans", r.Goal, res.Replans)
		}
		res.Replans++
	}
}

func (e *Executor) drive(ctx context.Context, plan pathfind.Plan, interrupt func() error, res *RouteResult) (*pose.Vec3, error) {
	for _, wp := range plan.Waypoints {
		if interrupt != nil {
			if err := interrupt(); err != nil {
				return nil, err
			}
		}
		err := e.StepTo(ctx, wp)
		if err == nil {
			res.Moves++
			continue
		}
		if errors.Is(err, failure.ErrObstructed) || errors.Is(err, failure.ErrPhysicalFailure) {
			v := wp.Pos()
			return &v, nil
		}
		return nil, err
	}
	return nil, nil
}
