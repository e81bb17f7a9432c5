package navigator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/emergency"
	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/nav/positioning"
	"turtlecraft.ai/internal/persistence/snapshot"
	"turtlecraft.ai/internal/turtle"
)

const KeyHistory = "nav.history"

var ErrNoState = errors.New("navigator: no state store configured")

// Save persists pose, home and the movement history.
func (n *Navigator) Save(ctx context.Context) error {
	if n.state == nil {
		return ErrNoState
	}
	if err := positioning.SavePose(ctx, n.state, positioning.KeyPose, n.poses.Pose()); err != nil {
		return fmt.Errorf("save pose: %w", err)
	}
	if err := positioning.SavePose(ctx, n.state, positioning.KeyHome, n.poses.Home()); err != nil {
		return fmt.Errorf("save home: %w", err)
	}
	b, err := snapshot.Marshal(snapshot.FromRing(n.ring, n.session, time.Now()))
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := n.state.Save(ctx, KeyHistory, b); err != nil {
		return fmt.Errorf("save history: %w", err)
	}
	return nil
}

// Restore loads whatever Save left behind. Missing keys are skipped; a
// corrupt entry is an error and leaves the corresponding component as is.
func (n *Navigator) Restore(ctx context.Context) error {
	if n.state == nil {
		return ErrNoState
	}
	if p, ok, err := n.loadPose(ctx, positioning.KeyHome); err != nil {
		return err
	} else if ok {
		if err := n.poses.SetHome(&p); err != nil {
			return fmt.Errorf("restore home: %w", err)
		}
	}
	if p, ok, err := n.loadPose(ctx, positioning.KeyPose); err != nil {
		return err
	} else if ok {
		if err := n.poses.SetPose(p); err != nil {
			return fmt.Errorf("restore pose: %w", err)
		}
	}

	b, ok, err := n.state.Load(ctx, KeyHistory)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if ok {
		snap, err := snapshot.Unmarshal(b)
		if err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		recs, err := snap.HistoryRecords()
		if err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		n.ring.Restore(recs, snap.Header.Total)
		n.log.Info("history restored", zap.Int("records", len(recs)), zap.String("from_session", snap.Header.Session))
	}
	return nil
}

func (n *Navigator) loadPose(ctx context.Context, key string) (pose.Pose, bool, error) {
	b, ok, err := n.state.Load(ctx, key)
	if err != nil || !ok {
		return pose.Pose{}, false, err
	}
	p, err := pose.DecodeJSON(b)
	if err != nil {
		return pose.Pose{}, false, fmt.Errorf("%s: %w", key, err)
	}
	return p, true, nil
}

type Stats struct {
	Session      string              `json:"session"`
	Uptime       time.Duration       `json:"uptime"`
	Pose         pose.Pose           `json:"pose"`
	Home         pose.Pose           `json:"home"`
	DistanceHome int                 `json:"distance_home"`
	Fuel         *turtle.Fuel        `json:"fuel,omitempty"`
	RequiredFuel int                 `json:"required_fuel"`
	History      history.Stats       `json:"history"`
	Pacing       bool                `json:"pacing"`
	Emergency    emergency.State     `json:"emergency"`
	Cache        pathfind.CacheStats `json:"cache"`
	Routes       int                 `json:"routes"`
	Plans        int                 `json:"plans"`
	Replans      int                 `json:"replans"`
	Diverted     int                 `json:"diverted"`
	Failures     int                 `json:"failures"`
	LastFailure  string              `json:"last_failure,omitempty"`
}

// Stats reports the navigator's state. Emergency carries the reason the
// turtle is heading home, if it is.
func (n *Navigator) Stats(ctx context.Context) Stats {
	p, h := n.poses.Pose(), n.poses.Home()
	d := pose.Manhattan(p.Pos(), h.Pos())
	s := Stats{
		Session:      n.session,
		Uptime:       time.Since(n.started).Round(time.Second),
		Pose:         p,
		Home:         h,
		DistanceHome: d,
		RequiredFuel: n.ctl.RequiredFuel(d),
		History:      n.ring.Stats(),
		Pacing:       n.ring.Pacing(n.cfg.PacingWindow, n.cfg.PacingMaxDistinct),
		Emergency:    n.ctl.State(),
		Cache:        n.finder.CacheStats(),
	}
	if fuel, err := n.body.FuelLevel(ctx); err == nil {
		s.Fuel = &fuel
	}
	n.mu.Lock()
	s.Routes = n.counters.routes
	s.Plans = n.counters.plans
	s.Replans = n.counters.replans
	s.Diverted = n.counters.diverted
	s.Failures = n.counters.failures
	s.LastFailure = n.counters.lastFailure
	n.mu.Unlock()
	return s
}
