package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/observability"
	"turtlecraft.ai/internal/persistence/statedb"
	"turtlecraft.ai/internal/persistence/trail"
	"turtlecraft.ai/internal/sim/voxel"
	"turtlecraft.ai/internal/transport/ws"
	"turtlecraft.ai/internal/tuning"
	"turtlecraft.ai/internal/turtle"
)

// stack is everything a command needs to move the turtle.
type stack struct {
	nav     *navigator.Navigator
	metrics *observability.NavCollector
	reg     *prometheus.Registry
	body    turtle.Body

	state *statedb.Store
	trail *trail.Logger
	link  *ws.Link
	log   *zap.Logger
}

// simBody builds the in-process turtle standing at home.
func simBody(t tuning.Tuning) *voxel.Turtle {
	world := voxel.NewWorld(t.Sim.Terrain.Generator())
	return voxel.NewTurtle(world, t.HomePose(), voxel.WithFuel(t.Sim.Fuel))
}

// openStack connects to the turtle, opens persistence, restores the last
// saved navigation state and then re-establishes the pose (GPS first).
func openStack(ctx context.Context, t tuning.Tuning, sim bool, log *zap.Logger) (*stack, error) {
	s := &stack{reg: prometheus.NewRegistry(), log: log}
	s.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	ok := false
	defer func() {
		if !ok {
			s.Close(context.Background())
		}
	}()

	if sim {
		s.body = simBody(t)
		log.Info("using simulated turtle", zap.Int64("seed", t.Sim.Terrain.Seed))
	} else {
		link, err := ws.Dial(ctx, t.Link.URL, ws.DialOptions{
			ClientName: "turtle",
			Timeout:    t.LinkTimeout(),
			Logger:     log.Named("link"),
		})
		if err != nil {
			return nil, err
		}
		s.link, s.body = link, link
	}

	if p := t.Persistence.StateDB; p != "" {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
		db, err := statedb.Open(p, t.Persistence.KeepBackups)
		if err != nil {
			return nil, fmt.Errorf("open state db: %w", err)
		}
		s.state = db
	}

	metrics, err := observability.NewNavCollector(s.reg)
	if err != nil {
		return nil, err
	}
	s.metrics = metrics

	deps := navigator.Deps{
		Body:     s.body,
		Observer: metrics,
		Logger:   log.Named("nav"),
		Session:  uuid.NewString(),
	}
	if s.state != nil {
		deps.State = s.state
	}
	if dir := t.Persistence.TrailDir; dir != "" {
		s.trail = trail.NewLogger(dir, deps.Session)
		deps.Trail = s.trail
	}
	nav, err := navigator.New(t.Navigator(), t.HomePose(), deps)
	if err != nil {
		return nil, err
	}
	s.nav = nav

	if err := nav.Restore(ctx); err != nil && !errors.Is(err, navigator.ErrNoState) {
		log.Warn("saved state unusable", zap.Error(err))
	}
	p, method := nav.Recover(ctx)
	log.Info("pose established", zap.String("method", string(method)), zap.Stringer("pose", p))
	ok = true
	return s, nil
}

// Close saves navigation state and releases the link and files.
func (s *stack) Close(ctx context.Context) {
	if s.nav != nil && s.state != nil {
		if err := s.nav.Save(ctx); err != nil {
			s.log.Warn("state not saved", zap.Error(err))
		}
	}
	if s.trail != nil {
		_ = s.trail.Close()
	}
	if s.state != nil {
		_ = s.state.Close()
	}
	if s.link != nil {
		_ = s.link.Close()
	}
}

func (s *stack) publish(ctx context.Context) {
	s.metrics.SetPose(s.nav.Position())
	if f, err := s.body.FuelLevel(ctx); err == nil {
		s.metrics.SetFuel(f.Level, f.Unlimited)
	}
}

// commandContext is cancelled on SIGINT/SIGTERM and after --timeout.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if timeout <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	return tctx, func() {
		cancel()
		stop()
	}
}
