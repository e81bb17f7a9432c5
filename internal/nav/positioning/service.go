// Package positioning reconciles dead reckoning with the GPS oracle and
// recovers a pose after a restart.
package positioning

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"turtlecraft.ai/internal/nav/failure"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/turtle"
)

// State keys shared with the navigator's snapshot.
const (
	KeyPose = "nav.pose"
	KeyHome = "nav.home"
)

type Method string

const (
	MethodGPS          Method = "gps"
	MethodPersisted    Method = "persisted"
	MethodHomeFallback Method = "home"
)

type Config struct {
	Timeout         time.Duration
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (c Config) normalized() Config {
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Second
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 250 * time.Millisecond
	}
	if c.MaxInterval < c.InitialInterval {
		c.MaxInterval = 8 * c.InitialInterval
	}
	return c
}

// Store is the subset of pose.Store the service writes.
type Store interface {
	Pose() pose.Pose
	Home() pose.Pose
	SetPose(p pose.Pose) error
}

type Deps struct {
	GPS      turtle.GPS
	Actuator turtle.Actuator
	Poses    Store
	State    turtle.State
	Logger   *zap.Logger
}

type Service struct {
	cfg Config
	d   Deps
	log *zap.Logger
}

func New(cfg Config, d Deps) *Service {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{cfg: cfg.normalized(), d: d, log: log}
}

// Locate asks the oracle for a position, giving up after timeout. A zero
// timeout uses the configured one.
func (s *Service) Locate(ctx context.Context, timeout time.Duration) (pose.Vec3, error) {
	if s.d.GPS == nil {
		return pose.Vec3{}, failure.New(failure.CodeOracleUnavailable, "no gps configured")
	}
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	v, err := s.d.GPS.Locate(cctx)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return pose.Vec3{}, failure.Wrap(failure.CodeCancelled, ctx.Err(), "locate")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pose.Vec3{}, failure.Wrap(failure.CodeOracleUnavailable, err, "no fix within %s", timeout)
	}
	return pose.Vec3{}, failure.Wrap(failure.CodeOracleUnavailable, err, "locate")
}

// Calibrate derives facing from a one-block forward probe between two fixes,
// backs out again and commits the fused pose. Probe moves bypass the
// executor and are not recorded in history.
func (s *Service) Calibrate(ctx context.Context) (pose.Pose, error) {
	before, err := s.Locate(ctx, 0)
	if err != nil {
		return pose.Pose{}, err
	}
	if err := s.d.Actuator.Forward(ctx); err != nil {
		if errors.Is(err, turtle.ErrBlocked) {
			return pose.Pose{}, failure.Wrap(failure.CodeCalibrationBlocked, err, "probe forward")
		}
		return pose.Pose{}, failure.Wrap(failure.CodePhysicalFailure, err, "probe forward")
	}

	after, err := s.Locate(ctx, 0)
	if err != nil {
		s.backOut(ctx)
		return pose.Pose{}, err
	}
	facing, ok := pose.FacingFromDelta(after.Sub(before))
	if !ok {
		s.backOut(ctx)
		return pose.Pose{}, failure.New(failure.CodeOracleUnavailable, "inconsistent fixes %s then %s", before, after)
	}

	at := after
	if s.backOut(ctx) {
		at = before
	}
	p := pose.At(at, facing)
	if err := s.d.Poses.SetPose(p); err != nil {
		return pose.Pose{}, err
	}
	s.log.Info("calibrated", zap.Stringer("pose", p))
	return p, nil
}

func (s *Service) backOut(ctx context.Context) bool {
	if err := s.d.Actuator.Back(ctx); err != nil {
		s.log.Warn("calibration back-out failed", zap.Error(err))
		return false
	}
	return true
}

// Reconcile overwrites the dead-reckoned position with a fix and returns the
// drift (fix minus reckoned). Facing is kept.
func (s *Service) Reconcile(ctx context.Context) (pose.Vec3, error) {
	fix, err := s.Locate(ctx, 0)
	if err != nil {
		return pose.Vec3{}, err
	}
	cur := s.d.Poses.Pose()
	drift := fix.Sub(cur.Pos())
	if drift == (pose.Vec3{}) {
		return drift, nil
	}
	if err := s.d.Poses.SetPose(pose.At(fix, cur.Facing)); err != nil {
		return drift, err
	}
	s.log.Warn("position drift corrected",
		zap.Stringer("reckoned", cur.Pos()),
		zap.Stringer("fix", fix),
		zap.Stringer("drift", drift))
	return drift, nil
}

// Recover establishes a pose after a restart. It never fails: GPS with
// back-off first, then the last persisted pose, then home.
func (s *Service) Recover(ctx context.Context) (pose.Pose, Method) {
	facing := s.d.Poses.Pose().Facing
	if saved, ok := s.load(ctx, KeyPose); ok {
		facing = saved.Facing
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.cfg.InitialInterval
	eb.MaxInterval = s.cfg.MaxInterval
	fix, err := backoff.Retry(ctx, func() (pose.Vec3, error) {
		v, err := s.Locate(ctx, 0)
		if failure.CodeOf(err) == failure.CodeCancelled {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(s.cfg.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			s.log.Debug("gps retry", zap.Error(err), zap.Duration("next", next))
		}),
	)
	if err == nil {
		p := pose.At(fix, facing)
		serr := s.d.Poses.SetPose(p)
		if serr == nil {
			s.log.Info("pose recovered", zap.String("method", string(MethodGPS)), zap.Stringer("pose", p))
			return p, MethodGPS
		}
		s.log.Warn("gps fix rejected", zap.Stringer("fix", fix), zap.Error(serr))
	} else {
		s.log.Warn("gps unavailable, falling back", zap.Int("attempts", s.cfg.Attempts), zap.Error(err))
	}

	if saved, ok := s.load(ctx, KeyPose); ok {
		if err := s.d.Poses.SetPose(saved); err == nil {
			s.log.Warn("pose recovered", zap.String("method", string(MethodPersisted)), zap.Stringer("pose", saved))
			return saved, MethodPersisted
		}
	}

	home := s.d.Poses.Home()
	if saved, ok := s.load(ctx, KeyHome); ok {
		home = saved
	}
	if err := s.d.Poses.SetPose(home); err != nil {
		// The store's own home was validated when set; only a persisted one can fail.
		home = s.d.Poses.Home()
		_ = s.d.Poses.SetPose(home)
	}
	s.log.Warn("pose recovered", zap.String("method", string(MethodHomeFallback)), zap.Stringer("pose", home))
	return home, MethodHomeFallback
}

func (s *Service) load(ctx context.Context, key string) (pose.Pose, bool) {
	if s.d.State == nil {
		return pose.Pose{}, false
	}
	b, ok, err := s.d.State.Load(ctx, key)
	if err != nil {
		s.log.Warn("state load failed", zap.String("key", key), zap.Error(err))
		return pose.Pose{}, false
	}
	if !ok {
		return pose.Pose{}, false
	}
	p, err := pose.DecodeJSON(b)
	if err != nil {
		s.log.Warn("persisted pose rejected", zap.String("key", key), zap.Error(err))
		return pose.Pose{}, false
	}
	return p, true
}

// SavePose persists p under key for a later Recover.
func SavePose(ctx context.Context, st turtle.State, key string, p pose.Pose) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return st.Save(ctx, key, b)
}
