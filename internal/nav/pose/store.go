package pose

import "sync"

// Store owns the agent's pose and home. Reads return copies; writes are
// validated and atomic, so a background reader never sees a half-updated pose.
type Store struct {
	mu     sync.RWMutex
	pose   Pose
	home   Pose
	limits Limits
}

// NewStore seeds the store with the boot pose, which is also the initial home.
func NewStore(boot Pose, limits Limits) (*Store, error) {
	limits = limits.Narrow()
	if err := Validate(boot, limits); err != nil {
		return nil, err
	}
	return &Store{pose: boot, home: boot, limits: limits}, nil
}

func (s *Store) Pose() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pose
}

func (s *Store) Home() Pose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.home
}

func (s *Store) Limits() Limits { return s.limits }

func (s *Store) SetPose(p Pose) error {
	if err := Validate(p, s.limits); err != nil {
		return err
	}
	s.mu.Lock()
	s.pose = p
	s.mu.Unlock()
	return nil
}

func (s *Store) SetPoseFields(fields map[string]any) error {
	p, err := FromFields(fields)
	if err != nil {
		return err
	}
	return s.SetPose(p)
}

// SetHome stores p as home; nil means the current pose.
func (s *Store) SetHome(p *Pose) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.pose
	if p != nil {
		h = *p
	}
	if err := Validate(h, s.limits); err != nil {
		return err
	}
	s.home = h
	return nil
}
