package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/nav/pose"
)

// Mission is a YAML list of steps run in order:
//
//	steps:
//	  - goto: [10, 60, -4]
//	    facing: east
//	  - backtrack: 3
//	  - face: north
//	  - home: true
type Mission struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

type Step struct {
	Goto      *[3]int  `yaml:"goto,omitempty"`
	Facing    string   `yaml:"facing,omitempty"`
	Avoid     [][3]int `yaml:"avoid,omitempty"`
	Home      bool     `yaml:"home,omitempty"`
	Backtrack int      `yaml:"backtrack,omitempty"`
	Face      string   `yaml:"face,omitempty"`
	SetHome   bool     `yaml:"set_home,omitempty"`
}

func (s Step) kind() string {
	var kinds []string
	if s.Goto != nil {
		kinds = append(kinds, "goto")
	}
	if s.Home {
		kinds = append(kinds, "home")
	}
	if s.Backtrack > 0 {
		kinds = append(kinds, "backtrack")
	}
	if s.Face != "" {
		kinds = append(kinds, "face")
	}
	if s.SetHome {
		kinds = append(kinds, "set_home")
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func LoadMission(path string) (Mission, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Mission{}, err
	}
	return ParseMission(raw)
}

func ParseMission(raw []byte) (Mission, error) {
	var m Mission
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("mission: %w", err)
	}
	if len(m.Steps) == 0 {
		return m, errors.New("mission: no steps")
	}
	for i, s := range m.Steps {
		if s.kind() == "" {
			return m, fmt.Errorf("mission: step %d must name exactly one of goto, home, backtrack, face, set_home", i+1)
		}
		if s.Facing != "" {
			if _, ok := pose.ParseFacing(s.Facing); !ok {
				return m, fmt.Errorf("mission: step %d: facing %q", i+1, s.Facing)
			}
			if s.Goto == nil {
				return m, fmt.Errorf("mission: step %d: facing only applies to goto", i+1)
			}
		}
		if s.Face != "" {
			if _, ok := pose.ParseFacing(s.Face); !ok {
				return m, fmt.Errorf("mission: step %d: face %q", i+1, s.Face)
			}
		}
	}
	return m, nil
}

// RunMission executes the steps, stopping at the first failure. A goto that
// was diverted home counts as a failure.
func RunMission(ctx context.Context, nav *navigator.Navigator, m Mission, log *zap.Logger) error {
	for i, s := range m.Steps {
		log := log.With(zap.Int("step", i+1), zap.String("kind", s.kind()))
		if err := runStep(ctx, nav, s, log); err != nil {
			log.Error("step failed", zap.Error(err))
			return fmt.Errorf("step %d (%s): %w", i+1, s.kind(), err)
		}
		log.Info("step done", zap.Stringer("pose", nav.Position()))
	}
	return nil
}

func runStep(ctx context.Context, nav *navigator.Navigator, s Step, log *zap.Logger) error {
	switch s.kind() {
	case "goto":
		opts := navigator.MoveOptions{}
		if s.Facing != "" {
			f, _ := pose.ParseFacing(s.Facing)
			opts.Facing = &f
		}
		if len(s.Avoid) > 0 {
			opts.Avoid = make(map[pose.Vec3]struct{}, len(s.Avoid))
			for _, a := range s.Avoid {
				opts.Avoid[pose.Vec3{X: a[0], Y: a[1], Z: a[2]}] = struct{}{}
			}
		}
		target := pose.Vec3{X: s.Goto[0], Y: s.Goto[1], Z: s.Goto[2]}
		res, err := nav.MoveTo(ctx, target, opts)
		log.Debug("route", zap.Int("moves", res.Moves), zap.Int("replans", res.Replans), zap.Bool("diverted", res.Diverted))
		return err
	case "home":
		_, err := nav.MoveTo(ctx, nav.Home().Pos(), navigator.MoveOptions{Facing: ptr(nav.Home().Facing)})
		return err
	case "backtrack":
		done, err := nav.Backtrack(ctx, s.Backtrack)
		log.Debug("backtracked", zap.Int("steps", done))
		return err
	case "face":
		f, _ := pose.ParseFacing(s.Face)
		return nav.Face(ctx, f)
	case "set_home":
		return nav.SetHome(ctx, nil)
	}
	return fmt.Errorf("unknown step")
}

func ptr[T any](v T) *T { return &v }
