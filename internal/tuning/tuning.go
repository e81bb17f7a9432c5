// Package tuning loads the turtle's YAML configuration.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"turtlecraft.ai/internal/logging"
	"turtlecraft.ai/internal/nav/boundary"
	"turtlecraft.ai/internal/nav/emergency"
	"turtlecraft.ai/internal/nav/history"
	"turtlecraft.ai/internal/nav/navigator"
	"turtlecraft.ai/internal/nav/pathfind"
	"turtlecraft.ai/internal/nav/pose"
	"turtlecraft.ai/internal/nav/positioning"
	"turtlecraft.ai/internal/sim/voxel"
)

type Tuning struct {
	Home        HomeSpec        `yaml:"home"`
	Boundary    BoundarySpec    `yaml:"boundary"`
	History     HistorySpec     `yaml:"history"`
	Pathfind    PathfindSpec    `yaml:"pathfind"`
	Emergency   EmergencySpec   `yaml:"emergency"`
	GPS         GPSSpec         `yaml:"gps"`
	Persistence PersistenceSpec `yaml:"persistence"`
	Link        LinkSpec        `yaml:"link"`
	Metrics     MetricsSpec     `yaml:"metrics"`
	Logging     logging.Config  `yaml:"logging"`
	Sim         SimSpec         `yaml:"sim"`
}

type HomeSpec struct {
	X      int    `yaml:"x"`
	Y      int    `yaml:"y"`
	Z      int    `yaml:"z"`
	Facing string `yaml:"facing"`
}

type BoundarySpec struct {
	SafetyRadius int    `yaml:"safety_radius"`
	Metric       string `yaml:"metric"`
	MinY         int    `yaml:"min_y"`
	MaxY         int    `yaml:"max_y"`
}

type HistorySpec struct {
	Capacity          int `yaml:"capacity"`
	PacingWindow      int `yaml:"pacing_window"`
	PacingMaxDistinct int `yaml:"pacing_max_distinct"`
}

type PathfindSpec struct {
	MaxIterations int `yaml:"max_iterations"`
	TurnCost      int `yaml:"turn_cost"`
	CacheSize     int `yaml:"cache_size"`
}

type EmergencySpec struct {
	FuelSafetyMargin        float64 `yaml:"fuel_safety_margin"`
	FuelReserve             int     `yaml:"fuel_reserve"`
	HazardSeverityThreshold int     `yaml:"hazard_severity_threshold"`
	ReplanBudget            int     `yaml:"replan_budget"`
}

type GPSSpec struct {
	TimeoutMs        int `yaml:"timeout_ms"`
	Attempts         int `yaml:"attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

type PersistenceSpec struct {
	StateDB     string `yaml:"state_db"`
	KeepBackups int    `yaml:"keep_backups"`
	TrailDir    string `yaml:"trail_dir"`
}

type LinkSpec struct {
	URL              string `yaml:"url"`
	ListenAddr       string `yaml:"listen_addr"`
	RequestTimeoutMs int    `yaml:"request_timeout_ms"`
}

type MetricsSpec struct {
	Addr string `yaml:"addr"`
}

// SimSpec configures the in-process voxel world used by sim-host and --sim.
type SimSpec struct {
	Fuel    int           `yaml:"fuel"`
	Terrain voxel.Terrain `yaml:"terrain"`
}

func Defaults() Tuning {
	return Tuning{
		Home:     HomeSpec{X: 0, Y: 64, Z: 0, Facing: "north"},
		Boundary: BoundarySpec{SafetyRadius: 256, Metric: string(boundary.MetricEuclidean), MinY: pose.WorldMinY, MaxY: pose.WorldMaxY},
		History:  HistorySpec{Capacity: history.DefaultCapacity, PacingWindow: 32, PacingMaxDistinct: 4},
		Pathfind: PathfindSpec{
			MaxIterations: pathfind.DefaultMaxIterations,
			TurnCost:      pathfind.DefaultTurnCost,
			CacheSize:     pathfind.DefaultCacheSize,
		},
		Emergency: EmergencySpec{
			FuelSafetyMargin:        1.2,
			FuelReserve:             10,
			HazardSeverityThreshold: 5,
			ReplanBudget:            3,
		},
		GPS:         GPSSpec{TimeoutMs: 2000, Attempts: 3, InitialBackoffMs: 250, MaxBackoffMs: 2000},
		Persistence: PersistenceSpec{StateDB: "data/nav.sqlite", KeepBackups: 3, TrailDir: "data/trail"},
		Link:        LinkSpec{URL: "ws://127.0.0.1:8765/turtle", ListenAddr: ":8765", RequestTimeoutMs: 10000},
		Metrics:     MetricsSpec{Addr: ":9108"},
		Logging:     logging.Config{Level: "info", Format: "json"},
		Sim:         SimSpec{Fuel: 1000, Terrain: voxel.DefaultTerrain(1)},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("turtle.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("turtle.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	t.Home.Facing = strings.ToLower(strings.TrimSpace(t.Home.Facing))
	if t.Home.Facing == "" {
		t.Home.Facing = "north"
	}
	t.Boundary.Metric = strings.ToLower(strings.TrimSpace(t.Boundary.Metric))
	if t.Boundary.Metric == "" {
		t.Boundary.Metric = string(boundary.MetricEuclidean)
	}
	if t.Boundary.MinY == 0 && t.Boundary.MaxY == 0 {
		t.Boundary.MinY, t.Boundary.MaxY = pose.WorldMinY, pose.WorldMaxY
	}
	if t.History.Capacity <= 0 {
		t.History.Capacity = history.DefaultCapacity
	}
	if t.Emergency.FuelSafetyMargin == 0 {
		t.Emergency.FuelSafetyMargin = 1
	}
	if t.GPS.Attempts <= 0 {
		t.GPS.Attempts = 1
	}
}

func (t Tuning) Validate() error {
	var errs []error
	if _, ok := pose.ParseFacing(t.Home.Facing); !ok {
		errs = append(errs, fmt.Errorf("home.facing %q is not a heading", t.Home.Facing))
	}
	switch boundary.Metric(t.Boundary.Metric) {
	case boundary.MetricEuclidean, boundary.MetricChebyshev:
	default:
		errs = append(errs, fmt.Errorf("boundary.metric %q: want euclidean or chebyshev", t.Boundary.Metric))
	}
	if t.Boundary.SafetyRadius < 0 {
		errs = append(errs, fmt.Errorf("boundary.safety_radius must be >= 0"))
	}
	if t.Boundary.MinY > t.Boundary.MaxY {
		errs = append(errs, fmt.Errorf("boundary.min_y %d above max_y %d", t.Boundary.MinY, t.Boundary.MaxY))
	}
	if t.Boundary.MinY < pose.WorldMinY || t.Boundary.MaxY > pose.WorldMaxY {
		errs = append(errs, fmt.Errorf("boundary y range [%d,%d] exceeds world [%d,%d]", t.Boundary.MinY, t.Boundary.MaxY, pose.WorldMinY, pose.WorldMaxY))
	}
	if t.Home.Y < t.Boundary.MinY || t.Home.Y > t.Boundary.MaxY {
		errs = append(errs, fmt.Errorf("home.y %d outside boundary y range", t.Home.Y))
	}
	if t.Emergency.FuelSafetyMargin < 1 {
		errs = append(errs, fmt.Errorf("emergency.fuel_safety_margin %.2f must be >= 1", t.Emergency.FuelSafetyMargin))
	}
	if t.Emergency.FuelReserve < 0 || t.Emergency.ReplanBudget < 0 {
		errs = append(errs, fmt.Errorf("emergency.fuel_reserve and replan_budget must be >= 0"))
	}
	if t.Pathfind.MaxIterations < 0 || t.Pathfind.TurnCost < 0 || t.Pathfind.CacheSize < 0 {
		errs = append(errs, fmt.Errorf("pathfind values must be >= 0"))
	}
	if t.Sim.Fuel < 0 {
		errs = append(errs, fmt.Errorf("sim.fuel must be >= 0"))
	}
	if t.GPS.TimeoutMs < 0 || t.GPS.InitialBackoffMs < 0 || t.GPS.MaxBackoffMs < 0 {
		errs = append(errs, fmt.Errorf("gps durations must be >= 0"))
	}
	return errors.Join(errs...)
}

func (t Tuning) HomePose() pose.Pose {
	f, _ := pose.ParseFacing(t.Home.Facing)
	return pose.Pose{X: t.Home.X, Y: t.Home.Y, Z: t.Home.Z, Facing: f}
}

func (t Tuning) Navigator() navigator.Config {
	return navigator.Config{
		Boundary: boundary.Config{
			SafetyRadius: t.Boundary.SafetyRadius,
			Metric:       boundary.Metric(t.Boundary.Metric),
			Limits:       pose.Limits{MinY: t.Boundary.MinY, MaxY: t.Boundary.MaxY},
		},
		Pathfind: pathfind.Config{
			MaxIterations: t.Pathfind.MaxIterations,
			TurnCost:      t.Pathfind.TurnCost,
			CacheSize:     t.Pathfind.CacheSize,
		},
		Emergency: emergency.Config{
			FuelSafetyMargin:        t.Emergency.FuelSafetyMargin,
			FuelReserve:             t.Emergency.FuelReserve,
			HazardSeverityThreshold: t.Emergency.HazardSeverityThreshold,
			ReplanBudget:            t.Emergency.ReplanBudget,
		},
		Positioning: positioning.Config{
			Timeout:         ms(t.GPS.TimeoutMs),
			Attempts:        t.GPS.Attempts,
			InitialInterval: ms(t.GPS.InitialBackoffMs),
			MaxInterval:     ms(t.GPS.MaxBackoffMs),
		},
		HistoryCapacity:   t.History.Capacity,
		PacingWindow:      t.History.PacingWindow,
		PacingMaxDistinct: t.History.PacingMaxDistinct,
	}
}

func (t Tuning) LinkTimeout() time.Duration { return ms(t.Link.RequestTimeoutMs) }

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
