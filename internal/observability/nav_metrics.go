// Package observability exposes navigation metrics to Prometheus.
package observability

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"turtlecraft.ai/internal/nav/pose"
)

// NavCollector implements the observer hooks of the planner, executor,
// emergency controller and navigator. All methods are nil-safe.
type NavCollector struct {
	gatherer prometheus.Gatherer

	MovesTotal      *prometheus.CounterVec
	PlanDuration    *prometheus.HistogramVec
	PlanIterations  prometheus.Histogram
	CacheLookups    *prometheus.CounterVec
	RoutesTotal     *prometheus.CounterVec
	ReplansTotal    prometheus.Counter
	Emergencies     *prometheus.CounterVec
	EmergencyActive prometheus.Gauge
	Position        *prometheus.GaugeVec
	FuelLevel       prometheus.Gauge
}

func NewNavCollector(reg prometheus.Registerer) (*NavCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	moves, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_moves_total",
		Help: "Movement primitives by action and outcome code.",
	}, []string{"action", "outcome"}), "nav_moves_total")
	if err != nil {
		return nil, err
	}
	planDur, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nav_plan_duration_seconds",
		Help:    "A* search duration by outcome.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"outcome"}), "nav_plan_duration_seconds")
	if err != nil {
		return nil, err
	}
	planIter, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "nav_plan_iterations",
		Help:    "Nodes expanded per A* search.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 9),
	}), "nav_plan_iterations")
	if err != nil {
		return nil, err
	}
	cache, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_plan_cache_lookups_total",
		Help: "Plan cache lookups by result.",
	}, []string{"result"}), "nav_plan_cache_lookups_total")
	if err != nil {
		return nil, err
	}
	routes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_routes_total",
		Help: "MoveTo calls by outcome.",
	}, []string{"outcome"}), "nav_routes_total")
	if err != nil {
		return nil, err
	}
	replans, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "nav_replans_total",
		Help: "Routes re-planned around an obstruction.",
	}), "nav_replans_total")
	if err != nil {
		return nil, err
	}
	emergencies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nav_emergencies_total",
		Help: "Emergency activations by trigger kind.",
	}, []string{"kind"}), "nav_emergencies_total")
	if err != nil {
		return nil, err
	}
	active, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nav_emergency_active",
		Help: "1 while the emergency controller is active.",
	}), "nav_emergency_active")
	if err != nil {
		return nil, err
	}
	position, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nav_position",
		Help: "Current dead-reckoned position by axis.",
	}, []string{"axis"}), "nav_position")
	if err != nil {
		return nil, err
	}
	fuel, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "nav_fuel_level",
		Help: "Last reported fuel level; -1 when unlimited.",
	}), "nav_fuel_level")
	if err != nil {
		return nil, err
	}

	return &NavCollector{
		gatherer:        gatherer,
		MovesTotal:      moves,
		PlanDuration:    planDur,
		PlanIterations:  planIter,
		CacheLookups:    cache,
		RoutesTotal:     routes,
		ReplansTotal:    replans,
		Emergencies:     emergencies,
		EmergencyActive: active,
		Position:        position,
		FuelLevel:       fuel,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *NavCollector) Handler() http.Handler {
	gatherer := prometheus.DefaultGatherer
	if c != nil && c.gatherer != nil {
		gatherer = c.gatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func (c *NavCollector) ObserveMove(action, outcome string) {
	if c == nil || c.MovesTotal == nil {
		return
	}
	c.MovesTotal.WithLabelValues(action, outcome).Inc()
}

func (c *NavCollector) ObservePlan(outcome string, d time.Duration, iterations int) {
	if c == nil {
		return
	}
	if c.PlanDuration != nil {
		c.PlanDuration.WithLabelValues(outcome).Observe(d.Seconds())
	}
	if c.PlanIterations != nil && iterations > 0 {
		c.PlanIterations.Observe(float64(iterations))
	}
}

func (c *NavCollector) ObserveCacheLookup(hit bool) {
	if c == nil || c.CacheLookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(result).Inc()
}

func (c *NavCollector) ObserveRoute(outcome string, replans int) {
	if c == nil {
		return
	}
	if c.RoutesTotal != nil {
		c.RoutesTotal.WithLabelValues(outcome).Inc()
	}
	if c.ReplansTotal != nil && replans > 0 {
		c.ReplansTotal.Add(float64(replans))
	}
}

func (c *NavCollector) ObserveEmergency(active bool, reason string) {
	if c == nil {
		return
	}
	if c.EmergencyActive != nil {
		if active {
			c.EmergencyActive.Set(1)
		} else {
			c.EmergencyActive.Set(0)
		}
	}
	if active && c.Emergencies != nil {
		c.Emergencies.WithLabelValues(ReasonKind(reason)).Inc()
	}
}

// SetPose and SetFuel are driven by the status loop.
func (c *NavCollector) SetPose(p pose.Pose) {
	if c == nil || c.Position == nil {
		return
	}
	c.Position.WithLabelValues("x").Set(float64(p.X))
	c.Position.WithLabelValues("y").Set(float64(p.Y))
	c.Position.WithLabelValues("z").Set(float64(p.Z))
}

func (c *NavCollector) SetFuel(level int, unlimited bool) {
	if c == nil || c.FuelLevel == nil {
		return
	}
	if unlimited {
		c.FuelLevel.Set(-1)
		return
	}
	c.FuelLevel.Set(float64(level))
}

// ReasonKind reduces an emergency reason to a bounded label value.
func ReasonKind(reason string) string {
	if i := strings.IndexByte(reason, ':'); i >= 0 {
		reason = reason[:i]
	}
	reason = strings.TrimSpace(strings.ToLower(reason))
	if reason == "" {
		return "unknown"
	}
	return strings.ReplaceAll(reason, " ", "_")
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
