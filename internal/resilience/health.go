package resilience

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ComponentStatus is the outcome of the last probe of a component.
type ComponentStatus string

const (
	StatusUnknown   ComponentStatus = "unknown"
	StatusHealthy   ComponentStatus = "healthy"
	StatusUnhealthy ComponentStatus = "unhealthy"
	StatusError     ComponentStatus = "error"
)

// Probe reports whether a component is healthy. An error counts as unhealthy.
type Probe func(ctx context.Context) (bool, error)

// ComponentHealth describes one registered component.
type ComponentHealth struct {
	Healthy   bool            `json:"healthy"`
	Critical  bool            `json:"critical"`
	Status    ComponentStatus `json:"status"`
	Error     string          `json:"error,omitempty"`
	LastCheck *time.Time      `json:"last_check,omitempty"`
}

// HealthReport is the aggregate of a full check.
type HealthReport struct {
	OverallHealthy bool                       `json:"overall_healthy"`
	Components     map[string]ComponentHealth `json:"components"`
	LastCheck      *time.Time                 `json:"last_check,omitempty"`
}

// HealthOption configures a HealthRegistry.
type HealthOption func(*HealthRegistry)

// WithHealthClock overrides the time source.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthRegistry) { h.now = now }
}

// WithHealthLogger sets the logger.
func WithHealthLogger(l logrus.FieldLogger) HealthOption {
	return func(h *HealthRegistry) { h.logger = l }
}

// WithHealthObserver is called after every probe.
func WithHealthObserver(fn func(name string, healthy, critical bool)) HealthOption {
	return func(h *HealthRegistry) { h.observers = append(h.observers, fn) }
}

type component struct {
	probe     Probe
	critical  bool
	status    ComponentStatus
	err       string
	lastCheck time.Time
}

// HealthRegistry holds named component probes. The system is unhealthy
// overall iff a critical component's probe fails.
type HealthRegistry struct {
	now       func() time.Time
	logger    logrus.FieldLogger
	observers []func(name string, healthy, critical bool)

	mu         sync.Mutex
	components map[string]*component
	lastCheck  time.Time
}

// NewHealthRegistry creates an empty registry.
func NewHealthRegistry(opts ...HealthOption) *HealthRegistry {
	h := &HealthRegistry{now: time.Now, components: make(map[string]*component)}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = discardLogger()
	}
	return h
}

// Register adds or replaces a component probe.
func (h *HealthRegistry) Register(name string, probe Probe, critical bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.components[name] = &component{probe: probe, critical: critical, status: StatusUnknown}
}

// CheckComponent probes one component. Unknown names are unhealthy.
func (h *HealthRegistry) CheckComponent(ctx context.Context, name string) bool {
	h.mu.Lock()
	c, ok := h.components[name]
	h.mu.Unlock()
	if !ok {
		return false
	}

	healthy, err := safeProbe(ctx, c.probe)
	now := h.now()

	h.mu.Lock()
	c.lastCheck = now
	switch {
	case err != nil:
		healthy = false
		c.status = StatusError
		c.err = err.Error()
	case healthy:
		c.status = StatusHealthy
		c.err = ""
	default:
		c.status = StatusUnhealthy
		c.err = ""
	}
	critical := c.critical
	h.mu.Unlock()

	if err != nil {
		h.logger.WithField("component", name).WithError(err).Error("health check failed")
	}
	for _, fn := range h.observers {
		fn(name, healthy, critical)
	}
	return healthy
}

// CheckAll probes every component in name order.
func (h *HealthRegistry) CheckAll(ctx context.Context) HealthReport {
	names := h.names()
	report := HealthReport{OverallHealthy: true, Components: make(map[string]ComponentHealth, len(names))}
	for _, name := range names {
		healthy := h.CheckComponent(ctx, name)
		ch, ok := h.component(name)
		if !ok {
			continue
		}
		ch.Healthy = healthy
		report.Components[name] = ch
		if !healthy && ch.Critical {
			report.OverallHealthy = false
		}
	}

	h.mu.Lock()
	h.lastCheck = h.now()
	at := h.lastCheck
	h.mu.Unlock()
	report.LastCheck = &at
	return report
}

// Status returns the last recorded results without probing.
func (h *HealthRegistry) Status() HealthReport {
	report := HealthReport{OverallHealthy: true, Components: make(map[string]ComponentHealth)}
	for _, name := range h.names() {
		ch, ok := h.component(name)
		if !ok {
			continue
		}
		report.Components[name] = ch
		if ch.Critical && ch.Status != StatusHealthy && ch.Status != StatusUnknown {
			report.OverallHealthy = false
		}
	}
	h.mu.Lock()
	if !h.lastCheck.IsZero() {
		at := h.lastCheck
		report.LastCheck = &at
	}
	h.mu.Unlock()
	return report
}

func (h *HealthRegistry) names() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *HealthRegistry) component(name string) (ComponentHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.components[name]
	if !ok {
		return ComponentHealth{}, false
	}
	ch := ComponentHealth{
		Healthy:  c.status == StatusHealthy,
		Critical: c.critical,
		Status:   c.status,
		Error:    c.err,
	}
	if !c.lastCheck.IsZero() {
		at := c.lastCheck
		ch.LastCheck = &at
	}
	return ch, true
}

func safeProbe(ctx context.Context, p Probe) (healthy bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			healthy, err = false, fmt.Errorf("probe panic: %v", r)
		}
	}()
	return p(ctx)
}
