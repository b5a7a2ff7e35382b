package resilience

import (
	"sync"
	"time"
)

// HealthStatus classifies an external service's recent behavior.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// healthWindowSize caps the sliding outcome window per service.
const healthWindowSize = 100

// downConsecutiveFailures is the consecutive-failure count at which a
// service is considered down.
const downConsecutiveFailures = 3

// ServiceHealth is a point-in-time view of one service's tallies.
type ServiceHealth struct {
	Service             string       `json:"service"`
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	ErrorRate           float64      `json:"error_rate"`
	WindowSize          int          `json:"window_size"`
	LastChecked         time.Time    `json:"last_checked"`
}

type serviceState struct {
	window              []bool // true = failure; at most healthWindowSize entries
	consecutiveFailures int
	lastChecked         time.Time
}

// HealthTracker keeps per-service sliding windows of call outcomes and
// derives a three-state health status after every call:
//
//	down     — consecutive_failures ≥ 3 OR windowed error rate > 0.75
//	degraded — consecutive_failures > 0 OR windowed error rate > 0.25
//	healthy  — otherwise
type HealthTracker struct {
	mu       sync.RWMutex
	services map[string]*serviceState
	now      func() time.Time
}

// NewHealthTracker creates an empty tracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		services: make(map[string]*serviceState),
		now:      time.Now,
	}
}

// RecordSuccess records a successful call and resets consecutive failures.
func (t *HealthTracker) RecordSuccess(service string) {
	t.record(service, false)
}

// RecordFailure records a failed call.
func (t *HealthTracker) RecordFailure(service string) {
	t.record(service, true)
}

func (t *HealthTracker) record(service string, failed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.services[service]
	if !ok {
		st = &serviceState{}
		t.services[service] = st
	}

	st.window = append(st.window, failed)
	if len(st.window) > healthWindowSize {
		st.window = st.window[len(st.window)-healthWindowSize:]
	}
	if failed {
		st.consecutiveFailures++
	} else {
		st.consecutiveFailures = 0
	}
	st.lastChecked = t.now()
}

// Status returns the derived health status for a service. Unknown services
// report healthy.
func (t *HealthTracker) Status(service string) HealthStatus {
	return t.Snapshot(service).Status
}

// Snapshot returns the full health view for a service.
func (t *HealthTracker) Snapshot(service string) ServiceHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.services[service]
	if !ok {
		return ServiceHealth{Service: service, Status: HealthHealthy}
	}

	failures := 0
	for _, f := range st.window {
		if f {
			failures++
		}
	}
	var rate float64
	if len(st.window) > 0 {
		rate = float64(failures) / float64(len(st.window))
	}

	status := HealthHealthy
	switch {
	case st.consecutiveFailures >= downConsecutiveFailures || rate > 0.75:
		status = HealthDown
	case st.consecutiveFailures > 0 || rate > 0.25:
		status = HealthDegraded
	}

	return ServiceHealth{
		Service:             service,
		Status:              status,
		ConsecutiveFailures: st.consecutiveFailures,
		ErrorRate:           rate,
		WindowSize:          len(st.window),
		LastChecked:         st.lastChecked,
	}
}

// SnapshotAll returns health views for every tracked service.
func (t *HealthTracker) SnapshotAll() []ServiceHealth {
	t.mu.RLock()
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	t.mu.RUnlock()

	out := make([]ServiceHealth, 0, len(names))
	for _, name := range names {
		out = append(out, t.Snapshot(name))
	}
	return out
}
