// Package health serves liveness and readiness probes for the simulation
// server and defines the component checks behind them.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Probe paths
const (
	LivenessPath  = "/health"
	ReadinessPath = "/ready"
)

// HealthCheck is one component's view of its own health
type HealthCheck interface {
	Name() string
	// Check returns an error describing why the component is unhealthy
	Check(ctx context.Context) error
}

// HealthStatus is the aggregated result of all checks
type HealthStatus struct {
	Status string                     `json:"status"`
	Checks map[string]ComponentHealth `json:"checks"`
}

// ComponentHealth is the result of a single check
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthChecker runs registered checks
type HealthChecker struct {
	checks  map[string]HealthCheck
	timeout time.Duration
	mu      sync.RWMutex
}

// NewHealthChecker creates a checker with a 5 second readiness timeout
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]HealthCheck),
		timeout: 5 * time.Second,
	}
}

// AddCheck registers check, replacing any check with the same name
func (hc *HealthChecker) AddCheck(check HealthCheck) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[check.Name()] = check
}

// RemoveCheck removes a health check by name.
func (hc *HealthChecker) RemoveCheck(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	delete(hc.checks, name)
}

// Names returns the registered check names in sorted order
func (hc *HealthChecker) Names() []string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	names := make([]string, 0, len(hc.checks))
	for name := range hc.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckHealth runs every check. The result is healthy only if all pass.
func (hc *HealthChecker) CheckHealth(ctx context.Context) HealthStatus {
	hc.mu.RLock()
	checks := make([]HealthCheck, 0, len(hc.checks))
	for _, check := range hc.checks {
		checks = append(checks, check)
	}
	hc.mu.RUnlock()

	status := HealthStatus{
		Status: "healthy",
		Checks: make(map[string]ComponentHealth, len(checks)),
	}
	for _, check := range checks {
		if err := check.Check(ctx); err != nil {
			status.Status = "unhealthy"
			status.Checks[check.Name()] = ComponentHealth{Status: "unhealthy", Message: err.Error()}
			continue
		}
		status.Checks[check.Name()] = ComponentHealth{Status: "healthy"}
	}
	return status
}

// LivenessHandler answers 200 while the process can serve HTTP
func (hc *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

// ReadinessHandler runs all checks and answers 200 or 503 with the details
func (hc *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), hc.timeout)
	defer cancel()

	health := hc.CheckHealth(ctx)

	w.Header().Set("Content-Type", "application/json")
	if health.Status == "healthy" {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(health)
}

// Register mounts both probes on mux
func (hc *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc(LivenessPath, hc.LivenessHandler)
	mux.HandleFunc(ReadinessPath, hc.ReadinessHandler)
}

// SessionHealthCheck fails while the simulation session is not running
type SessionHealthCheck struct {
	running func() bool
}

// NewSessionHealthCheck creates a check over the session's running state
func NewSessionHealthCheck(running func() bool) *SessionHealthCheck {
	return &SessionHealthCheck{running: running}
}

// Name returns the name of this health check.
func (s *SessionHealthCheck) Name() string {
	return "session"
}

// Check fails unless the session is stepping
func (s *SessionHealthCheck) Check(ctx context.Context) error {
	if !s.running() {
		return fmt.Errorf("simulation session is not running")
	}
	return nil
}

// DepthSafetyCheck fails while the depth safety lock holds the vessel
type DepthSafetyCheck struct {
	status func() (locked bool, depth float64)
}

// NewDepthSafetyCheck creates a check over the vessel's lock state and depth
func NewDepthSafetyCheck(status func() (locked bool, depth float64)) *DepthSafetyCheck {
	return &DepthSafetyCheck{status: status}
}

// Name returns the name of this health check.
func (d *DepthSafetyCheck) Name() string {
	return "depth_safety"
}

// Check fails while movement is locked awaiting a resume
func (d *DepthSafetyCheck) Check(ctx context.Context) error {
	if locked, depth := d.status(); locked {
		return fmt.Errorf("movement locked at depth %.2fm, awaiting resume", depth)
	}
	return nil
}

// NetworkHealthCheck fails when the helm listener is not bound
type NetworkHealthCheck struct {
	listenerAddr func() string
}

// NewNetworkHealthCheck creates a check over the listener address
func NewNetworkHealthCheck(listenerAddr func() string) *NetworkHealthCheck {
	return &NetworkHealthCheck{listenerAddr: listenerAddr}
}

// Name returns the name of this health check.
func (n *NetworkHealthCheck) Name() string {
	return "network"
}

// Check fails when no listener address is reported
func (n *NetworkHealthCheck) Check(ctx context.Context) error {
	if n.listenerAddr() == "" {
		return fmt.Errorf("helm listener is not active")
	}
	return nil
}

// MemoryHealthCheck fails when heap usage passes a limit
type MemoryHealthCheck struct {
	maxMemoryMB    int64
	getMemoryUsage func() int64
}

// NewMemoryHealthCheck creates a check comparing getMemoryUsage to maxMemoryMB
func NewMemoryHealthCheck(maxMemoryMB int64, getMemoryUsage func() int64) *MemoryHealthCheck {
	return &MemoryHealthCheck{
		maxMemoryMB:    maxMemoryMB,
		getMemoryUsage: getMemoryUsage,
	}
}

// Name returns the name of this health check.
func (m *MemoryHealthCheck) Name() string {
	return "memory"
}

// Check fails above the memory limit
func (m *MemoryHealthCheck) Check(ctx context.Context) error {
	if currentMB := m.getMemoryUsage(); currentMB > m.maxMemoryMB {
		return fmt.Errorf("memory usage %dMB exceeds limit %dMB", currentMB, m.maxMemoryMB)
	}
	return nil
}

// PingHealthCheck wraps a dependency's ping, such as the dive log database
type PingHealthCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingHealthCheck creates a named check from a ping function
func NewPingHealthCheck(name string, ping func(ctx context.Context) error) *PingHealthCheck {
	return &PingHealthCheck{name: name, ping: ping}
}

// Name returns the name of this health check.
func (p *PingHealthCheck) Name() string {
	return p.name
}

// Check returns the ping error
func (p *PingHealthCheck) Check(ctx context.Context) error {
	return p.ping(ctx)
}
