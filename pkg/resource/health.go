// pkg/resource/health.go
package resource

import (
	"context"
	"fmt"
)

// SupervisorHealthCheck reports unhealthy when the heap is over its limit
// or the task budget is more than 80% used
type SupervisorHealthCheck struct {
	supervisor *Supervisor
}

// NewSupervisorHealthCheck creates a readiness check over s
func NewSupervisorHealthCheck(s *Supervisor) *SupervisorHealthCheck {
	return &SupervisorHealthCheck{supervisor: s}
}

// Name returns the name of this health check.
func (c *SupervisorHealthCheck) Name() string {
	return "resource"
}

// Check verifies heap and task usage
func (c *SupervisorHealthCheck) Check(ctx context.Context) error {
	stats := c.supervisor.Stats()
	if stats.HeapMB > stats.MaxMemoryMB {
		return fmt.Errorf("heap %dMB exceeds limit %dMB", stats.HeapMB, stats.MaxMemoryMB)
	}
	threshold := stats.MaxTasks * 8 / 10
	if stats.ActiveTasks > threshold {
		return fmt.Errorf("%d tasks running, over 80%% of %d", stats.ActiveTasks, stats.MaxTasks)
	}
	return nil
}
