package monitoring

import (
	"context"
	"sync"
	"time"

	"comlink/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// HealthChecker runs named dependency probes on demand. Checks are evaluated
// when a health endpoint is hit; there is no background polling.
type HealthChecker struct {
	mu     sync.RWMutex
	checks []healthCheck
}

type healthCheck struct {
	name    string
	probe   func(ctx context.Context) error
	timeout time.Duration
}

// HealthStatus is the JSON body of the health endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// AddCheck registers a probe under a name. The probe gets its own timeout.
func (h *HealthChecker) AddCheck(name string, timeout time.Duration, probe func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, healthCheck{name: name, probe: probe, timeout: timeout})
}

// AddRedisCheck probes the Redis connection backing the alert archive and
// cross-instance event bus.
func (h *HealthChecker) AddRedisCheck(client *redis.Client, timeout time.Duration) {
	h.AddCheck("redis", timeout, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// AddAlertArchiveCheck probes the alert repository with a one-row read.
func (h *HealthChecker) AddAlertArchiveCheck(repo ports.AlertRepository, timeout time.Duration) {
	h.AddCheck("alert_archive", timeout, func(ctx context.Context) error {
		_, err := repo.History(ctx, "healthcheck", 1)
		return err
	})
}

// CheckAll evaluates every registered probe. A single failing probe marks the
// whole status unhealthy but the remaining probes still run, so the response
// names every broken dependency.
func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := make([]healthCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.timeout)
		err := check.probe(checkCtx)
		cancel()

		if err != nil {
			status.Status = "unhealthy"
			status.Checks[check.name] = err.Error()
		} else {
			status.Checks[check.name] = "healthy"
		}
	}
	return status
}

// IsReady reports whether every dependency probe passes.
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckAll(ctx).Status == "healthy"
}
