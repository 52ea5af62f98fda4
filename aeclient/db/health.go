package db

import (
	"context"
	"sync"
	"time"

	"go-aeclient/aeclient/internal/logging"
)

// Probe checks that a backend can be reached
type Probe func(ctx context.Context) error

// HealthStatus is the result of the most recent health checks
type HealthStatus struct {
	Healthy          bool          `json:"healthy"`
	LastCheck        time.Time     `json:"last_check"`
	ResponseTime     time.Duration `json:"response_time"`
	Error            string        `json:"error,omitempty"`
	ConsecutiveFails int           `json:"consecutive_fails"`
}

// HealthChecker runs a probe on demand and tracks consecutive failures
type HealthChecker struct {
	probe  Probe
	logger logging.Logger

	timeout             time.Duration
	maxConsecutiveFails int

	mu     sync.RWMutex
	status HealthStatus
}

// NewHealthChecker creates a checker that is healthy until its first failed check
func NewHealthChecker(probe Probe, logger logging.Logger) *HealthChecker {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HealthChecker{
		probe:               probe,
		logger:              logger,
		timeout:             30 * time.Second,
		maxConsecutiveFails: 1,
		status:              HealthStatus{Healthy: true},
	}
}

// Check runs the probe once, bounded by the timeout, and returns its error
func (hc *HealthChecker) Check(ctx context.Context) error {
	if hc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hc.timeout)
		defer cancel()
	}

	start := time.Now()
	err := hc.probe(ctx)
	responseTime := time.Since(start)

	hc.mu.Lock()
	defer hc.mu.Unlock()

	hc.status.LastCheck = time.Now()
	hc.status.ResponseTime = responseTime

	if err != nil {
		hc.status.ConsecutiveFails++
		hc.status.Error = err.Error()

		if hc.status.ConsecutiveFails >= hc.maxConsecutiveFails {
			if hc.status.Healthy {
				hc.logger.Error("Backend marked as unhealthy",
					logging.Int("consecutive_fails", hc.status.ConsecutiveFails),
					logging.ErrorField(err),
				)
			}
			hc.status.Healthy = false
		}

		hc.logger.Warn("Health check failed",
			logging.Int("consecutive_fails", hc.status.ConsecutiveFails),
			logging.Duration("response_time", responseTime),
			logging.ErrorField(err),
		)
		return err
	}

	if hc.status.ConsecutiveFails > 0 || !hc.status.Healthy {
		hc.logger.Info("Backend health restored",
			logging.Int("previous_consecutive_fails", hc.status.ConsecutiveFails),
			logging.Duration("response_time", responseTime),
		)
	}

	hc.status.Healthy = true
	hc.status.ConsecutiveFails = 0
	hc.status.Error = ""

	hc.logger.Debug("Health check passed", logging.Duration("response_time", responseTime))
	return nil
}

// IsHealthy returns the current health status
func (hc *HealthChecker) IsHealthy() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status.Healthy
}

// GetStatus returns the detailed health status
func (hc *HealthChecker) GetStatus() HealthStatus {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.status
}

// SetTimeout sets the bound on a single probe; zero leaves it to the caller's context
func (hc *HealthChecker) SetTimeout(timeout time.Duration) {
	hc.timeout = timeout
}

// SetMaxConsecutiveFails sets how many failed checks mark the backend unhealthy
func (hc *HealthChecker) SetMaxConsecutiveFails(maxFails int) {
	hc.maxConsecutiveFails = maxFails
}
