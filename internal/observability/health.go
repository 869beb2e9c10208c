package observability

import (
	"context"
	"log/slog"
	"time"
)

const defaultCheckTimeout = 10 * time.Second

// HealthChecker runs named preflight checks, e.g. for `vaultchat validate`.
type HealthChecker struct {
	checks  []HealthCheck
	timeout time.Duration
	logger  *slog.Logger
}

// HealthCheck is a named dependency check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus is the aggregate result of all checks.
type HealthStatus struct {
	Status string        `json:"status"` // "ok" or "degraded"
	Checks []CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (s HealthStatus) OK() bool { return s.Status == "ok" }

// CheckResult is the status of a single check.
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`            // "ok" or "fail"
	Message string `json:"message,omitempty"` // Error message on failure.
	Err     error  `json:"-"`
}

// NewHealthChecker creates a HealthChecker with no checks registered.
// timeout bounds all checks together; 0 uses the default.
func NewHealthChecker(timeout time.Duration, logger *slog.Logger) *HealthChecker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &HealthChecker{timeout: timeout, logger: logger}
}

// AddCheck registers a named check. Checks run in registration order.
func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error) {
	h.checks = append(h.checks, HealthCheck{Name: name, Check: check})
}

// Run executes all registered checks and returns aggregate status.
// Returns "ok" only if all checks pass; "degraded" if any fail.
func (h *HealthChecker) Run(ctx context.Context) HealthStatus {
	if len(h.checks) == 0 {
		return HealthStatus{Status: "ok"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := HealthStatus{
		Status: "ok",
		Checks: make([]CheckResult, 0, len(h.checks)),
	}

	for _, c := range h.checks {
		if err := c.Check(checkCtx); err != nil {
			status.Status = "degraded"
			status.Checks = append(status.Checks, CheckResult{
				Name:    c.Name,
				Status:  "fail",
				Message: err.Error(),
				Err:     err,
			})
			if h.logger != nil {
				h.logger.Warn("preflight check failed",
					slog.String("check", c.Name),
					slog.String("error", err.Error()),
				)
			}
		} else {
			status.Checks = append(status.Checks, CheckResult{Name: c.Name, Status: "ok"})
		}
	}

	return status
}

// FirstError returns the error of the first failed check, or nil.
func (s HealthStatus) FirstError() error {
	for _, c := range s.Checks {
		if c.Err != nil {
			return c.Err
		}
	}
	return nil
}
