// Package health implements active per-provider health probing, adapted
// from original_source's health/health_checker.py HealthChecker: rather
// than a bare liveness ping, /healthz asks each registered provider whether
// it currently has a usable key and a closed circuit, and rolls the
// per-provider results up into one overall status the same way
// _calculate_overall_status does (any unhealthy wins, else any degraded,
// else healthy).
package health

import (
	"time"

	"github.com/modelgate/modelgate/internal/circuitbreaker"
	"github.com/modelgate/modelgate/internal/domain"
)

// Status is one provider's (or the aggregate's) health classification.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// KeySelector is the subset of the credential pool a health probe needs.
// Defined consumer-side so this package doesn't import pool.
type KeySelector interface {
	Select(reqCtx domain.RequestContext) (*domain.ApiKey, error)
	Size(provider domain.Provider) int
	Providers() []domain.Provider
}

// ProviderStatus is one provider's health snapshot.
type ProviderStatus struct {
	Provider        domain.Provider `json:"provider"`
	Status          Status          `json:"status"`
	Message         string          `json:"message"`
	TotalKeys       int             `json:"total_keys"`
	HasAvailableKey bool            `json:"has_available_key"`
	BreakerState    string          `json:"breaker_state"`
}

// Report is the aggregate health report returned by Check.
type Report struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Providers []ProviderStatus `json:"providers"`
}

// Checker probes every provider currently registered in the pool.
type Checker struct {
	pool     KeySelector
	breakers *circuitbreaker.Registry
	now      func() time.Time
}

// New builds a Checker over pool and breakers.
func New(pool KeySelector, breakers *circuitbreaker.Registry) *Checker {
	return &Checker{pool: pool, breakers: breakers, now: time.Now}
}

// Check runs one health pass and returns the aggregate report.
func (c *Checker) Check() Report {
	providers := c.pool.Providers()
	statuses := make([]ProviderStatus, 0, len(providers))
	for _, prov := range providers {
		statuses = append(statuses, c.checkProvider(prov))
	}
	return Report{
		Status:    overall(statuses),
		Timestamp: c.now(),
		Providers: statuses,
	}
}

func (c *Checker) checkProvider(prov domain.Provider) ProviderStatus {
	total := c.pool.Size(prov)
	key, _ := c.pool.Select(domain.RequestContext{Provider: prov})
	hasAvailable := key != nil

	state := c.breakers.For(prov).State()

	var status Status
	var message string
	switch {
	case total == 0:
		status, message = StatusUnhealthy, "no keys registered for this provider"
	case state == circuitbreaker.Open:
		status, message = StatusUnhealthy, "circuit breaker open"
	case !hasAvailable:
		status, message = StatusDegraded, "no key currently available (rate-limited or disabled)"
	case state == circuitbreaker.HalfOpen:
		status, message = StatusDegraded, "circuit breaker half-open, probing recovery"
	default:
		status, message = StatusHealthy, "provider has an available key and a closed circuit"
	}

	return ProviderStatus{
		Provider:        prov,
		Status:          status,
		Message:         message,
		TotalKeys:       total,
		HasAvailableKey: hasAvailable,
		BreakerState:    state.String(),
	}
}

func overall(statuses []ProviderStatus) Status {
	sawDegraded := false
	for _, s := range statuses {
		if s.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
		if s.Status == StatusDegraded {
			sawDegraded = true
		}
	}
	if sawDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
