// Package ratelimit implements the per-endpoint-class token bucket that
// throttles outbound requests to the remote vulnerability API.
package ratelimit

import (
	"context"
	"math"
	"time"

	"golang.org/x/time/rate"

	"github.com/wisbric/vulnsync/internal/telemetry"
)

// Class identifies one of the remote API's rate-limited endpoint groups.
type Class string

const (
	ClassAuth             Class = "auth"
	ClassAPI              Class = "api"
	ClassManagement       Class = "management"
	ClassAuditor          Class = "auditor"
	ClassAuditorWrite     Class = "auditor-write"
	ClassAuditorEvidence  Class = "auditor-evidence"
)

// classConfig is the {max_requests, window} pair for one pre-configured class.
// All windows are 60s per spec.
type classConfig struct {
	maxRequests int
	window      time.Duration
}

var defaultClasses = map[Class]classConfig{
	ClassAuth:            {maxRequests: 5, window: 60 * time.Second},
	ClassAPI:             {maxRequests: 20, window: 60 * time.Second},
	ClassManagement:      {maxRequests: 50, window: 60 * time.Second},
	ClassAuditor:         {maxRequests: 250, window: 60 * time.Second},
	ClassAuditorWrite:    {maxRequests: 10, window: 60 * time.Second},
	ClassAuditorEvidence: {maxRequests: 600, window: 60 * time.Second},
}

// Limiter is a per-endpoint-class token bucket. Configuration: max_requests,
// window, and safety_margin in (0, 1]. effective_limit = floor(max_requests *
// safety_margin); the bucket starts full and refills continuously at
// effective_limit/window tokens per unit time, never exceeding effective_limit.
type Limiter struct {
	class          Class
	effectiveLimit int
	rl             *rate.Limiter
}

// New creates a Limiter for a single class with the given raw limits.
func New(maxRequests int, window time.Duration, safetyMargin float64) *Limiter {
	return newNamed("", maxRequests, window, safetyMargin)
}

func newNamed(class Class, maxRequests int, window time.Duration, safetyMargin float64) *Limiter {
	effective := int(math.Floor(float64(maxRequests) * safetyMargin))
	if effective < 1 {
		effective = 1
	}
	perSec := float64(effective) / window.Seconds()
	return &Limiter{
		class:          class,
		effectiveLimit: effective,
		rl:             rate.NewLimiter(rate.Limit(perSec), effective),
	}
}

// Acquire blocks until a token is available, then consumes exactly one.
// Waiters are granted in FIFO order relative to arrival (rate.Limiter's
// internal reservation queue guarantees this).
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	err := l.rl.Wait(ctx)
	telemetry.RateLimiterWaitSeconds.WithLabelValues(string(l.class)).Observe(time.Since(start).Seconds())
	return err
}

// EffectiveLimit returns the margin-adjusted token cap.
func (l *Limiter) EffectiveLimit() int {
	return l.effectiveLimit
}

// Registry holds one Limiter per endpoint class, pre-configured per spec.
type Registry struct {
	limiters map[Class]*Limiter
}

// NewRegistry creates a Registry with the pre-configured classes at the
// given safety margin.
func NewRegistry(safetyMargin float64) *Registry {
	r := &Registry{limiters: make(map[Class]*Limiter, len(defaultClasses))}
	for class, cfg := range defaultClasses {
		r.limiters[class] = newNamed(class, cfg.maxRequests, cfg.window, safetyMargin)
	}
	return r
}

// For returns the Limiter for the given class, or the "api" class limiter if
// the class is unrecognized.
func (r *Registry) For(class Class) *Limiter {
	if l, ok := r.limiters[class]; ok {
		return l
	}
	return r.limiters[ClassAPI]
}
