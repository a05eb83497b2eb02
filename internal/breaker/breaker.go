// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package breaker provides per-provider circuit breaking for external catalog
// calls. Each provider gets an independent breaker so one flaky upstream never
// blocks the others.
//
// The open-state cooldown doubles after every failed recovery probe, up to a
// configured maximum, and resets to the base on a successful probe.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/curioproject/curio/internal/config"
	"github.com/curioproject/curio/internal/logging"
	"github.com/curioproject/curio/internal/metrics"
)

// ErrCircuitOpen is returned when a call is rejected because the provider's
// circuit is open. Callers map this to the CIRCUIT_OPEN error code.
var ErrCircuitOpen = errors.New("circuit breaker open")

// Status is the read model for one provider's breaker, exposed through the
// health endpoint to allowlisted callers.
type Status struct {
	Provider          string
	State             string
	FailureTotal      uint64
	LastError         string
	RemainingCooldown time.Duration
}

// entry wraps one provider's gobreaker plus the exponential cooldown state
// gobreaker does not track itself.
type entry struct {
	mu sync.Mutex

	cb *gobreaker.CircuitBreaker[interface{}]

	// cooldown is the current open-state duration. It starts at the base,
	// doubles on each failed probe (capped), and resets on recovery.
	cooldown time.Duration

	// blockUntil extends gobreaker's own timeout so the doubled cooldown
	// is honored. Calls before blockUntil are rejected without reaching
	// the breaker, which keeps it in half-open with no probes consumed.
	blockUntil time.Time

	failureTotal uint64
	lastError    string
}

// Registry holds one circuit breaker per provider.
type Registry struct {
	mu      sync.RWMutex
	cfg     config.BreakerConfig
	entries map[string]*entry
	now     func() time.Time
}

// NewRegistry creates a Registry with a breaker per provider name.
func NewRegistry(cfg config.BreakerConfig, providers []string) *Registry {
	r := &Registry{
		cfg:     cfg,
		entries: make(map[string]*entry, len(providers)),
		now:     time.Now,
	}
	for _, name := range providers {
		r.entries[name] = r.newEntry(name)
		metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	}
	return r
}

func (r *Registry) newEntry(provider string) *entry {
	e := &entry{cooldown: r.cfg.CooldownBase}

	e.cb = gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        provider,
		MaxRequests: 1, // single probe per half-open window
		Interval:    r.cfg.Interval,
		Timeout:     r.cfg.CooldownBase,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= r.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)

			logging.Info().
				Str("provider", name).
				Str("from", fromStr).
				Str("to", toStr).
				Msg("circuit breaker state transition")

			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()

			e.mu.Lock()
			defer e.mu.Unlock()
			switch to {
			case gobreaker.StateOpen:
				if from == gobreaker.StateHalfOpen {
					// Failed probe: back off harder before the next one.
					e.cooldown = minDuration(e.cooldown*2, r.cfg.CooldownMax)
				}
				e.blockUntil = r.now().Add(e.cooldown)
			case gobreaker.StateClosed:
				e.cooldown = r.cfg.CooldownBase
				e.blockUntil = time.Time{}
			}
		},
	})

	return e
}

// Execute runs fn under the provider's circuit breaker. An unknown provider
// name is a programming error and is reported as such.
func (r *Registry) Execute(provider string, fn func() (interface{}, error)) (interface{}, error) {
	r.mu.RLock()
	e, ok := r.entries[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("breaker: unknown provider %q", provider)
	}

	e.mu.Lock()
	if until := e.blockUntil; !until.IsZero() && r.now().Before(until) {
		remaining := until.Sub(r.now()).Round(time.Millisecond)
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s cooling down for %s", ErrCircuitOpen, provider, remaining)
	}
	e.mu.Unlock()

	result, err := e.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, provider)
		}

		metrics.CircuitBreakerFailures.WithLabelValues(provider).Inc()
		e.mu.Lock()
		e.failureTotal++
		e.lastError = err.Error()
		e.mu.Unlock()
		return nil, err
	}

	return result, nil
}

// Status returns the read model for one provider. The second return is false
// for unknown providers.
func (r *Registry) Status(provider string) (Status, bool) {
	r.mu.RLock()
	e, ok := r.entries[provider]
	r.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	return r.status(provider, e), true
}

// StatusAll returns the read model for every registered provider.
func (r *Registry) StatusAll() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make([]Status, 0, len(r.entries))
	for name, e := range r.entries {
		statuses = append(statuses, r.status(name, e))
	}
	return statuses
}

func (r *Registry) status(provider string, e *entry) Status {
	// cb.State() can run gobreaker's lazy open-to-half-open transition,
	// whose hook takes e.mu. It must be read before locking.
	state := stateToString(e.cb.State())

	e.mu.Lock()
	defer e.mu.Unlock()

	now := r.now()
	var remaining time.Duration
	if !e.blockUntil.IsZero() && now.Before(e.blockUntil) {
		state = "open"
		remaining = e.blockUntil.Sub(now)
	}

	return Status{
		Provider:          provider,
		State:             state,
		FailureTotal:      e.failureTotal,
		LastError:         e.lastError,
		RemainingCooldown: remaining,
	}
}

// castResult safely type-casts a breaker result with error checking.
func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// ExecuteTyped runs fn under the provider's breaker and casts the result.
func ExecuteTyped[T any](r *Registry, provider string, fn func() (interface{}, error)) (T, error) {
	return castResult[T](r.Execute(provider, fn))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
