// Curio - Personal Media Catalog Search and Aggregation
// Copyright 2026 The Curio Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/curioproject/curio

// Package quota enforces the per-user external-search quota: at most N
// external fan-outs within the trailing window. The check and the count are
// one atomic step per user so concurrent requests cannot overshoot the
// limit, and users never contend on each other's windows.
package quota

import (
	"errors"
	"sync"
	"time"

	"github.com/curioproject/curio/internal/metrics"
)

// ErrExceeded is returned when a user is over their external-search quota.
// Callers map this to the QUOTA_EXCEEDED error code.
var ErrExceeded = errors.New("external search quota exceeded")

// userWindow holds one user's in-window search timestamps under its own
// lock, so Allow for one user never blocks on another.
type userWindow struct {
	mu     sync.Mutex
	stamps []time.Time
}

// Enforcer tracks external-search timestamps per user over a sliding window.
// The enforcer lock guards only the user map; per-user state has its own.
//
// Memory: O(max requests) per active user; inactive users are dropped by
// CleanupInactive.
type Enforcer struct {
	mu     sync.Mutex
	users  map[string]*userWindow
	window time.Duration
	max    int
	now    func() time.Time
}

// NewEnforcer creates an Enforcer allowing max external searches per user
// within the trailing window.
func NewEnforcer(window time.Duration, max int) *Enforcer {
	return &Enforcer{
		users:  make(map[string]*userWindow),
		window: window,
		max:    max,
		now:    time.Now,
	}
}

// user returns the window for userID, creating it on first use.
func (e *Enforcer) user(userID string) *userWindow {
	e.mu.Lock()
	defer e.mu.Unlock()

	u, ok := e.users[userID]
	if !ok {
		u = &userWindow{}
		e.users[userID] = u
	}
	return u
}

// Allow records one external search for the user if they are under quota.
// Denied requests are NOT recorded, so a denied user is not pushed further
// into the future.
func (e *Enforcer) Allow(userID string) error {
	u := e.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	now := e.now()
	u.stamps = pruneStamps(u.stamps, now.Add(-e.window))

	if len(u.stamps) >= e.max {
		metrics.QuotaDecisions.WithLabelValues("denied").Inc()
		return ErrExceeded
	}

	u.stamps = append(u.stamps, now)
	metrics.QuotaDecisions.WithLabelValues("allowed").Inc()
	return nil
}

// Remaining returns how many external searches the user has left in the
// current window.
func (e *Enforcer) Remaining(userID string) int {
	u := e.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	u.stamps = pruneStamps(u.stamps, e.now().Add(-e.window))
	if left := e.max - len(u.stamps); left > 0 {
		return left
	}
	return 0
}

// RetryAfter returns how long until the user's oldest in-window search falls
// out of the window. Zero means the user is under quota right now.
func (e *Enforcer) RetryAfter(userID string) time.Duration {
	u := e.user(userID)
	u.mu.Lock()
	defer u.mu.Unlock()

	now := e.now()
	u.stamps = pruneStamps(u.stamps, now.Add(-e.window))
	if len(u.stamps) < e.max {
		return 0
	}
	return u.stamps[0].Add(e.window).Sub(now)
}

// CleanupInactive drops users with no in-window searches. Returns the number
// of users removed. A removed entry that races a concurrent Allow is simply
// recreated on that user's next call.
func (e *Enforcer) CleanupInactive() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-e.window)
	removed := 0
	for userID, u := range e.users {
		u.mu.Lock()
		u.stamps = pruneStamps(u.stamps, cutoff)
		empty := len(u.stamps) == 0
		u.mu.Unlock()
		if empty {
			delete(e.users, userID)
			removed++
		}
	}
	return removed
}

// pruneStamps returns the timestamps after the cutoff.
func pruneStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
