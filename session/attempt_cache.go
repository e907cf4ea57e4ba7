// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/oidcrp/oidc"
)

// AttemptCache holds in-progress logins keyed by their state until the
// provider's callback consumes them.  It holds at most its maximum number of
// attempts; once full, adding an attempt evicts the oldest one.
type AttemptCache struct {
	mu sync.Mutex
	c  *lru.Cache[string, *oidc.Attempt]
}

// NewAttemptCache creates an empty AttemptCache.
//
// Supported options:
//   - WithMaxAttempts
func NewAttemptCache(opt ...Option) (*AttemptCache, error) {
	const op = "NewAttemptCache"
	opts := getAttemptCacheOpts(opt...)
	if opts.withMaxAttempts <= 0 {
		return nil, fmt.Errorf("%s: max attempts must be greater than zero: %w", op, oidc.ErrInvalidParameter)
	}
	c, err := lru.New[string, *oidc.Attempt](opts.withMaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &AttemptCache{c: c}, nil
}

// Add an attempt.  Expired attempts at the old end of the cache are dropped
// as a side effect.
func (ac *AttemptCache) Add(a *oidc.Attempt) error {
	const op = "AttemptCache.Add"
	if a == nil {
		return fmt.Errorf("%s: attempt is nil: %w", op, oidc.ErrNilParameter)
	}
	if a.State() == "" {
		return fmt.Errorf("%s: attempt is missing a state: %w", op, oidc.ErrInvalidParameter)
	}
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.pruneLocked()
	if ac.c.Contains(a.State()) {
		return fmt.Errorf("%s: attempt %s already exists: %w", op, a.State(), oidc.ErrInvalidParameter)
	}
	ac.c.Add(a.State(), a)
	return nil
}

// pruneLocked drops expired attempts, oldest first, stopping at the first one
// still live.  Attempts are never touched once added, so the cache's order is
// insertion order.
func (ac *AttemptCache) pruneLocked() {
	for {
		_, oldest, ok := ac.c.GetOldest()
		if !ok || !oldest.IsExpired() {
			return
		}
		ac.c.RemoveOldest()
	}
}

// Take removes and returns the attempt for state.  An attempt can only be
// taken once, and an expired attempt is never returned.
func (ac *AttemptCache) Take(state string) (*oidc.Attempt, bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	a, ok := ac.c.Peek(state)
	if !ok {
		return nil, false
	}
	ac.c.Remove(state)
	if a.IsExpired() {
		return nil, false
	}
	return a, true
}

// Len returns the number of attempts held, expired ones included.
func (ac *AttemptCache) Len() int {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	return ac.c.Len()
}

// attemptCacheOptions is the set of available options for AttemptCache
// functions
type attemptCacheOptions struct {
	withMaxAttempts int
}

// attemptCacheDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func attemptCacheDefaults() attemptCacheOptions {
	return attemptCacheOptions{
		withMaxAttempts: DefaultMaxAttempts,
	}
}

// getAttemptCacheOpts gets the attempt cache defaults and applies the opt
// overrides passed in
func getAttemptCacheOpts(opt ...Option) attemptCacheOptions {
	opts := attemptCacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
