// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc"
	"golang.org/x/sync/singleflight"
)

// maxRotations bounds how many refreshes a presented key is followed through.
const maxRotations = 16

// Refresher exchanges a token's refresh_token for a new token.  *oidc.Provider
// is a Refresher.
type Refresher interface {
	Refresh(ctx context.Context, t *oidc.Token) (*oidc.Token, error)
}

type tokenEntry struct {
	token *oidc.Token

	// once refreshed, the entry forwards to rotatedTo until rotatedUntil.
	rotatedTo    string
	rotatedUntil time.Time
}

func (e *tokenEntry) rotated() bool { return e.rotatedTo != "" }

// TokenCache stores tokens keyed by their access_token and refreshes expired
// tokens lazily, when they're looked up.  Refreshes are single-flight per key:
// concurrent lookups of the same expired token share one provider request.
//
// When a token is refreshed, the new token is stored under its own
// access_token and the old key forwards to it for the rotation grace period,
// so requests still presenting the old access_token resolve to the new token.
type TokenCache struct {
	refresher Refresher
	logger    hclog.Logger
	nowFunc   func() time.Time
	grace     time.Duration

	mu      sync.RWMutex
	entries map[string]*tokenEntry

	refreshing singleflight.Group
}

// NewTokenCache creates a TokenCache which refreshes expired tokens with r.
//
// Supported options:
//   - WithLogger
//   - WithNow
//   - WithRotationGrace
func NewTokenCache(r Refresher, opt ...Option) (*TokenCache, error) {
	const op = "NewTokenCache"
	if r == nil {
		return nil, fmt.Errorf("%s: refresher is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getTokenCacheOpts(opt...)
	if opts.withRotationGrace < 0 {
		return nil, fmt.Errorf("%s: rotation grace %s is negative: %w", op, opts.withRotationGrace, oidc.ErrInvalidParameter)
	}
	return &TokenCache{
		refresher: r,
		logger:    opts.withLogger,
		nowFunc:   opts.withNowFunc,
		grace:     opts.withRotationGrace,
		entries:   map[string]*tokenEntry{},
	}, nil
}

// Store the token under its access_token, replacing whatever was stored
// there.  The cache keeps its own copy of the token.
func (c *TokenCache) Store(t *oidc.Token) error {
	const op = "TokenCache.Store"
	if t == nil {
		return fmt.Errorf("%s: token is nil: %w", op, oidc.ErrNilParameter)
	}
	if t.Key() == "" {
		return fmt.Errorf("%s: token is missing an access_token: %w", op, oidc.ErrInvalidParameter)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(c.now())
	c.entries[t.Key()] = &tokenEntry{token: t.Clone()}
	return nil
}

// Lookup the token for key, refreshing it when it's expired and has a
// refresh_token.  Lookup never returns an expired token.
func (c *TokenCache) Lookup(ctx context.Context, key string) Result {
	now := c.now()
	c.mu.RLock()
	current, e := c.resolveLocked(key, now)
	c.mu.RUnlock()
	switch {
	case e == nil:
		return Result{Status: StatusNotFound}
	case !e.token.Expired(now):
		return resultFor(key, current, e.token)
	case !e.token.Refreshable():
		return Result{Status: StatusExpired}
	}
	return c.refresh(ctx, key, current)
}

func (c *TokenCache) refresh(ctx context.Context, presented, current string) Result {
	const op = "TokenCache.refresh"
	// the shared refresh outlives any one caller giving up on it; the
	// Refresher bounds it with its own timeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.refreshing.DoChan(current, func() (interface{}, error) {
		now := c.now()
		c.mu.RLock()
		latest, e := c.resolveLocked(current, now)
		c.mu.RUnlock()
		switch {
		case e == nil:
			return nil, fmt.Errorf("token was removed: %w", oidc.ErrNotFound)
		case latest != current || !e.token.Expired(now):
			// refreshed by a flight which finished after this lookup began
			return latest, nil
		}
		refreshed, err := c.refresher.Refresh(flightCtx, e.token)
		if err != nil {
			return nil, err
		}
		if err := c.rotate(current, refreshed); err != nil {
			return nil, err
		}
		return refreshed.Key(), nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return Result{Status: StatusRefreshFailed, Err: fmt.Errorf("%s: %w: %w", op, oidc.ErrRefresh, ctx.Err())}
	case res = <-ch:
	}
	if res.Err != nil {
		if errors.Is(res.Err, oidc.ErrNotFound) {
			return Result{Status: StatusNotFound}
		}
		c.logger.Debug("token refresh failed", "error", res.Err)
		return Result{Status: StatusRefreshFailed, Err: fmt.Errorf("%s: %w", op, res.Err)}
	}

	now := c.now()
	c.mu.RLock()
	latest, e := c.resolveLocked(res.Val.(string), now)
	c.mu.RUnlock()
	switch {
	case e == nil:
		return Result{Status: StatusNotFound}
	case e.token.Expired(now):
		return Result{Status: StatusRefreshFailed, Err: fmt.Errorf("%s: %w: refreshed token is already expired", op, oidc.ErrRefresh)}
	}
	if res.Shared {
		c.logger.Trace("shared an in-flight token refresh")
	}
	if latest == presented {
		return resultFor(presented, latest, e.token)
	}
	return Result{Token: e.token.Clone(), Status: StatusRefreshed}
}

// rotate stores the refreshed token and makes the old key forward to it.  A
// token removed while its refresh was in flight stays removed.
func (c *TokenCache) rotate(oldKey string, refreshed *oidc.Token) error {
	const op = "TokenCache.rotate"
	if refreshed == nil || refreshed.Key() == "" {
		return fmt.Errorf("%s: refreshed token is missing an access_token: %w", op, oidc.ErrInvalidParameter)
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[oldKey]; !ok {
		return fmt.Errorf("%s: token was removed during refresh: %w", op, oidc.ErrNotFound)
	}
	c.pruneLocked(now)
	c.entries[refreshed.Key()] = &tokenEntry{token: refreshed.Clone()}
	switch {
	case refreshed.Key() == oldKey:
	case c.grace == 0:
		delete(c.entries, oldKey)
	default:
		c.entries[oldKey] = &tokenEntry{rotatedTo: refreshed.Key(), rotatedUntil: now.Add(c.grace)}
	}
	return nil
}

// Peek returns a copy of the token key resolves to without refreshing it.  It
// may be expired.  Returns nil when there's no token for the key.
func (c *TokenCache) Peek(key string) *oidc.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, e := c.resolveLocked(key, c.now())
	if e == nil {
		return nil
	}
	return e.token.Clone()
}

// Remove the token for key along with every refresh it forwards through.
// Returns true if a token was removed.
func (c *TokenCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	for i := 0; i < maxRotations; i++ {
		e, ok := c.entries[key]
		if !ok {
			break
		}
		delete(c.entries, key)
		if !e.rotated() {
			removed = true
			break
		}
		key = e.rotatedTo
	}
	return removed
}

// Len returns the number of tokens stored, not counting rotated keys.
func (c *TokenCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, e := range c.entries {
		if !e.rotated() {
			n++
		}
	}
	return n
}

// resolveLocked follows rotations from key to the key of the current token.
func (c *TokenCache) resolveLocked(key string, now time.Time) (string, *tokenEntry) {
	for i := 0; i < maxRotations; i++ {
		e, ok := c.entries[key]
		switch {
		case !ok:
			return "", nil
		case !e.rotated():
			return key, e
		case !now.Before(e.rotatedUntil):
			return "", nil
		}
		key = e.rotatedTo
	}
	return "", nil
}

// pruneLocked drops rotated keys whose grace period is over.
func (c *TokenCache) pruneLocked(now time.Time) {
	for k, e := range c.entries {
		if e.rotated() && !now.Before(e.rotatedUntil) {
			delete(c.entries, k)
		}
	}
}

// now returns the current time using the optional nowFunc
func (c *TokenCache) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now() // fallback to this default
}

func resultFor(presented, current string, t *oidc.Token) Result {
	status := StatusValid
	if presented != current {
		status = StatusRefreshed
	}
	return Result{Token: t.Clone(), Status: status}
}

// tokenCacheOptions is the set of available options for TokenCache functions
type tokenCacheOptions struct {
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
	withRotationGrace time.Duration
}

// tokenCacheDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenCacheDefaults() tokenCacheOptions {
	return tokenCacheOptions{
		withLogger:        hclog.NewNullLogger(),
		withRotationGrace: DefaultRotationGrace,
	}
}

// getTokenCacheOpts gets the token cache defaults and applies the opt
// overrides passed in
func getTokenCacheOpts(opt ...Option) tokenCacheOptions {
	opts := tokenCacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
