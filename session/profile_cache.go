// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/oidcrp/oidc"
)

type profileEntry struct {
	info    *oidc.UserInfo
	fetched time.Time
}

// ProfileCache caches user profiles keyed by access_token for a TTL.  A
// disabled ProfileCache stores nothing and every Get misses.
type ProfileCache struct {
	enabled bool
	ttl     int64 // seconds
	nowFunc func() time.Time

	mu      sync.RWMutex
	entries map[string]profileEntry
}

// NewProfileCache creates a ProfileCache.  It's enabled and uses the
// DefaultProfileTTL unless options say otherwise.
//
// Supported options:
//   - WithProfileCache
//   - WithProfileTTL
//   - WithNow
func NewProfileCache(opt ...Option) (*ProfileCache, error) {
	const op = "NewProfileCache"
	opts := getProfileCacheOpts(opt...)
	ttl := int64(opts.withTTL / time.Second)
	if opts.withEnabled && ttl <= 0 {
		return nil, fmt.Errorf("%s: profile TTL %s must be at least a second: %w", op, opts.withTTL, oidc.ErrInvalidParameter)
	}
	return &ProfileCache{
		enabled: opts.withEnabled,
		ttl:     ttl,
		nowFunc: opts.withNowFunc,
		entries: map[string]profileEntry{},
	}, nil
}

// Enabled reports whether the cache stores profiles.
func (c *ProfileCache) Enabled() bool { return c.enabled }

// Get returns a copy of the profile cached for key.  Entries are expired once
// a whole TTL has passed since they were fetched (compared in whole seconds).
func (c *ProfileCache) Get(key string) (*oidc.UserInfo, bool) {
	if !c.enabled {
		return nil, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Unix()-e.fetched.Unix() >= c.ttl {
		return nil, false
	}
	return e.info.Clone(), true
}

// Set caches a copy of the profile for key, fetched now.
func (c *ProfileCache) Set(key string, info *oidc.UserInfo) {
	if !c.enabled || info == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = profileEntry{info: info.Clone(), fetched: c.now()}
}

// Remove the profile cached for key.
func (c *ProfileCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of profiles stored, expired ones included.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// now returns the current time using the optional nowFunc
func (c *ProfileCache) now() time.Time {
	if c.nowFunc != nil {
		return c.nowFunc()
	}
	return time.Now() // fallback to this default
}

// profileCacheOptions is the set of available options for ProfileCache
// functions
type profileCacheOptions struct {
	withEnabled bool
	withTTL     time.Duration
	withNowFunc func() time.Time
}

// profileCacheDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func profileCacheDefaults() profileCacheOptions {
	return profileCacheOptions{
		withEnabled: true,
		withTTL:     DefaultProfileTTL,
	}
}

// getProfileCacheOpts gets the profile cache defaults and applies the opt
// overrides passed in
func getProfileCacheOpts(opt ...Option) profileCacheOptions {
	opts := profileCacheDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
