// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"time"

	"github.com/hashicorp/go-hclog"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

const (
	// DefaultProfileTTL is how long a fetched user profile is served from
	// the ProfileCache.
	DefaultProfileTTL = 3600 * time.Second

	// DefaultAttemptTTL is how long a user has to complete a login.
	DefaultAttemptTTL = 10 * time.Minute

	// DefaultRotationGrace is how long the access_token replaced by a refresh
	// keeps resolving to its replacement.
	DefaultRotationGrace = time.Minute

	// DefaultMaxAttempts is how many in-progress logins are held at once.
	DefaultMaxAttempts = 10000
)

// WithLogger provides an optional logger.
//
// Valid for: Manager, TokenCache
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withLogger = l
		case *tokenCacheOptions:
			v.withLogger = l
		}
	}
}

// WithNow provides an optional clock.
//
// Valid for: Manager, TokenCache, ProfileCache
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		switch v := o.(type) {
		case *managerOptions:
			v.withNowFunc = now
		case *tokenCacheOptions:
			v.withNowFunc = now
		case *profileCacheOptions:
			v.withNowFunc = now
		}
	}
}

// WithProfileCache enables or disables the user profile cache.  When disabled
// every profile lookup goes to the provider.
//
// Valid for: Manager, ProfileCache
func WithProfileCache(enabled bool) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *managerOptions:
			v.withProfileCache = enabled
		case *profileCacheOptions:
			v.withEnabled = enabled
		}
	}
}

// WithProfileTTL provides how long a fetched user profile is cached.  It's
// applied at second granularity.
//
// Valid for: Manager, ProfileCache
func WithProfileTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *managerOptions:
			v.withProfileTTL = ttl
		case *profileCacheOptions:
			v.withTTL = ttl
		}
	}
}

// WithRotationGrace provides how long a refreshed access_token keeps
// resolving to the token which replaced it.
//
// Valid for: Manager, TokenCache
func WithRotationGrace(d time.Duration) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *managerOptions:
			v.withRotationGrace = d
		case *tokenCacheOptions:
			v.withRotationGrace = d
		}
	}
}

// WithAttemptTTL provides how long a user has to complete a login.
//
// Valid for: Manager
func WithAttemptTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withAttemptTTL = ttl
		}
	}
}

// WithRedirectIndex selects which of the provider's configured redirect URLs
// logins are sent back to.
//
// Valid for: Manager
func WithRedirectIndex(idx int) Option {
	return func(o interface{}) {
		if v, ok := o.(*managerOptions); ok {
			v.withRedirectIdx = idx
		}
	}
}

// WithMaxAttempts provides how many in-progress logins are held at once.
// Once there are that many, starting a login forgets the oldest one.
//
// Valid for: Manager, AttemptCache
func WithMaxAttempts(n int) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *managerOptions:
			v.withMaxAttempts = n
		case *attemptCacheOptions:
			v.withMaxAttempts = n
		}
	}
}
