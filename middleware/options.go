// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

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

// DefaultReturnToTTL is how long the before-callback-location cookie lives.
const DefaultReturnToTTL = 10 * time.Minute

// options is the set of available options for the middleware
type options struct {
	withRedirect      bool
	withLogger        hclog.Logger
	withSecureCookies bool
	withCookiePath    string
	withReturnToTTL   time.Duration
}

// defaults is a handy way to get the defaults at runtime and during unit
// tests.
func defaults() options {
	return options{
		withLogger:      hclog.NewNullLogger(),
		withCookiePath:  "/",
		withReturnToTTL: DefaultReturnToTTL,
	}
}

// getOpts gets the defaults and applies the opt overrides passed in
func getOpts(opt ...Option) options {
	opts := defaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithRedirect makes Callback send the user back to where they were before
// logging in, and makes Logout send the user to the provider's end session
// URL.  Either way the next handler isn't called when a redirect is sent.
//
// Valid for: Callback, Logout
func WithRedirect(redirect bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withRedirect = redirect
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Callback, Authenticate, Logout
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && l != nil {
			o.withLogger = l
		}
	}
}

// WithSecureCookies marks the cookies set as Secure (https only).
//
// Valid for: Callback, Authenticate, Logout
func WithSecureCookies(secure bool) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok {
			o.withSecureCookies = secure
		}
	}
}

// WithCookiePath provides the Path of the cookies set.  Defaults to "/".
//
// Valid for: Callback, Authenticate, Logout
func WithCookiePath(path string) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && path != "" {
			o.withCookiePath = path
		}
	}
}

// WithReturnToTTL provides how long the before-callback-location cookie
// lives.
//
// Valid for: Authenticate
func WithReturnToTTL(ttl time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*options); ok && ttl > 0 {
			o.withReturnToTTL = ttl
		}
	}
}
