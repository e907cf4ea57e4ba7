// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"
)

// Attempt represents one user's authentication attempt through the
// authorization code flow.  It carries the data needed to complete that one
// flow: the state id round tripped through the provider, the nonce bound to the
// id_token and the PKCE code verifier bound to the authorization code.
//
// An Attempt is created right before redirecting a user to the provider and
// must be consumed exactly once when the provider redirects back.  Attempts
// are never shared between users.
type Attempt struct {
	// state is a unique identifier and an opaque value used to maintain state
	// between the authentication request and the callback. It cannot equal
	// the nonce.
	state string

	// nonce is used to associate a client session with an id_token, and to
	// mitigate replay attacks.
	nonce string

	verifier *CodeVerifier

	// returnTo is the location the user was trying to reach when the attempt
	// started.
	returnTo string

	// redirectIdx selects which of the Config.RedirectURLs the attempt uses.
	redirectIdx int

	expiration time.Time

	nowFunc func() time.Time
}

// NewAttempt creates a new Attempt which expires after expireIn.
//
// Supports the options:
//   - WithReturnTo
//   - WithRedirectIndex
//   - WithNow
func NewAttempt(expireIn time.Duration, opt ...Option) (*Attempt, error) {
	const op = "NewAttempt"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getAttemptOpts(opt...)
	if opts.withRedirectIdx < 0 {
		return nil, fmt.Errorf("%s: redirect index %d is negative: %w", op, opts.withRedirectIdx, ErrInvalidParameter)
	}
	nonce, err := NewID(WithPrefix("n"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an attempt's nonce: %w", op, err)
	}
	state, err := NewID(WithPrefix("st"))
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate an attempt's state: %w", op, err)
	}
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a := &Attempt{
		state:       state,
		nonce:       nonce,
		verifier:    verifier,
		returnTo:    opts.withReturnTo,
		redirectIdx: opts.withRedirectIdx,
		nowFunc:     opts.withNowFunc,
	}
	a.expiration = a.now().Add(expireIn)
	return a, nil
}

// State returns the attempt's state id.
func (a *Attempt) State() string { return a.state }

// Nonce returns the attempt's nonce.
func (a *Attempt) Nonce() string { return a.nonce }

// CodeVerifier returns the attempt's PKCE code verifier.
func (a *Attempt) CodeVerifier() *CodeVerifier { return a.verifier }

// ReturnTo returns the location to send the user to once the attempt
// succeeds.  It may be empty.
func (a *Attempt) ReturnTo() string { return a.returnTo }

// RedirectIndex returns the index of the redirect URL used by the attempt.
func (a *Attempt) RedirectIndex() int { return a.redirectIdx }

// Expiration returns the attempt's expiration.
func (a *Attempt) Expiration() time.Time { return a.expiration }

// IsExpired returns true if the attempt has expired.
func (a *Attempt) IsExpired() bool {
	return !a.now().Before(a.expiration)
}

// now returns the current time using the optional timeFn
func (a *Attempt) now() time.Time {
	if a.nowFunc != nil {
		return a.nowFunc()
	}
	return time.Now() // fallback to this default
}

// attemptOptions is the set of available options for Attempt functions
type attemptOptions struct {
	withReturnTo    string
	withRedirectIdx int
	withNowFunc     func() time.Time
}

// attemptDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func attemptDefaults() attemptOptions {
	return attemptOptions{}
}

// getAttemptOpts gets the attempt defaults and applies the opt overrides
// passed in
func getAttemptOpts(opt ...Option) attemptOptions {
	opts := attemptDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithReturnTo provides the location the user should be sent to once the
// attempt completes.
//
// Valid for: Attempt
func WithReturnTo(location string) Option {
	return func(o interface{}) {
		if o, ok := o.(*attemptOptions); ok {
			o.withReturnTo = location
		}
	}
}

// WithRedirectIndex selects which of the configured redirect URLs the
// attempt uses.  The default is the first one.
//
// Valid for: Attempt
func WithRedirectIndex(idx int) Option {
	return func(o interface{}) {
		if o, ok := o.(*attemptOptions); ok {
			o.withRedirectIdx = idx
		}
	}
}

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: Attempt and Provider
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *attemptOptions:
			v.withNowFunc = now
		case *providerOptions:
			v.withNowFunc = now
		}
	}
}
