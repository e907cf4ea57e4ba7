// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc"
)

// Gateway is the relying party's view of the OIDC provider.  *oidc.Provider
// is a Gateway.
type Gateway interface {
	Refresher
	AuthURL(ctx context.Context, a *oidc.Attempt) (string, error)
	Exchange(ctx context.Context, a *oidc.Attempt, state, code string) (*oidc.Token, error)
	UserInfo(ctx context.Context, t *oidc.Token) (*oidc.UserInfo, error)
	LogoutURL(ctx context.Context, t *oidc.Token) (string, error)
}

// Manager owns the session state of a relying party: the tokens, user
// profiles and in-progress logins.  Create one per process and share it with
// every handler.
//
// Provider failures never escape a Manager as anything but an absent result
// or an error for the caller to turn into a 401; they're logged.
type Manager struct {
	gateway  Gateway
	tokens   *TokenCache
	profiles *ProfileCache
	attempts *AttemptCache
	logger   hclog.Logger

	attemptTTL  time.Duration
	redirectIdx int
	nowFunc     func() time.Time
}

// NewManager creates a Manager for the gateway.
//
// Supported options:
//   - WithLogger
//   - WithProfileCache
//   - WithProfileTTL
//   - WithAttemptTTL
//   - WithRotationGrace
//   - WithNow
//   - WithRedirectIndex
//   - WithMaxAttempts
func NewManager(g Gateway, opt ...Option) (*Manager, error) {
	const op = "NewManager"
	if g == nil {
		return nil, fmt.Errorf("%s: gateway is nil: %w", op, oidc.ErrNilParameter)
	}
	opts := getManagerOpts(opt...)
	if opts.withAttemptTTL <= 0 {
		return nil, fmt.Errorf("%s: attempt TTL must be greater than zero: %w", op, oidc.ErrInvalidParameter)
	}
	if opts.withRedirectIdx < 0 {
		return nil, fmt.Errorf("%s: redirect index %d is negative: %w", op, opts.withRedirectIdx, oidc.ErrInvalidParameter)
	}
	tokens, err := NewTokenCache(g,
		WithLogger(opts.withLogger.Named("tokens")),
		WithNow(opts.withNowFunc),
		WithRotationGrace(opts.withRotationGrace),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	profiles, err := NewProfileCache(
		WithProfileCache(opts.withProfileCache),
		WithProfileTTL(opts.withProfileTTL),
		WithNow(opts.withNowFunc),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	attempts, err := NewAttemptCache(WithMaxAttempts(opts.withMaxAttempts))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Manager{
		gateway:     g,
		tokens:      tokens,
		profiles:    profiles,
		attempts:    attempts,
		logger:      opts.withLogger,
		attemptTTL:  opts.withAttemptTTL,
		redirectIdx: opts.withRedirectIdx,
		nowFunc:     opts.withNowFunc,
	}, nil
}

// Tokens returns the manager's TokenCache.
func (m *Manager) Tokens() *TokenCache { return m.tokens }

// Profiles returns the manager's ProfileCache.
func (m *Manager) Profiles() *ProfileCache { return m.profiles }

// Attempts returns the manager's AttemptCache.
func (m *Manager) Attempts() *AttemptCache { return m.attempts }

// Login starts a new login and returns the provider URL to send the user to.
// returnTo is where the user should end up once the login completes, and may
// be empty.
func (m *Manager) Login(ctx context.Context, returnTo string) (string, error) {
	const op = "Manager.Login"
	attemptOpts := []oidc.Option{
		oidc.WithReturnTo(returnTo),
		oidc.WithRedirectIndex(m.redirectIdx),
	}
	if m.nowFunc != nil {
		attemptOpts = append(attemptOpts, oidc.WithNow(m.nowFunc))
	}
	a, err := oidc.NewAttempt(m.attemptTTL, attemptOpts...)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	authURL, err := m.gateway.AuthURL(ctx, a)
	if err != nil {
		m.logger.Warn("unable to create authorization URL", "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := m.attempts.Add(a); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return authURL, nil
}

// Complete finishes the login identified by state by exchanging the
// authorization code.  The resulting token is stored and returned along with
// the login's return-to location.  Every error wraps oidc.ErrExchange.
func (m *Manager) Complete(ctx context.Context, state, code string) (*oidc.Token, string, error) {
	const op = "Manager.Complete"
	a, ok := m.attempts.Take(state)
	if !ok {
		// never issued, already used or expired
		return nil, "", fmt.Errorf("%s: %w: login attempt %q: %w", op, oidc.ErrExchange, state, oidc.ErrNotFound)
	}
	t, err := m.gateway.Exchange(ctx, a, state, code)
	if err != nil {
		m.logger.Warn("authorization code exchange failed", "error", err)
		return nil, "", fmt.Errorf("%s: %w", op, err)
	}
	if err := m.tokens.Store(t); err != nil {
		return nil, "", fmt.Errorf("%s: %w: %w", op, oidc.ErrExchange, err)
	}
	return t, a.ReturnTo(), nil
}

// Token looks up the token for the access_token key, refreshing it when
// needed.
func (m *Manager) Token(ctx context.Context, key string) Result {
	r := m.tokens.Lookup(ctx, key)
	if r.Status == StatusRefreshFailed {
		m.logger.Warn("token refresh failed", "error", r.Err)
	}
	return r
}

// Profile returns the user's profile, from the ProfileCache when it's there
// or else from the provider.  It returns nil when the profile can't be
// fetched, which doesn't make the token any less valid.
func (m *Manager) Profile(ctx context.Context, t *oidc.Token) *oidc.UserInfo {
	if t == nil {
		return nil
	}
	if info, ok := m.profiles.Get(t.Key()); ok {
		return info
	}
	info, err := m.gateway.UserInfo(ctx, t)
	if err != nil {
		m.logger.Warn("unable to fetch user profile", "error", err)
		return nil
	}
	m.profiles.Set(t.Key(), info)
	return info
}

// Logout forgets the session of the access_token key and returns the
// provider's end session URL for it.  The URL is empty when the provider
// doesn't support RP initiated logout.
func (m *Manager) Logout(ctx context.Context, key string) string {
	t := m.tokens.Peek(key)
	logoutURL, err := m.gateway.LogoutURL(ctx, t)
	if err != nil {
		m.logger.Debug("no logout URL", "error", err)
		logoutURL = ""
	}
	m.tokens.Remove(key)
	m.profiles.Remove(key)
	if t != nil && t.Key() != key {
		m.profiles.Remove(t.Key())
	}
	return logoutURL
}

// managerOptions is the set of available options for Manager functions
type managerOptions struct {
	withLogger        hclog.Logger
	withNowFunc       func() time.Time
	withProfileCache  bool
	withProfileTTL    time.Duration
	withAttemptTTL    time.Duration
	withRotationGrace time.Duration
	withRedirectIdx   int
	withMaxAttempts   int
}

// managerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func managerDefaults() managerOptions {
	return managerOptions{
		withLogger:        hclog.NewNullLogger(),
		withProfileCache:  true,
		withProfileTTL:    DefaultProfileTTL,
		withAttemptTTL:    DefaultAttemptTTL,
		withRotationGrace: DefaultRotationGrace,
		withMaxAttempts:   DefaultMaxAttempts,
	}
}

// getManagerOpts gets the manager defaults and applies the opt overrides
// passed in
func getManagerOpts(opt ...Option) managerOptions {
	opts := managerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
