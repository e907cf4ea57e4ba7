// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc/internal/strutils"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// Provider is the relying party's single point of contact with an OIDC
// provider.  It discovers the provider lazily (at most once), and supports the
// authorization code flow with PKCE: building auth URLs, exchanging codes for
// Tokens, refreshing Tokens, fetching user info and building logout URLs.
//
// Every request sent to the provider is bounded by the Config's
// ProviderTimeout.
type Provider struct {
	config *Config
	client *http.Client
	logger hclog.Logger

	nowFunc func() time.Time

	mu            sync.RWMutex
	provider      *oidc.Provider
	endSessionURL string

	// discovery makes sure only one discovery request is in flight, no
	// matter how many requests need the provider at the same time.
	discovery singleflight.Group

	// backgroundCtx is the context used by the provider for background
	// activities like: discovery and refreshing JWKs key sets
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities running
	// in spawned go routines.
	backgroundCtxCancel context.CancelFunc
}

// NewProvider creates a Provider.  It does not contact the provider: discovery
// happens on first use (see Provider.Discover).
//
// See Provider.Done() which must be called to release provider resources.
//
// Supported options:
//   - WithLogger
//   - WithNow
func NewProvider(c *Config, opt ...Option) (*Provider, error) {
	const op = "NewProvider"
	if c == nil {
		return nil, fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: provider config is invalid: %w", op, err)
	}
	opts := getProviderOpts(opt...)

	client, err := c.HTTPClient()
	if err != nil {
		return nil, fmt.Errorf("%s: unable to create http client: %w", op, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Provider{
		config:              c,
		client:              client,
		logger:              opts.withLogger,
		nowFunc:             opts.withNowFunc,
		backgroundCtx:       ctx,
		backgroundCtxCancel: cancel,
	}, nil
}

// Done with the provider's background resources and must be called for every
// Provider created
func (p *Provider) Done() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.backgroundCtxCancel != nil {
		p.backgroundCtxCancel()
		p.backgroundCtxCancel = nil
	}
}

// Config returns the provider's config.
func (p *Provider) Config() *Config {
	return p.config
}

// Discover returns the discovered provider, performing discovery if it hasn't
// been done yet.  Concurrent callers share one in-flight discovery request.  A
// successful discovery is kept for the lifetime of the Provider; a failed one
// is not, so the next caller tries again.
func (p *Provider) Discover(ctx context.Context) (*oidc.Provider, error) {
	const op = "Provider.Discover"
	if provider := p.discovered(); provider != nil {
		return provider, nil
	}
	ch := p.discovery.DoChan(p.config.Issuer, func() (interface{}, error) {
		if provider := p.discovered(); provider != nil {
			return provider, nil
		}
		// the shared discovery doesn't belong to any one caller, so it's
		// bound to the provider's background ctx rather than the caller's.
		dctx, cancel := context.WithTimeout(ClientContext(p.backgroundCtx, p.client), p.config.ProviderTimeout)
		defer cancel()
		provider, err := oidc.NewProvider(dctx, p.config.Issuer) // makes http req to issuer for discovery
		if err != nil {
			return nil, err
		}
		var md struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&md); err != nil {
			return nil, fmt.Errorf("unable to read discovery document: %w", err)
		}
		p.mu.Lock()
		p.provider = provider
		p.endSessionURL = md.EndSessionEndpoint
		p.mu.Unlock()
		p.logger.Debug("discovered oidc provider", "issuer", p.config.Issuer, "end_session_supported", md.EndSessionEndpoint != "")
		return provider, nil
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			p.logger.Debug("oidc provider discovery failed", "issuer", p.config.Issuer, "error", res.Err)
			return nil, fmt.Errorf("%s: %w: %w", op, ErrDiscovery, res.Err)
		}
		return res.Val.(*oidc.Provider), nil
	}
}

func (p *Provider) discovered() *oidc.Provider {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.provider
}

// AuthURL will generate a URL the caller can use to kick off an OIDC
// authorization code flow with PKCE.  The Attempt supplies the state, nonce,
// code challenge and which configured redirect URL the provider should send
// the user back to.
//
// See NewAttempt() to create an Attempt for a user's authentication.
func (p *Provider) AuthURL(ctx context.Context, a *Attempt) (string, error) {
	const op = "Provider.AuthURL"
	if a == nil {
		return "", fmt.Errorf("%s: attempt is nil: %w", op, ErrNilParameter)
	}
	if a.State() == a.Nonce() {
		return "", fmt.Errorf("%s: attempt state and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	redirectURL, err := p.config.RedirectURL(a.RedirectIndex())
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	provider, err := p.Discover(ctx)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	oauth2Config := p.oauth2Config(provider, redirectURL)

	verifier := a.CodeVerifier()
	authCodeOpts := []oauth2.AuthCodeOption{
		oidc.Nonce(a.Nonce()),
		oauth2.SetAuthURLParam("code_challenge", verifier.Challenge()),
		oauth2.SetAuthURLParam("code_challenge_method", string(verifier.Method())),
	}
	if len(p.config.ResponseTypes) != 1 || p.config.ResponseTypes[0] != ResponseTypeCode {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("response_type", strings.Join(p.config.ResponseTypes, " ")))
	}
	if len(p.config.UILocales) > 0 {
		locales := make([]string, 0, len(p.config.UILocales))
		for _, l := range p.config.UILocales {
			locales = append(locales, l.String())
		}
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", strings.Join(locales, " ")))
	}
	return oauth2Config.AuthCodeURL(a.State(), authCodeOpts...), nil
}

// Exchange will request a token from the oidc token endpoint, using the
// authorizationCode and authorizationState it received in an earlier
// successful oidc authentication response.  The Attempt's code verifier is
// sent with the request.
//
// It will also validate the authorizationState it receives against the
// Attempt and verify the returned id_token (signature, audience and nonce).
//
// Every error returned wraps ErrExchange (or ErrDiscovery when the provider
// could not be discovered).
func (p *Provider) Exchange(ctx context.Context, a *Attempt, authorizationState, authorizationCode string) (*Token, error) {
	const op = "Provider.Exchange"
	if a == nil {
		return nil, fmt.Errorf("%s: %w: attempt is nil: %w", op, ErrExchange, ErrNilParameter)
	}
	if a.State() != authorizationState {
		return nil, fmt.Errorf("%s: %w: authentication state and authorization state are not equal: %w", op, ErrExchange, ErrResponseStateInvalid)
	}
	if a.IsExpired() {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExchange, ErrExpiredAttempt)
	}
	if authorizationCode == "" {
		return nil, fmt.Errorf("%s: %w: authorization code is empty: %w", op, ErrExchange, ErrInvalidParameter)
	}
	redirectURL, err := p.config.RedirectURL(a.RedirectIndex())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExchange, err)
	}
	provider, err := p.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rctx, cancel := p.requestContext(ctx)
	defer cancel()
	oauth2Token, err := p.oauth2Config(provider, redirectURL).Exchange(
		rctx,
		authorizationCode,
		oauth2.SetAuthURLParam("code_verifier", a.CodeVerifier().Verifier()),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to exchange auth code with provider: %w", op, ErrExchange, err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExchange, ErrMissingIDToken)
	}
	claims, err := p.verifyIDToken(rctx, provider, IDToken(rawIDToken), a.Nonce())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: id_token failed verification: %w", op, ErrExchange, err)
	}
	t, err := NewToken(oauth2Token, IDToken(rawIDToken), claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrExchange, err)
	}
	return t, nil
}

// Refresh exchanges the token's refresh_token for a new Token.  When the
// provider returns a new id_token it's verified, otherwise the existing
// id_token (and its claims) are carried over.  When the provider doesn't
// rotate the refresh_token, the existing one is kept.
//
// A token without a refresh_token fails without contacting the provider.
// Every error returned wraps ErrRefresh (or ErrDiscovery).
func (p *Provider) Refresh(ctx context.Context, t *Token) (*Token, error) {
	const op = "Provider.Refresh"
	if t == nil {
		return nil, fmt.Errorf("%s: %w: token is nil: %w", op, ErrRefresh, ErrNilParameter)
	}
	if !t.Refreshable() {
		return nil, fmt.Errorf("%s: %w: token has no refresh_token: %w", op, ErrRefresh, ErrInvalidParameter)
	}
	provider, err := p.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rctx, cancel := p.requestContext(ctx)
	defer cancel()
	ts := p.oauth2Config(provider, p.config.RedirectURLs[0]).TokenSource(rctx, &oauth2.Token{
		RefreshToken: string(t.RefreshToken),
	})
	oauth2Token, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("%s: %w: unable to refresh token with provider: %w", op, ErrRefresh, err)
	}

	idToken, claims := t.IDToken, t.Claims
	if raw, ok := oauth2Token.Extra("id_token").(string); ok && raw != "" {
		// nonce isn't required for id_tokens returned from a refresh.
		// See: https://openid.net/specs/openid-connect-core-1_0.html#RefreshTokenResponse
		if claims, err = p.verifyIDToken(rctx, provider, IDToken(raw), ""); err != nil {
			return nil, fmt.Errorf("%s: %w: refreshed id_token failed verification: %w", op, ErrRefresh, err)
		}
		idToken = IDToken(raw)
	}
	refreshed, err := NewToken(oauth2Token, idToken, claims)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrRefresh, err)
	}
	return refreshed, nil
}

// UserInfo gets the user's profile from the provider's userinfo endpoint using
// the token's access_token.  The userinfo subject must match the token's
// id_token subject when the token has one.
//
// Every error returned wraps ErrProfileFetch (or ErrDiscovery).
func (p *Provider) UserInfo(ctx context.Context, t *Token) (*UserInfo, error) {
	const op = "Provider.UserInfo"
	if t == nil || t.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w: token is missing an access_token: %w", op, ErrProfileFetch, ErrInvalidParameter)
	}
	provider, err := p.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rctx, cancel := p.requestContext(ctx)
	defer cancel()
	info, err := provider.UserInfo(rctx, t.StaticTokenSource())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: provider UserInfo request failed: %w", op, ErrProfileFetch, err)
	}
	var u UserInfo
	if err := info.Claims(&u); err != nil {
		return nil, fmt.Errorf("%s: %w: failed to get UserInfo claims: %w", op, ErrProfileFetch, err)
	}
	if u.Subject == "" {
		u.Subject = info.Subject
	}
	if sub, ok := t.Claims["sub"].(string); ok && sub != "" && sub != u.Subject {
		return nil, fmt.Errorf("%s: %w: userinfo subject %q doesn't match id_token subject %q: %w", op, ErrProfileFetch, u.Subject, sub, ErrInvalidParameter)
	}
	return &u, nil
}

// LogoutURL returns the provider's end_session_endpoint URL for the token.  The
// token's id_token is sent as the id_token_hint when it has one, and the
// Config's PostLogoutRedirectURL is sent when it's set.  The token may be nil.
//
// See: https://openid.net/specs/openid-connect-rpinitiated-1_0.html
func (p *Provider) LogoutURL(ctx context.Context, t *Token) (string, error) {
	const op = "Provider.LogoutURL"
	if _, err := p.Discover(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	p.mu.RLock()
	endSession := p.endSessionURL
	p.mu.RUnlock()
	if endSession == "" {
		return "", fmt.Errorf("%s: %w", op, ErrMissingEndSession)
	}
	u, err := url.Parse(endSession)
	if err != nil {
		return "", fmt.Errorf("%s: end_session_endpoint %q is invalid: %w", op, endSession, err)
	}
	q := u.Query()
	q.Set("client_id", p.config.ClientID)
	if t != nil && t.IDToken != "" {
		q.Set("id_token_hint", string(t.IDToken))
	}
	if p.config.PostLogoutRedirectURL != "" {
		q.Set("post_logout_redirect_uri", p.config.PostLogoutRedirectURL)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// VerifyIDToken will verify the inbound IDToken and return its claims.  It
// verifies it's been signed by the provider, it validates the nonce when one
// is given, and performs any additional checks depending on the provider's
// config (audiences, etc).
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#IDTokenValidation
func (p *Provider) VerifyIDToken(ctx context.Context, t IDToken, nonce string) (map[string]interface{}, error) {
	const op = "Provider.VerifyIDToken"
	provider, err := p.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	rctx, cancel := p.requestContext(ctx)
	defer cancel()
	claims, err := p.verifyIDToken(rctx, provider, t, nonce)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return claims, nil
}

func (p *Provider) verifyIDToken(ctx context.Context, provider *oidc.Provider, t IDToken, nonce string) (map[string]interface{}, error) {
	const op = "Provider.verifyIDToken"
	if t == "" {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	algs := make([]string, 0, len(p.config.SupportedSigningAlgs))
	for _, a := range p.config.SupportedSigningAlgs {
		algs = append(algs, string(a))
	}
	oidcConfig := &oidc.Config{
		ClientID:             p.config.ClientID,
		SupportedSigningAlgs: algs,
		SkipClientIDCheck:    len(p.config.Audiences) > 0,
		Now:                  p.now,
	}
	oidcIDToken, err := provider.Verifier(oidcConfig).Verify(ctx, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid id_token: %w", op, err)
	}
	if nonce != "" && oidcIDToken.Nonce != nonce {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidNonce)
	}
	if len(p.config.Audiences) > 0 {
		found := false
		for _, v := range p.config.Audiences {
			if strutils.StrListContains(oidcIDToken.Audience, v) {
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidAudience)
		}
	}
	var claims map[string]interface{}
	if err := oidcIDToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: unable to get id_token claims: %w", op, err)
	}
	return claims, nil
}

func (p *Provider) oauth2Config(provider *oidc.Provider, redirectURL string) *oauth2.Config {
	// the "openid" scope is required for oidc flows
	scopes := strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, p.config.Scopes...), false)
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: string(p.config.ClientSecret),
		RedirectURL:  redirectURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
}

// requestContext bounds a request to the provider by the ProviderTimeout and
// carries the provider's http client.
func (p *Provider) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, p.config.ProviderTimeout)
	return ClientContext(ctx, p.client), cancel
}

// now returns the current time using the optional nowFunc
func (p *Provider) now() time.Time {
	if p.nowFunc != nil {
		return p.nowFunc()
	}
	return time.Now() // fallback to this default
}

// providerOptions is the set of available options for Provider functions
type providerOptions struct {
	withLogger  hclog.Logger
	withNowFunc func() time.Time
}

// providerDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func providerDefaults() providerOptions {
	return providerOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

// getProviderOpts gets the provider defaults and applies the opt overrides
// passed in
func getProviderOpts(opt ...Option) providerOptions {
	opts := providerDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithLogger provides an optional logger.  Provider failures are logged at
// the debug level.
//
// Valid for: Provider
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if o, ok := o.(*providerOptions); ok && l != nil {
			o.withLogger = l
		}
	}
}
