// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

const testRedirect = "https://example.com/callback"

// testProviderPair starts a TestProvider and creates a Provider configured to
// use it.
func testProviderPair(t *testing.T, opt ...Option) (*TestProvider, *Provider) {
	t.Helper()
	require := require.New(t)
	tp := StartTestProvider(t)
	tp.SetClientCreds("test-client-id", "test-client-secret")
	tp.SetAllowedRedirectURIs([]string{testRedirect, "https://example.com/other"})
	tp.SetExpectedAuthCode("valid-code")

	opts := append([]Option{
		WithIssuer(tp.Addr()),
		WithProviderCA(tp.CACert()),
		WithSupportedSigningAlgs(ES256),
	}, opt...)
	c, err := NewConfig(
		"test-client-id",
		"test-client-secret",
		[]string{testRedirect, "https://example.com/other"},
		nil,
		[]string{"email", "openid"},
		opts...,
	)
	require.NoError(err)
	p, err := NewProvider(c)
	require.NoError(err)
	t.Cleanup(p.Done)
	return tp, p
}

// testLogin runs an authorization code flow against the test provider and
// returns the attempt along with the code and state the provider sent back.
func testLogin(t *testing.T, tp *TestProvider, p *Provider, opt ...Option) (a *Attempt, code, state string) {
	t.Helper()
	require := require.New(t)
	a, err := NewAttempt(time.Minute, opt...)
	require.NoError(err)
	authURL, err := p.AuthURL(context.Background(), a)
	require.NoError(err)
	code, state = tp.Authorize(authURL)
	return a, code, state
}

func TestNewProvider(t *testing.T) {
	t.Parallel()
	t.Run("nil-config", func(t *testing.T) {
		assert := assert.New(t)
		p, err := NewProvider(nil)
		assert.Nil(p)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
	t.Run("invalid-config", func(t *testing.T) {
		assert := assert.New(t)
		p, err := NewProvider(&Config{})
		assert.Nil(p)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
	})
	t.Run("lazy-discovery", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		assert.Equal(0, tp.DiscoveryRequests())
		assert.NotNil(p.Config())
	})
}

func TestProvider_Discover(t *testing.T) {
	t.Parallel()
	t.Run("single-flight", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)

		const workers = 20
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.Discover(context.Background())
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(err)
		}
		assert.Equal(1, tp.DiscoveryRequests())

		_, err := p.Discover(context.Background())
		require.NoError(err)
		assert.Equal(1, tp.DiscoveryRequests())
	})
	t.Run("failures-are-retried", func(t *testing.T) {
		assert := assert.New(t)
		// the trailing slash doesn't match the issuer the provider reports
		tp, p := testProviderPair(t)
		p.config.Issuer = tp.Addr() + "/"

		_, err := p.Discover(context.Background())
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
		_, err = p.Discover(context.Background())
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
		assert.Equal(2, tp.DiscoveryRequests())
	})
	t.Run("after-done", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		p.Done()
		_, err := p.Discover(context.Background())
		assert.Truef(errors.Is(err, ErrDiscovery), "wanted \"%s\" but got \"%s\"", ErrDiscovery, err)
	})
}

func TestProvider_AuthURL(t *testing.T) {
	t.Parallel()
	t.Run("code-flow", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t, WithUILocales(language.AmericanEnglish, language.German))
		a, err := NewAttempt(time.Minute, WithRedirectIndex(1))
		require.NoError(err)

		got, err := p.AuthURL(context.Background(), a)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal(tp.Addr()+"/authorize", u.Scheme+"://"+u.Host+u.Path)

		q := u.Query()
		assert.Equal("code", q.Get("response_type"))
		assert.Equal("test-client-id", q.Get("client_id"))
		assert.Equal("https://example.com/other", q.Get("redirect_uri"))
		assert.Equal("openid email", q.Get("scope"))
		assert.Equal(a.State(), q.Get("state"))
		assert.Equal(a.Nonce(), q.Get("nonce"))
		assert.Equal(a.CodeVerifier().Challenge(), q.Get("code_challenge"))
		assert.Equal("S256", q.Get("code_challenge_method"))
		assert.Equal("en-US de", q.Get("ui_locales"))
		assert.Empty(q.Get("code_verifier"))
	})
	t.Run("response-types", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)
		p.config.ResponseTypes = []string{ResponseTypeCode, ResponseTypeIDToken}
		a, err := NewAttempt(time.Minute)
		require.NoError(err)
		got, err := p.AuthURL(context.Background(), a)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("code id_token", u.Query().Get("response_type"))
	})
	t.Run("nil-attempt", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.AuthURL(context.Background(), nil)
		assert.Truef(errors.Is(err, ErrNilParameter), "wanted \"%s\" but got \"%s\"", ErrNilParameter, err)
	})
	t.Run("bad-redirect-index", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		a, err := NewAttempt(time.Minute, WithRedirectIndex(5))
		require.NoError(err)
		_, err = p.AuthURL(context.Background(), a)
		assert.Truef(errors.Is(err, ErrInvalidParameter), "wanted \"%s\" but got \"%s\"", ErrInvalidParameter, err)
		assert.Equal(0, tp.DiscoveryRequests())
	})
}

func TestProvider_Exchange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		a, code, state := testLogin(t, tp, p)
		require.Equal(a.State(), state)

		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(err)
		assert.NotEmpty(tk.AccessToken)
		assert.NotEmpty(tk.RefreshToken)
		assert.NotEmpty(tk.IDToken)
		assert.False(tk.Expired(time.Now()))
		assert.WithinDuration(time.Now().Add(5*time.Minute), tk.Expiry, 10*time.Second)
		assert.Equal("alice@example.com", tk.Claims["sub"])
		assert.Equal(a.Nonce(), tk.Claims["nonce"])
		assert.Equal(1, tp.TokenRequests())
	})
	t.Run("custom-claims-pass-through", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetCustomClaims(map[string]interface{}{"roles": []interface{}{"admin"}})
		a, code, state := testLogin(t, tp, p)
		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(err)
		assert.Equal([]interface{}{"admin"}, tk.Claims["roles"])
	})
	t.Run("state-mismatch", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		a, code, _ := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, "st_forged", code)
		assert.True(errors.Is(err, ErrExchange))
		assert.Truef(errors.Is(err, ErrResponseStateInvalid), "wanted \"%s\" but got \"%s\"", ErrResponseStateInvalid, err)
		assert.Equal(0, tp.TokenRequests())
	})
	t.Run("expired-attempt", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		now := time.Now()
		a, code, state := testLogin(t, tp, p, WithNow(func() time.Time { return now }))
		now = now.Add(time.Minute)
		_, err := p.Exchange(ctx, a, state, code)
		assert.True(errors.Is(err, ErrExchange))
		assert.Truef(errors.Is(err, ErrExpiredAttempt), "wanted \"%s\" but got \"%s\"", ErrExpiredAttempt, err)
	})
	t.Run("empty-code", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		a, _, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, "")
		assert.True(errors.Is(err, ErrExchange))
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
	t.Run("rejected-code", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		a, _, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, "wrong-code")
		assert.Truef(errors.Is(err, ErrExchange), "wanted \"%s\" but got \"%s\"", ErrExchange, err)
	})
	t.Run("wrong-verifier", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		a, code, state := testLogin(t, tp, p)
		other, err := NewCodeVerifier()
		require.NoError(err)
		a.verifier = other
		_, err = p.Exchange(ctx, a, state, code)
		assert.Truef(errors.Is(err, ErrExchange), "wanted \"%s\" but got \"%s\"", ErrExchange, err)
	})
	t.Run("missing-id-token", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetOmitIDTokens(true)
		a, code, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, code)
		assert.True(errors.Is(err, ErrExchange))
		assert.Truef(errors.Is(err, ErrMissingIDToken), "wanted \"%s\" but got \"%s\"", ErrMissingIDToken, err)
	})
	t.Run("wrong-audience", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetCustomAudience("eve")
		a, code, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, code)
		assert.Truef(errors.Is(err, ErrExchange), "wanted \"%s\" but got \"%s\"", ErrExchange, err)
	})
	t.Run("configured-audiences", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t, WithAudiences("bob"))
		tp.SetCustomAudience("eve")
		a, code, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, code)
		assert.True(errors.Is(err, ErrExchange))
		assert.Truef(errors.Is(err, ErrInvalidAudience), "wanted \"%s\" but got \"%s\"", ErrInvalidAudience, err)
	})
	t.Run("provider-error", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetFailExchange(true)
		a, code, state := testLogin(t, tp, p)
		_, err := p.Exchange(ctx, a, state, code)
		assert.True(errors.Is(err, ErrExchange))
		assert.False(errors.Is(err, ErrRefresh))
		assert.False(errors.Is(err, ErrDiscovery))
	})
}

func TestProvider_Refresh(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	login := func(t *testing.T, tp *TestProvider, p *Provider) *Token {
		a, code, state := testLogin(t, tp, p)
		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(t, err)
		return tk
	}
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tk := login(t, tp, p)

		refreshed, err := p.Refresh(ctx, tk)
		require.NoError(err)
		assert.NotEqual(tk.AccessToken, refreshed.AccessToken)
		assert.Equal(tk.RefreshToken, refreshed.RefreshToken)
		assert.NotEmpty(refreshed.IDToken)
		assert.Equal("alice@example.com", refreshed.Claims["sub"])
		assert.Equal(1, tp.RefreshRequests())
	})
	t.Run("id-token-carried-over", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tk := login(t, tp, p)
		tp.SetOmitIDTokens(true)

		refreshed, err := p.Refresh(ctx, tk)
		require.NoError(err)
		assert.Equal(tk.IDToken, refreshed.IDToken)
		assert.Equal(tk.Claims, refreshed.Claims)
	})
	t.Run("not-refreshable", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		_, err := p.Refresh(ctx, &Token{AccessToken: "at_only"})
		assert.True(errors.Is(err, ErrRefresh))
		assert.True(errors.Is(err, ErrInvalidParameter))
		assert.Equal(0, tp.RefreshRequests())
		assert.Equal(0, tp.DiscoveryRequests())
	})
	t.Run("rejected", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tk := login(t, tp, p)
		tp.SetFailRefresh(true)
		_, err := p.Refresh(ctx, tk)
		assert.Truef(errors.Is(err, ErrRefresh), "wanted \"%s\" but got \"%s\"", ErrRefresh, err)
		assert.False(errors.Is(err, ErrExchange))
	})
	t.Run("nil-token", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.Refresh(ctx, nil)
		assert.True(errors.Is(err, ErrNilParameter))
	})
}

func TestProvider_UserInfo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("success", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetUserInfoReply(map[string]interface{}{
			"name":               "Alice Doe-Smith",
			"email":              "alice@example.com",
			"group":              "testers",
			"type":               "staff",
			"birthdate":          "1990-01-02",
			"birthdateTimestamp": "631238400",
		})
		a, code, state := testLogin(t, tp, p)
		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(err)

		got, err := p.UserInfo(ctx, tk)
		require.NoError(err)
		assert.Equal(&UserInfo{
			Subject:            "alice@example.com",
			Name:               "Alice Doe-Smith",
			Email:              "alice@example.com",
			Group:              "testers",
			Type:               "staff",
			Birthdate:          "1990-01-02",
			BirthdateTimestamp: "631238400",
		}, got)
		assert.Equal(1, tp.UserInfoRequests())
	})
	t.Run("numeric-birthdate-timestamp", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		tp.SetUserInfoReply(map[string]interface{}{
			"name":               "Alice Doe-Smith",
			"birthdateTimestamp": 946684800,
		})
		a, code, state := testLogin(t, tp, p)
		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(err)

		got, err := p.UserInfo(ctx, tk)
		require.NoError(err)
		assert.Equal("Alice Doe-Smith", got.Name)
		assert.Equal(Timestamp("946684800"), got.BirthdateTimestamp)
		bd, err := got.BirthdateTime()
		require.NoError(err)
		assert.True(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC).Equal(bd))
	})
	t.Run("subject-mismatch", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t)
		a, code, state := testLogin(t, tp, p)
		tk, err := p.Exchange(ctx, a, state, code)
		require.NoError(err)
		tp.SetExpectedSubject("eve@example.com")

		_, err = p.UserInfo(ctx, tk)
		assert.Truef(errors.Is(err, ErrProfileFetch), "wanted \"%s\" but got \"%s\"", ErrProfileFetch, err)
	})
	t.Run("unknown-access-token", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.UserInfo(ctx, &Token{AccessToken: "at_unknown"})
		assert.Truef(errors.Is(err, ErrProfileFetch), "wanted \"%s\" but got \"%s\"", ErrProfileFetch, err)
	})
	t.Run("unsupported", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetDisableUserInfo(true)
		_, err := p.UserInfo(ctx, &Token{AccessToken: "at_unknown"})
		assert.Truef(errors.Is(err, ErrProfileFetch), "wanted \"%s\" but got \"%s\"", ErrProfileFetch, err)
	})
	t.Run("missing-access-token", func(t *testing.T) {
		assert := assert.New(t)
		_, p := testProviderPair(t)
		_, err := p.UserInfo(ctx, &Token{})
		assert.True(errors.Is(err, ErrProfileFetch))
		assert.True(errors.Is(err, ErrInvalidParameter))
	})
}

func TestProvider_LogoutURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	t.Run("with-id-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		tp, p := testProviderPair(t, WithPostLogoutRedirectURL("https://example.com/bye"))
		got, err := p.LogoutURL(ctx, &Token{AccessToken: "at", IDToken: "header.claims.sig"})
		require.NoError(err)
		require.True(strings.HasPrefix(got, tp.Addr()+"/logout?"))
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Equal("test-client-id", u.Query().Get("client_id"))
		assert.Equal("header.claims.sig", u.Query().Get("id_token_hint"))
		assert.Equal("https://example.com/bye", u.Query().Get("post_logout_redirect_uri"))
	})
	t.Run("nil-token", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		_, p := testProviderPair(t)
		got, err := p.LogoutURL(ctx, nil)
		require.NoError(err)
		u, err := url.Parse(got)
		require.NoError(err)
		assert.Empty(u.Query().Get("id_token_hint"))
		assert.Empty(u.Query().Get("post_logout_redirect_uri"))
	})
	t.Run("unsupported", func(t *testing.T) {
		assert := assert.New(t)
		tp, p := testProviderPair(t)
		tp.SetDisableEndSession(true)
		_, err := p.LogoutURL(ctx, nil)
		assert.Truef(errors.Is(err, ErrMissingEndSession), "wanted \"%s\" but got \"%s\"", ErrMissingEndSession, err)
	})
}

func TestProvider_VerifyIDToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	assert, require := assert.New(t), require.New(t)
	tp, p := testProviderPair(t)
	a, code, state := testLogin(t, tp, p)
	tk, err := p.Exchange(ctx, a, state, code)
	require.NoError(err)

	claims, err := p.VerifyIDToken(ctx, tk.IDToken, a.Nonce())
	require.NoError(err)
	assert.Equal("alice@example.com", claims["sub"])

	_, err = p.VerifyIDToken(ctx, tk.IDToken, "n_wrong")
	assert.Truef(errors.Is(err, ErrInvalidNonce), "wanted \"%s\" but got \"%s\"", ErrInvalidNonce, err)

	_, err = p.VerifyIDToken(ctx, "", "")
	assert.True(errors.Is(err, ErrInvalidParameter))
}
