// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/hashicorp/oidcrp/oidc"
)

// testEpoch is t=0 for tests which count seconds.
var testEpoch = time.Unix(1600000000, 0)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// At sets the clock to secs seconds after testEpoch.
func (c *testClock) At(secs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = testEpoch.Add(time.Duration(secs) * time.Second)
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// testGateway is an in-memory Gateway which counts its calls.
type testGateway struct {
	mu sync.Mutex

	// expiry of the tokens issued by Exchange and Refresh
	expiry time.Time

	// omitRefresh makes Exchange issue tokens without a refresh_token
	omitRefresh  bool
	exchangeErr  error
	refreshErr   error
	userInfoErr  error
	noEndSession bool
	subject      string

	// onRefresh runs inside Refresh before it returns, outside the lock
	onRefresh func()

	seq           int
	authURLCalls  int
	exchangeCalls int
	refreshCalls  int
	userInfoCalls int
}

func newTestGateway(expiry time.Time) *testGateway {
	return &testGateway{expiry: expiry, subject: "abc123"}
}

func (g *testGateway) issue(refresh oidc.RefreshToken) *oidc.Token {
	g.seq++
	return &oidc.Token{
		AccessToken:  oidc.AccessToken(fmt.Sprintf("at-%d", g.seq)),
		RefreshToken: refresh,
		IDToken:      oidc.IDToken(fmt.Sprintf("id-%d", g.seq)),
		Expiry:       g.expiry,
		Claims:       map[string]interface{}{"sub": g.subject},
	}
}

func (g *testGateway) AuthURL(_ context.Context, a *oidc.Attempt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authURLCalls++
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(a.State()), nil
}

func (g *testGateway) Exchange(_ context.Context, a *oidc.Attempt, state, code string) (*oidc.Token, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.exchangeCalls++
	switch {
	case g.exchangeErr != nil:
		return nil, fmt.Errorf("testGateway.Exchange: %w: %w", oidc.ErrExchange, g.exchangeErr)
	case a.State() != state:
		return nil, fmt.Errorf("testGateway.Exchange: %w: %w", oidc.ErrExchange, oidc.ErrResponseStateInvalid)
	case code == "":
		return nil, fmt.Errorf("testGateway.Exchange: %w: %w", oidc.ErrExchange, oidc.ErrInvalidParameter)
	}
	refresh := oidc.RefreshToken("")
	if !g.omitRefresh {
		refresh = oidc.RefreshToken(fmt.Sprintf("rt-%d", g.seq+1))
	}
	return g.issue(refresh), nil
}

func (g *testGateway) Refresh(_ context.Context, t *oidc.Token) (*oidc.Token, error) {
	g.mu.Lock()
	g.refreshCalls++
	onRefresh := g.onRefresh
	g.mu.Unlock()
	if onRefresh != nil {
		onRefresh()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	switch {
	case !t.Refreshable():
		return nil, fmt.Errorf("testGateway.Refresh: %w: %w", oidc.ErrRefresh, oidc.ErrInvalidParameter)
	case g.refreshErr != nil:
		return nil, fmt.Errorf("testGateway.Refresh: %w: %w", oidc.ErrRefresh, g.refreshErr)
	}
	return g.issue(t.RefreshToken), nil
}

func (g *testGateway) UserInfo(_ context.Context, t *oidc.Token) (*oidc.UserInfo, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.userInfoCalls++
	if g.userInfoErr != nil {
		return nil, fmt.Errorf("testGateway.UserInfo: %w: %w", oidc.ErrProfileFetch, g.userInfoErr)
	}
	return &oidc.UserInfo{Subject: g.subject, Name: "Alice"}, nil
}

func (g *testGateway) LogoutURL(_ context.Context, t *oidc.Token) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.noEndSession {
		return "", fmt.Errorf("testGateway.LogoutURL: %w", oidc.ErrMissingEndSession)
	}
	u := "https://idp.example.com/logout"
	if t != nil && t.IDToken != "" {
		u += "?id_token_hint=" + url.QueryEscape(string(t.IDToken))
	}
	return u, nil
}

func (g *testGateway) set(fn func(g *testGateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

func (g *testGateway) calls() (authURL, exchange, refresh, userInfo int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.authURLCalls, g.exchangeCalls, g.refreshCalls, g.userInfoCalls
}

func (g *testGateway) refreshes() int {
	_, _, n, _ := g.calls()
	return n
}

func (g *testGateway) userInfos() int {
	_, _, _, n := g.calls()
	return n
}
