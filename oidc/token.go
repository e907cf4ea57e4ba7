// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// Token represents the tokens returned by a provider from a successful
// authorization code exchange or refresh. The AccessToken is the bearer value
// presented by clients and is used as the Token's cache key.
//
// A Token is never mutated once created: a refresh produces a new Token.
type Token struct {
	AccessToken  AccessToken
	RefreshToken RefreshToken
	IDToken      IDToken

	// Expiry is the access_token's expiry.  A zero Expiry means the provider
	// did not send an expires_in and the token never expires.
	Expiry time.Time

	// Claims are the verified id_token claims, passed through as-is.
	Claims map[string]interface{}
}

// NewToken creates a new Token from an oauth2 token, along with its optional
// id_token and that id_token's claims.
func NewToken(t *oauth2.Token, idToken IDToken, claims map[string]interface{}) (*Token, error) {
	const op = "NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is empty: %w", op, ErrInvalidParameter)
	}
	return &Token{
		AccessToken:  AccessToken(t.AccessToken),
		RefreshToken: RefreshToken(t.RefreshToken),
		IDToken:      idToken,
		Expiry:       t.Expiry,
		Claims:       claims,
	}, nil
}

// Key returns the cache key for the token: its raw access_token.
func (t *Token) Key() string {
	if t == nil {
		return ""
	}
	return string(t.AccessToken)
}

// Expired reports whether the token is expired at now.  Comparison is done
// at whole second granularity and a token exactly at its expiry is expired.
func (t *Token) Expired(now time.Time) bool {
	if t == nil {
		return true
	}
	if t.Expiry.IsZero() {
		return false
	}
	return now.Unix() >= t.Expiry.Unix()
}

// Refreshable reports whether the token carries a refresh_token.
func (t *Token) Refreshable() bool {
	return t != nil && t.RefreshToken != ""
}

// Clone returns a copy of the token which shares nothing mutable with the
// original.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Claims != nil {
		cp.Claims = make(map[string]interface{}, len(t.Claims))
		for k, v := range t.Claims {
			cp.Claims[k] = v
		}
	}
	return &cp
}

// StaticTokenSource returns an oauth2.TokenSource which always returns the
// token's access_token.
func (t *Token) StaticTokenSource() oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(t.AccessToken),
		TokenType:   "Bearer",
		Expiry:      t.Expiry,
	})
}
