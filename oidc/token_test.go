// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"gopkg.in/square/go-jose.v2/jwt"
)

func TestRedactedTokens(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		tk   interface {
			fmt.Stringer
			json.Marshaler
		}
		want string
	}{
		{"access_token", AccessToken("super secret token"), RedactedAccessToken},
		{"refresh_token", RefreshToken("super secret token"), RedactedRefreshToken},
		{"id_token", IDToken("super secret token"), RedactedIDToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			assert.Equalf(tt.want, tt.tk.String(), "String() = %v, want %v", tt.tk.String(), tt.want)
			got, err := tt.tk.MarshalJSON()
			require.NoError(err)
			assert.Equal([]byte(fmt.Sprintf(`"%s"`, tt.want)), got)
		})
	}
}

func TestNewToken(t *testing.T) {
	t.Parallel()
	expiry := time.Now().Add(time.Hour)
	tests := []struct {
		name      string
		tk        *oauth2.Token
		idToken   IDToken
		claims    map[string]interface{}
		want      *Token
		wantErr   bool
		wantIsErr error
	}{
		{
			name:    "valid",
			tk:      &oauth2.Token{AccessToken: "access", RefreshToken: "refresh", Expiry: expiry},
			idToken: "id",
			claims:  map[string]interface{}{"sub": "alice"},
			want: &Token{
				AccessToken:  "access",
				RefreshToken: "refresh",
				IDToken:      "id",
				Expiry:       expiry,
				Claims:       map[string]interface{}{"sub": "alice"},
			},
		},
		{
			name: "no-refresh",
			tk:   &oauth2.Token{AccessToken: "access", Expiry: expiry},
			want: &Token{AccessToken: "access", Expiry: expiry},
		},
		{
			name:      "nil-token",
			wantErr:   true,
			wantIsErr: ErrNilParameter,
		},
		{
			name:      "empty-access-token",
			tk:        &oauth2.Token{RefreshToken: "refresh"},
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			got, err := NewToken(tt.tk, tt.idToken, tt.claims)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			assert.Equal(tt.want, got)
			assert.Equal(string(tt.want.AccessToken), got.Key())
		})
	}
}

func TestToken_Expired(t *testing.T) {
	t.Parallel()
	expiry := time.Unix(100, 0)
	tests := []struct {
		name string
		tk   *Token
		now  time.Time
		want bool
	}{
		{"before", &Token{AccessToken: "a", Expiry: expiry}, time.Unix(99, 0), false},
		{"same-second-before-boundary", &Token{AccessToken: "a", Expiry: time.Unix(100, 900)}, time.Unix(99, 999999999), false},
		{"at-boundary", &Token{AccessToken: "a", Expiry: expiry}, time.Unix(100, 0), true},
		{"sub-second-past-boundary", &Token{AccessToken: "a", Expiry: time.Unix(100, 900)}, time.Unix(100, 1), true},
		{"after", &Token{AccessToken: "a", Expiry: expiry}, time.Unix(101, 0), true},
		{"zero-expiry", &Token{AccessToken: "a"}, time.Unix(1<<40, 0), false},
		{"nil", nil, time.Unix(0, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.tk.Expired(tt.now))
		})
	}
}

func TestToken_Refreshable(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	assert.True((&Token{AccessToken: "a", RefreshToken: "r"}).Refreshable())
	assert.False((&Token{AccessToken: "a"}).Refreshable())
	var nilToken *Token
	assert.False(nilToken.Refreshable())
	assert.Empty(nilToken.Key())
}

func TestToken_Clone(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	orig := &Token{
		AccessToken: "a",
		Expiry:      time.Now(),
		Claims:      map[string]interface{}{"sub": "alice"},
	}
	cp := orig.Clone()
	assert.Equal(orig, cp)
	cp.Claims["sub"] = "bob"
	assert.Equal("alice", orig.Claims["sub"])

	var nilToken *Token
	assert.Nil(nilToken.Clone())
}

func TestToken_StaticTokenSource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tk := &Token{AccessToken: "a", Expiry: time.Now().Add(time.Minute)}
	got, err := tk.StaticTokenSource().Token()
	require.NoError(err)
	assert.Equal("a", got.AccessToken)
	assert.Equal("Bearer", got.TokenType)
}

func TestIDToken_ClaimsSigned(t *testing.T) {
	t.Parallel()
	_, priv := TestGenerateKeys(t)
	signed := TestSignJWT(t, priv, jwt.Claims{Subject: "alice"}, map[string]interface{}{"email": "alice@example.com"})

	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		var claims map[string]interface{}
		require.NoError(IDToken(signed).Claims(&claims))
		assert.Equal("alice", claims["sub"])
		assert.Equal("alice@example.com", claims["email"])
	})
	t.Run("empty", func(t *testing.T) {
		var claims map[string]interface{}
		err := IDToken("").Claims(&claims)
		assert.Truef(t, errors.Is(err, ErrInvalidParameter), "unexpected error: %s", err)
	})
	t.Run("nil-claims", func(t *testing.T) {
		err := IDToken(signed).Claims(nil)
		assert.Truef(t, errors.Is(err, ErrNilParameter), "unexpected error: %s", err)
	})
	t.Run("not-a-jwt", func(t *testing.T) {
		var claims map[string]interface{}
		assert.Error(t, IDToken("not-a-jwt").Claims(&claims))
	})
}
