// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"

	"github.com/hashicorp/oidcrp/oidc"
)

type contextKey int

const (
	tokenKey contextKey = iota
	userInfoKey
	logoutURLKey
	callbackResultKey
)

// TokenFromContext returns the token attached by Authenticate or Callback.
func TokenFromContext(ctx context.Context) *oidc.Token {
	t, _ := ctx.Value(tokenKey).(*oidc.Token)
	return t
}

// AccessTokenFromContext returns the access_token of the token attached by
// Authenticate or Callback.
func AccessTokenFromContext(ctx context.Context) (string, bool) {
	t := TokenFromContext(ctx)
	if t == nil {
		return "", false
	}
	return t.Key(), true
}

// UserInfoFromContext returns the user's profile attached by Authenticate.  It
// is nil when the profile couldn't be fetched.
func UserInfoFromContext(ctx context.Context) *oidc.UserInfo {
	u, _ := ctx.Value(userInfoKey).(*oidc.UserInfo)
	return u
}

// LogoutURLFromContext returns the provider's end session URL attached by
// Logout.  It's empty when the provider doesn't support it.
func LogoutURLFromContext(ctx context.Context) string {
	u, _ := ctx.Value(logoutURLKey).(string)
	return u
}

// CallbackResultFromContext returns the result attached by Callback.
func CallbackResultFromContext(ctx context.Context) *CallbackResult {
	r, _ := ctx.Value(callbackResultKey).(*CallbackResult)
	return r
}

func withToken(ctx context.Context, t *oidc.Token) context.Context {
	return context.WithValue(ctx, tokenKey, t)
}

func withUserInfo(ctx context.Context, u *oidc.UserInfo) context.Context {
	return context.WithValue(ctx, userInfoKey, u)
}
