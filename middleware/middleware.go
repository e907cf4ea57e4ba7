// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"

	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

// Sessions is the session state the middleware works with.  *session.Manager
// is Sessions.
type Sessions interface {
	Login(ctx context.Context, returnTo string) (string, error)
	Complete(ctx context.Context, state, code string) (*oidc.Token, string, error)
	Token(ctx context.Context, key string) session.Result
	Profile(ctx context.Context, t *oidc.Token) *oidc.UserInfo
	Logout(ctx context.Context, key string) string
}

var _ Sessions = (*session.Manager)(nil)
