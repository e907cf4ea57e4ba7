// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"net/http"
)

// Logout creates the middleware which ends the session: both cookies are
// cleared and the session's token and profile are forgotten.  The token is the
// one attached by Authenticate when it runs first, or else the one presented
// by the request.
//
// The provider's end session URL is attached to the request context (see
// LogoutURLFromContext).  With WithRedirect(true) the user is redirected
// there and the next handler isn't called; otherwise, or when the provider
// has no end session URL, the next handler is called.
//
// Supported options:
//   - WithRedirect
//   - WithLogger
//   - WithSecureCookies
//   - WithCookiePath
func Logout(s Sessions, opt ...Option) func(http.Handler) http.Handler {
	opts := getOpts(opt...)
	jar := newCookieJar(opts)
	logger := opts.withLogger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			key, ok := AccessTokenFromContext(ctx)
			if !ok {
				key, _ = accessTokenFromRequest(req)
			}
			jar.clear(w, AuthorizationCookie)
			jar.clear(w, ReturnToCookie)

			logoutURL := s.Logout(ctx, key)
			if opts.withRedirect && logoutURL != "" {
				logger.Trace("logged out, redirecting to provider")
				http.Redirect(w, req, logoutURL, http.StatusFound)
				return
			}
			ctx = context.WithValue(ctx, logoutURLKey, logoutURL)
			ctx = withToken(ctx, nil)
			ctx = withUserInfo(ctx, nil)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}
