// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"net/http"
)

// Authenticate creates the middleware which requires a valid session.  The
// access_token is taken from the Authorization cookie, or else from an
// "Authorization: Bearer" header.
//
// Without a usable token the current request URI is stashed in the
// before-callback-location cookie and the user is redirected to the provider
// to log in; the next handler isn't called.  When no login can be started
// the response is a 401.
//
// With a usable token the Authorization cookie is updated if the token was
// refreshed, the token and the user's profile are attached to the request
// context (see TokenFromContext and UserInfoFromContext) and the next handler
// is called.  A profile which can't be fetched doesn't block the request.
//
// Supported options:
//   - WithLogger
//   - WithSecureCookies
//   - WithCookiePath
//   - WithReturnToTTL
func Authenticate(s Sessions, opt ...Option) func(http.Handler) http.Handler {
	opts := getOpts(opt...)
	jar := newCookieJar(opts)
	logger := opts.withLogger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			key, fromCookie := accessTokenFromRequest(req)
			if key != "" {
				r := s.Token(ctx, key)
				if r.OK() {
					if r.Token.Key() != key {
						jar.setToken(w, r.Token)
					}
					ctx = withToken(ctx, r.Token)
					ctx = withUserInfo(ctx, s.Profile(ctx, r.Token))
					next.ServeHTTP(w, req.WithContext(ctx))
					return
				}
				logger.Debug("presented token is not usable", "status", r.Status.String())
				if fromCookie {
					jar.clear(w, AuthorizationCookie)
				}
			}

			returnTo := req.URL.RequestURI()
			authURL, err := s.Login(ctx, returnTo)
			if err != nil {
				logger.Error("unable to start login", "error", err)
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			jar.setReturnTo(w, returnTo, opts.withReturnToTTL)
			http.Redirect(w, req, authURL, http.StatusFound)
		})
	}
}
