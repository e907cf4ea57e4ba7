// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/oidcrp/oidc"
)

// AuthenErrorResponse represents Oauth2 error responses.  See:
// https://openid.net/specs/openid-connect-core-1_0.html#AuthError
type AuthenErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
}

// CallbackResult is what Callback attaches to the request context.
type CallbackResult struct {
	// Status is http.StatusOK on success and http.StatusUnauthorized on
	// failure.
	Status int

	// Token is set on success.
	Token *oidc.Token

	// ReturnTo is the local path the user was on before logging in, if
	// known.
	ReturnTo string

	// Err is set on failure.
	Err error

	// ProviderError is set when the provider redirected back with an error
	// instead of a code.
	ProviderError *AuthenErrorResponse
}

// Callback creates the middleware for the provider's redirect back to the
// relying party.  It completes the login identified by the "state" parameter
// with the "code" parameter.
//
// On success the token's Authorization cookie is set and the
// before-callback-location cookie is cleared.  With WithRedirect(true) the
// user is then redirected to where they were before logging in (when that's
// known) and the next handler isn't called.
//
// On failure no cookie is set and the response status is 401 unless the next
// handler writes another one.
//
// Either way the next handler can get the outcome with
// CallbackResultFromContext.
//
// Supported options:
//   - WithRedirect
//   - WithLogger
//   - WithSecureCookies
//   - WithCookiePath
func Callback(s Sessions, opt ...Option) func(http.Handler) http.Handler {
	opts := getOpts(opt...)
	jar := newCookieJar(opts)
	logger := opts.withLogger
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			const op = "middleware.Callback"
			ctx := req.Context()
			res := complete(ctx, s, req)
			if res.Err != nil {
				logger.Debug("login failed", "error", res.Err)
				ctx = context.WithValue(ctx, callbackResultKey, res)
				dw := &defaultStatusWriter{ResponseWriter: w, status: http.StatusUnauthorized}
				next.ServeHTTP(dw, req.WithContext(ctx))
				dw.flush()
				return
			}

			jar.setToken(w, res.Token)
			if stashed := returnToFromRequest(req); stashed != "" {
				res.ReturnTo = stashed
			}
			jar.clear(w, ReturnToCookie)
			if opts.withRedirect && res.ReturnTo != "" {
				logger.Trace("login complete, redirecting", "op", op, "location", res.ReturnTo)
				http.Redirect(w, req, res.ReturnTo, http.StatusFound)
				return
			}
			ctx = context.WithValue(ctx, callbackResultKey, res)
			ctx = withToken(ctx, res.Token)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func complete(ctx context.Context, s Sessions, req *http.Request) *CallbackResult {
	const op = "middleware.complete"
	// get parameters from either the body or query parameters.
	// FormValue prioritizes body values, if found.
	if e := req.FormValue("error"); e != "" {
		return &CallbackResult{
			Status: http.StatusUnauthorized,
			Err:    fmt.Errorf("%s: %w: provider returned %q", op, oidc.ErrExchange, e),
			ProviderError: &AuthenErrorResponse{
				Error:       e,
				Description: req.FormValue("error_description"),
				URI:         req.FormValue("error_uri"),
			},
		}
	}
	t, returnTo, err := s.Complete(ctx, req.FormValue("state"), req.FormValue("code"))
	if err != nil {
		return &CallbackResult{
			Status: http.StatusUnauthorized,
			Err:    fmt.Errorf("%s: %w", op, err),
		}
	}
	return &CallbackResult{
		Status:   http.StatusOK,
		Token:    t,
		ReturnTo: localPath(returnTo),
	}
}

// defaultStatusWriter sends status unless the handler it's passed to sends
// its own.
type defaultStatusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *defaultStatusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		w.ResponseWriter.WriteHeader(code)
	}
}

func (w *defaultStatusWriter) Write(b []byte) (int, error) {
	w.WriteHeader(w.status)
	return w.ResponseWriter.Write(b)
}

// flush sends the default status when nothing was written.
func (w *defaultStatusWriter) flush() {
	w.WriteHeader(w.status)
}

// Unwrap returns the wrapped http.ResponseWriter.
func (w *defaultStatusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
