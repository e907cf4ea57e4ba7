// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/oidcrp/oidc"
)

const (
	// AuthorizationCookie holds "Bearer <access_token>" for the session.
	AuthorizationCookie = "Authorization"

	// ReturnToCookie holds where the user was before being sent to log in.
	ReturnToCookie = "before-callback-location"

	bearerPrefix = "Bearer "
)

type cookieJar struct {
	path   string
	secure bool
}

func newCookieJar(opts options) cookieJar {
	return cookieJar{path: opts.withCookiePath, secure: opts.withSecureCookies}
}

// setToken sets the Authorization cookie, expiring with the token.  A token
// without an expiry gets a session cookie.
func (j cookieJar) setToken(w http.ResponseWriter, t *oidc.Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     AuthorizationCookie,
		Value:    bearerPrefix + t.Key(),
		Path:     j.path,
		Expires:  t.Expiry,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j cookieJar) setReturnTo(w http.ResponseWriter, location string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     ReturnToCookie,
		Value:    location,
		Path:     j.path,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (j cookieJar) clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     j.path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   j.secure,
	})
}

// accessTokenFromRequest returns the access_token presented by the client,
// from the Authorization cookie when there is one or else from the
// Authorization header.
func accessTokenFromRequest(req *http.Request) (token string, fromCookie bool) {
	if c, err := req.Cookie(AuthorizationCookie); err == nil {
		if tk := trimBearer(c.Value); tk != "" {
			return tk, true
		}
	}
	return trimBearer(req.Header.Get("Authorization")), false
}

func trimBearer(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}

// returnToFromRequest returns the stashed return-to location.  Only local
// paths are honored.
func returnToFromRequest(req *http.Request) string {
	c, err := req.Cookie(ReturnToCookie)
	if err != nil {
		return ""
	}
	return localPath(c.Value)
}

func localPath(location string) string {
	if !strings.HasPrefix(location, "/") || strings.HasPrefix(location, "//") || strings.HasPrefix(location, "/\\") {
		return ""
	}
	return location
}
