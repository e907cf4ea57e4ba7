// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package middleware provides net/http middleware for a relying party using
the OIDC authorization code flow with PKCE:

  - Callback completes logins when the provider redirects back.
  - Authenticate requires a valid session, sending the user to log in when
    there isn't one.
  - Logout ends the session.

Each returns a func(http.Handler) http.Handler, so they can be used with
routers like chi:

	r := chi.NewRouter()
	r.With(middleware.Callback(m, middleware.WithRedirect(true))).Get("/callback", failed)
	r.With(middleware.Logout(m)).Get("/logout", loggedOut)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(m))
		r.Get("/", home)
	})

The session travels in the Authorization cookie ("Bearer <access_token>"),
and the page the user was on before logging in travels in the
before-callback-location cookie.  Both are HttpOnly.
*/
package middleware
