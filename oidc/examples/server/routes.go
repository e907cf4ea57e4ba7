// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/json"
	"html"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/middleware"
)

func newRouter(s middleware.Sessions, logger hclog.Logger, secure bool) http.Handler {
	opts := []middleware.Option{
		middleware.WithLogger(logger.Named("http")),
		middleware.WithSecureCookies(secure),
	}
	r := chi.NewRouter()
	r.With(middleware.Callback(s, append(opts, middleware.WithRedirect(true))...)).Get("/callback", callbackDone)
	r.With(middleware.Logout(s, append(opts, middleware.WithRedirect(true))...)).Get("/logout", loggedOut)
	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s, opts...))
		r.Get("/", home)
		r.Get("/profile", profile)
	})
	return r
}

func home(w http.ResponseWriter, req *http.Request) {
	name := "there"
	if info := middleware.UserInfoFromContext(req.Context()); info != nil && info.Name != "" {
		name = info.Name
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!doctype html><p>Hello ` + html.EscapeString(name) + `.</p>` +
		`<p><a href="/profile">profile</a> | <a href="/logout">log out</a></p>`))
}

func profile(w http.ResponseWriter, req *http.Request) {
	info := middleware.UserInfoFromContext(req.Context())
	if info == nil {
		http.Error(w, "profile unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(info)
}

// callbackDone is reached when a login failed, or when it succeeded without
// a location to send the user back to.
func callbackDone(w http.ResponseWriter, req *http.Request) {
	res := middleware.CallbackResultFromContext(req.Context())
	if res != nil && res.Status == http.StatusOK {
		http.Redirect(w, req, "/", http.StatusFound)
		return
	}
	msg := "login failed"
	if res != nil && res.ProviderError != nil {
		msg += ": " + res.ProviderError.Error
		if res.ProviderError.Description != "" {
			msg += ": " + res.ProviderError.Description
		}
	}
	http.Error(w, msg, http.StatusUnauthorized)
}

// loggedOut is reached when the provider has no end session endpoint.
func loggedOut(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(`<!doctype html><p>Logged out. <a href="/">Log in again</a></p>`))
}
