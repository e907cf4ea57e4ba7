// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package session keeps a relying party's OIDC session state in memory: tokens
keyed by access_token (refreshed lazily when they expire), user profiles
cached for a TTL, and the in-progress logins waiting for the provider's
callback.

A Manager owns all three and is the only thing handlers need:

	p, _ := oidc.NewProvider(config)
	m, _ := session.NewManager(p, session.WithLogger(logger))

	authURL, _ := m.Login(ctx, "/dashboard")     // send the user to authURL
	t, returnTo, err := m.Complete(ctx, state, code) // from the callback
	r := m.Token(ctx, accessToken)                // on every request
	info := m.Profile(ctx, r.Token)
	logoutURL := m.Logout(ctx, accessToken)

Nothing is persisted and nothing is shared between processes.
*/
package session
