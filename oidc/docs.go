// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
oidc is a package for relying parties using the OIDC authorization code flow
with PKCE.

Primary types provided by the package

* Config: the relying party's registration with a provider (client ID and
secret, redirect URLs, response types, scopes, supported signing algorithms,
etc).  The issuer defaults to the CUSTOM_ISSUER_URL environment variable,
or else DefaultIssuer.

* Provider: the gateway to one provider.  Discovery runs once, lazily, and is
shared by concurrent callers.  The provider builds auth URLs, exchanges codes
for tokens, refreshes tokens, fetches user info and builds end session URLs.

* Attempt: one user's login attempt.  It carries the state, nonce and PKCE
code verifier needed to safely complete the flow, and it expires.

* Token: an access_token, its expiry and (optionally) a refresh_token and
id_token.  Tokens are identified by their access_token.

* UserInfo: the claims returned by the provider's userinfo endpoint.

* Alg: represents asymmetric signing algorithms

Errors

Failures talking to the provider wrap one of ErrDiscovery, ErrExchange,
ErrRefresh or ErrProfileFetch, so callers can use errors.Is to tell them apart.

Testing

TestProvider is an in-process provider suitable for exercising a relying
party end to end in unit tests.

Examples

* A small relying party server:
oidc/examples/server/
*/
package oidc
