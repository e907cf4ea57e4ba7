// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// oidcrp (OIDC relying party) provides a collection of related packages which
// let a web application delegate logins to an OIDC provider:
//
//   - oidc: provider discovery, auth URLs, code exchange with PKCE, token
//     refresh, user info and end session URLs.
//   - session: in-memory token and user profile caches, which refresh tokens
//     on demand.
//   - middleware: net/http middleware for the callback, authentication and
//     logout.
//
// See README.md
package oidcrp
