// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrInvalidIssuer              = errors.New("invalid issuer")
	ErrUnsupportedAlg             = errors.New("unsupported signing algorithm")
	ErrIDGeneratorFailed          = errors.New("id generation failed")
	ErrExpiredAttempt             = errors.New("authentication attempt is expired")
	ErrResponseStateInvalid       = errors.New("oidc response state")
	ErrMissingIDToken             = errors.New("id_token is missing")
	ErrInvalidNonce               = errors.New("invalid nonce")
	ErrInvalidAudience            = errors.New("invalid audience")
	ErrNotFound                   = errors.New("not found")
	ErrMissingEndSession          = errors.New("provider has no end_session_endpoint")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")

	// The provider interaction failures. Every error returned by one of the
	// Provider's network operations wraps exactly one of these.
	ErrDiscovery    = errors.New("provider discovery failed")
	ErrExchange     = errors.New("authorization code exchange failed")
	ErrRefresh      = errors.New("token refresh failed")
	ErrProfileFetch = errors.New("user info request failed")
)
