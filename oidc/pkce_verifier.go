// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// ChallengeMethod represents PKCE code challenge methods as defined by RFC
// 7636.
type ChallengeMethod string

const (
	// S256 is the only supported challenge method.
	// See: https://tools.ietf.org/html/rfc7636#section-4.3
	S256 ChallengeMethod = "S256"
)

// verifierLen is the length of an encoded verifier: 32 random octets
// base64url encoded without padding.
const verifierLen = 43

// CodeVerifier is a PKCE code verifier and its S256 challenge.  Every
// authentication Attempt gets its own CodeVerifier.
//
// See: https://tools.ietf.org/html/rfc7636#section-4.1
type CodeVerifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// NewCodeVerifier creates a new CodeVerifier using the S256 method.
func NewCodeVerifier() (*CodeVerifier, error) {
	const op = "NewCodeVerifier"
	data, err := uuid.GenerateRandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to generate random bytes: %w: %w", op, ErrIDGeneratorFailed, err)
	}
	v := &CodeVerifier{
		verifier: base64.RawURLEncoding.EncodeToString(data),
		method:   S256,
	}
	if v.challenge, err = CreateCodeChallenge(v.method, v); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return v, nil
}

// Verifier returns the code verifier which is sent with the token request.
func (v *CodeVerifier) Verifier() string { return v.verifier }

// Challenge returns the code challenge which is sent with the authorization
// request.
func (v *CodeVerifier) Challenge() string { return v.challenge }

// Method returns the challenge method.
func (v *CodeVerifier) Method() ChallengeMethod { return v.method }

// CreateCodeChallenge creates a code challenge from the verifier.  S256 is the
// only supported method.
func CreateCodeChallenge(method ChallengeMethod, v *CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: code verifier is nil: %w", op, ErrNilParameter)
	}
	if method != S256 {
		return "", fmt.Errorf("%s: %s is invalid: %w", op, method, ErrUnsupportedChallengeMethod)
	}
	sum := sha256.Sum256([]byte(v.verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}
