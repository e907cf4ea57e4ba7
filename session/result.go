// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import "github.com/hashicorp/oidcrp/oidc"

// Status is the outcome of a token lookup.
type Status int

const (
	// StatusNotFound means the key was never stored, was removed or was
	// rotated away too long ago.
	StatusNotFound Status = iota

	// StatusValid means the stored token is unexpired.
	StatusValid

	// StatusRefreshed means the returned token replaces the one presented,
	// either by this lookup's refresh or an earlier one.
	StatusRefreshed

	// StatusExpired means the token is expired and can't be refreshed.  It
	// will never become usable again.
	StatusExpired

	// StatusRefreshFailed means the token is expired and the provider
	// refused (or failed) to refresh it.
	StatusRefreshFailed
)

func (s Status) String() string {
	switch s {
	case StatusNotFound:
		return "not found"
	case StatusValid:
		return "valid"
	case StatusRefreshed:
		return "refreshed"
	case StatusExpired:
		return "expired"
	case StatusRefreshFailed:
		return "refresh failed"
	default:
		return "unknown"
	}
}

// Result of a token lookup.  Token is only set when the lookup produced a
// usable token (StatusValid or StatusRefreshed).  Err is only set for
// StatusRefreshFailed.
type Result struct {
	Token  *oidc.Token
	Status Status
	Err    error
}

// OK reports whether the lookup produced a usable token.
func (r Result) OK() bool {
	return r.Token != nil && (r.Status == StatusValid || r.Status == StatusRefreshed)
}
