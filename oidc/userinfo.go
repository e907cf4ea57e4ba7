// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// UserInfo is the user profile returned by the provider's userinfo endpoint.
type UserInfo struct {
	Subject            string    `json:"sub"`
	Name               string    `json:"name,omitempty"`
	Description        string    `json:"description,omitempty"`
	Birthdate          string    `json:"birthdate,omitempty"`
	BirthdateTimestamp Timestamp `json:"birthdateTimestamp,omitempty"`
	Group              string    `json:"group,omitempty"`
	Type               string    `json:"type,omitempty"`
	Email              string    `json:"email,omitempty"`
}

// BirthdateTime returns the birthdate from its numeric (unix seconds) form.
func (u *UserInfo) BirthdateTime() (time.Time, error) {
	const op = "UserInfo.BirthdateTime"
	if u == nil || u.BirthdateTimestamp == "" {
		return time.Time{}, fmt.Errorf("%s: missing birthdate timestamp: %w", op, ErrNotFound)
	}
	secs, err := strconv.ParseFloat(string(u.BirthdateTimestamp), 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: birthdate timestamp %q is not numeric: %w", op, u.BirthdateTimestamp, ErrInvalidParameter)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

// Timestamp is a numeric (unix seconds) claim.  Providers send it either as a
// JSON string or as a JSON number; the claim's text is kept as is.
type Timestamp string

// UnmarshalJSON accepts a JSON string, number or null.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	const op = "Timestamp.UnmarshalJSON"
	if string(b) == "null" {
		*t = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		*t = Timestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%s: timestamp %s is neither a string nor a number: %w", op, b, err)
	}
	*t = Timestamp(n.String())
	return nil
}

// Clone returns a copy of the UserInfo.
func (u *UserInfo) Clone() *UserInfo {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
