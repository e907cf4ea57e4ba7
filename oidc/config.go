// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/oidcrp/oidc/internal/strutils"
	"golang.org/x/text/language"
)

const (
	// DefaultIssuer is the issuer used when neither WithIssuer nor the
	// IssuerEnvVar environment variable provide one.
	DefaultIssuer = "https://auth.jayemalta.org/"

	// IssuerEnvVar names the environment variable which overrides the
	// DefaultIssuer.  It's read once, when the Config is created.
	IssuerEnvVar = "CUSTOM_ISSUER_URL"

	// DefaultProviderTimeout bounds every request made to the provider.
	DefaultProviderTimeout = 10 * time.Second
)

// ResponseType is an oauth response_type
const (
	ResponseTypeCode    = "code"
	ResponseTypeIDToken = "id_token"
	ResponseTypeToken   = "token"
)

// ClientSecret is an oauth client Secret.
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// Config represents the configuration of a relying party using the OIDC
// authorization code flow with PKCE.
type Config struct {
	// ClientID is the relying party ID.
	ClientID string

	// ClientSecret is the relying party secret.  It may be empty for public
	// clients which rely only on PKCE.
	ClientSecret ClientSecret

	// RedirectURLs are the URLs the provider may redirect back to.  The
	// first one is used unless an Attempt selects another one.
	RedirectURLs []string

	// ResponseTypes are sent as the authorization request's response_type
	// (space separated).  It must include "code".
	ResponseTypes []string

	// Scopes is a list of oidc scopes to request of the provider.  The
	// required "openid" scope is always requested.
	Scopes []string

	// Issuer is a case-sensitive URL string using the https scheme that
	// contains scheme, host, and optionally, port number and path components
	// and no query or fragment components.
	Issuer string

	// SupportedSigningAlgs is a list of supported signing algorithms.
	SupportedSigningAlgs []Alg

	// Audiences is an optional list of case-sensitive strings to use when
	// verifying an id_token's "aud" claim (which is also a list). If
	// provided, the audiences of an id_token must match one of the
	// configured audiences.
	Audiences []string

	// ProviderCA is an optional CA certs (PEM encoded) to use when sending
	// requests to the provider.
	ProviderCA string

	// ProviderTimeout bounds every request sent to the provider.
	ProviderTimeout time.Duration

	// PostLogoutRedirectURL is an optional post_logout_redirect_uri sent to
	// the provider's end_session_endpoint.
	PostLogoutRedirectURL string

	// UILocales are optional end-user's preferred languages sent with the
	// authorization request.
	UILocales []language.Tag
}

// NewConfig composes a new config for a provider.  The issuer defaults to
// the IssuerEnvVar environment variable, then to the DefaultIssuer.  The
// ResponseTypes default to ["code"] and the supported signing algorithms
// default to [RS256].
//
// Supported options:
//   - WithIssuer
//   - WithSupportedSigningAlgs
//   - WithAudiences
//   - WithProviderCA
//   - WithProviderTimeout
//   - WithPostLogoutRedirectURL
//   - WithUILocales
func NewConfig(clientID string, clientSecret ClientSecret, redirectURLs []string, responseTypes []string, scopes []string, opt ...Option) (*Config, error) {
	const op = "NewConfig"
	opts := getConfigOpts(opt...)
	if len(responseTypes) == 0 {
		responseTypes = []string{ResponseTypeCode}
	}
	c := &Config{
		ClientID:              clientID,
		ClientSecret:          clientSecret,
		RedirectURLs:          redirectURLs,
		ResponseTypes:         responseTypes,
		Scopes:                scopes,
		Issuer:                opts.withIssuer,
		SupportedSigningAlgs:  opts.withSupportedSigningAlgs,
		Audiences:             opts.withAudiences,
		ProviderCA:            opts.withProviderCA,
		ProviderTimeout:       opts.withProviderTimeout,
		PostLogoutRedirectURL: opts.withPostLogoutRedirectURL,
		UILocales:             opts.withUILocales,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the provider configuration.  Among other validations, it verifies
// the issuer is not empty, but it doesn't verify the Issuer is discoverable
// via an http request.  Every problem found is reported.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: provider config is nil: %w", op, ErrNilParameter)
	}
	var retErr *multierror.Error
	if c.ClientID == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: client ID is empty: %w", op, ErrInvalidParameter))
	}
	if len(c.RedirectURLs) == 0 {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: redirect URLs are empty: %w", op, ErrInvalidParameter))
	}
	for _, r := range c.RedirectURLs {
		if u, err := url.Parse(r); err != nil || u.Scheme == "" || u.Host == "" {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: redirect URL %q is not an absolute URL: %w", op, r, ErrInvalidParameter))
		}
	}
	if !strutils.StrListContains(c.ResponseTypes, ResponseTypeCode) {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: response types must include %q: %w", op, ResponseTypeCode, ErrInvalidParameter))
	}
	for _, rt := range c.ResponseTypes {
		if !strutils.StrListContains([]string{ResponseTypeCode, ResponseTypeIDToken, ResponseTypeToken}, rt) {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: unsupported response type %q: %w", op, rt, ErrInvalidParameter))
		}
	}
	if c.Issuer == "" {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: issuer is empty: %w", op, ErrInvalidIssuer))
	} else {
		u, err := url.Parse(c.Issuer)
		switch {
		case err != nil:
			retErr = multierror.Append(retErr, fmt.Errorf("%s: issuer %s is invalid (%s): %w", op, c.Issuer, err, ErrInvalidIssuer))
		case !strutils.StrListContains([]string{"https", "http"}, u.Scheme):
			retErr = multierror.Append(retErr, fmt.Errorf("%s: issuer %s scheme is not http or https: %w", op, c.Issuer, ErrInvalidIssuer))
		}
	}
	if len(c.SupportedSigningAlgs) == 0 {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: supported algorithms is empty: %w", op, ErrInvalidParameter))
	}
	for _, a := range c.SupportedSigningAlgs {
		if !supportedAlgorithms[a] {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: %s: %w", op, a, ErrUnsupportedAlg))
		}
	}
	if c.ProviderTimeout <= 0 {
		retErr = multierror.Append(retErr, fmt.Errorf("%s: provider timeout must be greater than zero: %w", op, ErrInvalidParameter))
	}
	if c.PostLogoutRedirectURL != "" {
		if u, err := url.Parse(c.PostLogoutRedirectURL); err != nil || u.Scheme == "" || u.Host == "" {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: post logout redirect URL %q is not an absolute URL: %w", op, c.PostLogoutRedirectURL, ErrInvalidParameter))
		}
	}
	if c.ProviderCA != "" {
		if ok := x509.NewCertPool().AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			retErr = multierror.Append(retErr, fmt.Errorf("%s: %w", op, ErrInvalidCACert))
		}
	}
	return retErr.ErrorOrNil()
}

// RedirectURL returns the configured redirect URL at idx.
func (c *Config) RedirectURL(idx int) (string, error) {
	const op = "Config.RedirectURL"
	if idx < 0 || idx >= len(c.RedirectURLs) {
		return "", fmt.Errorf("%s: redirect index %d out of range (%d redirect URLs): %w", op, idx, len(c.RedirectURLs), ErrInvalidParameter)
	}
	return c.RedirectURLs[idx], nil
}

// HTTPClient creates a new http client for the provider, which trusts the
// configured ProviderCA when there is one.
func (c *Config) HTTPClient() (*http.Client, error) {
	const op = "Config.HTTPClient"
	tr := cleanhttp.DefaultPooledTransport()
	if c.ProviderCA != "" {
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM([]byte(c.ProviderCA)); !ok {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		tr.TLSClientConfig = &tls.Config{
			RootCAs:    certPool,
			MinVersion: tls.VersionTLS12,
		}
	}
	return &http.Client{
		Transport: tr,
	}, nil
}

// ClientContext returns a new Context that carries the provided HTTP client.
// It sets the same context key used by the github.com/coreos/go-oidc and
// golang.org/x/oauth2 packages, so the returned context works for those
// packages as well.
func ClientContext(ctx context.Context, client *http.Client) context.Context {
	// simple to implement as a wrapper for the coreos package
	return oidc.ClientContext(ctx, client)
}

// issuerFromEnv returns the IssuerEnvVar value or the DefaultIssuer.
func issuerFromEnv() string {
	if v, ok := os.LookupEnv(IssuerEnvVar); ok && v != "" {
		return v
	}
	return DefaultIssuer
}

// configOptions is the set of available options
type configOptions struct {
	withIssuer                string
	withSupportedSigningAlgs  []Alg
	withAudiences             []string
	withProviderCA            string
	withProviderTimeout       time.Duration
	withPostLogoutRedirectURL string
	withUILocales             []language.Tag
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withIssuer:               issuerFromEnv(),
		withSupportedSigningAlgs: []Alg{RS256},
		withProviderTimeout:      DefaultProviderTimeout,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithIssuer provides an issuer which takes precedence over the
// IssuerEnvVar and the DefaultIssuer.
//
// Valid for: Config
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithSupportedSigningAlgs provides the id_token signing algorithms which will
// be accepted.
//
// Valid for: Config
func WithSupportedSigningAlgs(algs ...Alg) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSupportedSigningAlgs = algs
		}
	}
}

// WithAudiences provides an optional list of audiences.
//
// Valid for: Config
func WithAudiences(auds ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAudiences = auds
		}
	}
}

// WithProviderCA provides optional CA certs (PEM encoded) for the provider's
// config.  These certs will can be used when making http requests to the
// provider.
//
// Valid for: Config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithProviderTimeout bounds every request made to the provider.
//
// Valid for: Config
func WithProviderTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderTimeout = d
		}
	}
}

// WithPostLogoutRedirectURL provides the post_logout_redirect_uri sent to the
// provider's end_session_endpoint.
//
// Valid for: Config
func WithPostLogoutRedirectURL(u string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withPostLogoutRedirectURL = u
		}
	}
}

// WithUILocales provides the end-user's preferred languages and scripts for
// the user interface, ordered by preference.
//
// See: https://openid.net/specs/openid-connect-core-1_0.html#AuthRequest
//
// Valid for: Config
func WithUILocales(locales ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUILocales = locales
		}
	}
}
