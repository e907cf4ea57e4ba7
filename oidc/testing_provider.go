// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"bytes"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/oidcrp/oidc/internal/strutils"
	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	"gopkg.in/square/go-jose.v2/jwt"
)

// TestProvider is a local OIDC provider which supports the authorization code
// flow with PKCE, refresh grants, userinfo and end session requests.  It makes
// writing tests much easier.  Most of it is from Consul's oauthtest package
// with a few changes so it could become part of this package's public testing
// API.  A big thanks to the original contributors to Consul's oauthtest
// package.
//
// The provider serves:
//
//	/.well-known/openid-configuration
//	/authorize
//	/token (authorization_code and refresh_token grants)
//	/userinfo
//	/certs
//	/logout
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string
	client     *http.Client

	jwks *jose.JSONWebKeySet

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	expectedAuthCode    string
	replySubject        string
	replyUserinfo       map[string]interface{}
	replyExpiry         time.Duration
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitRefreshToken    bool
	disableUserInfo     bool
	disableEndSession   bool
	failExchange        bool
	failRefresh         bool

	// the authorization request waiting for its code to be exchanged
	pendingNonce     string
	pendingChallenge string
	pendingRedirect  string

	issuedAccessTokens  map[string]bool
	issuedRefreshTokens map[string]bool

	discoveryRequests int
	tokenRequests     int
	refreshRequests   int
	userInfoRequests  int

	ecdsaPublicKey  string
	ecdsaPrivateKey string

	t *testing.T
}

// StartTestProvider creates and starts a running TestProvider http server.
// The provider is stopped when the test completes.
//
// Supported options:
//   - WithTestPort
func StartTestProvider(t *testing.T, opt ...Option) *TestProvider {
	t.Helper()
	require := require.New(t)
	opts := getTestProviderOpts(opt...)

	p := &TestProvider{
		allowedRedirectURIs: []string{
			"https://example.com",
		},
		replySubject: "alice@example.com",
		replyUserinfo: map[string]interface{}{
			"name":  "Alice Doe-Smith",
			"email": "alice@example.com",
			"group": "testers",
		},
		replyExpiry:         5 * time.Minute,
		customClaims:        map[string]interface{}{},
		issuedAccessTokens:  map[string]bool{},
		issuedRefreshTokens: map[string]bool{},
		t:                   t,
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	if opts.withPort != 0 {
		p.httpServer = httptestNewUnstartedServerWithPort(t, p, opts.withPort)
	} else {
		p.httpServer = httptest.NewUnstartedServer(p)
	}
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.Stop)

	cert := p.httpServer.Certificate()

	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	certPool := x509.NewCertPool()
	require.True(certPool.AppendCertsFromPEM([]byte(p.caCert)))
	tr := cleanhttp.DefaultPooledTransport()
	tr.TLSClientConfig = &tls.Config{RootCAs: certPool, MinVersion: tls.VersionTLS12}
	p.client = &http.Client{
		Transport: tr,
		// the provider redirects back to the relying party, which tests
		// want to inspect rather than follow.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the current base URL for the test provider's running webserver,
// which is also the provider's issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client which trusts the test provider and does
// not follow redirects.
func (p *TestProvider) HTTPClient() *http.Client { return p.client }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// SetClientCreds is for configuring the client information required for the
// OIDC workflows.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// ClientCreds returns the relying party client information required for the
// OIDC workflows.
func (p *TestProvider) ClientCreds() (clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID, p.clientSecret
}

// SetExpectedAuthCode configures the auth code to return from /authorize and
// the allowed auth code for /token.
func (p *TestProvider) SetExpectedAuthCode(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expectedAuthCode = code
}

// SetAllowedRedirectURIs allows you to configure the allowed redirect URIs for
// the OIDC workflow. If not configured a sample of "https://example.com" is
// used.
func (p *TestProvider) SetAllowedRedirectURIs(uris []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetExpectedSubject configures the subject of the id_tokens and userinfo
// replies.
func (p *TestProvider) SetExpectedSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetUserInfoReply configures the claims returned by /userinfo (the subject
// is always added).
func (p *TestProvider) SetUserInfoReply(resp map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyUserinfo = resp
}

// SetExpectedExpiry configures the expiry of the issued tokens.
func (p *TestProvider) SetExpectedExpiry(exp time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replyExpiry = exp
}

// SetCustomClaims lets you set claims to return in the id_tokens issued.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in the id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetOmitIDTokens forces an error state where the /token endpoint does not
// return an id_token.
func (p *TestProvider) SetOmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// SetOmitRefreshTokens configures /token to not issue refresh_tokens.
func (p *TestProvider) SetOmitRefreshTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = omit
}

// SetDisableUserInfo makes the userinfo endpoint return 404 and omits it from
// the discovery config.
func (p *TestProvider) SetDisableUserInfo(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableUserInfo = disable
}

// SetDisableEndSession omits the end_session_endpoint from the discovery
// config.
func (p *TestProvider) SetDisableEndSession(disable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disableEndSession = disable
}

// SetFailExchange makes every authorization_code grant fail with
// invalid_grant.
func (p *TestProvider) SetFailExchange(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failExchange = fail
}

// SetFailRefresh makes every refresh_token grant fail with invalid_grant.
func (p *TestProvider) SetFailRefresh(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failRefresh = fail
}

// DiscoveryRequests returns the number of discovery requests served.
func (p *TestProvider) DiscoveryRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discoveryRequests
}

// TokenRequests returns the number of authorization_code grants served.
func (p *TestProvider) TokenRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// RefreshRequests returns the number of refresh_token grants served.
func (p *TestProvider) RefreshRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshRequests
}

// UserInfoRequests returns the number of userinfo requests served.
func (p *TestProvider) UserInfoRequests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userInfoRequests
}

// Authorize follows an authorization URL (typically one returned by
// Provider.AuthURL) the way a user agent would, and returns the code and state
// the provider sent back to the redirect URL.
func (p *TestProvider) Authorize(authURL string) (code, state string) {
	p.t.Helper()
	require := require.New(p.t)
	resp, err := p.client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(err)
	require.Emptyf(loc.Query().Get("error"), "authorize failed: %s %s", loc.Query().Get("error"), loc.Query().Get("error_description"))
	return loc.Query().Get("code"), loc.Query().Get("state")
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.discoveryRequests++

		reply := struct {
			Issuer                 string   `json:"issuer"`
			AuthEndpoint           string   `json:"authorization_endpoint"`
			TokenEndpoint          string   `json:"token_endpoint"`
			JWKSURI                string   `json:"jwks_uri"`
			UserinfoEndpoint       string   `json:"userinfo_endpoint,omitempty"`
			EndSessionEndpoint     string   `json:"end_session_endpoint,omitempty"`
			SupportedAlgs          []string `json:"id_token_signing_alg_values_supported"`
			ChallengeMethods       []string `json:"code_challenge_methods_supported"`
			SupportedResponseTypes []string `json:"response_types_supported"`
		}{
			Issuer:                 p.Addr(),
			AuthEndpoint:           p.Addr() + "/authorize",
			TokenEndpoint:          p.Addr() + "/token",
			JWKSURI:                p.Addr() + "/certs",
			UserinfoEndpoint:       p.Addr() + "/userinfo",
			EndSessionEndpoint:     p.Addr() + "/logout",
			SupportedAlgs:          []string{string(ES256)},
			ChallengeMethods:       []string{string(S256)},
			SupportedResponseTypes: []string{"code"},
		}
		if p.disableUserInfo {
			reply.UserinfoEndpoint = ""
		}
		if p.disableEndSession {
			reply.EndSessionEndpoint = ""
		}
		_ = p.writeJSON(w, &reply)

	case "/authorize":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		qv := req.URL.Query()

		switch {
		case !strutils.StrListContains(strings.Fields(qv.Get("response_type")), "code"):
			p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
			p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		case qv.Get("client_id") != p.clientID:
			p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
		case !strutils.StrListContains(p.allowedRedirectURIs, qv.Get("redirect_uri")):
			// never redirect to an unknown redirect_uri
			w.WriteHeader(http.StatusBadRequest)
		case qv.Get("state") == "":
			p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		case qv.Get("code_challenge") == "" || qv.Get("code_challenge_method") != string(S256):
			p.writeAuthErrorResponse(w, req, "invalid_request", "S256 code challenge required")
		case p.expectedAuthCode == "":
			p.writeAuthErrorResponse(w, req, "access_denied", "")
		default:
			p.pendingNonce = qv.Get("nonce")
			p.pendingChallenge = qv.Get("code_challenge")
			p.pendingRedirect = qv.Get("redirect_uri")

			redirectURI := qv.Get("redirect_uri") +
				"?state=" + url.QueryEscape(qv.Get("state")) +
				"&code=" + url.QueryEscape(p.expectedAuthCode)
			http.Redirect(w, req, redirectURI, http.StatusFound)
		}

	case "/certs":
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		if req.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !p.clientAuthenticated(req) {
			_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
			return
		}

		var nonce string
		switch req.FormValue("grant_type") {
		case "authorization_code":
			p.tokenRequests++
			switch {
			case p.failExchange:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "exchange disabled")
				return
			case p.pendingChallenge == "" || req.FormValue("code") != p.expectedAuthCode:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
				return
			case req.FormValue("redirect_uri") != p.pendingRedirect:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match the authorization request")
				return
			case testS256Challenge(req.FormValue("code_verifier")) != p.pendingChallenge:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid code_verifier")
				return
			}
			nonce = p.pendingNonce
			// auth codes may only be used once
			p.pendingChallenge, p.pendingNonce, p.pendingRedirect = "", "", ""

		case "refresh_token":
			p.refreshRequests++
			switch {
			case p.failRefresh:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh disabled")
				return
			case !p.issuedRefreshTokens[req.FormValue("refresh_token")]:
				_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unknown refresh_token")
				return
			}

		default:
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
			return
		}

		accessToken, err := NewID(WithPrefix("at"))
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		p.issuedAccessTokens[accessToken] = true

		reply := struct {
			AccessToken  string `json:"access_token"`
			TokenType    string `json:"token_type"`
			ExpiresIn    int64  `json:"expires_in"`
			RefreshToken string `json:"refresh_token,omitempty"`
			IDToken      string `json:"id_token,omitempty"`
		}{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			ExpiresIn:   int64(p.replyExpiry.Seconds()),
		}
		if !p.omitIDToken {
			reply.IDToken = p.issueIDToken(nonce)
		}
		if !p.omitRefreshToken && req.FormValue("grant_type") == "authorization_code" {
			if reply.RefreshToken, err = NewID(WithPrefix("rt")); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			p.issuedRefreshTokens[reply.RefreshToken] = true
		}
		_ = p.writeJSON(w, &reply)

	case "/userinfo":
		if p.disableUserInfo {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		p.userInfoRequests++
		bearer := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !p.issuedAccessTokens[bearer] {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		reply := map[string]interface{}{}
		for k, v := range p.replyUserinfo {
			reply[k] = v
		}
		reply["sub"] = p.replySubject
		_ = p.writeJSON(w, reply)

	case "/logout":
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) clientAuthenticated(req *http.Request) bool {
	id, secret, ok := req.BasicAuth()
	if ok {
		// oauth2 url encodes the client creds sent in the header
		id, _ = url.QueryUnescape(id)
		secret, _ = url.QueryUnescape(secret)
	} else {
		id, secret = req.FormValue("client_id"), req.FormValue("client_secret")
	}
	return id == p.clientID && secret == p.clientSecret
}

func (p *TestProvider) issueIDToken(nonce string) string {
	now := time.Now()
	stdClaims := jwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    jwt.NewNumericDate(now.Add(p.replyExpiry)),
		Audience:  jwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = jwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if nonce != "" {
		privateClaims["nonce"] = nonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
}

func testS256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	input := block.Bytes

	pub, err := x509.ParsePKIXPublicKey(input)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key: pub,
			},
		},
	}
}

// httptestNewUnstartedServerWithPort is roughly the same as
// httptest.NewUnstartedServer() but allows the caller to explicitly choose the
// port if desired.
func httptestNewUnstartedServerWithPort(t *testing.T, handler http.Handler, port int) *httptest.Server {
	t.Helper()
	require := require.New(t)
	require.NotEmpty(port)

	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	l, err := net.Listen("tcp", addr)
	require.NoError(err)

	return &httptest.Server{
		Listener: l,
		Config:   &http.Server{Handler: handler},
	}
}

// testProviderOptions is the set of available options for TestProvider
// functions
type testProviderOptions struct {
	withPort int
}

// testProviderDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func testProviderDefaults() testProviderOptions {
	return testProviderOptions{}
}

// getTestProviderOpts gets the test provider defaults and applies the opt
// overrides passed in
func getTestProviderOpts(opt ...Option) testProviderOptions {
	opts := testProviderDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithTestPort provides an optional port for the test provider.
//
// Valid for: TestProvider.StartTestProvider
func WithTestPort(port int) Option {
	return func(o interface{}) {
		if o, ok := o.(*testProviderOptions); ok {
			o.withPort = port
		}
	}
}
