// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// server is a small relying party: every page requires a login with the
// configured OIDC provider.
//
//	OIDC_ISSUER=https://example.okta.com OIDC_CLIENT_ID=... OIDC_CLIENT_SECRET=... go run .
//
// The provider must allow http://localhost:$OIDC_PORT/callback as a redirect
// URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/oidc"
	"github.com/hashicorp/oidcrp/session"
)

func main() {
	c, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "oidc-server",
		Level: hclog.LevelFromString(c.LogLevel),
	})
	if err := run(c, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(c config, logger hclog.Logger) error {
	const op = "run"
	opts := []oidc.Option{
		oidc.WithPostLogoutRedirectURL(c.PostLogoutRedirectURL),
	}
	// without one the issuer comes from CUSTOM_ISSUER_URL
	if c.Issuer != "" {
		opts = append(opts, oidc.WithIssuer(c.Issuer))
	}
	if c.ProviderCA != "" {
		opts = append(opts, oidc.WithProviderCA(c.ProviderCA))
	}
	pc, err := oidc.NewConfig(c.ClientID, oidc.ClientSecret(c.ClientSecret), []string{c.redirectURL()}, nil, c.Scopes, opts...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p, err := oidc.NewProvider(pc, oidc.WithLogger(logger.Named("provider")))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer p.Done()

	m, err := session.NewManager(p,
		session.WithLogger(logger.Named("session")),
		session.WithProfileCache(c.ProfileCache),
		session.WithProfileTTL(c.ProfileTTL),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// fail fast on a misconfigured issuer
	if _, err := p.Discover(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	srv := &http.Server{
		Addr:              "localhost:" + c.Port,
		Handler:           newRouter(m, logger, c.CookieSecure),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr, "issuer", pc.Issuer)
		srvCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-srvCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("interrupted, shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
