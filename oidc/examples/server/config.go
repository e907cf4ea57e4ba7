// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// config is read from the environment.
type config struct {
	Issuer                string        `env:"OIDC_ISSUER"`
	ClientID              string        `env:"OIDC_CLIENT_ID" env-required:"true"`
	ClientSecret          string        `env:"OIDC_CLIENT_SECRET"`
	Port                  string        `env:"OIDC_PORT" env-default:"3000"`
	Scopes                []string      `env:"OIDC_SCOPES" env-separator:"," env-default:"email,profile"`
	ProviderCA            string        `env:"OIDC_PROVIDER_CA"`
	PostLogoutRedirectURL string        `env:"OIDC_POST_LOGOUT_REDIRECT_URL"`
	ProfileCache          bool          `env:"OIDC_PROFILE_CACHE" env-default:"true"`
	ProfileTTL            time.Duration `env:"OIDC_PROFILE_TTL" env-default:"1h"`
	CookieSecure          bool          `env:"COOKIE_SECURE" env-default:"false"`
	LogLevel              string        `env:"LOG_LEVEL" env-default:"info"`
}

func (c config) redirectURL() string {
	return fmt.Sprintf("http://localhost:%s/callback", c.Port)
}

func loadConfig() (config, error) {
	const op = "loadConfig"
	var c config
	if err := cleanenv.ReadEnv(&c); err != nil {
		return config{}, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}
