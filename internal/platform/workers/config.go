package workers

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/domain"
	"github.com/animus-labs/dispatch-gateway/internal/platform/env"
)

const DefaultBaseURL = "https://api.cloudflare.com/client/v4"

type Config struct {
	BaseURL   string
	AccountID string
	APIToken  string
	Timeout   time.Duration
}

func ConfigFromEnv() (Config, error) {
	timeout, err := env.Duration("WORKERS_API_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:   env.String("WORKERS_API_BASE_URL", DefaultBaseURL),
		AccountID: env.String("WORKERS_ACCOUNT_ID", ""),
		APIToken:  env.String("WORKERS_API_TOKEN", ""),
		Timeout:   timeout,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the connection settings. Credentials may be empty here;
// the registrar rejects a registration that lacks them.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base url must be http or https: %q", c.BaseURL)
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

func (c Config) Credentials() domain.Credentials {
	return domain.Credentials{AccountID: c.AccountID, APIToken: c.APIToken}
}
