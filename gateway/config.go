package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/animus-labs/dispatch-gateway/internal/platform/env"
	"github.com/animus-labs/dispatch-gateway/internal/service/router"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendSQLite   = "sqlite"

	archiveNone  = ""
	archiveMinIO = "minio"
)

type gatewayConfig struct {
	Addr             string
	ShutdownTimeout  time.Duration
	LogLevel         slog.Level
	DispatchPrefix   string
	Namespace        string
	DirectoryBackend string
	CacheTTL         time.Duration
	BindingsFile     string
	SourceArchive    string
	CORSAllowOrigin  string
	MaxCodeBytes     int64
}

func configFromEnv() (gatewayConfig, error) {
	shutdownTimeout, err := env.Duration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return gatewayConfig{}, err
	}
	cacheTTL, err := env.Duration("GATEWAY_DIRECTORY_CACHE_TTL", 0)
	if err != nil {
		return gatewayConfig{}, err
	}
	maxCodeBytes, err := env.Int64("GATEWAY_MAX_CODE_BYTES", 10<<20)
	if err != nil {
		return gatewayConfig{}, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.String("GATEWAY_LOG_LEVEL", "info"))); err != nil {
		return gatewayConfig{}, fmt.Errorf("parse GATEWAY_LOG_LEVEL: %w", err)
	}
	prefix, err := router.NormalizePrefix(env.String("GATEWAY_DISPATCH_PREFIX", router.DefaultPrefix))
	if err != nil {
		return gatewayConfig{}, err
	}

	cfg := gatewayConfig{
		Addr:             env.String("GATEWAY_HTTP_ADDR", ":8080"),
		ShutdownTimeout:  shutdownTimeout,
		LogLevel:         level,
		DispatchPrefix:   prefix,
		Namespace:        env.String("GATEWAY_DISPATCH_NAMESPACE", "dispatch-gateway-units"),
		DirectoryBackend: strings.ToLower(env.String("GATEWAY_DIRECTORY_BACKEND", backendMemory)),
		CacheTTL:         cacheTTL,
		BindingsFile:     env.String("GATEWAY_BINDINGS_FILE", ""),
		SourceArchive:    strings.ToLower(env.String("GATEWAY_SOURCE_ARCHIVE", archiveNone)),
		CORSAllowOrigin:  env.String("GATEWAY_CORS_ALLOW_ORIGIN", "*"),
		MaxCodeBytes:     maxCodeBytes,
	}
	if err := cfg.Validate(); err != nil {
		return gatewayConfig{}, err
	}
	return cfg, nil
}

func (c gatewayConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("http addr is required")
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("dispatch namespace is required")
	}
	switch c.DirectoryBackend {
	case backendMemory, backendPostgres, backendSQLite:
	default:
		return fmt.Errorf("unsupported directory backend: %q", c.DirectoryBackend)
	}
	switch c.SourceArchive {
	case archiveNone, archiveMinIO:
	default:
		return fmt.Errorf("unsupported source archive: %q", c.SourceArchive)
	}
	if c.CacheTTL < 0 {
		return errors.New("directory cache ttl must not be negative")
	}
	if c.MaxCodeBytes <= 0 {
		return errors.New("max code bytes must be positive")
	}
	return nil
}
