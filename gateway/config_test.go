package main

import (
	"log/slog"
	"testing"
	"time"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() err=%v", err)
	}
	if cfg.Addr != ":8080" || cfg.DispatchPrefix != "/user-workers/" || cfg.DirectoryBackend != backendMemory {
		t.Fatalf("configFromEnv() = %+v", cfg)
	}
	if cfg.MaxCodeBytes != 10<<20 || cfg.CORSAllowOrigin != "*" || cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("configFromEnv() = %+v", cfg)
	}
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv("GATEWAY_DISPATCH_PREFIX", "units")
	t.Setenv("GATEWAY_DIRECTORY_BACKEND", "SQLite")
	t.Setenv("GATEWAY_DIRECTORY_CACHE_TTL", "2s")
	t.Setenv("GATEWAY_LOG_LEVEL", "debug")
	t.Setenv("GATEWAY_SOURCE_ARCHIVE", "minio")

	cfg, err := configFromEnv()
	if err != nil {
		t.Fatalf("configFromEnv() err=%v", err)
	}
	if cfg.DispatchPrefix != "/units/" || cfg.DirectoryBackend != backendSQLite || cfg.CacheTTL != 2*time.Second {
		t.Fatalf("configFromEnv() = %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug || cfg.SourceArchive != archiveMinIO {
		t.Fatalf("configFromEnv() = %+v", cfg)
	}
}

func TestConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"backend":   {"GATEWAY_DIRECTORY_BACKEND", "redis"},
		"archive":   {"GATEWAY_SOURCE_ARCHIVE", "s3"},
		"max bytes": {"GATEWAY_MAX_CODE_BYTES", "0"},
		"ttl":       {"GATEWAY_DIRECTORY_CACHE_TTL", "soon"},
		"log level": {"GATEWAY_LOG_LEVEL", "loud"},
		"namespace": {"GATEWAY_DISPATCH_NAMESPACE", " "},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			if _, err := configFromEnv(); err == nil {
				t.Fatalf("configFromEnv() expected error for %s=%q", kv[0], kv[1])
			}
		})
	}
}
