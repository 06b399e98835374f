package config

import (
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative workers",
			mutate: func(cfg *Config) {
				cfg.Workers = -1
			},
			wantErr: "workers",
		},
		{
			name: "zero max pages",
			mutate: func(cfg *Config) {
				cfg.MaxPages = 0
			},
			wantErr: "max pages",
		},
		{
			name: "empty start url",
			mutate: func(cfg *Config) {
				cfg.StartURL = ""
			},
			wantErr: "start URL",
		},
		{
			name: "invalid url format",
			mutate: func(cfg *Config) {
				cfg.StartURL = "http://"
			},
			wantErr: "start URL",
		},
		{
			name: "unsupported scheme",
			mutate: func(cfg *Config) {
				cfg.StartURL = "ftp://books.toscrape.com/"
			},
			wantErr: "scheme",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "unknown mode",
			mutate: func(cfg *Config) {
				cfg.Mode = "parallel"
			},
			wantErr: "mode",
		},
		{
			name: "negative min interval",
			mutate: func(cfg *Config) {
				cfg.MinInterval = -time.Millisecond
			},
			wantErr: "min interval",
		},
		{
			name: "backoff above max",
			mutate: func(cfg *Config) {
				cfg.RetryBackoff = 3 * time.Second
				cfg.RetryBackoffMax = time.Second
			},
			wantErr: "retry backoff",
		},
		{
			name: "stream in concurrent mode",
			mutate: func(cfg *Config) {
				cfg.Mode = ModeConcurrent
				cfg.Stream = true
			},
			wantErr: "stream",
		},
		{
			name: "bad output format",
			mutate: func(cfg *Config) {
				cfg.OutputFormat = "xml"
			},
			wantErr: "output format",
		},
		{
			name: "dedupe without capacity",
			mutate: func(cfg *Config) {
				cfg.DedupeField = "url"
				cfg.DedupeMaxSize = 0
			},
			wantErr: "dedupe",
		},
		{
			name: "no site and no schema",
			mutate: func(cfg *Config) {
				cfg.Site = ""
				cfg.SchemaFile = ""
			},
			wantErr: "schema file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PAGECRAWL_SITE", "quotes")
	t.Setenv("PAGECRAWL_PAGES", "7")
	t.Setenv("PAGECRAWL_MODE", "CONCURRENT")
	t.Setenv("PAGECRAWL_MIN_INTERVAL", "150ms")
	t.Setenv("PAGECRAWL_TOLERATE_FAILURES", "true")

	cfg := DefaultConfig()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.Site != "quotes" {
		t.Errorf("site = %q, want quotes", cfg.Site)
	}
	if cfg.MaxPages != 7 {
		t.Errorf("max pages = %d, want 7", cfg.MaxPages)
	}
	if cfg.Mode != ModeConcurrent {
		t.Errorf("mode = %q, want %q", cfg.Mode, ModeConcurrent)
	}
	if cfg.MinInterval != 150*time.Millisecond {
		t.Errorf("min interval = %v, want 150ms", cfg.MinInterval)
	}
	if !cfg.TolerateFailures {
		t.Errorf("tolerate failures should be true")
	}
}

func TestApplyEnvInvalidInt(t *testing.T) {
	t.Setenv("PAGECRAWL_WORKERS", "many")
	if err := ApplyEnv(DefaultConfig()); err == nil || !strings.Contains(err.Error(), "PAGECRAWL_WORKERS") {
		t.Fatalf("expected PAGECRAWL_WORKERS error, got %v", err)
	}
}

func TestEnvStringBlankIsUnset(t *testing.T) {
	t.Setenv("PAGECRAWL_OUTPUT", "   ")
	if _, ok := EnvString("PAGECRAWL_OUTPUT"); ok {
		t.Fatalf("blank env value should be treated as unset")
	}
}
