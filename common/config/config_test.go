package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("flowrunner-test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Name != "flowrunner-test" {
		t.Errorf("service name = %q, want %q", cfg.Service.Name, "flowrunner-test")
	}
	if cfg.Service.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Service.Port)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("store backend = %q, want memory", cfg.Store.Backend)
	}
	if cfg.Store.MaxExecutions != 100 {
		t.Errorf("max executions = %d, want 100", cfg.Store.MaxExecutions)
	}
	if cfg.Engine.MaxIterations != 1000 {
		t.Errorf("max iterations = %d, want 1000", cfg.Engine.MaxIterations)
	}
	if cfg.Engine.MaxExecutionDepth != 10 {
		t.Errorf("max execution depth = %d, want 10", cfg.Engine.MaxExecutionDepth)
	}
	if cfg.Engine.HTTPTimeout != 30*time.Second {
		t.Errorf("http timeout = %v, want 30s", cfg.Engine.HTTPTimeout)
	}
	if cfg.Redis.Enabled {
		t.Error("redis should be disabled by default")
	}
	if !cfg.Scheduler.Enabled {
		t.Error("scheduler should be enabled by default")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9191")
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("POSTGRES_URL", "postgres://u:p@db:5432/wf")
	t.Setenv("ENGINE_CODE_TIMEOUT", "2s")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := Load("flowrunner-test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Service.Port != 9191 {
		t.Errorf("port = %d, want 9191", cfg.Service.Port)
	}
	if cfg.Store.Backend != "postgres" {
		t.Errorf("backend = %q, want postgres", cfg.Store.Backend)
	}
	if cfg.Store.PostgresURL != "postgres://u:p@db:5432/wf" {
		t.Errorf("postgres url = %q", cfg.Store.PostgresURL)
	}
	if cfg.Engine.CodeTimeout != 2*time.Second {
		t.Errorf("code timeout = %v, want 2s", cfg.Engine.CodeTimeout)
	}
	if !cfg.Redis.Enabled {
		t.Error("redis should be enabled")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"bad port", func(c *Config) { c.Service.Port = 0 }, true},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, true},
		{"postgres without url", func(c *Config) {
			c.Store.Backend = "postgres"
			c.Store.PostgresURL = ""
		}, true},
		{"zero execution cap", func(c *Config) { c.Store.MaxExecutions = 0 }, true},
		{"rate limit without redis", func(c *Config) {
			c.Webhook.RateLimitEnabled = true
			c.Redis.Enabled = false
		}, true},
		{"rate limit with redis", func(c *Config) {
			c.Webhook.RateLimitEnabled = true
			c.Redis.Enabled = true
		}, false},
		{"zero max iterations", func(c *Config) { c.Engine.MaxIterations = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load("flowrunner-test")
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
