package server

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}
	if cfg.Address() != ":7171" {
		t.Errorf("Address() = %q, want :7171", cfg.Address())
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port_out_of_range", func(c *Config) { c.Port = 70000 }, "port"},
		{"body_too_large", func(c *Config) { c.MaxBodySize = 1 << 20 }, "max body size"},
		{"negative_connections", func(c *Config) { c.MaxConnections = -1 }, "max connections"},
		{"negative_queue", func(c *Config) { c.OutboundQueueLimit = -5 }, "outbound queue"},
		{"negative_timeout", func(c *Config) { c.WriteTimeout = -time.Second }, "timeouts"},
		{"bad_constraint", func(c *Config) { c.VersionConstraint = ">>1" }, "version constraint"},
		{"bad_server_version", func(c *Config) { c.ServerVersion = "one" }, "server version"},
		{"long_server_name", func(c *Config) { c.ServerName = strings.Repeat("x", 300) }, "server name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalidConfig", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestConfigValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Port = -1
	cfg.MaxConnections = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"port", "max connections"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, missing %q", err, want)
		}
	}
}

func TestConfigWithDefaults(t *testing.T) {
	cfg := &Config{Port: 9000, ServerName: "custom"}
	got := cfg.withDefaults()

	if got.Port != 9000 || got.ServerName != "custom" {
		t.Errorf("explicit values overwritten: %+v", got)
	}
	if got.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want default", got.WriteTimeout)
	}
	if got.VersionConstraint != "^1.0.0" {
		t.Errorf("VersionConstraint = %q, want default", got.VersionConstraint)
	}
	if got.CheckOrigin == nil {
		t.Error("CheckOrigin not defaulted")
	}
	if cfg.WriteTimeout != 0 {
		t.Error("withDefaults modified its receiver")
	}

	if (*Config)(nil).withDefaults() == nil {
		t.Error("nil config has no defaults")
	}
}

func TestConfigWarnings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConnections = 100
	cfg.ReadTimeout = 500 * time.Millisecond
	cfg.HandshakeTimeout = 5 * time.Second

	warnings := cfg.Warnings()
	if len(warnings) != 2 {
		t.Fatalf("Warnings() = %v, want 2 warnings", warnings)
	}

	cfg.MaxConnections = 0
	cfg.OutboundQueueLimit = 0
	if got := len(cfg.Warnings()); got != 4 {
		t.Errorf("Warnings() has %d entries, want 4", got)
	}
}

func TestSameOriginCheck(t *testing.T) {
	tests := []struct {
		name   string
		host   string
		origin string
		want   bool
	}{
		{"no_origin", "game.example.com", "", true},
		{"same_origin", "game.example.com", "https://game.example.com", true},
		{"cross_origin", "game.example.com", "https://evil.example.com", false},
		{"bad_origin", "game.example.com", "://", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := SameOriginCheck(r); got != tt.want {
				t.Errorf("SameOriginCheck() = %v, want %v", got, tt.want)
			}
		})
	}
}
