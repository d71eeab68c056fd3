package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vango-dev/realm/internal/errors"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, ConfigFileName)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func code(err error) string {
	var re *errors.RealmError
	if stderrors.As(err, &re) {
		return re.Code
	}
	return ""
}

func TestNew(t *testing.T) {
	c := New()

	if c.Server.Port != 7171 {
		t.Errorf("Server.Port = %d, want 7171", c.Server.Port)
	}
	if c.Scheduler.TickInterval.Std() != DefaultTickInterval {
		t.Errorf("TickInterval = %v", c.Scheduler.TickInterval.Std())
	}
	if c.Scheduler.HeartbeatTicks != DefaultHeartbeatTicks {
		t.Errorf("HeartbeatTicks = %d", c.Scheduler.HeartbeatTicks)
	}
	if c.Admin.Addr != DefaultAdminAddr || !c.Admin.Enabled() {
		t.Errorf("Admin = %+v", c.Admin)
	}
	if c.Log.Level != "info" || c.Log.Format != "text" {
		t.Errorf("Log = %+v", c.Log)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{
		"server": {
			"host": "0.0.0.0",
			"port": 9000,
			"readTimeout": "2m",
			"maxConnections": 250,
			"serverName": "shard-1",
			"tickRate": 30
		},
		"scheduler": {"tickInterval": "20ms", "heartbeatTicks": -1},
		"admin": {"addr": "off", "websocket": true},
		"log": {"level": "debug", "format": "json"}
	}`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.Path() != filepath.Join(dir, ConfigFileName) {
		t.Errorf("Path() = %q", c.Path())
	}

	lc := c.ListenerConfig()
	if lc.Address() != "0.0.0.0:9000" {
		t.Errorf("Address() = %q", lc.Address())
	}
	if lc.ReadTimeout != 2*time.Minute {
		t.Errorf("ReadTimeout = %v", lc.ReadTimeout)
	}
	if lc.WriteTimeout != 10*time.Second {
		t.Errorf("WriteTimeout = %v, want listener default", lc.WriteTimeout)
	}
	if lc.MaxConnections != 250 || lc.ServerName != "shard-1" || lc.TickRate != 30 {
		t.Errorf("ListenerConfig() = %+v", lc)
	}

	if c.Scheduler.TickInterval.Std() != 20*time.Millisecond || c.Scheduler.HeartbeatTicks != -1 {
		t.Errorf("Scheduler = %+v", c.Scheduler)
	}
	if c.Admin.Enabled() || !c.Admin.WebSocket {
		t.Errorf("Admin = %+v", c.Admin)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantCode string
	}{
		{name: "malformed_json", content: `{"server":`, wantCode: "R101"},
		{name: "bad_duration", content: `{"scheduler":{"tickInterval":"soon"}}`, wantCode: "R104"},
		{name: "numeric_duration", content: `{"server":{"readTimeout":30}}`, wantCode: "R104"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := Load(dir)
			if got := code(err); got != tt.wantCode {
				t.Errorf("Load() error = %v, code %q, want %q", err, got, tt.wantCode)
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if code(err) != "R102" {
		t.Errorf("Load() error = %v, want R102", err)
	}
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Error("missing file error does not wrap os.ErrNotExist")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "port_out_of_range", mutate: func(c *Config) { c.Server.Port = 70000 }},
		{name: "bad_constraint", mutate: func(c *Config) { c.Server.VersionConstraint = "not-semver" }},
		{name: "negative_tick", mutate: func(c *Config) { c.Scheduler.TickInterval = Duration(-time.Second) }},
		{name: "unknown_level", mutate: func(c *Config) { c.Log.Level = "loud" }},
		{name: "unknown_format", mutate: func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			tt.mutate(c)
			if err := c.Validate(); code(err) != "R103" {
				t.Errorf("Validate() error = %v, want R103", err)
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	c := New()
	c.Server.ServerName = "saved"
	c.Server.HandshakeTimeout = Duration(3 * time.Second)

	path := filepath.Join(dir, ConfigFileName)
	if err := c.SaveTo(path); err != nil {
		t.Fatalf("SaveTo() error = %v", err)
	}

	got, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if got.Server.ServerName != "saved" || got.Server.HandshakeTimeout.Std() != 3*time.Second {
		t.Errorf("reloaded Server = %+v", got.Server)
	}
}

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `{}`)
	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := FindProjectRoot(nested)
	if err != nil {
		t.Fatalf("FindProjectRoot() error = %v", err)
	}
	want, _ := filepath.Abs(root)
	if got != want {
		t.Errorf("FindProjectRoot() = %q, want %q", got, want)
	}

	if !Exists(root) || Exists(nested) {
		t.Error("Exists() reported the wrong directories")
	}
}
