package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/realm/internal/errors"
	"github.com/vango-dev/realm/pkg/server"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "realm.json"

	// DefaultTickInterval is the default root scheduler pulse.
	DefaultTickInterval = 50 * time.Millisecond

	// DefaultHeartbeatTicks is the default number of ticks between
	// heartbeat pings.
	DefaultHeartbeatTicks = 100

	// DefaultAdminAddr is the default admin HTTP address.
	DefaultAdminAddr = "127.0.0.1:9171"
)

// Duration is a time.Duration that reads and writes JSON as a Go
// duration string ("30s", "50ms").
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.New("R104").WithDetail(fmt.Sprintf("Expected a duration string, got %s.", data))
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.New("R104").Wrap(err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete realm.json configuration.
type Config struct {
	// Server contains game listener settings.
	Server ServerConfig `json:"server,omitempty"`

	// Scheduler contains tick settings.
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`

	// Admin contains admin HTTP settings.
	Admin AdminConfig `json:"admin,omitempty"`

	// Log contains logging settings.
	Log LogConfig `json:"log,omitempty"`

	// configPath stores the path where the config was loaded from.
	configPath string
}

// ServerConfig contains game listener settings. Zero values fall back to
// server.DefaultConfig.
type ServerConfig struct {
	Host               string   `json:"host,omitempty"`
	Port               int      `json:"port,omitempty"`
	ReusePort          bool     `json:"reusePort,omitempty"`
	ReadTimeout        Duration `json:"readTimeout,omitempty"`
	WriteTimeout       Duration `json:"writeTimeout,omitempty"`
	HandshakeTimeout   Duration `json:"handshakeTimeout,omitempty"`
	ShutdownTimeout    Duration `json:"shutdownTimeout,omitempty"`
	MaxConnections     int      `json:"maxConnections,omitempty"`
	MaxBodySize        int      `json:"maxBodySize,omitempty"`
	OutboundQueueLimit int      `json:"outboundQueueLimit,omitempty"`
	VersionConstraint  string   `json:"versionConstraint,omitempty"`
	ServerName         string   `json:"serverName,omitempty"`
	ServerVersion      string   `json:"serverVersion,omitempty"`
	TickRate           uint16   `json:"tickRate,omitempty"`
}

// SchedulerConfig contains tick settings.
type SchedulerConfig struct {
	// TickInterval is the wall-clock period of the root scheduler.
	TickInterval Duration `json:"tickInterval,omitempty"`

	// HeartbeatTicks is the number of root ticks between heartbeat pings.
	// A negative value disables the heartbeat.
	HeartbeatTicks int `json:"heartbeatTicks,omitempty"`
}

// AdminConfig contains admin HTTP settings.
type AdminConfig struct {
	// Addr is the admin listen address. "off" disables the admin server.
	Addr string `json:"addr,omitempty"`

	// WebSocket mounts the game WebSocket bridge at /ws on the admin server.
	WebSocket bool `json:"websocket,omitempty"`
}

// Enabled reports whether the admin server should run.
func (a AdminConfig) Enabled() bool {
	return a.Addr != "" && a.Addr != "off"
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is text or json.
	Format string `json:"format,omitempty"`
}

// New creates a new Config with default values.
func New() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads configuration from the specified directory.
// It looks for realm.json in the directory.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New("R102").Wrap(err)
		}
		return nil, errors.New("R101").Wrap(err)
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.FromError(err, "R101")
	}

	c.configPath = path
	c.applyDefaults()
	return &c, nil
}

// SaveTo writes the configuration to the specified path.
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return err
	}
	c.configPath = path
	return nil
}

// Path returns the path where the config was loaded from.
func (c *Config) Path() string {
	return c.configPath
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	d := server.DefaultConfig()

	if c.Server.Port == 0 {
		c.Server.Port = d.Port
	}
	if c.Scheduler.TickInterval == 0 {
		c.Scheduler.TickInterval = Duration(DefaultTickInterval)
	}
	if c.Scheduler.HeartbeatTicks == 0 {
		c.Scheduler.HeartbeatTicks = DefaultHeartbeatTicks
	}
	if c.Admin.Addr == "" {
		c.Admin.Addr = DefaultAdminAddr
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ListenerConfig converts the server section to a listener config. Zero
// fields keep the listener defaults.
func (c *Config) ListenerConfig() *server.Config {
	out := server.DefaultConfig()
	s := c.Server

	out.Host = s.Host
	out.Port = s.Port
	out.ReusePort = s.ReusePort
	setDuration(&out.ReadTimeout, s.ReadTimeout)
	setDuration(&out.WriteTimeout, s.WriteTimeout)
	setDuration(&out.HandshakeTimeout, s.HandshakeTimeout)
	setDuration(&out.ShutdownTimeout, s.ShutdownTimeout)
	if s.MaxConnections != 0 {
		out.MaxConnections = s.MaxConnections
	}
	if s.MaxBodySize != 0 {
		out.MaxBodySize = s.MaxBodySize
	}
	if s.OutboundQueueLimit != 0 {
		out.OutboundQueueLimit = s.OutboundQueueLimit
	}
	if s.VersionConstraint != "" {
		out.VersionConstraint = s.VersionConstraint
	}
	if s.ServerName != "" {
		out.ServerName = s.ServerName
	}
	if s.ServerVersion != "" {
		out.ServerVersion = s.ServerVersion
	}
	if s.TickRate != 0 {
		out.TickRate = s.TickRate
	}
	return out
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = v.Std()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.ListenerConfig().Validate(); err != nil {
		return errors.New("R103").Wrap(err)
	}
	if c.Scheduler.TickInterval.Std() <= 0 {
		return errors.New("R103").WithDetail("scheduler.tickInterval must be positive.")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("R103").WithDetail(fmt.Sprintf("log.level %q is not one of debug, info, warn, error.", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New("R103").WithDetail(fmt.Sprintf("log.format %q is not one of text, json.", c.Log.Format))
	}
	return nil
}

// Exists checks if a config file exists in the given directory.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ConfigFileName))
	return err == nil
}

// FindProjectRoot walks up directories to find the project root.
// Returns the directory containing realm.json, or an error if not found.
func FindProjectRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		if Exists(dir) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("R102")
		}
		dir = parent
	}
}

// LoadFromWorkingDir loads configuration from the nearest realm.json at
// or above the working directory. Without one it returns the defaults.
func LoadFromWorkingDir() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	root, err := FindProjectRoot(wd)
	if err != nil {
		return New(), nil
	}
	return Load(root)
}
