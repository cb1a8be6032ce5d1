package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config global configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	MySQL        MySQLConfig        `yaml:"mysql"`
	Pool         PoolConfig         `yaml:"pool"`
	Session      SessionConfig      `yaml:"session"`
	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Spawner      SpawnerConfig      `yaml:"spawner"`
	Notification NotificationConfig `yaml:"notification"`
	Logger       LoggerConfig       `yaml:"logger"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Port   int    `yaml:"port"`
	Mode   string `yaml:"mode"`    // debug, release
	APIKey string `yaml:"api_key"` // API key for worker routes (optional, empty disables auth)
}

// RedisConfig Redis configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig MySQL configuration
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PoolConfig server pool health configuration
type PoolConfig struct {
	HeartbeatInterval int `yaml:"heartbeat_interval"` // Probe cycle length (seconds)
	SuspectThreshold  int `yaml:"suspect_threshold"`  // Missed probes before HEALTHY -> SUSPECT
	DeadThreshold     int `yaml:"dead_threshold"`     // Missed probes before SUSPECT -> DEAD
	DefaultCapacity   int `yaml:"default_capacity"`   // Capacity used when a worker registers without one
}

// SessionConfig session lifecycle configuration
type SessionConfig struct {
	IdleTimeout   int `yaml:"idle_timeout"`    // ACTIVE -> IDLE after this inactivity (seconds)
	ExpireTimeout int `yaml:"expire_timeout"`  // IDLE -> EXPIRED after this further inactivity (seconds)
	ReuseGrace    int `yaml:"reuse_grace"`     // Expired-id tombstone window (seconds)
	MaxQueueDepth int `yaml:"max_queue_depth"` // Queued dispatches per session before SessionBusy
	SweepInterval int `yaml:"sweep_interval"`  // Lifecycle sweep cadence (seconds)
}

// DispatchConfig command round-trip configuration
type DispatchConfig struct {
	RequestTimeout int `yaml:"request_timeout"` // Per-request deadline (seconds)
}

// SpawnerConfig local worker process launcher configuration
type SpawnerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Command   []string `yaml:"command"`    // Worker command line; {port} is substituted
	PortStart int      `yaml:"port_start"` // Inclusive
	PortEnd   int      `yaml:"port_end"`   // Exclusive
	Prewarm   int      `yaml:"prewarm"`    // Workers launched at startup
}

// NotificationConfig operator alert configuration
type NotificationConfig struct {
	FeishuWebhookURL string `yaml:"feishu_webhook_url"` // Empty disables alerts
}

// LoggerConfig logger configuration
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig logger file configuration
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// Init initializes configuration
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return err
	}

	GlobalConfig = &cfg
	return nil
}

func (c *Config) applyDefaults() {
	if c.Pool.HeartbeatInterval <= 0 {
		c.Pool.HeartbeatInterval = 10
	}
	if c.Pool.SuspectThreshold <= 0 {
		c.Pool.SuspectThreshold = 2
	}
	if c.Pool.DeadThreshold <= c.Pool.SuspectThreshold {
		c.Pool.DeadThreshold = c.Pool.SuspectThreshold + 2
	}
	if c.Pool.DefaultCapacity <= 0 {
		c.Pool.DefaultCapacity = 1
	}
	if c.Session.IdleTimeout <= 0 {
		c.Session.IdleTimeout = 300
	}
	if c.Session.ExpireTimeout <= 0 {
		c.Session.ExpireTimeout = 1800
	}
	if c.Session.ReuseGrace <= 0 {
		c.Session.ReuseGrace = 600
	}
	if c.Session.MaxQueueDepth <= 0 {
		c.Session.MaxQueueDepth = 8
	}
	if c.Session.SweepInterval <= 0 {
		c.Session.SweepInterval = 30
	}
	if c.Dispatch.RequestTimeout <= 0 {
		c.Dispatch.RequestTimeout = 60
	}
}

// Validate rejects configurations the manager cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Spawner.Enabled {
		if len(c.Spawner.Command) == 0 {
			return fmt.Errorf("spawner enabled but no command configured")
		}
		if c.Spawner.PortEnd <= c.Spawner.PortStart {
			return fmt.Errorf("invalid spawner port range [%d, %d)", c.Spawner.PortStart, c.Spawner.PortEnd)
		}
	}
	return nil
}

// HeartbeatCycle returns the probe interval as a duration.
func (c *PoolConfig) HeartbeatCycle() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}

// IdleDuration returns the ACTIVE -> IDLE threshold as a duration.
func (c *SessionConfig) IdleDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}

// ExpireDuration returns the IDLE -> EXPIRED threshold as a duration.
func (c *SessionConfig) ExpireDuration() time.Duration {
	return time.Duration(c.ExpireTimeout) * time.Second
}

// ReuseGraceDuration returns the expired-id tombstone window as a duration.
func (c *SessionConfig) ReuseGraceDuration() time.Duration {
	return time.Duration(c.ReuseGrace) * time.Second
}

// SweepDuration returns the lifecycle sweep cadence as a duration.
func (c *SessionConfig) SweepDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// RequestDuration returns the per-command deadline as a duration.
func (c *DispatchConfig) RequestDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
