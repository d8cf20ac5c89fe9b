// Package config loads the service configuration from an optional YAML file
// with environment variable overrides. With no file and no environment the
// defaults produce a runnable single-node setup.
package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v2"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Hub     HubConfig     `yaml:"hub"`
	Admin   AdminConfig   `yaml:"admin"`
	Queue   QueueConfig   `yaml:"queue"`
	Store   StoreConfig   `yaml:"store"`
	Logbook LogbookConfig `yaml:"logbook"`
	NATS    NATSConfig    `yaml:"nats"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig is the HTTP listener.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// BridgeConfig is the UDP ingest listener.
type BridgeConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
}

// HubConfig bounds the subscriber registry.
type HubConfig struct {
	MaxClients       int `yaml:"max_clients"`
	SendBuffer       int `yaml:"send_buffer"`
	KeepaliveSeconds int `yaml:"keepalive_seconds"`
}

// AdminConfig holds operator credentials. Leaving both empty disables admin
// operations entirely.
type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// QueueConfig bounds the pileup queue and signs its tokens.
type QueueConfig struct {
	MaxLength     int    `yaml:"max_length"`
	WorkedHistory int    `yaml:"worked_history"`
	TokenSecret   string `yaml:"token_secret"`
	TokenTTLHours int    `yaml:"token_ttl_hours"`
}

// StoreConfig selects the state backend.
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	RedisAddr string `yaml:"redis_addr"`
	KeyPrefix string `yaml:"key_prefix"`
	PoolSize  int    `yaml:"pool_size"`
}

// LogbookConfig points at the SQLite logbook. An empty path disables it.
type LogbookConfig struct {
	Path string `yaml:"path"`
}

// NATSConfig is the optional event relay.
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// LogConfig shapes the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given. The UDP port
// matches the WSJT-X default so loggers work out of the box.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 8080, Address: "0.0.0.0"},
		Bridge: BridgeConfig{
			UDPPort:     2237,
			BindAddress: "0.0.0.0",
			BufferSize:  2048,
			Workers:     4,
			QueueSize:   1000,
		},
		Hub:   HubConfig{MaxClients: 500, SendBuffer: 32, KeepaliveSeconds: 30},
		Queue: QueueConfig{MaxLength: 50, WorkedHistory: 20, TokenTTLHours: 24},
		Store: StoreConfig{
			Backend:   "memory",
			RedisAddr: "localhost:6379",
			KeyPrefix: "pileup",
			PoolSize:  10,
		},
		Logbook: LogbookConfig{Path: "pileup-log.db"},
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			SubjectPrefix: "pileup.events",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration: defaults, then the YAML file at path if one
// is given, then environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnv layers environment variables over the loaded values.
func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Bridge.UDPPort = getEnvInt("UDP_PORT", c.Bridge.UDPPort)
	c.Store.Backend = getEnv("STORE_BACKEND", c.Store.Backend)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Admin.Username = getEnv("ADMIN_USERNAME", c.Admin.Username)
	c.Admin.Password = getEnv("ADMIN_PASSWORD", c.Admin.Password)
	c.Queue.TokenSecret = getEnv("QUEUE_TOKEN_SECRET", c.Queue.TokenSecret)
	c.Logbook.Path = getEnv("LOGBOOK_PATH", c.Logbook.Path)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)

	if url := os.Getenv("NATS_URL"); url != "" {
		c.NATS.URL = url
		c.NATS.Enabled = true
	}
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("bridge config: %w", err)
	}
	if err := c.Hub.Validate(); err != nil {
		return fmt.Errorf("hub config: %w", err)
	}
	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.NATS.Validate(); err != nil {
		return fmt.Errorf("nats config: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	return nil
}

func (b *BridgeConfig) Validate() error {
	if b.UDPPort < 1 || b.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", b.UDPPort)
	}
	if b.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}
	if b.BufferSize < 512 {
		return fmt.Errorf("buffer_size must be at least 512 bytes, got %d", b.BufferSize)
	}
	if b.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", b.Workers)
	}
	if b.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", b.QueueSize)
	}
	return nil
}

func (h *HubConfig) Validate() error {
	if h.MaxClients < 1 {
		return fmt.Errorf("max_clients must be at least 1, got %d", h.MaxClients)
	}
	if h.SendBuffer < 1 {
		return fmt.Errorf("send_buffer must be at least 1, got %d", h.SendBuffer)
	}
	if h.KeepaliveSeconds < 1 {
		return fmt.Errorf("keepalive_seconds must be at least 1, got %d", h.KeepaliveSeconds)
	}
	return nil
}

func (q *QueueConfig) Validate() error {
	if q.MaxLength < 1 {
		return fmt.Errorf("max_length must be at least 1, got %d", q.MaxLength)
	}
	if q.WorkedHistory < 1 {
		return fmt.Errorf("worked_history must be at least 1, got %d", q.WorkedHistory)
	}
	if q.TokenTTLHours < 1 {
		return fmt.Errorf("token_ttl_hours must be at least 1, got %d", q.TokenTTLHours)
	}
	return nil
}

func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case "memory":
	case "redis":
		if s.RedisAddr == "" {
			return fmt.Errorf("redis_addr cannot be empty with the redis backend")
		}
	default:
		return fmt.Errorf("backend must be 'memory' or 'redis', got '%s'", s.Backend)
	}
	return nil
}

func (n *NATSConfig) Validate() error {
	if n.Enabled && n.URL == "" {
		return fmt.Errorf("url cannot be empty when nats is enabled")
	}
	return nil
}

func (l *LogConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}
	return nil
}

// ListenAddr is the HTTP bind address.
func (s *ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// TokenTTL returns the queue token lifetime as a time.Duration.
func (q *QueueConfig) TokenTTL() time.Duration {
	return time.Duration(q.TokenTTLHours) * time.Hour
}

// Keepalive returns the idle keepalive interval as a time.Duration.
func (h *HubConfig) Keepalive() time.Duration {
	return time.Duration(h.KeepaliveSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		fmt.Sscanf(value, "%d", &result)
		return result
	}
	return defaultValue
}
