package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loadable from a YAML file with
// environment-variable overrides applied on top.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Store  StoreConfig  `yaml:"store"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig controls the HTTP/WebSocket listener (§6).
type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig points at the primary state store (§4.1, Redis-backed).
type StoreConfig struct {
	RedisURL     string        `yaml:"redis_url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	KeyNamespace string        `yaml:"key_namespace"`
}

// AuditConfig controls the audit write queue (component B, §4.2).
type AuditConfig struct {
	DatabaseURL    string        `yaml:"database_url"`
	Workers        int           `yaml:"workers"`
	QueueCapacity  int           `yaml:"queue_capacity"`
	HighWaterMark  int           `yaml:"high_water_mark"`
	RetentionCount int           `yaml:"retention_count"`
	RetentionTTL   time.Duration `yaml:"retention_ttl"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load reads and parses the YAML config at path, then applies the
// environment overlay (env vars always win over the file).
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

// LoadOrDefault loads config from path, or returns the default config
// (with the environment overlay still applied) if path doesn't exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		applyEnvOverlay(cfg)
		return cfg, nil
	}
	return Load(path)
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ShutdownTimeout: 15 * time.Second,
		},
		Store: StoreConfig{
			RedisURL:     "redis://127.0.0.1:6379/0",
			PoolSize:     50,
			DialTimeout:  5 * time.Second,
			KeyNamespace: "syncclock",
		},
		Audit: AuditConfig{
			Workers:        10,
			QueueCapacity:  1000,
			HighWaterMark:  800,
			RetentionCount: 100,
			RetentionTTL:   time.Hour,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// applyEnvOverlay layers PORT/REDIS_URL/DATABASE_URL/LOG_LEVEL and the
// audit/store pool bounds from the environment on top of whatever was
// loaded from YAML, so a container can be retargeted without a config
// file.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Audit.DatabaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AUDIT_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.Workers = n
		}
	}
	if v := os.Getenv("AUDIT_HIGH_WATER_MARK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.HighWaterMark = n
		}
	}
	if v := os.Getenv("STORE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.PoolSize = n
		}
	}
}

// Diff compares two configs and returns human-readable descriptions of
// what changed, for logging on a reload.
func Diff(old, new *Config) []string {
	var changes []string

	if old.Server.Port != new.Server.Port {
		changes = append(changes, fmt.Sprintf("server.port: %d -> %d", old.Server.Port, new.Server.Port))
	}
	if old.Server.Host != new.Server.Host {
		changes = append(changes, fmt.Sprintf("server.host: %s -> %s", old.Server.Host, new.Server.Host))
	}
	if !stringsEqual(old.Server.AllowedOrigins, new.Server.AllowedOrigins) {
		changes = append(changes, fmt.Sprintf("server.allowed_origins: %v -> %v", old.Server.AllowedOrigins, new.Server.AllowedOrigins))
	}
	if old.Store.RedisURL != new.Store.RedisURL {
		changes = append(changes, "store.redis_url: changed")
	}
	if old.Store.PoolSize != new.Store.PoolSize {
		changes = append(changes, fmt.Sprintf("store.pool_size: %d -> %d", old.Store.PoolSize, new.Store.PoolSize))
	}
	if old.Audit.DatabaseURL != new.Audit.DatabaseURL {
		changes = append(changes, "audit.database_url: changed")
	}
	if old.Audit.Workers != new.Audit.Workers {
		changes = append(changes, fmt.Sprintf("audit.workers: %d -> %d", old.Audit.Workers, new.Audit.Workers))
	}
	if old.Audit.HighWaterMark != new.Audit.HighWaterMark {
		changes = append(changes, fmt.Sprintf("audit.high_water_mark: %d -> %d", old.Audit.HighWaterMark, new.Audit.HighWaterMark))
	}
	if old.Log.Level != new.Log.Level {
		changes = append(changes, fmt.Sprintf("log.level: %s -> %s", old.Log.Level, new.Log.Level))
	}

	return changes
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func defaultConfigDir() string {
	if value := os.Getenv("XDG_CONFIG_HOME"); value != "" {
		return value
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".config")
}

// DefaultConfigPath returns the default XDG-compliant config file path.
func DefaultConfigPath() string {
	return filepath.Join(defaultConfigDir(), "syncclock", "config.yaml")
}
