package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration, loaded from yaml with environment
// overrides for deployment knobs.
type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		StaticDir string `yaml:"static_dir"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	WebSocket struct {
		PingIntervalSec int   `yaml:"ping_interval_sec"`
		WriteTimeoutSec int   `yaml:"write_timeout_sec"`
		ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
		MaxMessageBytes int64 `yaml:"max_message_size_bytes"`
	} `yaml:"websocket"`
}

func defaultConfig() *Config {
	var cfg Config
	cfg.Server.Port = "3000"
	cfg.Server.StaticDir = "web/static"
	cfg.Log.Level = "info"
	cfg.WebSocket.PingIntervalSec = 30
	cfg.WebSocket.WriteTimeoutSec = 10
	cfg.WebSocket.ReadTimeoutSec = 60
	cfg.WebSocket.MaxMessageBytes = 1024
	return &cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing config file falls back to defaults plus env.
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.StaticDir = getEnv("STATIC_DIR", c.Server.StaticDir)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.WebSocket.PingIntervalSec = getEnvAsInt("WS_PING_INTERVAL_SEC", c.WebSocket.PingIntervalSec)
}

func (c *Config) pingInterval() time.Duration {
	return time.Duration(c.WebSocket.PingIntervalSec) * time.Second
}

func (c *Config) writeTimeout() time.Duration {
	return time.Duration(c.WebSocket.WriteTimeoutSec) * time.Second
}

func (c *Config) readTimeout() time.Duration {
	return time.Duration(c.WebSocket.ReadTimeoutSec) * time.Second
}
