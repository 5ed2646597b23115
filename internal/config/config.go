// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

type Config struct {
	Server struct {
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"server"`

	Database struct {
		Path string `json:"path"`
	} `json:"database"`

	Capability struct {
		KeyPath    string `json:"key_path"`    // file holding the HMAC signing key
		TTLSeconds int    `json:"ttl_seconds"` // token validity window
	} `json:"capability"`

	Backfill struct {
		IntervalSeconds int `json:"interval_seconds"` // 0 disables the job
	} `json:"backfill"`

	Environment string `json:"environment"` // dev, prod
	LogLevel    string `json:"log_level"`   // debug, info, warn, error
}

func getConfigPath() string {
	env := os.Getenv("ATTIC_ENV")
	if env == "" {
		env = "development"
	}
	return fmt.Sprintf("config/config.%s.json", env)
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var config Config
	if err := json.NewDecoder(file).Decode(&config); err != nil {
		return nil, err
	}

	if config.Capability.TTLSeconds == 0 {
		config.Capability.TTLSeconds = int((5 * time.Minute).Seconds())
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}

	return &config, nil
}

// TokenTTL returns the capability validity window as a duration.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.Capability.TTLSeconds) * time.Second
}
