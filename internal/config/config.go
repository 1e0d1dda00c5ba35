// Package config loads client configuration from an optional YAML file and
// environment variables. Environment variables win over the file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds store client configuration.
type Config struct {
	// Store location
	BaseURL      string `yaml:"base_url"`
	StoresDomain string `yaml:"stores_domain"`
	StoresScheme string `yaml:"stores_scheme"`
	Login        string `yaml:"login"`

	// Auth
	Token     string `yaml:"token"`
	TokenFile string `yaml:"token_file"`

	// HTTP
	Timeout time.Duration `yaml:"timeout"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Metrics listener (optional)
	MetricsAddr string `yaml:"metrics_addr"`

	// S3 export target (optional)
	S3 S3Config `yaml:"s3"`
}

// S3Config holds settings for exporting content to an S3-compatible bucket.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Prefix    string `yaml:"prefix"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		StoresScheme: "https",
		Timeout:      30 * time.Second,
		LogLevel:     "info",
		LogFormat:    "console",
		S3: S3Config{
			Region: "us-east-1",
		},
	}
}

// Load reads the YAML file at path (if any), then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config YAML: %w", err)
			}
		case os.IsNotExist(err):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative")
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.BaseURL = envOr("STORE_BASE_URL", c.BaseURL)
	c.StoresDomain = envOr("STORES_DOMAIN", c.StoresDomain)
	c.StoresScheme = envOr("STORES_SCHEME", c.StoresScheme)
	c.Login = envOr("STORE_LOGIN", c.Login)
	c.Token = envOr("STORE_TOKEN", c.Token)
	c.TokenFile = envOr("STORE_TOKEN_FILE", c.TokenFile)
	c.Timeout = envSeconds("STORE_TIMEOUT", c.Timeout)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
	c.S3.Endpoint = envOr("S3_ENDPOINT", c.S3.Endpoint)
	c.S3.Bucket = envOr("S3_BUCKET", c.S3.Bucket)
	c.S3.AccessKey = envOr("S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = envOr("S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Region = envOr("S3_REGION", c.S3.Region)
	c.S3.Prefix = envOr("S3_PREFIX", c.S3.Prefix)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envSeconds reads a whole number of seconds. Unset or invalid values keep
// fallback untouched.
func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(i) * time.Second
}
