// Package config loads punt worker settings from an optional file and the
// environment.
//
// A file named punt.config.yaml, punt.config.yml or punt.config.json in the
// working directory is read when no explicit path is given. A missing file
// is not an error. Environment variables are applied on top of the file.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/xraph/punt"
)

// DefaultRedisURL is used when neither the file nor REDIS_URL set one.
const DefaultRedisURL = "redis://localhost:6379"

// Environment variables read by Load.
const (
	EnvRedisURL    = "REDIS_URL"
	EnvTopic       = "PUNT_TOPIC"
	EnvGroup       = "PUNT_GROUP"
	EnvWorker      = "PUNT_WORKER"
	EnvMaxRetries  = "PUNT_MAX_RETRIES"
	EnvTimeoutMs   = "PUNT_TIMEOUT_MS"
	EnvVerbose     = "PUNT_VERBOSE"
	EnvTLSInsecure = "PUNT_TLS_INSECURE"
)

// FileNames are the candidates searched in the working directory.
var FileNames = []string{"punt.config.yaml", "punt.config.yml", "punt.config.json"}

// TLS configures the Redis connection's TLS.
type TLS struct {
	// Enabled forces TLS even for a redis:// URL.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// InsecureSkipVerify disables certificate verification.
	InsecureSkipVerify bool `yaml:"insecureSkipVerify" json:"insecureSkipVerify"`

	// ServerName overrides the name checked against the certificate.
	ServerName string `yaml:"serverName" json:"serverName"`
}

// Config is the file and environment configuration of a punt worker.
type Config struct {
	RedisURL        string  `yaml:"redisUrl" json:"redisUrl"`
	Topic           string  `yaml:"topic" json:"topic"`
	Group           string  `yaml:"group" json:"group"`
	Worker          string  `yaml:"worker" json:"worker"`
	MaxRetries      int     `yaml:"maxRetries" json:"maxRetries"`
	TimeoutMs       int64   `yaml:"timeoutMs" json:"timeoutMs"`
	RetryIntervalMs int64   `yaml:"retryIntervalMs" json:"retryIntervalMs"`
	RateLimit       float64 `yaml:"rateLimit" json:"rateLimit"`
	RateBurst       int     `yaml:"rateBurst" json:"rateBurst"`
	Verbose         bool    `yaml:"verbose" json:"verbose"`
	Audit           bool    `yaml:"audit" json:"audit"`
	HTTPAddr        string  `yaml:"httpAddr" json:"httpAddr"`
	TLS             TLS     `yaml:"tls" json:"tls"`

	// Source is the file the configuration was read from, if any.
	Source string `yaml:"-" json:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	def := punt.DefaultConfig()
	return &Config{
		RedisURL:        DefaultRedisURL,
		Topic:           def.Topic,
		Group:           def.Group,
		Worker:          def.Consumer,
		MaxRetries:      def.MaxRetries,
		TimeoutMs:       def.BlockTimeout.Milliseconds(),
		RetryIntervalMs: def.RetryInterval.Milliseconds(),
		HTTPAddr:        ":8080",
	}
}

// Load reads the file at path, or the first of FileNames found in the
// working directory when path is empty, then applies the environment. An
// explicit path that does not exist is an error.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with a custom environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	} else {
		for _, name := range FileNames {
			err := cfg.readFile(name)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			break
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// readFile decodes path over cfg. JSON is valid YAML, so one decoder serves
// every candidate.
func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	if abs, err := filepath.Abs(path); err == nil {
		c.Source = abs
	} else {
		c.Source = path
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvRedisURL); ok && v != "" {
		c.RedisURL = v
	}
	if v, ok := lookup(EnvTopic); ok && v != "" {
		c.Topic = v
	}
	if v, ok := lookup(EnvGroup); ok && v != "" {
		c.Group = v
	}
	if v, ok := lookup(EnvWorker); ok && v != "" {
		c.Worker = v
	}
	if v, ok := lookup(EnvMaxRetries); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return fmt.Errorf("config: %s=%q: want a non-negative integer", EnvMaxRetries, v)
		}
		c.MaxRetries = n
	}
	if v, ok := lookup(EnvTimeoutMs); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return fmt.Errorf("config: %s=%q: want a positive integer", EnvTimeoutMs, v)
		}
		c.TimeoutMs = n
	}
	if v, ok := lookup(EnvVerbose); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvVerbose, v, err)
		}
		c.Verbose = b
	}
	if v, ok := lookup(EnvTLSInsecure); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s=%q: %w", EnvTLSInsecure, v, err)
		}
		c.TLS.InsecureSkipVerify = b
	}
	return nil
}

// RedisOptions builds go-redis options from the URL and TLS settings.
func (c *Config) RedisOptions() (*redis.Options, error) {
	url := c.RedisURL
	if url == "" {
		url = DefaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("config: redis url: %w", err)
	}

	if c.TLS.Enabled && opts.TLSConfig == nil {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if opts.TLSConfig != nil {
		if c.TLS.ServerName != "" {
			opts.TLSConfig.ServerName = c.TLS.ServerName
		}
		if c.TLS.InsecureSkipVerify {
			opts.TLSConfig.InsecureSkipVerify = true //nolint:gosec // opt-in for self-signed brokers
		}
	}
	return opts, nil
}

// Punt converts c to the engine configuration.
func (c *Config) Punt() punt.Config {
	cfg := punt.DefaultConfig()
	if c.Topic != "" {
		cfg.Topic = c.Topic
	}
	if c.Group != "" {
		cfg.Group = c.Group
	}
	if c.Worker != "" {
		cfg.Consumer = c.Worker
	}
	if c.MaxRetries >= 0 {
		cfg.MaxRetries = c.MaxRetries
	}
	if c.TimeoutMs > 0 {
		cfg.BlockTimeout = time.Duration(c.TimeoutMs) * time.Millisecond
	}
	if c.RetryIntervalMs > 0 {
		cfg.RetryInterval = time.Duration(c.RetryIntervalMs) * time.Millisecond
	}
	cfg.RateLimit = c.RateLimit
	cfg.RateBurst = c.RateBurst
	cfg.Verbose = c.Verbose
	return cfg
}
