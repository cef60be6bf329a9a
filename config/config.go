// Package config assembles runtime settings from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultHTTPAddr       = ":8080"
	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisTimeout   = 250 * time.Millisecond
	DefaultLocalCacheSize = 10000
)

type Redis struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Timeout  time.Duration `yaml:"-"`

	// TimeoutText is the YAML-facing form of Timeout, a Go duration
	// string such as "250ms". Load parses it.
	TimeoutText string `yaml:"timeout"`
}

type Config struct {
	HTTPAddr string `yaml:"http_addr"`

	// Env selects environment-sensitive behavior. Loopback callers are
	// only auto-bypassed when this is not "production".
	Env string `yaml:"env"`

	Redis Redis `yaml:"redis"`

	// Allowlist holds client IPs exempt from every policy.
	Allowlist []string `yaml:"allowlist"`

	// TrustedProxyHeader, when set, is the only header consulted for the
	// client IP. Leave empty to use the standard header chain.
	TrustedProxyHeader string `yaml:"trusted_proxy_header"`

	// LocalCacheSize bounds the in-process fallback counter store.
	LocalCacheSize int `yaml:"local_cache_size"`
}

func Default() *Config {
	return &Config{
		HTTPAddr: DefaultHTTPAddr,
		Env:      "development",
		Redis: Redis{
			Addr:    DefaultRedisAddr,
			Timeout: DefaultRedisTimeout,
		},
		LocalCacheSize: DefaultLocalCacheSize,
	}
}

// Load builds the configuration: defaults, then the YAML file at path if
// path is non-empty, then environment variables on top.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if cfg.Redis.TimeoutText != "" {
			d, err := time.ParseDuration(cfg.Redis.TimeoutText)
			if err != nil {
				return nil, fmt.Errorf("parse config %s: redis.timeout: %w", path, err)
			}
			cfg.Redis.Timeout = d
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("REDIS_DB: %w", err)
		}
		c.Redis.DB = db
	}
	if v := os.Getenv("REDIS_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("REDIS_TIMEOUT: %w", err)
		}
		c.Redis.Timeout = d
	}
	if v := os.Getenv("RATE_LIMIT_ALLOWLIST"); v != "" {
		c.Allowlist = splitList(v)
	}
	if v := os.Getenv("TRUSTED_PROXY_HEADER"); v != "" {
		c.TrustedProxyHeader = v
	}
	if v := os.Getenv("RATE_LIMIT_LOCAL_CACHE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RATE_LIMIT_LOCAL_CACHE_SIZE: %w", err)
		}
		c.LocalCacheSize = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr must not be empty")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty")
	}
	if c.Redis.Timeout <= 0 {
		return fmt.Errorf("redis.timeout must be positive, got %v", c.Redis.Timeout)
	}
	if c.LocalCacheSize <= 0 {
		return fmt.Errorf("local_cache_size must be positive, got %d", c.LocalCacheSize)
	}
	return nil
}

// Production reports whether environment-sensitive relaxations, such as
// the loopback bypass, must stay off.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
