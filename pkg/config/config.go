package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
)

// EnvPrefix is prepended to every environment override, e.g.
// WAKTU_SOLAT_CACHE_TTL or WAKTU_SOLAT_HTTP_BASE_URL.
const EnvPrefix = "WAKTU_SOLAT"

// DefaultPaths are tried in order when no --config is given.
var DefaultPaths = []string{"config.yaml", "config.yml", "config.json", "config.toml"}

type Config struct {
	Cache  CacheConfig  `mapstructure:"cache" yaml:"cache" json:"cache" toml:"cache"`
	HTTP   HTTPConfig   `mapstructure:"http" yaml:"http" json:"http" toml:"http"`
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server" toml:"server"`
	Log    LogConfig    `mapstructure:"log" yaml:"log" json:"log" toml:"log"`

	// File is the config file that was read, empty when running on defaults.
	File string `mapstructure:"-" yaml:"-" json:"-" toml:"-"`
}

// CacheConfig durations are in seconds.
type CacheConfig struct {
	TTL     int `mapstructure:"ttl" yaml:"ttl" json:"ttl" toml:"ttl"`
	MaxSize int `mapstructure:"max_size" yaml:"max_size" json:"max_size" toml:"max_size"`
}

type HTTPConfig struct {
	Timeout         int    `mapstructure:"timeout" yaml:"timeout" json:"timeout" toml:"timeout"`
	MaxRetries      int    `mapstructure:"max_retries" yaml:"max_retries" json:"max_retries" toml:"max_retries"`
	PoolConnections int    `mapstructure:"pool_connections" yaml:"pool_connections" json:"pool_connections" toml:"pool_connections"`
	BaseURL         string `mapstructure:"base_url" yaml:"base_url" json:"base_url" toml:"base_url"`
	VerifySSL       bool   `mapstructure:"verify_ssl" yaml:"verify_ssl" json:"verify_ssl" toml:"verify_ssl"`
}

type ServerConfig struct {
	RateLimit      int    `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit" toml:"rate_limit"`
	RateWindow     int    `mapstructure:"rate_window" yaml:"rate_window" json:"rate_window" toml:"rate_window"`
	ReadTimeout    int    `mapstructure:"read_timeout" yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	EOFGrace       int    `mapstructure:"eof_grace" yaml:"eof_grace" json:"eof_grace" toml:"eof_grace"`
	HealthInterval int    `mapstructure:"health_interval" yaml:"health_interval" json:"health_interval" toml:"health_interval"`
	Timezone       string `mapstructure:"timezone" yaml:"timezone" json:"timezone" toml:"timezone"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level" toml:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format" toml:"format"`
}

// Load reads defaults, then the config file, then .env and WAKTU_SOLAT_*
// overrides, and validates the result. An explicit configPath must exist.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, configError("failed to load .env: %v", err)
	}

	v := viper.New()
	setDefaults(v)
	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	file := configPath
	if file == "" {
		for _, p := range DefaultPaths {
			if _, err := os.Stat(p); err == nil {
				file = p
				break
			}
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, configError("failed to read config file %s: %v", file, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, configError("failed to unmarshal config: %v", err)
	}
	cfg.File = file

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("cache.ttl", 3600)
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("http.timeout", 10)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.pool_connections", 10)
	v.SetDefault("http.base_url", "https://api.waktusolat.app")
	v.SetDefault("http.verify_ssl", true)

	v.SetDefault("server.rate_limit", 60)
	v.SetDefault("server.rate_window", 60)
	v.SetDefault("server.read_timeout", 300)
	v.SetDefault("server.eof_grace", 10)
	v.SetDefault("server.health_interval", 30)
	v.SetDefault("server.timezone", "Asia/Kuala_Lumpur")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

var boolKeys = []string{"http.verify_ssl"}

func bindEnvVars(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range v.AllKeys() {
		_ = v.BindEnv(key)
	}

	// Booleans also accept yes/no, which the decoder does not.
	for _, key := range boolKeys {
		raw, ok := os.LookupEnv(EnvName(key))
		if !ok {
			continue
		}
		b, err := parseBool(raw)
		if err != nil {
			return configError("invalid value for %s: %v", EnvName(key), err)
		}
		v.Set(key, b)
	}
	return nil
}

// EnvName maps a config key such as http.base_url to its environment variable.
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%q is not a boolean", s)
}

func (c *Config) Validate() error {
	if c.Cache.TTL <= 0 {
		return configError("cache TTL must be positive: %d", c.Cache.TTL)
	}
	if c.Cache.MaxSize < 1 {
		return configError("cache max size must be at least 1: %d", c.Cache.MaxSize)
	}

	if c.HTTP.Timeout < 1 {
		return configError("HTTP timeout must be at least 1 second: %d", c.HTTP.Timeout)
	}
	if c.HTTP.MaxRetries < 1 {
		return configError("max retries must be at least 1: %d", c.HTTP.MaxRetries)
	}
	if c.HTTP.PoolConnections < 1 {
		return configError("pool connections must be at least 1: %d", c.HTTP.PoolConnections)
	}
	if !strings.HasPrefix(c.HTTP.BaseURL, "http://") && !strings.HasPrefix(c.HTTP.BaseURL, "https://") {
		return configError("base URL must start with http:// or https://: %q", c.HTTP.BaseURL)
	}

	if c.Server.RateLimit < 1 {
		return configError("rate limit must be at least 1: %d", c.Server.RateLimit)
	}
	if c.Server.RateWindow < 1 {
		return configError("rate window must be at least 1 second: %d", c.Server.RateWindow)
	}
	if c.Server.ReadTimeout < 1 {
		return configError("read timeout must be at least 1 second: %d", c.Server.ReadTimeout)
	}
	if c.Server.EOFGrace < 0 {
		return configError("EOF grace must be non-negative: %d", c.Server.EOFGrace)
	}
	if c.Server.HealthInterval < 1 {
		return configError("health interval must be at least 1 second: %d", c.Server.HealthInterval)
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return configError("invalid timezone %q: %v", c.Server.Timezone, err)
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return configError("%v", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return configError("invalid log format %q (must be text or json)", c.Log.Format)
	}
	return nil
}

func (c *CacheConfig) DefaultTTL() time.Duration { return seconds(c.TTL) }

func (c *HTTPConfig) TimeoutDuration() time.Duration { return seconds(c.Timeout) }

func (c *ServerConfig) RateWindowDuration() time.Duration { return seconds(c.RateWindow) }

func (c *ServerConfig) ReadTimeoutDuration() time.Duration { return seconds(c.ReadTimeout) }

func (c *ServerConfig) EOFGraceDuration() time.Duration { return seconds(c.EOFGrace) }

func (c *ServerConfig) HealthIntervalDuration() time.Duration { return seconds(c.HealthInterval) }

// Location resolves the configured timezone. Validate has already checked it.
func (c *ServerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("MYT", 8*3600)
	}
	return loc
}

// Marshal renders the configuration as yaml, json or toml.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml", "":
		return yaml.Marshal(c)
	case "json":
		return json.MarshalIndent(c, "", "  ")
	case "toml":
		return toml.Marshal(c)
	}
	return nil, fmt.Errorf("%w: unsupported format %q (must be yaml, json, or toml)", domain.ErrInvalidArgument, format)
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", domain.ErrConfiguration, fmt.Sprintf(format, args...))
}
