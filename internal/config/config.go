package config

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
)

// Config represents the complete proxy server configuration
// Aggregates all component configurations for centralized management
// Supports file-based configuration layered over documented defaults
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Limits  LimitsConfig  `yaml:"limits" json:"limits"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig defines the listening port and the internal metrics port
type ServerConfig struct {
	Port        int `yaml:"port" json:"port" default:"9999"`
	MetricsPort int `yaml:"metricsPort" json:"metricsPort" default:"9998"`
}

// CacheConfig defines the bounded LRU cache's size limits
type CacheConfig struct {
	MaxObjectSize int64 `yaml:"maxObjectSize" json:"maxObjectSize" default:"102400"`
	MaxCacheSize  int64 `yaml:"maxCacheSize" json:"maxCacheSize" default:"1048576"`
}

// RateLimitConfig defines rate limiting configuration
// Controls per-client admission using a token bucket
type RateLimitConfig struct {
	Enabled    bool `yaml:"enabled" json:"enabled" default:"true"`
	Capacity   int  `yaml:"capacity" json:"capacity" default:"50"`
	RefillRate int  `yaml:"refillRate" json:"refillRate" default:"25"`
}

// LimitsConfig bounds the resources a single proxy process will use
type LimitsConfig struct {
	MaxConnections int             `yaml:"maxConnections" json:"maxConnections" default:"1024"`
	DialTimeout    time.Duration   `yaml:"dialTimeout" json:"dialTimeout" default:"10s"`
	RateLimit      RateLimitConfig `yaml:"rateLimit" json:"rateLimit"`
}

// TracingConfig defines OpenTelemetry tracing configuration
// Controls distributed tracing and observability
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"forward-proxy"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" default:"development"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// DefaultConfig returns configuration with sensible defaults
// Provides baseline configuration matching the spec's size budget
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        9999,
			MetricsPort: 9998,
		},
		Cache: CacheConfig{
			MaxObjectSize: 100 * 1024,
			MaxCacheSize:  1024 * 1024,
		},
		Limits: LimitsConfig{
			MaxConnections: 1024,
			DialTimeout:    10 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:    true,
				Capacity:   50,
				RefillRate: 25,
			},
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "forward-proxy",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// GetInstance returns the singleton config instance
// Uses sync.Once to ensure thread-safe lazy initialisation
func GetInstance() *Config {
	once.Do(func() {
		instance = DefaultConfig()
	})
	return instance
}

// LoadConfig loads configuration from an optional YAML file and installs it
// as the singleton instance, provided GetInstance has not already
// initialised the singleton; if it has, the loaded configuration is
// discarded and the existing instance is kept. A missing file is not an
// error: the proxy's only mandatory input is its listening port, supplied
// on the command line.
func LoadConfig(path string) error {
	cfg, err := loadFromFile(path)
	if err != nil {
		return err
	}

	// Update singleton instance
	once.Do(func() {
		instance = cfg
	})
	return nil
}

// loadFromFile reads configuration from a YAML file, starting from
// DefaultConfig so unset fields keep their defaults
func loadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
