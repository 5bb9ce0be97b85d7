// Package config loads storefront-cart settings. Values come from Default,
// then an optional YAML file, then environment variables; command-line
// flags are applied last by the binary.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

const (
	StorageFile   = "file"
	StorageRedis  = "redis"
	StorageMongo  = "mongo"
	StorageMemory = "memory"
)

type Config struct {
	LogLevel string        `yaml:"log_level"`
	HTTP     HTTPConfig    `yaml:"http"`
	Backend  BackendConfig `yaml:"backend"`
	Sync     SyncConfig    `yaml:"sync"`
	Storage  StorageConfig `yaml:"storage"`
	Kafka    KafkaConfig   `yaml:"kafka"`
}

type HTTPConfig struct {
	Port               string        `yaml:"port"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBodySize int64         `yaml:"max_request_body_size"`
}

// BackendConfig points at the commerce backend's cart API.
type BackendConfig struct {
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout"`
	BreakerMaxFailures uint32        `yaml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

type SyncConfig struct {
	Debounce       time.Duration `yaml:"debounce"`
	MaxConcurrency int           `yaml:"max_concurrency"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// StorageConfig selects where the guest cart is kept between runs.
type StorageConfig struct {
	Driver        string        `yaml:"driver"`
	GuestID       string        `yaml:"guest_id"`
	FilePath      string        `yaml:"file_path"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisTTL      time.Duration `yaml:"redis_ttl"`
	MongoURI      string        `yaml:"mongo_uri"`
	MongoDatabase string        `yaml:"mongo_database"`
	MongoTTL      time.Duration `yaml:"mongo_ttl"`
}

// KafkaConfig enables the checkout listener when Brokers is not empty.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

func Default() Config {
	return Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			Port:               "8080",
			RequestTimeout:     30 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			MaxRequestBodySize: 1 << 20, // 1MB
		},
		Backend: BackendConfig{
			BaseURL:            "http://localhost:8000/api/",
			Timeout:            10 * time.Second,
			BreakerMaxFailures: 5,
			BreakerOpenTimeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Debounce:       3 * time.Second,
			MaxConcurrency: 4,
			RequestTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:        StorageFile,
			GuestID:       "local",
			FilePath:      "storefront-cart.json",
			RedisAddr:     "localhost:6379",
			RedisTTL:      30 * 24 * time.Hour,
			MongoURI:      "mongodb://localhost:27017",
			MongoDatabase: "storefront",
			MongoTTL:      30 * 24 * time.Hour,
		},
		Kafka: KafkaConfig{
			GroupID: "storefront-cart",
		},
	}
}

// Load returns Default overlaid with the file at path (skipped when path is
// empty) and then with environment variables.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTP.Port = getEnv("HTTP_PORT", cfg.HTTP.Port)
	cfg.Backend.BaseURL = getEnv("BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Storage.GuestID = getEnv("GUEST_ID", cfg.Storage.GuestID)
	cfg.Storage.FilePath = getEnv("CART_FILE", cfg.Storage.FilePath)
	cfg.Storage.RedisAddr = getEnv("REDIS_ADDR", cfg.Storage.RedisAddr)
	cfg.Storage.MongoURI = getEnv("MONGO_URI", cfg.Storage.MongoURI)
	cfg.Storage.MongoDatabase = getEnv("MONGO_DATABASE", cfg.Storage.MongoDatabase)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		cfg.Kafka.Brokers = splitList(brokers)
	}

	var errs error
	var err error
	if cfg.Sync.Debounce, err = getEnvDuration("SYNC_DEBOUNCE", cfg.Sync.Debounce); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Backend.Timeout, err = getEnvDuration("BACKEND_TIMEOUT", cfg.Backend.Timeout); err != nil {
		errs = multierr.Append(errs, err)
	}
	if cfg.Sync.MaxConcurrency, err = getEnvInt("SYNC_MAX_CONCURRENCY", cfg.Sync.MaxConcurrency); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs error
	add := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if _, err := strconv.Atoi(c.HTTP.Port); err != nil {
		add("http.port %q is not a number", c.HTTP.Port)
	}
	if c.HTTP.RequestTimeout <= 0 || c.HTTP.ShutdownTimeout <= 0 {
		add("http timeouts must be positive")
	}
	if c.HTTP.MaxRequestBodySize <= 0 {
		add("http.max_request_body_size must be positive")
	}
	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		add("backend.base_url %q must be an absolute URL", c.Backend.BaseURL)
	}
	if c.Backend.Timeout <= 0 {
		add("backend.timeout must be positive")
	}
	if c.Sync.Debounce <= 0 {
		add("sync.debounce must be positive")
	}
	if c.Sync.MaxConcurrency < 1 {
		add("sync.max_concurrency must be at least 1")
	}

	switch c.Storage.Driver {
	case StorageFile:
		if c.Storage.FilePath == "" {
			add("storage.file_path is required for the file driver")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			add("storage.redis_addr is required for the redis driver")
		}
	case StorageMongo:
		if c.Storage.MongoURI == "" || c.Storage.MongoDatabase == "" {
			add("storage.mongo_uri and storage.mongo_database are required for the mongo driver")
		}
	case StorageMemory:
	default:
		add("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.GuestID == "" && c.Storage.Driver != StorageFile && c.Storage.Driver != StorageMemory {
		add("storage.guest_id is required for the %s driver", c.Storage.Driver)
	}

	if errs != nil {
		return errors.Join(ErrInvalid, errs)
	}
	return nil
}

var ErrInvalid = errors.New("invalid configuration")

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
