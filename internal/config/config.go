// Package config загружает конфигурацию menusync из .env, YAML-файла и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"

	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Config — полная конфигурация сервиса.
type Config struct {
	Service    ServiceConfig    `yaml:"service"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	MenuSource MenuSourceConfig `yaml:"menu_source"`
	Sync       SyncConfig       `yaml:"sync"`
	Platforms  PlatformsConfig  `yaml:"platforms"`
	Workers    WorkersConfig    `yaml:"workers"`
}

type ServiceConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// APIKeys — допустимые значения x-api-key. Пустой список отключает проверку.
	APIKeys []string `yaml:"api_keys"`

	// ShutdownTimeout ограничивает graceful stop всех компонентов.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type StorageConfig struct {
	Driver              string `yaml:"driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
}

type RedisConfig struct {
	// Addr пустой — операции хранятся в памяти процесса.
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// RunningTTL — страховочный TTL операции в статусе RUNNING.
	RunningTTL time.Duration `yaml:"running_ttl"`
}

type KafkaConfig struct {
	Brokers         []string      `yaml:"brokers"`
	GroupID         string        `yaml:"group_id"`
	ConsumerEnabled bool          `yaml:"consumer_enabled"`
	TriggerTopic    string        `yaml:"trigger_topic"`
	EventsTopic     string        `yaml:"events_topic"`
	DLQTopic        string        `yaml:"dlq_topic"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
}

// Enabled сообщает, настроен ли Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type MenuSourceConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	RetryDelay         time.Duration `yaml:"retry_delay"`
	FetchTimeout       time.Duration `yaml:"fetch_timeout"`
	PublishTimeout     time.Duration `yaml:"publish_timeout"`
	StoreTimeout       time.Duration `yaml:"store_timeout"`
	MaxConcurrentSyncs int64         `yaml:"max_concurrent_syncs"`

	// DefaultPlatforms — платформы ресторана без персональной настройки. Пусто — все включённые.
	DefaultPlatforms []string `yaml:"default_platforms"`

	// RestaurantPlatforms — персональные списки платформ по ресторанам.
	RestaurantPlatforms map[string][]string `yaml:"restaurant_platforms"`
}

type PlatformsConfig struct {
	RequestTimeout    time.Duration  `yaml:"request_timeout"`
	RequestsPerSecond float64        `yaml:"requests_per_second"`
	Burst             int            `yaml:"burst"`
	DoorDash          DoorDashConfig `yaml:"doordash"`
	UberEats          UberEatsConfig `yaml:"ubereats"`
	Grubhub           GrubhubConfig  `yaml:"grubhub"`
}

type DoorDashConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Environment  string `yaml:"environment"`
	BaseURL      string `yaml:"base_url"`
}

type UberEatsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	ClientID     string            `yaml:"client_id"`
	ClientSecret string            `yaml:"client_secret"`
	BaseURL      string            `yaml:"base_url"`
	AuthURL      string            `yaml:"auth_url"`
	StoreIDs     map[string]string `yaml:"store_ids"`
}

type GrubhubConfig struct {
	Enabled     bool              `yaml:"enabled"`
	APIKey      string            `yaml:"api_key"`
	BaseURL     string            `yaml:"base_url"`
	MerchantIDs map[string]string `yaml:"merchant_ids"`
}

type WorkersConfig struct {
	ErrorQueuePollInterval    time.Duration `yaml:"error_queue_poll_interval"`
	ErrorQueueAlertThreshold  int           `yaml:"error_queue_alert_threshold"`
	OperationCleanupInterval  time.Duration `yaml:"operation_cleanup_interval"`
	OperationCleanupBatchSize int           `yaml:"operation_cleanup_batch_size"`
	OperationRetention        time.Duration `yaml:"operation_retention"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			GRPCAddr:        ":50051",
			MetricsAddr:     ":9090",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		Storage: StorageConfig{
			Driver:              StorageDriverMemory,
			PostgresAutoMigrate: true,
		},
		Redis: RedisConfig{
			RunningTTL: time.Hour,
		},
		Kafka: KafkaConfig{
			GroupID:         "menusync-sync",
			ConsumerEnabled: true,
			TriggerTopic:    "menusync.menu.changes",
			EventsTopic:     "menusync.sync.events",
			DLQTopic:        "menusync.dlq",
			MaxRetries:      3,
			RetryDelay:      500 * time.Millisecond,
		},
		MenuSource: MenuSourceConfig{
			Timeout: 10 * time.Second,
		},
		Sync: SyncConfig{
			RetryDelay:         2 * time.Second,
			FetchTimeout:       10 * time.Second,
			PublishTimeout:     30 * time.Second,
			StoreTimeout:       5 * time.Second,
			MaxConcurrentSyncs: 16,
		},
		Platforms: PlatformsConfig{
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 5,
			Burst:             5,
			DoorDash: DoorDashConfig{
				Environment: "sandbox",
			},
		},
		Workers: WorkersConfig{
			ErrorQueuePollInterval:    30 * time.Second,
			OperationCleanupInterval:  10 * time.Minute,
			OperationCleanupBatchSize: 500,
			OperationRetention:        24 * time.Hour,
		},
	}
}

// Load читает .env (если есть), YAML-файл path (если задан) и переменные окружения.
// Возвращает предупреждения о невалидных значениях окружения, которые были пропущены.
func Load(path string) (Config, []string, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadWithLookup(path, os.LookupEnv)
}

// LoadWithLookup — Load без чтения .env и с подменяемым источником окружения.
func LoadWithLookup(path string, lookup EnvLookup) (Config, []string, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
		expanded := os.Expand(string(data), func(key string) string {
			value, _ := lookup(key)
			return value
		})
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	warnings := applyEnv(&cfg, lookup)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, warnings, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, warnings, nil
}

func (c *Config) applyDefaults() {
	def := Default()

	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = def.Logging.Format
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Service.ShutdownTimeout <= 0 {
		c.Service.ShutdownTimeout = def.Service.ShutdownTimeout
	}
	if c.Redis.RunningTTL <= 0 {
		c.Redis.RunningTTL = def.Redis.RunningTTL
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = def.Kafka.GroupID
	}
	if c.Kafka.TriggerTopic == "" {
		c.Kafka.TriggerTopic = def.Kafka.TriggerTopic
	}
	if c.Kafka.EventsTopic == "" {
		c.Kafka.EventsTopic = def.Kafka.EventsTopic
	}
	if c.Kafka.DLQTopic == "" {
		c.Kafka.DLQTopic = def.Kafka.DLQTopic
	}
	if c.Kafka.MaxRetries < 0 {
		c.Kafka.MaxRetries = 0
	}
	if c.MenuSource.Timeout <= 0 {
		c.MenuSource.Timeout = def.MenuSource.Timeout
	}
	if c.Sync.RetryDelay < 0 {
		c.Sync.RetryDelay = def.Sync.RetryDelay
	}
	if c.Sync.MaxConcurrentSyncs <= 0 {
		c.Sync.MaxConcurrentSyncs = def.Sync.MaxConcurrentSyncs
	}
	if c.Platforms.RequestTimeout <= 0 {
		c.Platforms.RequestTimeout = def.Platforms.RequestTimeout
	}
	if c.Platforms.DoorDash.Environment == "" {
		c.Platforms.DoorDash.Environment = def.Platforms.DoorDash.Environment
	}
	if c.Workers.ErrorQueuePollInterval <= 0 {
		c.Workers.ErrorQueuePollInterval = def.Workers.ErrorQueuePollInterval
	}
	if c.Workers.OperationCleanupInterval <= 0 {
		c.Workers.OperationCleanupInterval = def.Workers.OperationCleanupInterval
	}
	if c.Workers.OperationCleanupBatchSize <= 0 {
		c.Workers.OperationCleanupBatchSize = def.Workers.OperationCleanupBatchSize
	}
	if c.Workers.OperationRetention <= 0 {
		c.Workers.OperationRetention = def.Workers.OperationRetention
	}
}

// Validate проверяет согласованность конфигурации.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Service.GRPCAddr) == "" {
		return errors.New("service.grpc_addr is required")
	}
	switch c.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
			return errors.New("storage.postgres_dsn is required for postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}
	if c.Logging.Format != LogFormatText && c.Logging.Format != LogFormatJSON {
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}
	if strings.TrimSpace(c.MenuSource.BaseURL) == "" {
		return errors.New("menu_source.base_url is required")
	}
	if !c.Platforms.DoorDash.Enabled && !c.Platforms.UberEats.Enabled && !c.Platforms.Grubhub.Enabled {
		return errors.New("at least one platform must be enabled")
	}
	if _, err := ParsePlatforms(c.Sync.DefaultPlatforms); err != nil {
		return fmt.Errorf("sync.default_platforms: %w", err)
	}
	for restaurantID, platforms := range c.Sync.RestaurantPlatforms {
		if _, err := ParsePlatforms(platforms); err != nil {
			return fmt.Errorf("sync.restaurant_platforms[%s]: %w", restaurantID, err)
		}
	}
	return nil
}

// ParsePlatforms переводит имена платформ в domain.Platform.
func ParsePlatforms(names []string) ([]domain.Platform, error) {
	platforms := make([]domain.Platform, 0, len(names))
	for _, name := range names {
		platform := domain.Platform(strings.ToLower(strings.TrimSpace(name)))
		if !platform.IsValid() {
			return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, name)
		}
		platforms = append(platforms, platform)
	}
	return platforms, nil
}
