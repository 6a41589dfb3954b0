package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvLookup — источник переменных окружения (os.LookupEnv или map в тестах).
type EnvLookup func(key string) (string, bool)

const (
	EnvConfigFile = "MENUSYNC_CONFIG_FILE"

	envGRPCAddr        = "MENUSYNC_GRPC_ADDR"
	envMetricsAddr     = "MENUSYNC_METRICS_ADDR"
	envAPIKeys         = "MENUSYNC_API_KEYS"
	envShutdownTimeout = "MENUSYNC_SHUTDOWN_TIMEOUT"
	envLogLevel        = "MENUSYNC_LOG_LEVEL"
	envLogFormat       = "MENUSYNC_LOG_FORMAT"

	envStorageDriver       = "MENUSYNC_STORAGE_DRIVER"
	envPostgresDSN         = "MENUSYNC_POSTGRES_DSN"
	envPostgresAutoMigrate = "MENUSYNC_POSTGRES_AUTO_MIGRATE"
	envRedisAddr           = "MENUSYNC_REDIS_ADDR"
	envRedisPassword       = "MENUSYNC_REDIS_PASSWORD"
	envRedisDB             = "MENUSYNC_REDIS_DB"

	envKafkaBrokers         = "MENUSYNC_KAFKA_BROKERS"
	envKafkaGroupID         = "MENUSYNC_KAFKA_GROUP_ID"
	envKafkaConsumerEnabled = "MENUSYNC_KAFKA_CONSUMER_ENABLED"
	envKafkaMaxRetries      = "MENUSYNC_KAFKA_MAX_RETRIES"
	envKafkaRetryDelay      = "MENUSYNC_KAFKA_RETRY_DELAY"

	envMenuSourceURL     = "MENUSYNC_MENU_SOURCE_URL"
	envMenuSourceAPIKey  = "MENUSYNC_MENU_SOURCE_API_KEY"
	envMenuSourceTimeout = "MENUSYNC_MENU_SOURCE_TIMEOUT"

	envRetryDelay         = "MENUSYNC_RETRY_DELAY"
	envFetchTimeout       = "MENUSYNC_FETCH_TIMEOUT"
	envPublishTimeout     = "MENUSYNC_PUBLISH_TIMEOUT"
	envStoreTimeout       = "MENUSYNC_STORE_TIMEOUT"
	envMaxConcurrentSyncs = "MENUSYNC_MAX_CONCURRENT_SYNCS"
	envDefaultPlatforms   = "MENUSYNC_DEFAULT_PLATFORMS"

	envPlatformRPS          = "MENUSYNC_PLATFORM_RPS"
	envDoorDashEnabled      = "MENUSYNC_DOORDASH_ENABLED"
	envDoorDashClientID     = "MENUSYNC_DOORDASH_CLIENT_ID"
	envDoorDashClientSecret = "MENUSYNC_DOORDASH_CLIENT_SECRET"
	envDoorDashEnvironment  = "MENUSYNC_DOORDASH_ENVIRONMENT"
	envUberEatsEnabled      = "MENUSYNC_UBEREATS_ENABLED"
	envUberEatsClientID     = "MENUSYNC_UBEREATS_CLIENT_ID"
	envUberEatsClientSecret = "MENUSYNC_UBEREATS_CLIENT_SECRET"
	envGrubhubEnabled       = "MENUSYNC_GRUBHUB_ENABLED"
	envGrubhubAPIKey        = "MENUSYNC_GRUBHUB_API_KEY"

	envErrorQueuePollInterval   = "MENUSYNC_ERROR_QUEUE_POLL_INTERVAL"
	envErrorQueueAlertThreshold = "MENUSYNC_ERROR_QUEUE_ALERT_THRESHOLD"
	envOperationRetention       = "MENUSYNC_OPERATION_RETENTION"
	envOperationCleanupInterval = "MENUSYNC_OPERATION_CLEANUP_INTERVAL"

	// Имена переменных, которые поддерживаются ради совместимости со старым деплоем.
	legacyRetryDelaySeconds    = "RETRY_DELAY_SECONDS"
	legacyMenuServiceBaseURL   = "MENU_SERVICE_BASE_URL"
	legacyMenuServiceAPIKey    = "MENU_SERVICE_API_KEY"
	legacyDoorDashClientID     = "DOORDASH_CLIENT_ID"
	legacyDoorDashClientSecret = "DOORDASH_CLIENT_SECRET"
	legacyDoorDashEnvironment  = "DOORDASH_ENVIRONMENT"
	legacyKafkaBrokers         = "KAFKA_BROKERS"
)

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

func stringBinding(key string, target func(cfg *Config) *string) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		*target(cfg) = strings.TrimSpace(value)
		return nil
	}}
}

func listBinding(key string, target func(cfg *Config) *[]string) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		*target(cfg) = splitList(value)
		return nil
	}}
}

func boolBinding(key string, target func(cfg *Config) *bool) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		parsed, err := parseBool(value)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

func intBinding(key string, valid func(int) bool, rule string, target func(cfg *Config) *int) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		parsed, err := parseInt(value, valid, rule)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

func durationBinding(key string, valid func(time.Duration) bool, rule string, target func(cfg *Config) *time.Duration) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		parsed, err := parseDuration(value, valid, rule)
		if err != nil {
			return err
		}
		*target(cfg) = parsed
		return nil
	}}
}

// credentialBinding задаёт учётные данные платформы и включает её.
func credentialBinding(key string, target func(cfg *Config) (*string, *bool)) envBinding {
	return envBinding{key: key, apply: func(cfg *Config, value string) error {
		field, enabled := target(cfg)
		*field = strings.TrimSpace(value)
		if *field != "" {
			*enabled = true
		}
		return nil
	}}
}

func positive(v int) bool                      { return v > 0 }
func nonNegative(v int) bool                   { return v >= 0 }
func positiveDuration(v time.Duration) bool    { return v > 0 }
func nonNegativeDuration(v time.Duration) bool { return v >= 0 }

// envBindings применяются по порядку: устаревшие имена раньше MENUSYNC_*, чтобы новые имели приоритет.
var envBindings = []envBinding{
	{key: legacyRetryDelaySeconds, apply: func(cfg *Config, value string) error {
		seconds, err := parseInt(value, nonNegative, "must be >= 0")
		if err != nil {
			return err
		}
		cfg.Sync.RetryDelay = time.Duration(seconds) * time.Second
		return nil
	}},
	stringBinding(legacyMenuServiceBaseURL, func(c *Config) *string { return &c.MenuSource.BaseURL }),
	stringBinding(legacyMenuServiceAPIKey, func(c *Config) *string { return &c.MenuSource.APIKey }),
	credentialBinding(legacyDoorDashClientID, func(c *Config) (*string, *bool) {
		return &c.Platforms.DoorDash.ClientID, &c.Platforms.DoorDash.Enabled
	}),
	stringBinding(legacyDoorDashClientSecret, func(c *Config) *string { return &c.Platforms.DoorDash.ClientSecret }),
	stringBinding(legacyDoorDashEnvironment, func(c *Config) *string { return &c.Platforms.DoorDash.Environment }),
	listBinding(legacyKafkaBrokers, func(c *Config) *[]string { return &c.Kafka.Brokers }),

	stringBinding(envGRPCAddr, func(c *Config) *string { return &c.Service.GRPCAddr }),
	stringBinding(envMetricsAddr, func(c *Config) *string { return &c.Service.MetricsAddr }),
	listBinding(envAPIKeys, func(c *Config) *[]string { return &c.Service.APIKeys }),
	durationBinding(envShutdownTimeout, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Service.ShutdownTimeout }),
	stringBinding(envLogLevel, func(c *Config) *string { return &c.Logging.Level }),
	stringBinding(envLogFormat, func(c *Config) *string { return &c.Logging.Format }),

	stringBinding(envStorageDriver, func(c *Config) *string { return &c.Storage.Driver }),
	stringBinding(envPostgresDSN, func(c *Config) *string { return &c.Storage.PostgresDSN }),
	boolBinding(envPostgresAutoMigrate, func(c *Config) *bool { return &c.Storage.PostgresAutoMigrate }),
	stringBinding(envRedisAddr, func(c *Config) *string { return &c.Redis.Addr }),
	stringBinding(envRedisPassword, func(c *Config) *string { return &c.Redis.Password }),
	intBinding(envRedisDB, nonNegative, "must be >= 0", func(c *Config) *int { return &c.Redis.DB }),

	listBinding(envKafkaBrokers, func(c *Config) *[]string { return &c.Kafka.Brokers }),
	stringBinding(envKafkaGroupID, func(c *Config) *string { return &c.Kafka.GroupID }),
	boolBinding(envKafkaConsumerEnabled, func(c *Config) *bool { return &c.Kafka.ConsumerEnabled }),
	intBinding(envKafkaMaxRetries, nonNegative, "must be >= 0", func(c *Config) *int { return &c.Kafka.MaxRetries }),
	durationBinding(envKafkaRetryDelay, nonNegativeDuration, "must be >= 0", func(c *Config) *time.Duration { return &c.Kafka.RetryDelay }),

	stringBinding(envMenuSourceURL, func(c *Config) *string { return &c.MenuSource.BaseURL }),
	stringBinding(envMenuSourceAPIKey, func(c *Config) *string { return &c.MenuSource.APIKey }),
	durationBinding(envMenuSourceTimeout, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.MenuSource.Timeout }),

	durationBinding(envRetryDelay, nonNegativeDuration, "must be >= 0", func(c *Config) *time.Duration { return &c.Sync.RetryDelay }),
	durationBinding(envFetchTimeout, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Sync.FetchTimeout }),
	durationBinding(envPublishTimeout, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Sync.PublishTimeout }),
	durationBinding(envStoreTimeout, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Sync.StoreTimeout }),
	{key: envMaxConcurrentSyncs, apply: func(cfg *Config, value string) error {
		limit, err := parseInt(value, positive, "must be > 0")
		if err != nil {
			return err
		}
		cfg.Sync.MaxConcurrentSyncs = int64(limit)
		return nil
	}},
	listBinding(envDefaultPlatforms, func(c *Config) *[]string { return &c.Sync.DefaultPlatforms }),

	{key: envPlatformRPS, apply: func(cfg *Config, value string) error {
		rps, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return err
		}
		if rps < 0 {
			return fmt.Errorf("value %v must be >= 0", rps)
		}
		cfg.Platforms.RequestsPerSecond = rps
		return nil
	}},
	credentialBinding(envDoorDashClientID, func(c *Config) (*string, *bool) {
		return &c.Platforms.DoorDash.ClientID, &c.Platforms.DoorDash.Enabled
	}),
	stringBinding(envDoorDashClientSecret, func(c *Config) *string { return &c.Platforms.DoorDash.ClientSecret }),
	stringBinding(envDoorDashEnvironment, func(c *Config) *string { return &c.Platforms.DoorDash.Environment }),
	credentialBinding(envUberEatsClientID, func(c *Config) (*string, *bool) {
		return &c.Platforms.UberEats.ClientID, &c.Platforms.UberEats.Enabled
	}),
	stringBinding(envUberEatsClientSecret, func(c *Config) *string { return &c.Platforms.UberEats.ClientSecret }),
	credentialBinding(envGrubhubAPIKey, func(c *Config) (*string, *bool) {
		return &c.Platforms.Grubhub.APIKey, &c.Platforms.Grubhub.Enabled
	}),
	boolBinding(envDoorDashEnabled, func(c *Config) *bool { return &c.Platforms.DoorDash.Enabled }),
	boolBinding(envUberEatsEnabled, func(c *Config) *bool { return &c.Platforms.UberEats.Enabled }),
	boolBinding(envGrubhubEnabled, func(c *Config) *bool { return &c.Platforms.Grubhub.Enabled }),

	durationBinding(envErrorQueuePollInterval, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Workers.ErrorQueuePollInterval }),
	intBinding(envErrorQueueAlertThreshold, nonNegative, "must be >= 0", func(c *Config) *int { return &c.Workers.ErrorQueueAlertThreshold }),
	durationBinding(envOperationRetention, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Workers.OperationRetention }),
	durationBinding(envOperationCleanupInterval, positiveDuration, "must be > 0", func(c *Config) *time.Duration { return &c.Workers.OperationCleanupInterval }),
}

// applyEnv переопределяет поля cfg из окружения. Невалидные значения пропускаются с предупреждением.
func applyEnv(cfg *Config, lookup EnvLookup) []string {
	if lookup == nil {
		return nil
	}

	var warnings []string
	for _, binding := range envBindings {
		value, ok := lookup(binding.key)
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if err := binding.apply(cfg, value); err != nil {
			warnings = append(warnings, fmt.Sprintf("invalid %s=%q: %v", binding.key, value, err))
		}
	}
	return warnings
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", value)
	}
}

func parseInt(value string, valid func(int) bool, rule string) (int, error) {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(parsed) {
		return 0, fmt.Errorf("value %d %s", parsed, rule)
	}
	return parsed, nil
}

func parseDuration(value string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(parsed) {
		return 0, fmt.Errorf("value %s %s", parsed, rule)
	}
	return parsed, nil
}
