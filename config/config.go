package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var configFile string

// Config holds all configuration for the order service.
type Config struct {
	EventStoreSource string `mapstructure:"eventstore.source"`
	ReadModelSource  string `mapstructure:"readmodel.source"`
	EnableMigrations bool   `mapstructure:"enable_migrations"`

	SnapshotEvery int `mapstructure:"event_log.snapshot_every"`

	PublisherClientID   string   `mapstructure:"publisher.client_id"`
	PublisherBootstrap  []string `mapstructure:"publisher.bootstrap"`
	PublisherMaxRetries int      `mapstructure:"publisher.max_retries"`

	ConsumerGroupID          string   `mapstructure:"consumer.group_id"`
	ConsumerBootstrap        []string `mapstructure:"consumer.bootstrap"`
	ConsumerAutoOffsetReset  string   `mapstructure:"consumer.auto_offset_reset"`
	ConsumerEnableAutoCommit bool     `mapstructure:"consumer.enable_auto_commit"`
	ConsumerMaxParked        int      `mapstructure:"consumer.max_parked"`

	CommandsTopic   string `mapstructure:"commands.topic"`
	CommandsGroupID string `mapstructure:"commands.group_id"`

	HandlerMaxRetries int `mapstructure:"handler.max_retries"`

	SweepInterval    time.Duration `mapstructure:"outbox.sweep_interval"`
	SweepBatchSize   int           `mapstructure:"outbox.batch_size"`
	SweepGracePeriod time.Duration `mapstructure:"outbox.grace_period"`

	ElasticSearchURL      string `mapstructure:"elasticsearch.url"`
	ElasticSearchUsername string `mapstructure:"elasticsearch.username"`
	ElasticSearchPassword string `mapstructure:"elasticsearch.password"`
	ElasticSearchPrefix   string `mapstructure:"elasticsearch.prefix"`

	RedisAddr     string        `mapstructure:"redis.addr"`
	RedisPassword string        `mapstructure:"redis.password"`
	RedisDB       int           `mapstructure:"redis.db"`
	RedisTTL      time.Duration `mapstructure:"redis.ttl"`

	LogLevel  string `mapstructure:"logging.level"`
	LogFormat string `mapstructure:"logging.format"`
}

// SetConfigFile sets an explicit config file path, overriding the search paths.
func SetConfigFile(path string) {
	configFile = path
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()

	viper.SetEnvPrefix("ORDERS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Warn().Msg("No config file found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Viper nests dotted keys into maps, which never match the flat dotted
	// mapstructure tags above. Decode from the flat key set instead.
	flat := make(map[string]interface{}, len(viper.AllKeys()))
	for _, key := range viper.AllKeys() {
		flat[key] = viper.Get(key)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(flat); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.ConsumerEnableAutoCommit {
		// Offsets are acknowledged only after the read-model transaction
		// commits; auto commit would break at-least-once apply.
		return nil, fmt.Errorf("consumer.enable_auto_commit=true is not supported: offsets are committed after apply")
	}
	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("eventstore.source", "host=localhost user=orders password=orders dbname=orders_events port=5432 sslmode=disable")
	viper.SetDefault("readmodel.source", "host=localhost user=orders password=orders dbname=orders_read port=5432 sslmode=disable")
	viper.SetDefault("enable_migrations", true)

	viper.SetDefault("event_log.snapshot_every", 50)

	viper.SetDefault("publisher.client_id", "order-service")
	viper.SetDefault("publisher.bootstrap", []string{"localhost:9092"})
	viper.SetDefault("publisher.max_retries", 3)

	viper.SetDefault("consumer.group_id", "order-projections")
	viper.SetDefault("consumer.bootstrap", []string{"localhost:9092"})
	viper.SetDefault("consumer.auto_offset_reset", "earliest")
	viper.SetDefault("consumer.enable_auto_commit", false)
	viper.SetDefault("consumer.max_parked", 128)

	viper.SetDefault("commands.topic", "orders.commands")
	viper.SetDefault("commands.group_id", "order-service")

	viper.SetDefault("handler.max_retries", 3)

	viper.SetDefault("outbox.sweep_interval", "10s")
	viper.SetDefault("outbox.batch_size", 100)
	viper.SetDefault("outbox.grace_period", "30s")

	viper.SetDefault("elasticsearch.url", "")
	viper.SetDefault("elasticsearch.username", "")
	viper.SetDefault("elasticsearch.password", "")
	viper.SetDefault("elasticsearch.prefix", "orders")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttl", "5m")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
