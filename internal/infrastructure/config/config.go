package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	sharedConfig "github.com/veilnet-io/veilnet/internal/shared/config"
)

type Config struct {
	Server       sharedConfig.ServerConfig       `mapstructure:"server"`
	Database     sharedConfig.DatabaseConfig     `mapstructure:"database"`
	Redis        sharedConfig.RedisConfig        `mapstructure:"redis"`
	Logger       sharedConfig.LoggerConfig       `mapstructure:"logger"`
	Token        sharedConfig.TokenConfig        `mapstructure:"token"`
	Admin        sharedConfig.AdminConfig        `mapstructure:"admin"`
	Security     sharedConfig.SecurityConfig     `mapstructure:"security"`
	Traffic      sharedConfig.TrafficConfig      `mapstructure:"traffic"`
	Fleet        sharedConfig.FleetConfig        `mapstructure:"fleet"`
	Subscription sharedConfig.SubscriptionConfig `mapstructure:"subscription"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables.
func Load(env string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")
	viper.AddConfigPath("../../configs")

	viper.SetEnvPrefix("VEILNET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if env != "" && env != "default" {
		viper.Set("server.mode", env)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration.
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "veilnet_dev")
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 60)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	viper.SetDefault("token.secret", "change-me-in-production")
	viper.SetDefault("token.ttl_days", 365)

	viper.SetDefault("admin.jwt_secret", "change-me-in-production")

	viper.SetDefault("security.rate_limit", 10)
	viper.SetDefault("security.rate_window_seconds", 60)
	viper.SetDefault("security.brute_force_threshold", 5)
	viper.SetDefault("security.brute_force_window_seconds", 300)
	viper.SetDefault("security.ban_minutes", 60)
	viper.SetDefault("security.suspicion_threshold", 100)
	viper.SetDefault("security.suspicion_window_minutes", 10)
	viper.SetDefault("security.idle_evict_minutes", 30)
	viper.SetDefault("security.allow_list", []string{})

	viper.SetDefault("traffic.primary_cap_gb", 200)
	viper.SetDefault("traffic.bypass_cap_gb", 50)
	viper.SetDefault("traffic.period_days", 30)
	viper.SetDefault("traffic.staleness_ceiling_hours", 24)
	viper.SetDefault("traffic.sync_interval_minutes", 10)

	viper.SetDefault("fleet.node_timeout_seconds", 15)
	viper.SetDefault("fleet.overall_timeout_seconds", 120)
	viper.SetDefault("fleet.concurrency", 8)
	viper.SetDefault("fleet.panel_retry_max_elapsed_ms", 10000)

	viper.SetDefault("subscription.cache_ttl_minutes", 5)
	viper.SetDefault("subscription.profile_title", "veilnet")
	viper.SetDefault("subscription.update_interval_hours", 12)
}
