package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// TokenConfig configures subscriber access token issuance.
type TokenConfig struct {
	Secret  string `mapstructure:"secret"`
	TTLDays int    `mapstructure:"ttl_days"`
}

func (t *TokenConfig) TTL() time.Duration {
	return time.Duration(t.TTLDays) * 24 * time.Hour
}

// AdminConfig configures the internal API surface.
type AdminConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// SecurityConfig configures the request guard on the public endpoint.
type SecurityConfig struct {
	RateLimit           int      `mapstructure:"rate_limit"`
	RateWindowSeconds   int      `mapstructure:"rate_window_seconds"`
	BruteForceThreshold int      `mapstructure:"brute_force_threshold"`
	BruteForceWindowSec int      `mapstructure:"brute_force_window_seconds"`
	BanMinutes          int      `mapstructure:"ban_minutes"`
	SuspicionThreshold  int      `mapstructure:"suspicion_threshold"`
	SuspicionWindowMin  int      `mapstructure:"suspicion_window_minutes"`
	IdleEvictMinutes    int      `mapstructure:"idle_evict_minutes"`
	AllowList           []string `mapstructure:"allow_list"`
}

func (s *SecurityConfig) RateWindow() time.Duration {
	return time.Duration(s.RateWindowSeconds) * time.Second
}

func (s *SecurityConfig) BruteForceWindow() time.Duration {
	return time.Duration(s.BruteForceWindowSec) * time.Second
}

func (s *SecurityConfig) BanDuration() time.Duration {
	return time.Duration(s.BanMinutes) * time.Minute
}

func (s *SecurityConfig) SuspicionWindow() time.Duration {
	return time.Duration(s.SuspicionWindowMin) * time.Minute
}

func (s *SecurityConfig) IdleEvictAfter() time.Duration {
	return time.Duration(s.IdleEvictMinutes) * time.Minute
}

// TrafficConfig configures billing-period accounting for both pools.
type TrafficConfig struct {
	PrimaryCapGB          int `mapstructure:"primary_cap_gb"`
	BypassCapGB           int `mapstructure:"bypass_cap_gb"`
	PeriodDays            int `mapstructure:"period_days"`
	StalenessCeilingHours int `mapstructure:"staleness_ceiling_hours"`
	SyncIntervalMinutes   int `mapstructure:"sync_interval_minutes"`
}

func (t *TrafficConfig) PrimaryCapBytes() uint64 {
	return uint64(t.PrimaryCapGB) * 1024 * 1024 * 1024
}

func (t *TrafficConfig) BypassCapBytes() uint64 {
	return uint64(t.BypassCapGB) * 1024 * 1024 * 1024
}

func (t *TrafficConfig) Period() time.Duration {
	return time.Duration(t.PeriodDays) * 24 * time.Hour
}

func (t *TrafficConfig) StalenessCeiling() time.Duration {
	return time.Duration(t.StalenessCeilingHours) * time.Hour
}

// FleetConfig bounds fleet-wide reconciliation.
type FleetConfig struct {
	NodeTimeoutSeconds     int `mapstructure:"node_timeout_seconds"`
	OverallTimeoutSeconds  int `mapstructure:"overall_timeout_seconds"`
	Concurrency            int `mapstructure:"concurrency"`
	PanelRetryMaxElapsedMs int `mapstructure:"panel_retry_max_elapsed_ms"`
}

func (f *FleetConfig) NodeTimeout() time.Duration {
	return time.Duration(f.NodeTimeoutSeconds) * time.Second
}

func (f *FleetConfig) OverallTimeout() time.Duration {
	return time.Duration(f.OverallTimeoutSeconds) * time.Second
}

func (f *FleetConfig) PanelRetryMaxElapsed() time.Duration {
	return time.Duration(f.PanelRetryMaxElapsedMs) * time.Millisecond
}

// SubscriptionConfig configures the public config endpoint.
type SubscriptionConfig struct {
	CacheTTLMinutes     int    `mapstructure:"cache_ttl_minutes"`
	ProfileTitle        string `mapstructure:"profile_title"`
	UpdateIntervalHours int    `mapstructure:"update_interval_hours"`
}

func (s *SubscriptionConfig) CacheTTL() time.Duration {
	return time.Duration(s.CacheTTLMinutes) * time.Minute
}
