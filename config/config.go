package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// InsecureJWTSecret is the development default for JWT_SECRET. The store
// service refuses it in release mode.
const InsecureJWTSecret = "change-me"

// Config is read from the environment, an optional .env file and an optional
// config.yaml. Environment variables win.
type Config struct {
	Port          string
	GinMode       string
	LogLevel      string
	CORSOrigin    string
	DBDriver      string
	DBDSN         string
	JWTSecret     string
	AdminEmail    string
	AdminPassword string
	MetricsAddr   string

	StoreURL      string
	StoreEmail    string
	StorePassword string

	PollInterval       time.Duration
	CreateConfirmPolls int
	RetryBudget        int
	CallTimeout        time.Duration
	CachePath          string
	CacheNamespace     string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ORIGIN", "*")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", "restaurant.db")
	v.SetDefault("JWT_SECRET", InsecureJWTSecret)
	v.SetDefault("ADMIN_EMAIL", "admin@restaurant.local")
	v.SetDefault("ADMIN_PASSWORD", "")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("STORE_URL", "http://localhost:8080")
	v.SetDefault("SYNC_POLL_INTERVAL", "2s")
	v.SetDefault("SYNC_CREATE_CONFIRM_POLLS", 3)
	v.SetDefault("SYNC_RETRY_BUDGET", 3)
	v.SetDefault("SYNC_CALL_TIMEOUT", "5s")
	v.SetDefault("CACHE_PATH", "orders-cache.db")
	v.SetDefault("CACHE_NAMESPACE", "restaurant-orders")
}

// Load reads the configuration. A missing .env or config.yaml is fine.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debug("No .env file loaded")
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/restaurant-sync")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return &Config{
		Port:               v.GetString("PORT"),
		GinMode:            v.GetString("GIN_MODE"),
		LogLevel:           v.GetString("LOG_LEVEL"),
		CORSOrigin:         v.GetString("CORS_ORIGIN"),
		DBDriver:           strings.ToLower(v.GetString("DB_DRIVER")),
		DBDSN:              v.GetString("DB_DSN"),
		JWTSecret:          v.GetString("JWT_SECRET"),
		AdminEmail:         v.GetString("ADMIN_EMAIL"),
		AdminPassword:      v.GetString("ADMIN_PASSWORD"),
		MetricsAddr:        v.GetString("METRICS_ADDR"),
		StoreURL:           v.GetString("STORE_URL"),
		StoreEmail:         v.GetString("STORE_EMAIL"),
		StorePassword:      v.GetString("STORE_PASSWORD"),
		PollInterval:       v.GetDuration("SYNC_POLL_INTERVAL"),
		CreateConfirmPolls: v.GetInt("SYNC_CREATE_CONFIRM_POLLS"),
		RetryBudget:        v.GetInt("SYNC_RETRY_BUDGET"),
		CallTimeout:        v.GetDuration("SYNC_CALL_TIMEOUT"),
		CachePath:          v.GetString("CACHE_PATH"),
		CacheNamespace:     v.GetString("CACHE_NAMESPACE"),
	}, nil
}

// CheckSigningSecret rejects a missing or default JWT secret in release mode
// and warns about one otherwise. Only the store service signs tokens.
func (c *Config) CheckSigningSecret() error {
	if c.JWTSecret != "" && c.JWTSecret != InsecureJWTSecret {
		return nil
	}
	if c.GinMode == "release" {
		return errors.New("JWT_SECRET must be set to a non-default value in release mode")
	}
	utils.InfoLogger.Warn("JWT_SECRET is unset or the development default; tokens can be forged")
	return nil
}

// WebSocketURL turns the store base URL into the change hub URL.
func (c *Config) WebSocketURL() string {
	u := strings.TrimRight(c.StoreURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws/orders"
}
