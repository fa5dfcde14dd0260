package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env           string
	LogLevel      string
	Port          string
	AllowedOrigin string

	DatabaseURL string
	DBMaxConns  int
	AutoMigrate bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret            string
	AccessTokenTTLMinutes int

	BootstrapBusinessID    string
	BootstrapOwnerUsername string
	BootstrapOwnerPassword string

	LoginMaxAttempts   int
	LoginWindowSeconds int
	RateLimitRPS       float64
	RateLimitBurst     int

	SaleStockPolicy     string
	SaleCacheTTLSeconds int
}

// Load reads configuration from the environment. Values from a .env file are
// expected to be exported before this runs.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Env:                    strings.ToLower(strings.TrimSpace(v.GetString("APP_ENV"))),
		LogLevel:               v.GetString("LOG_LEVEL"),
		Port:                   v.GetString("PORT"),
		AllowedOrigin:          v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		DBMaxConns:             positive(v.GetInt("DB_MAX_CONNS"), 10),
		AutoMigrate:            v.GetBool("AUTO_MIGRATE"),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		BootstrapBusinessID:    strings.TrimSpace(v.GetString("BOOTSTRAP_BUSINESS_ID")),
		BootstrapOwnerUsername: strings.TrimSpace(v.GetString("BOOTSTRAP_OWNER_USERNAME")),
		BootstrapOwnerPassword: v.GetString("BOOTSTRAP_OWNER_PASSWORD"),
		LoginMaxAttempts:       positive(v.GetInt("LOGIN_MAX_ATTEMPTS"), 5),
		LoginWindowSeconds:     positive(v.GetInt("LOGIN_WINDOW_SECONDS"), 60),
		RateLimitRPS:           v.GetFloat64("RATE_LIMIT_RPS"),
		RateLimitBurst:         positive(v.GetInt("RATE_LIMIT_BURST"), 40),
		SaleStockPolicy:        strings.ToLower(strings.TrimSpace(v.GetString("SALE_STOCK_POLICY"))),
		SaleCacheTTLSeconds:    positive(v.GetInt("SALE_CACHE_TTL_SECONDS"), 300),
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("BOOTSTRAP_OWNER_USERNAME", "owner")
	v.SetDefault("LOGIN_MAX_ATTEMPTS", 5)
	v.SetDefault("LOGIN_WINDOW_SECONDS", 60)
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("SALE_STOCK_POLICY", "allow")
	v.SetDefault("SALE_CACHE_TTL_SECONDS", 300)
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) LoginWindow() time.Duration {
	return time.Duration(c.LoginWindowSeconds) * time.Second
}

func (c Config) SaleCacheTTL() time.Duration {
	return time.Duration(c.SaleCacheTTLSeconds) * time.Second
}
