package config

import (
    "fmt"
    "strings"
    "time"

    "github.com/spf13/viper"

    "github.com/hamzaKhattat/contact-center-api/pkg/errors"
)

// Config holds all configuration for the application
type Config struct {
    App      AppConfig
    Database DatabaseConfig
    Redis    RedisConfig
    ARI      ARIConfig
    Dialing  DialingConfig
    Auth     AuthConfig
    RateLimit RateLimitConfig
    Breaker  BreakerConfig
    HTTP     HTTPConfig
    Logging  LoggingConfig
}

type AppConfig struct {
    Name    string
    Version string
    Debug   bool
}

type DatabaseConfig struct {
    URL             string
    Disabled        bool
    MaxOpenConns    int
    MaxIdleConns    int
    ConnMaxLifetime time.Duration
    RetryAttempts   int
    RetryDelay      time.Duration
}

type RedisConfig struct {
    URL          string
    PoolSize     int
    MinIdleConns int
    MaxRetries   int
}

type ARIConfig struct {
    HTTPURL        string
    Username       string
    Password       string
    App            string
    MaxKeepalive   int
    MaxConnections int
}

// DialingConfig is the fallback routing applied when a request leaves a
// parameter unset.
type DialingConfig struct {
    Context   string
    Extension string
    Priority  int
    TimeoutMs int
    CallerID  string
}

type AuthConfig struct {
    SecretKey          string
    Algorithm          string
    AccessTokenExpire  time.Duration
    RefreshTokenExpire time.Duration
    Issuer             string
    Audience           string
    MaxFailedLogins    int
    LockoutDuration    time.Duration
}

type RateLimitConfig struct {
    Requests int
    Window   time.Duration
}

type BreakerConfig struct {
    Enabled       bool
    FailThreshold int
    Timeout       time.Duration
}

type HTTPConfig struct {
    ListenAddress  string
    Port           int
    AllowedOrigins []string
}

type LoggingConfig struct {
    Level  string
    Format string
    File   string
}

// placeholderSecrets are shipped sample values that must never reach
// production.
var placeholderSecrets = map[string]bool{
    "your-secret-key-change-in-production": true,
    "your-secret-key-here-change-in-production": true,
    "changeme": true,
    "secret":   true,
}

// Load reads configuration from the environment with viper.
func Load() (*Config, error) {
    v := viper.New()
    v.AutomaticEnv()

    setDefaults(v)

    cfg := &Config{
        App: AppConfig{
            Name:    "contact-center-api",
            Version: "2.0.0",
            Debug:   v.GetBool("DEBUG"),
        },
        Database: DatabaseConfig{
            URL:             v.GetString("DATABASE_URL"),
            Disabled:        v.GetBool("DISABLE_DB"),
            MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
            MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
            ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
            RetryAttempts:   v.GetInt("DB_RETRY_ATTEMPTS"),
            RetryDelay:      v.GetDuration("DB_RETRY_DELAY"),
        },
        Redis: RedisConfig{
            URL:          v.GetString("REDIS_URL"),
            PoolSize:     v.GetInt("REDIS_POOL_SIZE"),
            MinIdleConns: v.GetInt("REDIS_MIN_IDLE_CONNS"),
            MaxRetries:   v.GetInt("REDIS_MAX_RETRIES"),
        },
        ARI: ARIConfig{
            HTTPURL:        v.GetString("ARI_HTTP_URL"),
            Username:       v.GetString("ARI_USERNAME"),
            Password:       v.GetString("ARI_PASSWORD"),
            App:            v.GetString("ARI_APP"),
            MaxKeepalive:   v.GetInt("ARI_MAX_KEEPALIVE"),
            MaxConnections: v.GetInt("ARI_MAX_CONNECTIONS"),
        },
        Dialing: DialingConfig{
            Context:   v.GetString("DEFAULT_CONTEXT"),
            Extension: v.GetString("DEFAULT_EXTENSION"),
            Priority:  v.GetInt("DEFAULT_PRIORITY"),
            TimeoutMs: v.GetInt("DEFAULT_TIMEOUT"),
            CallerID:  v.GetString("DEFAULT_CALLER_ID"),
        },
        Auth: AuthConfig{
            SecretKey:          v.GetString("SECRET_KEY"),
            Algorithm:          v.GetString("ALGORITHM"),
            AccessTokenExpire:  time.Duration(v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES")) * time.Minute,
            RefreshTokenExpire: time.Duration(v.GetInt("REFRESH_TOKEN_EXPIRE_DAYS")) * 24 * time.Hour,
            Issuer:             v.GetString("JWT_ISSUER"),
            Audience:           v.GetString("JWT_AUDIENCE"),
            MaxFailedLogins:    v.GetInt("MAX_FAILED_LOGIN_ATTEMPTS"),
            LockoutDuration:    time.Duration(v.GetInt("LOGIN_LOCKOUT_DURATION")) * time.Second,
        },
        RateLimit: RateLimitConfig{
            Requests: v.GetInt("RATE_LIMIT_REQUESTS"),
            Window:   time.Duration(v.GetInt("RATE_LIMIT_WINDOW")) * time.Second,
        },
        Breaker: BreakerConfig{
            Enabled:       v.GetBool("CIRCUIT_BREAKER_ENABLED"),
            FailThreshold: v.GetInt("CIRCUIT_BREAKER_FAIL_THRESHOLD"),
            Timeout:       time.Duration(v.GetInt("CIRCUIT_BREAKER_TIMEOUT")) * time.Second,
        },
        HTTP: HTTPConfig{
            ListenAddress:  v.GetString("LISTEN_ADDRESS"),
            Port:           v.GetInt("PORT"),
            AllowedOrigins: splitCSV(v.GetString("ALLOWED_ORIGINS")),
        },
        Logging: LoggingConfig{
            Level:  v.GetString("LOG_LEVEL"),
            Format: v.GetString("LOG_FORMAT"),
            File:   v.GetString("LOG_FILE"),
        },
    }

    if err := cfg.validate(); err != nil {
        return nil, err
    }

    return cfg, nil
}

func setDefaults(v *viper.Viper) {
    v.SetDefault("DEBUG", false)
    v.SetDefault("DISABLE_DB", false)

    v.SetDefault("DB_MAX_OPEN_CONNS", 25)
    v.SetDefault("DB_MAX_IDLE_CONNS", 5)
    v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")
    v.SetDefault("DB_RETRY_ATTEMPTS", 3)
    v.SetDefault("DB_RETRY_DELAY", "5s")

    v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
    v.SetDefault("REDIS_POOL_SIZE", 10)
    v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
    v.SetDefault("REDIS_MAX_RETRIES", 3)

    v.SetDefault("ARI_HTTP_URL", "http://localhost:8088/ari")
    v.SetDefault("ARI_USERNAME", "asterisk")
    v.SetDefault("ARI_PASSWORD", "asterisk")
    v.SetDefault("ARI_APP", "dialer")
    v.SetDefault("ARI_MAX_KEEPALIVE", 20)
    v.SetDefault("ARI_MAX_CONNECTIONS", 50)

    v.SetDefault("DEFAULT_CONTEXT", "outbound")
    v.SetDefault("DEFAULT_EXTENSION", "s")
    v.SetDefault("DEFAULT_PRIORITY", 1)
    v.SetDefault("DEFAULT_TIMEOUT", 30000)
    v.SetDefault("DEFAULT_CALLER_ID", "Outbound Call")

    v.SetDefault("ALGORITHM", "HS256")
    v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 30)
    v.SetDefault("REFRESH_TOKEN_EXPIRE_DAYS", 7)
    v.SetDefault("JWT_ISSUER", "contact-center-api")
    v.SetDefault("JWT_AUDIENCE", "contact-center-api")
    v.SetDefault("MAX_FAILED_LOGIN_ATTEMPTS", 5)
    v.SetDefault("LOGIN_LOCKOUT_DURATION", 900)

    v.SetDefault("RATE_LIMIT_REQUESTS", 30)
    v.SetDefault("RATE_LIMIT_WINDOW", 60)

    v.SetDefault("CIRCUIT_BREAKER_ENABLED", true)
    v.SetDefault("CIRCUIT_BREAKER_FAIL_THRESHOLD", 5)
    v.SetDefault("CIRCUIT_BREAKER_TIMEOUT", 60)

    v.SetDefault("LISTEN_ADDRESS", "0.0.0.0")
    v.SetDefault("PORT", 8000)
    v.SetDefault("ALLOWED_ORIGINS", "")

    v.SetDefault("LOG_LEVEL", "info")
    v.SetDefault("LOG_FORMAT", "json")
    v.SetDefault("LOG_FILE", "")
}

// validate enforces the strict checks that only apply outside debug mode.
func (c *Config) validate() error {
    if c.Auth.SecretKey == "" {
        return errors.New(errors.ErrConfiguration, "SECRET_KEY is required")
    }

    if !c.App.Debug {
        if len(c.Auth.SecretKey) < 32 {
            return errors.New(errors.ErrConfiguration, "SECRET_KEY must be at least 32 characters")
        }
        if placeholderSecrets[strings.ToLower(c.Auth.SecretKey)] {
            return errors.New(errors.ErrConfiguration, "SECRET_KEY is a placeholder value")
        }
        for _, origin := range c.HTTP.AllowedOrigins {
            if origin == "*" {
                return errors.New(errors.ErrConfiguration, "wildcard ALLOWED_ORIGINS not permitted")
            }
        }
    }

    if c.Auth.Algorithm != "HS256" {
        return errors.New(errors.ErrConfiguration,
            fmt.Sprintf("unsupported ALGORITHM %q", c.Auth.Algorithm))
    }

    if !c.Database.Disabled && c.Database.URL == "" {
        return errors.New(errors.ErrConfiguration, "DATABASE_URL is required unless DISABLE_DB=true")
    }

    return nil
}

func splitCSV(value string) []string {
    if value == "" {
        return nil
    }
    parts := strings.Split(value, ",")
    out := make([]string, 0, len(parts))
    for _, p := range parts {
        if trimmed := strings.TrimSpace(p); trimmed != "" {
            out = append(out, trimmed)
        }
    }
    return out
}
