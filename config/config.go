package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bidli/backend/pkg/database"
)

// Ranking refresh modes.
const (
	RefreshModeSync  = "sync"
	RefreshModeQueue = "queue"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Presence PresenceConfig
	Ranking  RankingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/bidli?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT validation settings. The secret is shared with the auth backend.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// PresenceConfig tunes viewer tracking.
type PresenceConfig struct {
	Expiry          time.Duration
	PersistTimeout  time.Duration
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

// RankingConfig tunes ranking refreshes and leaderboards.
type RankingConfig struct {
	RefreshMode      string // sync or queue
	LeaderboardLimit int
	// RescoreInterval is how often the worker re-queues every ranked item so that time
	// decay and boost expiry reach stored scores.
	RescoreInterval time.Duration
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Pool returns the connection pool sizing.
func (c DatabaseConfig) Pool() database.PoolConfig {
	return database.PoolConfig{
		MaxConns:        c.MaxConns,
		MinConns:        c.MinConns,
		MaxConnLifetime: c.MaxConnLifetime,
		MaxConnIdleTime: c.MaxConnIdleTime,
	}
}

// AllowedOrigins returns the CORS origins as a list.
func (c ServerConfig) AllowedOrigins() []string {
	return splitTrim(c.CORSAllowedOrigins, ",")
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "bidli"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),

			MaxConns:        int32(getEnvInt("DB_MAX_CONNS", 20)),
			MinConns:        int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnLifetime: getEnvSeconds("DB_MAX_CONN_LIFETIME_SEC", 3600),
			MaxConnIdleTime: getEnvSeconds("DB_MAX_CONN_IDLE_SEC", 300),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Presence: PresenceConfig{
			Expiry:          getEnvSeconds("PRESENCE_EXPIRY_SEC", 300),
			PersistTimeout:  getEnvSeconds("PRESENCE_PERSIST_TIMEOUT_SEC", 5),
			BreakerFailures: uint32(getEnvInt("PRESENCE_BREAKER_FAILURES", 5)),
			BreakerOpen:     getEnvSeconds("PRESENCE_BREAKER_OPEN_SEC", 30),
		},
		Ranking: RankingConfig{
			RefreshMode:      strings.ToLower(getEnv("RANKING_REFRESH_MODE", RefreshModeSync)),
			LeaderboardLimit: getEnvInt("RANKING_LEADERBOARD_LIMIT", 50),
			RescoreInterval:  getEnvSeconds("RANKING_RESCORE_INTERVAL_SEC", 300),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Presence.Expiry <= 0 {
		errs = append(errs, errors.New("PRESENCE_EXPIRY_SEC must be positive"))
	}
	if c.Presence.PersistTimeout <= 0 {
		errs = append(errs, errors.New("PRESENCE_PERSIST_TIMEOUT_SEC must be positive"))
	}
	switch c.Ranking.RefreshMode {
	case RefreshModeSync, RefreshModeQueue:
	default:
		errs = append(errs, fmt.Errorf("RANKING_REFRESH_MODE must be %q or %q, got %q", RefreshModeSync, RefreshModeQueue, c.Ranking.RefreshMode))
	}
	if c.Database.MaxConns < 0 || c.Database.MinConns < 0 {
		errs = append(errs, errors.New("DB_MAX_CONNS and DB_MIN_CONNS must not be negative"))
	}
	if c.Database.MaxConns > 0 && c.Database.MinConns > c.Database.MaxConns {
		errs = append(errs, errors.New("DB_MIN_CONNS must not exceed DB_MAX_CONNS"))
	}
	if c.Ranking.RescoreInterval <= 0 {
		errs = append(errs, errors.New("RANKING_RESCORE_INTERVAL_SEC must be positive"))
	}
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	return errors.Join(errs...)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
