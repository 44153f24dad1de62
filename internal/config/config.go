package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the videojobs server.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Chat        ChatConfig
	Correlation CorrelationConfig
	Media       MediaConfig
	Drive       DriveConfig
	Jobs        JobsConfig
	Recovery    RecoveryConfig
	Auth        AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type ChatConfig struct {
	GatewayURL     string
	Token          string
	Peer           string
	SendRatePerMin int
	Timeout        time.Duration
	MediaTimeout   time.Duration
}

type CorrelationConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	FetchLimit   int
}

type MediaConfig struct {
	Dir string
}

type DriveConfig struct {
	ServiceAccountEmail string
	PrivateKey          string
	FolderID            string
}

type JobsConfig struct {
	MaxActive int
	ListLimit int
}

type RecoveryConfig struct {
	Schedule   string
	StaleAfter time.Duration
}

type AuthConfig struct {
	APIKeyHashes    []string
	RateLimitPerMin int
}

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory is loaded first if present; variables
// already set in the environment take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("VIDEOJOBS_PORT", 8080),
			Env:  envString("VIDEOJOBS_ENV", "development"),
		},
		Database: DatabaseConfig{
			Driver:          envString("STORE_DRIVER", DriverPostgres),
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Chat: ChatConfig{
			GatewayURL:     os.Getenv("CHAT_GATEWAY_URL"),
			Token:          os.Getenv("CHAT_GATEWAY_TOKEN"),
			Peer:           envString("CHAT_PEER", "syntxaibot"),
			SendRatePerMin: envInt("CHAT_SEND_RATE_PER_MIN", 20),
			Timeout:        envDuration("CHAT_GATEWAY_TIMEOUT", 60*time.Second),
			MediaTimeout:   envDuration("CHAT_MEDIA_TIMEOUT", 30*time.Minute),
		},
		Correlation: CorrelationConfig{
			PollInterval: envDuration("CORRELATION_POLL_INTERVAL", 10*time.Second),
			Timeout:      envDuration("CORRELATION_TIMEOUT", 15*time.Minute),
			FetchLimit:   envInt("CORRELATION_FETCH_LIMIT", 20),
		},
		Media: MediaConfig{
			Dir: envString("MEDIA_DIR", "./downloads"),
		},
		Drive: DriveConfig{
			ServiceAccountEmail: os.Getenv("GDRIVE_SERVICE_ACCOUNT_EMAIL"),
			PrivateKey:          strings.ReplaceAll(os.Getenv("GDRIVE_PRIVATE_KEY"), `\n`, "\n"),
			FolderID:            os.Getenv("GDRIVE_FOLDER_ID"),
		},
		Jobs: JobsConfig{
			MaxActive: envInt("MAX_ACTIVE_JOBS", 2),
			ListLimit: envInt("JOB_LIST_LIMIT", 20),
		},
		Recovery: RecoveryConfig{
			Schedule:   envString("RECOVERY_SCHEDULE", "@every 5m"),
			StaleAfter: envDuration("RECOVERY_STALE_AFTER", 20*time.Minute),
		},
		Auth: AuthConfig{
			APIKeyHashes:    envList("AUTH_API_KEY_HASHES"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_DRIVER is postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, memory; got %q", c.Database.Driver)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Chat.GatewayURL == "" {
		return fmt.Errorf("CHAT_GATEWAY_URL is required")
	}
	if !strings.HasPrefix(c.Chat.GatewayURL, "http://") && !strings.HasPrefix(c.Chat.GatewayURL, "https://") {
		return fmt.Errorf("CHAT_GATEWAY_URL must start with http:// or https://, got %q", c.Chat.GatewayURL)
	}
	if strings.TrimPrefix(c.Chat.Peer, "@") == "" {
		return fmt.Errorf("CHAT_PEER must not be empty")
	}
	if c.Chat.SendRatePerMin <= 0 {
		return fmt.Errorf("CHAT_SEND_RATE_PER_MIN must be positive, got %d", c.Chat.SendRatePerMin)
	}

	if c.Correlation.PollInterval <= 0 {
		return fmt.Errorf("CORRELATION_POLL_INTERVAL must be positive")
	}
	if c.Correlation.Timeout < c.Correlation.PollInterval {
		return fmt.Errorf("CORRELATION_TIMEOUT must be at least CORRELATION_POLL_INTERVAL")
	}
	if c.Correlation.FetchLimit <= 0 {
		return fmt.Errorf("CORRELATION_FETCH_LIMIT must be positive, got %d", c.Correlation.FetchLimit)
	}

	if c.Media.Dir == "" {
		return fmt.Errorf("MEDIA_DIR must not be empty")
	}

	if c.Drive.ServiceAccountEmail == "" {
		return fmt.Errorf("GDRIVE_SERVICE_ACCOUNT_EMAIL is required")
	}
	if c.Drive.PrivateKey == "" {
		return fmt.Errorf("GDRIVE_PRIVATE_KEY is required")
	}
	if c.Drive.FolderID == "" {
		return fmt.Errorf("GDRIVE_FOLDER_ID is required")
	}

	if c.Jobs.MaxActive <= 0 {
		return fmt.Errorf("MAX_ACTIVE_JOBS must be positive, got %d", c.Jobs.MaxActive)
	}
	if c.Jobs.ListLimit <= 0 || c.Jobs.ListLimit > 100 {
		return fmt.Errorf("JOB_LIST_LIMIT must be between 1 and 100, got %d", c.Jobs.ListLimit)
	}

	if c.Recovery.StaleAfter <= 0 {
		return fmt.Errorf("RECOVERY_STALE_AFTER must be positive")
	}

	if !c.IsDevelopment() && len(c.Auth.APIKeyHashes) == 0 {
		return fmt.Errorf("AUTH_API_KEY_HASHES is required when VIDEOJOBS_ENV is %q", c.Server.Env)
	}
	if c.Auth.RateLimitPerMin <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be positive, got %d", c.Auth.RateLimitPerMin)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
