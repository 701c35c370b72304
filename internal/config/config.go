// Package config loads the engine's configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/STageSub/orchestra-system-sub002/internal/logger"
)

// DBConfig holds PostgreSQL connection settings.
type DBConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	Database        string
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// BatchConfig tunes the notification batcher's volume thresholds and
// throughput limits.
type BatchConfig struct {
	// InstantLimit is the largest batch sent inline in the caller's request.
	InstantLimit int
	// SmallLimit and MediumLimit bound the rate-limited modes; anything
	// above MediumLimit is queued for background processing.
	SmallLimit  int
	MediumLimit int
	// BatchSize sends per burst, followed by BatchDelay of idle time, to
	// respect transport throughput limits.
	BatchSize   int
	BatchDelay  time.Duration
	Concurrency int
}

// Config holds the application's configuration values.
type Config struct {
	ServerPort string
	Logger     logger.Config
	Database   *DBConfig

	// ReminderPercentage is how far into the response window (percent) a
	// pending offer gets its single reminder. Valid range 10-90.
	ReminderPercentage int
	// ReminderInterval is the reminder scheduler's scan tick.
	ReminderInterval time.Duration
	// ConflictPolicy is the process-wide conflict resolution policy,
	// re-read as a snapshot at the start of each dispatch cycle.
	ConflictPolicy string

	MaxWorkers int
	Batch      BatchConfig
}

// LoadConfig reads configuration from environment variables and a .env file,
// sets sensible defaults, and validates required fields. It uses the Viper
// library to handle configuration loading and precedence.
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")
	viper.SetDefault("LOG_OUTPUT", "stdout")

	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 5432)
	viper.SetDefault("DB_USER", "postgres")
	viper.SetDefault("DB_PASSWORD", "")
	viper.SetDefault("DB_NAME", "orchestra")
	viper.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	viper.SetDefault("DB_CONN_MAX_IDLE_TIME", "5m")

	viper.SetDefault("REMINDER_PERCENTAGE", 75)
	viper.SetDefault("REMINDER_INTERVAL", "5m")
	viper.SetDefault("CONFLICT_POLICY", "simple")
	viper.SetDefault("MAX_WORKERS", 5)

	viper.SetDefault("BATCH_INSTANT_LIMIT", 5)
	viper.SetDefault("BATCH_SMALL_LIMIT", 20)
	viper.SetDefault("BATCH_MEDIUM_LIMIT", 100)
	viper.SetDefault("BATCH_SIZE", 10)
	viper.SetDefault("BATCH_DELAY", "2s")
	viper.SetDefault("BATCH_CONCURRENCY", 4)

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Debug("no .env file found, reading environment only", "error", err)
		}
	}

	cfg := &Config{
		ServerPort: viper.GetString("SERVER_PORT"),
		Logger: logger.Config{
			Level:  viper.GetString("LOG_LEVEL"),
			Format: viper.GetString("LOG_FORMAT"),
			Output: viper.GetString("LOG_OUTPUT"),
		},
		Database: &DBConfig{
			Host:            viper.GetString("DB_HOST"),
			Port:            viper.GetInt("DB_PORT"),
			Username:        viper.GetString("DB_USER"),
			Password:        viper.GetString("DB_PASSWORD"),
			Database:        viper.GetString("DB_NAME"),
			ConnMaxLifetime: viper.GetDuration("DB_CONN_MAX_LIFETIME"),
			ConnMaxIdleTime: viper.GetDuration("DB_CONN_MAX_IDLE_TIME"),
		},
		ReminderPercentage: viper.GetInt("REMINDER_PERCENTAGE"),
		ReminderInterval:   viper.GetDuration("REMINDER_INTERVAL"),
		ConflictPolicy:     viper.GetString("CONFLICT_POLICY"),
		MaxWorkers:         viper.GetInt("MAX_WORKERS"),
		Batch: BatchConfig{
			InstantLimit: viper.GetInt("BATCH_INSTANT_LIMIT"),
			SmallLimit:   viper.GetInt("BATCH_SMALL_LIMIT"),
			MediumLimit:  viper.GetInt("BATCH_MEDIUM_LIMIT"),
			BatchSize:    viper.GetInt("BATCH_SIZE"),
			BatchDelay:   viper.GetDuration("BATCH_DELAY"),
			Concurrency:  viper.GetInt("BATCH_CONCURRENCY"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ReminderPercentage < 10 || c.ReminderPercentage > 90 {
		return fmt.Errorf("REMINDER_PERCENTAGE must be between 10 and 90, got %d", c.ReminderPercentage)
	}
	switch c.ConflictPolicy {
	case "simple", "detailed", "smart":
	default:
		return fmt.Errorf("CONFLICT_POLICY must be one of simple, detailed, smart; got %q", c.ConflictPolicy)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("MAX_WORKERS must be positive, got %d", c.MaxWorkers)
	}
	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Batch.BatchSize)
	}
	return nil
}
