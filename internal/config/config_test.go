package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		ServerPort:         "8080",
		ReminderPercentage: 75,
		ReminderInterval:   5 * time.Minute,
		ConflictPolicy:     "simple",
		MaxWorkers:         5,
		Batch: BatchConfig{
			InstantLimit: 5,
			SmallLimit:   20,
			MediumLimit:  100,
			BatchSize:    10,
			BatchDelay:   2 * time.Second,
			Concurrency:  4,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "Valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "Reminder percentage too low",
			mutate:  func(c *Config) { c.ReminderPercentage = 5 },
			wantErr: true,
		},
		{
			name:    "Reminder percentage too high",
			mutate:  func(c *Config) { c.ReminderPercentage = 95 },
			wantErr: true,
		},
		{
			name:    "Reminder percentage at lower bound",
			mutate:  func(c *Config) { c.ReminderPercentage = 10 },
			wantErr: false,
		},
		{
			name:    "Reminder percentage at upper bound",
			mutate:  func(c *Config) { c.ReminderPercentage = 90 },
			wantErr: false,
		},
		{
			name:    "Unknown conflict policy",
			mutate:  func(c *Config) { c.ConflictPolicy = "clever" },
			wantErr: true,
		},
		{
			name:    "Detailed policy",
			mutate:  func(c *Config) { c.ConflictPolicy = "detailed" },
			wantErr: false,
		},
		{
			name:    "Smart policy",
			mutate:  func(c *Config) { c.ConflictPolicy = "smart" },
			wantErr: false,
		},
		{
			name:    "Zero workers",
			mutate:  func(c *Config) { c.MaxWorkers = 0 },
			wantErr: true,
		},
		{
			name:    "Zero batch size",
			mutate:  func(c *Config) { c.Batch.BatchSize = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
