// Package config loads service settings from a .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/ksred/klear-compensation/internal/netting"
)

type Config struct {
	Env              string
	Port             string
	Debug            bool
	DatabasePath     string
	JWTSecret        string
	APIKey           string
	APISecret        string
	ScheduleInterval time.Duration
	EngineWorkers    int

	// Defaults applied to every optimization request
	MonthlyInterestRate float64
	DefaultPenaltyRate  float64
	HighValueThreshold  float64
}

// Load reads file when it exists, then lets environment variables override
// every key.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetDefault("ENV", "development")
	v.SetDefault("PORT", "8080")
	v.SetDefault("DEBUG", false)
	v.SetDefault("DATABASE_PATH", "klear.db")
	v.SetDefault("JWT_SECRET", "klear-secret-key")
	v.SetDefault("API_KEY", "test-api-key")
	v.SetDefault("API_SECRET", "test-api-secret")
	v.SetDefault("SCHEDULE_INTERVAL", "5m")
	v.SetDefault("ENGINE_WORKERS", runtime.NumCPU())
	v.SetDefault("MONTHLY_INTEREST_RATE", netting.DefaultMonthlyInterestRate)
	v.SetDefault("DEFAULT_PENALTY_RATE", netting.DefaultPenaltyRate)
	v.SetDefault("HIGH_VALUE_THRESHOLD", netting.DefaultHighValueThreshold)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
			}
			log.Debug().Str("file", file).Msg("no config file found, using environment")
		}
	}

	cfg := &Config{
		Env:                 v.GetString("ENV"),
		Port:                v.GetString("PORT"),
		Debug:               v.GetBool("DEBUG"),
		DatabasePath:        v.GetString("DATABASE_PATH"),
		JWTSecret:           v.GetString("JWT_SECRET"),
		APIKey:              v.GetString("API_KEY"),
		APISecret:           v.GetString("API_SECRET"),
		ScheduleInterval:    v.GetDuration("SCHEDULE_INTERVAL"),
		EngineWorkers:       v.GetInt("ENGINE_WORKERS"),
		MonthlyInterestRate: v.GetFloat64("MONTHLY_INTEREST_RATE"),
		DefaultPenaltyRate:  v.GetFloat64("DEFAULT_PENALTY_RATE"),
		HighValueThreshold:  v.GetFloat64("HIGH_VALUE_THRESHOLD"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ScheduleInterval <= 0 {
		return fmt.Errorf("SCHEDULE_INTERVAL must be positive, got %s", c.ScheduleInterval)
	}
	if c.EngineWorkers < 1 {
		return fmt.Errorf("ENGINE_WORKERS must be at least 1, got %d", c.EngineWorkers)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if err := c.EngineDefaults().Validate(); err != nil {
		return fmt.Errorf("invalid engine defaults: %w", err)
	}
	return nil
}

// EngineDefaults returns the request configuration every optimization starts from.
func (c *Config) EngineDefaults() netting.Configuration {
	cfg := netting.DefaultConfiguration()
	cfg.Economy = netting.EconomyParameters{
		MonthlyInterestRate: c.MonthlyInterestRate,
		DefaultPenaltyRate:  c.DefaultPenaltyRate,
		HighValueThreshold:  c.HighValueThreshold,
	}
	return cfg
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
