// Package config loads the service configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Configuration holds all configuration for the loan ledger service.
type Configuration struct {
	ListenAddress string        `yaml:"listenAddress,omitempty"`
	DatabasePath  string        `yaml:"databasePath,omitempty"`
	Engine        EngineConfig  `yaml:"engine,omitempty"`
	Logging       LoggingConfig `yaml:"logging,omitempty"`
}

// EngineConfig holds loan-engine policy knobs.
type EngineConfig struct {
	// PenaltyDailyRate is the simple daily mora rate applied to overdue
	// balances, e.g. 0.001 for 0.1% per day.
	PenaltyDailyRate float64 `yaml:"penaltyDailyRate,omitempty"`
	// AllowPrepayment applies payment excess as advance capital payment
	// instead of rejecting the payment.
	AllowPrepayment bool `yaml:"allowPrepayment,omitempty"`
	// AccrualSweepMinutes is the interval of the background mora re-accrual
	// over active loans. 0 disables the sweep.
	AccrualSweepMinutes int `yaml:"accrualSweepMinutes,omitempty"`
}

// LoggingConfig holds logging configuration options.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`  // debug, info, warn, error
	Format string `yaml:"format,omitempty"` // json, console
}

// Default returns the configuration used when no config file is present.
func Default() *Configuration {
	return &Configuration{
		ListenAddress: ":8080",
		DatabasePath:  "loanledger.db",
		Engine: EngineConfig{
			PenaltyDailyRate:    0.001,
			AccrualSweepMinutes: 60,
		},
	}
}

// LoadConfiguration takes a file path as input and loads the YAML-formatted
// configuration there.
func LoadConfiguration(configPath string) (*Configuration, error) {
	viper.SetConfigFile(configPath)
	viper.AutomaticEnv()
	viper.SetConfigType("yml")

	viper.SetDefault("listenAddress", ":8080")
	viper.SetDefault("databasePath", "loanledger.db")
	viper.SetDefault("engine.penaltyDailyRate", 0.001)
	viper.SetDefault("engine.accrualSweepMinutes", 60)

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file, %s", err)
	}

	var configuration Configuration
	if err := viper.Unmarshal(&configuration); err != nil {
		return nil, fmt.Errorf("unable to decode into struct, %s", err)
	}
	return &configuration, nil
}
