package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/quantrail/quantrail-trading/internal/strategy"
	"github.com/quantrail/quantrail-trading/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultTimezone                 = "America/New_York"
	DefaultConfirmationTolerance    = 0.01
	DefaultMaxEntriesPerDay         = 3
	DefaultMaxPositionsPerDirection = 5
	DefaultMonitorCapacity          = 20
	DefaultHistorySize              = 200
	DefaultATRPeriod                = 14
	DefaultRSIPeriod                = 14
	DefaultEmergencyImmediatePct    = 0.10
	DefaultEmergencyConfirmPct      = 0.07
	DefaultEmergencyConfirmBars     = 3
	DefaultOrderRetryAttempts       = 3
	DefaultOrderRetryBaseDelayMs    = 500
	DefaultReconnectAttempts        = 5
	DefaultReconnectBaseDelayMs     = 1000
)

// RetryConfig bounds a retry loop.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts before giving up.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" validate:"gt=0"`
	// BaseDelayMs is the initial delay between attempts in milliseconds.
	BaseDelayMs int `yaml:"base_delay_ms" json:"base_delay_ms" validate:"gt=0"`
}

// BaseDelay returns the base delay as a duration.
func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// EngineConfig holds the configuration for the position lifecycle engine.
type EngineConfig struct {
	// Timezone is the reference trading-calendar timezone.
	Timezone string `yaml:"timezone" json:"timezone" validate:"required"`

	// ConfirmationTolerance is the fractional tolerance around the previous
	// close for Group B confirmation checks.
	ConfirmationTolerance float64 `yaml:"confirmation_tolerance" json:"confirmation_tolerance" validate:"gte=0"`

	// MaxEntriesPerDay caps new entries per trading day.
	MaxEntriesPerDay int `yaml:"max_entries_per_day" json:"max_entries_per_day" validate:"gt=0"`

	// MaxPositionsPerDirection caps concurrent positions per direction.
	MaxPositionsPerDirection int `yaml:"max_positions_per_direction" json:"max_positions_per_direction" validate:"gt=0"`

	// MonitorCapacity is the maximum number of tracked positions.
	MonitorCapacity int `yaml:"monitor_capacity" json:"monitor_capacity" validate:"gt=0"`

	// HistorySize bounds the per-symbol daily bar history buffer.
	HistorySize int `yaml:"history_size" json:"history_size" validate:"gt=0"`

	// ATRPeriod and RSIPeriod configure the monitor's indicators.
	ATRPeriod int `yaml:"atr_period" json:"atr_period" validate:"gt=0"`
	RSIPeriod int `yaml:"rsi_period" json:"rsi_period" validate:"gt=0"`

	// EmergencyImmediatePct is the single-bar adverse move that exits
	// immediately on the entry day.
	EmergencyImmediatePct float64 `yaml:"emergency_immediate_pct" json:"emergency_immediate_pct" validate:"gt=0"`
	// EmergencyConfirmPct is the adverse move that exits after
	// EmergencyConfirmBars consecutive bars.
	EmergencyConfirmPct float64 `yaml:"emergency_confirm_pct" json:"emergency_confirm_pct" validate:"gt=0"`
	// EmergencyConfirmBars is the consecutive-bar count for a confirmed
	// emergency exit.
	EmergencyConfirmBars int `yaml:"emergency_confirm_bars" json:"emergency_confirm_bars" validate:"gt=0"`

	// OrderRetry bounds order submission retries (linear backoff).
	OrderRetry RetryConfig `yaml:"order_retry" json:"order_retry"`
	// StreamReconnect bounds stream reconnection (exponential backoff).
	StreamReconnect RetryConfig `yaml:"stream_reconnect" json:"stream_reconnect"`

	// Strategies is the per-strategy policy table.
	Strategies []strategy.Policy `yaml:"strategies" json:"strategies"`
}

// Default returns an EngineConfig populated with default values and no
// strategies.
func Default() EngineConfig {
	return EngineConfig{
		Timezone:                 DefaultTimezone,
		ConfirmationTolerance:    DefaultConfirmationTolerance,
		MaxEntriesPerDay:         DefaultMaxEntriesPerDay,
		MaxPositionsPerDirection: DefaultMaxPositionsPerDirection,
		MonitorCapacity:          DefaultMonitorCapacity,
		HistorySize:              DefaultHistorySize,
		ATRPeriod:                DefaultATRPeriod,
		RSIPeriod:                DefaultRSIPeriod,
		EmergencyImmediatePct:    DefaultEmergencyImmediatePct,
		EmergencyConfirmPct:      DefaultEmergencyConfirmPct,
		EmergencyConfirmBars:     DefaultEmergencyConfirmBars,
		OrderRetry: RetryConfig{
			MaxAttempts: DefaultOrderRetryAttempts,
			BaseDelayMs: DefaultOrderRetryBaseDelayMs,
		},
		StreamReconnect: RetryConfig{
			MaxAttempts: DefaultReconnectAttempts,
			BaseDelayMs: DefaultReconnectBaseDelayMs,
		},
		Strategies: nil,
	}
}

// Load reads a YAML config file over the defaults and validates the result.
func Load(path string) (EngineConfig, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(errors.ErrCodeConfigReadFailed, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(errors.ErrCodeConfigParseFailed, "failed to parse config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate validates the EngineConfig struct.
func (c *EngineConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid engine configuration", err)
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid timezone %q", c.Timezone)
	}

	return nil
}

// Location resolves the configured trading-calendar timezone.
func (c *EngineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid timezone %q", c.Timezone)
	}

	return loc, nil
}
