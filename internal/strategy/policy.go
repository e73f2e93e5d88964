package strategy

import (
	"github.com/go-playground/validator/v10"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

// EntryGroup selects how a strategy's candidates are admitted.
type EntryGroup string

const (
	// EntryGroupMarketOpen enters immediately at market open.
	EntryGroupMarketOpen EntryGroup = "market_open"
	// EntryGroupConfirmation waits for a live-price confirmation window.
	EntryGroupConfirmation EntryGroup = "confirmation"
)

// Policy is the immutable per-strategy behavior table resolved once when a
// candidate is created. Every field that scales a stop or target is an ATR
// multiple.
type Policy struct {
	Name       string     `yaml:"name" json:"name" validate:"required"`
	EntryGroup EntryGroup `yaml:"entry_group" json:"entry_group" validate:"required,oneof=market_open confirmation"`

	// StopLossATRLong and StopLossATRShort are the direction-specific
	// stop-loss distances in ATR multiples.
	StopLossATRLong  float64 `yaml:"stop_loss_atr_long" json:"stop_loss_atr_long" validate:"required,gt=0"`
	StopLossATRShort float64 `yaml:"stop_loss_atr_short" json:"stop_loss_atr_short" validate:"required,gt=0"`

	// TakeProfitATR is the fixed profit target distance. Zero disables the
	// ATR target, leaving only the oscillator exit when enabled.
	TakeProfitATR float64 `yaml:"take_profit_atr" json:"take_profit_atr" validate:"gte=0"`

	// UseOscillatorExit enables the indicator-based take-profit condition,
	// evaluated before the ATR target.
	UseOscillatorExit bool `yaml:"use_oscillator_exit" json:"use_oscillator_exit"`
	// OscillatorNeutral is the neutral level the oscillator must cross for
	// the indicator exit to fire. Defaults to 50 when zero.
	OscillatorNeutral float64 `yaml:"oscillator_neutral" json:"oscillator_neutral" validate:"gte=0,lte=100"`

	// BreakevenActivationATR is the favorable excursion, in ATR multiples,
	// after which the stop is floored at the entry price. Zero disables
	// the breakeven upgrade.
	BreakevenActivationATR float64 `yaml:"breakeven_activation_atr" json:"breakeven_activation_atr" validate:"gte=0"`

	// TrailingEnabled turns on the trailing stop for this strategy.
	TrailingEnabled bool `yaml:"trailing_enabled" json:"trailing_enabled"`
	// TrailingActivationATR is the minimum favorable excursion before the
	// trail activates.
	TrailingActivationATR float64 `yaml:"trailing_activation_atr" json:"trailing_activation_atr" validate:"gte=0"`
	// TrailingDistanceATR is the trail distance from the best price.
	TrailingDistanceATR float64 `yaml:"trailing_distance_atr" json:"trailing_distance_atr" validate:"gte=0"`

	// MaxHoldDays is the maximum hold period in completed daily bars.
	// It must be set explicitly at registration; there is no default.
	MaxHoldDays int `yaml:"max_hold_days" json:"max_hold_days" validate:"required,gt=0"`
}

// StopLossATR returns the direction-specific stop-loss multiplier.
func (p Policy) StopLossATR(long bool) float64 {
	if long {
		return p.StopLossATRLong
	}

	return p.StopLossATRShort
}

// Registry holds registered strategy policies. Resolution of an unknown
// strategy is an error, never a silent default.
type Registry struct {
	policies map[string]Policy
}

// NewRegistry creates an empty policy registry.
func NewRegistry() *Registry {
	return &Registry{
		policies: make(map[string]Policy),
	}
}

// Register validates and stores a policy. Registering a policy without an
// explicit MaxHoldDays fails.
func (r *Registry) Register(p Policy) error {
	validate := validator.New()
	if err := validate.Struct(p); err != nil {
		return errors.Wrapf(errors.ErrCodeStrategyRegistration, err, "invalid policy for strategy %q", p.Name)
	}

	if p.OscillatorNeutral == 0 {
		p.OscillatorNeutral = 50
	}

	if _, exists := r.policies[p.Name]; exists {
		return errors.Newf(errors.ErrCodeStrategyRegistration, "strategy %q already registered", p.Name)
	}

	r.policies[p.Name] = p

	return nil
}

// Resolve returns the policy for a strategy name.
func (r *Registry) Resolve(name string) (Policy, error) {
	p, ok := r.policies[name]
	if !ok {
		return Policy{}, errors.Newf(errors.ErrCodeUnknownStrategy, "strategy %q not registered", name)
	}

	return p, nil
}

// Names returns the registered strategy names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.policies))
	for name := range r.policies {
		names = append(names, name)
	}

	return names
}
