package indicator

import (
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

// Well-known indicator names.
const (
	NameATR = "atr"
	NameRSI = "rsi"
)

// Indicator computes one value from a chronological slice of daily bars.
type Indicator interface {
	// Name returns the name of the indicator
	Name() string
	// Value returns the indicator value over the given history.
	// Returns ErrCodeInsufficientData when the history is too short.
	Value(bars []types.Bar) (float64, error)
}

// Registry holds the indicators computed by the position monitor on every
// completed daily bar.
type Registry struct {
	indicators map[string]Indicator
}

// NewRegistry creates an empty indicator registry.
func NewRegistry() *Registry {
	return &Registry{
		indicators: make(map[string]Indicator),
	}
}

// Register adds an indicator to the registry.
func (r *Registry) Register(ind Indicator) error {
	if _, exists := r.indicators[ind.Name()]; exists {
		return errors.Newf(errors.ErrCodeInvalidParameter, "indicator %q already registered", ind.Name())
	}

	r.indicators[ind.Name()] = ind

	return nil
}

// Get returns a registered indicator by name.
func (r *Registry) Get(name string) (Indicator, error) {
	ind, ok := r.indicators[name]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeIndicatorNotFound, "indicator %q not found", name)
	}

	return ind, nil
}

// Snapshot computes every registered indicator over the history. Indicators
// with insufficient data are omitted from the result.
func (r *Registry) Snapshot(bars []types.Bar) map[string]float64 {
	values := make(map[string]float64, len(r.indicators))

	for name, ind := range r.indicators {
		value, err := ind.Value(bars)
		if err != nil {
			continue
		}

		values[name] = value
	}

	return values
}
