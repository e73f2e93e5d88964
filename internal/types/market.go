package types

import "time"

// Bar represents one OHLCV candle for a symbol.
type Bar struct {
	Symbol string    `yaml:"symbol" json:"symbol" csv:"symbol"`
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
	// IsDaily is true when the bar already covers a full trading day and
	// must not be folded through the daily aggregator again.
	IsDaily bool `yaml:"is_daily" json:"is_daily" csv:"is_daily"`
}

// Regime is an externally supplied market-condition classification.
// The engine consumes it as an opaque input for allocation decisions.
type Regime string

const (
	RegimeBull    Regime = "bull"
	RegimeBear    Regime = "bear"
	RegimeNeutral Regime = "neutral"
)
