package indicator

import (
	"math"

	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

// ATR represents the Average True Range indicator.
type ATR struct {
	period int
}

// NewATR creates a new ATR indicator with the given period.
func NewATR(period int) (*ATR, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "period must be a positive integer, got %d", period)
	}

	return &ATR{period: period}, nil
}

// Name returns the name of the indicator.
func (a *ATR) Name() string {
	return NameATR
}

// Value computes the ATR over the history using Wilder smoothing.
// Requires period+1 bars so the first true range has a previous close.
func (a *ATR) Value(bars []types.Bar) (float64, error) {
	if len(bars) < a.period+1 {
		return 0, errors.Newf(errors.ErrCodeInsufficientData,
			"atr requires %d bars, have %d", a.period+1, len(bars))
	}

	trueRanges := make([]float64, 0, len(bars)-1)

	for i := 1; i < len(bars); i++ {
		prevClose := bars[i-1].Close
		tr := math.Max(bars[i].High-bars[i].Low,
			math.Max(math.Abs(bars[i].High-prevClose), math.Abs(bars[i].Low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	// Seed with the simple average of the first period, then smooth.
	var atr float64
	for i := 0; i < a.period; i++ {
		atr += trueRanges[i]
	}

	atr /= float64(a.period)

	for i := a.period; i < len(trueRanges); i++ {
		atr = (atr*float64(a.period-1) + trueRanges[i]) / float64(a.period)
	}

	return atr, nil
}
