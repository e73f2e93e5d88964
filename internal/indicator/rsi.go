package indicator

import (
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

// RSI represents the Relative Strength Index indicator, used as the
// oscillator for indicator-based take-profit exits.
type RSI struct {
	period int
}

// NewRSI creates a new RSI indicator with the given period.
func NewRSI(period int) (*RSI, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidPeriod, "period must be a positive integer, got %d", period)
	}

	return &RSI{period: period}, nil
}

// Name returns the name of the indicator.
func (r *RSI) Name() string {
	return NameRSI
}

// Value computes the RSI over the history using Wilder smoothing.
func (r *RSI) Value(bars []types.Bar) (float64, error) {
	if len(bars) < r.period+1 {
		return 0, errors.Newf(errors.ErrCodeInsufficientData,
			"rsi requires %d bars, have %d", r.period+1, len(bars))
	}

	var avgGain, avgLoss float64

	for i := 1; i <= r.period; i++ {
		change := bars[i].Close - bars[i-1].Close
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(r.period)
	avgLoss /= float64(r.period)

	for i := r.period + 1; i < len(bars); i++ {
		change := bars[i].Close - bars[i-1].Close

		var gain, loss float64
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(r.period-1) + gain) / float64(r.period)
		avgLoss = (avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), nil
}
