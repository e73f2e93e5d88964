package types

import "time"

// Candidate is an entry signal produced by the upstream scan pipeline.
// It is consumed once by the entry manager and discarded after an entry
// attempt or when the confirmation window closes.
type Candidate struct {
	Strategy  string             `yaml:"strategy" json:"strategy"`
	Symbol    string             `yaml:"symbol" json:"symbol"`
	Direction Direction          `yaml:"direction" json:"direction"`
	// PrevClose is the previous session close used for confirmation checks.
	PrevClose float64 `yaml:"prev_close" json:"prev_close"`
	// ATR is the scan-time average true range.
	ATR float64 `yaml:"atr" json:"atr"`
	// Indicators is the scan-time indicator snapshot.
	Indicators map[string]float64 `yaml:"indicators" json:"indicators"`
}

// HeldPosition is an open position supervised by the position monitor.
// Extremes and BarsHeld are mutated by the monitor; EmergencyLossBars is
// mutated by the exit rule engine.
type HeldPosition struct {
	Symbol    string    `yaml:"symbol" json:"symbol"`
	Strategy  string    `yaml:"strategy" json:"strategy"`
	Direction Direction `yaml:"direction" json:"direction"`
	// EntryPrice is the actual fill price, never the signal price.
	EntryPrice float64 `yaml:"entry_price" json:"entry_price"`
	// EntryATR is the ATR at entry time, used as fallback when no fresh
	// indicator value is available.
	EntryATR  float64   `yaml:"entry_atr" json:"entry_atr"`
	EntryDate time.Time `yaml:"entry_date" json:"entry_date"`
	Quantity  float64   `yaml:"quantity" json:"quantity"`
	// BarsHeld counts completed daily bars since entry. It is incremented
	// exactly once per completed daily bar, by the position monitor only.
	BarsHeld int `yaml:"bars_held" json:"bars_held"`
	// HighestPrice and LowestPrice track price extremes since entry.
	HighestPrice float64 `yaml:"highest_price" json:"highest_price"`
	LowestPrice  float64 `yaml:"lowest_price" json:"lowest_price"`
	// EmergencyLossBars counts consecutive bars with a confirmed-level
	// adverse move. Reset to zero the moment the loss recovers.
	EmergencyLossBars int `yaml:"emergency_loss_bars" json:"emergency_loss_bars"`
}

// NewHeldPosition creates a position anchored to the actual fill price.
func NewHeldPosition(symbol, strategy string, direction Direction, fillPrice, atr, qty float64, entryDate time.Time) *HeldPosition {
	return &HeldPosition{
		Symbol:            symbol,
		Strategy:          strategy,
		Direction:         direction,
		EntryPrice:        fillPrice,
		EntryATR:          atr,
		EntryDate:         entryDate,
		Quantity:          qty,
		BarsHeld:          0,
		HighestPrice:      fillPrice,
		LowestPrice:       fillPrice,
		EmergencyLossBars: 0,
	}
}

// UpdateExtremes widens the tracked price extremes with a new bar range.
func (p *HeldPosition) UpdateExtremes(high, low float64) {
	if high > p.HighestPrice {
		p.HighestPrice = high
	}

	if low < p.LowestPrice && low > 0 {
		p.LowestPrice = low
	}
}

// FavorableExcursion returns the best price move in the position's favor
// since entry, in price units. Never negative.
func (p *HeldPosition) FavorableExcursion() float64 {
	var excursion float64
	if p.Direction == DirectionShort {
		excursion = p.EntryPrice - p.LowestPrice
	} else {
		excursion = p.HighestPrice - p.EntryPrice
	}

	if excursion < 0 {
		return 0
	}

	return excursion
}

// AdverseMovePct returns the adverse move from entry to the given price as
// a fraction of the entry price, clamped to be non-negative.
func (p *HeldPosition) AdverseMovePct(price float64) float64 {
	if p.EntryPrice <= 0 {
		return 0
	}

	var loss float64
	if p.Direction == DirectionShort {
		loss = (price - p.EntryPrice) / p.EntryPrice
	} else {
		loss = (p.EntryPrice - price) / p.EntryPrice
	}

	if loss < 0 {
		return 0
	}

	return loss
}

type ExitAction string

const (
	ExitActionHold ExitAction = "HOLD"
	ExitActionExit ExitAction = "EXIT"
)

type ExitReason string

const (
	ExitReasonStopLoss      ExitReason = "stop_loss"
	ExitReasonTakeProfit    ExitReason = "take_profit"
	ExitReasonTrailingStop  ExitReason = "trailing_stop"
	ExitReasonTimeLimit     ExitReason = "time_limit"
	ExitReasonEmergencyStop ExitReason = "emergency_stop"
)

// ExitDecision is the immutable result of one exit rule evaluation.
type ExitDecision struct {
	Action ExitAction `yaml:"action" json:"action"`
	Reason ExitReason `yaml:"reason" json:"reason"`
	// TargetPrice is the suggested exit price, zero when not applicable.
	TargetPrice float64 `yaml:"target_price" json:"target_price"`
	// Emergency marks entry-day emergency exits.
	Emergency bool `yaml:"emergency" json:"emergency"`
}

// Hold returns the hold decision.
func Hold() ExitDecision {
	return ExitDecision{
		Action:      ExitActionHold,
		Reason:      "",
		TargetPrice: 0,
		Emergency:   false,
	}
}

// Exit returns an exit decision with the given reason and target price.
func Exit(reason ExitReason, target float64, emergency bool) ExitDecision {
	return ExitDecision{
		Action:      ExitActionExit,
		Reason:      reason,
		TargetPrice: target,
		Emergency:   emergency,
	}
}
