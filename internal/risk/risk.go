// Package risk defines the risk and allocation collaborators consumed by
// the entry manager, with default implementations so the engine runs out
// of the box.
package risk

import (
	"github.com/quantrail/quantrail-trading/internal/types"
)

// Manager validates a candidate against the current account state.
type Manager interface {
	// Validate reports whether the candidate is acceptable given the
	// account and existing positions.
	Validate(candidate types.Candidate, account types.AccountInfo, positions []types.BrokerPosition) bool
}

// AllocationEngine decides participation and position sizing.
type AllocationEngine interface {
	// ShouldEnter reports whether the strategy may enter under the current
	// regime with the given number of concurrent positions.
	ShouldEnter(strategy string, regime types.Regime, concurrent int) bool
	// GetPositionSize returns the quantity to trade. A stopDistance of
	// zero means no ATR-scaled stop is available.
	GetPositionSize(strategy string, price, equity float64, regime types.Regime, atr float64, direction types.Direction, stopDistance float64) float64
}

// BasicManager is a minimal account sanity check.
type BasicManager struct {
	// MinEquity rejects entries when account equity falls below it.
	MinEquity float64
}

// NewBasicManager creates a BasicManager.
func NewBasicManager(minEquity float64) *BasicManager {
	return &BasicManager{MinEquity: minEquity}
}

// Validate implements Manager.
func (m *BasicManager) Validate(candidate types.Candidate, account types.AccountInfo, _ []types.BrokerPosition) bool {
	if candidate.Symbol == "" || candidate.PrevClose <= 0 {
		return false
	}

	if account.Equity < m.MinEquity {
		return false
	}

	return account.BuyingPower > 0
}

// VolatilityAllocator sizes positions as a fixed fraction of equity at
// risk over the stop distance, capped by a maximum position fraction.
type VolatilityAllocator struct {
	// RiskPerTradePct is the equity fraction risked per trade.
	RiskPerTradePct float64
	// MaxPositionPct caps a single position's notional as an equity fraction.
	MaxPositionPct float64
	// MaxConcurrent caps concurrent positions across strategies.
	MaxConcurrent int
}

// NewVolatilityAllocator creates a VolatilityAllocator.
func NewVolatilityAllocator(riskPerTradePct, maxPositionPct float64, maxConcurrent int) *VolatilityAllocator {
	return &VolatilityAllocator{
		RiskPerTradePct: riskPerTradePct,
		MaxPositionPct:  maxPositionPct,
		MaxConcurrent:   maxConcurrent,
	}
}

// ShouldEnter implements AllocationEngine.
func (a *VolatilityAllocator) ShouldEnter(_ string, _ types.Regime, concurrent int) bool {
	return concurrent < a.MaxConcurrent
}

// GetPositionSize implements AllocationEngine. With a usable stop distance
// the size is riskAmount/stopDistance; otherwise it falls back to the
// notional cap.
func (a *VolatilityAllocator) GetPositionSize(_ string, price, equity float64, _ types.Regime, _ float64, _ types.Direction, stopDistance float64) float64 {
	if price <= 0 || equity <= 0 {
		return 0
	}

	maxNotional := equity * a.MaxPositionPct

	var qty float64
	if stopDistance > 0 {
		qty = equity * a.RiskPerTradePct / stopDistance
	} else {
		qty = maxNotional / price
	}

	if qty*price > maxNotional {
		qty = maxNotional / price
	}

	if qty < 0 {
		return 0
	}

	return qty
}

// Verify the defaults implement the collaborator interfaces.
var (
	_ Manager          = (*BasicManager)(nil)
	_ AllocationEngine = (*VolatilityAllocator)(nil)
)
