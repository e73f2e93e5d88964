// Package entry converts scan candidates into filled positions across two
// admission groups: immediate market-open entries and confirmation-window
// entries.
package entry

import (
	"context"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantrail/quantrail-trading/internal/engine/exit"
	"github.com/quantrail/quantrail-trading/internal/engine/monitor"
	"github.com/quantrail/quantrail-trading/internal/engine/order"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/risk"
	"github.com/quantrail/quantrail-trading/internal/strategy"
	"github.com/quantrail/quantrail-trading/internal/types"
	"go.uber.org/zap"
)

// Config holds entry admission limits.
type Config struct {
	// MaxEntriesPerDay caps new entries per trading day.
	MaxEntriesPerDay int
	// MaxPositionsPerDirection caps concurrent positions per direction.
	MaxPositionsPerDirection int
	// ConfirmationTolerance is the fractional tolerance around the
	// previous close for Group B confirmation.
	ConfirmationTolerance float64
	// Location is the trading-calendar timezone.
	Location *time.Location
}

// Manager partitions candidates by strategy entry group, applies admission
// gates, sizes positions, and hands fresh positions to the monitor.
// Every gate failure is a non-fatal, per-candidate skip.
type Manager struct {
	log      *logger.Logger
	registry *strategy.Registry
	orders   *order.Manager
	monitor  *monitor.Monitor
	exits    *exit.Engine
	riskMgr  risk.Manager
	alloc    risk.AllocationEngine
	cfg      Config

	groupA       []types.Candidate
	groupB       []types.Candidate
	entriesToday int
	currentDate  time.Time
}

// NewManager creates an entry manager. The caller must invoke
// OnNewTradingDay once at session start.
func NewManager(log *logger.Logger, registry *strategy.Registry, orders *order.Manager, mon *monitor.Monitor, exits *exit.Engine, riskMgr risk.Manager, alloc risk.AllocationEngine, cfg Config) *Manager {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Manager{
		log:          log,
		registry:     registry,
		orders:       orders,
		monitor:      mon,
		exits:        exits,
		riskMgr:      riskMgr,
		alloc:        alloc,
		cfg:          cfg,
		groupA:       nil,
		groupB:       nil,
		entriesToday: 0,
		currentDate:  time.Time{},
	}
}

// LoadCandidates partitions candidates by strategy entry group and clears
// any prior session state. Candidates with unregistered strategies are
// skipped loudly.
func (m *Manager) LoadCandidates(candidates []types.Candidate) {
	m.groupA = nil
	m.groupB = nil

	for _, candidate := range candidates {
		policy, err := m.registry.Resolve(candidate.Strategy)
		if err != nil {
			m.log.Warn("Candidate dropped, strategy not registered",
				zap.String("symbol", candidate.Symbol),
				zap.String("strategy", candidate.Strategy),
				zap.Error(err),
			)

			continue
		}

		if policy.EntryGroup == strategy.EntryGroupConfirmation {
			m.groupB = append(m.groupB, candidate)
		} else {
			m.groupA = append(m.groupA, candidate)
		}
	}

	m.log.Info("Candidates loaded",
		zap.Int("market_open", len(m.groupA)),
		zap.Int("confirmation", len(m.groupB)),
	)
}

// OnNewTradingDay resets the daily entry counter and pending groups when
// the date advanced, and forwards the new date to the exit engine's
// re-entry block set. Idempotent per calendar date.
func (m *Manager) OnNewTradingDay(date time.Time) {
	day := m.tradingDate(date)

	if day.After(m.currentDate) {
		m.currentDate = day
		m.entriesToday = 0
		m.groupA = nil
		m.groupB = nil
	}

	m.exits.OnNewTradingDay(date)
}

// ExecuteMarketOpen attempts entry for every Group A candidate, then clears
// the group. Returns the number of positions opened.
func (m *Manager) ExecuteMarketOpen(ctx context.Context, account types.AccountInfo, positions []types.BrokerPosition, regime types.Regime, date time.Time) int {
	opened := 0

	for _, candidate := range m.groupA {
		if m.tryEnter(ctx, candidate, candidate.PrevClose, account, positions, regime, date) {
			opened++
		}
	}

	m.groupA = nil

	return opened
}

// ExecuteConfirmation attempts entry for every Group B candidate with a
// known live price that confirms against its previous close. Unconfirmed
// candidates remain pending for the next call; confirmed candidates are
// consumed whether or not they pass the admission gates.
func (m *Manager) ExecuteConfirmation(ctx context.Context, account types.AccountInfo, positions []types.BrokerPosition, regime types.Regime, date time.Time, livePrices map[string]float64) int {
	opened := 0
	pending := make([]types.Candidate, 0, len(m.groupB))

	for _, candidate := range m.groupB {
		price, known := livePrices[candidate.Symbol]
		if !known || !m.confirmed(candidate, price) {
			pending = append(pending, candidate)

			continue
		}

		if m.tryEnter(ctx, candidate, price, account, positions, regime, date) {
			opened++
		}
	}

	m.groupB = pending

	return opened
}

// CloseEntryWindow discards all still-unconfirmed Group B candidates and
// returns the discarded count.
func (m *Manager) CloseEntryWindow() int {
	discarded := len(m.groupB)
	m.groupB = nil

	if discarded > 0 {
		m.log.Info("Entry window closed, unconfirmed candidates discarded",
			zap.Int("discarded", discarded),
		)
	}

	return discarded
}

// PendingCounts returns the current group sizes, for observability.
func (m *Manager) PendingCounts() (groupA, groupB int) {
	return len(m.groupA), len(m.groupB)
}

// confirmed applies the live-price confirmation rule: a long confirms at or
// above prevClose*(1-tolerance), a short at or below prevClose*(1+tolerance).
func (m *Manager) confirmed(candidate types.Candidate, price float64) bool {
	if candidate.Direction == types.DirectionShort {
		return price <= candidate.PrevClose*(1+m.cfg.ConfirmationTolerance)
	}

	return price >= candidate.PrevClose*(1-m.cfg.ConfirmationTolerance)
}

// tryEnter applies the admission gates in order, sizes the position, and
// submits the entry plus its protective stop. Every gate failure is a
// logged skip of this single candidate.
func (m *Manager) tryEnter(ctx context.Context, candidate types.Candidate, price float64, account types.AccountInfo, positions []types.BrokerPosition, regime types.Regime, date time.Time) bool {
	policy, err := m.registry.Resolve(candidate.Strategy)
	if err != nil {
		m.log.Warn("Entry skipped, strategy not registered",
			zap.String("symbol", candidate.Symbol),
			zap.Error(err),
		)

		return false
	}

	if m.exits.IsReentryBlocked(candidate.Symbol) {
		m.skip(candidate, "re-entry blocked for symbol closed today")

		return false
	}

	if m.entriesToday >= m.cfg.MaxEntriesPerDay {
		m.skip(candidate, "daily entry cap reached")

		return false
	}

	if m.directionCount(positions, candidate.Direction) >= m.cfg.MaxPositionsPerDirection {
		m.skip(candidate, "per-direction position cap reached")

		return false
	}

	if m.holdsSymbol(positions, candidate.Symbol) {
		m.skip(candidate, "symbol already held")

		return false
	}

	if !m.riskMgr.Validate(candidate, account, positions) {
		m.skip(candidate, "risk validation failed")

		return false
	}

	if !m.alloc.ShouldEnter(candidate.Strategy, regime, len(positions)) {
		m.skip(candidate, "allocation engine declined entry")

		return false
	}

	long := candidate.Direction != types.DirectionShort

	var stopDistance float64
	if candidate.ATR > 0 {
		stopDistance = policy.StopLossATR(long) * candidate.ATR
	}

	qty := m.alloc.GetPositionSize(candidate.Strategy, price, account.Equity, regime, candidate.ATR, candidate.Direction, stopDistance)
	if qty <= 0 {
		m.skip(candidate, "position size is zero")

		return false
	}

	result, err := m.orders.SubmitEntry(ctx, candidate.Symbol, candidate.Direction.EntrySide(), qty, types.OrderTypeMarket, nil)
	if err != nil || result == nil || !result.Status.HasFill() {
		m.skip(candidate, "entry order not filled")

		return false
	}

	fillQty := result.FilledQty
	if fillQty <= 0 {
		fillQty = qty
	}

	position := types.NewHeldPosition(candidate.Symbol, candidate.Strategy, candidate.Direction, result.FilledPrice, candidate.ATR, fillQty, m.tradingDate(date))

	// Protective stop anchored to the real fill price, never the signal
	// price.
	m.submitProtectiveStop(ctx, position, policy, result.OrderID)

	if !m.monitor.AddPosition(position) {
		m.log.Warn("Filled position not tracked by monitor",
			zap.String("symbol", candidate.Symbol),
		)
	}

	m.entriesToday++

	m.log.Info("Position opened",
		zap.String("symbol", candidate.Symbol),
		zap.String("strategy", candidate.Strategy),
		zap.String("direction", string(candidate.Direction)),
		zap.Float64("fill_price", result.FilledPrice),
		zap.Float64("quantity", fillQty),
	)

	return true
}

func (m *Manager) submitProtectiveStop(ctx context.Context, position *types.HeldPosition, policy strategy.Policy, parentOrderID string) {
	atr := position.EntryATR
	if atr <= 0 {
		return
	}

	long := position.Direction != types.DirectionShort

	var stopPrice float64
	if long {
		stopPrice = position.EntryPrice - policy.StopLossATR(true)*atr
	} else {
		stopPrice = position.EntryPrice + policy.StopLossATR(false)*atr
	}

	if stopPrice <= 0 {
		m.log.Warn("Protective stop skipped, non-positive stop price",
			zap.String("symbol", position.Symbol),
		)

		return
	}

	result, err := m.orders.SubmitStopLoss(ctx, position.Symbol, position.Direction.ExitSide(), position.Quantity, stopPrice, optional.Some(parentOrderID))
	if err != nil || result == nil {
		m.log.Warn("Protective stop submission failed",
			zap.String("symbol", position.Symbol),
			zap.Float64("stop_price", stopPrice),
			zap.Error(err),
		)
	}
}

func (m *Manager) skip(candidate types.Candidate, reason string) {
	m.log.Info("Candidate skipped",
		zap.String("symbol", candidate.Symbol),
		zap.String("strategy", candidate.Strategy),
		zap.String("reason", reason),
	)
}

func (m *Manager) directionCount(positions []types.BrokerPosition, direction types.Direction) int {
	count := 0

	for _, p := range positions {
		if p.Direction == direction {
			count++
		}
	}

	return count
}

func (m *Manager) holdsSymbol(positions []types.BrokerPosition, symbol string) bool {
	for _, p := range positions {
		if p.Symbol == symbol {
			return true
		}
	}

	if _, tracked := m.monitor.GetPosition(symbol); tracked {
		return true
	}

	return false
}

func (m *Manager) tradingDate(t time.Time) time.Time {
	local := t.In(m.cfg.Location)

	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, m.cfg.Location)
}
