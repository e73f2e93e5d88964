// Package exit decides, bar by bar, whether a held position stays open.
// Rules are evaluated in a fixed priority order with first match wins.
package exit

import (
	"sync"
	"time"

	"github.com/quantrail/quantrail-trading/internal/indicator"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/strategy"
	"github.com/quantrail/quantrail-trading/internal/types"
	"go.uber.org/zap"
)

// Config holds the thresholds shared by every strategy.
type Config struct {
	// EmergencyImmediatePct is the single-bar adverse move that exits
	// immediately on the entry day.
	EmergencyImmediatePct float64
	// EmergencyConfirmPct is the adverse move that exits after
	// EmergencyConfirmBars consecutive bars.
	EmergencyConfirmPct float64
	// EmergencyConfirmBars is the consecutive-bar count for a confirmed
	// emergency exit.
	EmergencyConfirmBars int
}

// evalContext carries everything one rule evaluation needs.
type evalContext struct {
	position   *types.HeldPosition
	bar        types.Bar
	atr        float64
	policy     strategy.Policy
	oscillator float64
	hasOsc     bool
}

// rule is a single pure exit evaluator. A HOLD decision falls through to
// the next rule.
type rule struct {
	name string
	eval func(ctx *evalContext) types.ExitDecision
}

// Engine evaluates exit rules for held positions and owns the day-scoped
// re-entry block set.
type Engine struct {
	log      *logger.Logger
	registry *strategy.Registry
	cfg      Config
	loc      *time.Location
	rules    []rule

	mu        sync.Mutex
	blocked   map[string]struct{}
	blockDate time.Time
}

// NewEngine creates an exit rule engine. The rule order is fixed:
// stop-loss, take-profit, trailing stop, time limit. Entry-day bars are
// routed to the emergency rule only.
func NewEngine(log *logger.Logger, registry *strategy.Registry, cfg Config, loc *time.Location) *Engine {
	e := &Engine{
		log:       log,
		registry:  registry,
		cfg:       cfg,
		loc:       loc,
		rules:     nil,
		mu:        sync.Mutex{},
		blocked:   make(map[string]struct{}),
		blockDate: time.Time{},
	}

	e.rules = []rule{
		{name: "stop_loss", eval: e.evalStopLoss},
		{name: "take_profit", eval: e.evalTakeProfit},
		{name: "trailing_stop", eval: e.evalTrailingStop},
		{name: "time_limit", eval: e.evalTimeLimit},
	}

	return e
}

// Evaluate decides hold vs. exit for a position on a completed daily bar.
// indicators is the fresh snapshot computed over the symbol's history; a
// missing or non-positive ATR falls back to the entry ATR, then to 1.0.
func (e *Engine) Evaluate(position *types.HeldPosition, bar types.Bar, indicators map[string]float64) (types.ExitDecision, error) {
	policy, err := e.registry.Resolve(position.Strategy)
	if err != nil {
		return types.Hold(), err
	}

	osc, hasOsc := indicators[indicator.NameRSI]

	ctx := &evalContext{
		position:   position,
		bar:        bar,
		atr:        resolveATR(indicators, position),
		policy:     policy,
		oscillator: osc,
		hasOsc:     hasOsc,
	}

	if e.tradingDate(bar.Time).Equal(e.tradingDate(position.EntryDate)) {
		return e.evalEntryDayEmergency(ctx), nil
	}

	for _, r := range e.rules {
		decision := r.eval(ctx)
		if decision.Action == types.ExitActionExit {
			e.log.Debug("Exit rule matched",
				zap.String("symbol", position.Symbol),
				zap.String("rule", r.name),
				zap.Float64("close", bar.Close),
			)

			return decision, nil
		}
	}

	return types.Hold(), nil
}

// RecordClose blocks same-day re-entry for a symbol.
func (e *Engine) RecordClose(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocked[symbol] = struct{}{}
}

// IsReentryBlocked reports whether a symbol was closed today.
func (e *Engine) IsReentryBlocked(symbol string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	_, blocked := e.blocked[symbol]

	return blocked
}

// OnNewTradingDay clears the re-entry block set exactly once per advanced
// calendar date. Calling it twice with the same date is a no-op.
func (e *Engine) OnNewTradingDay(date time.Time) {
	day := e.tradingDate(date)

	e.mu.Lock()
	defer e.mu.Unlock()

	if !day.After(e.blockDate) {
		return
	}

	e.blockDate = day
	e.blocked = make(map[string]struct{})
}

// evalEntryDayEmergency is the only rule evaluated on the entry day.
// An adverse move at or beyond the immediate threshold exits at once; a
// move at or beyond the confirm threshold must persist for the configured
// number of consecutive bars, and the counter resets the moment the loss
// recovers.
func (e *Engine) evalEntryDayEmergency(ctx *evalContext) types.ExitDecision {
	loss := ctx.position.AdverseMovePct(ctx.bar.Close)

	if loss >= e.cfg.EmergencyImmediatePct {
		return types.Exit(types.ExitReasonEmergencyStop, ctx.bar.Close, true)
	}

	if loss >= e.cfg.EmergencyConfirmPct {
		ctx.position.EmergencyLossBars++
		if ctx.position.EmergencyLossBars >= e.cfg.EmergencyConfirmBars {
			return types.Exit(types.ExitReasonEmergencyStop, ctx.bar.Close, true)
		}

		return types.Hold()
	}

	ctx.position.EmergencyLossBars = 0

	return types.Hold()
}

// evalStopLoss triggers at entry -/+ (multiplier x ATR). Once favorable
// excursion reaches the breakeven activation multiple, the stop is floored
// (capped for shorts) at the entry price.
func (e *Engine) evalStopLoss(ctx *evalContext) types.ExitDecision {
	long := ctx.position.Direction != types.DirectionShort
	mult := ctx.policy.StopLossATR(long)

	var stop float64
	if long {
		stop = ctx.position.EntryPrice - mult*ctx.atr
	} else {
		stop = ctx.position.EntryPrice + mult*ctx.atr
	}

	if ctx.policy.BreakevenActivationATR > 0 &&
		ctx.position.FavorableExcursion() >= ctx.policy.BreakevenActivationATR*ctx.atr {
		if long {
			stop = max(stop, ctx.position.EntryPrice)
		} else {
			stop = min(stop, ctx.position.EntryPrice)
		}
	}

	if (long && ctx.bar.Close <= stop) || (!long && ctx.bar.Close >= stop) {
		return types.Exit(types.ExitReasonStopLoss, stop, false)
	}

	return types.Hold()
}

// evalTakeProfit exits on the oscillator condition when configured, with
// the fixed ATR target as the secondary cap. The oscillator exit only
// fires while the position is profitable, so a momentum fade can never
// turn into a realized loss through this rule.
func (e *Engine) evalTakeProfit(ctx *evalContext) types.ExitDecision {
	long := ctx.position.Direction != types.DirectionShort

	if ctx.policy.UseOscillatorExit && ctx.hasOsc {
		profitable := (long && ctx.bar.Close > ctx.position.EntryPrice) ||
			(!long && ctx.bar.Close < ctx.position.EntryPrice)
		faded := (long && ctx.oscillator <= ctx.policy.OscillatorNeutral) ||
			(!long && ctx.oscillator >= ctx.policy.OscillatorNeutral)

		if profitable && faded {
			return types.Exit(types.ExitReasonTakeProfit, ctx.bar.Close, false)
		}
	}

	if ctx.policy.TakeProfitATR > 0 {
		var target float64
		if long {
			target = ctx.position.EntryPrice + ctx.policy.TakeProfitATR*ctx.atr
		} else {
			target = ctx.position.EntryPrice - ctx.policy.TakeProfitATR*ctx.atr
		}

		if (long && ctx.bar.Close >= target) || (!long && ctx.bar.Close <= target) {
			return types.Exit(types.ExitReasonTakeProfit, target, false)
		}
	}

	return types.Hold()
}

// evalTrailingStop trails the best price since entry once the favorable
// excursion reaches the activation multiple. The trail level is floored
// (capped for shorts) at entry, so an active trail can never realize a loss.
func (e *Engine) evalTrailingStop(ctx *evalContext) types.ExitDecision {
	if !ctx.policy.TrailingEnabled {
		return types.Hold()
	}

	if ctx.position.FavorableExcursion() < ctx.policy.TrailingActivationATR*ctx.atr {
		return types.Hold()
	}

	long := ctx.position.Direction != types.DirectionShort

	var trail float64
	if long {
		trail = ctx.position.HighestPrice - ctx.policy.TrailingDistanceATR*ctx.atr
		trail = max(trail, ctx.position.EntryPrice)

		if ctx.bar.Close <= trail {
			return types.Exit(types.ExitReasonTrailingStop, trail, false)
		}
	} else {
		trail = ctx.position.LowestPrice + ctx.policy.TrailingDistanceATR*ctx.atr
		trail = min(trail, ctx.position.EntryPrice)

		if ctx.bar.Close >= trail {
			return types.Exit(types.ExitReasonTrailingStop, trail, false)
		}
	}

	return types.Hold()
}

// evalTimeLimit exits once bars-held reaches the strategy's maximum hold.
func (e *Engine) evalTimeLimit(ctx *evalContext) types.ExitDecision {
	if ctx.position.BarsHeld >= ctx.policy.MaxHoldDays {
		return types.Exit(types.ExitReasonTimeLimit, ctx.bar.Close, false)
	}

	return types.Hold()
}

func (e *Engine) tradingDate(t time.Time) time.Time {
	local := t.In(e.loc)

	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, e.loc)
}

// resolveATR picks the freshly computed ATR when available and positive,
// falls back to the entry-time ATR, and floors at 1.0 when both are unusable.
func resolveATR(indicators map[string]float64, position *types.HeldPosition) float64 {
	if atr, ok := indicators[indicator.NameATR]; ok && atr > 0 {
		return atr
	}

	if position.EntryATR > 0 {
		return position.EntryATR
	}

	return 1.0
}
