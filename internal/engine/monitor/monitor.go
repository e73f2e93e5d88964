// Package monitor supervises held positions over a streamed bar feed.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantrail/quantrail-trading/internal/broker"
	"github.com/quantrail/quantrail-trading/internal/engine/aggregate"
	"github.com/quantrail/quantrail-trading/internal/engine/exit"
	"github.com/quantrail/quantrail-trading/internal/engine/order"
	"github.com/quantrail/quantrail-trading/internal/indicator"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/types"
	"go.uber.org/zap"
)

// ExitCallback is invoked after every successful exit. Callback failures
// are isolated and never interrupt the exit pipeline.
type ExitCallback func(symbol string, reason types.ExitReason, fillPrice, realizedPnL float64)

// Config holds monitor limits and reconnection policy.
type Config struct {
	// Capacity is the maximum number of tracked positions.
	Capacity int
	// HistorySize bounds the per-symbol daily bar history buffer.
	HistorySize int
	// ReconnectMaxAttempts bounds stream reconnection attempts.
	ReconnectMaxAttempts int
	// ReconnectBaseDelay is the initial reconnect delay; it doubles per
	// attempt.
	ReconnectBaseDelay time.Duration
	// Location is the trading-calendar timezone.
	Location *time.Location
}

// Monitor owns the tracked position set, one daily aggregator and one
// bounded history buffer per symbol, and the stream subscription lifecycle.
// One mutex serializes every mutation of the tracked state; the bar handler
// runs on the stream goroutine.
type Monitor struct {
	log        *logger.Logger
	gateway    broker.Gateway
	orders     *order.Manager
	exits      *exit.Engine
	indicators *indicator.Registry
	cfg        Config

	mu         sync.Mutex
	positions  map[string]*types.HeldPosition
	aggregator *aggregate.DailyBarAggregator
	history    map[string][]types.Bar
	callbacks  []ExitCallback
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	loopCtx    context.Context

	resub     chan struct{}
	suspended atomic.Bool
	barSeen   atomic.Bool
}

// NewMonitor creates a position monitor.
func NewMonitor(log *logger.Logger, gateway broker.Gateway, orders *order.Manager, exits *exit.Engine, indicators *indicator.Registry, cfg Config) *Monitor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &Monitor{
		log:        log,
		gateway:    gateway,
		orders:     orders,
		exits:      exits,
		indicators: indicators,
		cfg:        cfg,
		mu:         sync.Mutex{},
		positions:  make(map[string]*types.HeldPosition),
		aggregator: aggregate.New(cfg.Location),
		history:    make(map[string][]types.Bar),
		callbacks:  nil,
		running:    false,
		cancel:     nil,
		done:       nil,
		loopCtx:    nil,
		resub:      make(chan struct{}, 1),
		suspended:  atomic.Bool{},
		barSeen:    atomic.Bool{},
	}
}

// RegisterExitCallback adds an observer invoked after every successful exit.
func (m *Monitor) RegisterExitCallback(cb ExitCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callbacks = append(m.callbacks, cb)
}

// AddPosition starts tracking a position. Adding a duplicate symbol or
// exceeding capacity is a logged no-op returning false. When the monitor is
// running, the stream is resubscribed with the updated symbol set.
func (m *Monitor) AddPosition(p *types.HeldPosition) bool {
	m.mu.Lock()

	if _, exists := m.positions[p.Symbol]; exists {
		m.mu.Unlock()
		m.log.Warn("Position already tracked for symbol",
			zap.String("symbol", p.Symbol),
		)

		return false
	}

	if len(m.positions) >= m.cfg.Capacity {
		m.mu.Unlock()
		m.log.Warn("Monitor capacity reached, position not tracked",
			zap.String("symbol", p.Symbol),
			zap.Int("capacity", m.cfg.Capacity),
		)

		return false
	}

	m.positions[p.Symbol] = p
	running := m.running
	m.mu.Unlock()

	if running {
		m.requestResubscribe()
	}

	return true
}

// RemovePosition stops tracking a symbol.
func (m *Monitor) RemovePosition(symbol string) bool {
	m.mu.Lock()

	_, exists := m.positions[symbol]
	if exists {
		delete(m.positions, symbol)
	}

	running := m.running
	m.mu.Unlock()

	if exists && running {
		m.requestResubscribe()
	}

	return exists
}

// GetPosition returns a copy of the tracked position for a symbol.
func (m *Monitor) GetPosition(symbol string) (types.HeldPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.positions[symbol]
	if !ok {
		return types.HeldPosition{}, false
	}

	return *p, true
}

// TrackedSymbols returns the currently tracked symbols.
func (m *Monitor) TrackedSymbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	symbols := make([]string, 0, len(m.positions))
	for symbol := range m.positions {
		symbols = append(symbols, symbol)
	}

	return symbols
}

// TrackedCount returns the number of tracked positions.
func (m *Monitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.positions)
}

// Suspended reports whether the stream was permanently suspended after
// exhausting reconnection attempts. A suspended monitor requires a manual
// Stop/Start cycle.
func (m *Monitor) Suspended() bool {
	return m.suspended.Load()
}

// Start launches the supervised stream loop. With no tracked symbols the
// loop idles until a position is added.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	m.loopCtx = loopCtx
	m.cancel = cancel
	m.done = make(chan struct{})
	m.running = true
	m.suspended.Store(false)

	go m.streamLoop(loopCtx)
}

// Stop cancels the stream loop and waits for it to finish. No bar callbacks
// fire after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()

	if !m.running {
		m.mu.Unlock()

		return
	}

	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// streamLoop subscribes for the tracked symbol set, resubscribes on
// symbol-set changes, and reconnects with exponential backoff on failure.
// Exceeding the attempt bound suspends the stream until manually restarted.
func (m *Monitor) streamLoop(ctx context.Context) {
	defer close(m.done)

	attempt := 0

	for {
		symbols := m.TrackedSymbols()

		if len(symbols) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-m.resub:
				continue
			}
		}

		subCtx, subCancel := context.WithCancel(ctx)
		errCh := make(chan error, 1)

		m.barSeen.Store(false)

		go func() {
			errCh <- m.gateway.SubscribeBars(subCtx, symbols, m.handleBar)
		}()

		select {
		case <-ctx.Done():
			subCancel()
			<-errCh

			return
		case <-m.resub:
			subCancel()
			<-errCh

			attempt = 0

			continue
		case err := <-errCh:
			subCancel()

			if err == nil {
				if ctx.Err() != nil {
					return
				}

				continue
			}

			// A stream that delivered data before failing starts a
			// fresh backoff sequence.
			if m.barSeen.Load() {
				attempt = 0
			}

			attempt++
			if attempt > m.cfg.ReconnectMaxAttempts {
				m.suspended.Store(true)
				m.log.Error("Stream reconnection attempts exhausted, monitor suspended",
					zap.Int("attempts", m.cfg.ReconnectMaxAttempts),
					zap.Error(err),
				)

				return
			}

			delay := m.cfg.ReconnectBaseDelay << (attempt - 1)
			m.log.Warn("Stream subscription failed, reconnecting",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return
			case <-m.resub:
				attempt = 0
			case <-time.After(delay):
			}
		}
	}
}

// handleBar processes one delivered bar. Minute bars update price extremes
// and feed the aggregator; only a completed daily bar triggers rule
// evaluation.
func (m *Monitor) handleBar(bar types.Bar) {
	m.barSeen.Store(true)

	m.mu.Lock()

	position, tracked := m.positions[bar.Symbol]
	if !tracked {
		m.mu.Unlock()

		return
	}

	position.UpdateExtremes(bar.High, bar.Low)

	daily := bar
	completed := bar.IsDaily

	if !bar.IsDaily {
		daily, completed = m.aggregator.Add(bar)
	}

	if !completed {
		m.mu.Unlock()

		return
	}

	history := append(m.history[bar.Symbol], daily)
	if len(history) > m.cfg.HistorySize {
		history = history[len(history)-m.cfg.HistorySize:]
	}

	m.history[bar.Symbol] = history

	// Bars-held increments exactly once per completed daily bar.
	position.BarsHeld++

	snapshot := m.indicators.Snapshot(history)

	decision, err := m.exits.Evaluate(position, daily, snapshot)
	if err != nil {
		m.mu.Unlock()
		m.log.Warn("Exit evaluation failed",
			zap.String("symbol", bar.Symbol),
			zap.Error(err),
		)

		return
	}

	if decision.Action != types.ExitActionExit {
		m.mu.Unlock()

		return
	}

	snapshotPos := *position
	m.mu.Unlock()

	m.executeExit(snapshotPos, daily, decision)
}

// executeExit drives the exit pipeline: submit the closing order, compute
// realized PnL, record the re-entry block, untrack the position, notify
// observers, and resubscribe with the reduced symbol set.
func (m *Monitor) executeExit(position types.HeldPosition, daily types.Bar, decision types.ExitDecision) {
	ctx := m.loopCtx
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := m.orders.SubmitExit(ctx, position.Symbol, position.Direction.ExitSide(), position.Quantity, types.OrderTypeMarket, nil)
	if err != nil {
		m.log.Warn("Exit order rejected",
			zap.String("symbol", position.Symbol),
			zap.Error(err),
		)

		return
	}

	if result == nil {
		// Retries exhausted: treat as no fill, re-evaluate next bar.
		m.log.Warn("Exit order not filled this cycle",
			zap.String("symbol", position.Symbol),
			zap.String("reason", string(decision.Reason)),
		)

		return
	}

	fillPrice := result.FilledPrice
	if fillPrice <= 0 {
		fillPrice = daily.Close
	}

	realized := m.orders.CalculatePnL(position.EntryPrice, fillPrice, position.Quantity, position.Direction)

	m.exits.RecordClose(position.Symbol)

	m.mu.Lock()
	delete(m.positions, position.Symbol)
	callbacks := make([]ExitCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	m.log.Info("Position closed",
		zap.String("symbol", position.Symbol),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("fill_price", fillPrice),
		zap.Float64("realized_pnl", realized),
		zap.Bool("emergency", decision.Emergency),
	)

	for _, cb := range callbacks {
		m.invokeCallback(cb, position.Symbol, decision.Reason, fillPrice, realized)
	}

	m.requestResubscribe()
}

// invokeCallback isolates one observer; a panic is logged and never aborts
// the remaining callbacks.
func (m *Monitor) invokeCallback(cb ExitCallback, symbol string, reason types.ExitReason, fillPrice, realized float64) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("Exit callback panicked",
				zap.String("symbol", symbol),
				zap.Any("panic", r),
			)
		}
	}()

	cb(symbol, reason, fillPrice, realized)
}

// FlushDailyBars force-completes every in-progress aggregation bucket, for
// session teardown.
func (m *Monitor) FlushDailyBars() []types.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.aggregator.FlushAll()
}

func (m *Monitor) requestResubscribe() {
	select {
	case m.resub <- struct{}{}:
	default:
	}
}
