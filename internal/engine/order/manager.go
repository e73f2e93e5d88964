// Package order submits entry, protective-stop, and exit orders against the
// broker gateway with bounded retries.
package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantrail/quantrail-trading/internal/broker"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RetryPolicy bounds submission retries. Delay grows linearly with the
// attempt number.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Manager tracks active orders and drives submission against the gateway.
// The active-order map is owned by the manager and guarded by one mutex.
type Manager struct {
	gateway broker.Gateway
	log     *logger.Logger
	retry   RetryPolicy

	mu     sync.Mutex
	active map[string]*types.ActiveOrder // keyed by broker order id
}

// NewManager creates an order manager.
func NewManager(gateway broker.Gateway, log *logger.Logger, retry RetryPolicy) *Manager {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}

	return &Manager{
		gateway: gateway,
		log:     log,
		retry:   retry,
		mu:      sync.Mutex{},
		active:  make(map[string]*types.ActiveOrder),
	}
}

// SubmitEntry submits an entry order. Non-positive quantities are rejected
// without contacting the gateway. Transient gateway errors are retried with
// linearly increasing delay; a nil result with nil error means all retries
// were exhausted and the caller must treat the cycle as no-fill.
func (m *Manager) SubmitEntry(ctx context.Context, symbol string, side types.Side, qty float64, orderType types.OrderType, limitPrice optional.Option[float64]) (*types.OrderResult, error) {
	req := types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		OrderType:     orderType,
		Quantity:      qty,
		LimitPrice:    limitPrice,
		StopPrice:     0,
		TimeInForce:   "DAY",
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := m.submitWithRetry(ctx, req)
	if result == nil {
		return nil, nil
	}

	m.track(req, result, "")

	return result, nil
}

// SubmitStopLoss submits a good-til-canceled protective stop. On success the
// new order id is linked to the parent entry's active order.
func (m *Manager) SubmitStopLoss(ctx context.Context, symbol string, side types.Side, qty, stopPrice float64, parentOrderID optional.Option[string]) (*types.OrderResult, error) {
	req := types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		OrderType:     types.OrderTypeStop,
		Quantity:      qty,
		LimitPrice:    nil,
		StopPrice:     stopPrice,
		TimeInForce:   "GTC",
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := m.submitWithRetry(ctx, req)
	if result == nil {
		return nil, nil
	}

	m.track(req, result, "")

	if parentOrderID.IsSome() {
		m.linkStop(parentOrderID.Unwrap(), result.OrderID)
	}

	return result, nil
}

// SubmitExit closes a position. Any still-open protective stop tracked for
// the symbol is cancelled first, preventing a double-close race. On success
// every active order for the symbol is evicted.
func (m *Manager) SubmitExit(ctx context.Context, symbol string, side types.Side, qty float64, orderType types.OrderType, limitPrice optional.Option[float64]) (*types.OrderResult, error) {
	m.cancelOpenStops(ctx, symbol)

	req := types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		OrderType:     orderType,
		Quantity:      qty,
		LimitPrice:    limitPrice,
		StopPrice:     0,
		TimeInForce:   "DAY",
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := m.submitWithRetry(ctx, req)
	if result == nil {
		return nil, nil
	}

	m.evictSymbol(symbol)

	return result, nil
}

// CancelOrder cancels an order through the gateway and updates the tracked
// status on success.
func (m *Manager) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	cancelled, err := m.gateway.CancelOrder(ctx, orderID)
	if err != nil {
		return false, err
	}

	if cancelled {
		m.mu.Lock()
		if tracked, ok := m.active[orderID]; ok {
			tracked.Status = types.OrderStatusCancelled
		}
		m.mu.Unlock()
	}

	return cancelled, nil
}

// CalculatePnL computes realized profit/loss for a closed position.
func (m *Manager) CalculatePnL(entryPrice, exitPrice, qty float64, direction types.Direction) float64 {
	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	quantity := decimal.NewFromFloat(qty)

	var pnl decimal.Decimal
	if direction == types.DirectionShort {
		pnl = entry.Sub(exit).Mul(quantity)
	} else {
		pnl = exit.Sub(entry).Mul(quantity)
	}

	result, _ := pnl.Float64()

	return result
}

// TrackedOrders returns copies of the active orders for a symbol.
func (m *Manager) TrackedOrders(symbol string) []types.ActiveOrder {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := make([]types.ActiveOrder, 0)

	for _, tracked := range m.active {
		if tracked.Symbol == symbol {
			orders = append(orders, *tracked)
		}
	}

	return orders
}

// submitWithRetry submits a request, retrying on gateway errors. Any
// terminal response ends the loop. Returns nil when retries are exhausted.
func (m *Manager) submitWithRetry(ctx context.Context, req types.OrderRequest) *types.OrderResult {
	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		result, err := m.gateway.SubmitOrder(ctx, req)
		if err == nil && result.Status.IsTerminal() {
			return &result
		}

		if err != nil {
			m.log.Warn("Order submission failed",
				zap.String("symbol", req.Symbol),
				zap.String("side", string(req.Side)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}

		if attempt == m.retry.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * m.retry.BaseDelay
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}

	m.log.Warn("Order submission retries exhausted",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.Int("attempts", m.retry.MaxAttempts),
	)

	return nil
}

// cancelOpenStops cancels every non-terminal stop order tracked for a symbol.
func (m *Manager) cancelOpenStops(ctx context.Context, symbol string) {
	m.mu.Lock()
	stopIDs := make(map[string]struct{})

	for _, tracked := range m.active {
		if tracked.Symbol != symbol {
			continue
		}

		if tracked.StopOrderID != "" {
			if stop, ok := m.active[tracked.StopOrderID]; ok && stop.Status == types.OrderStatusAccepted {
				stopIDs[tracked.StopOrderID] = struct{}{}
			}
		} else if tracked.Status == types.OrderStatusAccepted {
			// A stop tracked directly without a parent link.
			stopIDs[tracked.OrderID] = struct{}{}
		}
	}
	m.mu.Unlock()

	for id := range stopIDs {
		if _, err := m.CancelOrder(ctx, id); err != nil {
			m.log.Warn("Failed to cancel protective stop",
				zap.String("symbol", symbol),
				zap.String("order_id", id),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) track(req types.OrderRequest, result *types.OrderResult, stopOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[result.OrderID] = &types.ActiveOrder{
		OrderID:     result.OrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		SubmittedAt: time.Now(),
		Status:      result.Status,
		FilledQty:   result.FilledQty,
		FilledPrice: result.FilledPrice,
		StopOrderID: stopOrderID,
	}
}

func (m *Manager) linkStop(parentOrderID, stopOrderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if parent, ok := m.active[parentOrderID]; ok {
		parent.StopOrderID = stopOrderID
	}
}

func (m *Manager) evictSymbol(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, tracked := range m.active {
		if tracked.Symbol == symbol {
			delete(m.active, id)
		}
	}
}
