package broker

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

// PaperGateway is an in-memory gateway with instant fills at the last seen
// mark price. It backs paper-trading runs and tests.
type PaperGateway struct {
	mu sync.RWMutex

	balance   float64
	marks     map[string]float64
	positions map[string]*types.BrokerPosition
	orders    map[string]*types.OrderResult
	symbols   map[string]string // orderID -> symbol

	subscribers []chan types.Bar
	connected   bool

	// FailSubmits makes every SubmitOrder return an error, for tests.
	FailSubmits bool
	// RejectSubmits makes every SubmitOrder return a REJECTED result.
	RejectSubmits bool
}

// NewPaperGateway creates a paper gateway with the given starting balance.
func NewPaperGateway(initialBalance float64) *PaperGateway {
	return &PaperGateway{
		mu:            sync.RWMutex{},
		balance:       initialBalance,
		marks:         make(map[string]float64),
		positions:     make(map[string]*types.BrokerPosition),
		orders:        make(map[string]*types.OrderResult),
		symbols:       make(map[string]string),
		subscribers:   nil,
		connected:     false,
		FailSubmits:   false,
		RejectSubmits: false,
	}
}

// SetMarkPrice updates the fill price used for market orders on a symbol.
func (g *PaperGateway) SetMarkPrice(symbol string, price float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.marks[symbol] = price
}

// PushBar delivers a bar to every active subscriber and updates the mark.
func (g *PaperGateway) PushBar(bar types.Bar) {
	g.mu.Lock()
	g.marks[bar.Symbol] = bar.Close
	subs := make([]chan types.Bar, len(g.subscribers))
	copy(subs, g.subscribers)
	g.mu.Unlock()

	for _, ch := range subs {
		ch <- bar
	}
}

// Connect implements Gateway.
func (g *PaperGateway) Connect(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = true

	return nil
}

// Disconnect implements Gateway.
func (g *PaperGateway) Disconnect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.connected = false

	return nil
}

// SubmitOrder implements Gateway. Market orders fill instantly at the mark
// price; stop and limit orders rest as ACCEPTED.
func (g *PaperGateway) SubmitOrder(_ context.Context, req types.OrderRequest) (types.OrderResult, error) {
	if g.FailSubmits {
		return types.OrderResult{}, errors.New(errors.ErrCodeGatewayUnavailable, "paper gateway configured to fail submissions")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	orderID := uuid.New().String()

	if g.RejectSubmits {
		result := types.OrderResult{
			OrderID:     orderID,
			Status:      types.OrderStatusRejected,
			FilledQty:   0,
			FilledPrice: 0,
		}
		g.orders[orderID] = &result
		g.symbols[orderID] = req.Symbol

		return result, nil
	}

	result := types.OrderResult{
		OrderID:     orderID,
		Status:      types.OrderStatusAccepted,
		FilledQty:   0,
		FilledPrice: 0,
	}

	if req.OrderType == types.OrderTypeMarket {
		price := g.marks[req.Symbol]
		if price <= 0 {
			price = req.LimitPrice.TakeOr(0)
		}

		result.Status = types.OrderStatusFilled
		result.FilledQty = req.Quantity
		result.FilledPrice = price
		g.applyFill(req, price)
	}

	g.orders[orderID] = &result
	g.symbols[orderID] = req.Symbol

	return result, nil
}

// applyFill updates balance and positions for an instant fill.
// Caller holds the lock.
func (g *PaperGateway) applyFill(req types.OrderRequest, price float64) {
	pos, ok := g.positions[req.Symbol]
	if !ok {
		direction := types.DirectionLong
		if req.Side == types.SideSell {
			direction = types.DirectionShort
		}

		g.positions[req.Symbol] = &types.BrokerPosition{
			Symbol:        req.Symbol,
			Direction:     direction,
			Quantity:      req.Quantity,
			AvgEntryPrice: price,
		}

		if req.Side == types.SideBuy {
			g.balance -= price * req.Quantity
		} else {
			g.balance += price * req.Quantity
		}

		return
	}

	// Closing side reduces the existing position.
	if pos.Direction.ExitSide() == req.Side {
		pos.Quantity -= req.Quantity
		if pos.Direction == types.DirectionLong {
			g.balance += price * req.Quantity
		} else {
			g.balance -= price * req.Quantity
		}

		if pos.Quantity <= 0 {
			delete(g.positions, req.Symbol)
		}

		return
	}

	// Adding to an existing position.
	total := pos.Quantity + req.Quantity
	pos.AvgEntryPrice = (pos.AvgEntryPrice*pos.Quantity + price*req.Quantity) / total
	pos.Quantity = total

	if req.Side == types.SideBuy {
		g.balance -= price * req.Quantity
	} else {
		g.balance += price * req.Quantity
	}
}

// CancelOrder implements Gateway.
func (g *PaperGateway) CancelOrder(_ context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result, ok := g.orders[orderID]
	if !ok {
		return false, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	if result.Status == types.OrderStatusFilled || result.Status == types.OrderStatusCancelled {
		return false, nil
	}

	result.Status = types.OrderStatusCancelled

	return true, nil
}

// GetPositions implements Gateway.
func (g *PaperGateway) GetPositions(_ context.Context) ([]types.BrokerPosition, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	positions := make([]types.BrokerPosition, 0, len(g.positions))
	for _, pos := range g.positions {
		positions = append(positions, *pos)
	}

	return positions, nil
}

// GetAccount implements Gateway.
func (g *PaperGateway) GetAccount(_ context.Context) (types.AccountInfo, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var unrealized float64

	for symbol, pos := range g.positions {
		mark, ok := g.marks[symbol]
		if !ok {
			continue
		}

		if pos.Direction == types.DirectionShort {
			unrealized += (pos.AvgEntryPrice - mark) * pos.Quantity
		} else {
			unrealized += (mark - pos.AvgEntryPrice) * pos.Quantity
		}
	}

	return types.AccountInfo{
		Balance:       g.balance,
		Equity:        g.balance + unrealized,
		BuyingPower:   g.balance,
		RealizedPnL:   0,
		UnrealizedPnL: unrealized,
	}, nil
}

// SubscribeBars implements Gateway. Bars pushed via PushBar are delivered
// to the handler until the context is cancelled.
func (g *PaperGateway) SubscribeBars(ctx context.Context, symbols []string, handler BarHandler) error {
	wanted := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		wanted[s] = struct{}{}
	}

	ch := make(chan types.Bar, 64)

	g.mu.Lock()
	g.subscribers = append(g.subscribers, ch)
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		for i, sub := range g.subscribers {
			if sub == ch {
				g.subscribers = append(g.subscribers[:i], g.subscribers[i+1:]...)

				break
			}
		}
		g.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case bar := <-ch:
			if _, ok := wanted[bar.Symbol]; ok {
				handler(bar)
			}
		}
	}
}

// Verify PaperGateway implements the Gateway interface.
var _ Gateway = (*PaperGateway)(nil)
