package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperRequest(symbol string, side types.Side, orderType types.OrderType, qty float64) types.OrderRequest {
	return types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        symbol,
		Side:          side,
		OrderType:     orderType,
		Quantity:      qty,
		TimeInForce:   "DAY",
	}
}

func TestPaperMarketOrderFillsAtMark(t *testing.T) {
	g := NewPaperGateway(100000)
	g.SetMarkPrice("AAPL", 100)

	result, err := g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, 10.0, result.FilledQty)
	assert.Equal(t, 100.0, result.FilledPrice)

	positions, err := g.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, types.DirectionLong, positions[0].Direction)
	assert.Equal(t, 10.0, positions[0].Quantity)

	account, err := g.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 99000.0, account.Balance)
}

func TestPaperStopOrderRestsAccepted(t *testing.T) {
	g := NewPaperGateway(100000)

	req := paperRequest("AAPL", types.SideSell, types.OrderTypeStop, 10)
	req.StopPrice = 96

	result, err := g.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusAccepted, result.Status)
	assert.Zero(t, result.FilledQty)

	cancelled, err := g.CancelOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// A second cancel is a no-op, not an error.
	cancelled, err = g.CancelOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestPaperCancelUnknownOrder(t *testing.T) {
	g := NewPaperGateway(100000)

	_, err := g.CancelOrder(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func TestPaperCloseRemovesPosition(t *testing.T) {
	g := NewPaperGateway(100000)
	g.SetMarkPrice("AAPL", 100)

	_, err := g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)

	g.SetMarkPrice("AAPL", 110)

	_, err = g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideSell, types.OrderTypeMarket, 10))
	require.NoError(t, err)

	positions, err := g.GetPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, positions)

	account, err := g.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 100100.0, account.Balance, "10 shares bought at 100, sold at 110")
}

func TestPaperUnrealizedPnLInEquity(t *testing.T) {
	g := NewPaperGateway(100000)
	g.SetMarkPrice("AAPL", 100)

	_, err := g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)

	g.SetMarkPrice("AAPL", 105)

	account, err := g.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50.0, account.UnrealizedPnL)
	assert.Equal(t, account.Balance+50, account.Equity)
}

func TestPaperFailAndRejectToggles(t *testing.T) {
	g := NewPaperGateway(100000)
	g.FailSubmits = true

	_, err := g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeGatewayUnavailable))

	g.FailSubmits = false
	g.RejectSubmits = true

	result, err := g.SubmitOrder(context.Background(), paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10))
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusRejected, result.Status)
}

func TestPaperLimitFallbackPriceForMarketOrder(t *testing.T) {
	g := NewPaperGateway(100000)

	// No mark price set: the limit price, when present, seeds the fill.
	req := paperRequest("AAPL", types.SideBuy, types.OrderTypeMarket, 10)
	req.LimitPrice = optional.Some(99.5)

	result, err := g.SubmitOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 99.5, result.FilledPrice)
}

func TestPaperSubscribeBarsFiltersSymbols(t *testing.T) {
	g := NewPaperGateway(100000)

	ctx, cancel := context.WithCancel(context.Background())

	var (
		mu       sync.Mutex
		received []string
	)

	done := make(chan error, 1)

	go func() {
		done <- g.SubscribeBars(ctx, []string{"AAPL"}, func(bar types.Bar) {
			mu.Lock()
			defer mu.Unlock()

			received = append(received, bar.Symbol)
		})
	}()

	now := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

	require.Eventually(t, func() bool {
		g.PushBar(types.Bar{Symbol: "AAPL", Time: now, Close: 100})
		g.PushBar(types.Bar{Symbol: "MSFT", Time: now, Close: 400})

		mu.Lock()
		defer mu.Unlock()

		return len(received) > 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done, "cancellation is a clean stream end")

	mu.Lock()
	defer mu.Unlock()

	for _, symbol := range received {
		assert.Equal(t, "AAPL", symbol, "unsubscribed symbols are filtered out")
	}
}
