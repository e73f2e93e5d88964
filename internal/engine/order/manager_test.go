package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/quantrail/quantrail-trading/internal/broker"
	"github.com/quantrail/quantrail-trading/internal/logger"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedGateway replays a fixed sequence of submit responses and records
// every gateway call in order.
type scriptedGateway struct {
	mu        sync.Mutex
	responses []scriptedResponse
	calls     []string
	cancelled []string
}

type scriptedResponse struct {
	result types.OrderResult
	err    error
}

func (g *scriptedGateway) script(responses ...scriptedResponse) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.responses = append(g.responses, responses...)
}

func (g *scriptedGateway) callLog() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	log := make([]string, len(g.calls))
	copy(log, g.calls)

	return log
}

func (g *scriptedGateway) submitCount() int {
	count := 0

	for _, call := range g.callLog() {
		if call == "submit" {
			count++
		}
	}

	return count
}

func (g *scriptedGateway) Connect(_ context.Context) error { return nil }

func (g *scriptedGateway) Disconnect() error { return nil }

func (g *scriptedGateway) SubmitOrder(_ context.Context, _ types.OrderRequest) (types.OrderResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "submit")

	if len(g.responses) == 0 {
		return types.OrderResult{}, errors.New(errors.ErrCodeGatewayUnavailable, "no scripted response")
	}

	next := g.responses[0]
	g.responses = g.responses[1:]

	return next.result, next.err
}

func (g *scriptedGateway) CancelOrder(_ context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.calls = append(g.calls, "cancel:"+orderID)
	g.cancelled = append(g.cancelled, orderID)

	return true, nil
}

func (g *scriptedGateway) GetPositions(_ context.Context) ([]types.BrokerPosition, error) {
	return nil, nil
}

func (g *scriptedGateway) GetAccount(_ context.Context) (types.AccountInfo, error) {
	return types.AccountInfo{}, nil
}

func (g *scriptedGateway) SubscribeBars(ctx context.Context, _ []string, _ broker.BarHandler) error {
	<-ctx.Done()

	return nil
}

var _ broker.Gateway = (*scriptedGateway)(nil)

func newTestManager(gateway *scriptedGateway, maxAttempts int) *Manager {
	return NewManager(gateway, logger.NewNopLogger(), RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
	})
}

func filled(orderID string, qty, price float64) scriptedResponse {
	return scriptedResponse{
		result: types.OrderResult{
			OrderID:     orderID,
			Status:      types.OrderStatusFilled,
			FilledQty:   qty,
			FilledPrice: price,
		},
		err: nil,
	}
}

func accepted(orderID string) scriptedResponse {
	return scriptedResponse{
		result: types.OrderResult{OrderID: orderID, Status: types.OrderStatusAccepted},
		err:    nil,
	}
}

func transient() scriptedResponse {
	return scriptedResponse{
		result: types.OrderResult{},
		err:    errors.New(errors.ErrCodeGatewayUnavailable, "connection reset"),
	}
}

func TestSubmitEntryRejectsInvalidRequestWithoutGatewayCall(t *testing.T) {
	gateway := &scriptedGateway{}
	manager := newTestManager(gateway, 3)

	result, err := manager.SubmitEntry(context.Background(), "AAPL", types.SideBuy, 0, types.OrderTypeMarket, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidOrderRequest))
	assert.Zero(t, gateway.submitCount(), "validation failures must not reach the gateway")
}

func TestSubmitEntryRetriesTransientErrors(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(transient(), transient(), filled("entry-1", 10, 100.5))

	manager := newTestManager(gateway, 3)

	result, err := manager.SubmitEntry(context.Background(), "AAPL", types.SideBuy, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "entry-1", result.OrderID)
	assert.Equal(t, 100.5, result.FilledPrice)
	assert.Equal(t, 3, gateway.submitCount())
}

func TestSubmitEntryExhaustedRetriesMeansNoFill(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(transient(), transient())

	manager := newTestManager(gateway, 2)

	result, err := manager.SubmitEntry(context.Background(), "AAPL", types.SideBuy, 10, types.OrderTypeMarket, nil)
	assert.NoError(t, err, "exhausted retries are not an error, just no fill")
	assert.Nil(t, result)
	assert.Equal(t, 2, gateway.submitCount())
	assert.Empty(t, manager.TrackedOrders("AAPL"), "an unfilled entry is never tracked")
}

func TestSubmitStopLossRequiresPositiveStopPrice(t *testing.T) {
	gateway := &scriptedGateway{}
	manager := newTestManager(gateway, 3)

	result, err := manager.SubmitStopLoss(context.Background(), "AAPL", types.SideSell, 10, 0, nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidPrice))
	assert.Zero(t, gateway.submitCount())
}

func TestSubmitExitCancelsProtectiveStopFirst(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(
		filled("entry-1", 10, 100),
		accepted("stop-1"),
		filled("exit-1", 10, 96),
	)

	manager := newTestManager(gateway, 3)
	ctx := context.Background()

	entry, err := manager.SubmitEntry(ctx, "AAPL", types.SideBuy, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)
	require.NotNil(t, entry)

	stop, err := manager.SubmitStopLoss(ctx, "AAPL", types.SideSell, 10, 96, optional.Some(entry.OrderID))
	require.NoError(t, err)
	require.NotNil(t, stop)

	assert.Len(t, manager.TrackedOrders("AAPL"), 2)

	result, err := manager.SubmitExit(ctx, "AAPL", types.SideSell, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "exit-1", result.OrderID)

	assert.Equal(t, []string{"submit", "submit", "cancel:stop-1", "submit"}, gateway.callLog(),
		"the protective stop is cancelled before the exit order goes out")
	assert.Empty(t, manager.TrackedOrders("AAPL"), "exit evicts every tracked order for the symbol")
}

func TestSubmitExitCancelsStopExactlyOnce(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(
		filled("entry-1", 10, 100),
		accepted("stop-1"),
		filled("exit-1", 10, 96),
	)

	manager := newTestManager(gateway, 3)
	ctx := context.Background()

	entry, err := manager.SubmitEntry(ctx, "AAPL", types.SideBuy, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)

	_, err = manager.SubmitStopLoss(ctx, "AAPL", types.SideSell, 10, 96, optional.Some(entry.OrderID))
	require.NoError(t, err)

	_, err = manager.SubmitExit(ctx, "AAPL", types.SideSell, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"stop-1"}, gateway.cancelled)
}

func TestSubmitExitLeavesOtherSymbolsTracked(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(
		filled("entry-aapl", 10, 100),
		filled("entry-msft", 5, 400),
		filled("exit-aapl", 10, 96),
	)

	manager := newTestManager(gateway, 3)
	ctx := context.Background()

	_, err := manager.SubmitEntry(ctx, "AAPL", types.SideBuy, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)

	_, err = manager.SubmitEntry(ctx, "MSFT", types.SideBuy, 5, types.OrderTypeMarket, nil)
	require.NoError(t, err)

	_, err = manager.SubmitExit(ctx, "AAPL", types.SideSell, 10, types.OrderTypeMarket, nil)
	require.NoError(t, err)

	assert.Empty(t, manager.TrackedOrders("AAPL"))
	assert.Len(t, manager.TrackedOrders("MSFT"), 1)
}

func TestCancelOrderUpdatesTrackedStatus(t *testing.T) {
	gateway := &scriptedGateway{}
	gateway.script(accepted("stop-1"))

	manager := newTestManager(gateway, 3)
	ctx := context.Background()

	stop, err := manager.SubmitStopLoss(ctx, "AAPL", types.SideSell, 10, 96, nil)
	require.NoError(t, err)
	require.NotNil(t, stop)

	cancelled, err := manager.CancelOrder(ctx, stop.OrderID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	tracked := manager.TrackedOrders("AAPL")
	require.Len(t, tracked, 1)
	assert.Equal(t, types.OrderStatusCancelled, tracked[0].Status)
}

func TestCalculatePnL(t *testing.T) {
	manager := newTestManager(&scriptedGateway{}, 1)

	assert.Equal(t, 50.0, manager.CalculatePnL(100, 110, 5, types.DirectionLong))
	assert.Equal(t, -50.0, manager.CalculatePnL(100, 90, 5, types.DirectionLong))
	assert.Equal(t, 50.0, manager.CalculatePnL(100, 90, 5, types.DirectionShort))
	assert.Equal(t, -50.0, manager.CalculatePnL(100, 110, 5, types.DirectionShort))
}
