package broker

import (
	"context"
	"testing"

	binance "github.com/adshao/go-binance/v2"
	"github.com/google/uuid"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockCreateOrderService records the parameters of a fluent order build and
// returns a scripted response.
type mockCreateOrderService struct {
	symbol      string
	side        binance.SideType
	orderType   binance.OrderType
	quantity    string
	price       string
	stopPrice   string
	timeInForce binance.TimeInForceType

	resp *binance.CreateOrderResponse
	err  error
}

func (m *mockCreateOrderService) Symbol(symbol string) CreateOrderService {
	m.symbol = symbol

	return m
}

func (m *mockCreateOrderService) Side(side binance.SideType) CreateOrderService {
	m.side = side

	return m
}

func (m *mockCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	m.orderType = orderType

	return m
}

func (m *mockCreateOrderService) Quantity(quantity string) CreateOrderService {
	m.quantity = quantity

	return m
}

func (m *mockCreateOrderService) Price(price string) CreateOrderService {
	m.price = price

	return m
}

func (m *mockCreateOrderService) StopPrice(price string) CreateOrderService {
	m.stopPrice = price

	return m
}

func (m *mockCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	m.timeInForce = tif

	return m
}

func (m *mockCreateOrderService) Do(_ context.Context) (*binance.CreateOrderResponse, error) {
	return m.resp, m.err
}

type mockCancelOrderService struct {
	symbol  string
	orderID int64
	resp    *binance.CancelOrderResponse
	err     error
}

func (m *mockCancelOrderService) Symbol(symbol string) CancelOrderService {
	m.symbol = symbol

	return m
}

func (m *mockCancelOrderService) OrderID(orderID int64) CancelOrderService {
	m.orderID = orderID

	return m
}

func (m *mockCancelOrderService) Do(_ context.Context) (*binance.CancelOrderResponse, error) {
	return m.resp, m.err
}

type mockGetAccountService struct {
	account *binance.Account
	err     error
}

func (m *mockGetAccountService) Do(_ context.Context) (*binance.Account, error) {
	return m.account, m.err
}

type mockBinanceAPI struct {
	create  *mockCreateOrderService
	cancel  *mockCancelOrderService
	account *mockGetAccountService
}

func (m *mockBinanceAPI) NewCreateOrderService() CreateOrderService { return m.create }
func (m *mockBinanceAPI) NewCancelOrderService() CancelOrderService { return m.cancel }
func (m *mockBinanceAPI) NewGetAccountService() GetAccountService   { return m.account }

var _ BinanceAPI = (*mockBinanceAPI)(nil)

func binanceRequest(orderType types.OrderType) types.OrderRequest {
	return types.OrderRequest{
		ClientOrderID: uuid.New().String(),
		Symbol:        "BTCUSDT",
		Side:          types.SideBuy,
		OrderType:     orderType,
		Quantity:      0.5,
		TimeInForce:   "GTC",
	}
}

func TestBinanceSubmitMarketOrder(t *testing.T) {
	create := &mockCreateOrderService{
		resp: &binance.CreateOrderResponse{
			OrderID:                  12345,
			Status:                   binance.OrderStatusTypeFilled,
			ExecutedQuantity:         "0.5",
			CummulativeQuoteQuantity: "20000",
		},
	}

	g := newBinanceGatewayWithClient(&mockBinanceAPI{create: create}, "1m")

	result, err := g.SubmitOrder(context.Background(), binanceRequest(types.OrderTypeMarket))
	require.NoError(t, err)

	assert.Equal(t, "12345", result.OrderID)
	assert.Equal(t, types.OrderStatusFilled, result.Status)
	assert.Equal(t, 0.5, result.FilledQty)
	assert.Equal(t, 40000.0, result.FilledPrice, "average price from the cumulative quote quantity")

	assert.Equal(t, "BTCUSDT", create.symbol)
	assert.Equal(t, binance.SideTypeBuy, create.side)
	assert.Equal(t, binance.OrderTypeMarket, create.orderType)
	assert.Equal(t, "0.5", create.quantity)
}

func TestBinanceSubmitStopOrder(t *testing.T) {
	create := &mockCreateOrderService{
		resp: &binance.CreateOrderResponse{
			OrderID: 555,
			Status:  binance.OrderStatusTypeNew,
		},
	}

	g := newBinanceGatewayWithClient(&mockBinanceAPI{create: create}, "1m")

	req := binanceRequest(types.OrderTypeStop)
	req.Side = types.SideSell
	req.StopPrice = 38000

	result, err := g.SubmitOrder(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, types.OrderStatusAccepted, result.Status)
	assert.Equal(t, binance.OrderTypeStopLossLimit, create.orderType)
	assert.Equal(t, "38000", create.stopPrice)
	assert.Equal(t, binance.TimeInForceTypeGTC, create.timeInForce)
}

func TestBinanceFillPriceFromFills(t *testing.T) {
	create := &mockCreateOrderService{
		resp: &binance.CreateOrderResponse{
			OrderID:          777,
			Status:           binance.OrderStatusTypeFilled,
			ExecutedQuantity: "2",
			Fills: []*binance.Fill{
				{Price: "100", Quantity: "1"},
				{Price: "102", Quantity: "1"},
			},
		},
	}

	g := newBinanceGatewayWithClient(&mockBinanceAPI{create: create}, "1m")

	result, err := g.SubmitOrder(context.Background(), binanceRequest(types.OrderTypeMarket))
	require.NoError(t, err)
	assert.Equal(t, 101.0, result.FilledPrice)
}

func TestBinanceCancelOrder(t *testing.T) {
	create := &mockCreateOrderService{
		resp: &binance.CreateOrderResponse{
			OrderID: 12345,
			Status:  binance.OrderStatusTypeNew,
		},
	}
	cancel := &mockCancelOrderService{
		resp: &binance.CancelOrderResponse{Status: binance.OrderStatusTypeCanceled},
	}

	g := newBinanceGatewayWithClient(&mockBinanceAPI{create: create, cancel: cancel}, "1m")

	result, err := g.SubmitOrder(context.Background(), binanceRequest(types.OrderTypeMarket))
	require.NoError(t, err)

	cancelled, err := g.CancelOrder(context.Background(), result.OrderID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, "BTCUSDT", cancel.symbol, "cancel resolves the symbol recorded at submission")
	assert.Equal(t, int64(12345), cancel.orderID)
}

func TestBinanceCancelUntrackedOrder(t *testing.T) {
	g := newBinanceGatewayWithClient(&mockBinanceAPI{}, "1m")

	_, err := g.CancelOrder(context.Background(), "999")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

func TestBinanceGetAccount(t *testing.T) {
	account := &mockGetAccountService{
		account: &binance.Account{
			Balances: []binance.Balance{
				{Asset: "USDT", Free: "5000", Locked: "100"},
				{Asset: "BTC", Free: "0.5", Locked: "0"},
			},
		},
	}

	g := newBinanceGatewayWithClient(&mockBinanceAPI{account: account}, "1m")

	info, err := g.GetAccount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5100.0, info.Balance)

	positions, err := g.GetPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, "BTCUSDT", positions[0].Symbol)
	assert.Equal(t, 0.5, positions[0].Quantity)
}

func TestMapBinanceStatus(t *testing.T) {
	assert.Equal(t, types.OrderStatusFilled, mapBinanceStatus(binance.OrderStatusTypeFilled))
	assert.Equal(t, types.OrderStatusPartiallyFilled, mapBinanceStatus(binance.OrderStatusTypePartiallyFilled))
	assert.Equal(t, types.OrderStatusAccepted, mapBinanceStatus(binance.OrderStatusTypeNew))
	assert.Equal(t, types.OrderStatusCancelled, mapBinanceStatus(binance.OrderStatusTypeCanceled))
	assert.Equal(t, types.OrderStatusCancelled, mapBinanceStatus(binance.OrderStatusTypeExpired))
	assert.Equal(t, types.OrderStatusRejected, mapBinanceStatus(binance.OrderStatusTypeRejected))
}
