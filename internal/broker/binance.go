package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/quantrail/quantrail-trading/internal/types"
	"github.com/quantrail/quantrail-trading/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	// binanceDecimalPrecision is a default decimal precision used as a
	// fallback. Production systems should use symbol-specific precision
	// from Binance exchange info (LOT_SIZE, PRICE_FILTER).
	binanceDecimalPrecision = 8
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	StopPrice(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// BinanceAPI abstracts the Binance client for testing.
type BinanceAPI interface {
	NewCreateOrderService() CreateOrderService
	NewCancelOrderService() CancelOrderService
	NewGetAccountService() GetAccountService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) StopPrice(price string) CreateOrderService {
	s.service = s.service.StopPrice(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

// BinanceGatewayConfig holds Binance gateway credentials.
type BinanceGatewayConfig struct {
	ApiKey    string `yaml:"api_key" json:"api_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	BaseURL   string `yaml:"base_url" json:"base_url"`
	// Interval is the kline interval subscribed for streaming, e.g. "1m".
	Interval string `yaml:"interval" json:"interval"`
}

// BinanceGateway implements Gateway against the Binance spot API.
type BinanceGateway struct {
	client           BinanceAPI
	interval         string
	decimalPrecision int

	mu           sync.Mutex
	orderSymbols map[string]string // orderID -> symbol, needed for cancels
}

// NewBinanceGateway creates a gateway connected to Binance.
// If useTestnet is true, connects to the Binance testnet; a configured
// BaseURL takes precedence.
func NewBinanceGateway(config BinanceGatewayConfig, useTestnet bool) *BinanceGateway {
	if useTestnet {
		binance.UseTestnet = true
	}

	client := binance.NewClient(config.ApiKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	interval := config.Interval
	if interval == "" {
		interval = "1m"
	}

	return &BinanceGateway{
		client:           &realBinanceClient{client: client},
		interval:         interval,
		decimalPrecision: binanceDecimalPrecision,
		mu:               sync.Mutex{},
		orderSymbols:     make(map[string]string),
	}
}

// newBinanceGatewayWithClient creates a gateway with a custom API client,
// for tests.
func newBinanceGatewayWithClient(client BinanceAPI, interval string) *BinanceGateway {
	return &BinanceGateway{
		client:           client,
		interval:         interval,
		decimalPrecision: binanceDecimalPrecision,
		mu:               sync.Mutex{},
		orderSymbols:     make(map[string]string),
	}
}

// Connect implements Gateway. The Binance REST client is connectionless.
func (g *BinanceGateway) Connect(_ context.Context) error {
	return nil
}

// Disconnect implements Gateway.
func (g *BinanceGateway) Disconnect() error {
	return nil
}

// SubmitOrder implements Gateway.
func (g *BinanceGateway) SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error) {
	var side binance.SideType

	switch req.Side {
	case types.SideBuy:
		side = binance.SideTypeBuy
	case types.SideSell:
		side = binance.SideTypeSell
	default:
		return types.OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order side: %s", req.Side)
	}

	service := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Quantity(g.formatDecimal(req.Quantity))

	switch req.OrderType {
	case types.OrderTypeMarket:
		service = service.Type(binance.OrderTypeMarket)
	case types.OrderTypeLimit:
		service = service.
			Type(binance.OrderTypeLimit).
			Price(g.formatDecimal(req.LimitPrice.TakeOr(0))).
			TimeInForce(binance.TimeInForceTypeGTC)
	case types.OrderTypeStop:
		service = service.
			Type(binance.OrderTypeStopLossLimit).
			StopPrice(g.formatDecimal(req.StopPrice)).
			Price(g.formatDecimal(req.StopPrice)).
			TimeInForce(binance.TimeInForceTypeGTC)
	default:
		return types.OrderResult{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order type: %s", req.OrderType)
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return types.OrderResult{}, errors.Wrap(errors.ErrCodeOrderSubmitFailed, "binance order submission failed", err)
	}

	orderID := strconv.FormatInt(resp.OrderID, 10)

	g.mu.Lock()
	g.orderSymbols[orderID] = req.Symbol
	g.mu.Unlock()

	result := types.OrderResult{
		OrderID:     orderID,
		Status:      mapBinanceStatus(resp.Status),
		FilledQty:   parseFloat(resp.ExecutedQuantity),
		FilledPrice: averageFillPrice(resp),
	}

	return result, nil
}

// CancelOrder implements Gateway.
func (g *BinanceGateway) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	g.mu.Lock()
	symbol, ok := g.orderSymbols[orderID]
	g.mu.Unlock()

	if !ok {
		return false, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not tracked by gateway", orderID)
	}

	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return false, errors.Wrapf(errors.ErrCodeInvalidParameter, err, "invalid binance order id %s", orderID)
	}

	resp, err := g.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
	if err != nil {
		return false, errors.Wrap(errors.ErrCodeOrderCancelFailed, "binance order cancel failed", err)
	}

	return resp.Status == binance.OrderStatusTypeCanceled, nil
}

// GetPositions implements Gateway. Spot positions are derived from non-zero
// asset balances.
func (g *BinanceGateway) GetPositions(ctx context.Context) ([]types.BrokerPosition, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeAccountFetchFailed, "failed to fetch binance account", err)
	}

	positions := make([]types.BrokerPosition, 0)

	for _, balance := range account.Balances {
		free := parseFloat(balance.Free)
		locked := parseFloat(balance.Locked)

		qty := free + locked
		if qty <= 0 || balance.Asset == "USDT" {
			continue
		}

		positions = append(positions, types.BrokerPosition{
			Symbol:        balance.Asset + "USDT",
			Direction:     types.DirectionLong,
			Quantity:      qty,
			AvgEntryPrice: 0, // not reported by the spot account endpoint
		})
	}

	return positions, nil
}

// GetAccount implements Gateway.
func (g *BinanceGateway) GetAccount(ctx context.Context) (types.AccountInfo, error) {
	account, err := g.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.AccountInfo{}, errors.Wrap(errors.ErrCodeAccountFetchFailed, "failed to fetch binance account", err)
	}

	var balance float64

	for _, b := range account.Balances {
		if b.Asset == "USDT" {
			balance = parseFloat(b.Free) + parseFloat(b.Locked)

			break
		}
	}

	return types.AccountInfo{
		Balance:       balance,
		Equity:        balance,
		BuyingPower:   balance,
		RealizedPnL:   0,
		UnrealizedPnL: 0,
	}, nil
}

// SubscribeBars implements Gateway using the Binance combined kline stream.
// Only finalized klines are delivered to the handler.
func (g *BinanceGateway) SubscribeBars(ctx context.Context, symbols []string, handler BarHandler) error {
	pairs := make(map[string]string, len(symbols))
	for _, symbol := range symbols {
		pairs[symbol] = g.interval
	}

	streamErr := make(chan error, 1)

	klineHandler := func(event *binance.WsKlineEvent) {
		if event == nil || !event.Kline.IsFinal {
			return
		}

		handler(types.Bar{
			Symbol:  event.Symbol,
			Time:    time.UnixMilli(event.Kline.EndTime),
			Open:    parseFloat(event.Kline.Open),
			High:    parseFloat(event.Kline.High),
			Low:     parseFloat(event.Kline.Low),
			Close:   parseFloat(event.Kline.Close),
			Volume:  parseFloat(event.Kline.Volume),
			IsDaily: g.interval == "1d",
		})
	}

	errHandler := func(err error) {
		select {
		case streamErr <- err:
		default:
		}
	}

	doneC, stopC, err := binance.WsCombinedKlineServe(pairs, klineHandler, errHandler)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStreamSubscribeFailed, "failed to open binance kline stream", err)
	}

	select {
	case <-ctx.Done():
		close(stopC)
		<-doneC

		return nil
	case err := <-streamErr:
		close(stopC)
		<-doneC

		return errors.Wrap(errors.ErrCodeStreamSubscribeFailed, "binance kline stream error", err)
	case <-doneC:
		return errors.New(errors.ErrCodeStreamSubscribeFailed, "binance kline stream closed")
	}
}

func (g *BinanceGateway) formatDecimal(value float64) string {
	return decimal.NewFromFloat(value).Round(int32(g.decimalPrecision)).String()
}

func parseFloat(value string) float64 {
	f, _ := strconv.ParseFloat(value, 64)

	return f
}

// averageFillPrice derives the average executed price from the response
// fills, falling back to the cumulative quote quantity.
func averageFillPrice(resp *binance.CreateOrderResponse) float64 {
	executed := parseFloat(resp.ExecutedQuantity)
	if executed <= 0 {
		return 0
	}

	quote := parseFloat(resp.CummulativeQuoteQuantity)
	if quote > 0 {
		return quote / executed
	}

	var qty, notional float64

	for _, fill := range resp.Fills {
		fillQty := parseFloat(fill.Quantity)
		qty += fillQty
		notional += fillQty * parseFloat(fill.Price)
	}

	if qty <= 0 {
		return 0
	}

	return notional / qty
}

// mapBinanceStatus converts a Binance order status to the gateway status set.
func mapBinanceStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusPartiallyFilled
	case binance.OrderStatusTypeNew:
		return types.OrderStatusAccepted
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	default:
		return types.OrderStatusRejected
	}
}

// Verify BinanceGateway implements the Gateway interface.
var _ Gateway = (*BinanceGateway)(nil)
