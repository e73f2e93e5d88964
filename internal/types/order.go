package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/quantrail/quantrail-trading/pkg/errors"
)

type Direction string

type Side string

type OrderType string

type OrderStatus string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeStop   OrderType = "STOP"
)

const (
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// EntrySide returns the opening side for a direction.
func (d Direction) EntrySide() Side {
	if d == DirectionShort {
		return SideSell
	}

	return SideBuy
}

// ExitSide returns the closing side for a direction.
func (d Direction) ExitSide() Side {
	if d == DirectionShort {
		return SideBuy
	}

	return SideSell
}

// IsTerminal reports whether the status is a final gateway response.
// A terminal response ends the submission retry loop.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusPartiallyFilled, OrderStatusAccepted, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// HasFill reports whether the status carries an executed quantity.
func (s OrderStatus) HasFill() bool {
	return s == OrderStatusFilled || s == OrderStatusPartiallyFilled
}

// OrderRequest is a single order submission sent to the broker gateway.
type OrderRequest struct {
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" validate:"required,uuid"`
	Symbol        string    `yaml:"symbol" json:"symbol" validate:"required"`
	Side          Side      `yaml:"side" json:"side" validate:"required,oneof=BUY SELL"`
	OrderType     OrderType `yaml:"order_type" json:"order_type" validate:"required,oneof=MARKET LIMIT STOP"`
	Quantity      float64   `yaml:"quantity" json:"quantity" validate:"required,gt=0"`
	// LimitPrice is required for LIMIT orders. Can be None for market orders.
	LimitPrice optional.Option[float64] `yaml:"limit_price" json:"limit_price"`
	// StopPrice is the trigger price for STOP orders.
	StopPrice float64 `yaml:"stop_price" json:"stop_price" validate:"gte=0"`
	// TimeInForce is the gateway time-in-force flag, e.g. "GTC" or "DAY".
	TimeInForce string `yaml:"time_in_force" json:"time_in_force"`
}

// Validate validates the OrderRequest struct.
func (r *OrderRequest) Validate() error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrderRequest, "invalid order request", err)
	}

	if r.OrderType == OrderTypeStop && r.StopPrice <= 0 {
		return errors.New(errors.ErrCodeInvalidPrice, "stop order requires a positive stop price")
	}

	if r.OrderType == OrderTypeLimit && r.LimitPrice.IsNone() {
		return errors.New(errors.ErrCodeInvalidPrice, "limit order requires a limit price")
	}

	return nil
}

// OrderResult is the gateway response for a submitted order.
type OrderResult struct {
	OrderID     string      `yaml:"order_id" json:"order_id"`
	Status      OrderStatus `yaml:"status" json:"status"`
	FilledQty   float64     `yaml:"filled_qty" json:"filled_qty"`
	FilledPrice float64     `yaml:"filled_price" json:"filled_price"`
}

// ActiveOrder tracks a broker order from submission until exit or final cancel.
type ActiveOrder struct {
	OrderID     string      `yaml:"order_id" json:"order_id"`
	Symbol      string      `yaml:"symbol" json:"symbol"`
	Side        Side        `yaml:"side" json:"side"`
	Quantity    float64     `yaml:"quantity" json:"quantity"`
	SubmittedAt time.Time   `yaml:"submitted_at" json:"submitted_at"`
	Status      OrderStatus `yaml:"status" json:"status"`
	FilledQty   float64     `yaml:"filled_qty" json:"filled_qty"`
	FilledPrice float64     `yaml:"filled_price" json:"filled_price"`
	// StopOrderID links the protective stop submitted for this entry.
	StopOrderID string `yaml:"stop_order_id" json:"stop_order_id"`
}
