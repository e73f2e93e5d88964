package broker

import (
	"context"

	"github.com/quantrail/quantrail-trading/internal/types"
)

// BarHandler receives streamed bars. Handlers run on the stream goroutine
// and must not block indefinitely.
type BarHandler func(bar types.Bar)

// Gateway is the broker capability set consumed by the engine. The wire
// protocol and authentication behind it are opaque to the engine.
type Gateway interface {
	// Connect establishes the gateway session.
	Connect(ctx context.Context) error
	// Disconnect tears down the gateway session.
	Disconnect() error
	// SubmitOrder submits a single order and returns the gateway response.
	SubmitOrder(ctx context.Context, req types.OrderRequest) (types.OrderResult, error)
	// CancelOrder cancels an order by id. Returns true when the order was
	// cancelled, false when it was already terminal.
	CancelOrder(ctx context.Context, orderID string) (bool, error)
	// GetPositions returns the current broker-side positions.
	GetPositions(ctx context.Context) ([]types.BrokerPosition, error)
	// GetAccount returns the current account state.
	GetAccount(ctx context.Context) (types.AccountInfo, error)
	// SubscribeBars streams bars for the given symbols to the handler.
	// It blocks until the stream ends or the context is cancelled; a
	// non-nil return signals a disconnect the caller may retry.
	SubscribeBars(ctx context.Context, symbols []string, handler BarHandler) error
}
