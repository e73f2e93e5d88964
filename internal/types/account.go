package types

// AccountInfo represents the current account state reported by the broker gateway.
type AccountInfo struct {
	// Balance is the current cash balance (excluding unrealized P&L)
	Balance float64 `json:"balance" yaml:"balance"`
	// Equity is the total account value (balance + unrealized P&L)
	Equity float64 `json:"equity" yaml:"equity"`
	// BuyingPower is the available amount for new purchases
	BuyingPower float64 `json:"buying_power" yaml:"buying_power"`
	// RealizedPnL is the total realized profit/loss from closed positions
	RealizedPnL float64 `json:"realized_pnl" yaml:"realized_pnl"`
	// UnrealizedPnL is the total unrealized profit/loss from open positions
	UnrealizedPnL float64 `json:"unrealized_pnl" yaml:"unrealized_pnl"`
}

// BrokerPosition is a holding as reported by the broker gateway.
type BrokerPosition struct {
	Symbol        string    `json:"symbol" yaml:"symbol"`
	Direction     Direction `json:"direction" yaml:"direction"`
	Quantity      float64   `json:"quantity" yaml:"quantity"`
	AvgEntryPrice float64   `json:"avg_entry_price" yaml:"avg_entry_price"`
}
