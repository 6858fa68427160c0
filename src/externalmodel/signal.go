package externalmodel

import "time"

const (
	OrderTypeMarket = "market"
	OrderTypeLimit  = "limit"
)

// Signal is the trading signal produced by the analysis subsystem and
// consumed by the dispatcher. Prices are already resolved numbers; the
// engine never re-derives them.
type Signal struct {
	Symbol      string     `json:"symbol"`
	Direction   string     `json:"direction"` // LONG | SHORT
	EntryPrice  float64    `json:"entry_price"`
	TargetPrice float64    `json:"target_price"`
	StopLoss    float64    `json:"stop_loss"`
	OrderType   string     `json:"order_type"` // market | limit
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
}
