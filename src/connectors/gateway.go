package connectors

import (
	"context"
	"time"
)

// Instrument is the venue metadata for one tradable perpetual contract.
// Immutable once fetched for its TTL window.
type Instrument struct {
	Symbol      string
	QtyStepSize float64
	TickSize    float64
	MaxLeverage int
	MinNotional float64
	Delisted    bool
	FetchedAt   time.Time
}

// Position is one open position as reported by the exchange.
type Position struct {
	Symbol     string
	Side       string // Buy | Sell
	Size       float64
	EntryPrice float64
	MarkPrice  float64
	Leverage   int
}

// PositionView is the display shape for position snapshots: direction
// and leveraged PnL% are derived here so no caller re-implements the
// math.
type PositionView struct {
	Symbol       string  `json:"symbol"`
	Direction    string  `json:"direction"` // LONG | SHORT
	Size         float64 `json:"size"`
	EntryPrice   float64 `json:"entry_price"`
	CurrentPrice float64 `json:"current_price"`
	Leverage     int     `json:"leverage"`
	PnlPercent   float64 `json:"pnl_percent"` // leveraged
}

// OrderRequest describes one order to place. Price == nil means a
// market-style entry; the gateway synthesizes a protective limit price
// offset by a fixed slippage band in the order's favor.
type OrderRequest struct {
	Symbol      string
	Side        string // Buy | Sell
	Quantity    float64
	Price       *float64
	ReduceOnly  bool
	TimeInForce string // GoodTillCancel | ImmediateOrCancel
}

// TriggerOrderRequest describes a conditional order that rests dormant
// until the mark price crosses TriggerPrice, then executes as a market
// order. Used for stop-losses: a plain limit at a crossed price would
// fill immediately and defeat the protective stop.
type TriggerOrderRequest struct {
	Symbol       string
	Side         string // Buy | Sell
	Quantity     float64
	TriggerPrice float64
	ReduceOnly   bool
}

// OrderResult is the normalized exchange response for an accepted order.
type OrderResult struct {
	OrderID   string
	ClOrdID   string
	Status    string // New | PartiallyFilled | Filled | Canceled | Rejected
	AvgPrice  float64
	FilledQty float64
}

// Filled reports whether the entry executed immediately.
func (r *OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}

const (
	OrderStatusNew             = "New"
	OrderStatusPartiallyFilled = "PartiallyFilled"
	OrderStatusFilled          = "Filled"
	OrderStatusCanceled        = "Canceled"
	OrderStatusRejected        = "Rejected"
)

// OpenOrder is one resting order on the venue.
type OpenOrder struct {
	OrderID    string
	Symbol     string
	Side       string
	Price      float64
	Quantity   float64
	Status     string
	ReduceOnly bool
}

// Fill is one execution from the account's trade history.
type Fill struct {
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// AccountUpdate is a normalized account-level streaming event.
type AccountUpdate struct {
	Currency  string
	Balance   float64
	Timestamp time.Time
}

// OrderUpdate is a normalized order-level streaming event.
type OrderUpdate struct {
	OrderID   string
	ClOrdID   string
	Symbol    string
	Side      string
	Status    string
	Price     float64
	AvgPrice  float64
	FilledQty float64
	Timestamp time.Time
}

// StreamEvent is the closed set of tagged variants emitted by the
// account stream. Exactly one field is non-nil. Venue-specific field
// names never leak past the gateway boundary.
type StreamEvent struct {
	Account *AccountUpdate
	Order   *OrderUpdate
}

// ExchangeGateway wraps one derivatives venue for one account. All
// operations against one account's gateway are issued by one logical
// actor at a time; gateways for different agents operate independently.
type ExchangeGateway interface {
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetAvailableBalance(ctx context.Context, symbol string) (float64, error)

	// SetLeverage clamps the requested leverage to the instrument's
	// maximum and returns the leverage actually applied. It never
	// errors solely because the request exceeded the cap.
	SetLeverage(ctx context.Context, symbol string, requested int) (int, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)
	PlaceTriggerOrder(ctx context.Context, req TriggerOrderRequest) (*OrderResult, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error

	GetOpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
	GetFills(ctx context.Context, symbol string, since time.Time) ([]Fill, error)

	GetPosition(ctx context.Context, symbol string) (*Position, error)
	GetFormattedPositions(ctx context.Context) ([]PositionView, error)

	ClosePosition(ctx context.Context, symbol string) error
	CloseAllPositions(ctx context.Context) error

	// StreamUpdates emits normalized account/order events until ctx is
	// canceled or the reconnect budget is exhausted, then closes the
	// channel.
	StreamUpdates(ctx context.Context) <-chan StreamEvent
}
