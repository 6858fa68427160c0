package model

import "time"

// Trade lifecycle statuses. A trade is created as soon as the exchange
// accepts the entry order and is terminal once it reaches any of the
// closed statuses.
const (
	TradeStatusPending = "pending"
	TradeStatusOpen    = "open"
	TradeStatusTpHit   = "tp_hit"
	TradeStatusSlHit   = "sl_hit"
	TradeStatusClosed  = "closed"
	TradeStatusError   = "error"
)

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// Exit price sources, recorded so a degraded close (no fill found) is
// distinguishable from a real fill-based close.
const (
	ExitSourceFill       = "fill"
	ExitSourceMarkPrice  = "mark_price"
	ExitSourceEntryPrice = "entry_price"
)

// Trade is one bracket trade: the entry order plus its paired
// take-profit and stop-loss legs, tracked from placement to closure.
type Trade struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	AgentID uint   `gorm:"index" json:"agent_id"`
	Symbol  string `gorm:"size:50;index" json:"symbol"`

	Direction   string  `gorm:"size:10;not null" json:"direction"` // LONG | SHORT
	EntryPrice  float64 `json:"entry_price"`
	Quantity    float64 `json:"quantity"`
	Leverage    int     `json:"leverage"`
	RiskPercent float64 `json:"risk_percent"`

	EntryOrderID string `gorm:"size:80" json:"entry_order_id"`
	TpOrderID    string `gorm:"size:80" json:"tp_order_id"`
	SlOrderID    string `gorm:"size:80" json:"sl_order_id"`

	// Set while the entry is a resting limit order; brackets are placed
	// from these once the entry fills.
	PendingTpPrice *float64 `json:"pending_tp_price,omitempty"`
	PendingSlPrice *float64 `json:"pending_sl_price,omitempty"`

	ExitPrice  *float64 `json:"exit_price,omitempty"`
	ExitSource string   `gorm:"size:20" json:"exit_source,omitempty"`
	PnlUsd     float64  `json:"pnl_usd"`
	PnlPercent float64  `json:"pnl_percent"` // leveraged

	Status      string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	StatusNote  string     `gorm:"type:text" json:"status_note,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Trade) TableName() string {
	return "trades"
}

// IsTerminal reports whether the trade reached a closed status.
func (t *Trade) IsTerminal() bool {
	switch t.Status {
	case TradeStatusTpHit, TradeStatusSlHit, TradeStatusClosed, TradeStatusError:
		return true
	}
	return false
}
