package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kline1m stores backfilled one-minute candles. The reconciler's PnL
// repair uses these as an audit trail for mark-price fallback closes.
type Kline1m struct {
	ID       uint            `gorm:"primaryKey"`
	Symbol   string          `json:"symbol"   gorm:"type:varchar(50);not null;uniqueIndex:ux_klines_1m_symbol_datetime,priority:1"`
	Datetime time.Time       `json:"datetime" gorm:"not null;uniqueIndex:ux_klines_1m_symbol_datetime,priority:2;index:idx_klines_1m_datetime"`
	Open     decimal.Decimal `json:"open"   gorm:"type:double precision;not null"`
	High     decimal.Decimal `json:"high"   gorm:"type:double precision;not null"`
	Low      decimal.Decimal `json:"low"    gorm:"type:double precision;not null"`
	Close    decimal.Decimal `json:"close"  gorm:"type:double precision;not null"`
	Volume   decimal.Decimal `json:"volume" gorm:"type:double precision;not null"`
}

func (Kline1m) TableName() string {
	return "klines_1m"
}
