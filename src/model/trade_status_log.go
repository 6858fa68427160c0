package model

import "time"

// TradeStatusLog is the append-only audit trail of trade status
// transitions. Written automatically by the trade repository.
type TradeStatusLog struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	TradeID uint   `gorm:"index" json:"trade_id"`
	Status  string `gorm:"size:20;not null" json:"status"`
	Reason  string `gorm:"type:text" json:"reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (TradeStatusLog) TableName() string {
	return "trade_status_logs"
}
