package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"perpexecutor/src/database"
	"perpexecutor/src/model"
)

// TradeRepository handles read/write operations for bracket trades.
type TradeRepository struct {
	db *gorm.DB
}

// NewTradeRepository creates a new repository instance using the main read/write database.
func NewTradeRepository() *TradeRepository {
	return &TradeRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
// Useful for tests or when using a specific session/transaction.
func (r *TradeRepository) WithDB(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// Create inserts a new trade. The given trade is updated with the
// generated ID and timestamps.
func (r *TradeRepository) Create(ctx context.Context, trade *model.Trade) error {
	logger.WithFields(map[string]interface{}{
		"repo":      "TradeRepository",
		"op":        "Create",
		"agent_id":  trade.AgentID,
		"symbol":    trade.Symbol,
		"direction": trade.Direction,
		"qty":       trade.Quantity,
	}).Debug("Creating new trade")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(trade).Error; err != nil {
			return err
		}
		return tx.Create(&model.TradeStatusLog{
			TradeID: trade.ID,
			Status:  trade.Status,
			Reason:  "trade created",
		}).Error
	})
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "Create",
		}).WithError(err).Error("Failed to create trade")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TradeRepository",
		"op":       "Create",
		"trade_id": trade.ID,
	}).Info("Trade created successfully")

	return nil
}

// Save persists all fields of an existing trade.
func (r *TradeRepository) Save(ctx context.Context, trade *model.Trade) error {
	if err := r.db.WithContext(ctx).Save(trade).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "Save",
			"trade_id": trade.ID,
		}).WithError(err).Error("Failed to save trade")
		return err
	}
	return nil
}

// FindByID fetches a single trade by its primary ID.
// Returns (nil, nil) if the trade is not found.
func (r *TradeRepository) FindByID(ctx context.Context, id uint) (*model.Trade, error) {
	var trade model.Trade

	err := r.db.WithContext(ctx).First(&trade, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindByID",
			"id":   id,
		}).WithError(err).Error("Failed to fetch trade by ID")
		return nil, err
	}

	return &trade, nil
}

// FindByStatus returns all trades in the given status, oldest first.
func (r *TradeRepository) FindByStatus(ctx context.Context, status string) ([]model.Trade, error) {
	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "FindByStatus",
			"status": status,
		}).WithError(err).Error("Failed to fetch trades by status")
		return nil, err
	}

	return trades, nil
}

// CountActiveByAgent counts trades still holding (or about to hold) a
// position for one agent. This is what the per-agent concurrency cap
// is checked against.
func (r *TradeRepository) CountActiveByAgent(ctx context.Context, agentID uint) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.Trade{}).
		Where("agent_id = ? AND status IN ?", agentID, []string{model.TradeStatusPending, model.TradeStatusOpen}).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TradeRepository",
			"op":       "CountActiveByAgent",
			"agent_id": agentID,
		}).WithError(err).Error("Failed to count active trades")
		return 0, err
	}

	return count, nil
}

// UpdateStatus updates the status and note of the given trade ID and
// appends the transition to the status log.
func (r *TradeRepository) UpdateStatus(ctx context.Context, id uint, status, note string) error {
	logger.WithFields(map[string]interface{}{
		"repo":   "TradeRepository",
		"op":     "UpdateStatus",
		"id":     id,
		"status": status,
		"note":   note,
	}).Debug("Updating trade status")

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Model(&model.Trade{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"status": status, "status_note": note}).Error; err != nil {
			return err
		}
		return tx.Create(&model.TradeStatusLog{
			TradeID: id,
			Status:  status,
			Reason:  note,
		}).Error
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TradeRepository",
			"op":     "UpdateStatus",
			"id":     id,
			"status": status,
		}).WithError(err).Error("Failed to update trade status")
		return err
	}

	return nil
}

// MarkClosed finalizes a trade with its exit data in one update.
func (r *TradeRepository) MarkClosed(ctx context.Context, trade *model.Trade) error {
	now := time.Now().UTC()
	trade.ClosedAt = &now

	logger.WithFields(map[string]interface{}{
		"repo":        "TradeRepository",
		"op":          "MarkClosed",
		"trade_id":    trade.ID,
		"status":      trade.Status,
		"exit_source": trade.ExitSource,
		"pnl_usd":     trade.PnlUsd,
	}).Info("Closing trade")

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(trade).Error; err != nil {
			return err
		}
		return tx.Create(&model.TradeStatusLog{
			TradeID: trade.ID,
			Status:  trade.Status,
			Reason:  trade.ExitSource,
		}).Error
	})
}

// FindZeroPnlClosed returns fill-sourced closed trades recorded with
// zero PnL, candidates for PnL repair. Degraded closes (mark/entry
// fallback) are excluded: their zero PnL may be the honest answer.
func (r *TradeRepository) FindZeroPnlClosed(ctx context.Context, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}

	var trades []model.Trade

	err := r.db.WithContext(ctx).
		Where("status IN ?", []string{model.TradeStatusTpHit, model.TradeStatusSlHit, model.TradeStatusClosed}).
		Where("pnl_usd = ?", 0.0).
		Where("exit_source = ?", model.ExitSourceFill).
		Order("id ASC").
		Limit(limit).
		Find(&trades).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TradeRepository",
			"op":   "FindZeroPnlClosed",
		}).WithError(err).Error("Failed to fetch zero-PnL trades")
		return nil, err
	}

	return trades, nil
}
