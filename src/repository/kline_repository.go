package repository

import (
	"context"
	"errors"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"perpexecutor/src/database"
	"perpexecutor/src/model"
)

// KlineRepository stores backfilled one-minute candles.
type KlineRepository struct {
	db *gorm.DB
}

func NewKlineRepository() *KlineRepository {
	return &KlineRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *KlineRepository) WithDB(db *gorm.DB) *KlineRepository {
	return &KlineRepository{db: db}
}

// UpsertBatch inserts candles, updating OHLCV on (symbol, datetime)
// conflicts so re-running a backfill window is safe.
func (r *KlineRepository) UpsertBatch(ctx context.Context, klines []model.Kline1m) error {
	if len(klines) == 0 {
		return nil
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "datetime"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		CreateInBatches(klines, 500).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "KlineRepository",
			"op":     "UpsertBatch",
			"symbol": klines[0].Symbol,
			"count":  len(klines),
		}).WithError(err).Error("Failed to upsert klines")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":   "KlineRepository",
		"op":     "UpsertBatch",
		"symbol": klines[0].Symbol,
		"count":  len(klines),
	}).Debug("Klines upserted")

	return nil
}

// LatestDatetime returns the newest stored candle time for a symbol.
// Returns (nil, nil) when no candles exist yet.
func (r *KlineRepository) LatestDatetime(ctx context.Context, symbol string) (*time.Time, error) {
	var kline model.Kline1m

	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("datetime DESC").
		First(&kline).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		logger.WithFields(map[string]interface{}{
			"repo":   "KlineRepository",
			"op":     "LatestDatetime",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch latest kline time")
		return nil, err
	}

	return &kline.Datetime, nil
}

// FindRange returns candles for one symbol inside [from, to], oldest first.
func (r *KlineRepository) FindRange(ctx context.Context, symbol string, from, to time.Time) ([]model.Kline1m, error) {
	var klines []model.Kline1m

	err := r.db.WithContext(ctx).
		Where("symbol = ? AND datetime BETWEEN ? AND ?", symbol, from, to).
		Order("datetime ASC").
		Find(&klines).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "KlineRepository",
			"op":     "FindRange",
			"symbol": symbol,
		}).WithError(err).Error("Failed to fetch kline range")
		return nil, err
	}

	return klines, nil
}
