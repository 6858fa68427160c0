package repository

import (
	"context"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"perpexecutor/src/database"
	"perpexecutor/src/model"
)

// ExceptionRepository persists system-level errors for auditing.
type ExceptionRepository struct {
	db *gorm.DB
}

func NewExceptionRepository() *ExceptionRepository {
	return &ExceptionRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *ExceptionRepository) WithDB(db *gorm.DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create inserts a new exception record. Persistence failures are
// logged but not escalated; error reporting must never take the
// calling flow down with it.
func (r *ExceptionRepository) Create(ctx context.Context, exc *model.Exception) error {
	if err := r.db.WithContext(ctx).Create(exc).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "ExceptionRepository",
			"op":     "Create",
			"module": exc.Module,
			"method": exc.Method,
		}).WithError(err).Error("Failed to persist exception")
		return err
	}
	return nil
}

// FindRecent returns the newest exceptions, newest first.
func (r *ExceptionRepository) FindRecent(ctx context.Context, limit int) ([]model.Exception, error) {
	if limit <= 0 {
		limit = 50
	}

	var exceptions []model.Exception

	err := r.db.WithContext(ctx).
		Order("id DESC").
		Limit(limit).
		Find(&exceptions).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "ExceptionRepository",
			"op":   "FindRecent",
		}).WithError(err).Error("Failed to fetch exceptions")
		return nil, err
	}

	return exceptions, nil
}
