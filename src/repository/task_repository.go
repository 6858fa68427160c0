package repository

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"perpexecutor/src/database"
	"perpexecutor/src/model"
)

// TaskRepository manages the durable queue of rule-evaluation tasks.
type TaskRepository struct {
	db *gorm.DB
}

func NewTaskRepository() *TaskRepository {
	return &TaskRepository{db: database.MainDB}
}

// WithDB allows overriding the underlying *gorm.DB instance.
func (r *TaskRepository) WithDB(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Enqueue inserts a new pending task for one agent/signal pair.
func (r *TaskRepository) Enqueue(ctx context.Context, task *model.Task) error {
	task.Status = model.TaskStatusPending

	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":     "TaskRepository",
			"op":       "Enqueue",
			"agent_id": task.AgentID,
		}).WithError(err).Error("Failed to enqueue task")
		return err
	}

	logger.WithFields(map[string]interface{}{
		"repo":     "TaskRepository",
		"op":       "Enqueue",
		"task_id":  task.ID,
		"agent_id": task.AgentID,
	}).Info("Task enqueued")

	return nil
}

// ResetStale moves tasks stuck in processing longer than the staleness
// window back to pending so a later claim retries them. Returns how
// many tasks were reset.
func (r *TaskRepository) ResetStale(ctx context.Context, staleness time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-staleness)

	res := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("status = ? AND started_at < ?", model.TaskStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":     model.TaskStatusPending,
			"started_at": nil,
		})

	if res.Error != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TaskRepository",
			"op":   "ResetStale",
		}).WithError(res.Error).Error("Failed to reset stale tasks")
		return 0, res.Error
	}

	if res.RowsAffected > 0 {
		logger.WithFields(map[string]interface{}{
			"repo":   "TaskRepository",
			"op":     "ResetStale",
			"reset":  res.RowsAffected,
			"cutoff": cutoff,
		}).Warn("Reset stale processing tasks back to pending")
	}

	return res.RowsAffected, nil
}

// ClaimPending atomically claims up to limit pending tasks, marking
// them processing with a claim timestamp. Tasks are ordered by agent
// then insertion order, so one agent's tasks come back in sequence.
func (r *TaskRepository) ClaimPending(ctx context.Context, limit int) ([]model.Task, error) {
	if limit <= 0 {
		limit = 5
	}

	var claimed []model.Task

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tasks []model.Task
		if err := tx.
			Where("status = ?", model.TaskStatusPending).
			Order("agent_id ASC, id ASC").
			Limit(limit).
			Find(&tasks).Error; err != nil {
			return err
		}
		if len(tasks) == 0 {
			return nil
		}

		now := time.Now().UTC()
		ids := make([]uint, 0, len(tasks))
		for i := range tasks {
			ids = append(ids, tasks[i].ID)
		}

		if err := tx.Model(&model.Task{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     model.TaskStatusProcessing,
				"started_at": now,
			}).Error; err != nil {
			return err
		}

		for i := range tasks {
			tasks[i].Status = model.TaskStatusProcessing
			tasks[i].StartedAt = &now
		}
		claimed = tasks
		return nil
	})

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo": "TaskRepository",
			"op":   "ClaimPending",
		}).WithError(err).Error("Failed to claim pending tasks")
		return nil, err
	}

	return claimed, nil
}

// MarkCompleted finalizes a task whose evaluation approved the signal.
// tradeID links the task to the trade it produced, if any.
func (r *TaskRepository) MarkCompleted(ctx context.Context, id uint, verdict string, tradeID *uint) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":   model.TaskStatusCompleted,
		"verdict":  verdict,
		"trade_id": tradeID,
	})
}

// MarkSkipped finalizes a task whose evaluation rejected the signal.
func (r *TaskRepository) MarkSkipped(ctx context.Context, id uint, verdict string) error {
	return r.finish(ctx, id, map[string]interface{}{
		"status":  model.TaskStatusSkipped,
		"verdict": verdict,
	})
}

// MarkFailed finalizes a task that errored during evaluation or execution.
func (r *TaskRepository) MarkFailed(ctx context.Context, id uint, errMsg string) error {
	logger.WithFields(map[string]interface{}{
		"repo":    "TaskRepository",
		"op":      "MarkFailed",
		"task_id": id,
		"error":   errMsg,
	}).Warn("Marking task as failed")

	return r.finish(ctx, id, map[string]interface{}{
		"status": model.TaskStatusFailed,
		"error":  errMsg,
	})
}

func (r *TaskRepository) finish(ctx context.Context, id uint, updates map[string]interface{}) error {
	now := time.Now().UTC()
	updates["finished_at"] = now

	err := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("id = ?", id).
		Updates(updates).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":    "TaskRepository",
			"op":      "finish",
			"task_id": id,
		}).WithError(err).Error("Failed to finalize task")
		return err
	}

	return nil
}

// CountByStatus returns the number of tasks in the given status.
func (r *TaskRepository) CountByStatus(ctx context.Context, status string) (int64, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Model(&model.Task{}).
		Where("status = ?", status).
		Count(&count).Error

	if err != nil {
		logger.WithFields(map[string]interface{}{
			"repo":   "TaskRepository",
			"op":     "CountByStatus",
			"status": status,
		}).WithError(err).Error("Failed to count tasks")
		return 0, err
	}

	return count, nil
}
