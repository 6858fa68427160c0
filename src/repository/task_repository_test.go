package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"perpexecutor/src/model"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestTaskRepositoryClaimPending(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TaskRepository{db: mockDB}

	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "agent_id", "signal_payload", "status", "created_at", "updated_at"}).
		AddRow(10, 1, `{"symbol":"BTCUSDT"}`, model.TaskStatusPending, createdAt, createdAt).
		AddRow(11, 1, `{"symbol":"ETHUSDT"}`, model.TaskStatusPending, createdAt, createdAt).
		AddRow(12, 2, `{"symbol":"BTCUSDT"}`, model.TaskStatusPending, createdAt, createdAt)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "tasks" WHERE status = $1 ORDER BY agent_id ASC, id ASC LIMIT $2`)).
		WithArgs(model.TaskStatusPending, 5).
		WillReturnRows(rows)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "tasks" SET "started_at"=$1,"status"=$2,"updated_at"=$3 WHERE id IN ($4,$5,$6)`)).
		WithArgs(sqlmock.AnyArg(), model.TaskStatusProcessing, sqlmock.AnyArg(), uint(10), uint(11), uint(12)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	claimed, err := repo.ClaimPending(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error claiming tasks: %v", err)
	}

	if len(claimed) != 3 {
		t.Fatalf("expected 3 claimed tasks, got %d", len(claimed))
	}

	for _, task := range claimed {
		if task.Status != model.TaskStatusProcessing {
			t.Fatalf("claimed task %d not marked processing: %s", task.ID, task.Status)
		}
		if task.StartedAt == nil {
			t.Fatalf("claimed task %d has no claim timestamp", task.ID)
		}
	}

	// Same-agent tasks must come back in insertion order.
	if claimed[0].ID != 10 || claimed[1].ID != 11 {
		t.Fatalf("agent 1 tasks out of order: %d, %d", claimed[0].ID, claimed[1].ID)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTaskRepositoryClaimPendingEmpty(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TaskRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "tasks" WHERE status = $1 ORDER BY agent_id ASC, id ASC LIMIT $2`)).
		WithArgs(model.TaskStatusPending, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	claimed, err := repo.ClaimPending(context.Background(), 5)
	if err != nil {
		t.Fatalf("unexpected error on empty queue: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimed tasks, got %d", len(claimed))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTaskRepositoryResetStale(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TaskRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "tasks" SET "started_at"=$1,"status"=$2,"updated_at"=$3 WHERE status = $4 AND started_at < $5`)).
		WithArgs(nil, model.TaskStatusPending, sqlmock.AnyArg(), model.TaskStatusProcessing, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	reset, err := repo.ResetStale(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error resetting stale tasks: %v", err)
	}
	if reset != 2 {
		t.Fatalf("expected 2 tasks reset, got %d", reset)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func TestTaskRepositoryMarkFailed(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TaskRepository{db: mockDB}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "tasks" SET "error"=$1,"finished_at"=$2,"status"=$3,"updated_at"=$4 WHERE id = $5`)).
		WithArgs("evaluator timeout", sqlmock.AnyArg(), model.TaskStatusFailed, sqlmock.AnyArg(), uint(12)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.MarkFailed(context.Background(), 12, "evaluator timeout"); err != nil {
		t.Fatalf("unexpected error failing task: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}
