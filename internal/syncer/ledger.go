// internal/syncer/ledger.go
package syncer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"gitfleet/internal/database"
	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/model"
)

// Ledger is the durable record of lifecycle attempts. Task status only moves
// forward (pending -> running -> completed|failed); writes against a terminal
// task are rejected with InvalidState.
type Ledger struct {
	db database.Querier
}

func NewLedger(db database.Querier) *Ledger {
	return &Ledger{db: db}
}

// Create records a new pending task for the repository and assigns it an
// external task identifier.
func (l *Ledger) Create(ctx context.Context, repositoryID int64) (model.SyncTask, error) {
	return l.db.CreateSyncTask(ctx, database.CreateSyncTaskParams{
		RepositoryID: repositoryID,
		TaskID:       uuid.NewString(),
	})
}

// MarkRunning transitions the task from pending to running.
func (l *Ledger) MarkRunning(ctx context.Context, task *model.SyncTask) error {
	if err := checkTransition(task.Status, model.TaskRunning); err != nil {
		return err
	}
	task.Status = model.TaskRunning
	task.StartedAt.Time = time.Now().UTC()
	task.StartedAt.Valid = true
	return l.persist(ctx, task)
}

// MarkCompleted transitions the task to its terminal completed state.
func (l *Ledger) MarkCompleted(ctx context.Context, task *model.SyncTask, commitsSynced int) error {
	if err := checkTransition(task.Status, model.TaskCompleted); err != nil {
		return err
	}
	task.Status = model.TaskCompleted
	task.CommitsSynced = commitsSynced
	task.CompletedAt.Time = time.Now().UTC()
	task.CompletedAt.Valid = true
	return l.persist(ctx, task)
}

// MarkFailed transitions the task to its terminal failed state, preserving
// the triggering error.
func (l *Ledger) MarkFailed(ctx context.Context, task *model.SyncTask, cause error) error {
	if err := checkTransition(task.Status, model.TaskFailed); err != nil {
		return err
	}
	task.Status = model.TaskFailed
	task.ErrorMessage = cause.Error()
	task.CompletedAt.Time = time.Now().UTC()
	task.CompletedAt.Valid = true
	return l.persist(ctx, task)
}

func (l *Ledger) persist(ctx context.Context, task *model.SyncTask) error {
	return l.db.UpdateSyncTask(ctx, database.UpdateSyncTaskParams{
		ID:            task.ID,
		Status:        task.Status,
		StartedAt:     toTimestamptz(task.StartedAt.Time, task.StartedAt.Valid),
		CompletedAt:   toTimestamptz(task.CompletedAt.Time, task.CompletedAt.Valid),
		ErrorMessage:  task.ErrorMessage,
		CommitsSynced: task.CommitsSynced,
	})
}

func checkTransition(from, to model.TaskStatus) error {
	allowed := map[model.TaskStatus][]model.TaskStatus{
		model.TaskPending: {model.TaskRunning},
		model.TaskRunning: {model.TaskCompleted, model.TaskFailed},
	}
	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return apperrors.New(apperrors.KindInvalidState, "task cannot transition from %s to %s", from, to)
}

func toTimestamptz(t time.Time, valid bool) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: valid}
}
