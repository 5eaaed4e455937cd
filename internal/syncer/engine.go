// internal/syncer/engine.go
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"gitfleet/internal/database"
	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/locks"
	"gitfleet/internal/model"
	"gitfleet/internal/source"
)

// Options tunes the retry policy and failure handling of the engine.
type Options struct {
	MaxAttempts      int           // attempts per invocation (default 3)
	RetryBackoff     time.Duration // first backoff, doubling per attempt (default 60s)
	OpTimeout        time.Duration // wall-clock ceiling per attempt (default 30m)
	FailureThreshold int           // consecutive sync failures before status failed
	DefaultBranch    string        // branch name for freshly initialized stores
}

func (o *Options) fillDefaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = time.Minute
	}
	if o.OpTimeout <= 0 {
		o.OpTimeout = 30 * time.Minute
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.DefaultBranch == "" {
		o.DefaultBranch = "main"
	}
}

// Engine drives the repository lifecycle state machine. Every lifecycle
// operation runs under an exclusive per-repository lock, released on every
// exit path, so at most one transition is in flight per repository at a time.
type Engine struct {
	db        database.Querier
	backend   Backend
	sources   *source.Resolver
	ledger    *Ledger
	logger    *slog.Logger
	repoLocks *locks.Keyed
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error

	cancelled sync.Map // task UUID -> struct{}
}

// NewEngine creates a new Engine instance.
func NewEngine(db database.Querier, backend Backend, sources *source.Resolver, logger *slog.Logger, opts Options) *Engine {
	opts.fillDefaults()
	return &Engine{
		db:        db,
		backend:   backend,
		sources:   sources,
		ledger:    NewLedger(db),
		logger:    logger,
		repoLocks: locks.NewKeyed(),
		opts:      opts,
		sleep:     sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ledger exposes the task ledger for external monitoring.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Cancel marks an in-flight task as cancelled. The cancellation is
// cooperative: the running job observes it between retry attempts, never
// mid-attempt, and stops without consuming a further attempt. The flag is
// dropped once observed, or when the job finishes either way.
func (e *Engine) Cancel(taskID string) {
	e.cancelled.Store(taskID, struct{}{})
}

func (e *Engine) isCancelled(taskID string) bool {
	_, ok := e.cancelled.Load(taskID)
	return ok
}

func lockKey(repositoryID int64) string {
	return strconv.FormatInt(repositoryID, 10)
}

// -----------------------------------------------------------------------
// Initialize
// -----------------------------------------------------------------------

// Initialize creates the storage path for a pending repository and
// transitions it pending -> initializing -> active. Idempotent: a valid
// existing store is a no-op success, a partially created one is removed and
// recreated.
func (e *Engine) Initialize(ctx context.Context, repositoryID int64) error {
	e.repoLocks.Lock(lockKey(repositoryID))
	defer e.repoLocks.Unlock(lockKey(repositoryID))

	repo, err := e.loadRepository(ctx, repositoryID)
	if err != nil {
		return err
	}
	logger := e.logger.With("org", repo.Organisation, "repo", repo.Name)

	switch repo.Status {
	case model.StatusPending, model.StatusFailed:
		// failed re-enters as a fresh attempt on explicit re-trigger
	case model.StatusActive:
		logger.Info("Repository already active, initialize is a no-op")
		return nil
	default:
		return apperrors.New(apperrors.KindInvalidState, "cannot initialize repository in status %s", repo.Status)
	}

	if err := e.setStatus(ctx, repo.ID, model.StatusInitializing, "", 0); err != nil {
		return err
	}
	logger.Info("Initializing repository", "path", repo.LocalPath)

	err = e.runAttempts(ctx, "", func(ctx context.Context) error {
		if e.backend.Exists(repo.LocalPath) {
			if e.backend.Valid(repo.LocalPath) {
				return nil
			}
			// partially created store from an earlier failed attempt
			if err := e.backend.Remove(repo.LocalPath); err != nil {
				return err
			}
		}
		return e.backend.CreateBare(repo.LocalPath)
	})
	if err != nil {
		logger.Error("Repository initialization failed", "error", err)
		if statusErr := e.setStatus(ctx, repo.ID, model.StatusFailed, err.Error(), repo.FailureStreak+1); statusErr != nil {
			logger.Error("Failed to record failure status", "error", statusErr)
		}
		return err
	}

	if _, err := e.db.UpdateRepositorySyncData(ctx, database.UpdateRepositorySyncDataParams{
		ID:            repo.ID,
		DefaultBranch: e.opts.DefaultBranch,
	}); err != nil {
		return err
	}
	if err := e.setStatus(ctx, repo.ID, model.StatusActive, "", 0); err != nil {
		return err
	}
	logger.Info("Repository initialized", "path", repo.LocalPath)
	return nil
}

// DispatchInitialize runs Initialize as an independent background job.
func (e *Engine) DispatchInitialize(repositoryID int64) {
	go func() {
		if err := e.Initialize(context.Background(), repositoryID); err != nil {
			e.logger.Error("Background initialize failed", "repository_id", repositoryID, "error", err)
		}
	}()
}

// -----------------------------------------------------------------------
// Migrate
// -----------------------------------------------------------------------

// Migrate performs a full clone (or mirror clone) from the repository's
// source URL and blocks until it finishes. Without force, an existing valid
// store fails with AlreadyExists and nothing is mutated; with force the
// store is re-cloned.
func (e *Engine) Migrate(ctx context.Context, repositoryID int64, force bool) (model.SyncTask, error) {
	repo, err := e.checkMigratable(ctx, repositoryID, force)
	if err != nil {
		return model.SyncTask{}, err
	}
	task, err := e.ledger.Create(ctx, repo.ID)
	if err != nil {
		return model.SyncTask{}, err
	}
	err = e.runMigrate(ctx, repositoryID, force, &task)
	return task, err
}

// DispatchMigrate validates, records the task, and runs the migration in
// the background. The returned task is pending; callers poll the ledger.
func (e *Engine) DispatchMigrate(ctx context.Context, repositoryID int64, force bool) (model.SyncTask, error) {
	repo, err := e.checkMigratable(ctx, repositoryID, force)
	if err != nil {
		return model.SyncTask{}, err
	}
	task, err := e.ledger.Create(ctx, repo.ID)
	if err != nil {
		return model.SyncTask{}, err
	}
	go func() {
		background := task
		if err := e.runMigrate(context.Background(), repositoryID, force, &background); err != nil {
			e.logger.Error("Background migrate failed", "repository_id", repositoryID, "error", err)
		}
	}()
	return task, nil
}

// checkMigratable runs the fast validations that should reject a migrate
// before a task is recorded. They run again under the repository lock.
func (e *Engine) checkMigratable(ctx context.Context, repositoryID int64, force bool) (model.Repository, error) {
	repo, err := e.loadRepository(ctx, repositoryID)
	if err != nil {
		return model.Repository{}, err
	}
	if repo.Status.Terminal() {
		return model.Repository{}, apperrors.New(apperrors.KindInvalidState, "cannot migrate archived repository")
	}
	if repo.SourceURL == "" {
		return model.Repository{}, apperrors.New(apperrors.KindInvalidState, "repository %s/%s has no source URL", repo.Organisation, repo.Name)
	}
	if !force && e.backend.Exists(repo.LocalPath) && e.backend.Valid(repo.LocalPath) {
		return model.Repository{}, apperrors.New(apperrors.KindAlreadyExists, "store already exists at %s", repo.LocalPath)
	}
	return repo, nil
}

func (e *Engine) runMigrate(ctx context.Context, repositoryID int64, force bool, task *model.SyncTask) error {
	e.repoLocks.Lock(lockKey(repositoryID))
	defer e.repoLocks.Unlock(lockKey(repositoryID))
	defer e.cancelled.Delete(task.TaskID)

	repo, err := e.loadRepository(ctx, repositoryID)
	if err != nil {
		return e.failTask(ctx, task, err)
	}
	logger := e.logger.With("org", repo.Organisation, "repo", repo.Name)

	// Re-check under the lock: another transition may have run since dispatch.
	if !force && e.backend.Exists(repo.LocalPath) && e.backend.Valid(repo.LocalPath) {
		return e.failTask(ctx, task, apperrors.New(apperrors.KindAlreadyExists, "store already exists at %s", repo.LocalPath))
	}
	cloneURL, err := e.sources.CloneURL(repo)
	if err != nil {
		return e.failTask(ctx, task, err)
	}

	if err := e.ledger.MarkRunning(ctx, task); err != nil {
		return err
	}

	transitional := model.StatusInitializing
	if repo.IsMirror {
		transitional = model.StatusMirroring
	}
	if err := e.setStatus(ctx, repo.ID, transitional, "", 0); err != nil {
		return err
	}
	logger.Info("Migrating repository", "source", repo.SourceURL, "mirror", repo.IsMirror)

	// Advisory host metadata; the clone has the final say.
	meta, _ := e.sources.Probe(ctx, repo)

	err = e.runAttempts(ctx, task.TaskID, func(ctx context.Context) error {
		if e.backend.Exists(repo.LocalPath) {
			if err := e.backend.Remove(repo.LocalPath); err != nil {
				return err
			}
		}
		return e.backend.Clone(ctx, repo.LocalPath, cloneURL, repo.IsBare, repo.IsMirror)
	})
	if err != nil {
		return e.recordFailure(ctx, logger, &repo, task, err)
	}

	snap, err := e.backend.Snapshot(ctx, repo.LocalPath, time.Time{})
	if err != nil {
		return e.recordFailure(ctx, logger, &repo, task, err)
	}
	if snap.DefaultBranch == "" && meta != nil {
		snap.DefaultBranch = meta.DefaultBranch
	}

	if err := e.project(ctx, &repo, snap); err != nil {
		return e.recordFailure(ctx, logger, &repo, task, err)
	}
	if err := e.setStatus(ctx, repo.ID, model.StatusActive, "", 0); err != nil {
		return err
	}
	if err := e.ledger.MarkCompleted(ctx, task, snap.TotalCommits); err != nil {
		return err
	}
	logger.Info("Migration complete", "branches", len(snap.Branches), "commits", snap.TotalCommits)
	return nil
}

// -----------------------------------------------------------------------
// Sync
// -----------------------------------------------------------------------

// Sync fetches updates from the configured remote, reconciles the branch
// projection, appends newly discovered commits, and refreshes the sync
// counters. Lifecycle status is unchanged on success; failures only flip the
// repository to failed once they are consecutive beyond the threshold.
func (e *Engine) Sync(ctx context.Context, repositoryID int64) (model.SyncTask, error) {
	repo, err := e.checkSyncable(ctx, repositoryID)
	if err != nil {
		return model.SyncTask{}, err
	}
	task, err := e.ledger.Create(ctx, repo.ID)
	if err != nil {
		return model.SyncTask{}, err
	}
	err = e.runSync(ctx, repositoryID, &task)
	return task, err
}

// DispatchSync validates, records the task, and runs the sync in the
// background.
func (e *Engine) DispatchSync(ctx context.Context, repositoryID int64) (model.SyncTask, error) {
	repo, err := e.checkSyncable(ctx, repositoryID)
	if err != nil {
		return model.SyncTask{}, err
	}
	task, err := e.ledger.Create(ctx, repo.ID)
	if err != nil {
		return model.SyncTask{}, err
	}
	go func() {
		background := task
		if err := e.runSync(context.Background(), repositoryID, &background); err != nil {
			e.logger.Error("Background sync failed", "repository_id", repositoryID, "error", err)
		}
	}()
	return task, nil
}

func (e *Engine) checkSyncable(ctx context.Context, repositoryID int64) (model.Repository, error) {
	repo, err := e.loadRepository(ctx, repositoryID)
	if err != nil {
		return model.Repository{}, err
	}
	if repo.Status != model.StatusActive {
		return model.Repository{}, apperrors.New(apperrors.KindInvalidState,
			"cannot sync repository in status %s; re-trigger initialize or migrate", repo.Status)
	}
	return repo, nil
}

func (e *Engine) runSync(ctx context.Context, repositoryID int64, task *model.SyncTask) error {
	e.repoLocks.Lock(lockKey(repositoryID))
	defer e.repoLocks.Unlock(lockKey(repositoryID))
	defer e.cancelled.Delete(task.TaskID)

	repo, err := e.loadRepository(ctx, repositoryID)
	if err != nil {
		return e.failTask(ctx, task, err)
	}
	logger := e.logger.With("org", repo.Organisation, "repo", repo.Name)

	if repo.Status != model.StatusActive {
		return e.failTask(ctx, task, apperrors.New(apperrors.KindInvalidState,
			"cannot sync repository in status %s; re-trigger initialize or migrate", repo.Status))
	}

	if err := e.ledger.MarkRunning(ctx, task); err != nil {
		return err
	}
	logger.Info("Syncing repository")

	err = e.runAttempts(ctx, task.TaskID, func(ctx context.Context) error {
		return e.backend.Fetch(ctx, repo.LocalPath, repo.IsMirror)
	})
	if err != nil {
		return e.recordSyncFailure(ctx, logger, &repo, task, err)
	}

	since, err := e.latestCommitDate(ctx, repo.ID)
	if err != nil {
		return e.recordSyncFailure(ctx, logger, &repo, task, err)
	}

	snap, err := e.backend.Snapshot(ctx, repo.LocalPath, since)
	if err != nil {
		return e.recordSyncFailure(ctx, logger, &repo, task, err)
	}
	if err := e.project(ctx, &repo, snap); err != nil {
		return e.recordSyncFailure(ctx, logger, &repo, task, err)
	}
	if err := e.ledger.MarkCompleted(ctx, task, len(snap.NewCommits)); err != nil {
		return err
	}
	logger.Info("Sync complete", "new_commits", len(snap.NewCommits), "total_commits", snap.TotalCommits)
	return nil
}

// -----------------------------------------------------------------------
// Shared plumbing
// -----------------------------------------------------------------------

// project writes a store snapshot into the metadata records: branch
// reconciliation, append-only commit cache, and the repository counters.
func (e *Engine) project(ctx context.Context, repo *model.Repository, snap *Snapshot) error {
	keep := make([]string, 0, len(snap.Branches))
	for _, branch := range snap.Branches {
		keep = append(keep, branch.Name)
		err := e.db.UpsertBranch(ctx, database.UpsertBranchParams{
			RepositoryID: repo.ID,
			Name:         branch.Name,
			CommitHash:   branch.CommitSHA,
			IsDefault:    branch.Name == snap.DefaultBranch,
		})
		if err != nil {
			return err
		}
	}
	if _, err := e.db.PruneBranches(ctx, database.PruneBranchesParams{RepositoryID: repo.ID, Keep: keep}); err != nil {
		return err
	}

	if len(snap.NewCommits) > 0 {
		if _, err := e.db.CreateCommits(ctx, prepareCommitBulkInsert(repo.ID, snap.NewCommits)); err != nil {
			return err
		}
	}

	_, err := e.db.UpdateRepositorySyncData(ctx, database.UpdateRepositorySyncDataParams{
		ID:             repo.ID,
		DefaultBranch:  snap.DefaultBranch,
		LastCommitHash: snap.HeadCommit,
		TotalCommits:   snap.TotalCommits,
	})
	return err
}

// runAttempts executes fn under the retry policy: up to MaxAttempts tries
// with doubling backoff, a wall-clock ceiling per attempt, retrying only
// transient failures, and observing cooperative cancellation between
// attempts.
func (e *Engine) runAttempts(ctx context.Context, taskID string, fn func(context.Context) error) error {
	var lastErr error
	backoff := e.opts.RetryBackoff

	for attempt := 1; attempt <= e.opts.MaxAttempts; attempt++ {
		if taskID != "" && e.isCancelled(taskID) {
			e.cancelled.Delete(taskID)
			return fmt.Errorf("cancelled before attempt %d: %w", attempt, context.Canceled)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.opts.OpTimeout)
		err := fn(attemptCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if !apperrors.Retryable(err) || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt < e.opts.MaxAttempts {
			e.logger.Warn("Attempt failed, backing off", "attempt", attempt, "backoff", backoff.String(), "error", err)
			if err := e.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff *= 2
		}
	}
	return lastErr
}

func (e *Engine) failTask(ctx context.Context, task *model.SyncTask, cause error) error {
	if task.Status == model.TaskPending {
		if err := e.ledger.MarkRunning(ctx, task); err != nil {
			e.logger.Error("Failed to start task before failing it", "error", err)
		}
	}
	if err := e.ledger.MarkFailed(ctx, task, cause); err != nil {
		e.logger.Error("Failed to record task failure", "error", err)
	}
	return cause
}

func (e *Engine) recordFailure(ctx context.Context, logger *slog.Logger, repo *model.Repository, task *model.SyncTask, cause error) error {
	logger.Error("Lifecycle operation failed", "error", cause)
	if err := e.ledger.MarkFailed(ctx, task, cause); err != nil {
		logger.Error("Failed to record task failure", "error", err)
	}
	if err := e.setStatus(ctx, repo.ID, model.StatusFailed, cause.Error(), repo.FailureStreak+1); err != nil {
		logger.Error("Failed to record failure status", "error", err)
	}
	return cause
}

// recordSyncFailure leaves the repository status untouched until failures
// are consecutive beyond the threshold.
func (e *Engine) recordSyncFailure(ctx context.Context, logger *slog.Logger, repo *model.Repository, task *model.SyncTask, cause error) error {
	logger.Error("Sync failed", "error", cause, "streak", repo.FailureStreak+1)
	if err := e.ledger.MarkFailed(ctx, task, cause); err != nil {
		logger.Error("Failed to record task failure", "error", err)
	}

	streak := repo.FailureStreak + 1
	status := repo.Status
	if streak >= e.opts.FailureThreshold {
		status = model.StatusFailed
		logger.Error("Consecutive sync failures exceeded threshold, marking repository failed", "streak", streak)
	}
	if err := e.setStatus(ctx, repo.ID, status, cause.Error(), streak); err != nil {
		logger.Error("Failed to record failure status", "error", err)
	}
	return cause
}

func (e *Engine) setStatus(ctx context.Context, repositoryID int64, status model.Status, errMsg string, streak int) error {
	return e.db.UpdateRepositoryStatus(ctx, database.UpdateRepositoryStatusParams{
		ID:            repositoryID,
		Status:        status,
		ErrorMessage:  errMsg,
		FailureStreak: streak,
	})
}

func (e *Engine) loadRepository(ctx context.Context, repositoryID int64) (model.Repository, error) {
	repo, err := e.db.GetRepositoryByID(ctx, repositoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Repository{}, apperrors.New(apperrors.KindNotFound, "repository %d not found", repositoryID)
	}
	return repo, err
}

func (e *Engine) latestCommitDate(ctx context.Context, repositoryID int64) (time.Time, error) {
	ts, err := e.db.GetLatestCommitDateForRepo(ctx, repositoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !ts.Valid {
		return time.Time{}, nil
	}
	return ts.Time, nil
}

func prepareCommitBulkInsert(repositoryID int64, commits []model.CommitInfo) []database.CreateCommitParams {
	params := make([]database.CreateCommitParams, len(commits))
	for i, c := range commits {
		params[i] = database.CreateCommitParams{
			RepositoryID:   repositoryID,
			Hash:           c.SHA,
			AuthorName:     c.AuthorName,
			AuthorEmail:    c.AuthorEmail,
			CommitterName:  c.CommitterName,
			CommitterEmail: c.CommitterEmail,
			Message:        c.Message,
			Summary:        c.Summary,
			AuthoredAt:     c.AuthoredAt,
			CommittedAt:    c.CommittedAt,
			Parents:        c.Parents,
		}
	}
	return params
}
