// internal/database/queries.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"gitfleet/internal/model"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx, so the same queries run
// inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements Querier against a pgx connection source.
type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

const repositoryColumns = `id, organisation, name, description, source_url, source_kind,
	local_path, is_bare, is_mirror, is_public, default_branch, status,
	last_synced_at, last_commit_hash, total_commits, error_message,
	failure_streak, auto_sync, sync_interval_seconds, created_at, updated_at`

func scanRepository(row pgx.Row) (model.Repository, error) {
	var r model.Repository
	var intervalSeconds int64
	err := row.Scan(
		&r.ID, &r.Organisation, &r.Name, &r.Description, &r.SourceURL, &r.SourceKind,
		&r.LocalPath, &r.IsBare, &r.IsMirror, &r.IsPublic, &r.DefaultBranch, &r.Status,
		&r.LastSyncedAt, &r.LastCommitHash, &r.TotalCommits, &r.ErrorMessage,
		&r.FailureStreak, &r.AutoSync, &intervalSeconds, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return model.Repository{}, err
	}
	r.SyncInterval = time.Duration(intervalSeconds) * time.Second
	return r, nil
}

func (q *Queries) CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO git_repositories (
			organisation, name, description, source_url, source_kind, local_path,
			is_bare, is_mirror, is_public, default_branch, status, auto_sync,
			sync_interval_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending', $11, $12)
		RETURNING `+repositoryColumns,
		arg.Organisation, arg.Name, arg.Description, arg.SourceURL, arg.SourceKind,
		arg.LocalPath, arg.IsBare, arg.IsMirror, arg.IsPublic, arg.DefaultBranch,
		arg.AutoSync, int64(arg.SyncInterval/time.Second),
	)
	return scanRepository(row)
}

func (q *Queries) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error) {
	row := q.db.QueryRow(ctx, `SELECT `+repositoryColumns+` FROM git_repositories WHERE id = $1`, id)
	return scanRepository(row)
}

func (q *Queries) GetRepositoryByOrgAndName(ctx context.Context, arg GetRepositoryByOrgAndNameParams) (model.Repository, error) {
	row := q.db.QueryRow(ctx, `
		SELECT `+repositoryColumns+` FROM git_repositories
		WHERE organisation = $1 AND name = $2`,
		arg.Organisation, arg.Name,
	)
	return scanRepository(row)
}

func (q *Queries) listRepositories(ctx context.Context, sql string, args ...any) ([]model.Repository, error) {
	rows, err := q.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (q *Queries) ListRepositoriesByOrganisation(ctx context.Context, organisation string) ([]model.Repository, error) {
	return q.listRepositories(ctx, `
		SELECT `+repositoryColumns+` FROM git_repositories
		WHERE organisation = $1
		ORDER BY created_at DESC`,
		organisation,
	)
}

func (q *Queries) ListAutoSyncDue(ctx context.Context, now time.Time) ([]model.Repository, error) {
	return q.listRepositories(ctx, `
		SELECT `+repositoryColumns+` FROM git_repositories
		WHERE status = 'active' AND auto_sync
		  AND (last_synced_at IS NULL
		    OR last_synced_at + make_interval(secs => sync_interval_seconds) <= $1)
		ORDER BY last_synced_at NULLS FIRST`,
		now,
	)
}

func (q *Queries) UpdateRepositoryStatus(ctx context.Context, arg UpdateRepositoryStatusParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE git_repositories
		SET status = $2, error_message = $3, failure_streak = $4, updated_at = now()
		WHERE id = $1`,
		arg.ID, arg.Status, arg.ErrorMessage, arg.FailureStreak,
	)
	return err
}

func (q *Queries) UpdateRepositorySyncData(ctx context.Context, arg UpdateRepositorySyncDataParams) (model.Repository, error) {
	row := q.db.QueryRow(ctx, `
		UPDATE git_repositories
		SET default_branch = $2, last_commit_hash = $3, total_commits = $4,
		    last_synced_at = now(), error_message = '', failure_streak = 0,
		    updated_at = now()
		WHERE id = $1
		RETURNING `+repositoryColumns,
		arg.ID, arg.DefaultBranch, arg.LastCommitHash, arg.TotalCommits,
	)
	return scanRepository(row)
}

func (q *Queries) UpsertBranch(ctx context.Context, arg UpsertBranchParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO git_branches (repository_id, name, commit_hash, is_default)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (repository_id, name)
		DO UPDATE SET commit_hash = EXCLUDED.commit_hash,
		              is_default = EXCLUDED.is_default,
		              last_updated = now()`,
		arg.RepositoryID, arg.Name, arg.CommitHash, arg.IsDefault,
	)
	return err
}

func (q *Queries) PruneBranches(ctx context.Context, arg PruneBranchesParams) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM git_branches
		WHERE repository_id = $1 AND name <> ALL($2)`,
		arg.RepositoryID, arg.Keep,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) ListBranches(ctx context.Context, repositoryID int64) ([]model.Branch, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, repository_id, name, commit_hash, is_default, last_updated
		FROM git_branches
		WHERE repository_id = $1
		ORDER BY name`,
		repositoryID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []model.Branch
	for rows.Next() {
		var b model.Branch
		if err := rows.Scan(&b.ID, &b.RepositoryID, &b.Name, &b.CommitHash, &b.IsDefault, &b.LastUpdated); err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (q *Queries) CreateCommits(ctx context.Context, arg []CreateCommitParams) (int64, error) {
	var inserted int64
	for _, c := range arg {
		tag, err := q.db.Exec(ctx, `
			INSERT INTO git_commits (
				repository_id, commit_hash, author_name, author_email,
				committer_name, committer_email, message, summary,
				authored_at, committed_at, parents
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (repository_id, commit_hash) DO NOTHING`,
			c.RepositoryID, c.Hash, c.AuthorName, c.AuthorEmail,
			c.CommitterName, c.CommitterEmail, c.Message, c.Summary,
			c.AuthoredAt, c.CommittedAt, c.Parents,
		)
		if err != nil {
			return inserted, err
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

func (q *Queries) GetLatestCommitDateForRepo(ctx context.Context, repositoryID int64) (pgtype.Timestamptz, error) {
	var ts pgtype.Timestamptz
	err := q.db.QueryRow(ctx, `
		SELECT committed_at FROM git_commits
		WHERE repository_id = $1
		ORDER BY committed_at DESC
		LIMIT 1`,
		repositoryID,
	).Scan(&ts)
	return ts, err
}

func (q *Queries) ListCommitsByRepo(ctx context.Context, arg ListCommitsByRepoParams) ([]model.Commit, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, repository_id, commit_hash, author_name, author_email,
		       committer_name, committer_email, message, summary,
		       authored_at, committed_at, parents, synced_at
		FROM git_commits
		WHERE repository_id = $1
		ORDER BY committed_at DESC, commit_hash
		OFFSET $2 LIMIT $3`,
		arg.RepositoryID, arg.Skip, arg.Limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commits []model.Commit
	for rows.Next() {
		var c model.Commit
		if err := rows.Scan(
			&c.ID, &c.RepositoryID, &c.Hash, &c.AuthorName, &c.AuthorEmail,
			&c.CommitterName, &c.CommitterEmail, &c.Message, &c.Summary,
			&c.AuthoredAt, &c.CommittedAt, &c.Parents, &c.SyncedAt,
		); err != nil {
			return nil, err
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

const syncTaskColumns = `id, repository_id, status, started_at, completed_at,
	error_message, commits_synced, task_id, created_at`

func scanSyncTask(row pgx.Row) (model.SyncTask, error) {
	var t model.SyncTask
	err := row.Scan(
		&t.ID, &t.RepositoryID, &t.Status, &t.StartedAt, &t.CompletedAt,
		&t.ErrorMessage, &t.CommitsSynced, &t.TaskID, &t.CreatedAt,
	)
	return t, err
}

func (q *Queries) CreateSyncTask(ctx context.Context, arg CreateSyncTaskParams) (model.SyncTask, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO sync_tasks (repository_id, task_id)
		VALUES ($1, $2)
		RETURNING `+syncTaskColumns,
		arg.RepositoryID, arg.TaskID,
	)
	return scanSyncTask(row)
}

func (q *Queries) GetSyncTask(ctx context.Context, id int64) (model.SyncTask, error) {
	row := q.db.QueryRow(ctx, `SELECT `+syncTaskColumns+` FROM sync_tasks WHERE id = $1`, id)
	return scanSyncTask(row)
}

func (q *Queries) GetSyncTaskByTaskID(ctx context.Context, taskID string) (model.SyncTask, error) {
	row := q.db.QueryRow(ctx, `SELECT `+syncTaskColumns+` FROM sync_tasks WHERE task_id = $1`, taskID)
	return scanSyncTask(row)
}

func (q *Queries) UpdateSyncTask(ctx context.Context, arg UpdateSyncTaskParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE sync_tasks
		SET status = $2, started_at = $3, completed_at = $4,
		    error_message = $5, commits_synced = $6
		WHERE id = $1`,
		arg.ID, arg.Status, arg.StartedAt, arg.CompletedAt,
		arg.ErrorMessage, arg.CommitsSynced,
	)
	return err
}
