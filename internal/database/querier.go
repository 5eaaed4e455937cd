// internal/database/querier.go
package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"gitfleet/internal/model"
)

// Querier is the storage contract consumed by the sync engine and the API.
// The concrete implementation runs against Postgres; tests substitute a mock.
type Querier interface {
	CreateRepository(ctx context.Context, arg CreateRepositoryParams) (model.Repository, error)
	GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error)
	GetRepositoryByOrgAndName(ctx context.Context, arg GetRepositoryByOrgAndNameParams) (model.Repository, error)
	ListRepositoriesByOrganisation(ctx context.Context, organisation string) ([]model.Repository, error)
	ListAutoSyncDue(ctx context.Context, now time.Time) ([]model.Repository, error)
	UpdateRepositoryStatus(ctx context.Context, arg UpdateRepositoryStatusParams) error
	UpdateRepositorySyncData(ctx context.Context, arg UpdateRepositorySyncDataParams) (model.Repository, error)

	UpsertBranch(ctx context.Context, arg UpsertBranchParams) error
	PruneBranches(ctx context.Context, arg PruneBranchesParams) (int64, error)
	ListBranches(ctx context.Context, repositoryID int64) ([]model.Branch, error)

	CreateCommits(ctx context.Context, arg []CreateCommitParams) (int64, error)
	GetLatestCommitDateForRepo(ctx context.Context, repositoryID int64) (pgtype.Timestamptz, error)
	ListCommitsByRepo(ctx context.Context, arg ListCommitsByRepoParams) ([]model.Commit, error)

	CreateSyncTask(ctx context.Context, arg CreateSyncTaskParams) (model.SyncTask, error)
	GetSyncTask(ctx context.Context, id int64) (model.SyncTask, error)
	GetSyncTaskByTaskID(ctx context.Context, taskID string) (model.SyncTask, error)
	UpdateSyncTask(ctx context.Context, arg UpdateSyncTaskParams) error
}

type CreateRepositoryParams struct {
	Organisation  string
	Name          string
	Description   *string
	SourceURL     string
	SourceKind    model.SourceKind
	LocalPath     string
	IsBare        bool
	IsMirror      bool
	IsPublic      bool
	DefaultBranch string
	AutoSync      bool
	SyncInterval  time.Duration
}

type GetRepositoryByOrgAndNameParams struct {
	Organisation string
	Name         string
}

type UpdateRepositoryStatusParams struct {
	ID            int64
	Status        model.Status
	ErrorMessage  string
	FailureStreak int
}

type UpdateRepositorySyncDataParams struct {
	ID             int64
	DefaultBranch  string
	LastCommitHash string
	TotalCommits   int
}

type UpsertBranchParams struct {
	RepositoryID int64
	Name         string
	CommitHash   string
	IsDefault    bool
}

// PruneBranches deletes branch rows whose name is not in Keep, reconciling
// branches deleted upstream.
type PruneBranchesParams struct {
	RepositoryID int64
	Keep         []string
}

type CreateCommitParams struct {
	RepositoryID   int64
	Hash           string
	AuthorName     string
	AuthorEmail    string
	CommitterName  string
	CommitterEmail string
	Message        string
	Summary        string
	AuthoredAt     time.Time
	CommittedAt    time.Time
	Parents        []string
}

type ListCommitsByRepoParams struct {
	RepositoryID int64
	Limit        int32
	Skip         int32
}

type CreateSyncTaskParams struct {
	RepositoryID int64
	TaskID       string
}

type UpdateSyncTaskParams struct {
	ID            int64
	Status        model.TaskStatus
	StartedAt     pgtype.Timestamptz
	CompletedAt   pgtype.Timestamptz
	ErrorMessage  string
	CommitsSynced int
}
