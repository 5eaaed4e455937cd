// internal/model/models.go
package model

import (
	"database/sql"
	"time"
)

// Status is the coarse lifecycle state of a repository.
type Status string

const (
	StatusPending      Status = "pending"
	StatusInitializing Status = "initializing"
	StatusMirroring    Status = "mirroring"
	StatusActive       Status = "active"
	StatusFailed       Status = "failed"
	StatusArchived     Status = "archived"
)

// Terminal reports whether no further lifecycle transitions are possible.
// Failed is not terminal: an explicit re-trigger starts a fresh attempt.
func (s Status) Terminal() bool { return s == StatusArchived }

// SourceKind selects the clone-URL/auth strategy for an external host.
type SourceKind string

const (
	SourceGitHub SourceKind = "github"
	SourceGitLab SourceKind = "gitlab"
	SourceGitea  SourceKind = "gitea"
	SourceCustom SourceKind = "custom"
	SourceNone   SourceKind = "none"
)

// TaskStatus is the state of one sync/migrate attempt record.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Repository represents a managed Git repository and its sync metadata.
// The storage path is deterministic from (organisation, name) and unique.
type Repository struct {
	ID             int64
	Organisation   string
	Name           string
	Description    *string
	SourceURL      string
	SourceKind     SourceKind
	LocalPath      string
	IsBare         bool
	IsMirror       bool
	IsPublic       bool
	DefaultBranch  string
	Status         Status
	LastSyncedAt   sql.NullTime
	LastCommitHash string
	TotalCommits   int
	ErrorMessage   string
	FailureStreak  int
	AutoSync       bool
	SyncInterval   time.Duration
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Branch is the persisted projection of one branch head, reconciled on sync.
type Branch struct {
	ID           int64
	RepositoryID int64
	Name         string
	CommitHash   string
	IsDefault    bool
	LastUpdated  time.Time
}

// Commit is an append-only cached projection of a commit discovered during
// sync. Read-only once written.
type Commit struct {
	ID             int64
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
	SyncedAt       time.Time
}

// SyncTask tracks one lifecycle attempt. Terminal once completed or failed.
type SyncTask struct {
	ID            int64
	RepositoryID  int64
	Status        TaskStatus
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
	ErrorMessage  string
	CommitsSynced int
	TaskID        string
	CreatedAt     time.Time
}

// FileEntry describes a file or directory in a repository tree. Computed on
// demand, never persisted.
type FileEntry struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Type string `json:"type"` // "blob" or "tree"
	Size int64  `json:"size,omitempty"`
	Mode uint32 `json:"mode,omitempty"`
	SHA  string `json:"sha,omitempty"`
}

// CommitInfo is transient commit metadata read straight from the store.
type CommitInfo struct {
	SHA            string    `json:"sha"`
	AuthorName     string    `json:"author_name"`
	AuthorEmail    string    `json:"author_email"`
	CommitterName  string    `json:"committer_name"`
	CommitterEmail string    `json:"committer_email"`
	Message        string    `json:"message"`
	Summary        string    `json:"summary"`
	AuthoredAt     time.Time `json:"authored_at"`
	CommittedAt    time.Time `json:"committed_at"`
	Parents        []string  `json:"parents"`
}

// RefInfo is transient branch or tag metadata.
type RefInfo struct {
	Name      string `json:"name"`
	Type      string `json:"type"` // "branch" or "tag"
	CommitSHA string `json:"commit_sha"`
	Message   string `json:"message,omitempty"` // annotated tag message
}
