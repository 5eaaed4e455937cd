// internal/api/handler_test.go
package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"gitfleet/internal/database"
	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/model"
	"gitfleet/internal/source"
	"gitfleet/internal/store"
	"gitfleet/internal/syncer"
)

// MockQuerier is a mock of the database.Querier interface.
type MockQuerier struct {
	mock.Mock
}

func (m *MockQuerier) CreateRepository(ctx context.Context, arg database.CreateRepositoryParams) (model.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockQuerier) GetRepositoryByID(ctx context.Context, id int64) (model.Repository, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockQuerier) GetRepositoryByOrgAndName(ctx context.Context, arg database.GetRepositoryByOrgAndNameParams) (model.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockQuerier) ListRepositoriesByOrganisation(ctx context.Context, organisation string) ([]model.Repository, error) {
	args := m.Called(ctx, organisation)
	return args.Get(0).([]model.Repository), args.Error(1)
}
func (m *MockQuerier) ListAutoSyncDue(ctx context.Context, now time.Time) ([]model.Repository, error) {
	args := m.Called(ctx, now)
	return args.Get(0).([]model.Repository), args.Error(1)
}
func (m *MockQuerier) UpdateRepositoryStatus(ctx context.Context, arg database.UpdateRepositoryStatusParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}
func (m *MockQuerier) UpdateRepositorySyncData(ctx context.Context, arg database.UpdateRepositorySyncDataParams) (model.Repository, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.Repository), args.Error(1)
}
func (m *MockQuerier) UpsertBranch(ctx context.Context, arg database.UpsertBranchParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}
func (m *MockQuerier) PruneBranches(ctx context.Context, arg database.PruneBranchesParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) ListBranches(ctx context.Context, repositoryID int64) ([]model.Branch, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).([]model.Branch), args.Error(1)
}
func (m *MockQuerier) CreateCommits(ctx context.Context, arg []database.CreateCommitParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *MockQuerier) GetLatestCommitDateForRepo(ctx context.Context, repositoryID int64) (pgtype.Timestamptz, error) {
	args := m.Called(ctx, repositoryID)
	return args.Get(0).(pgtype.Timestamptz), args.Error(1)
}
func (m *MockQuerier) ListCommitsByRepo(ctx context.Context, arg database.ListCommitsByRepoParams) ([]model.Commit, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]model.Commit), args.Error(1)
}
func (m *MockQuerier) CreateSyncTask(ctx context.Context, arg database.CreateSyncTaskParams) (model.SyncTask, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(model.SyncTask), args.Error(1)
}
func (m *MockQuerier) GetSyncTask(ctx context.Context, id int64) (model.SyncTask, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(model.SyncTask), args.Error(1)
}
func (m *MockQuerier) GetSyncTaskByTaskID(ctx context.Context, taskID string) (model.SyncTask, error) {
	args := m.Called(ctx, taskID)
	return args.Get(0).(model.SyncTask), args.Error(1)
}
func (m *MockQuerier) UpdateSyncTask(ctx context.Context, arg database.UpdateSyncTaskParams) error {
	args := m.Called(ctx, arg)
	return args.Error(0)
}

func newTestRouter(t *testing.T, mockQ *MockQuerier) http.Handler {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	st := store.New(t.TempDir())
	engine := syncer.NewEngine(mockQ, syncer.NewStoreBackend(st), source.NewResolver(source.Tokens{}, logger), logger, syncer.Options{})
	return NewRouter(mockQ, engine, st, logger)
}

func TestHandler_Health(t *testing.T) {
	router := newTestRouter(t, new(MockQuerier))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandler_GetRepository(t *testing.T) {
	t.Run("returns the repository", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(1)).
			Return(model.Repository{ID: 1, Organisation: "acme", Name: "widgets", Status: model.StatusActive}, nil).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories/1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "widgets")
		mockQ.AssertExpectations(t)
	})

	t.Run("unknown id is a 404", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(99)).
			Return(model.Repository{}, pgx.ErrNoRows).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories/99", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("non-numeric id is a 400", func(t *testing.T) {
		router := newTestRouter(t, new(MockQuerier))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories/abc", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_CreateRepository(t *testing.T) {
	t.Run("creates a pending record", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("CreateRepository", mock.Anything, mock.MatchedBy(func(p database.CreateRepositoryParams) bool {
			return p.Organisation == "acme" && p.Name == "widgets" && p.IsBare &&
				p.SourceKind == model.SourceCustom && strings.HasSuffix(p.LocalPath, "acme/widgets")
		})).Return(model.Repository{ID: 1, Status: model.StatusPending, SourceURL: "https://example.com/w.git"}, nil).Once()
		router := newTestRouter(t, mockQ)

		body := `{"organisation":"acme","name":"widgets","source_url":"https://example.com/w.git"}`
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/repositories", strings.NewReader(body)))

		assert.Equal(t, http.StatusCreated, rec.Code)
		mockQ.AssertExpectations(t)
	})

	t.Run("missing fields are a 400", func(t *testing.T) {
		router := newTestRouter(t, new(MockQuerier))

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/repositories", strings.NewReader(`{"name":"x"}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandler_Migrate(t *testing.T) {
	t.Run("archived repository is a 409", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(1)).
			Return(model.Repository{ID: 1, Status: model.StatusArchived, SourceURL: "u"}, nil).Twice()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/repositories/1/migrate", strings.NewReader(`{"force":false}`)))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_Sync(t *testing.T) {
	t.Run("non-active repository is a 409", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(1)).
			Return(model.Repository{ID: 1, Status: model.StatusPending}, nil).Twice()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/repositories/1/sync", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandler_ListCommits(t *testing.T) {
	t.Run("passes pagination through", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(1)).
			Return(model.Repository{ID: 1, Status: model.StatusActive}, nil).Once()
		mockQ.On("ListCommitsByRepo", mock.Anything, database.ListCommitsByRepoParams{
			RepositoryID: 1, Limit: 10, Skip: 5,
		}).Return([]model.Commit{{Hash: "abc", Summary: "fix"}}, nil).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories/1/commits?limit=10&skip=5", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "abc")
		mockQ.AssertExpectations(t)
	})

	t.Run("rejects an out-of-range limit", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetRepositoryByID", mock.Anything, int64(1)).
			Return(model.Repository{ID: 1}, nil).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/repositories/1/commits?limit=9999", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mockQ.AssertNotCalled(t, "ListCommitsByRepo")
	})
}

func TestHandler_GetTask(t *testing.T) {
	t.Run("returns the task", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetSyncTaskByTaskID", mock.Anything, "task-1").
			Return(model.SyncTask{ID: 1, TaskID: "task-1", Status: model.TaskCompleted}, nil).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/task-1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "completed")
	})

	t.Run("unknown task is a 404", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetSyncTaskByTaskID", mock.Anything, "nope").
			Return(model.SyncTask{}, pgx.ErrNoRows).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/tasks/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("cancelling a finished task is a 409", func(t *testing.T) {
		mockQ := new(MockQuerier)
		mockQ.On("GetSyncTaskByTaskID", mock.Anything, "task-1").
			Return(model.SyncTask{ID: 1, TaskID: "task-1", Status: model.TaskCompleted}, nil).Once()
		router := newTestRouter(t, mockQ)

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/tasks/task-1/cancel", nil))

		assert.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestStatusForKind(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusForKind(apperrors.New(apperrors.KindNotFound, "x")))
	assert.Equal(t, http.StatusNotFound, statusForKind(apperrors.New(apperrors.KindInvalidReference, "x")))
	assert.Equal(t, http.StatusBadRequest, statusForKind(apperrors.New(apperrors.KindNotAFile, "x")))
	assert.Equal(t, http.StatusConflict, statusForKind(apperrors.New(apperrors.KindAlreadyExists, "x")))
	assert.Equal(t, http.StatusConflict, statusForKind(apperrors.New(apperrors.KindInvalidState, "x")))
	assert.Equal(t, http.StatusForbidden, statusForKind(apperrors.New(apperrors.KindPermissionDenied, "x")))
	assert.Equal(t, http.StatusBadGateway, statusForKind(apperrors.New(apperrors.KindNetworkFailure, "x")))
	assert.Equal(t, http.StatusInternalServerError, statusForKind(assert.AnError))
}

