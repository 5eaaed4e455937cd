// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	"gitfleet/internal/database"
	"gitfleet/internal/gitrepo"
	"gitfleet/internal/model"
	"gitfleet/internal/store"
	"gitfleet/internal/syncer"
)

// Handler is the container for API dependencies.
type Handler struct {
	db     database.Querier
	engine *syncer.Engine
	store  *store.Store
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, engine *syncer.Engine, st *store.Store, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		engine: engine,
		store:  st,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/repositories", h.createRepository)
		r.Get("/organisations/{org}/repositories", h.listRepositories)

		r.Route("/repositories/{id}", func(r chi.Router) {
			r.Get("/", h.getRepository)
			r.Post("/migrate", h.migrateRepository)
			r.Post("/sync", h.syncRepository)
			r.Get("/branches", h.listBranches)
			r.Get("/tags", h.listTags)
			r.Get("/commits", h.listCommits)
			r.Get("/files", h.getFile)
			r.Get("/tree", h.listTree)
		})

		r.Get("/tasks/{taskId}", h.getTask)
		r.Post("/tasks/{taskId}/cancel", h.cancelTask)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRepositoryRequest struct {
	Organisation  string  `json:"organisation"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	SourceURL     string  `json:"source_url,omitempty"`
	SourceKind    string  `json:"source_kind,omitempty"`
	IsMirror      bool    `json:"is_mirror"`
	IsPublic      bool    `json:"is_public"`
	AutoSync      bool    `json:"auto_sync"`
	SyncInterval  int     `json:"sync_interval_seconds,omitempty"`
	DefaultBranch string  `json:"default_branch,omitempty"`
}

// createRepository registers a repository record. Repositories without a
// source URL are initialized in the background; repositories with one stay
// pending until an explicit migrate call.
// POST /v1/repositories
func (h *Handler) createRepository(w http.ResponseWriter, r *http.Request) {
	var req createRepositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Organisation == "" || req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "'organisation' and 'name' are required")
		return
	}
	kind := model.SourceNone
	if req.SourceURL != "" {
		kind = model.SourceCustom
		if req.SourceKind != "" {
			kind = model.SourceKind(req.SourceKind)
		}
	}
	interval := 6 * time.Hour
	if req.SyncInterval > 0 {
		interval = time.Duration(req.SyncInterval) * time.Second
	}

	repo, err := h.db.CreateRepository(r.Context(), database.CreateRepositoryParams{
		Organisation:  req.Organisation,
		Name:          req.Name,
		Description:   req.Description,
		SourceURL:     req.SourceURL,
		SourceKind:    kind,
		LocalPath:     h.store.Resolve(req.Organisation, req.Name),
		IsBare:        true,
		IsMirror:      req.IsMirror,
		IsPublic:      req.IsPublic,
		DefaultBranch: req.DefaultBranch,
		AutoSync:      req.AutoSync,
		SyncInterval:  interval,
	})
	if err != nil {
		h.logger.Error("Failed to create repository", "error", err)
		respondWithError(w, http.StatusConflict, "Repository already exists or is invalid")
		return
	}

	if repo.SourceURL == "" {
		h.engine.DispatchInitialize(repo.ID)
	}
	respondWithJSON(w, http.StatusCreated, repo)
}

// getRepository returns a single repository record.
// GET /v1/repositories/{id}
func (h *Handler) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	respondWithJSON(w, http.StatusOK, repo)
}

// listRepositories lists every repository registered under an organisation.
// GET /v1/organisations/{org}/repositories
func (h *Handler) listRepositories(w http.ResponseWriter, r *http.Request) {
	org := chi.URLParam(r, "org")
	repos, err := h.db.ListRepositoriesByOrganisation(r.Context(), org)
	if err != nil {
		h.logger.Error("Failed to list repositories", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, repos)
}

type migrateRequest struct {
	Force bool `json:"force"`
}

// migrateRepository dispatches a background clone from the source URL and
// returns the pending task for polling.
// POST /v1/repositories/{id}/migrate
func (h *Handler) migrateRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	var req migrateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondWithError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	task, err := h.engine.DispatchMigrate(r.Context(), repo.ID, req.Force)
	if err != nil {
		h.respondWithDomainError(w, "Failed to dispatch migrate", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, task)
}

// syncRepository dispatches a background sync and returns the pending task.
// POST /v1/repositories/{id}/sync
func (h *Handler) syncRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	task, err := h.engine.DispatchSync(r.Context(), repo.ID)
	if err != nil {
		h.respondWithDomainError(w, "Failed to dispatch sync", err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, task)
}

// listBranches returns the projected branch records for a repository.
// GET /v1/repositories/{id}/branches
func (h *Handler) listBranches(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	branches, err := h.db.ListBranches(r.Context(), repo.ID)
	if err != nil {
		h.logger.Error("Failed to list branches", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, branches)
}

// listTags reads tags straight from the repository store.
// GET /v1/repositories/{id}/tags
func (h *Handler) listTags(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	tags, err := gitrepo.NewRefsHandler(h.store, repo.LocalPath).ListTags()
	if err != nil {
		h.respondWithDomainError(w, "Failed to list tags", err)
		return
	}
	respondWithJSON(w, http.StatusOK, tags)
}

// listCommits returns the cached commit records, newest first.
// GET /v1/repositories/{id}/commits?limit=N&skip=M
func (h *Handler) listCommits(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", 50, 1, 500)
	if !ok {
		return
	}
	skip, ok := queryInt(w, r, "skip", 0, 0, 1<<30)
	if !ok {
		return
	}

	commits, err := h.db.ListCommitsByRepo(r.Context(), database.ListCommitsByRepoParams{
		RepositoryID: repo.ID,
		Limit:        int32(limit),
		Skip:         int32(skip),
	})
	if err != nil {
		h.logger.Error("Failed to list commits", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, commits)
}

// getFile returns the raw blob content of a file at a reference.
// GET /v1/repositories/{id}/files?path=README.md&ref=main
func (h *Handler) getFile(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		respondWithError(w, http.StatusBadRequest, "'path' query parameter is required")
		return
	}
	ref := r.URL.Query().Get("ref")

	content, err := gitrepo.NewContentHandler(h.store, repo.LocalPath).GetFileContent(path, ref)
	if err != nil {
		h.respondWithDomainError(w, "Failed to read file", err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(content)
}

// listTree lists a directory at a reference.
// GET /v1/repositories/{id}/tree?path=src&ref=main
func (h *Handler) listTree(w http.ResponseWriter, r *http.Request) {
	repo, ok := h.repoFromPath(w, r)
	if !ok {
		return
	}
	path := r.URL.Query().Get("path")
	ref := r.URL.Query().Get("ref")

	entries, err := gitrepo.NewContentHandler(h.store, repo.LocalPath).ListDirectory(path, ref)
	if err != nil {
		h.respondWithDomainError(w, "Failed to list directory", err)
		return
	}
	respondWithJSON(w, http.StatusOK, entries)
}

// getTask returns a ledger task by its external identifier.
// GET /v1/tasks/{taskId}
func (h *Handler) getTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := h.db.GetSyncTaskByTaskID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("Failed to get task", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusOK, task)
}

// cancelTask flags a running task for cooperative cancellation.
// POST /v1/tasks/{taskId}/cancel
func (h *Handler) cancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")
	task, err := h.db.GetSyncTaskByTaskID(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Task not found")
			return
		}
		h.logger.Error("Failed to get task", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if task.Status == model.TaskCompleted || task.Status == model.TaskFailed {
		respondWithError(w, http.StatusConflict, "Task already finished")
		return
	}
	h.engine.Cancel(task.TaskID)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "cancellation requested"})
}

// repoFromPath resolves the {id} path parameter to a repository record,
// writing the error response itself when resolution fails.
func (h *Handler) repoFromPath(w http.ResponseWriter, r *http.Request) (model.Repository, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return model.Repository{}, false
	}
	repo, err := h.db.GetRepositoryByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return model.Repository{}, false
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return model.Repository{}, false
	}
	return repo, true
}

func (h *Handler) respondWithDomainError(w http.ResponseWriter, msg string, err error) {
	code := statusForKind(err)
	if code == http.StatusInternalServerError {
		h.logger.Error(msg, "error", err)
		respondWithError(w, code, "Internal server error")
		return
	}
	respondWithError(w, code, err.Error())
}

func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		respondWithError(w, http.StatusBadRequest, "Invalid '"+name+"' parameter")
		return 0, false
	}
	return v, true
}
