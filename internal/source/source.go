// internal/source/source.go

// Package source selects the clone-URL construction and auth strategy for a
// repository's external host. Source kinds differ only in how the clone URL
// is authenticated and whether metadata can be probed; everything downstream
// is identical, so the kinds form a strategy table, not a hierarchy.
package source

import (
	"context"
	"log/slog"
	"net/url"

	apperrors "gitfleet/internal/errors"
	"gitfleet/internal/github"
	"gitfleet/internal/model"
)

// Tokens carries optional per-host credentials.
type Tokens struct {
	GitHub string
	GitLab string
	Gitea  string
}

// Resolver builds authenticated clone URLs and probes host metadata.
type Resolver struct {
	tokens Tokens
	gh     *github.Client
	logger *slog.Logger
}

func NewResolver(tokens Tokens, logger *slog.Logger) *Resolver {
	return &Resolver{
		tokens: tokens,
		gh:     github.NewClient(tokens.GitHub, logger),
		logger: logger,
	}
}

// GithubClient exposes the underlying probe client, used by tests to point
// it at a mock server.
func (r *Resolver) GithubClient() *github.Client { return r.gh }

type strategy struct {
	// username paired with the host token in the URL userinfo section.
	authUser string
	token    func(Tokens) string
}

var strategies = map[model.SourceKind]strategy{
	model.SourceGitHub: {authUser: "x-access-token", token: func(t Tokens) string { return t.GitHub }},
	model.SourceGitLab: {authUser: "oauth2", token: func(t Tokens) string { return t.GitLab }},
	model.SourceGitea:  {authUser: "git", token: func(t Tokens) string { return t.Gitea }},
	model.SourceCustom: {},
	model.SourceNone:   {},
}

// CloneURL returns the URL to clone repo from, with host credentials
// injected when configured. Custom sources pass through untouched.
func (r *Resolver) CloneURL(repo model.Repository) (string, error) {
	if repo.SourceURL == "" {
		return "", apperrors.New(apperrors.KindInvalidState, "repository %s/%s has no source URL", repo.Organisation, repo.Name)
	}
	strat, ok := strategies[repo.SourceKind]
	if !ok {
		return "", apperrors.New(apperrors.KindInvalidState, "unknown source kind %q", repo.SourceKind)
	}
	if strat.token == nil || strat.token(r.tokens) == "" {
		return repo.SourceURL, nil
	}

	parsed, err := url.Parse(repo.SourceURL)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindInvalidState, err, "invalid source URL %q", repo.SourceURL)
	}
	parsed.User = url.UserPassword(strat.authUser, strat.token(r.tokens))
	return parsed.String(), nil
}

// Probe asks the external host for repository metadata before a migrate.
// Only github exposes a probe; other kinds return nil without error.
func (r *Resolver) Probe(ctx context.Context, repo model.Repository) (*github.Metadata, error) {
	if repo.SourceKind != model.SourceGitHub {
		return nil, nil
	}
	owner, name, ok := github.SplitOwnerRepo(repo.SourceURL)
	if !ok {
		return nil, nil
	}
	meta, err := r.gh.GetRepository(ctx, owner, name)
	if err != nil {
		// The probe is advisory; the clone itself decides success.
		r.logger.Warn("GitHub metadata probe failed", "owner", owner, "repo", name, "error", err)
		return nil, nil
	}
	return meta, nil
}
