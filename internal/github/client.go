// internal/github/client.go
package github

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

// Metadata is the subset of remote repository details the engine cares about
// before a migrate: the upstream default branch and description.
type Metadata struct {
	DefaultBranch string
	Description   string
	Private       bool
}

// Client is a wrapper around the go-github client, used by the github
// source-kind strategy to probe repository metadata.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	var tc = oauth2.NewClient(ctx, nil)
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(ctx, ts)
	}

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// GetRepository fetches repository details and translates them to Metadata.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*Metadata, error) {
	c.logger.Debug("Probing GitHub repository", "owner", owner, "repo", name)
	repo, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		DefaultBranch: repo.GetDefaultBranch(),
		Description:   repo.GetDescription(),
		Private:       repo.GetPrivate(),
	}, nil
}

// OverrideBaseURL points the client at a different API endpoint, used by
// tests with a mock server.
func (c *Client) OverrideBaseURL(baseURL string) error {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return err
	}
	c.gh.BaseURL = parsed
	return nil
}

// SplitOwnerRepo extracts the owner and repository name from a clone URL
// such as https://github.com/acme/demo.git.
func SplitOwnerRepo(sourceURL string) (owner, name string, ok bool) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}
