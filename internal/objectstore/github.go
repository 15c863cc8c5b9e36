package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gofri/go-github-ratelimit/github_ratelimit"
	"github.com/google/go-github/v81/github"
)

// SchemeGitHub is the URL scheme served by GitHub.
const SchemeGitHub = "github"

// GitHub reads files from repository contents. Keys have the form
// github://owner/repo/path/to/file[@ref]; without a ref the default branch
// is read.
type GitHub struct {
	client *github.Client
}

// NewGitHubClient creates a GitHub API client that waits out primary and
// secondary rate limits. An empty token gives unauthenticated access.
func NewGitHubClient(token string) (*github.Client, error) {
	rateLimiter, err := github_ratelimit.NewRateLimitWaiterClient(nil)
	if err != nil {
		return nil, err
	}
	client := github.NewClient(rateLimiter)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return client, nil
}

// NewGitHub wraps an API client as a read-only store.
func NewGitHub(client *github.Client) *GitHub {
	return &GitHub{client: client}
}

// Get implements Store.
func (g *GitHub) Get(ctx context.Context, key string) ([]byte, error) {
	loc, err := parseGitHubKey(key)
	if err != nil {
		return nil, err
	}

	var opts *github.RepositoryContentGetOptions
	if loc.ref != "" {
		opts = &github.RepositoryContentGetOptions{Ref: loc.ref}
	}

	fileContent, dirContents, _, err := g.client.Repositories.GetContents(ctx, loc.owner, loc.repo, loc.path, opts)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to get content of %s: %w", key, err)
	}
	if fileContent == nil {
		if dirContents != nil {
			return nil, fmt.Errorf("%w: %s is a directory", ErrInvalidKey, key)
		}
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	// Files over 1 MB come back without inline content.
	if fileContent.GetEncoding() == "none" || (fileContent.Content == nil && fileContent.GetSize() > 0) {
		return g.download(ctx, loc, opts)
	}

	content, err := fileContent.GetContent()
	if err != nil {
		return nil, fmt.Errorf("failed to decode content of %s: %w", key, err)
	}
	return []byte(content), nil
}

// Put implements Store. Repository contents are never written.
func (g *GitHub) Put(ctx context.Context, key string, data []byte) error {
	return ErrReadOnly
}

func (g *GitHub) download(ctx context.Context, loc githubLocation, opts *github.RepositoryContentGetOptions) ([]byte, error) {
	rc, _, err := g.client.Repositories.DownloadContents(ctx, loc.owner, loc.repo, loc.path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", loc.path, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type githubLocation struct {
	owner, repo, path, ref string
}

func parseGitHubKey(key string) (githubLocation, error) {
	scheme, rest := SplitKey(key)
	if scheme != SchemeGitHub {
		return githubLocation{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}

	var loc githubLocation
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest, loc.ref = rest[:i], rest[i+1:]
	}
	parts := strings.SplitN(strings.Trim(rest, "/"), "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return githubLocation{}, fmt.Errorf("%w: %s", ErrInvalidKey, key)
	}
	loc.owner, loc.repo, loc.path = parts[0], parts[1], parts[2]
	return loc, nil
}
