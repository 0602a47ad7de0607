package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v74/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/stackforge/stackforge/pkg/engine"
)

// DefaultGitHubURL is the public GitHub REST endpoint.
const DefaultGitHubURL = "https://api.github.com/"

// GitHubConfig holds GitHub client configuration.
type GitHubConfig struct {
	// BaseURL is the REST API root (default: https://api.github.com/).
	// GitHub Enterprise installations use https://<host>/api/v3/.
	BaseURL string

	// Token is the OAuth or personal access token. Empty means anonymous,
	// which is enough for public reads only.
	Token string

	// Timeout is the per-request timeout (default: 30s).
	Timeout time.Duration

	// UserAgent is sent with every request (default: stackforge).
	UserAgent string

	// CommitPrefix starts every commit message (default: "stackforge:").
	CommitPrefix string

	// MaxSiblings bounds the CREATE_NEW_ALWAYS search (default: 100).
	MaxSiblings int

	// HTTPClient overrides the base transport. The token is layered on top.
	HTTPClient *http.Client
}

// DefaultGitHubConfig returns a configuration with sensible defaults.
func DefaultGitHubConfig() GitHubConfig {
	return GitHubConfig{
		BaseURL:      DefaultGitHubURL,
		Timeout:      30 * time.Second,
		UserAgent:    "stackforge",
		CommitPrefix: "stackforge:",
		MaxSiblings:  DefaultMaxSiblings,
	}
}

func (c *GitHubConfig) applyDefaults() {
	def := DefaultGitHubConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.CommitPrefix == "" {
		c.CommitPrefix = def.CommitPrefix
	}
	if c.MaxSiblings <= 0 {
		c.MaxSiblings = def.MaxSiblings
	}
}

// GitHubClient implements engine.RemoteRepository over the contents API.
type GitHubClient struct {
	cfg    GitHubConfig
	gh     *github.Client
	logger zerolog.Logger
}

// NewGitHubClient creates a client. The token, when set, is attached as a
// bearer token by an oauth2 transport.
func NewGitHubClient(cfg GitHubConfig, logger zerolog.Logger) (*GitHubClient, error) {
	cfg.applyDefaults()
	baseURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid github base url: %w", err)
	}

	base := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		base = &copied
	}
	httpClient := base
	if cfg.Token != "" {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token}))
	}
	httpClient.Timeout = cfg.Timeout

	gh := github.NewClient(httpClient)
	gh.BaseURL = baseURL
	gh.UserAgent = cfg.UserAgent

	return &GitHubClient{
		cfg:    cfg,
		gh:     gh,
		logger: logger.With().Str("component", "remote.github").Logger(),
	}, nil
}

// ListDirectory lists a directory through the contents API.
func (c *GitHubClient) ListDirectory(ctx context.Context, repo engine.RepoRef, dir string) ([]engine.DirEntry, error) {
	file, items, err := c.getContents(ctx, repo, dir)
	if err != nil {
		return nil, err
	}
	if file != nil {
		return nil, fmt.Errorf("path %q is not a directory", dir)
	}

	entries := make([]engine.DirEntry, 0, len(items))
	for _, item := range items {
		typ := engine.EntryFile
		if item.GetType() == "dir" {
			typ = engine.EntryDir
		}
		entries = append(entries, engine.DirEntry{Name: item.GetName(), Type: typ})
	}
	return entries, nil
}

// GetFileContent fetches and decodes a file. Files above the contents API
// inline limit come back without content and are downloaded instead.
func (c *GitHubClient) GetFileContent(ctx context.Context, repo engine.RepoRef, filePath string) (string, error) {
	file, _, err := c.getContents(ctx, repo, filePath)
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", fmt.Errorf("path %q is a directory", filePath)
	}
	if t := file.GetType(); t != "" && t != "file" {
		return "", fmt.Errorf("path %q is a %s", filePath, t)
	}

	if file.GetEncoding() == "none" && file.GetDownloadURL() != "" {
		return c.download(ctx, file.GetDownloadURL())
	}
	content, err := file.GetContent()
	if err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return content, nil
}

// WriteFile commits content to branch, creating or updating the target the
// strategy resolves to.
func (c *GitHubClient) WriteFile(ctx context.Context, repo engine.RepoRef, branch, filePath, content string, strategy engine.FileHandlingStrategy) (*engine.WriteResult, error) {
	if branch == "" {
		branch = repo.Branch
	}
	ref := repo
	ref.Branch = branch

	shas := make(map[string]string)
	exists := func(ctx context.Context, p string) (bool, error) {
		sha, err := c.blobSHA(ctx, ref, p)
		if err != nil {
			return false, err
		}
		shas[p] = sha
		return sha != "", nil
	}

	target, err := resolveTarget(ctx, filePath, strategy, exists, c.cfg.MaxSiblings)
	if err != nil {
		return nil, err
	}

	sha, seen := shas[target]
	if !seen {
		if sha, err = c.blobSHA(ctx, ref, target); err != nil {
			return nil, err
		}
	}

	opts := &github.RepositoryContentFileOptions{Content: []byte(content)}
	if branch != "" {
		opts.Branch = github.Ptr(branch)
	}

	start := time.Now()
	var (
		out  *github.RepositoryContentResponse
		resp *github.Response
	)
	if sha == "" {
		opts.Message = github.Ptr(fmt.Sprintf("%s add %s", c.cfg.CommitPrefix, target))
		out, resp, err = c.gh.Repositories.CreateFile(ctx, repo.Owner, repo.Name, target, opts)
	} else {
		opts.Message = github.Ptr(fmt.Sprintf("%s update %s", c.cfg.CommitPrefix, target))
		opts.SHA = github.Ptr(sha)
		out, resp, err = c.gh.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, target, opts)
	}
	c.logCall("write", target, resp, start)
	if err != nil {
		return nil, c.translate(err, resp, target)
	}

	written := out.GetContent().GetPath()
	if written == "" {
		written = target
	}
	commit := out.Commit.GetSHA()
	c.logger.Info().
		Str("repo", repo.FullName()).
		Str("branch", branch).
		Str("path", written).
		Str("commit", commit).
		Msg("File committed")

	return &engine.WriteResult{CommitHash: commit, FilePath: written}, nil
}

// blobSHA returns the blob sha at filePath, or "" when nothing is there.
func (c *GitHubClient) blobSHA(ctx context.Context, repo engine.RepoRef, filePath string) (string, error) {
	file, _, err := c.getContents(ctx, repo, filePath)
	if errors.Is(err, engine.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if file == nil {
		return "", engine.NewConflictError("path is a directory", nil).
			WithCode(engine.ErrCodeFileExists).
			WithResource(filePath)
	}
	return file.GetSHA(), nil
}

func (c *GitHubClient) getContents(ctx context.Context, repo engine.RepoRef, p string) (*github.RepositoryContent, []*github.RepositoryContent, error) {
	p = engine.NormalizeWorkingDirectory(p)
	if p == engine.RootDirectory {
		p = ""
	}

	start := time.Now()
	file, dir, resp, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, p,
		&github.RepositoryContentGetOptions{Ref: repo.Branch})
	c.logCall("get", p, resp, start)
	if err != nil {
		return nil, nil, c.translate(err, resp, p)
	}
	return file, dir, nil
}

func (c *GitHubClient) download(ctx context.Context, rawURL string) (string, error) {
	req, err := c.gh.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	var buf bytes.Buffer
	start := time.Now()
	resp, err := c.gh.Do(ctx, req, &buf)
	c.logCall("download", rawURL, resp, start)
	if err != nil {
		return "", c.translate(err, resp, rawURL)
	}
	return buf.String(), nil
}

// translate maps a 404 onto engine.ErrNotFound and keeps every other
// failure, including *github.ErrorResponse, in the chain.
func (c *GitHubClient) translate(err error, resp *github.Response, p string) error {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%s: %w", p, engine.ErrNotFound)
	}
	return fmt.Errorf("github %s: %w", p, err)
}

func (c *GitHubClient) logCall(op, p string, resp *github.Response, start time.Time) {
	ev := c.logger.Debug().
		Str("op", op).
		Str("path", p).
		Dur("duration", time.Since(start))
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode).Int("rate_remaining", resp.Rate.Remaining)
	}
	ev.Msg("GitHub request")
}

var _ engine.RemoteRepository = (*GitHubClient)(nil)
