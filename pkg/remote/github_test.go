package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-github/v74/github"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/stackforge/pkg/engine"
)

// putBody is the contents API write payload.
type putBody struct {
	Message string `json:"message"`
	Content string `json:"content"`
	SHA     string `json:"sha"`
	Branch  string `json:"branch"`
}

// fakeGitHub serves a minimal contents API for acme/shop.
type fakeGitHub struct {
	mu      sync.Mutex
	files   map[string]string
	large   map[string]bool
	puts    []putBody
	auth    []string
	agents  []string
	refs    []string
	raw     int
	failAll int
}

func (f *fakeGitHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = append(f.auth, r.Header.Get("Authorization"))
	f.agents = append(f.agents, r.Header.Get("User-Agent"))
	if f.failAll != 0 {
		w.WriteHeader(f.failAll)
		_, _ = w.Write([]byte(`{"message":"Bad credentials"}`))
		return
	}

	if name, ok := strings.CutPrefix(r.URL.Path, "/raw/"); ok {
		f.raw++
		_, _ = w.Write([]byte(f.files[name]))
		return
	}

	const prefix = "/repos/acme/shop/contents"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	p := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")

	switch r.Method {
	case http.MethodGet:
		f.refs = append(f.refs, r.URL.Query().Get("ref"))
		f.get(w, r, p)
	case http.MethodPut:
		var body putBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		current, exists := f.files[p]
		if exists && body.SHA != sha(current) {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"message":"sha mismatch"}`))
			return
		}
		decoded, _ := base64.StdEncoding.DecodeString(body.Content)
		f.files[p] = string(decoded)
		f.puts = append(f.puts, body)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": map[string]string{"path": p, "sha": sha(string(decoded))},
			"commit":  map[string]string{"sha": fmt.Sprintf("c%d", len(f.puts))},
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeGitHub) get(w http.ResponseWriter, r *http.Request, p string) {
	if content, ok := f.files[p]; ok {
		entry := &github.RepositoryContent{
			Type: github.Ptr("file"),
			Name: github.Ptr(p),
			Path: github.Ptr(p),
			SHA:  github.Ptr(sha(content)),
		}
		if f.large[p] {
			entry.Encoding = github.Ptr("none")
			entry.Content = github.Ptr("")
			entry.DownloadURL = github.Ptr("http://" + r.Host + "/raw/" + p)
		} else {
			encoded := base64.StdEncoding.EncodeToString([]byte(content))
			if len(encoded) > 8 {
				// the API wraps base64 at 60 columns
				encoded = encoded[:8] + "\n" + encoded[8:]
			}
			entry.Encoding = github.Ptr("base64")
			entry.Content = github.Ptr(encoded)
		}
		_ = json.NewEncoder(w).Encode(entry)
		return
	}

	prefix := ""
	if p != "" {
		prefix = p + "/"
	}
	kinds := make(map[string]string)
	for name := range f.files {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		child, _, nested := strings.Cut(strings.TrimPrefix(name, prefix), "/")
		if nested {
			kinds[child] = "dir"
		} else if _, ok := kinds[child]; !ok {
			kinds[child] = "file"
		}
	}
	if len(kinds) == 0 && p != "" {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"Not Found"}`))
		return
	}
	names := make([]string, 0, len(kinds))
	for n := range kinds {
		names = append(names, n)
	}
	sort.Strings(names)
	items := make([]*github.RepositoryContent, 0, len(names))
	for _, n := range names {
		items = append(items, &github.RepositoryContent{
			Type: github.Ptr(kinds[n]),
			Name: github.Ptr(n),
			Path: github.Ptr(prefix + n),
		})
	}
	_ = json.NewEncoder(w).Encode(items)
}

func sha(content string) string {
	return fmt.Sprintf("sha-%d-%x", len(content), []byte(content[:min(len(content), 4)]))
}

func newTestGitHub(t *testing.T, files map[string]string, token string) (*GitHubClient, *fakeGitHub) {
	t.Helper()
	fake := &fakeGitHub{files: files, large: make(map[string]bool)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := DefaultGitHubConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = token
	cfg.HTTPClient = srv.Client()
	client, err := NewGitHubClient(cfg, zerolog.Nop())
	require.NoError(t, err)
	return client, fake
}

func TestGitHubListDirectory(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{
		"pom.xml":          "<project/>",
		"web/package.json": "{}",
	}, "s3cret")

	entries, err := client.ListDirectory(context.Background(), shop, ".")
	require.NoError(t, err)
	assert.Equal(t, []engine.DirEntry{
		{Name: "pom.xml", Type: engine.EntryFile},
		{Name: "web", Type: engine.EntryDir},
	}, entries)
	assert.Equal(t, "Bearer s3cret", fake.auth[0])
	assert.Equal(t, "stackforge", fake.agents[0])
	assert.Equal(t, "main", fake.refs[0])

	_, err = client.ListDirectory(context.Background(), shop, "missing")
	assert.ErrorIs(t, err, engine.ErrNotFound)

	_, err = client.ListDirectory(context.Background(), shop, "pom.xml")
	assert.Error(t, err)
}

func TestGitHubGetFileContent(t *testing.T) {
	client, _ := newTestGitHub(t, map[string]string{"web/package.json": `{"name":"web","private":true}`}, "")

	content, err := client.GetFileContent(context.Background(), shop, "web/package.json")
	require.NoError(t, err)
	assert.Equal(t, `{"name":"web","private":true}`, content)

	_, err = client.GetFileContent(context.Background(), shop, "Dockerfile")
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestGitHubAnonymousHasNoAuthHeader(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{"pom.xml": ""}, "")
	_, err := client.ListDirectory(context.Background(), shop, "")
	require.NoError(t, err)
	assert.Empty(t, fake.auth[0])
}

func TestGitHubWriteCreatesAndUpdates(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{"pom.xml": "<project/>"}, "tok")
	ctx := context.Background()

	res, err := client.WriteFile(ctx, shop, "", "Dockerfile", "FROM a\n", engine.UpdateIfExists)
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", res.FilePath)
	assert.Equal(t, "c1", res.CommitHash)
	assert.Empty(t, fake.puts[0].SHA)
	assert.Equal(t, "main", fake.puts[0].Branch)
	assert.Equal(t, "stackforge: add Dockerfile", fake.puts[0].Message)

	res, err = client.WriteFile(ctx, shop, "release", "Dockerfile", "FROM b\n", engine.UpdateIfExists)
	require.NoError(t, err)
	assert.Equal(t, "c2", res.CommitHash)
	assert.Equal(t, sha("FROM a\n"), fake.puts[1].SHA)
	assert.Equal(t, "release", fake.puts[1].Branch)
	assert.Equal(t, "FROM b\n", fake.files["Dockerfile"])
}

func TestGitHubWriteStrategies(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{"Dockerfile": "FROM a\n"}, "tok")
	ctx := context.Background()

	_, err := client.WriteFile(ctx, shop, "", "Dockerfile", "FROM b\n", engine.FailIfExists)
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))
	assert.Empty(t, fake.puts)

	res, err := client.WriteFile(ctx, shop, "", "Dockerfile", "FROM b\n", engine.CreateNewAlways)
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile-2", res.FilePath)
	assert.Equal(t, "FROM a\n", fake.files["Dockerfile"])
	assert.Equal(t, "FROM b\n", fake.files["Dockerfile-2"])
}

func TestGitHubErrorStatus(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{}, "bad")
	fake.failAll = http.StatusUnauthorized

	_, err := client.GetFileContent(context.Background(), shop, "pom.xml")
	require.Error(t, err)
	var ghErr *github.ErrorResponse
	require.ErrorAs(t, err, &ghErr)
	assert.Equal(t, http.StatusUnauthorized, ghErr.Response.StatusCode)
	assert.Equal(t, "Bad credentials", ghErr.Message)
	assert.NotErrorIs(t, err, engine.ErrNotFound)
}

func TestGitHubLargeFileDownload(t *testing.T) {
	big := strings.Repeat("x", 64)
	client, fake := newTestGitHub(t, map[string]string{"assets/bundle.js": big}, "tok")
	fake.large["assets/bundle.js"] = true

	content, err := client.GetFileContent(context.Background(), shop, "assets/bundle.js")
	require.NoError(t, err)
	assert.Equal(t, big, content)
	assert.Equal(t, 1, fake.raw)
	assert.Equal(t, "Bearer tok", fake.auth[len(fake.auth)-1])
}

func TestGitHubWriteEscapedPath(t *testing.T) {
	client, fake := newTestGitHub(t, map[string]string{"my app/pom.xml": "<project/>"}, "tok")

	res, err := client.WriteFile(context.Background(), shop, "", "my app/Dockerfile", "FROM a\n", engine.UpdateIfExists)
	require.NoError(t, err)
	assert.Equal(t, "my app/Dockerfile", res.FilePath)
	assert.Equal(t, "FROM a\n", fake.files["my app/Dockerfile"])
}

func TestNewGitHubClientBaseURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "https://api.github.com/"},
		{"https://api.github.com", "https://api.github.com/"},
		{"https://ghe.example.com/api/v3", "https://ghe.example.com/api/v3/"},
		{"https://ghe.example.com/api/v3/", "https://ghe.example.com/api/v3/"},
	}
	for _, tt := range tests {
		client, err := NewGitHubClient(GitHubConfig{BaseURL: tt.in}, zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, tt.want, client.gh.BaseURL.String())
		assert.Equal(t, "stackforge", client.gh.UserAgent)
	}
}
