package remote

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackforge/stackforge/pkg/engine"
)

// Commit is one write recorded by a MemoryRepository.
type Commit struct {
	Hash      string
	Repo      string
	Branch    string
	Path      string
	Content   string
	Strategy  engine.FileHandlingStrategy
	CreatedAt time.Time
}

// MemoryRepository is an in-memory engine.RemoteRepository. Files are kept
// per repository full name; branches share one tree.
type MemoryRepository struct {
	mu      sync.RWMutex
	repos   map[string]map[string]string
	commits []Commit
}

// NewMemoryRepository creates an empty in-memory repository store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{repos: make(map[string]map[string]string)}
}

// Put stores a file without recording a commit.
func (m *MemoryRepository) Put(repo engine.RepoRef, filePath, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree(repo)[engine.NormalizeWorkingDirectory(filePath)] = content
}

// LoadFS copies every regular file of fsys into repo. Directories named in
// skip are not descended into.
func (m *MemoryRepository) LoadFS(repo engine.RepoRef, fsys fs.FS, skip []string) error {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}

	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != "." && skipped[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		m.Put(repo, p, string(data))
		return nil
	})
}

// Commits returns the writes recorded so far, oldest first.
func (m *MemoryRepository) Commits() []Commit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Commit, len(m.commits))
	copy(out, m.commits)
	return out
}

// ListDirectory lists the direct children of dir, sorted by name.
func (m *MemoryRepository) ListDirectory(ctx context.Context, repo engine.RepoRef, dir string) ([]engine.DirEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	dir = engine.NormalizeWorkingDirectory(dir)
	prefix := ""
	if dir != engine.RootDirectory {
		prefix = dir + "/"
	}

	files := m.repos[repo.FullName()]
	if _, isFile := files[dir]; isFile {
		return nil, fmt.Errorf("path %q is not a directory", dir)
	}

	types := make(map[string]engine.EntryType)
	for p := range files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name, _, nested := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		if nested {
			types[name] = engine.EntryDir
		} else if _, seen := types[name]; !seen {
			types[name] = engine.EntryFile
		}
	}
	if len(types) == 0 && dir != engine.RootDirectory {
		return nil, fmt.Errorf("%s: %w", dir, engine.ErrNotFound)
	}

	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]engine.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, engine.DirEntry{Name: name, Type: types[name]})
	}
	return entries, nil
}

// GetFileContent returns the stored content of filePath.
func (m *MemoryRepository) GetFileContent(ctx context.Context, repo engine.RepoRef, filePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	content, ok := m.repos[repo.FullName()][engine.NormalizeWorkingDirectory(filePath)]
	if !ok {
		return "", fmt.Errorf("%s: %w", filePath, engine.ErrNotFound)
	}
	return content, nil
}

// WriteFile stores content under strategy and records a commit.
func (m *MemoryRepository) WriteFile(ctx context.Context, repo engine.RepoRef, branch, filePath, content string, strategy engine.FileHandlingStrategy) (*engine.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	files := m.tree(repo)
	exists := func(_ context.Context, p string) (bool, error) {
		_, ok := files[p]
		return ok, nil
	}

	target, err := resolveTarget(ctx, engine.NormalizeWorkingDirectory(filePath), strategy, exists, DefaultMaxSiblings)
	if err != nil {
		return nil, err
	}

	if branch == "" {
		branch = repo.Branch
	}
	files[target] = content
	commit := Commit{
		Hash:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		Repo:      repo.FullName(),
		Branch:    branch,
		Path:      target,
		Content:   content,
		Strategy:  strategy,
		CreatedAt: time.Now().UTC(),
	}
	m.commits = append(m.commits, commit)

	return &engine.WriteResult{CommitHash: commit.Hash, FilePath: target}, nil
}

func (m *MemoryRepository) tree(repo engine.RepoRef) map[string]string {
	files, ok := m.repos[repo.FullName()]
	if !ok {
		files = make(map[string]string)
		m.repos[repo.FullName()] = files
	}
	return files
}

var _ engine.RemoteRepository = (*MemoryRepository)(nil)
