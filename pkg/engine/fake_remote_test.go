package engine

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

// fakeRemote is an in-memory RemoteRepository keyed by file path.
type fakeRemote struct {
	mu        sync.Mutex
	files     map[string]string
	listErrs  map[string]error
	writes    []fakeWrite
	lists     int
	commitSeq int
}

type fakeWrite struct {
	path     string
	content  string
	strategy FileHandlingStrategy
}

func newFakeRemote(files map[string]string) *fakeRemote {
	f := &fakeRemote{files: map[string]string{}, listErrs: map[string]error{}}
	for p, c := range files {
		f.files[p] = c
	}
	return f
}

func (f *fakeRemote) ListDirectory(ctx context.Context, repo RepoRef, dir string) ([]DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++

	dir = NormalizeWorkingDirectory(dir)
	if err := f.listErrs[dir]; err != nil {
		return nil, err
	}
	prefix := ""
	if dir != RootDirectory {
		prefix = dir + "/"
	}

	found := dir == RootDirectory
	types := map[string]EntryType{}
	for p := range f.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		found = true
		name, _, nested := strings.Cut(strings.TrimPrefix(p, prefix), "/")
		if nested {
			types[name] = EntryDir
		} else if _, ok := types[name]; !ok {
			types[name] = EntryFile
		}
	}
	if !found {
		return nil, fmt.Errorf("list %s: %w", dir, ErrNotFound)
	}

	names := make([]string, 0, len(types))
	for n := range types {
		names = append(names, n)
	}
	sort.Strings(names)
	entries := make([]DirEntry, 0, len(names))
	for _, n := range names {
		entries = append(entries, DirEntry{Name: n, Type: types[n]})
	}
	return entries, nil
}

func (f *fakeRemote) GetFileContent(ctx context.Context, repo RepoRef, filePath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[filePath]
	if !ok {
		return "", fmt.Errorf("get %s: %w", filePath, ErrNotFound)
	}
	return content, nil
}

func (f *fakeRemote) WriteFile(ctx context.Context, repo RepoRef, branch, filePath, content string, strategy FileHandlingStrategy) (*WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target := filePath
	if _, exists := f.files[filePath]; exists {
		switch strategy {
		case FailIfExists:
			return nil, NewConflictError("file already exists", nil).WithCode(ErrCodeFileExists).WithResource(filePath)
		case CreateNewAlways:
			ext := path.Ext(filePath)
			stem := strings.TrimSuffix(filePath, ext)
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s-%d%s", stem, n, ext)
				if _, taken := f.files[candidate]; !taken {
					target = candidate
					break
				}
			}
		}
	}

	f.files[target] = content
	f.writes = append(f.writes, fakeWrite{path: target, content: content, strategy: strategy})
	f.commitSeq++
	return &WriteResult{CommitHash: fmt.Sprintf("commit-%d", f.commitSeq), FilePath: target}, nil
}

type fakeTemplates map[string]string

func (t fakeTemplates) GetTemplate(ctx context.Context, key string) (string, error) {
	tpl, ok := t[key]
	if !ok {
		return "", fmt.Errorf("template %s: %w", key, ErrNotFound)
	}
	return tpl, nil
}

func defaultFakeTemplates() fakeTemplates {
	return fakeTemplates{
		TemplateMaven:   "name: maven\njava: {{javaVersion}}\nwd: {{workingDirectory}}\nimage: {{registry}}/{{imageName}}\nfile: {{dockerfilePath}}\nctx: {{dockerContext}}\n",
		TemplateGradle:  "name: gradle\njava: {{javaVersion}}\nwd: {{workingDirectory}}\nimage: {{registry}}/{{imageName}}\n",
		TemplateNpm:     "name: npm\nnode: {{nodeVersion}}\nwd: {{workingDirectory}}\nimage: {{registry}}/{{imageName}}\nctx: {{dockerContext}}\n",
		TemplateGeneric: "name: generic\nimage: {{registry}}/{{imageName}}\n",
	}
}

type recordingHistory struct {
	records []*ApplyRecord
	err     error
}

func (h *recordingHistory) RecordApply(ctx context.Context, rec *ApplyRecord) error {
	if h.err != nil {
		return h.err
	}
	h.records = append(h.records, rec)
	return nil
}

type denyAll struct{ calls int }

func (d *denyAll) AuthorizeWrite(ctx context.Context, req *WriteRequest) error {
	d.calls++
	return errors.New("writes are frozen")
}

var testRepo = RepoRef{Owner: "Acme", Name: "Shop", Branch: "main"}
