package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWalker(remote *fakeRemote, cfg WalkerConfig) *TreeWalker {
	return NewTreeWalker(newSession(remote, nil), NewStackClassifier(nil), cfg, zerolog.Nop())
}

func TestFindFirstRootMaven(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"pom.xml":                  "<project/>",
		"src/main/java/App.java":   "class App {}",
		"frontend/package.json":    "{}",
		"frontend/src/index.jsx":   "",
		"docs/architecture/old.md": "",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, StackSpringMaven, c.Stack)
	assert.Equal(t, RootDirectory, c.WorkingDirectory)
	assert.Equal(t, 1, remote.lists, "first match at the root must not descend")
}

func TestFindFirstPreOrder(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"README.md":               "",
		"apps/web/package.json":   "{}",
		"apps/web/src/index.js":   "",
		"services/api/pom.xml":    "<project/>",
		"apps/mobile/deep/x/y.md": "",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, StackNode, c.Stack)
	assert.Equal(t, "apps/web", c.WorkingDirectory)
}

func TestFindFirstNothingFound(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"README.md":    "",
		"docs/a.md":    "",
		"scripts/x.sh": "",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, Generic(), c)
}

func TestFindFirstBudgetExhausted(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"a/b/c/d/pom.xml": "<project/>",
	})
	w := newTestWalker(remote, WalkerConfig{MaxNodes: 2})

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, StackGeneric, c.Stack)
	assert.Equal(t, 2, remote.lists)
}

func TestFindFirstDepthBound(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"a/b/c/pom.xml": "<project/>",
	})
	w := newTestWalker(remote, WalkerConfig{MaxDepth: 2})

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, StackGeneric, c.Stack)
}

func TestWalkSkipsVendoredDirectories(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"node_modules/left-pad/package.json": "{}",
		"web/package.json":                   "{}",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	c, err := w.FindFirst(context.Background(), testRepo)
	require.NoError(t, err)
	assert.Equal(t, "web", c.WorkingDirectory)
}

func TestWalkPropagatesTransportErrors(t *testing.T) {
	remote := newFakeRemote(map[string]string{"a/pom.xml": ""})
	remote.listErrs["a"] = errors.New("rate limited")
	w := newTestWalker(remote, DefaultWalkerConfig())

	_, err := w.FindFirst(context.Background(), testRepo)
	require.Error(t, err)
	assert.True(t, IsRemoteTransport(err))
	assert.Equal(t, ErrCodeListFailed, ErrorCode(err))
}

func TestWalkHonorsCancellation(t *testing.T) {
	remote := newFakeRemote(map[string]string{"pom.xml": ""})
	w := newTestWalker(remote, DefaultWalkerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := w.FindFirst(ctx, testRepo)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFindAllBackendAndFrontend(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"backend/pom.xml":        `<project><parent><groupId>org.springframework.boot</groupId><version>3.2.0</version></parent></project>`,
		"frontend/package.json":  `{"dependencies":{"react":"^18.2.0"}}`,
		"frontend/src/App.jsx":   "",
		"backend/src/main/x.txt": "",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	all, err := w.FindAll(context.Background(), testRepo)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "backend", all[0].WorkingDirectory)
	assert.Equal(t, StackSpringMaven, all[0].Stack)
	assert.Equal(t, "frontend", all[1].WorkingDirectory)
	assert.Equal(t, StackNode, all[1].Stack)
}

func TestFindAllExcludesMobileModules(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"android/build.gradle":  `plugins { id 'com.android.application' }`,
		"api/build.gradle":      `plugins { id 'org.springframework.boot' version '3.2.0' }`,
		"app/package.json":      `{"dependencies":{"react-native":"0.73.0"}}`,
		"expo-app/package.json": `{"dependencies":{"expo":"~50.0.0"}}`,
		"web/package.json":      `{"dependencies":{"vue":"^3.4.0"}}`,
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	all, err := w.FindAll(context.Background(), testRepo)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "api", all[0].WorkingDirectory)
	assert.Equal(t, "web", all[1].WorkingDirectory)
}

func TestFindAllContinuesBelowMatches(t *testing.T) {
	remote := newFakeRemote(map[string]string{
		"pom.xml":             "<project/>",
		"ui/package.json":     "{}",
		"tools/gen/pom.xml":   "<project/>",
		"tools/gen/Main.java": "",
	})
	w := newTestWalker(remote, DefaultWalkerConfig())

	all, err := w.FindAll(context.Background(), testRepo)
	require.NoError(t, err)
	dirs := make([]string, 0, len(all))
	for _, c := range all {
		dirs = append(dirs, c.WorkingDirectory)
	}
	assert.Equal(t, []string{".", "tools/gen", "ui"}, dirs)
}
