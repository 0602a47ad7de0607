package templates

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/stackforge/pkg/engine"
)

func TestEmbeddedDefaults(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, []string{engine.TemplateGeneric, engine.TemplateGradle, engine.TemplateMaven, engine.TemplateNpm}, s.Keys())

	tests := []struct {
		key    string
		tokens []string
	}{
		{engine.TemplateMaven, []string{"{{javaVersion}}", "{{workingDirectory}}", "{{imageName}}"}},
		{engine.TemplateGradle, []string{"{{javaVersion}}", "gradle build"}},
		{engine.TemplateNpm, []string{"{{nodeVersion}}", "{{dockerContext}}"}},
		{engine.TemplateGeneric, []string{"{{dockerfilePath}}", "{{registry}}"}},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			tpl, err := s.GetTemplate(context.Background(), tt.key)
			require.NoError(t, err)
			for _, token := range tt.tokens {
				assert.Contains(t, tpl, token)
			}
		})
	}
}

func TestRenderedDefaultKeepsActionsExpressions(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	tpl, err := s.GetTemplate(context.Background(), "npm")
	require.NoError(t, err)

	out := engine.RenderTemplate(tpl, map[string]string{
		"nodeVersion": "20", "workingDirectory": "web", "serviceId": "frontend-0",
		"registry": "ghcr.io", "imageName": "acme/shop-frontend-0",
		"dockerfilePath": "web/Dockerfile", "dockerContext": "web",
	})
	assert.NotContains(t, out, "{{nodeVersion}}")
	assert.Contains(t, out, "node-version: '20'")
	assert.Contains(t, out, "ghcr.io/acme/shop-frontend-0:latest")
	assert.Contains(t, out, "${{ secrets.GITHUB_TOKEN }}")
}

func TestUnknownKey(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	_, err = s.GetTemplate(context.Background(), "cargo")
	assert.ErrorIs(t, err, ErrTemplateNotFound)
}

func TestDirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Maven.yaml"), []byte("custom {{javaVersion}}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o600))

	s, err := NewWithDir(zerolog.Nop(), dir)
	require.NoError(t, err)

	tpl, err := s.GetTemplate(context.Background(), "maven")
	require.NoError(t, err)
	assert.Equal(t, "custom {{javaVersion}}", tpl)
	assert.True(t, s.Overridden("maven"))
	assert.False(t, s.Overridden("npm"))

	npm, err := s.GetTemplate(context.Background(), "npm")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(npm, "name: Node CI"))
}

func TestLoadDirMissing(t *testing.T) {
	_, err := NewWithDir(zerolog.Nop(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	s, err := NewWithDir(zerolog.Nop(), dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "generic.yml"), []byte("reloaded"), 0o600))

	assert.Eventually(t, func() bool {
		tpl, err := s.GetTemplate(context.Background(), "generic")
		return err == nil && tpl == "reloaded"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWatchRequiresDirectory(t *testing.T) {
	s, err := New(zerolog.Nop())
	require.NoError(t, err)
	assert.Error(t, s.Watch(context.Background()))
}
