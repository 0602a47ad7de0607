package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/stackforge/pkg/config"
	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/policy"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "abc123", "2026-01-01")
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func checkout(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestAnalyzeLocalJSON(t *testing.T) {
	dir := checkout(t, map[string]string{
		"backend/pom.xml":       "<project/>",
		"frontend/package.json": `{"name":"web"}`,
	})

	out, err := runCLI(t, "analyze", "acme/shop", "--local", dir, "--json", "--no-ledger")
	require.NoError(t, err)

	var analysis engine.Analysis
	require.NoError(t, json.Unmarshal([]byte(out), &analysis))
	assert.Equal(t, "acme/shop", analysis.Repo.FullName())
	assert.Equal(t, engine.ModeMulti, analysis.Mode)
	require.Len(t, analysis.Services, 2)
	assert.Equal(t, engine.StackSpringMaven, analysis.Services[0].StackType)
	assert.Equal(t, "backend", analysis.Services[0].WorkingDirectory)
	assert.Equal(t, engine.StackNode, analysis.Services[1].StackType)
}

func TestAnalyzeRequiresRepoWithoutLocal(t *testing.T) {
	_, err := runCLI(t, "analyze", "--no-ledger")
	require.Error(t, err)

	_, err = runCLI(t, "analyze", "not-a-repo", "--no-ledger")
	require.Error(t, err)
	assert.Equal(t, exitInvalid, ExitCode(err))
}

func TestPreviewDockerfileText(t *testing.T) {
	dir := checkout(t, map[string]string{"pom.xml": "<project/>"})

	out, err := runCLI(t, "preview", "dockerfile", "acme/shop", "--local", dir, "--no-ledger")
	require.NoError(t, err)
	assert.Contains(t, out, "dockerfile preview (single mode)")
	assert.Contains(t, out, "NOT_FOUND")
	assert.Contains(t, out, "# Dockerfile")

	_, statErr := os.Stat(filepath.Join(dir, "Dockerfile"))
	assert.True(t, os.IsNotExist(statErr), "preview must not write")
}

func TestPreviewUnknownArtifact(t *testing.T) {
	_, err := runCLI(t, "preview", "helm", "acme/shop")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown artifact")
}

func TestApplyDockerfileLocalAndHistory(t *testing.T) {
	dir := checkout(t, map[string]string{"pom.xml": "<project/>"})
	db := filepath.Join(t.TempDir(), "history.db")

	out, err := runCLI(t, "apply", "dockerfile", "acme/shop", "--local", dir, "--db", db, "--json")
	require.NoError(t, err)

	var res engine.ApplyResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Files, 1)
	assert.Equal(t, "Dockerfile", res.Files[0].Path)
	assert.True(t, res.Applied())

	written, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Contains(t, string(written), "FROM")

	out, err = runCLI(t, "history", "acme/shop", "--db", db, "--json")
	require.NoError(t, err)
	var records []*engine.ApplyRecord
	require.NoError(t, json.Unmarshal([]byte(out), &records))
	require.Len(t, records, 1)
	assert.Equal(t, engine.ArtifactDockerfile, records[0].Artifact)
	assert.Equal(t, string(written), records[0].Content)

	out, err = runCLI(t, "history", "show", records[0].ID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "# Dockerfile acme/shop@default")

	out, err = runCLI(t, "history", "other/repo", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No records found")
}

func TestApplyNothingToApply(t *testing.T) {
	dir := checkout(t, map[string]string{"pom.xml": "<project/>"})

	_, err := runCLI(t, "apply", "dockerfile", "acme/shop", "--local", dir, "--no-ledger")
	require.NoError(t, err)

	out, err := runCLI(t, "apply", "dockerfile", "acme/shop", "--local", dir, "--no-ledger")
	require.NoError(t, err)
	assert.Contains(t, out, engine.MsgDockerfilePresent)
}

func TestApplyInvalidStrategy(t *testing.T) {
	dir := checkout(t, map[string]string{"pom.xml": "<project/>"})

	_, err := runCLI(t, "apply", "dockerfile", "acme/shop", "--local", dir, "--no-ledger", "--strategy", "OVERWRITE")
	require.Error(t, err)
	assert.Equal(t, exitInvalid, ExitCode(err))
}

func TestApplyDeniedByProtectedBranch(t *testing.T) {
	dir := checkout(t, map[string]string{"pom.xml": "<project/>"})
	cfgDir := t.TempDir()
	cfgFile := filepath.Join(cfgDir, "stackforge.cue")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`policy: protected_branches: ["main"]`), 0o644))

	_, err := runCLI(t, "apply", "dockerfile", "acme/shop", "--local", dir, "--no-ledger", "-c", cfgFile, "--branch", "main")
	require.Error(t, err)
	assert.Equal(t, exitDenied, ExitCode(err))

	_, statErr := os.Stat(filepath.Join(dir, "Dockerfile"))
	assert.True(t, os.IsNotExist(statErr), "denied apply must not write")
}

func TestValidateCommand(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "stackforge.cue")
	require.NoError(t, os.WriteFile(cfgFile, []byte("registry: \"quay.io\"\ngithub: token: \"ghp_secret\"\n"), 0o644))

	out, err := runCLI(t, "validate", "-c", cfgFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = runCLI(t, "validate", "-c", cfgFile, "--print")
	require.NoError(t, err)
	assert.Contains(t, out, "registry: quay.io")
	assert.NotContains(t, out, "ghp_secret")

	bad := filepath.Join(t.TempDir(), "stackforge.cue")
	require.NoError(t, os.WriteFile(bad, []byte(`walker: max_nodes: 0`), 0o644))
	_, err = runCLI(t, "validate", "-c", bad)
	require.Error(t, err)
	assert.Equal(t, exitInvalid, ExitCode(err))
}

func TestEnvironmentFillsFlags(t *testing.T) {
	t.Setenv("STACKFORGE_LOG_LEVEL", "chatty")

	cfgFile := filepath.Join(t.TempDir(), "stackforge.cue")
	require.NoError(t, os.WriteFile(cfgFile, []byte(`registry: "ghcr.io"`), 0o644))

	_, err := runCLI(t, "validate", "-c", cfgFile)
	var verrs config.ValidationErrors
	require.True(t, errors.As(err, &verrs), "expected validation error, got %v", err)
	assert.Equal(t, "telemetry.log_level", verrs[0].Path)

	_, err = runCLI(t, "validate", "-c", cfgFile, "--log-level", "debug")
	assert.NoError(t, err, "flags win over the environment")
}

func TestVersionJSON(t *testing.T) {
	out, err := runCLI(t, "version", "--json")
	require.NoError(t, err)

	var info versionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "test", info.Version)
	assert.Equal(t, "abc123", info.Commit)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, exitDenied, ExitCode(&policy.DeniedError{Path: "Dockerfile"}))
	assert.Equal(t, exitInvalid, ExitCode(config.ValidationErrors{{Message: "bad"}}))
	assert.Equal(t, exitPrecondition, ExitCode(engine.NewPreconditionError("pending", nil)))
	assert.Equal(t, exitPrecondition, ExitCode(engine.NewConflictError("exists", nil)))
}

func TestParseEnv(t *testing.T) {
	env, err := parseEnv([]string{"A=1", "B=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, env)

	_, err = parseEnv([]string{"=1"})
	assert.Error(t, err)

	env, err = parseEnv(nil)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestAnalyzeTextAndDOT(t *testing.T) {
	dir := checkout(t, map[string]string{
		"backend/pom.xml":       "<project/>",
		"frontend/package.json": `{"dependencies":{"react":"^18.2.0"}}`,
	})

	out, err := runCLI(t, "analyze", "acme/shop", "--local", dir, "--no-ledger")
	require.NoError(t, err)
	assert.Contains(t, out, "Mode:       multi")
	assert.Contains(t, out, "frontend-1 -> backend-0 (api)")
	assert.Contains(t, out, "Startup order: backend-0, frontend-1")

	out, err = runCLI(t, "analyze", "acme/shop", "--local", dir, "--no-ledger", "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, "digraph Services {")
	assert.Contains(t, out, `"frontend-1" -> "backend-0"`)
}
