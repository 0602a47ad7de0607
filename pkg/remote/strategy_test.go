package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stackforge/stackforge/pkg/engine"
)

func TestSiblingPath(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"Dockerfile", 2, "Dockerfile-2"},
		{"backend/Dockerfile", 3, "backend/Dockerfile-3"},
		{".github/workflows/ci.yml", 2, ".github/workflows/ci-2.yml"},
		{"docker-compose.yml", 4, "docker-compose-4.yml"},
		{".env", 2, ".env-2"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SiblingPath(tt.in, tt.n))
		})
	}
}

func taken(paths ...string) existsFunc {
	set := make(map[string]bool)
	for _, p := range paths {
		set[p] = true
	}
	return func(_ context.Context, p string) (bool, error) {
		return set[p], nil
	}
}

func TestResolveTarget(t *testing.T) {
	ctx := context.Background()

	got, err := resolveTarget(ctx, "Dockerfile", engine.UpdateIfExists, taken("Dockerfile"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", got)

	got, err = resolveTarget(ctx, "Dockerfile", engine.FailIfExists, taken(), 0)
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile", got)

	_, err = resolveTarget(ctx, "Dockerfile", engine.FailIfExists, taken("Dockerfile"), 0)
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))
	assert.Equal(t, engine.ErrCodeFileExists, engine.ErrorCode(err))

	got, err = resolveTarget(ctx, "Dockerfile", engine.CreateNewAlways, taken("Dockerfile", "Dockerfile-2"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Dockerfile-3", got)

	_, err = resolveTarget(ctx, "Dockerfile", engine.CreateNewAlways, taken("Dockerfile", "Dockerfile-2", "Dockerfile-3"), 2)
	assert.True(t, engine.IsConflict(err))

	_, err = resolveTarget(ctx, "Dockerfile", engine.FileHandlingStrategy("MERGE"), taken(), 0)
	assert.True(t, engine.IsValidation(err))
}

func TestResolveTargetPropagatesProbeErrors(t *testing.T) {
	boom := errors.New("boom")
	failing := func(context.Context, string) (bool, error) { return false, boom }

	_, err := resolveTarget(context.Background(), "Dockerfile", engine.FailIfExists, failing, 0)
	assert.ErrorIs(t, err, boom)
}
