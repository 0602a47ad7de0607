package remote

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/stackforge/stackforge/pkg/engine"
)

// DefaultMaxSiblings bounds the probe for a free CREATE_NEW_ALWAYS path.
const DefaultMaxSiblings = 100

// existsFunc reports whether a repository path is already taken.
type existsFunc func(ctx context.Context, filePath string) (bool, error)

// SiblingPath returns the n-th sibling of filePath: "Dockerfile" becomes
// "Dockerfile-2", ".github/workflows/ci.yml" becomes ".github/workflows/ci-2.yml".
func SiblingPath(filePath string, n int) string {
	dir, base := path.Split(filePath)
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		// dotfiles such as ".env" have no stem
		stem, ext = base, ""
	}
	return fmt.Sprintf("%s%s-%d%s", dir, stem, n, ext)
}

// resolveTarget applies strategy to filePath and returns the path to write.
func resolveTarget(ctx context.Context, filePath string, strategy engine.FileHandlingStrategy, exists existsFunc, maxSiblings int) (string, error) {
	switch strategy {
	case engine.UpdateIfExists, "":
		return filePath, nil
	case engine.FailIfExists, engine.CreateNewAlways:
	default:
		return "", engine.NewValidationError("unknown file handling strategy", nil).
			WithResource(string(strategy))
	}

	taken, err := exists(ctx, filePath)
	if err != nil {
		return "", err
	}
	if !taken {
		return filePath, nil
	}
	if strategy == engine.FailIfExists {
		return "", fileExists(filePath)
	}

	if maxSiblings <= 0 {
		maxSiblings = DefaultMaxSiblings
	}
	for n := 2; n < maxSiblings+2; n++ {
		candidate := SiblingPath(filePath, n)
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", engine.NewConflictError("no free sibling path", nil).
		WithCode(engine.ErrCodeFileExists).
		WithResource(filePath).
		WithDetail("attempts", maxSiblings)
}

func fileExists(filePath string) error {
	return engine.NewConflictError("file already exists", nil).
		WithCode(engine.ErrCodeFileExists).
		WithResource(filePath)
}
