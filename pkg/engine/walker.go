package engine

import (
	"context"
	"path"

	"github.com/rs/zerolog"
)

// WalkerConfig bounds a repository traversal.
type WalkerConfig struct {
	// MaxDepth is the deepest directory level visited; the root is depth 0.
	// Zero selects the default.
	MaxDepth int `json:"max_depth" validate:"gte=0"`

	// MaxNodes is the maximum number of directories listed in one walk.
	MaxNodes int `json:"max_nodes" validate:"gt=0"`

	// SkipDirs are directory names never descended into.
	SkipDirs []string `json:"skip_dirs"`
}

// DefaultWalkerConfig returns the default traversal budget.
func DefaultWalkerConfig() WalkerConfig {
	return WalkerConfig{
		MaxDepth: 32,
		MaxNodes: 2000,
		SkipDirs: []string{"node_modules", ".git", "target", "build", "dist", "vendor"},
	}
}

// TreeWalker drives a pre-order, depth-first traversal of a remote repository
// and feeds each directory listing to the classifier.
type TreeWalker struct {
	remote     *session
	classifier *StackClassifier
	config     WalkerConfig
	skip       map[string]bool
	logger     zerolog.Logger
}

// NewTreeWalker creates a walker.
func NewTreeWalker(remote *session, classifier *StackClassifier, cfg WalkerConfig, logger zerolog.Logger) *TreeWalker {
	def := DefaultWalkerConfig()
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = def.MaxNodes
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.SkipDirs == nil {
		cfg.SkipDirs = def.SkipDirs
	}
	skip := make(map[string]bool, len(cfg.SkipDirs))
	for _, d := range cfg.SkipDirs {
		skip[d] = true
	}
	return &TreeWalker{
		remote:     remote,
		classifier: classifier,
		config:     cfg,
		skip:       skip,
		logger:     logger.With().Str("component", "tree-walker").Logger(),
	}
}

// visitFunc is called once per listed directory. Returning stop=true ends the walk.
type visitFunc func(snapshot DirectorySnapshot) (stop bool, err error)

type frame struct {
	dir   string
	depth int
}

// walk visits directories in pre-order: a directory is visited before any of
// its children, and children are visited in name order. It reports whether the
// node budget ran out before the tree was exhausted.
func (w *TreeWalker) walk(ctx context.Context, repo RepoRef, visit visitFunc) (exhausted bool, err error) {
	stack := []frame{{dir: RootDirectory, depth: 0}}
	listed := 0

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if listed >= w.config.MaxNodes {
			return true, nil
		}
		snapshot, err := w.remote.list(ctx, repo, top.dir)
		if err != nil {
			return false, err
		}
		listed++

		w.logger.Debug().
			Str("dir", top.dir).
			Int("depth", top.depth).
			Int("entries", len(snapshot.Entries)).
			Msg("Visited directory")

		stop, err := visit(snapshot)
		if err != nil || stop {
			return false, err
		}

		if top.depth >= w.config.MaxDepth {
			continue
		}
		children := snapshot.Subdirectories()
		// Push in reverse so the lexically first child is popped first.
		for i := len(children) - 1; i >= 0; i-- {
			if w.skip[children[i]] {
				continue
			}
			stack = append(stack, frame{dir: childPath(top.dir, children[i]), depth: top.depth + 1})
		}
	}
	return false, nil
}

func childPath(dir, name string) string {
	if dir == RootDirectory {
		return name
	}
	return path.Join(dir, name)
}

// FindFirst returns the classification of the first directory, in pre-order,
// that contains a marker file. It returns GENERIC at the root when none does
// or when the walk budget runs out first.
func (w *TreeWalker) FindFirst(ctx context.Context, repo RepoRef) (Classification, error) {
	var found *Classification
	exhausted, err := w.walk(ctx, repo, func(s DirectorySnapshot) (bool, error) {
		if c, ok := w.classifier.Classify(s); ok {
			found = &c
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return Classification{}, err
	}
	if found != nil {
		return *found, nil
	}
	if exhausted {
		w.logger.Warn().
			Str("repo", repo.FullName()).
			Int("max_nodes", w.config.MaxNodes).
			Msg("Walk budget exhausted before a marker was found")
	}
	return Generic(), nil
}

// FindAll returns one classification per directory that contains a marker.
// Candidates rejected by their rule's exclusion filter are dropped; the
// filter reads the manifest through the remote.
func (w *TreeWalker) FindAll(ctx context.Context, repo RepoRef) ([]Classification, error) {
	var found []Classification
	exhausted, err := w.walk(ctx, repo, func(s DirectorySnapshot) (bool, error) {
		c, ok := w.classifier.Classify(s)
		if !ok {
			return false, nil
		}
		manifest, _, err := w.remote.fetch(ctx, repo, c.ManifestPath())
		if err != nil {
			return false, err
		}
		if c.Excluded(manifest) {
			w.logger.Debug().
				Str("dir", c.WorkingDirectory).
				Str("stack", string(c.Stack)).
				Msg("Excluded mobile module")
			return false, nil
		}
		found = append(found, c)
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if exhausted {
		w.logger.Warn().
			Str("repo", repo.FullName()).
			Int("max_nodes", w.config.MaxNodes).
			Int("found", len(found)).
			Msg("Walk budget exhausted, returning partial service list")
	}
	return found, nil
}
