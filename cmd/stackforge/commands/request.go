package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/config"
	"github.com/stackforge/stackforge/pkg/engine"
)

// Artifact names accepted by preview and apply.
var artifactKinds = []string{
	string(engine.ArtifactDockerfile),
	string(engine.ArtifactCI),
	string(engine.ArtifactCompose),
}

// requestFlags are shared by preview and apply.
type requestFlags struct {
	branch   string
	mode     string
	image    string
	services string
	env      []string
	strategy string
}

func (f *requestFlags) register(cmd *cobra.Command, withStrategy bool) {
	cmd.Flags().StringVarP(&f.branch, "branch", "b", "", "branch to read and write (default: defaults.branch, then the repository default)")
	cmd.Flags().StringVar(&f.mode, "mode", "", "single or multi (default: decided by the analysis)")
	cmd.Flags().StringVar(&f.image, "image", "", "image name (default: the repository full name)")
	cmd.Flags().StringVar(&f.services, "services", "", "CUE or JSON file listing services instead of analyzing the repository")
	cmd.Flags().StringArrayVar(&f.env, "env", nil, "extra compose environment variable KEY=VALUE (repeatable)")
	if withStrategy {
		cmd.Flags().StringVar(&f.strategy, "strategy", "", "UPDATE_IF_EXISTS, CREATE_NEW_ALWAYS or FAIL_IF_EXISTS (default: defaults.strategy)")
	}
}

// build turns the flags into an engine request. Flags win over the
// configuration defaults.
func (f *requestFlags) build(ctx context.Context, cfg *config.Config, repo engine.RepoRef) (engine.Request, error) {
	if repo.Branch == "" {
		repo.Branch = cfg.Defaults.Branch
	}

	req := engine.Request{
		Repo:      repo,
		Mode:      engine.Mode(f.mode),
		ImageName: f.image,
		Strategy:  cfg.DefaultStrategy(),
	}

	if f.strategy != "" {
		strategy, err := engine.ParseFileHandlingStrategy(f.strategy)
		if err != nil {
			return req, err
		}
		req.Strategy = strategy
	}

	env, err := parseEnv(f.env)
	if err != nil {
		return req, err
	}
	req.Env = env

	if f.services != "" {
		set, err := config.NewCUEParser().ParseServices(ctx, f.services)
		if err != nil {
			return req, err
		}
		req.Services = set.Services
		req.Relationships = set.Relationships
	}

	return req, nil
}

func validArtifact(kind string) error {
	for _, k := range artifactKinds {
		if k == kind {
			return nil
		}
	}
	return fmt.Errorf("unknown artifact %q, expected one of %v", kind, artifactKinds)
}
