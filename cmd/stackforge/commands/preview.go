package commands

import (
	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/telemetry"
)

func newPreviewCommand() *cobra.Command {
	var (
		flags       requestFlags
		showContent bool
	)

	cmd := &cobra.Command{
		Use:   "preview <dockerfile|ci|compose> [owner/repo]",
		Short: "Show what apply would write",
		Long: `Preview computes the Dockerfiles, CI workflow or compose file for a
repository and compares each with what the branch currently holds.

Every target path is reported as NOT_FOUND, IDENTICAL or DIFFERENT. New
files are printed in full and changed files as a unified diff. Nothing is
written.`,
		Example: `  # Preview Dockerfiles for every service
  stackforge preview dockerfile acme/shop

  # Preview the CI workflow on a feature branch
  stackforge preview ci acme/shop --branch feature/ci

  # Preview compose for a hand-written service list
  stackforge preview compose acme/shop --services services.cue`,
		Args:      cobra.RangeArgs(1, 2),
		ValidArgs: artifactKinds,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := args[0]
			if err := validArtifact(kind); err != nil {
				return err
			}
			repo, err := resolveRepo(args[1:], flags.branch)
			if err != nil {
				return err
			}

			a, err := newApp(cmd, repo)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := flags.build(a.ctx, a.cfg, repo)
			if err != nil {
				return err
			}

			op := telemetry.StartOperation(a.ctx, "cli.preview",
				telemetry.AttrCommand.String("preview"),
				telemetry.AttrArtifact.String(kind),
				telemetry.AttrRepo.String(repo.FullName()),
			)
			var res *engine.PreviewResult
			switch engine.ArtifactKind(kind) {
			case engine.ArtifactDockerfile:
				res, err = a.engine.PreviewDockerfile(op.Ctx, req)
			case engine.ArtifactCI:
				res, err = a.engine.PreviewCi(op.Ctx, req)
			case engine.ArtifactCompose:
				res, err = a.engine.PreviewCompose(op.Ctx, req)
			}
			op.End(err)
			if err != nil {
				return err
			}

			return a.out.preview(res, showContent)
		},
	}

	flags.register(cmd, false)
	cmd.Flags().BoolVar(&showContent, "content", false, "print proposed content for identical files too")

	return cmd
}
