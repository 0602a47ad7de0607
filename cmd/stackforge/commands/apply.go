package commands

import (
	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "apply <dockerfile|ci|compose> [owner/repo]",
		Short: "Write Dockerfiles, CI workflows or compose files",
		Long: `Apply writes the artifacts shown by preview to the target branch.

Every write passes the policy gate before anything is committed, and each
commit is recorded in the history ledger. The CI workflow is refused while
a Dockerfile still has to be generated; apply dockerfile first.

Strategies:
  UPDATE_IF_EXISTS   replace the file in place (default)
  CREATE_NEW_ALWAYS  never touch an existing file, write a numbered sibling
  FAIL_IF_EXISTS     stop when the file already exists`,
		Example: `  # Generate missing Dockerfiles
  stackforge apply dockerfile acme/shop

  # Write the CI workflow, refusing to overwrite
  stackforge apply ci acme/shop --strategy FAIL_IF_EXISTS

  # Apply compose to a local checkout
  stackforge apply compose --local ./shop --env SPRING_PROFILES_ACTIVE=dev`,
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

			op := telemetry.StartOperation(a.ctx, "cli.apply",
				telemetry.AttrCommand.String("apply"),
				telemetry.AttrArtifact.String(kind),
				telemetry.AttrRepo.String(repo.FullName()),
			)
			baseline := a.localCommits()
			var res *engine.ApplyResult
			switch engine.ArtifactKind(kind) {
			case engine.ArtifactDockerfile:
				res, err = a.engine.ApplyDockerfile(op.Ctx, req)
			case engine.ArtifactCI:
				res, err = a.engine.ApplyCi(op.Ctx, req)
			case engine.ArtifactCompose:
				res, err = a.engine.ApplyCompose(op.Ctx, req)
			}
			// Writes that landed before a failure are still synced.
			if syncErr := a.syncLocal(baseline); err == nil {
				err = syncErr
			}
			op.End(err)
			if err != nil {
				return err
			}

			op.Logger.WithFields(map[string]interface{}{
				"artifact": kind,
				"files":    len(res.Files),
				"applied":  res.Applied(),
			}).Info("Apply complete")
			return a.out.apply(res)
		},
	}

	flags.register(cmd, true)

	return cmd
}
