package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/telemetry"
)

func newAnalyzeCommand() *cobra.Command {
	var (
		branch string
		mode   string
		dot    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze [owner/repo]",
		Short: "Detect the services in a repository",
		Long: `Analyze walks a repository and classifies every service it finds.

Each directory is checked for a Maven, Gradle or Node build file. Services
are numbered in the order they are found, a database service is added when
a backend declares a driver, and frontends are linked to the first backend.`,
		Example: `  # Analyze a GitHub repository
  stackforge analyze acme/shop

  # Analyze a local checkout and print JSON
  stackforge analyze --local ./shop --json

  # Force single-service analysis of the repository root
  stackforge analyze acme/shop --mode single

  # Render the service graph with Graphviz
  stackforge analyze acme/shop --dot | dot -Tpng -o services.png`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := resolveRepo(args, branch)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, repo)
			if err != nil {
				return err
			}
			defer a.Close()
			if repo.Branch == "" {
				repo.Branch = a.cfg.Defaults.Branch
			}

			op := telemetry.StartOperation(a.ctx, "cli.analyze",
				telemetry.AttrCommand.String("analyze"),
				telemetry.AttrRepo.String(repo.FullName()),
			)
			analysis, err := a.engine.Analyze(op.Ctx, repo, engine.Mode(mode))
			op.End(err)
			if err != nil {
				return err
			}

			op.Logger.WithField("services", len(analysis.Services)).Info("Analysis complete")
			if dot {
				graph, err := engine.BuildServiceGraph(analysis.Services, analysis.Relationships)
				if err != nil {
					return err
				}
				_, err = fmt.Fprint(cmd.OutOrStdout(), graph.ToDOT())
				return err
			}
			return a.out.analysis(analysis)
		},
	}

	cmd.Flags().StringVarP(&branch, "branch", "b", "", "branch to read (default: repository default branch)")
	cmd.Flags().StringVar(&mode, "mode", "", "single or multi (default: decided by the analysis)")
	cmd.Flags().BoolVar(&dot, "dot", false, "print the service graph in Graphviz DOT format")

	return cmd
}
