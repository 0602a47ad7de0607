package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/stackforge/stackforge/pkg/config"
	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/policy"
)

// envPrefix prefixes environment variables that stand in for global flags,
// e.g. STACKFORGE_TOKEN for --token.
const envPrefix = "STACKFORGE"

var (
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	token       string
	apiURL      string
	dbPath      string
	logLevel    string
	metricsAddr string
	localDir    string
	noLedger    bool
	noPolicy    bool

	// buildVersion is reported as the telemetry service version.
	buildVersion string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	buildVersion = version

	rootCmd := &cobra.Command{
		Use:   "stackforge",
		Short: "StackForge - container and CI scaffolding for GitHub repositories",
		Long: `StackForge inspects a GitHub repository, classifies the services it
contains and keeps their container artifacts in sync.

Features:
  - Stack detection for Maven, Gradle and Node services
  - Dockerfile generation with build-tool aware templates
  - GitHub Actions workflows from overridable templates
  - docker-compose synthesis with database and API wiring
  - Previews with unified diffs before anything is written
  - OPA policy gate and an append-only apply history`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return bindEnv(cmd.Root())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file or directory (default: ./"+config.DefaultFileName+" when present)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.StringVar(&token, "token", "", "GitHub token")
	flags.StringVar(&apiURL, "api-url", "", "GitHub API root, overrides github.api_url")
	flags.StringVar(&dbPath, "db", "", "history database path, overrides store.path")
	flags.StringVar(&logLevel, "log-level", "", "log level, overrides telemetry.log_level")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.StringVar(&localDir, "local", "", "use a local checkout instead of the GitHub API")
	flags.BoolVar(&noLedger, "no-ledger", false, "do not record apply history")
	flags.BoolVar(&noPolicy, "no-policy", false, "skip the policy gate")

	rootCmd.AddCommand(newAnalyzeCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}

// bindEnv fills every global flag the user did not set from its
// STACKFORGE_* environment variable.
func bindEnv(root *cobra.Command) error {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	flags := root.PersistentFlags()
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	var setErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		val := fmt.Sprintf("%v", v.Get(f.Name))
		if val == "" {
			return
		}
		if err := f.Value.Set(val); err != nil && setErr == nil {
			setErr = fmt.Errorf("invalid %s_%s: %w", envPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err)
		}
	})
	return setErr
}

// Exit codes returned by the binary.
const (
	exitFailure      = 1
	exitInvalid      = 2
	exitPrecondition = 3
	exitDenied       = 4
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	var denied *policy.DeniedError
	if errors.As(err, &denied) {
		return exitDenied
	}

	var verrs config.ValidationErrors
	if errors.As(err, &verrs) {
		return exitInvalid
	}

	var engErr *engine.EngineError
	if errors.As(err, &engErr) {
		switch {
		case engErr.Code == engine.ErrCodePolicyDenied:
			return exitDenied
		case engErr.Class == engine.ErrorClassValidation:
			return exitInvalid
		case engErr.Class == engine.ErrorClassPrecondition, engErr.Class == engine.ErrorClassConflict:
			return exitPrecondition
		}
	}
	return exitFailure
}
