package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/stackforge/stackforge/pkg/config"
	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/policy"
	"github.com/stackforge/stackforge/pkg/remote"
	"github.com/stackforge/stackforge/pkg/stores"
	"github.com/stackforge/stackforge/pkg/telemetry"
	"github.com/stackforge/stackforge/pkg/templates"
)

// app holds everything a command needs, built from configuration and
// global flags.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    *telemetry.Logger
	engine    *engine.ReconciliationEngine
	templates *templates.Source
	store     *stores.SQLiteStore
	policy    *policy.Engine
	local     *remote.MemoryRepository
	out       *printer

	ctx    context.Context
	cancel context.CancelFunc
}

// loadConfig reads --config, or ./stackforge.cue when it exists, and applies
// flag overrides.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var sources []string
	switch {
	case configPath != "":
		sources = append(sources, configPath)
	default:
		if _, err := os.Stat(config.DefaultFileName); err == nil {
			sources = append(sources, config.DefaultFileName)
		}
	}

	cfg, err := config.Load(ctx, sources...)
	if err != nil {
		return nil, err
	}

	if token != "" {
		cfg.GitHub.Token = token
	}
	if apiURL != "" {
		cfg.GitHub.APIURL = apiURL
	}
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
	if logLevel != "" {
		cfg.Telemetry.LogLevel = logLevel
	}
	if verbose && logLevel == "" {
		cfg.Telemetry.LogLevel = "debug"
	}
	if metricsAddr != "" {
		cfg.Telemetry.Metrics.Enabled = true
		cfg.Telemetry.Metrics.ListenAddress = metricsAddr
	}
	if noLedger {
		cfg.Store.Enabled = false
	}
	if noPolicy {
		cfg.Policy.Enabled = false
	}

	if err := config.NewCUEParser().Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newApp wires the engine and its collaborators. repo is the target
// repository; it is only used to seed the local checkout.
func newApp(cmd *cobra.Command, repo engine.RepoRef) (*app, error) {
	ctx, cancel := context.WithCancel(cmd.Context())
	a := &app{ctx: ctx, cancel: cancel, out: newPrinter(cmd.OutOrStdout(), jsonOutput)}

	if err := a.init(buildVersion, repo); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(version string, repo engine.RepoRef) error {
	cfg, err := loadConfig(a.ctx)
	if err != nil {
		return err
	}
	a.cfg = cfg

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.tel = tel
	a.logger = tel.Logger
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.LogLevel))
	a.ctx = tel.WithContext(a.ctx)

	if tel.Metrics.Enabled() && cfg.Telemetry.Metrics.ListenAddress != "" {
		go func() {
			if err := tel.StartMetricsServer(a.ctx); err != nil {
				a.logger.WithError(err).Error("Metrics server stopped")
			}
		}()
	}

	zlog := a.logger.Zerolog()

	var rem engine.RemoteRepository
	if localDir != "" {
		a.local = remote.NewMemoryRepository()
		if err := a.local.LoadFS(repo, os.DirFS(localDir), cfg.Walker.SkipDirs); err != nil {
			return fmt.Errorf("failed to load local checkout %s: %w", localDir, err)
		}
		rem = a.local
	} else {
		gh, err := remote.NewGitHubClient(cfg.GitHubClientConfig(), zlog)
		if err != nil {
			return err
		}
		rem = gh
	}

	if cfg.Templates.Dir != "" {
		a.templates, err = templates.NewWithDir(zlog, cfg.Templates.Dir)
	} else {
		a.templates, err = templates.New(zlog)
	}
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}
	if cfg.Templates.Watch {
		if err := a.templates.Watch(a.ctx); err != nil {
			return fmt.Errorf("failed to watch templates: %w", err)
		}
	}

	opts := engine.Options{
		Remote:    rem,
		Templates: a.templates,
		Metrics:   tel.Metrics,
		Logger:    zlog,
		Registry:  cfg.Registry,
		Walker:    cfg.WalkerConfig(),
	}

	if cfg.Store.Enabled {
		a.store, err = stores.Open(a.ctx, cfg.StoreConfig())
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		opts.History = a.store
	}

	if cfg.Policy.Enabled {
		a.policy, err = policy.NewEngineWithSettings(zlog, cfg.PolicySettings())
		if err != nil {
			return err
		}
		if len(cfg.Policy.Paths) > 0 {
			if err := a.policy.LoadPolicies(a.ctx, cfg.Policy.Paths); err != nil {
				return err
			}
			if cfg.Policy.Watch {
				if err := a.policy.WatchPolicies(a.ctx); err != nil {
					return fmt.Errorf("failed to watch policies: %w", err)
				}
			}
		}
		opts.Authorizer = a.policy
	}

	a.engine, err = engine.New(opts)
	return err
}

// Close stops watchers and flushes telemetry.
func (a *app) Close() {
	a.cancel()
	if a.templates != nil {
		_ = a.templates.StopWatching()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.WithError(err).Warn("Failed to close history store")
		}
	}
	if a.tel != nil {
		_ = a.tel.Shutdown(context.Background())
	}
}

// syncLocal writes the commits recorded after baseline back into the local
// checkout.
func (a *app) syncLocal(baseline int) error {
	if a.local == nil {
		return nil
	}
	commits := a.local.Commits()
	for _, c := range commits[baseline:] {
		target := filepath.Join(localDir, filepath.FromSlash(c.Path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, []byte(c.Content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", target, err)
		}
		a.logger.WithField("path", c.Path).Debug("Wrote local file")
	}
	return nil
}

// localCommits returns how many writes the local checkout has recorded.
func (a *app) localCommits() int {
	if a.local == nil {
		return 0
	}
	return len(a.local.Commits())
}

// resolveRepo parses the repository argument. With --local it may be
// omitted and defaults to local/<directory name>.
func resolveRepo(args []string, branch string) (engine.RepoRef, error) {
	if len(args) > 0 {
		return engine.ParseRepoRef(args[0], branch)
	}
	if localDir == "" {
		return engine.RepoRef{}, errors.New("repository argument required (owner/repo)")
	}
	abs, err := filepath.Abs(localDir)
	if err != nil {
		return engine.RepoRef{}, err
	}
	name := strings.ToLower(filepath.Base(abs))
	return engine.ParseRepoRef("local/"+name, branch)
}

// parseEnv parses KEY=VALUE pairs.
func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, expected KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}
