package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackforge/stackforge/pkg/engine"
	"github.com/stackforge/stackforge/pkg/policy"
	"github.com/stackforge/stackforge/pkg/remote"
	"github.com/stackforge/stackforge/pkg/stores"
	"github.com/stackforge/stackforge/pkg/telemetry"
)

// Config is the decoded form of stackforge.cue.
type Config struct {
	// GitHub configures the remote repository client.
	GitHub GitHubConfig `json:"github" yaml:"github"`

	// Store configures the apply history ledger.
	Store StoreConfig `json:"store" yaml:"store"`

	// Walker bounds repository traversal.
	Walker WalkerConfig `json:"walker" yaml:"walker"`

	// Registry is the container registry host images are tagged for.
	Registry string `json:"registry" yaml:"registry" validate:"required,hostname|hostname_port"`

	// Templates configures CI workflow template overrides.
	Templates TemplatesConfig `json:"templates" yaml:"templates"`

	// Policy configures the apply gate.
	Policy PolicyConfig `json:"policy" yaml:"policy"`

	// Telemetry configures logging, tracing and metrics.
	Telemetry TelemetryConfig `json:"telemetry" yaml:"telemetry"`

	// Defaults apply to requests that leave these fields empty.
	Defaults DefaultsConfig `json:"defaults" yaml:"defaults"`
}

// GitHubConfig configures the GitHub contents API client.
type GitHubConfig struct {
	APIURL       string `json:"api_url" yaml:"api_url" validate:"required,url"`
	Token        string `json:"token,omitempty" yaml:"token,omitempty"`
	Timeout      string `json:"timeout" yaml:"timeout" validate:"required,duration"`
	UserAgent    string `json:"user_agent" yaml:"user_agent" validate:"required"`
	CommitPrefix string `json:"commit_prefix" yaml:"commit_prefix"`
	MaxSiblings  int    `json:"max_siblings" yaml:"max_siblings" validate:"gte=1,lte=1000"`
}

// StoreConfig configures the SQLite ledger.
type StoreConfig struct {
	Enabled      bool   `json:"enabled" yaml:"enabled"`
	Path         string `json:"path" yaml:"path" validate:"required_if=Enabled true"`
	BusyTimeout  string `json:"busy_timeout" yaml:"busy_timeout" validate:"required,duration"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns" validate:"gte=1"`
}

// WalkerConfig bounds repository traversal.
type WalkerConfig struct {
	MaxDepth int      `json:"max_depth" yaml:"max_depth" validate:"gte=0"`
	MaxNodes int      `json:"max_nodes" yaml:"max_nodes" validate:"gte=1"`
	SkipDirs []string `json:"skip_dirs" yaml:"skip_dirs" validate:"dive,required,excludes=/"`
}

// TemplatesConfig configures the template source.
type TemplatesConfig struct {
	// Dir holds <key>.yml files overriding the embedded defaults.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`

	// Watch reloads Dir when its files change.
	Watch bool `json:"watch" yaml:"watch" validate:"excluded_without=Dir"`
}

// PolicyConfig configures the OPA apply gate.
type PolicyConfig struct {
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	Paths                []string `json:"paths" yaml:"paths" validate:"dive,required"`
	Watch                bool     `json:"watch" yaml:"watch"`
	ProtectedBranches    []string `json:"protected_branches" yaml:"protected_branches" validate:"dive,required"`
	ProtectDefaultBranch bool     `json:"protect_default_branch" yaml:"protect_default_branch"`
	ExtraPaths           []string `json:"extra_paths" yaml:"extra_paths" validate:"dive,required"`
	MaxContentBytes      int      `json:"max_content_bytes" yaml:"max_content_bytes" validate:"gte=1"`
}

// TelemetryConfig configures observability.
type TelemetryConfig struct {
	Environment string        `json:"environment" yaml:"environment"`
	LogLevel    string        `json:"log_level" yaml:"log_level" validate:"oneof=trace debug info warn error fatal"`
	LogFormat   string        `json:"log_format" yaml:"log_format" validate:"oneof=console json"`
	Tracing     TracingConfig `json:"tracing" yaml:"tracing"`
	Metrics     MetricsConfig `json:"metrics" yaml:"metrics"`
}

// TracingConfig configures span export.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"gte=0,lte=1"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address,omitempty" validate:"omitempty,hostname_port"`
	Path          string `json:"path" yaml:"path" validate:"startswith=/"`
}

// DefaultsConfig holds request defaults.
type DefaultsConfig struct {
	Branch   string `json:"branch,omitempty" yaml:"branch,omitempty"`
	Strategy string `json:"strategy" yaml:"strategy" validate:"oneof=UPDATE_IF_EXISTS CREATE_NEW_ALWAYS FAIL_IF_EXISTS"`
}

// ValidationError describes one problem found in a configuration source.
type ValidationError struct {
	// File is the source file, if known.
	File string `json:"file,omitempty"`

	// Line and Column locate the problem, if known.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`

	// Path is the field path within the document.
	Path string `json:"path,omitempty"`

	// Message describes the problem.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned by Load when a source is invalid.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	msgs := make([]string, len(v))
	for i, e := range v {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// ParsedConfig is the outcome of parsing one or more sources.
type ParsedConfig struct {
	// Config is nil when Errors is not empty.
	Config *Config `json:"config,omitempty"`

	// SourceFiles lists the files that were unified.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when parsing finished.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors collects schema and validation failures.
	Errors []ValidationError `json:"errors,omitempty"`
}

// ServiceSet is a caller-supplied list of services and relationships.
type ServiceSet struct {
	Services      []engine.ServiceDescriptor `json:"services"`
	Relationships []engine.Relationship      `json:"relationships"`
}

// GitHubClientConfig converts the github section for remote.NewGitHubClient.
func (c *Config) GitHubClientConfig() remote.GitHubConfig {
	cfg := remote.DefaultGitHubConfig()
	cfg.BaseURL = c.GitHub.APIURL
	cfg.Token = c.GitHub.Token
	if d, err := time.ParseDuration(c.GitHub.Timeout); err == nil {
		cfg.Timeout = d
	}
	cfg.UserAgent = c.GitHub.UserAgent
	cfg.CommitPrefix = c.GitHub.CommitPrefix
	cfg.MaxSiblings = c.GitHub.MaxSiblings
	return cfg
}

// StoreConfig converts the store section for stores.Open.
func (c *Config) StoreConfig() stores.Config {
	cfg := stores.Config{
		Path:         c.Store.Path,
		MaxOpenConns: c.Store.MaxOpenConns,
	}
	if d, err := time.ParseDuration(c.Store.BusyTimeout); err == nil {
		cfg.BusyTimeout = d
	}
	return cfg
}

// WalkerConfig converts the walker section for engine.Options.
func (c *Config) WalkerConfig() engine.WalkerConfig {
	return engine.WalkerConfig{
		MaxDepth: c.Walker.MaxDepth,
		MaxNodes: c.Walker.MaxNodes,
		SkipDirs: append([]string{}, c.Walker.SkipDirs...),
	}
}

// PolicySettings converts the policy section for policy.NewEngineWithSettings.
func (c *Config) PolicySettings() policy.Settings {
	return policy.Settings{
		ProtectedBranches:    append([]string{}, c.Policy.ProtectedBranches...),
		ProtectDefaultBranch: c.Policy.ProtectDefaultBranch,
		ExtraPaths:           append([]string{}, c.Policy.ExtraPaths...),
		MaxContentBytes:      c.Policy.MaxContentBytes,
		Environment:          c.Telemetry.Environment,
	}
}

// TelemetryConfig converts the telemetry section. version is the binary
// version reported as service.version.
func (c *Config) TelemetryConfig(version string) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	if version != "" {
		cfg.ServiceVersion = version
	}
	cfg.Environment = c.Telemetry.Environment
	cfg.Logging.Level = c.Telemetry.LogLevel
	cfg.Logging.Format = c.Telemetry.LogFormat
	cfg.Tracing.Enabled = c.Telemetry.Tracing.Enabled
	cfg.Tracing.Exporter = c.Telemetry.Tracing.Exporter
	cfg.Tracing.Endpoint = c.Telemetry.Tracing.Endpoint
	cfg.Tracing.SamplingRate = c.Telemetry.Tracing.SamplingRate
	cfg.Tracing.Insecure = c.Telemetry.Tracing.Insecure
	cfg.Metrics.Enabled = c.Telemetry.Metrics.Enabled
	cfg.Metrics.ListenAddress = c.Telemetry.Metrics.ListenAddress
	cfg.Metrics.Path = c.Telemetry.Metrics.Path
	return cfg
}

// DefaultStrategy returns the configured default write strategy.
func (c *Config) DefaultStrategy() engine.FileHandlingStrategy {
	return engine.FileHandlingStrategy(c.Defaults.Strategy)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.GitHub.Token != "" {
		out.GitHub.Token = "********"
	}
	return &out
}
