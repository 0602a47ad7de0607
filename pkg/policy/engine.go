package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/stackforge/stackforge/pkg/engine"
)

// Settings is exposed to policies as data.stackforge.config.
type Settings struct {
	// ProtectedBranches are glob patterns of branches that must not be written.
	ProtectedBranches []string `json:"protected_branches"`

	// ProtectDefaultBranch denies writes that do not name a branch.
	ProtectDefaultBranch bool `json:"protect_default_branch"`

	// ExtraPaths are regular expressions of additional allowed target paths.
	ExtraPaths []string `json:"extra_paths"`

	// MaxContentBytes caps the size of a written file. Zero disables the cap.
	MaxContentBytes int `json:"max_content_bytes"`

	// Environment is passed to policies as input.context.environment.
	Environment string `json:"environment,omitempty"`
}

// DefaultSettings returns the settings used by NewEngine.
func DefaultSettings() Settings {
	return Settings{
		ProtectedBranches: []string{},
		ExtraPaths:        []string{},
		MaxContentBytes:   1 << 20,
	}
}

// Engine evaluates write requests against Rego policies.
// It implements engine.WriteAuthorizer.
type Engine struct {
	mu          sync.RWMutex
	policies    map[string]*compiledPolicy
	store       storage.Store
	settings    Settings
	logger      zerolog.Logger
	loader      *Loader
	customPaths []string
}

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies and default settings.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	return NewEngineWithSettings(logger, DefaultSettings())
}

// NewEngineWithSettings creates a policy engine with the built-in policies.
func NewEngineWithSettings(logger zerolog.Logger, settings Settings) (*Engine, error) {
	store, err := newDataStore(settings)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    store,
		settings: settings,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

func newDataStore(settings Settings) (storage.Store, error) {
	if settings.ProtectedBranches == nil {
		settings.ProtectedBranches = []string{}
	}
	if settings.ExtraPaths == nil {
		settings.ExtraPaths = []string{}
	}
	doc, err := json.Marshal(map[string]interface{}{
		"stackforge": map[string]interface{}{"config": settings},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy settings: %w", err)
	}
	return inmem.NewFromReader(bytes.NewReader(doc)), nil
}

// AuthorizeWrite returns a *DeniedError when any enabled policy reports a
// blocking violation for req.
func (e *Engine) AuthorizeWrite(ctx context.Context, req *engine.WriteRequest) error {
	result, err := e.Evaluate(ctx, req)
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		e.logger.Warn().
			Str("policy", w.Policy).
			Str("path", w.Path).
			Msg(w.Message)
	}

	if !result.Allowed {
		e.logger.Info().
			Str("repo", req.Repo).
			Str("path", req.Path).
			Int("violations", len(result.Violations)).
			Msg("Write denied by policy")
		return &DeniedError{Path: req.Path, Violations: result.Violations}
	}
	return nil
}

// Evaluate runs every enabled policy against req.
func (e *Engine) Evaluate(ctx context.Context, req *engine.WriteRequest) (*PolicyResult, error) {
	if req == nil {
		return nil, fmt.Errorf("write request is required")
	}
	startTime := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &PolicyInput{
		Write: NewWriteInput(req),
		Context: &PolicyContext{
			Environment: e.settings.Environment,
			Timestamp:   startTime.UTC(),
			Operation:   "write",
		},
	}

	result := &PolicyResult{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		result.EvaluatedPolicies = append(result.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			// a broken policy fails closed
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("path", req.Path).
				Msg("Policy evaluation failed")
			violations = []PolicyViolation{{
				Policy:   name,
				Path:     req.Path,
				Message:  fmt.Sprintf("evaluation failed: %v", err),
				Severity: SeverityError,
			}}
		}

		for _, v := range violations {
			if v.Severity.Blocks() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.EvaluatedAt = time.Now()
	result.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("path", req.Path).
		Bool("allowed", result.Allowed).
		Int("violations", len(result.Violations)).
		Dur("duration", result.Duration).
		Msg("Write policy evaluation completed")

	return result, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]PolicyViolation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []PolicyViolation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d, input.Write.Path))
		}
	}

	sort.Slice(violations, func(i, j int) bool { return violations[i].Message < violations[j].Message })
	return violations, nil
}

// extractPackageName extracts the package path from Rego code.
func extractPackageName(module *ast.Module) string {
	return strings.TrimPrefix(module.Package.Path.String(), "data.")
}

// createViolation creates a PolicyViolation from a deny set member.
func createViolation(policy *Policy, result interface{}, path string) PolicyViolation {
	violation := PolicyViolation{
		Policy:   policy.Name,
		Path:     path,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compileAndStorePolicy compiles a policy and prepares its deny query.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModuleWithOpts(policy.Name, policy.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.ParsedModule(module),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(module))),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	if policy.Severity == "" {
		policy.Severity = SeverityError
	}
	if policy.LoadedAt.IsZero() {
		policy.LoadedAt = time.Now()
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Str("package", extractPackageName(module)).
		Msg("Policy compiled successfully")

	return nil
}

// loadBuiltinPolicies compiles the built-in policies.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := GetBuiltinPolicies()
	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

// LoadPolicies loads custom policy files and directories. A custom policy
// named like a built-in replaces it.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.installCustom(ctx, policies); err != nil {
		return err
	}
	e.customPaths = append([]string(nil), paths...)

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// installCustom compiles policies into a fresh set alongside the built-ins.
// Nothing changes when any policy fails to compile.
func (e *Engine) installCustom(ctx context.Context, policies []Policy) error {
	previous := e.policies
	e.policies = make(map[string]*compiledPolicy, len(previous))
	for name, cp := range previous {
		if cp.policy.Builtin {
			e.policies[name] = cp
		}
	}

	for i := range policies {
		policies[i].Builtin = false
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			e.policies = previous
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}
	return nil
}

// WatchPolicies reloads the custom policy paths on change until ctx is done.
func (e *Engine) WatchPolicies(ctx context.Context) error {
	e.mu.RLock()
	paths := append([]string(nil), e.customPaths...)
	e.mu.RUnlock()
	if len(paths) == 0 {
		return fmt.Errorf("no custom policy paths loaded")
	}

	return e.loader.Watch(ctx, paths, func(policies []Policy) error {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.installCustom(ctx, policies)
	})
}

// ReloadPolicies drops custom policies and recompiles the built-ins, then
// reloads custom paths from disk.
func (e *Engine) ReloadPolicies(ctx context.Context) error {
	e.mu.Lock()
	e.policies = make(map[string]*compiledPolicy)
	err := e.loadBuiltinPolicies(ctx)
	paths := append([]string(nil), e.customPaths...)
	e.mu.Unlock()
	if err != nil {
		return err
	}

	if len(paths) == 0 {
		return nil
	}
	e.loader.ClearCache()
	return e.LoadPolicies(ctx, paths)
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ engine.WriteAuthorizer = (*Engine)(nil)
