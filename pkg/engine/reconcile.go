package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Apply outcome labels reported to the metrics recorder.
const (
	OutcomeWritten      = "written"
	OutcomeNothing      = "nothing_to_apply"
	OutcomePrecondition = "precondition_failed"
	OutcomeDenied       = "denied"
	OutcomeFailed       = "failed"
)

// Messages reported when an apply has nothing to write.
const (
	MsgDockerfilePresent     = "Dockerfile already present, nothing to apply"
	MsgAllDockerfilesPresent = "All Dockerfiles already present, nothing to apply"
	MsgComposePresent        = "Compose file already present, nothing to apply"
	MsgWorkflowUpToDate      = "Workflow already up to date, nothing to apply"
)

// Options configures a ReconciliationEngine. Remote is required; the rest are optional.
type Options struct {
	// Remote is the repository transport.
	Remote RemoteRepository

	// Templates provides CI workflow templates. Required for CI operations.
	Templates TemplateSource

	// History receives a record of every successful write.
	History HistoryRecorder

	// Authorizer gates every write.
	Authorizer WriteAuthorizer

	// Metrics receives engine measurements.
	Metrics MetricsRecorder

	// Logger is the base logger for all engine components.
	Logger zerolog.Logger

	// Registry is the container registry host. Defaults to ghcr.io.
	Registry string

	// Walker bounds repository traversal.
	Walker WalkerConfig

	// Rules overrides the classification rules.
	Rules []ClassificationRule
}

// Request is the input of every preview and apply entry point.
type Request struct {
	// Repo is the target repository. Repo.Branch is the branch written to.
	Repo RepoRef `json:"repo" validate:"required"`

	// Mode is single or multi. Empty lets the analysis decide.
	Mode Mode `json:"mode,omitempty" validate:"omitempty,oneof=single multi"`

	// Services are caller-supplied descriptors. When empty the repository is analyzed.
	Services []ServiceDescriptor `json:"services,omitempty" validate:"omitempty,dive"`

	// Relationships accompany caller-supplied services for compose synthesis.
	Relationships []Relationship `json:"relationships,omitempty"`

	// ImageName overrides the repository full name as the image base.
	ImageName string `json:"image_name,omitempty"`

	// Strategy governs writes. Empty means UPDATE_IF_EXISTS.
	Strategy FileHandlingStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=UPDATE_IF_EXISTS CREATE_NEW_ALWAYS FAIL_IF_EXISTS"`

	// Env is merged over the default environment of synthesized compose services.
	Env map[string]string `json:"env,omitempty"`
}

// strategy returns the effective write strategy.
func (r *Request) strategy() FileHandlingStrategy {
	if r.Strategy == "" {
		return UpdateIfExists
	}
	return r.Strategy
}

// ReconciliationEngine previews and applies Dockerfiles, CI workflows and
// compose files against a remote repository.
type ReconciliationEngine struct {
	remote     *session
	analyzer   *ServiceAnalyzer
	containers *ContainerPlanner
	ci         *CiPlanner
	compose    *ComposePlanner
	templates  TemplateSource
	history    HistoryRecorder
	authorizer WriteAuthorizer
	metrics    MetricsRecorder
	validate   *validator.Validate
	tracer     trace.Tracer
	logger     zerolog.Logger
}

// New creates a reconciliation engine.
func New(opts Options) (*ReconciliationEngine, error) {
	if opts.Remote == nil {
		return nil, NewValidationError("remote repository is required", nil)
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}

	remote := newSession(opts.Remote, metrics)
	walker := NewTreeWalker(remote, NewStackClassifier(opts.Rules), opts.Walker, opts.Logger)

	return &ReconciliationEngine{
		remote:     remote,
		analyzer:   NewServiceAnalyzer(remote, walker, opts.Logger),
		containers: NewContainerPlanner(remote, opts.Registry, opts.Logger),
		ci:         NewCiPlanner(opts.Templates, opts.Logger),
		compose:    NewComposePlanner(remote, opts.Logger),
		templates:  opts.Templates,
		history:    opts.History,
		authorizer: opts.Authorizer,
		metrics:    metrics,
		validate:   validator.New(),
		tracer:     remote.tracer,
		logger:     opts.Logger.With().Str("component", "reconciliation-engine").Logger(),
	}, nil
}

func (e *ReconciliationEngine) startSpan(ctx context.Context, name string, req *Request) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(
		attribute.String("repo", req.Repo.FullName()),
		attribute.String("mode", string(req.Mode)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Analyze classifies a repository.
func (e *ReconciliationEngine) Analyze(ctx context.Context, repo RepoRef, mode Mode) (analysis *Analysis, err error) {
	req := &Request{Repo: repo, Mode: mode}
	ctx, span := e.startSpan(ctx, "Analyze", req)
	defer func() { endSpan(span, err) }()

	if err := e.check(req); err != nil {
		return nil, err
	}
	return e.analyzer.Analyze(ctx, repo, mode)
}

func (e *ReconciliationEngine) check(req *Request) error {
	if err := e.validate.Struct(req); err != nil {
		return NewValidationError("invalid request", err).WithResource(req.Repo.FullName())
	}
	return nil
}

// resolve returns the analysis the request operates on, either from the
// caller's descriptors or from a fresh repository analysis.
func (e *ReconciliationEngine) resolve(ctx context.Context, req *Request) (*Analysis, error) {
	if err := e.check(req); err != nil {
		return nil, err
	}
	if len(req.Services) == 0 {
		return e.analyzer.Analyze(ctx, req.Repo, req.Mode)
	}
	if _, err := BuildServiceGraph(req.Services, req.Relationships); err != nil {
		return nil, err
	}

	analysis := &Analysis{
		ID:            uuid.New().String(),
		Repo:          req.Repo,
		Mode:          req.Mode,
		Services:      req.Services,
		Relationships: req.Relationships,
		AnalyzedAt:    time.Now().UTC(),
	}
	if analysis.Mode == "" {
		analysis.Mode = ModeMulti
		if len(analysis.Buildable()) == 1 {
			analysis.Mode = ModeSingle
		}
	}
	analysis.PrimaryServiceID = req.Services[0].ID
	for _, svc := range req.Services {
		if svc.Kind == KindBackend {
			analysis.PrimaryServiceID = svc.ID
			break
		}
	}
	return analysis, nil
}

// targets returns the services Dockerfiles and workflows are planned for.
// A repository without buildable services gets one GENERIC service at the root.
func targets(analysis *Analysis, mode Mode) (Mode, []ServiceDescriptor) {
	if mode == "" {
		mode = analysis.Mode
	}
	services := analysis.Buildable()
	if len(services) == 0 {
		c := Generic()
		services = []ServiceDescriptor{{
			ID:               serviceID(c.Stack, 0),
			Name:             serviceName(c.Stack, RootDirectory),
			StackType:        c.Stack,
			Kind:             KindService,
			WorkingDirectory: RootDirectory,
			BuildTool:        BuildTool(c.Stack),
			Language:         Language(c.Stack),
		}}
	}
	if mode == ModeSingle {
		services = services[:1]
	}
	return mode, services
}

func (e *ReconciliationEngine) containerPlans(ctx context.Context, req *Request) (Mode, []ServiceDescriptor, []*ContainerPlan, error) {
	analysis, err := e.resolve(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}
	mode, services := targets(analysis, req.Mode)
	plans, err := e.containers.PlanAll(ctx, req.Repo, services, mode, req.ImageName)
	if err != nil {
		return "", nil, nil, err
	}
	return mode, services, plans, nil
}

// compare classifies proposed content against the remote content at path.
func (e *ReconciliationEngine) compare(ctx context.Context, repo RepoRef, artifact ArtifactKind, serviceID, path, proposed string) (ArtifactPreview, error) {
	current, ok, err := e.remote.fetch(ctx, repo, path)
	if err != nil {
		return ArtifactPreview{}, err
	}
	preview := newArtifactPreview(serviceID, path, proposed, current, ok)
	e.metrics.RecordArtifactStatus(string(artifact), string(preview.Status))
	return preview, nil
}

func newArtifactPreview(serviceID, path, proposed, current string, exists bool) ArtifactPreview {
	preview := ArtifactPreview{
		ServiceID: serviceID,
		Path:      path,
		Proposed:  proposed,
	}
	switch {
	case !exists:
		preview.Status = StatusNotFound
	case current == proposed:
		preview.Status = StatusIdentical
		preview.Current = current
	default:
		preview.Status = StatusDifferent
		preview.Current = current
		preview.Diff = UnifiedDiff(path, current, proposed)
	}
	return preview
}

// UnifiedDiff renders a unified diff from the remote content to the proposed content.
func UnifiedDiff(path, current, proposed string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(current),
		B:        difflib.SplitLines(proposed),
		FromFile: "remote/" + path,
		ToFile:   "proposed/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return text
}

// PreviewDockerfile compares the Dockerfile of each target service with the remote.
func (e *ReconciliationEngine) PreviewDockerfile(ctx context.Context, req Request) (result *PreviewResult, err error) {
	ctx, span := e.startSpan(ctx, "PreviewDockerfile", &req)
	defer func() { endSpan(span, err) }()

	mode, _, plans, err := e.containerPlans(ctx, &req)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordPlan(string(ArtifactDockerfile), string(mode))

	result = &PreviewResult{Mode: mode, Artifact: ArtifactDockerfile}
	for _, plan := range plans {
		proposed := plan.PreviewContent
		if plan.ShouldGenerateDockerfile {
			proposed = plan.GeneratedContent
		}
		preview := newArtifactPreview(plan.ServiceID, plan.DockerfilePath, proposed, plan.ExistingContent, plan.HasDockerfile)
		preview.Container = plan
		e.metrics.RecordArtifactStatus(string(ArtifactDockerfile), string(preview.Status))
		result.Artifacts = append(result.Artifacts, preview)
	}
	return result, nil
}

// ApplyDockerfile writes every Dockerfile that is missing or stale.
func (e *ReconciliationEngine) ApplyDockerfile(ctx context.Context, req Request) (result *ApplyResult, err error) {
	ctx, span := e.startSpan(ctx, "ApplyDockerfile", &req)
	defer func() { endSpan(span, err) }()

	mode, _, plans, err := e.containerPlans(ctx, &req)
	if err != nil {
		return nil, err
	}

	result = &ApplyResult{Mode: mode, Artifact: ArtifactDockerfile}
	var writes []pendingWrite
	for _, plan := range plans {
		if !plan.ShouldGenerateDockerfile {
			result.Files = append(result.Files, FileApplyResult{
				ServiceID: plan.ServiceID,
				Path:      plan.DockerfilePath,
				Skipped:   true,
				Message:   MsgDockerfilePresent,
			})
			continue
		}
		source := SourceGenerated
		if plan.HasDockerfile {
			source = SourceUpdated
		}
		writes = append(writes, pendingWrite{
			serviceID: plan.ServiceID,
			path:      plan.DockerfilePath,
			content:   plan.GeneratedContent,
			source:    source,
		})
	}

	if len(writes) == 0 {
		result.Message = MsgDockerfilePresent
		if mode == ModeMulti {
			result.Message = MsgAllDockerfilesPresent
		}
		e.metrics.RecordApply(string(ArtifactDockerfile), OutcomeNothing)
		return result, nil
	}

	if err := e.applyWrites(ctx, &req, mode, ArtifactDockerfile, writes, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ReconciliationEngine) ciPlans(ctx context.Context, services []ServiceDescriptor, containers []*ContainerPlan, mode Mode) ([]*CiPlan, error) {
	if e.templates == nil {
		return nil, NewValidationError("no template source configured", nil).WithCode(ErrCodeTemplateMissing)
	}
	if mode == ModeSingle {
		plan, err := e.ci.PlanSingle(ctx, services[0], containers[0])
		if err != nil {
			return nil, err
		}
		return []*CiPlan{plan}, nil
	}
	return e.ci.PlanMulti(ctx, services, containers)
}

// PreviewCi renders the workflow of each target service and compares it with the remote.
func (e *ReconciliationEngine) PreviewCi(ctx context.Context, req Request) (result *PreviewResult, err error) {
	ctx, span := e.startSpan(ctx, "PreviewCi", &req)
	defer func() { endSpan(span, err) }()

	mode, services, containers, err := e.containerPlans(ctx, &req)
	if err != nil {
		return nil, err
	}
	plans, err := e.ciPlans(ctx, services, containers, mode)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordPlan(string(ArtifactCI), string(mode))

	result = &PreviewResult{Mode: mode, Artifact: ArtifactCI}
	for _, plan := range plans {
		preview, err := e.compare(ctx, req.Repo, ArtifactCI, plan.ServiceID, plan.Path, plan.Content)
		if err != nil {
			return nil, err
		}
		preview.Container = plan.Container
		result.Artifacts = append(result.Artifacts, preview)
	}
	return result, nil
}

// ApplyCi writes the workflow of each target service. It fails with a
// PreconditionError and writes nothing while any Dockerfile is pending.
func (e *ReconciliationEngine) ApplyCi(ctx context.Context, req Request) (result *ApplyResult, err error) {
	ctx, span := e.startSpan(ctx, "ApplyCi", &req)
	defer func() { endSpan(span, err) }()

	mode, services, containers, err := e.containerPlans(ctx, &req)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, c := range containers {
		if c.ShouldGenerateDockerfile {
			pending = append(pending, c.ServiceID)
		}
	}
	if len(pending) > 0 {
		e.metrics.RecordApply(string(ArtifactCI), OutcomePrecondition)
		e.logger.Warn().
			Str("repo", req.Repo.FullName()).
			Strs("services", pending).
			Msg("Dockerfile generation pending, refusing CI apply")
		return nil, NewPreconditionError(
			fmt.Sprintf("Dockerfile must be applied before CI for: %s", strings.Join(pending, ", ")), nil).
			WithCode(ErrCodeDockerfilePending).
			WithOperation("apply_ci").
			WithDetail("services", pending)
	}

	plans, err := e.ciPlans(ctx, services, containers, mode)
	if err != nil {
		return nil, err
	}

	// Only an in-place update can be a no-op. CREATE_NEW_ALWAYS always writes
	// and FAIL_IF_EXISTS reports the collision.
	skipIdentical := req.strategy() == UpdateIfExists

	result = &ApplyResult{Mode: mode, Artifact: ArtifactCI}
	var writes []pendingWrite
	for _, plan := range plans {
		current, exists, err := e.remote.fetch(ctx, req.Repo, plan.Path)
		if err != nil {
			return nil, err
		}
		if skipIdentical && exists && current == plan.Content {
			result.Files = append(result.Files, FileApplyResult{
				ServiceID: plan.ServiceID,
				Path:      plan.Path,
				Skipped:   true,
				Message:   MsgWorkflowUpToDate,
			})
			continue
		}
		source := SourceGenerated
		if exists {
			source = SourceUpdated
		}
		writes = append(writes, pendingWrite{
			serviceID: plan.ServiceID,
			path:      plan.Path,
			content:   plan.Content,
			source:    source,
		})
	}

	if len(writes) == 0 {
		result.Message = MsgWorkflowUpToDate
		e.metrics.RecordApply(string(ArtifactCI), OutcomeNothing)
		return result, nil
	}
	if err := e.applyWrites(ctx, &req, mode, ArtifactCI, writes, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ReconciliationEngine) composePlan(ctx context.Context, req *Request) (*Analysis, *ComposePlan, error) {
	analysis, err := e.resolve(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	plan, err := e.compose.Plan(ctx, req.Repo, analysis, req.Env)
	if err != nil {
		return nil, nil, err
	}
	return analysis, plan, nil
}

// PreviewCompose compares the synthesized compose file with the remote and
// lists compose files already present.
func (e *ReconciliationEngine) PreviewCompose(ctx context.Context, req Request) (result *PreviewResult, err error) {
	ctx, span := e.startSpan(ctx, "PreviewCompose", &req)
	defer func() { endSpan(span, err) }()

	analysis, plan, err := e.composePlan(ctx, &req)
	if err != nil {
		return nil, err
	}
	e.metrics.RecordPlan(string(ArtifactCompose), string(analysis.Mode))

	preview, err := e.compare(ctx, req.Repo, ArtifactCompose, "", plan.Path, plan.Content)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{
		Mode:             analysis.Mode,
		Artifact:         ArtifactCompose,
		Artifacts:        []ArtifactPreview{preview},
		ExistingFiles:    plan.ExistingFiles,
		ExistingServices: plan.ExistingServices,
	}, nil
}

// ApplyCompose writes the synthesized compose file unless one already exists.
func (e *ReconciliationEngine) ApplyCompose(ctx context.Context, req Request) (result *ApplyResult, err error) {
	ctx, span := e.startSpan(ctx, "ApplyCompose", &req)
	defer func() { endSpan(span, err) }()

	analysis, plan, err := e.composePlan(ctx, &req)
	if err != nil {
		return nil, err
	}

	result = &ApplyResult{Mode: analysis.Mode, Artifact: ArtifactCompose}
	if !plan.ShouldGenerate {
		result.Message = MsgComposePresent
		for _, existing := range plan.ExistingFiles {
			result.Files = append(result.Files, FileApplyResult{Path: existing, Skipped: true, Message: MsgComposePresent})
		}
		e.metrics.RecordApply(string(ArtifactCompose), OutcomeNothing)
		return result, nil
	}

	writes := []pendingWrite{{path: plan.Path, content: plan.Content, source: SourceGenerated}}
	if err := e.applyWrites(ctx, &req, analysis.Mode, ArtifactCompose, writes, result); err != nil {
		return nil, err
	}
	return result, nil
}

type pendingWrite struct {
	serviceID string
	path      string
	content   string
	source    RecordSource
}

// applyWrites authorizes every write before performing any of them, then
// writes in order and records each success in the history ledger.
func (e *ReconciliationEngine) applyWrites(ctx context.Context, req *Request, mode Mode, artifact ArtifactKind, writes []pendingWrite, result *ApplyResult) error {
	strategy := req.strategy()

	if e.authorizer != nil {
		for _, w := range writes {
			wr := &WriteRequest{
				Repo:      req.Repo.FullName(),
				Branch:    req.Repo.Branch,
				Artifact:  artifact,
				ServiceID: w.serviceID,
				Path:      w.path,
				Content:   w.content,
				Strategy:  strategy,
				Mode:      mode,
			}
			if err := e.authorizer.AuthorizeWrite(ctx, wr); err != nil {
				e.metrics.RecordApply(string(artifact), OutcomeDenied)
				return NewValidationError("write denied by policy", err).
					WithCode(ErrCodePolicyDenied).
					WithResource(w.path)
			}
		}
	}

	for _, w := range writes {
		res, err := e.remote.write(ctx, req.Repo, req.Repo.Branch, w.path, w.content, strategy)
		if err != nil {
			e.metrics.RecordApply(string(artifact), OutcomeFailed)
			return err
		}
		e.metrics.RecordApply(string(artifact), OutcomeWritten)

		written := res.FilePath
		if written == "" {
			written = w.path
		}
		e.logger.Info().
			Str("repo", req.Repo.FullName()).
			Str("artifact", string(artifact)).
			Str("service", w.serviceID).
			Str("path", written).
			Str("commit", res.CommitHash).
			Msg("Wrote file")

		result.Files = append(result.Files, FileApplyResult{
			ServiceID:  w.serviceID,
			Path:       written,
			CommitHash: res.CommitHash,
		})

		if err := e.record(ctx, req, mode, artifact, strategy, w, written, res.CommitHash); err != nil {
			result.LedgerErrors++
		}
	}
	return nil
}

// record appends an apply record. A failure is logged and returned as a
// PersistenceError; the remote write stands.
func (e *ReconciliationEngine) record(ctx context.Context, req *Request, mode Mode, artifact ArtifactKind, strategy FileHandlingStrategy, w pendingWrite, path, commit string) error {
	if e.history == nil {
		return nil
	}
	rec := &ApplyRecord{
		ID:         uuid.New().String(),
		Repo:       req.Repo.FullName(),
		Branch:     req.Repo.Branch,
		Artifact:   artifact,
		ServiceID:  w.serviceID,
		Path:       path,
		Content:    w.content,
		Source:     w.source,
		Mode:       mode,
		Strategy:   strategy,
		CommitHash: commit,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.history.RecordApply(ctx, rec); err != nil {
		perr := NewPersistenceError("failed to record apply", err).
			WithCode(ErrCodeLedgerFailed).
			WithResource(path)
		e.metrics.RecordLedgerFailure()
		e.logger.Warn().Err(perr).
			Str("repo", rec.Repo).
			Str("path", path).
			Str("commit", commit).
			Msg("Apply history not recorded")
		return perr
	}
	return nil
}

