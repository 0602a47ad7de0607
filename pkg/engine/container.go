package engine

import (
	"context"
	"strings"

	"github.com/distribution/reference"
	"github.com/rs/zerolog"
)

// DefaultRegistry is the registry used when none is configured.
const DefaultRegistry = "ghcr.io"

// ContainerPlanner decides, per service, whether a Dockerfile exists, whether
// it is consistent with the build tool, and what to generate otherwise.
type ContainerPlanner struct {
	remote   *session
	registry string
	logger   zerolog.Logger
}

// NewContainerPlanner creates a planner. An empty registry uses DefaultRegistry.
func NewContainerPlanner(remote *session, registry string, logger zerolog.Logger) *ContainerPlanner {
	if strings.TrimSpace(registry) == "" {
		registry = DefaultRegistry
	}
	return &ContainerPlanner{
		remote:   remote,
		registry: registry,
		logger:   logger.With().Str("component", "container-planner").Logger(),
	}
}

// ImageName derives the image repository name for a service. The override
// wins over the repository full name; multi mode appends "-<serviceID>".
func ImageName(repo RepoRef, override string, mode Mode, serviceID string) string {
	base := strings.TrimSpace(override)
	if base == "" {
		base = repo.FullName()
	}
	if mode == ModeMulti && serviceID != "" {
		base = base + "-" + serviceID
	}
	return strings.ToLower(base)
}

// BuildContext returns the docker build context for a service. Node services
// build from their own directory; Java services always build from the root.
func BuildContext(svc ServiceDescriptor) string {
	if svc.StackType == StackNode {
		return NormalizeWorkingDirectory(svc.WorkingDirectory)
	}
	return RootDirectory
}

// Plan computes the container plan of one service.
func (p *ContainerPlanner) Plan(ctx context.Context, repo RepoRef, svc ServiceDescriptor, imageName string) (*ContainerPlan, error) {
	if err := validateDescriptor(svc); err != nil {
		return nil, err
	}
	svc = normalizeDescriptor(svc)
	if _, err := reference.ParseNormalizedNamed(p.registry + "/" + imageName); err != nil {
		return nil, NewValidationError("invalid image name", err).
			WithCode(ErrCodeInvalidImage).
			WithResource(imageName)
	}

	wd := NormalizeWorkingDirectory(svc.WorkingDirectory)
	plan := &ContainerPlan{
		ServiceID:        svc.ID,
		BuildTool:        svc.BuildTool,
		Registry:         p.registry,
		ImageName:        imageName,
		WorkingDirectory: wd,
		DockerContext:    BuildContext(svc),
		DockerfilePath:   DockerfilePath(wd),
	}

	snapshot, err := p.remote.list(ctx, repo, wd)
	if err != nil && !isNotFound(err) {
		return nil, err
	}
	opts := DockerfileOptions{UseYarn: svc.StackType == StackNode && snapshot.HasFile("yarn.lock")}

	if snapshot.HasFile("Dockerfile") {
		existing, ok, err := p.remote.fetch(ctx, repo, plan.DockerfilePath)
		if err != nil {
			return nil, err
		}
		if ok {
			plan.HasDockerfile = true
			plan.ExistingContent = existing
			plan.PreviewContent = existing
			plan.PreviewSource = PreviewExisting
			if IsStaleDockerfile(svc.BuildTool, existing) {
				plan.ShouldGenerateDockerfile = true
				plan.GeneratedContent = GenerateDockerfile(svc, opts)
				p.logger.Info().
					Str("service", svc.ID).
					Str("path", plan.DockerfilePath).
					Str("build_tool", svc.BuildTool).
					Msg("Existing Dockerfile targets the other build tool's layout")
			}
			return plan, nil
		}
	}

	plan.ShouldGenerateDockerfile = true
	plan.GeneratedContent = GenerateDockerfile(svc, opts)
	plan.PreviewContent = plan.GeneratedContent
	plan.PreviewSource = PreviewGenerated
	return plan, nil
}

// PlanAll computes container plans for a list of services in order.
func (p *ContainerPlanner) PlanAll(ctx context.Context, repo RepoRef, services []ServiceDescriptor, mode Mode, imageOverride string) ([]*ContainerPlan, error) {
	plans := make([]*ContainerPlan, 0, len(services))
	for _, svc := range services {
		plan, err := p.Plan(ctx, repo, svc, ImageName(repo, imageOverride, mode, svc.ID))
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func validateDescriptor(svc ServiceDescriptor) error {
	if svc.ID == "" {
		return NewValidationError("service descriptor has no id", nil).WithCode(ErrCodeValidation)
	}
	switch svc.StackType {
	case StackSpringMaven, StackSpringGradle, StackNode, StackGeneric:
	default:
		return NewValidationError("unsupported stack type", nil).
			WithCode(ErrCodeUnsupportedStack).
			WithResource(svc.ID).
			WithDetail("stack_type", string(svc.StackType))
	}
	if svc.Kind == KindDatabase {
		return NewValidationError("database services are not built from source", nil).
			WithCode(ErrCodeUnsupportedStack).
			WithResource(svc.ID)
	}
	return nil
}

// normalizeDescriptor fills derived fields a caller-supplied descriptor may omit.
func normalizeDescriptor(svc ServiceDescriptor) ServiceDescriptor {
	svc.WorkingDirectory = NormalizeWorkingDirectory(svc.WorkingDirectory)
	svc.BuildTool = CanonicalBuildTool(svc.BuildTool)
	if svc.BuildTool == "" {
		svc.BuildTool = BuildTool(svc.StackType)
	}
	if svc.Language == "" {
		svc.Language = Language(svc.StackType)
	}
	if svc.StackType.IsJava() && svc.JavaVersion == "" {
		svc.JavaVersion = defaultJavaVersion
	}
	return svc
}
