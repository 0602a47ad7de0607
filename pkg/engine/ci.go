package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
)

// WorkflowDir is where CI workflow files are written.
const WorkflowDir = ".github/workflows"

// Template keys understood by a TemplateSource.
const (
	TemplateMaven   = "maven"
	TemplateGradle  = "gradle"
	TemplateNpm     = "npm"
	TemplateGeneric = "generic"
)

const ltsNodeVersion = "lts/*"

var (
	bareVersionRe = regexp.MustCompile(`^[vV]?(\d+(?:\.\d+){0,2})$`)
	majorXRe      = regexp.MustCompile(`^(\d+)\.x$`)
	rangeRe       = regexp.MustCompile(`^(?:\^|~|>=|<=|>|<)?\s*(\d+)`)
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]+`)
)

// TemplateKey selects the workflow template for a build tool.
func TemplateKey(buildTool string) string {
	switch strings.ToLower(strings.TrimSpace(buildTool)) {
	case "maven":
		return TemplateMaven
	case "gradle":
		return TemplateGradle
	case "npm":
		return TemplateNpm
	default:
		return TemplateGeneric
	}
}

// NormalizeNodeVersion converts an engines.node expression into a value
// accepted by actions/setup-node.
func NormalizeNodeVersion(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "null", "latest", "current":
		return ltsNodeVersion
	}
	if m := bareVersionRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	if m := majorXRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	if m := rangeRe.FindStringSubmatch(v); m != nil {
		return m[1]
	}
	return ltsNodeVersion
}

// RenderTemplate replaces every {{key}} with its value. Nothing is escaped.
func RenderTemplate(tpl string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tpl)
}

// SingleWorkflowName returns the fixed workflow file name for single-service mode.
func SingleWorkflowName(buildTool string) string {
	switch TemplateKey(buildTool) {
	case TemplateMaven:
		return "maven-ci.yml"
	case TemplateGradle:
		return "gradle-ci.yml"
	case TemplateNpm:
		return "npm-ci.yml"
	default:
		return "ci.yml"
	}
}

// BuildToolSlug returns the name fragment used for multi-service workflow files.
func BuildToolSlug(buildTool string) string {
	slug := strings.ToLower(strings.TrimSpace(buildTool))
	if slug == "npm" {
		return "node"
	}
	slug = strings.Trim(slugInvalidRe.ReplaceAllString(slug, "-"), "-")
	if slug == "" {
		return "generic"
	}
	return slug
}

// NamingLedger counts slug occurrences within one planning run. It is a
// value: Claim returns an updated copy and never mutates the receiver.
type NamingLedger struct {
	counts map[string]int
}

// Claim returns the next workflow file name for slug and the updated ledger.
func (l NamingLedger) Claim(slug string) (string, NamingLedger) {
	next := make(map[string]int, len(l.counts)+1)
	for k, v := range l.counts {
		next[k] = v
	}
	next[slug]++
	n := next[slug]

	name := "ci-generated-" + slug + ".yml"
	if n > 1 {
		name = fmt.Sprintf("ci-generated-%s-%d.yml", slug, n)
	}
	return name, NamingLedger{counts: next}
}

// CiPlan is the workflow that should exist for one service.
type CiPlan struct {
	ServiceID   string         `json:"service_id"`
	TemplateKey string         `json:"template_key"`
	Path        string         `json:"path"`
	Content     string         `json:"content"`
	Container   *ContainerPlan `json:"container"`
}

// CiPlanner renders workflow templates and chooses collision-free paths.
type CiPlanner struct {
	templates TemplateSource
	logger    zerolog.Logger
}

// NewCiPlanner creates a CI planner.
func NewCiPlanner(templates TemplateSource, logger zerolog.Logger) *CiPlanner {
	return &CiPlanner{
		templates: templates,
		logger:    logger.With().Str("component", "ci-planner").Logger(),
	}
}

// TemplateValues returns the substitution map for a service and its container plan.
func TemplateValues(svc ServiceDescriptor, container *ContainerPlan) map[string]string {
	values := container.Placeholders()
	values["workingDirectory"] = NormalizeWorkingDirectory(svc.WorkingDirectory)
	values["serviceId"] = svc.ID
	switch {
	case svc.StackType.IsJava():
		values["javaVersion"] = javaVersionOf(svc)
	case svc.StackType == StackNode:
		values["nodeVersion"] = NormalizeNodeVersion(svc.NodeVersion)
	}
	return values
}

func (p *CiPlanner) render(ctx context.Context, svc ServiceDescriptor, container *ContainerPlan, name string) (*CiPlan, error) {
	if container == nil {
		return nil, NewValidationError("no container plan for service", nil).WithResource(svc.ID)
	}
	svc = normalizeDescriptor(svc)
	key := TemplateKey(svc.BuildTool)
	tpl, err := p.templates.GetTemplate(ctx, key)
	if err != nil {
		return nil, NewValidationError("workflow template unavailable", err).
			WithCode(ErrCodeTemplateMissing).
			WithResource(key)
	}
	return &CiPlan{
		ServiceID:   svc.ID,
		TemplateKey: key,
		Path:        WorkflowDir + "/" + name,
		Content:     RenderTemplate(tpl, TemplateValues(svc, container)),
		Container:   container,
	}, nil
}

// PlanSingle renders the workflow of a single-service repository.
func (p *CiPlanner) PlanSingle(ctx context.Context, svc ServiceDescriptor, container *ContainerPlan) (*CiPlan, error) {
	svc = normalizeDescriptor(svc)
	return p.render(ctx, svc, container, SingleWorkflowName(svc.BuildTool))
}

// PlanMulti renders one workflow per service. containers must be aligned with
// services. File names are de-duplicated per build tool in encounter order.
func (p *CiPlanner) PlanMulti(ctx context.Context, services []ServiceDescriptor, containers []*ContainerPlan) ([]*CiPlan, error) {
	if len(services) != len(containers) {
		return nil, NewValidationError("container plans do not match services", nil).
			WithDetail("services", len(services)).
			WithDetail("containers", len(containers))
	}

	plans := make([]*CiPlan, 0, len(services))
	ledger := NamingLedger{}
	for i, svc := range services {
		svc = normalizeDescriptor(svc)
		var name string
		name, ledger = ledger.Claim(BuildToolSlug(svc.BuildTool))

		plan, err := p.render(ctx, svc, containers[i], name)
		if err != nil {
			return nil, err
		}
		p.logger.Debug().
			Str("service", svc.ID).
			Str("path", plan.Path).
			Str("template", plan.TemplateKey).
			Msg("Planned workflow")
		plans = append(plans, plan)
	}
	return plans, nil
}
