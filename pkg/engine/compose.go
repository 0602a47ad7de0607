package engine

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/loader"
	composetypes "github.com/compose-spec/compose-go/v2/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ComposeHeader is the first line of every synthesized compose file.
const ComposeHeader = "# Production docker-compose.yml (generated)"

// DefaultComposePath is where a synthesized compose file is written.
const DefaultComposePath = "docker-compose.yml"

// ComposeFileNames are the file names recognized as compose files.
var ComposeFileNames = []string{"docker-compose.yml", "docker-compose.yaml", "compose.yaml"}

// ComposeSearchDirs are the conventional directories searched after the root.
var ComposeSearchDirs = []string{
	"deploy", "deployment", "deployments",
	"infra", "infrastructure",
	"ops",
	"docker", "compose",
	".deploy", ".ops",
}

var composeNameInvalidRe = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// ComposePlan is the compose decision for a repository.
type ComposePlan struct {
	// Path is the target path of the synthesized file.
	Path string `json:"path"`

	// ExistingFiles are compose files already in the repository, in search order.
	ExistingFiles []string `json:"existing_files,omitempty"`

	// ExistingServices maps each readable existing compose file to its service names.
	ExistingServices map[string][]string `json:"existing_services,omitempty"`

	// ShouldGenerate is true when no compose file exists.
	ShouldGenerate bool `json:"should_generate"`

	// Content is the synthesized compose document.
	Content string `json:"content"`

	// Services are the compose service names in document order.
	Services []string `json:"services"`
}

// ComposePlanner finds existing compose files or synthesizes a production one.
type ComposePlanner struct {
	remote *session
	logger zerolog.Logger
}

// NewComposePlanner creates a compose planner.
func NewComposePlanner(remote *session, logger zerolog.Logger) *ComposePlanner {
	return &ComposePlanner{
		remote: remote,
		logger: logger.With().Str("component", "compose-planner").Logger(),
	}
}

// FindExisting searches the root, the conventional directories and then each
// service directory for compose files. A directory that cannot be listed is
// treated as holding none.
func (p *ComposePlanner) FindExisting(ctx context.Context, repo RepoRef, serviceDirs []string) []string {
	dirs := make([]string, 0, 1+len(ComposeSearchDirs)+len(serviceDirs))
	dirs = append(dirs, RootDirectory)
	dirs = append(dirs, ComposeSearchDirs...)
	for _, wd := range serviceDirs {
		if wd = NormalizeWorkingDirectory(wd); wd != RootDirectory {
			dirs = append(dirs, wd)
		}
	}

	seen := make(map[string]bool)
	var found []string
	for _, dir := range dirs {
		snapshot, err := p.remote.list(ctx, repo, dir)
		if err != nil {
			if !isNotFound(err) {
				p.logger.Debug().Err(err).Str("dir", dir).Msg("Compose lookup failed, skipping directory")
			}
			continue
		}
		for _, name := range ComposeFileNames {
			if !snapshot.HasFile(name) {
				continue
			}
			full := JoinPath(dir, name)
			if !seen[full] {
				seen[full] = true
				found = append(found, full)
			}
		}
	}
	return found
}

// Plan looks for existing compose files and synthesizes the production
// document from the analysis. The synthesized document is always validated.
func (p *ComposePlanner) Plan(ctx context.Context, repo RepoRef, analysis *Analysis, env map[string]string) (*ComposePlan, error) {
	if analysis == nil || len(analysis.Services) == 0 {
		return nil, NewValidationError("no services detected in repository", nil).
			WithCode(ErrCodeNoServices).
			WithResource(repo.FullName())
	}

	dirs := make([]string, 0, len(analysis.Services))
	for _, svc := range analysis.Services {
		if svc.Kind != KindDatabase {
			dirs = append(dirs, svc.WorkingDirectory)
		}
	}
	existing := p.FindExisting(ctx, repo, dirs)

	content, err := SynthesizeCompose(repo, analysis.Services, analysis.Relationships, env)
	if err != nil {
		return nil, err
	}
	project, err := ValidateCompose(ctx, repo.Name, content)
	if err != nil {
		return nil, err
	}

	plan := &ComposePlan{
		Path:             DefaultComposePath,
		ExistingFiles:    existing,
		ExistingServices: p.existingServices(ctx, repo, existing),
		ShouldGenerate:   len(existing) == 0,
		Content:          content,
		Services:         composeServiceNames(analysis.Services),
	}
	p.logger.Debug().
		Str("repo", repo.FullName()).
		Strs("existing", existing).
		Int("services", len(project.Services)).
		Msg("Planned compose file")
	return plan, nil
}

// existingServices parses each existing compose file. Files that cannot be
// read or loaded are left out.
func (p *ComposePlanner) existingServices(ctx context.Context, repo RepoRef, files []string) map[string][]string {
	if len(files) == 0 {
		return nil
	}
	out := make(map[string][]string, len(files))
	for _, file := range files {
		content := p.remote.fetchOptional(ctx, repo, file)
		if content == "" {
			continue
		}
		names, err := ComposeServiceNames(ctx, repo.Name, content)
		if err != nil {
			p.logger.Debug().Err(err).Str("path", file).Msg("Existing compose file not loadable")
			continue
		}
		out[file] = names
	}
	return out
}

// ComposeImage returns the published image of an application service.
func ComposeImage(repo RepoRef, serviceID string) string {
	return strings.ToLower(DefaultRegistry + "/" + repo.FullName() + "-" + serviceID + ":latest")
}

func composeServiceName(svc ServiceDescriptor) string {
	name := svc.Name
	if name == "" {
		name = svc.ID
	}
	return strings.Trim(composeNameInvalidRe.ReplaceAllString(name, "-"), "-")
}

// composeServiceNames returns one unique compose key per service, in order.
// A name already taken gets the service id appended, then a counter.
func composeServiceNames(services []ServiceDescriptor) []string {
	names := make([]string, 0, len(services))
	taken := make(map[string]bool, len(services))
	for _, svc := range services {
		name := composeServiceName(svc)
		if taken[name] {
			base := name
			if id := composeServiceName(ServiceDescriptor{ID: svc.ID}); id != "" && id != name {
				base = name + "-" + id
			}
			name = base
			for n := 2; taken[name]; n++ {
				name = base + "-" + strconv.Itoa(n)
			}
		}
		taken[name] = true
		names = append(names, name)
	}
	return names
}

// isDatabaseService applies the kind, id, name and framework heuristics.
func isDatabaseService(svc ServiceDescriptor) bool {
	if svc.Kind == KindDatabase || svc.ID == "database" {
		return true
	}
	hint := strings.ToLower(svc.Name + " " + svc.Framework)
	for _, engine := range []string{"postgres", "mysql", "mongo", "redis"} {
		if strings.Contains(hint, engine) {
			return true
		}
	}
	return false
}

// databaseImage returns the official image, standard port and default env
// for a database service. Unknown engines get alpine and no port.
func databaseImage(svc ServiceDescriptor) (string, int, map[string]string) {
	name := svc.DatabaseName
	if name == "" {
		name = svc.Name
	}
	fw := strings.ToLower(svc.Framework + " " + string(svc.Database))
	switch {
	case strings.Contains(fw, "postgres"):
		port, env := databaseDefaults(DatabasePostgreSQL, name)
		return "postgres:16", port, env
	case strings.Contains(fw, "mysql"):
		port, env := databaseDefaults(DatabaseMySQL, name)
		return "mysql:8", port, env
	case strings.Contains(fw, "mongo"):
		port, env := databaseDefaults(DatabaseMongoDB, name)
		return "mongo:7", port, env
	default:
		return "alpine:latest", 0, map[string]string{}
	}
}

func applicationPort(svc ServiceDescriptor) int {
	switch {
	case svc.Port > 0:
		return svc.Port
	case svc.Kind == KindFrontend:
		return 80
	case svc.StackType == StackNode:
		return 3000
	default:
		return 8080
	}
}

// SynthesizeCompose renders the production compose document. Application
// services use their published image; database services use the official
// image of their engine. Caller env overrides application defaults, and
// only overrides the keys a database already defines.
func SynthesizeCompose(repo RepoRef, services []ServiceDescriptor, relationships []Relationship, env map[string]string) (string, error) {
	if len(services) == 0 {
		return "", NewValidationError("no services detected in repository", nil).
			WithCode(ErrCodeNoServices).
			WithResource(repo.FullName())
	}

	names := composeServiceNames(services)
	idToName := make(map[string]string, len(services))
	for i, svc := range services {
		idToName[svc.ID] = names[i]
	}
	depends := make(map[string][]string)
	for _, rel := range relationships {
		from, okFrom := idToName[rel.From]
		to, okTo := idToName[rel.To]
		if okFrom && okTo {
			depends[from] = append(depends[from], to)
		}
	}

	servicesNode := mappingNode()
	for i, svc := range services {
		name := names[i]
		body := mappingNode()

		var port int
		vars := make(map[string]string, len(svc.Env))
		if isDatabaseService(svc) {
			image, dbPort, defaults := databaseImage(svc)
			port = dbPort
			addPair(body, "image", scalarNode(image))
			for k, v := range defaults {
				vars[k] = v
			}
			for k := range defaults {
				if v, ok := env[k]; ok {
					vars[k] = v
				}
			}
		} else {
			port = applicationPort(svc)
			addPair(body, "image", scalarNode(ComposeImage(repo, svc.ID)))
			addPair(body, "restart", scalarNode("unless-stopped"))
			for k, v := range svc.Env {
				vars[k] = v
			}
			for k, v := range env {
				vars[k] = v
			}
		}

		if deps := depends[name]; len(deps) > 0 {
			seq := sequenceNode()
			for _, d := range deps {
				seq.Content = append(seq.Content, scalarNode(d))
			}
			addPair(body, "depends_on", seq)
		}
		if port > 0 {
			p := strconv.Itoa(port)
			addPair(body, "ports", sequenceNode(quotedNode(p+":"+p)))
		}
		if len(vars) > 0 {
			keys := make([]string, 0, len(vars))
			for k := range vars {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			seq := sequenceNode()
			for _, k := range keys {
				seq.Content = append(seq.Content, scalarNode(k+"="+vars[k]))
			}
			addPair(body, "environment", seq)
		}

		addPair(servicesNode, name, body)
	}

	root := mappingNode()
	addPair(root, "version", quotedNode("3.8"))
	addPair(root, "services", servicesNode)

	var buf bytes.Buffer
	buf.WriteString(ComposeHeader + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return "", fmt.Errorf("failed to encode compose document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to encode compose document: %w", err)
	}
	return buf.String(), nil
}

// ValidateCompose loads content with the compose loader. Interpolation is
// skipped so ${VAR} placeholders survive.
func ValidateCompose(ctx context.Context, projectName, content string) (*composetypes.Project, error) {
	name := loader.NormalizeProjectName(projectName)
	if name == "" {
		name = "stackforge"
	}
	details := composetypes.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []composetypes.ConfigFile{
			{Filename: DefaultComposePath, Content: []byte(content)},
		},
		Environment: composetypes.Mapping{},
	}
	project, err := loader.LoadWithContext(ctx, details, func(o *loader.Options) {
		o.SetProjectName(name, true)
		o.SkipInterpolation = true
	})
	if err != nil {
		return nil, NewValidationError("compose document failed to load", err).
			WithCode(ErrCodeInvalidCompose)
	}
	return project, nil
}

// ComposeServiceNames returns the service names of an existing compose document.
func ComposeServiceNames(ctx context.Context, projectName, content string) ([]string, error) {
	project, err := ValidateCompose(ctx, projectName, content)
	if err != nil {
		return nil, err
	}
	names := project.ServiceNames()
	sort.Strings(names)
	return names, nil
}

func mappingNode() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

func sequenceNode(items ...*yaml.Node) *yaml.Node {
	return &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq", Content: items}
}

func scalarNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v}
}

func quotedNode(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v, Style: yaml.SingleQuotedStyle}
}

func addPair(m *yaml.Node, key string, value *yaml.Node) {
	m.Content = append(m.Content, scalarNode(key), value)
}
