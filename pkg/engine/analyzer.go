package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ServiceAnalyzer turns classifications into fully described services and
// assembles the structured analysis of a repository.
type ServiceAnalyzer struct {
	remote *session
	walker *TreeWalker
	logger zerolog.Logger
}

// NewServiceAnalyzer creates an analyzer.
func NewServiceAnalyzer(remote *session, walker *TreeWalker, logger zerolog.Logger) *ServiceAnalyzer {
	return &ServiceAnalyzer{
		remote: remote,
		walker: walker,
		logger: logger.With().Str("component", "service-analyzer").Logger(),
	}
}

// Analyze classifies the repository in the given mode.
// Single mode describes the first service found; multi mode describes every
// service and adds database services and relationships.
func (a *ServiceAnalyzer) Analyze(ctx context.Context, repo RepoRef, mode Mode) (*Analysis, error) {
	var found []Classification
	switch mode {
	case ModeSingle:
		c, err := a.walker.FindFirst(ctx, repo)
		if err != nil {
			return nil, err
		}
		found = []Classification{c}
	case ModeMulti, "":
		all, err := a.walker.FindAll(ctx, repo)
		if err != nil {
			return nil, err
		}
		found = all
	default:
		return nil, NewValidationError(fmt.Sprintf("unknown mode %q", mode), nil).WithOperation("analyze")
	}

	services := make([]ServiceDescriptor, 0, len(found))
	for i, c := range found {
		svc, err := a.Describe(ctx, repo, c, i)
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}

	analysis := assemble(repo, services)
	if mode == ModeSingle {
		analysis.Mode = ModeSingle
	}

	a.logger.Info().
		Str("repo", repo.FullName()).
		Str("mode", string(analysis.Mode)).
		Int("services", len(analysis.Services)).
		Int("relationships", len(analysis.Relationships)).
		Msg("Repository analyzed")

	return analysis, nil
}

// assemble adds the database service, relationships and mode to the detected services.
func assemble(repo RepoRef, detected []ServiceDescriptor) *Analysis {
	services := make([]ServiceDescriptor, 0, len(detected)+1)
	var relationships []Relationship
	var databaseID string

	for _, svc := range detected {
		services = append(services, svc)
		if svc.Database == DatabaseNone || svc.Database == DatabaseH2 || svc.Database == "" {
			continue
		}
		if databaseID == "" {
			db := databaseService(svc.Database, svc.DatabaseName)
			services = append(services, db)
			databaseID = db.ID
		}
		relationships = append(relationships, Relationship{From: svc.ID, To: databaseID, Type: RelationDatabase})
	}

	var backendID string
	for _, svc := range services {
		if svc.Kind == KindBackend {
			backendID = svc.ID
			break
		}
	}
	if backendID != "" {
		for _, svc := range services {
			if svc.Kind == KindFrontend {
				relationships = append(relationships, Relationship{From: svc.ID, To: backendID, Type: RelationAPI})
			}
		}
	}

	analysis := &Analysis{
		ID:            uuid.New().String(),
		Repo:          repo,
		Mode:          ModeMulti,
		Services:      services,
		Relationships: relationships,
		AnalyzedAt:    time.Now().UTC(),
	}
	if len(detected) == 1 {
		analysis.Mode = ModeSingle
	}
	switch {
	case backendID != "":
		analysis.PrimaryServiceID = backendID
	case len(services) > 0:
		analysis.PrimaryServiceID = services[0].ID
	}
	return analysis
}

func databaseService(db DatabaseType, name string) ServiceDescriptor {
	if name == "" {
		name = defaultDatabaseName
	}
	svc := ServiceDescriptor{
		ID:               "database",
		Name:             name,
		StackType:        StackGeneric,
		Kind:             KindDatabase,
		WorkingDirectory: RootDirectory,
		BuildTool:        BuildToolGeneric,
		Language:         LanguageUnknown,
		Framework:        strings.ToLower(string(db)),
		Database:         db,
		DatabaseName:     name,
	}
	svc.Port, svc.Env = databaseDefaults(db, name)
	return svc
}

// databaseDefaults returns the standard port and default environment of a database engine.
func databaseDefaults(db DatabaseType, name string) (int, map[string]string) {
	switch db {
	case DatabasePostgreSQL:
		return 5432, map[string]string{
			"POSTGRES_DB":       name,
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
		}
	case DatabaseMySQL:
		return 3306, map[string]string{
			"MYSQL_DATABASE":      name,
			"MYSQL_USER":          "mysql",
			"MYSQL_PASSWORD":      "mysql",
			"MYSQL_ROOT_PASSWORD": "rootpassword",
		}
	case DatabaseMongoDB:
		return 27017, map[string]string{
			"MONGO_INITDB_DATABASE": name,
		}
	default:
		return 0, map[string]string{}
	}
}

// Describe builds the descriptor for one classification. index is the
// encounter position used to derive the service id.
func (a *ServiceAnalyzer) Describe(ctx context.Context, repo RepoRef, c Classification, index int) (ServiceDescriptor, error) {
	wd := NormalizeWorkingDirectory(c.WorkingDirectory)
	svc := ServiceDescriptor{
		ID:               serviceID(c.Stack, index),
		Name:             serviceName(c.Stack, wd),
		StackType:        c.Stack,
		WorkingDirectory: wd,
		BuildTool:        BuildTool(c.Stack),
		Language:         Language(c.Stack),
		Database:         DatabaseNone,
		Env:              map[string]string{},
		ProjectDetails:   map[string]interface{}{},
	}

	var manifest string
	if c.Marker != "" {
		content, _, err := a.remote.fetch(ctx, repo, c.ManifestPath())
		if err != nil {
			return ServiceDescriptor{}, err
		}
		manifest = content
	}

	switch c.Stack {
	case StackSpringMaven, StackSpringGradle:
		a.describeSpring(ctx, repo, &svc, manifest)
	case StackNode:
		describeNode(&svc, manifest)
	default:
		svc.Kind = KindService
	}
	return svc, nil
}

func (a *ServiceAnalyzer) describeSpring(ctx context.Context, repo RepoRef, svc *ServiceDescriptor, manifest string) {
	svc.Kind = KindBackend
	svc.Framework = springBoot

	if svc.StackType == StackSpringMaven {
		svc.JavaVersion = JavaVersionFromPom(manifest)
		svc.ProjectDetails = mavenDetails(manifest)
	} else {
		svc.JavaVersion = JavaVersionFromGradle(manifest)
		svc.ProjectDetails = gradleDetails(manifest)
	}
	svc.ProjectDetails["javaVersion"] = svc.JavaVersion

	resources := JoinPath(svc.WorkingDirectory, "src/main/resources")
	props := a.remote.fetchOptional(ctx, repo, resources+"/application.properties")
	yml := a.remote.fetchOptional(ctx, repo, resources+"/application.yml")

	svc.Port = SpringPortFromProperties(props)
	if svc.Port == 0 {
		svc.Port = SpringPortFromYAML(yml)
	}
	if svc.Port == 0 {
		svc.Port = 8080
	}

	svc.Database = DetectDatabase(manifest)
	if svc.Database != DatabaseNone {
		svc.DatabaseName = DatabaseNameFromProperties(props)
		if svc.DatabaseName == "" {
			svc.DatabaseName = DatabaseNameFromYAML(yml)
		}
		if svc.DatabaseName == "" {
			svc.DatabaseName = defaultDatabaseName
		}
		svc.ProjectDetails["databaseType"] = string(svc.Database)
		svc.ProjectDetails["databaseName"] = svc.DatabaseName
	}

	switch svc.Database {
	case DatabasePostgreSQL:
		svc.Env["SPRING_DATASOURCE_URL"] = "jdbc:postgresql://database:5432/${DB_NAME}"
		svc.Env["SPRING_DATASOURCE_USERNAME"] = "${DB_USER}"
		svc.Env["SPRING_DATASOURCE_PASSWORD"] = "${DB_PASSWORD}"
	case DatabaseMySQL:
		svc.Env["SPRING_DATASOURCE_URL"] = "jdbc:mysql://database:3306/${DB_NAME}"
		svc.Env["SPRING_DATASOURCE_USERNAME"] = "${DB_USER}"
		svc.Env["SPRING_DATASOURCE_PASSWORD"] = "${DB_PASSWORD}"
	case DatabaseMongoDB:
		svc.Env["SPRING_DATA_MONGODB_URI"] = "mongodb://database:27017/${DB_NAME}"
	}
	svc.Env["SPRING_PROFILES_ACTIVE"] = "production"
	svc.Env["JAVA_OPTS"] = "-Xmx512m -Xms256m"
}

func describeNode(svc *ServiceDescriptor, manifest string) {
	m := newNodeManifest(manifest)
	svc.NodeVersion = m.NodeVersion()
	svc.Framework = m.Framework()
	svc.ProjectDetails = nodeDetails(m)
	svc.Port = m.Port()

	if m.IsBackend() {
		svc.Kind = KindBackend
	} else {
		svc.Kind = KindFrontend
	}

	svc.Env["NODE_ENV"] = "production"
	switch {
	case svc.Framework == "React":
		svc.Env["REACT_APP_API_URL"] = "${API_URL}"
	case svc.Framework == "Vue.js":
		svc.Env["VUE_APP_API_URL"] = "${API_URL}"
	case svc.Framework == "Next.js":
		svc.Env["NEXT_PUBLIC_API_URL"] = "${API_URL}"
	case svc.Kind == KindBackend:
		svc.Env["PORT"] = fmt.Sprintf("%d", svc.Port)
	}
}

func serviceID(stack StackType, index int) string {
	switch {
	case stack.IsJava():
		return fmt.Sprintf("backend-%d", index)
	case stack == StackNode:
		return fmt.Sprintf("frontend-%d", index)
	default:
		return fmt.Sprintf("service-%d", index)
	}
}

func serviceName(stack StackType, wd string) string {
	dir := wd
	if wd == RootDirectory {
		dir = "root"
	}
	dir = strings.ReplaceAll(dir, "/", "-")
	switch {
	case stack.IsJava():
		return dir + "-backend"
	case stack == StackNode:
		return dir + "-frontend"
	default:
		return dir + "-service"
	}
}
