package engine

import (
	"path"
	"strings"
	"time"
)

// StackType classifies the build technology of a service.
type StackType string

const (
	// StackSpringMaven is a Java service built with Maven.
	StackSpringMaven StackType = "SPRING_MAVEN"

	// StackSpringGradle is a Java service built with Gradle.
	StackSpringGradle StackType = "SPRING_GRADLE"

	// StackNode is a JavaScript service with a package.json manifest.
	StackNode StackType = "NODE"

	// StackGeneric is anything without a recognized marker file.
	StackGeneric StackType = "GENERIC"
)

// IsJava reports whether the stack builds with a JVM toolchain.
func (s StackType) IsJava() bool {
	return s == StackSpringMaven || s == StackSpringGradle
}

// Build tool names reported on descriptors.
const (
	BuildToolMaven   = "Maven"
	BuildToolGradle  = "Gradle"
	BuildToolNpm     = "npm"
	BuildToolGeneric = "Generic"
)

// Language names reported on descriptors.
const (
	LanguageJava       = "Java"
	LanguageJavaScript = "JavaScript"
	LanguageUnknown    = "Unknown"
)

// ServiceKind is the role a service plays in a deployment.
type ServiceKind string

const (
	KindBackend  ServiceKind = "backend"
	KindFrontend ServiceKind = "frontend"
	KindDatabase ServiceKind = "database"
	KindService  ServiceKind = "service"
)

// DatabaseType is the database a service declares a driver for.
type DatabaseType string

const (
	DatabaseNone       DatabaseType = "NONE"
	DatabasePostgreSQL DatabaseType = "POSTGRESQL"
	DatabaseMySQL      DatabaseType = "MYSQL"
	DatabaseMongoDB    DatabaseType = "MONGODB"
	DatabaseH2         DatabaseType = "H2"
)

// Mode discriminates single-service from multi-service requests and responses.
type Mode string

const (
	ModeSingle Mode = "single"
	ModeMulti  Mode = "multi"
)

// RootDirectory is the working directory of a service at the repository root.
const RootDirectory = "."

// RepoRef identifies a remote repository and the branch to read from and write to.
type RepoRef struct {
	// Owner is the account or organization that owns the repository.
	Owner string `json:"owner" validate:"required"`

	// Name is the repository name.
	Name string `json:"name" validate:"required"`

	// Branch is the target branch. Empty means the remote default branch.
	Branch string `json:"branch,omitempty"`
}

// FullName returns "owner/name".
func (r RepoRef) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseRepoRef parses "owner/name" into a RepoRef.
func ParseRepoRef(fullName, branch string) (RepoRef, error) {
	owner, name, ok := strings.Cut(strings.Trim(fullName, "/"), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return RepoRef{}, NewValidationError("repository must be in owner/name form", nil).
			WithResource(fullName)
	}
	return RepoRef{Owner: owner, Name: name, Branch: branch}, nil
}

// EntryType is the type of a directory listing entry.
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// DirEntry is one entry of a remote directory listing.
type DirEntry struct {
	Name string    `json:"name"`
	Type EntryType `json:"type"`
}

// ServiceDescriptor describes one buildable service found in a repository.
// Descriptors are re-derived on every analysis and never mutated afterwards.
type ServiceDescriptor struct {
	// ID is the service identifier (backend-1, frontend-2, service-1, database).
	ID string `json:"id" validate:"required"`

	// Name is the compose-friendly service name.
	Name string `json:"name"`

	// StackType is the classification tag.
	StackType StackType `json:"stack_type" validate:"required,oneof=SPRING_MAVEN SPRING_GRADLE NODE GENERIC"`

	// Kind is the deployment role of the service.
	Kind ServiceKind `json:"kind"`

	// WorkingDirectory is the repository-relative service root ("." at the root).
	WorkingDirectory string `json:"working_directory" validate:"required"`

	// BuildTool is Maven, Gradle, npm or Generic.
	BuildTool string `json:"build_tool"`

	// Language is Java, JavaScript or Unknown.
	Language string `json:"language"`

	// Framework is the detected framework, if any.
	Framework string `json:"framework,omitempty"`

	// JavaVersion is set for Java stacks.
	JavaVersion string `json:"java_version,omitempty"`

	// NodeVersion is set for Node stacks, as declared in engines.node.
	NodeVersion string `json:"node_version,omitempty"`

	// Port is the port the service listens on, 0 if unknown.
	Port int `json:"port,omitempty"`

	// Env holds default environment variables for the service.
	Env map[string]string `json:"env,omitempty"`

	// Database is the database the service declares a driver for.
	Database DatabaseType `json:"database,omitempty"`

	// DatabaseName is the schema name found in the service configuration.
	DatabaseName string `json:"database_name,omitempty"`

	// ProjectDetails carries free-form metadata extracted from the build file.
	ProjectDetails map[string]interface{} `json:"project_details,omitempty"`
}

// Relationship is a dependency edge between two services.
type Relationship struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// Relationship types.
const (
	RelationDatabase = "database"
	RelationAPI      = "api"
)

// Analysis is the structured result of classifying a repository.
type Analysis struct {
	// ID uniquely identifies this analysis.
	ID string `json:"id"`

	// Repo is the analyzed repository.
	Repo RepoRef `json:"repo"`

	// Mode is single when exactly one service was found.
	Mode Mode `json:"mode"`

	// Services are the detected services in encounter order, plus a synthetic
	// database service when one is required.
	Services []ServiceDescriptor `json:"services"`

	// Relationships are the dependency edges between services.
	Relationships []Relationship `json:"relationships"`

	// PrimaryServiceID is the first backend service, or the first service.
	PrimaryServiceID string `json:"primary_service_id,omitempty"`

	// AnalyzedAt is when the analysis ran.
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// Buildable returns the services that produce a container image.
func (a *Analysis) Buildable() []ServiceDescriptor {
	out := make([]ServiceDescriptor, 0, len(a.Services))
	for _, s := range a.Services {
		if s.Kind != KindDatabase {
			out = append(out, s)
		}
	}
	return out
}

// PreviewSource tells where previewed Dockerfile content came from.
type PreviewSource string

const (
	PreviewExisting  PreviewSource = "existing"
	PreviewGenerated PreviewSource = "generated"
)

// ContainerPlan is the Dockerfile decision for one service.
type ContainerPlan struct {
	// ServiceID is the service this plan belongs to.
	ServiceID string `json:"service_id"`

	// BuildTool is copied from the descriptor.
	BuildTool string `json:"build_tool"`

	// Registry is the container registry host.
	Registry string `json:"registry"`

	// ImageName is the lower-cased image repository name.
	ImageName string `json:"image_name"`

	// WorkingDirectory is the service root.
	WorkingDirectory string `json:"working_directory"`

	// DockerContext is the build context passed to docker build.
	DockerContext string `json:"docker_context"`

	// DockerfilePath is "Dockerfile" at the root, else "<workingDirectory>/Dockerfile".
	DockerfilePath string `json:"dockerfile_path"`

	// HasDockerfile is true when the remote already contains a Dockerfile.
	HasDockerfile bool `json:"has_dockerfile"`

	// ShouldGenerateDockerfile is true when the remote Dockerfile is missing or stale.
	ShouldGenerateDockerfile bool `json:"should_generate_dockerfile"`

	// ExistingContent is the remote Dockerfile content, if any.
	ExistingContent string `json:"existing_content,omitempty"`

	// GeneratedContent is the replacement content, set when generation is required.
	GeneratedContent string `json:"generated_content,omitempty"`

	// PreviewContent is what a user should be shown. Never empty.
	PreviewContent string `json:"preview_content"`

	// PreviewSource is existing or generated.
	PreviewSource PreviewSource `json:"preview_source"`
}

// Placeholders returns the container values substituted into CI templates.
func (p *ContainerPlan) Placeholders() map[string]string {
	return map[string]string{
		"registry":       p.Registry,
		"imageName":      p.ImageName,
		"dockerfilePath": p.DockerfilePath,
		"dockerContext":  p.DockerContext,
	}
}

// DockerfilePath returns the canonical Dockerfile path for a working directory.
func DockerfilePath(workingDirectory string) string {
	wd := NormalizeWorkingDirectory(workingDirectory)
	if wd == RootDirectory {
		return "Dockerfile"
	}
	return wd + "/Dockerfile"
}

// NormalizeWorkingDirectory cleans a repository-relative directory so that
// the root is always "." and nested paths carry no leading "./" or slashes.
func NormalizeWorkingDirectory(dir string) string {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return RootDirectory
	}
	dir = strings.Trim(path.Clean("/"+dir), "/")
	if dir == "" {
		return RootDirectory
	}
	return dir
}

// JoinPath joins a working directory and a file name into a repository path.
func JoinPath(dir, name string) string {
	dir = NormalizeWorkingDirectory(dir)
	if dir == RootDirectory {
		return name
	}
	return dir + "/" + name
}

// ArtifactStatus compares proposed content to what the remote currently holds.
type ArtifactStatus string

const (
	StatusNotFound  ArtifactStatus = "NOT_FOUND"
	StatusIdentical ArtifactStatus = "IDENTICAL"
	StatusDifferent ArtifactStatus = "DIFFERENT"
)

// FileHandlingStrategy governs how a write treats an existing file at the target path.
type FileHandlingStrategy string

const (
	// UpdateIfExists updates in place, or creates when absent.
	UpdateIfExists FileHandlingStrategy = "UPDATE_IF_EXISTS"

	// CreateNewAlways never touches existing content and writes to a free sibling path instead.
	CreateNewAlways FileHandlingStrategy = "CREATE_NEW_ALWAYS"

	// FailIfExists aborts when a file already exists at the path.
	FailIfExists FileHandlingStrategy = "FAIL_IF_EXISTS"
)

// ParseFileHandlingStrategy parses a strategy name. Empty means UPDATE_IF_EXISTS.
func ParseFileHandlingStrategy(s string) (FileHandlingStrategy, error) {
	switch FileHandlingStrategy(strings.ToUpper(strings.TrimSpace(s))) {
	case "", UpdateIfExists:
		return UpdateIfExists, nil
	case CreateNewAlways:
		return CreateNewAlways, nil
	case FailIfExists:
		return FailIfExists, nil
	default:
		return "", NewValidationError("unknown file handling strategy", nil).WithResource(s)
	}
}

// WriteResult is returned by a successful remote write.
type WriteResult struct {
	// CommitHash is the commit created by the write.
	CommitHash string `json:"commit_hash"`

	// FilePath is the path actually written.
	FilePath string `json:"file_path"`
}

// ArtifactKind names the type of file an operation targets.
type ArtifactKind string

const (
	ArtifactDockerfile ArtifactKind = "dockerfile"
	ArtifactCI         ArtifactKind = "ci"
	ArtifactCompose    ArtifactKind = "compose"
)

// ArtifactPreview is the read-only comparison for one target path.
type ArtifactPreview struct {
	// ServiceID is the service the artifact belongs to, empty for compose.
	ServiceID string `json:"service_id,omitempty"`

	// Path is the target path in the repository.
	Path string `json:"path"`

	// Status compares Proposed against Current.
	Status ArtifactStatus `json:"status"`

	// Proposed is the content the engine would write.
	Proposed string `json:"proposed"`

	// Current is the content currently at Path, empty when NOT_FOUND.
	Current string `json:"current,omitempty"`

	// Diff is a unified diff from Current to Proposed when Status is DIFFERENT.
	Diff string `json:"diff,omitempty"`

	// Container is the Dockerfile plan behind this artifact, when relevant.
	Container *ContainerPlan `json:"container,omitempty"`
}

// PreviewResult is returned by all preview entry points.
type PreviewResult struct {
	Mode      Mode              `json:"mode"`
	Artifact  ArtifactKind      `json:"artifact"`
	Artifacts []ArtifactPreview `json:"artifacts"`

	// ExistingFiles lists compose files already present, for compose previews.
	ExistingFiles []string `json:"existing_files,omitempty"`

	// ExistingServices holds the service names of each loadable existing compose file.
	ExistingServices map[string][]string `json:"existing_services,omitempty"`
}

// FileApplyResult is the outcome for one target path of an apply.
type FileApplyResult struct {
	ServiceID  string `json:"service_id,omitempty"`
	Path       string `json:"path"`
	CommitHash string `json:"commit_hash,omitempty"`
	Skipped    bool   `json:"skipped"`
	Message    string `json:"message,omitempty"`
}

// ApplyResult is returned by all apply entry points.
type ApplyResult struct {
	Mode     Mode              `json:"mode"`
	Artifact ArtifactKind      `json:"artifact"`
	Files    []FileApplyResult `json:"files"`

	// Message summarizes the outcome, e.g. when nothing needed to be applied.
	Message string `json:"message,omitempty"`

	// LedgerErrors counts history records that could not be persisted.
	LedgerErrors int `json:"ledger_errors"`
}

// Applied reports whether at least one file was written.
func (r *ApplyResult) Applied() bool {
	for _, f := range r.Files {
		if !f.Skipped {
			return true
		}
	}
	return false
}

// RecordSource tells how a history record's content came to be.
type RecordSource string

const (
	SourceGenerated RecordSource = "generated"
	SourceUpdated   RecordSource = "updated"
)

// ApplyRecord is one append-only history entry for a remote write.
type ApplyRecord struct {
	ID         string               `json:"id"`
	Repo       string               `json:"repo"`
	Branch     string               `json:"branch,omitempty"`
	Artifact   ArtifactKind         `json:"artifact"`
	ServiceID  string               `json:"service_id,omitempty"`
	Path       string               `json:"path"`
	Content    string               `json:"content"`
	Source     RecordSource         `json:"source"`
	Mode       Mode                 `json:"mode"`
	Strategy   FileHandlingStrategy `json:"strategy"`
	CommitHash string               `json:"commit_hash"`
	CreatedAt  time.Time            `json:"created_at"`
}

// WriteRequest is what an authorizer sees before a remote write.
type WriteRequest struct {
	Repo      string               `json:"repo"`
	Branch    string               `json:"branch,omitempty"`
	Artifact  ArtifactKind         `json:"artifact"`
	ServiceID string               `json:"service_id,omitempty"`
	Path      string               `json:"path"`
	Content   string               `json:"content"`
	Strategy  FileHandlingStrategy `json:"strategy"`
	Mode      Mode                 `json:"mode"`
}
