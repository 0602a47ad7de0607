package engine

import (
	"sort"
	"strings"
)

// Marker file names.
const (
	MarkerPom         = "pom.xml"
	MarkerGradle      = "build.gradle"
	MarkerGradleKts   = "build.gradle.kts"
	MarkerPackageJSON = "package.json"
)

// DirectorySnapshot is one directory listing observed during a walk.
type DirectorySnapshot struct {
	// Path is the normalized repository-relative directory ("." at the root).
	Path string

	// Entries is the listing in whatever order the remote returned it.
	Entries []DirEntry
}

// HasFile reports whether the snapshot contains a file entry with the given name.
func (s DirectorySnapshot) HasFile(name string) bool {
	for _, e := range s.Entries {
		if e.Name == name && e.Type != EntryDir {
			return true
		}
	}
	return false
}

// Subdirectories returns the names of directory entries sorted by name.
func (s DirectorySnapshot) Subdirectories() []string {
	var dirs []string
	for _, e := range s.Entries {
		if e.Type == EntryDir {
			dirs = append(dirs, e.Name)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// ClassificationRule maps the presence of a marker file to a stack tag.
type ClassificationRule struct {
	// Stack is the tag assigned when the rule matches.
	Stack StackType

	// Markers are alternative file names, checked in order.
	Markers []string

	// Exclude rejects a candidate in multi-service mode given the marker content.
	Exclude func(manifest string) bool
}

// Match returns the first marker of the rule present in the snapshot.
func (r ClassificationRule) Match(s DirectorySnapshot) (string, bool) {
	for _, m := range r.Markers {
		if s.HasFile(m) {
			return m, true
		}
	}
	return "", false
}

// DefaultRules is the marker priority: pom.xml, then build.gradle[.kts], then package.json.
var DefaultRules = []ClassificationRule{
	{Stack: StackSpringMaven, Markers: []string{MarkerPom}},
	{Stack: StackSpringGradle, Markers: []string{MarkerGradle, MarkerGradleKts}, Exclude: isAndroidGradle},
	{Stack: StackNode, Markers: []string{MarkerPackageJSON}, Exclude: isMobileNode},
}

// Classification is the outcome of applying the rules to one directory.
type Classification struct {
	Stack            StackType `json:"stack"`
	Marker           string    `json:"marker,omitempty"`
	WorkingDirectory string    `json:"working_directory"`
	rule             *ClassificationRule
}

// ManifestPath returns the repository path of the marker file.
func (c Classification) ManifestPath() string {
	if c.Marker == "" {
		return ""
	}
	return JoinPath(c.WorkingDirectory, c.Marker)
}

// Generic returns the fallback classification for a repository with no markers.
func Generic() Classification {
	return Classification{Stack: StackGeneric, WorkingDirectory: RootDirectory}
}

// StackClassifier applies an ordered rule list to directory snapshots.
type StackClassifier struct {
	rules []ClassificationRule
}

// NewStackClassifier creates a classifier. A nil rule list uses DefaultRules.
func NewStackClassifier(rules []ClassificationRule) *StackClassifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &StackClassifier{rules: rules}
}

// Classify returns the highest-priority matching rule for the snapshot.
// The result does not depend on the order of entries in the listing.
func (c *StackClassifier) Classify(s DirectorySnapshot) (Classification, bool) {
	for i := range c.rules {
		rule := &c.rules[i]
		if marker, ok := rule.Match(s); ok {
			return Classification{
				Stack:            rule.Stack,
				Marker:           marker,
				WorkingDirectory: NormalizeWorkingDirectory(s.Path),
				rule:             rule,
			}, true
		}
	}
	return Classification{}, false
}

// Excluded reports whether a multi-service candidate must be dropped given its manifest.
func (c Classification) Excluded(manifest string) bool {
	if c.rule == nil || c.rule.Exclude == nil {
		return false
	}
	return c.rule.Exclude(manifest)
}

func isAndroidGradle(manifest string) bool {
	return strings.Contains(manifest, "com.android.application")
}

var mobileNodeDependencies = []string{"react-native", "expo"}

func isMobileNode(manifest string) bool {
	pkg, err := parsePackageJSON(manifest)
	if err != nil {
		for _, dep := range mobileNodeDependencies {
			if strings.Contains(manifest, `"`+dep+`"`) {
				return true
			}
		}
		return false
	}
	for _, dep := range mobileNodeDependencies {
		if pkg.hasDependency(dep) {
			return true
		}
	}
	return false
}

// BuildTool returns the build tool name for a stack.
func BuildTool(stack StackType) string {
	switch stack {
	case StackSpringMaven:
		return BuildToolMaven
	case StackSpringGradle:
		return BuildToolGradle
	case StackNode:
		return BuildToolNpm
	default:
		return BuildToolGeneric
	}
}

// Language returns the language name for a stack.
func Language(stack StackType) string {
	switch stack {
	case StackSpringMaven, StackSpringGradle:
		return LanguageJava
	case StackNode:
		return LanguageJavaScript
	default:
		return LanguageUnknown
	}
}
