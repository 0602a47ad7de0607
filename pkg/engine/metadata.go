package engine

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	defaultJavaVersion  = "17"
	defaultNodeVersion  = "Latest"
	defaultDatabaseName = "my_database"
	vanillaNode         = "Vanilla Node.js"
	springBoot          = "Spring Boot"
)

var (
	pomJavaVersionRe     = regexp.MustCompile(`<java\.version>\s*(?:1\.)?(\d+)(?:\.\d+)*\s*</java\.version>`)
	pomCompilerSourceRe  = regexp.MustCompile(`<maven\.compiler\.source>\s*(?:1\.)?(\d+)(?:\.\d+)*\s*</maven\.compiler\.source>`)
	pomCompilerTargetRe  = regexp.MustCompile(`<maven\.compiler\.target>\s*(?:1\.)?(\d+)(?:\.\d+)*\s*</maven\.compiler\.target>`)
	pomPackagingRe       = regexp.MustCompile(`<packaging>([^<]+)</packaging>`)
	pomArtifactIDRe      = regexp.MustCompile(`<artifactId>([^<]+)</artifactId>`)
	pomParentBootRe      = regexp.MustCompile(`(?s)<parent>.*?<groupId>org\.springframework\.boot</groupId>.*?<version>([0-9.]+[A-Za-z0-9.-]*)</version>.*?</parent>`)
	pomBootVersionRe     = regexp.MustCompile(`<spring-boot\.version>([0-9.]+)</spring-boot\.version>`)
	gradleSourceCompatRe = regexp.MustCompile(`sourceCompatibility\s*=\s*(?:JavaVersion\.VERSION_)?['"]?(?:1[._])?(\d+)`)
	gradleTargetCompatRe = regexp.MustCompile(`targetCompatibility\s*=\s*(?:JavaVersion\.VERSION_)?['"]?(?:1[._])?(\d+)`)
	gradleToolchainRe    = regexp.MustCompile(`JavaLanguageVersion\.of\((\d+)\)`)
	gradleBootPluginRe   = regexp.MustCompile(`id\s*\(?\s*['"]org\.springframework\.boot['"]\s*\)?\s+version\s+['"]([0-9.]+)['"]`)
	gradlePluginRe       = regexp.MustCompile(`id\s*\(?\s*['"]([\w.-]+)['"]`)
	gradleDependencyRe   = regexp.MustCompile(`(?m)^\s*(?:implementation|api|runtimeOnly|compileOnly|testImplementation)\s*\(?\s*['"]([^'":]+):([^'":]+)`)
	nodeEnginesRe        = regexp.MustCompile(`"engines"\s*:\s*\{[^}]*"node"\s*:\s*"([^"]+)"`)
	nodePortRe           = regexp.MustCompile(`PORT[=:]\s*(\d+)`)
	springPortPropsRe    = regexp.MustCompile(`server\.port\s*=\s*(\d+)`)
	springPortYamlRe     = regexp.MustCompile(`port:\s*(\d+)`)
	datasourceURLRe      = regexp.MustCompile(`(?m)spring\.datasource\.url=.*[:/]([\w-]+)(?:\?|$)`)
	mongoDatabasePropRe  = regexp.MustCompile(`spring\.data\.mongodb\.database=([\w-]+)`)
	yamlURLRe            = regexp.MustCompile(`(?m)url:.*[:/]([\w-]+)(?:\?|$)`)
	yamlDatabaseRe       = regexp.MustCompile(`database:\s*([\w-]+)`)
)

func firstSubmatch(content string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// JavaVersionFromPom extracts the Java release from a Maven pom.
func JavaVersionFromPom(pom string) string {
	if v := firstSubmatch(pom, pomJavaVersionRe, pomCompilerSourceRe, pomCompilerTargetRe); v != "" {
		return v
	}
	return defaultJavaVersion
}

// JavaVersionFromGradle extracts the Java release from a Gradle build script.
func JavaVersionFromGradle(script string) string {
	if v := firstSubmatch(script, gradleSourceCompatRe, gradleTargetCompatRe, gradleToolchainRe); v != "" {
		return v
	}
	return defaultJavaVersion
}

// packageJSON is the subset of a Node manifest the analyzer reads.
type packageJSON struct {
	Name                 string            `json:"name"`
	Scripts              map[string]string `json:"scripts"`
	Engines              map[string]string `json:"engines"`
	Dependencies         map[string]string `json:"dependencies"`
	DevDependencies      map[string]string `json:"devDependencies"`
	PeerDependencies     map[string]string `json:"peerDependencies"`
	OptionalDependencies map[string]string `json:"optionalDependencies"`
}

func parsePackageJSON(content string) (*packageJSON, error) {
	var pkg packageJSON
	if err := json.Unmarshal([]byte(content), &pkg); err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (p *packageJSON) hasDependency(name string) bool {
	for _, deps := range []map[string]string{p.Dependencies, p.DevDependencies, p.PeerDependencies, p.OptionalDependencies} {
		if _, ok := deps[name]; ok {
			return true
		}
	}
	return false
}

func (p *packageJSON) dependencyNames() []string {
	names := make([]string, 0, len(p.Dependencies))
	for name := range p.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// nodeManifest wraps a package.json so detection works on malformed manifests too.
type nodeManifest struct {
	raw    string
	parsed *packageJSON
}

func newNodeManifest(content string) nodeManifest {
	pkg, err := parsePackageJSON(content)
	if err != nil {
		pkg = nil
	}
	return nodeManifest{raw: content, parsed: pkg}
}

func (m nodeManifest) has(dep string) bool {
	if m.parsed != nil {
		return m.parsed.hasDependency(dep)
	}
	return strings.Contains(m.raw, `"`+dep+`"`)
}

func (m nodeManifest) hasAny(deps ...string) bool {
	for _, d := range deps {
		if m.has(d) {
			return true
		}
	}
	return false
}

// NodeVersion returns engines.node or "Latest".
func (m nodeManifest) NodeVersion() string {
	if m.parsed != nil {
		if v := strings.TrimSpace(m.parsed.Engines["node"]); v != "" {
			return v
		}
		return defaultNodeVersion
	}
	if v := firstSubmatch(m.raw, nodeEnginesRe); v != "" {
		return v
	}
	return defaultNodeVersion
}

type frameworkRule struct {
	deps []string
	name string
}

var nodeFrameworks = []frameworkRule{
	{deps: []string{"react"}, name: "React"},
	{deps: []string{"vue"}, name: "Vue.js"},
	{deps: []string{"angular", "@angular/core"}, name: "Angular"},
	{deps: []string{"express"}, name: "Express.js"},
	{deps: []string{"next"}, name: "Next.js"},
	{deps: []string{"nuxt"}, name: "Nuxt.js"},
	{deps: []string{"svelte"}, name: "Svelte"},
	{deps: []string{"nestjs", "@nestjs/core"}, name: "NestJS"},
}

// Framework returns the first well-known framework the manifest depends on.
func (m nodeManifest) Framework() string {
	for _, f := range nodeFrameworks {
		if m.hasAny(f.deps...) {
			return f.name
		}
	}
	return vanillaNode
}

// IsBackend reports whether the manifest depends on a server framework.
func (m nodeManifest) IsBackend() bool {
	return m.hasAny("express", "koa", "fastify", "nestjs", "@nestjs/core", "hapi", "@hapi/hapi", "socket.io")
}

// Port returns the port a Node service listens on.
func (m nodeManifest) Port() int {
	if m.Framework() == "Next.js" {
		return 3000
	}
	if m.IsBackend() {
		if v := firstSubmatch(m.raw, nodePortRe); v != "" {
			if p, err := strconv.Atoi(v); err == nil {
				return p
			}
		}
		return 3000
	}
	return 80
}

// Scripts returns the sorted npm script names.
func (m nodeManifest) Scripts() []string {
	if m.parsed == nil {
		return nil
	}
	names := make([]string, 0, len(m.parsed.Scripts))
	for name := range m.parsed.Scripts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DetectDatabase inspects a Java build file for a database driver.
func DetectDatabase(buildFile string) DatabaseType {
	switch {
	case buildFile == "":
		return DatabaseNone
	case strings.Contains(buildFile, "spring-boot-starter-data-mongodb"), strings.Contains(buildFile, "mongodb-driver"):
		return DatabaseMongoDB
	case strings.Contains(buildFile, "mysql"):
		return DatabaseMySQL
	case strings.Contains(buildFile, "postgres"):
		return DatabasePostgreSQL
	case strings.Contains(buildFile, "h2database"):
		return DatabaseH2
	default:
		return DatabaseNone
	}
}

// DatabaseNameFromProperties extracts the schema name from application.properties.
func DatabaseNameFromProperties(content string) string {
	return firstSubmatch(content, datasourceURLRe, mongoDatabasePropRe)
}

// DatabaseNameFromYAML extracts the schema name from application.yml.
func DatabaseNameFromYAML(content string) string {
	return firstSubmatch(content, yamlURLRe, yamlDatabaseRe)
}

// SpringPortFromProperties extracts server.port from application.properties.
func SpringPortFromProperties(content string) int {
	return atoiOrZero(firstSubmatch(content, springPortPropsRe))
}

// SpringPortFromYAML extracts the first port: key from application.yml.
func SpringPortFromYAML(content string) int {
	return atoiOrZero(firstSubmatch(content, springPortYamlRe))
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func mavenDetails(pom string) map[string]interface{} {
	details := map[string]interface{}{
		"springBootVersion": orDefault(firstSubmatch(pom, pomParentBootRe, pomBootVersionRe), "Unknown"),
		"packaging":         orDefault(firstSubmatch(pom, pomPackagingRe), "jar"),
	}
	var artifacts []string
	for _, m := range pomArtifactIDRe.FindAllStringSubmatch(pom, -1) {
		artifacts = append(artifacts, strings.TrimSpace(m[1]))
	}
	if len(artifacts) > 0 {
		details["artifactId"] = projectArtifactID(pom, artifacts)
		details["dependencies"] = starterDependencies(artifacts)
	}
	return details
}

// projectArtifactID returns the first artifactId declared outside <parent>.
func projectArtifactID(pom string, artifacts []string) string {
	if end := strings.Index(pom, "</parent>"); end >= 0 {
		if m := pomArtifactIDRe.FindStringSubmatch(pom[end:]); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return artifacts[0]
}

func starterDependencies(artifacts []string) []string {
	var deps []string
	seen := make(map[string]bool)
	for _, a := range artifacts {
		if strings.HasPrefix(a, "spring-boot-starter") && !seen[a] && a != "spring-boot-starter-parent" {
			seen[a] = true
			deps = append(deps, a)
		}
	}
	return deps
}

func gradleDetails(script string) map[string]interface{} {
	details := map[string]interface{}{
		"springBootVersion": orDefault(firstSubmatch(script, gradleBootPluginRe), "Unknown"),
	}
	var plugins []string
	for _, m := range gradlePluginRe.FindAllStringSubmatch(script, -1) {
		plugins = append(plugins, m[1])
	}
	if len(plugins) > 0 {
		details["plugins"] = plugins
	}
	var deps []string
	for _, m := range gradleDependencyRe.FindAllStringSubmatch(script, -1) {
		deps = append(deps, m[2])
	}
	if len(deps) > 0 {
		details["dependencies"] = deps
	}
	return details
}

func nodeDetails(m nodeManifest) map[string]interface{} {
	details := map[string]interface{}{
		"nodeVersion": m.NodeVersion(),
		"framework":   m.Framework(),
	}
	if scripts := m.Scripts(); len(scripts) > 0 {
		details["scripts"] = scripts
	}
	if m.parsed != nil {
		if deps := m.parsed.dependencyNames(); len(deps) > 0 {
			details["dependencies"] = deps
		}
	}
	return details
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
