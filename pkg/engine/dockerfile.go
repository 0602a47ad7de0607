package engine

import (
	"fmt"
	"strings"
)

// Base images used by generated Dockerfiles.
const (
	mavenBuildImage  = "maven:3.9.6-eclipse-temurin-%s"
	gradleBuildImage = "gradle:8.7.0-jdk%s"
	javaRuntimeImage = "eclipse-temurin:%s-jre"
	nodeImage        = "node:18"
	genericImage     = "alpine:latest"
)

// DockerfileOptions tunes generated content beyond what the descriptor carries.
type DockerfileOptions struct {
	// UseYarn installs with yarn instead of npm for Node services.
	UseYarn bool
}

// GenerateDockerfile renders the canonical Dockerfile for a service.
func GenerateDockerfile(svc ServiceDescriptor, opts DockerfileOptions) string {
	switch svc.StackType {
	case StackSpringMaven:
		return javaDockerfile(svc, fmt.Sprintf(mavenBuildImage, javaVersionOf(svc)), "mvn -B -DskipTests clean package", "target")
	case StackSpringGradle:
		return javaDockerfile(svc, fmt.Sprintf(gradleBuildImage, javaVersionOf(svc)), "gradle build -x test --no-daemon", "build/libs")
	case StackNode:
		return nodeDockerfile(svc, opts)
	default:
		return "FROM " + genericImage + "\nCMD [\"echo\",\"Provide a Dockerfile.\"]\n"
	}
}

func javaVersionOf(svc ServiceDescriptor) string {
	if svc.JavaVersion == "" {
		return defaultJavaVersion
	}
	return svc.JavaVersion
}

// javaDockerfile builds from the repository root so wrappers and parent
// modules are available, then switches into the service directory.
func javaDockerfile(svc ServiceDescriptor, buildImage, buildCmd, outputDir string) string {
	wd := NormalizeWorkingDirectory(svc.WorkingDirectory)
	src := "/src"
	if wd != RootDirectory {
		src = "/src/" + wd
	}

	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s AS build\n", buildImage)
	b.WriteString("WORKDIR /src\n")
	b.WriteString("COPY . .\n")
	if wd != RootDirectory {
		fmt.Fprintf(&b, "WORKDIR %s\n", src)
	}
	fmt.Fprintf(&b, "RUN %s\n", buildCmd)
	b.WriteString("\n")
	fmt.Fprintf(&b, "FROM "+javaRuntimeImage+"\n", javaVersionOf(svc))
	b.WriteString("WORKDIR /app\n")
	fmt.Fprintf(&b, "COPY --from=build %s/%s/*.jar app.jar\n", src, outputDir)
	b.WriteString("EXPOSE 8080\n")
	b.WriteString("ENTRYPOINT [\"java\",\"-jar\",\"/app/app.jar\"]\n")
	return b.String()
}

func nodeDockerfile(svc ServiceDescriptor, opts DockerfileOptions) string {
	port := 3000
	if svc.Kind == KindBackend && svc.Port > 0 {
		port = svc.Port
	}
	install := "npm install --production"
	if opts.UseYarn {
		install = "yarn install --production"
	}

	var b strings.Builder
	b.WriteString("FROM " + nodeImage + "\n")
	b.WriteString("WORKDIR /app\n")
	b.WriteString("COPY package*.json ./\n")
	if opts.UseYarn {
		b.WriteString("COPY yarn.lock ./\n")
	}
	fmt.Fprintf(&b, "RUN %s\n", install)
	b.WriteString("COPY . .\n")
	fmt.Fprintf(&b, "EXPOSE %d\n", port)
	b.WriteString("CMD [\"npm\",\"start\"]\n")
	return b.String()
}

// IsStaleDockerfile reports whether existing content targets the other Java
// build tool's output layout. The build tool name is matched case-insensitively.
func IsStaleDockerfile(buildTool, content string) bool {
	switch CanonicalBuildTool(buildTool) {
	case BuildToolGradle:
		return strings.Contains(content, "/target/")
	case BuildToolMaven:
		return strings.Contains(content, "/build/libs/")
	default:
		return false
	}
}

// CanonicalBuildTool maps any casing of a known build tool to its canonical
// name. Unknown names are returned trimmed but otherwise unchanged.
func CanonicalBuildTool(buildTool string) string {
	buildTool = strings.TrimSpace(buildTool)
	for _, known := range []string{BuildToolMaven, BuildToolGradle, BuildToolNpm, BuildToolGeneric} {
		if strings.EqualFold(buildTool, known) {
			return known
		}
	}
	return buildTool
}
