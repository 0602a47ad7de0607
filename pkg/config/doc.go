// Package config loads stackforge configuration from CUE.
//
// # Overview
//
// A configuration file (stackforge.cue by default) is unified with the
// embedded #Config schema. The schema closes every struct, constrains each
// field and carries the defaults, so an empty file is a complete
// configuration. The unified value is decoded into Config and then checked
// with validator/v10 for the rules CUE does not express (URLs, host:port
// pairs, durations).
//
//	cfg, err := config.Load(ctx, "stackforge.cue")
//	if err != nil {
//	    var verrs config.ValidationErrors
//	    if errors.As(err, &verrs) {
//	        for _, e := range verrs {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//	client, err := remote.NewGitHubClient(cfg.GitHubClientConfig(), logger)
//
// # File Structure
//
//	github: {
//	    api_url: "https://github.example.com/api/v3"
//	    timeout: "10s"
//	}
//	store: path: "/var/lib/stackforge/history.db"
//	walker: max_nodes: 500
//	registry: "registry.example.com:5000"
//	policy: {
//	    paths: ["/etc/stackforge/policies"]
//	    protected_branches: ["main", "release/*"]
//	}
//	telemetry: {
//	    log_format: "json"
//	    metrics: listen_address: ":9464"
//	}
//	defaults: strategy: "CREATE_NEW_ALWAYS"
//
// Several files may be given; they are unified, so a field set to two
// different values is an error rather than an override. The GitHub token is
// normally supplied through STACKFORGE_GITHUB_TOKEN by the CLI instead of
// the file.
//
// # Service Files
//
// ParseServices reads a list of services that bypasses repository analysis.
// The file is checked against #Services and may be written in CUE or JSON:
//
//	services: [
//	    {id: "backend-0", stack_type: "SPRING_MAVEN", working_directory: "api", port: 8080},
//	    {id: "frontend-1", stack_type: "NODE", working_directory: "web"},
//	]
//	relationships: [{from: "frontend-1", to: "backend-0", type: "api"}]
//
// # Error Handling
//
// Content problems carry their location when CUE knows it:
//
//	stackforge.cue:3:12: walker.max_nodes: invalid value 0 (out of bound >=1)
package config
