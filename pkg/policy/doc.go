// Package policy gates remote writes with Open Policy Agent (OPA) policies.
//
// Every file the reconciliation engine is about to commit is described as a
// WriteInput and evaluated against all enabled Rego policies. Each policy
// exposes its findings as the set rule "deny" in its own package. A finding
// with severity error or critical blocks the write; warnings and info are
// logged only.
//
// # Usage
//
//	gate, err := policy.NewEngineWithSettings(logger, policy.Settings{
//	    ProtectedBranches: []string{"main", "release/*"},
//	    MaxContentBytes:   1 << 20,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := gate.LoadPolicies(ctx, []string{"/etc/stackforge/policies"}); err != nil {
//	    log.Fatal(err)
//	}
//
//	eng, err := engine.New(engine.Options{Remote: client, Authorizer: gate})
//
// # Built-in Policies
//
//   - target-paths: Dockerfiles, .github/workflows/*.yml and compose files
//     only, never outside the repository. Settings.ExtraPaths adds regular
//     expressions of further allowed paths.
//   - protected-branches: denies branches matching Settings.ProtectedBranches
//     (glob patterns, "/" as separator).
//   - content-limits: denies empty files and files above Settings.MaxContentBytes.
//   - workflow-permissions: warns when a workflow has no top-level
//     permissions block.
//
// Settings are visible to every policy as data.stackforge.config.
//
// # Custom Policies
//
// Custom policies are .rego files, or .json files carrying a "rego" field.
// A .rego file is named after its file name. Its leading comments become the
// description, and a "# severity: warning" comment changes the default
// severity of error:
//
//	# Base images must be pinned.
//	package acme.images
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.write.artifact == "dockerfile"
//	    contains(input.write.content, ":latest")
//	    msg := "base images must be pinned"
//	}
//
// WatchPolicies reloads custom policies when their files change.
package policy
