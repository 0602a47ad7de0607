package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		targetPathsPolicy(),
		protectedBranchesPolicy(),
		contentLimitsPolicy(),
		workflowPermissionsPolicy(),
	}
}

// targetPathsPolicy keeps each artifact kind inside its conventional paths.
func targetPathsPolicy() Policy {
	return Policy{
		Name:        "target-paths",
		Description: "Restricts writes to Dockerfiles, workflow files and compose files inside the repository",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"paths", "safety"},
		Rego: `package stackforge.policies.paths

import rego.v1

patterns := {
	"dockerfile": "^([^/]+/)*Dockerfile(-[0-9]+)?$",
	"ci": "^\\.github/workflows/[^/]+\\.ya?ml$",
	"compose": "^([^/]+/)*(docker-)?compose(-[0-9]+)?\\.ya?ml$",
}

deny contains violation if {
	w := input.write
	some segment in split(w.path, "/")
	segment == ".."
	violation := {
		"message": sprintf("path '%s' escapes the repository", [w.path]),
		"severity": "critical",
	}
}

deny contains violation if {
	w := input.write
	startswith(w.path, "/")
	violation := {
		"message": sprintf("path '%s' must be relative", [w.path]),
		"severity": "critical",
	}
}

deny contains violation if {
	w := input.write
	not patterns[w.artifact]
	violation := {
		"message": sprintf("unknown artifact '%s'", [w.artifact]),
		"severity": "error",
	}
}

deny contains violation if {
	w := input.write
	pattern := patterns[w.artifact]
	not regex.match(pattern, w.path)
	not extra_allowed(w.path)
	violation := {
		"message": sprintf("path '%s' is not a %s location", [w.path, w.artifact]),
		"severity": "error",
	}
}

extra_allowed(p) if {
	some pattern in data.stackforge.config.extra_paths
	regex.match(pattern, p)
}
`,
	}
}

// protectedBranchesPolicy refuses writes to configured branches.
func protectedBranchesPolicy() Policy {
	return Policy{
		Name:        "protected-branches",
		Description: "Denies writes to branches matching the configured protected patterns",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"branches", "safety"},
		Rego: `package stackforge.policies.branches

import rego.v1

deny contains violation if {
	branch := input.write.branch
	branch != ""
	some protected in data.stackforge.config.protected_branches
	glob.match(protected, ["/"], branch)
	violation := {
		"message": sprintf("branch '%s' is protected", [branch]),
		"severity": "error",
	}
}

deny contains violation if {
	input.write.branch == ""
	data.stackforge.config.protect_default_branch == true
	violation := {
		"message": "the default branch is protected; choose a branch",
		"severity": "error",
	}
}
`,
	}
}

// contentLimitsPolicy rejects empty and oversized files.
func contentLimitsPolicy() Policy {
	return Policy{
		Name:        "content-limits",
		Description: "Denies empty writes and writes above the configured size limit",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"content"},
		Rego: `package stackforge.policies.content

import rego.v1

deny contains violation if {
	input.write.content_size == 0
	violation := {
		"message": sprintf("refusing to write empty content to '%s'", [input.write.path]),
		"severity": "error",
	}
}

deny contains violation if {
	limit := data.stackforge.config.max_content_bytes
	limit > 0
	input.write.content_size > limit
	violation := {
		"message": sprintf("content of '%s' is %d bytes, limit is %d", [input.write.path, input.write.content_size, limit]),
		"severity": "error",
	}
}
`,
	}
}

// workflowPermissionsPolicy flags workflows without an explicit token scope.
func workflowPermissionsPolicy() Policy {
	return Policy{
		Name:        "workflow-permissions",
		Description: "Warns when a CI workflow does not declare a permissions block",
		Severity:    SeverityWarning,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"ci", "security"},
		Rego: `package stackforge.policies.workflows

import rego.v1

deny contains violation if {
	input.write.artifact == "ci"
	not regex.match("(?m)^permissions:", input.write.content)
	violation := {
		"message": sprintf("workflow '%s' does not declare permissions", [input.write.path]),
		"severity": "warning",
	}
}
`,
	}
}
