package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/stackforge/stackforge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is reported but never blocks a write.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the write.
	SeverityError Severity = "error"

	// SeverityCritical blocks the write.
	SeverityCritical Severity = "critical"
)

// Blocks reports whether a violation of this severity denies the write.
func (s Severity) Blocks() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
// Every policy exposes its violations as the set rule "deny" in its package.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks the policies shipped with the binary.
	Builtin bool `json:"builtin"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from, if any.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was loaded.
	LoadedAt time.Time `json:"loaded_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Path is the repository path of the rejected write.
	Path string `json:"path,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// PolicyResult represents the result of evaluating one write.
type PolicyResult struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists violations that do not block.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation finished.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// PolicyInput is the document policies see as "input".
type PolicyInput struct {
	// Write is the write being authorized.
	Write *WriteInput `json:"write"`

	// Context provides additional evaluation context.
	Context *PolicyContext `json:"context"`
}

// WriteInput mirrors engine.WriteRequest with the content size precomputed.
type WriteInput struct {
	Repo        string `json:"repo"`
	Branch      string `json:"branch"`
	Artifact    string `json:"artifact"`
	ServiceID   string `json:"service_id"`
	Path        string `json:"path"`
	Content     string `json:"content"`
	ContentSize int    `json:"content_size"`
	Strategy    string `json:"strategy"`
	Mode        string `json:"mode"`
}

// PolicyContext provides context information for policy evaluation.
type PolicyContext struct {
	// Environment is the deployment environment, e.g. "production".
	Environment string `json:"environment,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Operation is always "write" for the apply gate.
	Operation string `json:"operation"`
}

// NewWriteInput converts an engine write request into policy input.
func NewWriteInput(req *engine.WriteRequest) *WriteInput {
	return &WriteInput{
		Repo:        req.Repo,
		Branch:      req.Branch,
		Artifact:    string(req.Artifact),
		ServiceID:   req.ServiceID,
		Path:        req.Path,
		Content:     req.Content,
		ContentSize: len(req.Content),
		Strategy:    string(req.Strategy),
		Mode:        string(req.Mode),
	}
}

// DeniedError is returned by AuthorizeWrite when a write is blocked.
type DeniedError struct {
	Path       string
	Violations []PolicyViolation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("write to %s denied: %s", e.Path, strings.Join(msgs, "; "))
}
