package engine

import (
	"context"
	"time"
)

// RemoteRepository is the transport to the hosted repository.
// Implementations must return an error wrapping ErrNotFound for missing paths.
type RemoteRepository interface {
	// ListDirectory lists the entries of a directory ("." or "" for the root).
	ListDirectory(ctx context.Context, repo RepoRef, dir string) ([]DirEntry, error)

	// GetFileContent returns the decoded UTF-8 content of a file.
	GetFileContent(ctx context.Context, repo RepoRef, filePath string) (string, error)

	// WriteFile commits content to filePath on branch, honoring strategy.
	WriteFile(ctx context.Context, repo RepoRef, branch, filePath, content string, strategy FileHandlingStrategy) (*WriteResult, error)
}

// TemplateSource provides raw CI workflow templates with {{token}} placeholders.
type TemplateSource interface {
	// GetTemplate returns the template for a stack key (maven, gradle, npm, generic).
	GetTemplate(ctx context.Context, stackKey string) (string, error)
}

// HistoryRecorder appends records of what was actually written to the remote.
type HistoryRecorder interface {
	// RecordApply persists one apply record.
	RecordApply(ctx context.Context, record *ApplyRecord) error
}

// WriteAuthorizer decides whether a remote write may proceed.
type WriteAuthorizer interface {
	// AuthorizeWrite returns an error when the write must not happen.
	AuthorizeWrite(ctx context.Context, req *WriteRequest) error
}

// MetricsRecorder receives engine measurements. All methods must be safe to call
// on a disabled recorder.
type MetricsRecorder interface {
	RecordPlan(artifact, mode string)
	RecordArtifactStatus(artifact, status string)
	RecordApply(artifact, outcome string)
	RecordRemoteCall(operation string, duration time.Duration, err error)
	RecordLedgerFailure()
	RecordDirectoryWalked()
}

type nopMetrics struct{}

func (nopMetrics) RecordPlan(string, string) {}
func (nopMetrics) RecordArtifactStatus(string, string) {}
func (nopMetrics) RecordApply(string, string) {}
func (nopMetrics) RecordRemoteCall(string, time.Duration, error) {}
func (nopMetrics) RecordLedgerFailure() {}
func (nopMetrics) RecordDirectoryWalked() {}
