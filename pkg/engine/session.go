package engine

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/stackforge/stackforge/pkg/engine"

// session wraps a RemoteRepository with tracing, metrics and error classification.
// Every remote failure leaving a session is an EngineError.
type session struct {
	client  RemoteRepository
	metrics MetricsRecorder
	tracer  trace.Tracer
}

func newSession(client RemoteRepository, metrics MetricsRecorder) *session {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &session{
		client:  client,
		metrics: metrics,
		tracer:  otel.Tracer(tracerName),
	}
}

func (s *session) observe(ctx context.Context, op, target string, fn func(ctx context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, "remote."+op, trace.WithAttributes(
		attribute.String("remote.operation", op),
		attribute.String("remote.path", target),
	))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	s.metrics.RecordRemoteCall(op, time.Since(start), err)

	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// list returns a directory snapshot. A missing directory is reported as an
// error wrapping ErrNotFound.
func (s *session) list(ctx context.Context, repo RepoRef, dir string) (DirectorySnapshot, error) {
	dir = NormalizeWorkingDirectory(dir)
	var entries []DirEntry
	err := s.observe(ctx, "list", dir, func(ctx context.Context) error {
		var err error
		entries, err = s.client.ListDirectory(ctx, repo, dir)
		return err
	})
	if err != nil {
		return DirectorySnapshot{}, classifyRemoteError(err, "failed to list directory", ErrCodeListFailed, dir)
	}
	s.metrics.RecordDirectoryWalked()
	return DirectorySnapshot{Path: dir, Entries: entries}, nil
}

// fetch returns the content at filePath and whether it exists.
func (s *session) fetch(ctx context.Context, repo RepoRef, filePath string) (string, bool, error) {
	var content string
	err := s.observe(ctx, "fetch", filePath, func(ctx context.Context) error {
		var err error
		content, err = s.client.GetFileContent(ctx, repo, filePath)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyRemoteError(err, "failed to fetch file", ErrCodeFetchFailed, filePath)
	}
	return content, true, nil
}

// fetchOptional returns the content at filePath, or "" on any failure.
func (s *session) fetchOptional(ctx context.Context, repo RepoRef, filePath string) string {
	content, ok, err := s.fetch(ctx, repo, filePath)
	if err != nil || !ok {
		return ""
	}
	return content
}

func (s *session) write(ctx context.Context, repo RepoRef, branch, filePath, content string, strategy FileHandlingStrategy) (*WriteResult, error) {
	var res *WriteResult
	err := s.observe(ctx, "write", filePath, func(ctx context.Context) error {
		var err error
		res, err = s.client.WriteFile(ctx, repo, branch, filePath, content, strategy)
		return err
	})
	if err != nil {
		return nil, classifyRemoteError(err, "failed to write file", ErrCodeWriteFailed, filePath)
	}
	if res == nil {
		return nil, NewRemoteTransportError("remote returned no write result", nil).
			WithCode(ErrCodeWriteFailed).WithResource(filePath)
	}
	return res, nil
}

// classifyRemoteError keeps errors the client already classified and wraps the rest.
func classifyRemoteError(err error, message, code, target string) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return NewRemoteTransportError(message, err).
		WithCode(code).
		WithResource(target)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
