package stores

import (
	"context"

	"github.com/stackforge/stackforge/pkg/engine"
)

// DefaultListLimit caps ListRecords when no limit is given.
const DefaultListLimit = 100

// RecordFilter narrows a ledger query. Empty fields match everything.
type RecordFilter struct {
	Repo      string
	Artifact  engine.ArtifactKind
	ServiceID string
	Path      string
	Limit     int
	Offset    int
}

// Store defines the interface for the apply history ledger.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// RecordApply appends one record. Records are never updated or deleted.
	RecordApply(ctx context.Context, record *engine.ApplyRecord) error

	// GetRecord returns the record with id.
	GetRecord(ctx context.Context, id string) (*engine.ApplyRecord, error)

	// ListRecords returns matching records, newest first.
	ListRecords(ctx context.Context, filter RecordFilter) ([]*engine.ApplyRecord, error)

	// LatestForPath returns the newest record written to path in repo.
	LatestForPath(ctx context.Context, repo, path string) (*engine.ApplyRecord, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

var _ engine.HistoryRecorder = Store(nil)
