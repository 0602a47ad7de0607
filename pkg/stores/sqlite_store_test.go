package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stackforge/stackforge/pkg/engine"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := Open(context.Background(), Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testRecord(path string, at time.Time) *engine.ApplyRecord {
	return &engine.ApplyRecord{
		Repo:       "acme/shop",
		Branch:     "main",
		Artifact:   engine.ArtifactDockerfile,
		ServiceID:  "backend-0",
		Path:       path,
		Content:    "FROM eclipse-temurin:17-jre\n",
		Source:     engine.SourceGenerated,
		Mode:       engine.ModeMulti,
		Strategy:   engine.UpdateIfExists,
		CommitHash: "abc123",
		CreatedAt:  at,
	}
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: MemoryPath})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Fatal("expected health check to fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected error for empty path")
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM apply_records").Scan(&count); err != nil {
		t.Fatalf("apply_records is not accessible: %v", err)
	}

	// running again is a no-op
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestRecordAndGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("backend/Dockerfile", time.Time{})
	rec.ID = ""
	if err := store.RecordApply(ctx, rec); err != nil {
		t.Fatalf("failed to record apply: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be assigned")
	}

	got, err := store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if got.Path != rec.Path || got.Content != rec.Content || got.CommitHash != rec.CommitHash {
		t.Errorf("record mismatch: got %+v", got)
	}
	if got.Artifact != engine.ArtifactDockerfile || got.Source != engine.SourceGenerated {
		t.Errorf("unexpected enums: %s %s", got.Artifact, got.Source)
	}
	if got.Mode != engine.ModeMulti || got.Strategy != engine.UpdateIfExists {
		t.Errorf("unexpected mode or strategy: %s %s", got.Mode, got.Strategy)
	}

	_, err = store.GetRecord(ctx, "missing")
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecordApplyValidation(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.RecordApply(ctx, nil); err == nil {
		t.Error("expected error for nil record")
	}
	if err := store.RecordApply(ctx, &engine.ApplyRecord{Repo: "acme/shop"}); err == nil {
		t.Error("expected error for record without path")
	}

	bad := testRecord("Dockerfile", time.Now())
	bad.Artifact = "helm"
	if err := store.RecordApply(ctx, bad); err == nil {
		t.Error("expected CHECK constraint to reject unknown artifact")
	}
}

func TestListRecordsFilters(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	dockerfile := testRecord("backend/Dockerfile", base)
	ci := testRecord(".github/workflows/ci-generated-maven.yml", base.Add(time.Minute))
	ci.Artifact = engine.ArtifactCI
	compose := testRecord("docker-compose.yml", base.Add(2*time.Minute))
	compose.Artifact = engine.ArtifactCompose
	compose.ServiceID = ""
	other := testRecord("Dockerfile", base.Add(3*time.Minute))
	other.Repo = "acme/blog"

	for _, rec := range []*engine.ApplyRecord{dockerfile, ci, compose, other} {
		if err := store.RecordApply(ctx, rec); err != nil {
			t.Fatalf("failed to record %s: %v", rec.Path, err)
		}
	}

	all, err := store.ListRecords(ctx, RecordFilter{})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 records, got %d", len(all))
	}
	if all[0].Repo != "acme/blog" {
		t.Errorf("expected newest first, got %s", all[0].Path)
	}

	shop, err := store.ListRecords(ctx, RecordFilter{Repo: "acme/shop"})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(shop) != 3 {
		t.Errorf("expected 3 records for acme/shop, got %d", len(shop))
	}

	ciOnly, err := store.ListRecords(ctx, RecordFilter{Repo: "acme/shop", Artifact: engine.ArtifactCI})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(ciOnly) != 1 || ciOnly[0].Path != ci.Path {
		t.Errorf("unexpected ci records: %+v", ciOnly)
	}

	byService, err := store.ListRecords(ctx, RecordFilter{ServiceID: "backend-0", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("failed to list records: %v", err)
	}
	if len(byService) != 1 || byService[0].Path != ci.Path {
		t.Errorf("unexpected paged records: %+v", byService)
	}
}

func TestLatestForPath(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	first := testRecord("Dockerfile", base)
	second := testRecord("Dockerfile", base.Add(time.Hour))
	second.Source = engine.SourceUpdated
	second.CommitHash = "def456"
	for _, rec := range []*engine.ApplyRecord{first, second} {
		if err := store.RecordApply(ctx, rec); err != nil {
			t.Fatalf("failed to record: %v", err)
		}
	}

	latest, err := store.LatestForPath(ctx, "acme/shop", "Dockerfile")
	if err != nil {
		t.Fatalf("failed to get latest: %v", err)
	}
	if latest.CommitHash != "def456" || latest.Source != engine.SourceUpdated {
		t.Errorf("unexpected latest record: %+v", latest)
	}

	if _, err := store.LatestForPath(ctx, "acme/shop", "compose.yaml"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecordsAreAppendOnly(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	rec := testRecord("Dockerfile", time.Now())
	if err := store.RecordApply(ctx, rec); err != nil {
		t.Fatalf("failed to record: %v", err)
	}

	if _, err := store.db.ExecContext(ctx, "UPDATE apply_records SET content = 'x' WHERE id = ?", rec.ID); err == nil {
		t.Error("expected update to be rejected")
	}
	if _, err := store.db.ExecContext(ctx, "DELETE FROM apply_records WHERE id = ?", rec.ID); err == nil {
		t.Error("expected delete to be rejected")
	}
}

func TestFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	store, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := store.RecordApply(ctx, testRecord("Dockerfile", time.Now())); err != nil {
		t.Fatalf("failed to record: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	reopened, err := Open(ctx, Config{Path: path})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer reopened.Close()

	records, err := reopened.ListRecords(ctx, RecordFilter{Repo: "acme/shop"})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 persisted record, got %d", len(records))
	}
}
