package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	"github.com/stackforge/stackforge/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// ErrRecordNotFound is returned when a ledger lookup matches nothing.
var ErrRecordNotFound = errors.New("apply record not found")

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	// every connection to :memory: would see its own empty database
	if cfg.Path == MemoryPath {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Open creates, initializes and migrates a store in one step.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) dsn() string {
	pragmas := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
	}
	if s.path != MemoryPath {
		pragmas = append(pragmas, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return "file:" + s.path + "?" + strings.Join(pragmas, "&")
}

// Init opens the database connection and enables WAL mode for file databases.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordApply appends an apply record. A missing ID or timestamp is filled in.
func (s *SQLiteStore) RecordApply(ctx context.Context, record *engine.ApplyRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	if record == nil {
		return fmt.Errorf("apply record is required")
	}
	if record.Repo == "" || record.Path == "" || record.Artifact == "" {
		return fmt.Errorf("apply record needs repo, path and artifact")
	}
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO apply_records (id, repo, branch, artifact, service_id, path, content, source, mode, strategy, commit_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		record.ID,
		record.Repo,
		record.Branch,
		record.Artifact,
		record.ServiceID,
		record.Path,
		record.Content,
		record.Source,
		record.Mode,
		record.Strategy,
		record.CommitHash,
		record.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record apply: %w", err)
	}

	return nil
}

const recordColumns = `id, repo, branch, artifact, service_id, path, content, source, mode, strategy, commit_hash, created_at`

// GetRecord retrieves a record by ID
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*engine.ApplyRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM apply_records WHERE id = ?`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return record, nil
}

// LatestForPath returns the newest record for path in repo.
func (s *SQLiteStore) LatestForPath(ctx context.Context, repo, path string) (*engine.ApplyRecord, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM apply_records
		WHERE repo = ? AND path = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, repo, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", repo, path, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest record: %w", err)
	}
	return record, nil
}

// ListRecords lists records with optional filters and pagination, newest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]*engine.ApplyRecord, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	query := `
		SELECT ` + recordColumns + `
		FROM apply_records
		WHERE (? = '' OR repo = ?)
		  AND (? = '' OR artifact = ?)
		  AND (? = '' OR service_id = ?)
		  AND (? = '' OR path = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?
	`

	artifact := string(filter.Artifact)
	rows, err := s.db.QueryContext(ctx, query,
		filter.Repo, filter.Repo,
		artifact, artifact,
		filter.ServiceID, filter.ServiceID,
		filter.Path, filter.Path,
		filter.Limit, filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	records := []*engine.ApplyRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*engine.ApplyRecord, error) {
	record := &engine.ApplyRecord{}
	err := row.Scan(
		&record.ID,
		&record.Repo,
		&record.Branch,
		&record.Artifact,
		&record.ServiceID,
		&record.Path,
		&record.Content,
		&record.Source,
		&record.Mode,
		&record.Strategy,
		&record.CommitHash,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return record, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

var _ Store = (*SQLiteStore)(nil)
