package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Logger          zerolog.Logger
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a fresh database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "module-store").Logger(),
	}, nil
}

// dsn builds the modernc connection string with per-connection pragmas.
func (s *SQLiteStore) dsn() string {
	if s.cfg.Path == ":memory:" {
		return "file::memory:?_pragma=foreign_keys(1)"
	}
	return fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)
}

// Init initializes the database connection and enables WAL mode.
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
	s.logger.Debug().Str("path", s.cfg.Path).Msg("Module store opened")
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

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// FindByPath returns the module stored at path in collection, or (nil, nil)
// if there is none.
func (s *SQLiteStore) FindByPath(ctx context.Context, collection, path string) (*ModuleRecord, error) {
	query := `
		SELECT collection, path, content, revision, created_at, updated_at
		FROM modules
		WHERE collection = ? AND path = ?
	`

	rec := &ModuleRecord{}
	err := s.db.QueryRowContext(ctx, query, collection, path).Scan(
		&rec.Collection,
		&rec.Path,
		&rec.Content,
		&rec.Revision,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find module %s in %s: %w", path, collection, err)
	}

	return rec, nil
}

// PutModule creates or replaces the module at path. The stored revision is
// taken from the collection's revision counter, so it grows monotonically
// across every write to the collection.
func (s *SQLiteStore) PutModule(ctx context.Context, collection, path string, content *string) (*ModuleRecord, error) {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	revision, err := bumpRevision(ctx, tx, collection)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	upsert := `
		INSERT INTO modules (collection, path, content, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, path) DO UPDATE SET
			content = excluded.content,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert, collection, path, content, revision, now, now); err != nil {
		return nil, fmt.Errorf("failed to put module: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit module: %w", err)
	}

	s.logger.Debug().
		Str("collection", collection).
		Str("path", path).
		Int64("revision", revision).
		Msg("Module stored")

	return s.FindByPath(ctx, collection, path)
}

// DeleteModule removes the module at path.
func (s *SQLiteStore) DeleteModule(ctx context.Context, collection, path string) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `DELETE FROM modules WHERE collection = ? AND path = ?`, collection, path)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("module %s in %s: %w", path, collection, ErrNotFound)
	}

	if _, err := bumpRevision(ctx, tx, collection); err != nil {
		return err
	}

	return tx.Commit()
}

// ListModules lists the modules of a collection ordered by path.
func (s *SQLiteStore) ListModules(ctx context.Context, collection string, limit, offset int) ([]*ModuleRecord, error) {
	query := `
		SELECT collection, path, content, revision, created_at, updated_at
		FROM modules
		WHERE collection = ?
		ORDER BY path
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, collection, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list modules: %w", err)
	}
	defer rows.Close()

	records := []*ModuleRecord{}
	for rows.Next() {
		rec := &ModuleRecord{}
		err := rows.Scan(
			&rec.Collection,
			&rec.Path,
			&rec.Content,
			&rec.Revision,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan module: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating modules: %w", err)
	}

	return records, nil
}

// GetCollection returns a collection with its module count.
func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	query := `
		SELECT c.name, c.revision, COUNT(m.path), c.created_at, c.updated_at
		FROM collections c
		LEFT JOIN modules m ON m.collection = c.name
		WHERE c.name = ?
		GROUP BY c.name
	`

	c := &Collection{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(&c.Name, &c.Revision, &c.Modules, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("collection %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}

	return c, nil
}

// ListCollections lists every collection.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]*Collection, error) {
	query := `
		SELECT c.name, c.revision, COUNT(m.path), c.created_at, c.updated_at
		FROM collections c
		LEFT JOIN modules m ON m.collection = c.name
		GROUP BY c.name
		ORDER BY c.name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	collections := []*Collection{}
	for rows.Next() {
		c := &Collection{}
		if err := rows.Scan(&c.Name, &c.Revision, &c.Modules, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating collections: %w", err)
	}

	return collections, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// bumpRevision increments the collection revision, creating the collection
// on first use, and returns the new value.
func bumpRevision(ctx context.Context, tx *sql.Tx, collection string) (int64, error) {
	now := time.Now().UTC()
	upsert := `
		INSERT INTO collections (name, revision, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			revision = revision + 1,
			updated_at = excluded.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert, collection, now, now); err != nil {
		return 0, fmt.Errorf("failed to bump revision of %s: %w", collection, err)
	}

	var revision int64
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM collections WHERE name = ?`, collection).Scan(&revision); err != nil {
		return 0, fmt.Errorf("failed to read revision of %s: %w", collection, err)
	}

	return revision, nil
}
