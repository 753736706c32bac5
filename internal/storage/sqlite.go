package storage

import (
	"context"
	"database/sql"
	"fmt"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite implementation of Repository.
type Store struct {
	db     *sql.DB
	path   string
	logger logger.Logger
}

// Compile-time check that Store implements Repository
var _ Repository = (*Store)(nil)

// Open opens (or creates) the database at path and applies pending
// migrations. Use ":memory:" only in tests; every run happens on a single
// connection so an in-memory database stays consistent.
func Open(ctx context.Context, path string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	log = log.WithComponent("storage")

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=10000")
	if err != nil {
		return nil, errors.StorageError(errors.CodeStoreFailure, "open database", err).
			WithContext("path", path)
	}
	db.SetMaxOpenConns(1)

	// Enable foreign key constraints (SQLite-specific)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, errors.StorageError(errors.CodeStoreFailure, "enable foreign keys", err).
			WithContext("path", path)
	}

	s := &Store{db: db, path: path, logger: log}

	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.WithField("path", path).Debug("Database ready")
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database location the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) withTx(ctx context.Context, operation string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StorageError(errors.CodeStoreFailure, operation, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return errors.WrapIfNeeded(err, errors.CategoryStorage, errors.CodeStoreFailure, operation)
	}
	if err := tx.Commit(); err != nil {
		return errors.StorageError(errors.CodeStoreFailure, operation, err)
	}
	return nil
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	b := make([]byte, 0, 2*n)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func countRows(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
