package storage

import (
	"context"
	"embed"
	"sync"

	"ledger-matching-service/pkg/errors"
	"ledger-matching-service/pkg/logger"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// goose keeps its dialect, filesystem and logger in package state.
var gooseMu sync.Mutex

// migrate applies every pending schema migration.
func (s *Store) migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(logger.NewGooseLogger(s.logger))

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.StorageError(errors.CodeMigrationFail, "set migration dialect", err)
	}

	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return errors.StorageError(errors.CodeMigrationFail, "apply migrations", err).
			WithContext("path", s.path)
	}
	return nil
}

// SchemaVersion returns the latest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (int64, error) {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, errors.StorageError(errors.CodeMigrationFail, "set migration dialect", err)
	}
	version, err := goose.GetDBVersionContext(ctx, s.db)
	if err != nil {
		return 0, errors.StorageError(errors.CodeStoreFailure, "read schema version", err)
	}
	return version, nil
}
