// Package store persists stream cache entries in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	"github.com/karthikraju391/go-nats-chat-stream/apperrors"
	"github.com/karthikraju391/go-nats-chat-stream/migrations"

	_ "modernc.org/sqlite" //revive:disable:blank-imports
)

// SQLite implements cache.Persister on a single table.
type SQLite struct {
	db  *sqlx.DB
	log *slog.Logger
}

// Open connects to the database at path and applies migrations.
func Open(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to connect to database", err)
	}

	// SQLite doesn't support concurrent writes
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := applyMigrations(db.DB, log); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("Error closing database after migration failure", "error", closeErr)
		}
		return nil, apperrors.NewStorageError("failed to apply migrations", err)
	}

	log.Info("Stream cache database ready", "path", path)
	return &SQLite{db: db, log: log}, nil
}

func applyMigrations(db *sql.DB, log *slog.Logger) error {
	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to create embed source driver: %w", err)
	}
	dbDriver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := migrator.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Debug("No stream cache migrations to apply")
			return nil
		}
		return err
	}
	log.Info("Stream cache migrations applied")
	return nil
}

// Load returns the stored value for key.
func (s *SQLite) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM stream_cache WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewStorageError("load cache entry", err)
	}
	return value, true, nil
}

// Save upserts the value for key.
func (s *SQLite) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stream_cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		return apperrors.NewStorageError("save cache entry", err)
	}
	return nil
}

// Delete removes key.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM stream_cache WHERE key = ?`, key); err != nil {
		return apperrors.NewStorageError("delete cache entry", err)
	}
	return nil
}

// Prune drops entries not updated since before.
func (s *SQLite) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM stream_cache WHERE updated_at < ?`, before.UTC())
	if err != nil {
		return 0, apperrors.NewStorageError("prune cache entries", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
