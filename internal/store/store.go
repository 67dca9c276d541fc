// Package store is the persistence gateway for Kiwi's CRM entities.
// It wraps a GORM connection to SQLite and exposes typed CRUD operations
// over users, leads, tasks, and notes. Every lookup is scoped by the
// owning user so that callers cannot reach another account's rows.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a referenced entity does not exist or is
// not owned by the calling user. The two cases are deliberately not
// distinguished: revealing that a row exists under another account would
// leak ownership information.
var ErrNotFound = errors.New("not found")

// Store manages CRM entity persistence.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (creating if necessary) the SQLite database at path and
// runs schema migrations. Use ":memory:" for an ephemeral database.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}

	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, logger: log}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	return s.db.AutoMigrate(
		&User{},
		&Lead{},
		&Task{},
		&Note{},
	)
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// translate maps GORM's record-not-found to the package sentinel so
// callers can use errors.Is(err, ErrNotFound) without importing gorm.
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
