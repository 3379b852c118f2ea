// Package store provides the client's local persistence: cached item
// text for offline reads, the pending-progress outbox rows, and the
// single now-playing session row. Everything lives in one SQLite
// database so process death never loses position state.
package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zstd"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is a handle to the local database.
type Store struct {
	db     *sql.DB
	logger *log.Logger

	// Cached article text is compressed at rest; long-form items are
	// large and extremely compressible.
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Open opens (creating if needed) the local database at path and runs
// schema migration. It configures WAL mode so playback-lane reads never
// block background writes.
func Open(path string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}
	logger.Debug("opened local store", "path", path)

	return &Store{db: db, logger: logger, encoder: encoder, decoder: decoder}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.encoder.Close()
	s.decoder.Close()
	return s.db.Close()
}

func (s *Store) compress(text string) []byte {
	return s.encoder.EncodeAll([]byte(text), nil)
}

func (s *Store) decompress(blob []byte) (string, error) {
	raw, err := s.decoder.DecodeAll(blob, nil)
	if err != nil {
		return "", fmt.Errorf("decompress cached text: %w", err)
	}
	return string(raw), nil
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
