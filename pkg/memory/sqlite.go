package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const defaultStoreID = "default"

// SQLiteBackend keeps the document as a single row keyed by store id.
// Each save is one upsert statement, so readers see either the old or the new document.
type SQLiteBackend struct {
	db      *sql.DB
	storeID string
}

// NewSQLiteBackend opens (or creates) the database at path.
func NewSQLiteBackend(path, storeID string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if storeID == "" {
		storeID = defaultStoreID
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS memory_documents (
			store_id TEXT PRIMARY KEY,
			document TEXT NOT NULL,
			saved_at INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, storeID: storeID}, nil
}

func (b *SQLiteBackend) Name() string { return "sqlite" }

func (b *SQLiteBackend) Load(ctx context.Context) ([]byte, error) {
	var document string
	err := b.db.QueryRowContext(ctx,
		"SELECT document FROM memory_documents WHERE store_id = ?", b.storeID,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load memory document: %w", err)
	}
	return []byte(document), nil
}

func (b *SQLiteBackend) Save(ctx context.Context, document []byte) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO memory_documents (store_id, document, saved_at)
		VALUES (?, ?, ?)
		ON CONFLICT(store_id) DO UPDATE SET
			document = excluded.document,
			saved_at = excluded.saved_at
	`, b.storeID, string(document), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save memory document: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
