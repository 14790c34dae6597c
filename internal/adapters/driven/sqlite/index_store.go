// Package sqlite persists the whole-pool index as a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/index"
)

var _ driven.IndexStore = (*IndexStore)(nil)

// FileName is the snapshot file inside the index directory. Its presence
// means a snapshot exists.
const FileName = "index.db"

const schema = `
CREATE TABLE meta (
	model      TEXT NOT NULL,
	dimensions INTEGER NOT NULL,
	documents  INTEGER NOT NULL,
	built_at   TEXT NOT NULL
);
CREATE TABLE chunks (
	ordinal      INTEGER PRIMARY KEY,
	source_path  TEXT NOT NULL,
	position     INTEGER NOT NULL,
	start_offset INTEGER NOT NULL,
	end_offset   INTEGER NOT NULL,
	text         TEXT NOT NULL,
	embedding    BLOB
);
`

// IndexStore writes each snapshot to a fresh file and renames it over
// index.db, so a reader opens either the old or the new snapshot.
type IndexStore struct {
	dir string
	mu  sync.Mutex
}

// NewIndexStore creates the index directory if needed.
func NewIndexStore(dir string) (*IndexStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	return &IndexStore{dir: dir}, nil
}

// Path returns the snapshot file path.
func (s *IndexStore) Path() string {
	return filepath.Join(s.dir, FileName)
}

// Exists reports whether index.db is present.
func (s *IndexStore) Exists(ctx context.Context) (bool, error) {
	_, err := os.Stat(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat index: %w", err)
	}
	return true, nil
}

// Load reads index.db.
func (s *IndexStore) Load(ctx context.Context) (*domain.IndexSnapshot, error) {
	ok, err := s.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrNotFound
	}

	db, err := sql.Open("sqlite3", "file:"+s.Path()+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer db.Close()

	snap := &domain.IndexSnapshot{}
	var builtAt string
	err = db.QueryRowContext(ctx, `SELECT model, dimensions, documents, built_at FROM meta LIMIT 1`).
		Scan(&snap.Model, &snap.Dimensions, &snap.Documents, &builtAt)
	if err != nil {
		return nil, fmt.Errorf("read index meta: %w", err)
	}
	if snap.BuiltAt, err = time.Parse(time.RFC3339Nano, builtAt); err != nil {
		return nil, fmt.Errorf("parse built_at: %w", err)
	}

	rows, err := db.QueryContext(ctx, `
		SELECT source_path, position, start_offset, end_offset, text, embedding
		FROM chunks ORDER BY ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("read chunks: %w", err)
	}
	defer rows.Close()

	hasVectors := true
	for rows.Next() {
		c := &domain.Chunk{}
		var blob []byte
		if err := rows.Scan(&c.SourcePath, &c.Position, &c.StartOffset, &c.EndOffset, &c.Text, &blob); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		vec, err := index.DecodeVector(blob)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			hasVectors = false
		}
		snap.Chunks = append(snap.Chunks, c)
		snap.Embeddings = append(snap.Embeddings, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	if !hasVectors {
		snap.Embeddings = nil
	}
	return snap, nil
}

// Save writes snap to a temporary file and renames it over index.db.
func (s *IndexStore) Save(ctx context.Context, snap *domain.IndexSnapshot) error {
	if snap.Embeddings != nil && len(snap.Embeddings) != len(snap.Chunks) {
		return fmt.Errorf("%d chunks, %d embeddings: %w", len(snap.Chunks), len(snap.Embeddings), index.ErrDimensionMismatch)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".index-*.db")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := writeSnapshot(ctx, tmpPath, snap); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	return nil
}

func writeSnapshot(ctx context.Context, path string, snap *domain.IndexSnapshot) error {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return fmt.Errorf("open temp index: %w", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (model, dimensions, documents, built_at) VALUES (?, ?, ?, ?)`,
		snap.Model, snap.Dimensions, snap.Documents, snap.BuiltAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (ordinal, source_path, position, start_offset, end_offset, text, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, c := range snap.Chunks {
		var blob []byte
		if snap.Embeddings != nil {
			blob = index.EncodeVector(snap.Embeddings[i])
		}
		if _, err := stmt.ExecContext(ctx, i, c.SourcePath, c.Position, c.StartOffset, c.EndOffset, c.Text, blob); err != nil {
			return fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// Delete removes index.db.
func (s *IndexStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete index: %w", err)
	}
	return nil
}

// Close is a no-op; connections are opened per operation.
func (s *IndexStore) Close() error {
	return nil
}
