package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/custodia-labs/sercha-scope/internal/core/domain"
	"github.com/custodia-labs/sercha-scope/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-scope/internal/index"
)

var _ driven.IndexStore = (*IndexStore)(nil)

// IndexStore keeps the whole-pool snapshot in pool_index_meta and
// pool_index_chunks.
type IndexStore struct {
	db *DB
}

// NewIndexStore creates a new IndexStore
func NewIndexStore(db *DB) *IndexStore {
	return &IndexStore{db: db}
}

// Exists reports whether a snapshot has been saved.
func (s *IndexStore) Exists(ctx context.Context) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM pool_index_meta WHERE id = 1)`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check index: %w", err)
	}
	return exists, nil
}

// Load reads the snapshot in chunk order.
func (s *IndexStore) Load(ctx context.Context) (*domain.IndexSnapshot, error) {
	snap := &domain.IndexSnapshot{}
	err := s.db.QueryRowContext(ctx, `
		SELECT model, dimensions, documents, built_at
		FROM pool_index_meta WHERE id = 1
	`).Scan(&snap.Model, &snap.Dimensions, &snap.Documents, &snap.BuiltAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load index meta: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT source_path, position, start_offset, end_offset, text, embedding
		FROM pool_index_chunks ORDER BY ordinal
	`)
	if err != nil {
		return nil, fmt.Errorf("load index chunks: %w", err)
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

// Save replaces the snapshot atomically.
func (s *IndexStore) Save(ctx context.Context, snap *domain.IndexSnapshot) error {
	if snap.Embeddings != nil && len(snap.Embeddings) != len(snap.Chunks) {
		return fmt.Errorf("%d chunks, %d embeddings: %w", len(snap.Chunks), len(snap.Embeddings), index.ErrDimensionMismatch)
	}

	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_index_chunks`); err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pool_index_meta (id, model, dimensions, documents, built_at)
			VALUES (1, $1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				model = EXCLUDED.model,
				dimensions = EXCLUDED.dimensions,
				documents = EXCLUDED.documents,
				built_at = EXCLUDED.built_at
		`, snap.Model, snap.Dimensions, snap.Documents, snap.BuiltAt); err != nil {
			return fmt.Errorf("save index meta: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pool_index_chunks (ordinal, source_path, position, start_offset, end_offset, text, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range snap.Chunks {
			var blob []byte
			if snap.Embeddings != nil {
				blob = index.EncodeVector(snap.Embeddings[i])
			}
			if _, err := stmt.ExecContext(ctx, i, c.SourcePath, c.Position, c.StartOffset, c.EndOffset, c.Text, blob); err != nil {
				return fmt.Errorf("save chunk %d: %w", i, err)
			}
		}
		return nil
	})
}

// Delete removes the snapshot.
func (s *IndexStore) Delete(ctx context.Context) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM pool_index_chunks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM pool_index_meta`)
		return err
	})
}

// Close is a no-op; the DB is shared with the lock and closed by its owner.
func (s *IndexStore) Close() error {
	return nil
}
