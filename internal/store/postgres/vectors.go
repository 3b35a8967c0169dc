package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jun/docrag/backend/internal/model"
	"github.com/pgvector/pgvector-go"
)

// VectorRepo implements store.VectorRepository on the document_vectors table.
type VectorRepo struct {
	db *sql.DB
}

func (r *VectorRepo) InsertChunk(ctx context.Context, c model.DocumentChunk) error {
	const q = `
		INSERT INTO document_vectors
			(text, embedding, source, source_url, source_type, chunk_index, total_chunks)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7)
	`
	_, err := r.db.ExecContext(ctx, q,
		c.Text, pgvector.NewVector(c.Embedding), c.Source, c.SourceURL, c.SourceType, c.ChunkIndex, c.TotalChunks)
	if err != nil {
		return fmt.Errorf("insert chunk: %w", err)
	}
	return nil
}

func (r *VectorRepo) FindSimilar(ctx context.Context, embedding []float32, k int) ([]model.SimilarDocument, error) {
	const q = `
		SELECT text, source, COALESCE(source_url, ''), COALESCE(source_type, ''),
		       chunk_index, total_chunks, embedding <=> $1 AS distance
		FROM document_vectors
		ORDER BY embedding <=> $1
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, q, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("find similar: %w", err)
	}
	defer rows.Close()

	var out []model.SimilarDocument
	for rows.Next() {
		var d model.SimilarDocument
		if err := rows.Scan(&d.Text, &d.Source, &d.SourceURL, &d.SourceType, &d.ChunkIndex, &d.TotalChunks, &d.Distance); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *VectorRepo) GetAllChunksBySource(ctx context.Context, source string) ([]model.DocumentChunk, error) {
	const q = `
		SELECT text, embedding, source, COALESCE(source_url, ''), COALESCE(source_type, ''),
		       chunk_index, total_chunks
		FROM document_vectors
		WHERE source = $1
		ORDER BY chunk_index ASC
	`
	rows, err := r.db.QueryContext(ctx, q, source)
	if err != nil {
		return nil, fmt.Errorf("chunks by source: %w", err)
	}
	defer rows.Close()

	var out []model.DocumentChunk
	for rows.Next() {
		var (
			c   model.DocumentChunk
			emb pgvector.Vector
		)
		if err := rows.Scan(&c.Text, &emb, &c.Source, &c.SourceURL, &c.SourceType, &c.ChunkIndex, &c.TotalChunks); err != nil {
			return nil, err
		}
		c.Embedding = emb.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *VectorRepo) DeleteBySource(ctx context.Context, source string) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM document_vectors WHERE source = $1`, source)
	if err != nil {
		return 0, fmt.Errorf("delete by source: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *VectorRepo) CountAll(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

func (r *VectorRepo) ClearAll(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE document_vectors`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	return nil
}
