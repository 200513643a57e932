package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

func (s *PostgresStore) ListDocuments(ctx context.Context, accountID string) ([]Document, error) {
	query := `
		SELECT id, account_id, title, summary, body, citation, jurisdiction, doc_type,
			source_url, source_key, status, ingest_status, ingest_error,
			created_by, updated_by, created_at, updated_at
		FROM documents
	`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id=$1`
		args = append(args, accountID)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		var item Document
		if err := rows.Scan(
			&item.ID, &item.AccountID, &item.Title, &item.Summary, &item.Body, &item.Citation,
			&item.Jurisdiction, &item.DocType, &item.SourceURL, &item.SourceKey, &item.Status,
			&item.IngestStatus, &item.IngestError, &item.CreatedBy, &item.UpdatedBy,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, documentID string) (Document, error) {
	var item Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, title, summary, body, citation, jurisdiction, doc_type,
			source_url, source_key, status, ingest_status, ingest_error,
			created_by, updated_by, created_at, updated_at
		FROM documents
		WHERE id=$1
	`, documentID).Scan(
		&item.ID, &item.AccountID, &item.Title, &item.Summary, &item.Body, &item.Citation,
		&item.Jurisdiction, &item.DocType, &item.SourceURL, &item.SourceKey, &item.Status,
		&item.IngestStatus, &item.IngestError, &item.CreatedBy, &item.UpdatedBy,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, account_id, title, summary, body, citation, jurisdiction,
			doc_type, source_url, source_key, status, ingest_status, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, item.ID, item.AccountID, item.Title, item.Summary, item.Body, item.Citation,
		item.Jurisdiction, item.DocType, item.SourceURL, item.SourceKey, item.Status,
		item.IngestStatus, item.CreatedBy, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocument(ctx context.Context, item Document) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title=$2, summary=$3, body=$4, citation=$5, jurisdiction=$6, doc_type=$7,
			source_url=$8, updated_by=$9, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Summary, item.Body, item.Citation, item.Jurisdiction,
		item.DocType, item.SourceURL, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateDocumentStatus(ctx context.Context, documentID, status, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET status=$2, updated_by=$3, updated_at=NOW() WHERE id=$1
	`, documentID, status, updatedBy)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateDocumentSource(ctx context.Context, documentID, sourceKey, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET source_key=$2, ingest_status='PENDING', ingest_error='', updated_by=$3, updated_at=NOW() WHERE id=$1
	`, documentID, sourceKey, updatedBy)
	if err != nil {
		return fmt.Errorf("update document source: %w", err)
	}
	return requireRow(res)
}

// ClaimDocumentIngest flips the document to PROCESSING unless a run is
// already in flight; the loser sees sql.ErrNoRows.
func (s *PostgresStore) ClaimDocumentIngest(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET ingest_status='PROCESSING', ingest_error='', updated_at=NOW()
		WHERE id=$1 AND ingest_status<>'PROCESSING'
	`, documentID)
	if err != nil {
		return fmt.Errorf("claim document ingest: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateDocumentIngest(ctx context.Context, documentID, ingestStatus, ingestError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET ingest_status=$2, ingest_error=$3, updated_at=NOW() WHERE id=$1
	`, documentID, ingestStatus, ingestError)
	if err != nil {
		return fmt.Errorf("update document ingest: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateDocumentBody(ctx context.Context, documentID, body string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET body=$2, updated_at=NOW() WHERE id=$1
	`, documentID, body)
	if err != nil {
		return fmt.Errorf("update document body: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, documentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(res)
}

// ReplaceDocumentChunks swaps the chunk set atomically; a reingest never
// leaves a document with a partial mix of old and new chunks.
func (s *PostgresStore) ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []DocumentChunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE document_id=$1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_chunks (id, document_id, chunk_index, text, embedding)
			VALUES ($1, $2, $3, $4, $5)
		`, chunk.ID, chunk.DocumentID, chunk.ChunkIndex, chunk.Text, pgvector.NewVector(chunk.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d: %w", chunk.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk tx: %w", err)
	}
	return nil
}

// SearchChunksByEmbedding runs cosine nearest-neighbour over READY chunks.
// accountID empty means platform-wide (super admin).
func (s *PostgresStore) SearchChunksByEmbedding(ctx context.Context, accountID string, embedding []float32, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
		SELECT c.document_id, d.title, c.chunk_index, c.text, 1 - (c.embedding <=> $1) AS score
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.ingest_status='READY'
	`
	args := []any{pgvector.NewVector(embedding)}
	if accountID != "" {
		query += ` AND d.account_id=$2`
		args = append(args, accountID)
	}
	query += fmt.Sprintf(` ORDER BY c.embedding <=> $1 LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]ChunkHit, 0)
	for rows.Next() {
		var hit ChunkHit
		if err := rows.Scan(&hit.DocumentID, &hit.DocumentTitle, &hit.ChunkIndex, &hit.Text, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan chunk hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk hits: %w", err)
	}
	return hits, nil
}

func (s *PostgresStore) CountDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document_chunks WHERE document_id=$1`, documentID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return count, nil
}
