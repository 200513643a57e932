package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements the lexical arm using PostgreSQL full-text search as a
// fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search runs plainto_tsquery with ts_rank over documents, with ts_headline
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	where := "d.fts @@ plainto_tsquery('english', $1)"
	args := []any{q.Text}
	if q.AccountID != "" {
		args = append(args, q.AccountID)
		where += fmt.Sprintf(" AND d.account_id = $%d", len(args))
	}
	if q.Jurisdiction != "" {
		args = append(args, q.Jurisdiction)
		where += fmt.Sprintf(" AND d.jurisdiction = $%d", len(args))
	}
	if q.DocType != "" {
		args = append(args, q.DocType)
		where += fmt.Sprintf(" AND d.doc_type = $%d", len(args))
	}

	ctx := context.Background()

	countSQL := fmt.Sprintf(`SELECT count(*) FROM documents d WHERE %s`, where)
	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT d.id, d.title,
			ts_headline('english', coalesce(NULLIF(d.summary, ''), d.body), plainto_tsquery('english', $1), 'MaxFragments=1,MaxWords=30') AS snippet,
			d.jurisdiction, d.doc_type, d.status,
			ts_rank(d.fts, plainto_tsquery('english', $1)) AS rank
		FROM documents d
		WHERE %s
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, where, limit, offset)

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Title, &r.Snippet, &r.Jurisdiction, &r.DocType, &r.Status, &r.Score); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all documents for full reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]DocumentRecord, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, account_id, title, summary, citation, body, jurisdiction, doc_type, status
		FROM documents
	`)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	defer rows.Close()

	documents := make([]DocumentRecord, 0)
	for rows.Next() {
		var d DocumentRecord
		if err := rows.Scan(&d.ID, &d.AccountID, &d.Title, &d.Summary, &d.Citation, &d.Body, &d.Jurisdiction, &d.DocType, &d.Status); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		documents = append(documents, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return documents, nil
}
