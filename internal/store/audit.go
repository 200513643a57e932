package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) InsertAuditLog(ctx context.Context, item AuditLog) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (event_type, actor_id, actor_name, account_id, entity_type, entity_id, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.EventType, item.ActorID, item.ActorName, item.AccountID, item.EntityType, item.EntityID, payload)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

type AuditFilter struct {
	AccountID  string // empty for platform-wide
	EntityType string
	EntityID   string
	Limit      int
}

func (s *PostgresStore) ListAuditLogs(ctx context.Context, filter AuditFilter) ([]AuditLog, error) {
	query := `
		SELECT id, event_type, actor_id, actor_name, account_id, entity_type, entity_id, payload, created_at
		FROM audit_logs
		WHERE 1=1
	`
	args := []any{}
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		query += fmt.Sprintf(" AND account_id=$%d", len(args))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		query += fmt.Sprintf(" AND entity_type=$%d", len(args))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		query += fmt.Sprintf(" AND entity_id=$%d", len(args))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	items := make([]AuditLog, 0)
	for rows.Next() {
		var item AuditLog
		var payload []byte
		if err := rows.Scan(&item.ID, &item.EventType, &item.ActorID, &item.ActorName, &item.AccountID, &item.EntityType, &item.EntityID, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &item.Payload)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertSearchQuery(ctx context.Context, item SearchQueryLog) error {
	var accountID sql.NullString
	if item.AccountID != nil && *item.AccountID != "" {
		accountID = sql.NullString{String: *item.AccountID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_queries (account_id, user_id, query, mode, result_count, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, accountID, item.UserID, item.Query, item.Mode, item.ResultCount, item.DurationMS)
	if err != nil {
		return fmt.Errorf("insert search query: %w", err)
	}
	return nil
}
