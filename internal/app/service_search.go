package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"lexrelay/internal/rbac"
	"lexrelay/internal/search"
	"lexrelay/internal/store"
)

type SearchInput struct {
	Query        string
	Mode         string
	Jurisdiction string
	DocType      string
	Limit        int
	Offset       int
}

// Search runs the hybrid query and logs it. The caller's account bounds the
// result set; the super admin searches platform-wide.
func (s *Service) Search(ctx context.Context, session Session, input SearchInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	text := strings.TrimSpace(input.Query)
	if text == "" {
		return nil, errValidation("q is required")
	}

	started := time.Now()
	response := s.search.Search(ctx, search.Query{
		Text:         text,
		Mode:         search.ParseMode(input.Mode),
		AccountID:    s.accountScope(session),
		Jurisdiction: input.Jurisdiction,
		DocType:      input.DocType,
		Limit:        input.Limit,
		Offset:       input.Offset,
	})
	durationMS := time.Since(started).Milliseconds()

	s.logSearch(session, text, string(response.Mode), len(response.Results), durationMS)
	return map[string]any{
		"results": response.Results,
		"total":   response.Total,
		"query":   response.Query,
		"mode":    response.Mode,
	}, nil
}

func (s *Service) logSearch(session Session, query, mode string, resultCount int, durationMS int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var accountID *string
	if session.AccountID != "" {
		id := session.AccountID
		accountID = &id
	}
	err := s.store.InsertSearchQuery(ctx, store.SearchQueryLog{
		AccountID:   accountID,
		UserID:      session.UserID,
		Query:       query,
		Mode:        mode,
		ResultCount: resultCount,
		DurationMS:  durationMS,
	})
	if err != nil {
		s.logger.Warn("log search query", "error", err)
	}
}

// AskAssistant answers a question from the account's READY document chunks.
func (s *Service) AskAssistant(ctx context.Context, session Session, question string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	if s.assistant == nil || !s.assistant.Available() {
		return nil, errAssistantUnavailable()
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errValidation("question is required")
	}

	answer, err := s.assistant.Ask(ctx, s.accountScope(session), question)
	if err != nil {
		return nil, err
	}

	s.audit(session, "assistant.asked", "assistant", "", session.AccountID, map[string]any{
		"question":  question,
		"citations": len(answer.Citations),
	})
	return map[string]any{
		"answer":    answer.Answer,
		"citations": answer.Citations,
	}, nil
}

func errAssistantUnavailable() error {
	return domainError(http.StatusServiceUnavailable, "ASSISTANT_UNAVAILABLE", "Assistant is not configured", nil)
}

func (s *Service) ListAuditLogs(ctx context.Context, session Session, filter store.AuditFilter) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	if session.Role != string(rbac.RoleSuperAdmin) {
		filter.AccountID = session.AccountID
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	logs, err := s.store.ListAuditLogs(ctx, filter)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(logs))
	for _, entry := range logs {
		item := map[string]any{
			"id":         entry.ID,
			"eventType":  entry.EventType,
			"actorId":    entry.ActorID,
			"actorName":  entry.ActorName,
			"entityType": entry.EntityType,
			"entityId":   entry.EntityID,
			"payload":    entry.Payload,
			"createdAt":  entry.CreatedAt,
		}
		if entry.AccountID != nil {
			item["accountId"] = *entry.AccountID
		}
		items = append(items, item)
	}
	return map[string]any{"logs": items}, nil
}
