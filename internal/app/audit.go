package app

import (
	"context"
	"time"

	"lexrelay/internal/store"
)

// audit appends an event row. accountID may be empty for platform-level
// events. Failures are logged, never surfaced: the triggering operation has
// already committed.
func (s *Service) audit(session Session, eventType, entityType, entityID, accountID string, payload map[string]any) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var account *string
	if accountID != "" {
		id := accountID
		account = &id
	}
	err := s.store.InsertAuditLog(ctx, store.AuditLog{
		EventType:  eventType,
		ActorID:    session.UserID,
		ActorName:  session.UserName,
		AccountID:  account,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		s.logger.Warn("insert audit log", "event", eventType, "entity", entityID, "error", err)
	}
}
