package app

import (
	"net/http"
	"strconv"
	"strings"

	"lexrelay/internal/store"
)

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	input := SearchInput{
		Query:        strings.TrimSpace(query.Get("q")),
		Mode:         strings.TrimSpace(query.Get("mode")),
		Jurisdiction: strings.TrimSpace(query.Get("jurisdiction")),
		DocType:      strings.TrimSpace(query.Get("type")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		input.Limit = parsed
	}
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		input.Offset = parsed
	}

	payload, err := s.service.Search(r.Context(), session, input)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAssistantAsk(w http.ResponseWriter, r *http.Request, session Session) {
	var body struct {
		Question string `json:"question"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.AskAssistant(r.Context(), session, body.Question)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleAuditLogs(w http.ResponseWriter, r *http.Request, session Session) {
	query := r.URL.Query()
	filter := store.AuditFilter{
		EntityType: strings.TrimSpace(query.Get("entityType")),
		EntityID:   strings.TrimSpace(query.Get("entityId")),
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}
	// The super admin may narrow to one account; members are pinned to
	// their own in the service layer.
	filter.AccountID = strings.TrimSpace(query.Get("accountId"))

	payload, err := s.service.ListAuditLogs(r.Context(), session, filter)
	if err != nil {
		writeMapped(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
