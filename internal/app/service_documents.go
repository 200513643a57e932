package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"lexrelay/internal/export"
	"lexrelay/internal/gitrepo"
	"lexrelay/internal/rbac"
	"lexrelay/internal/search"
	"lexrelay/internal/store"
	"lexrelay/internal/util"
)

type DocumentInput struct {
	Title        string `json:"title"`
	Summary      string `json:"summary"`
	Body         string `json:"body"`
	Citation     string `json:"citation"`
	Jurisdiction string `json:"jurisdiction"`
	DocType      string `json:"docType"`
	SourceURL    string `json:"sourceUrl"`
	AccountID    string `json:"accountId"`
}

// documentTransition is one edge of the review workflow.
type documentTransition struct {
	from    []string
	to      string
	action  rbac.Action
	message string
	event   string
}

var documentTransitions = map[string]documentTransition{
	"submit":  {from: []string{"DRAFT"}, to: "IN_REVIEW", action: rbac.ActionWrite, message: "Submit for review", event: "document.submitted"},
	"reject":  {from: []string{"IN_REVIEW"}, to: "DRAFT", action: rbac.ActionPublish, message: "Reject review", event: "document.rejected"},
	"publish": {from: []string{"IN_REVIEW"}, to: "PUBLISHED", action: rbac.ActionPublish, message: "Publish document", event: "document.published"},
	"archive": {from: []string{"PUBLISHED"}, to: "ARCHIVED", action: rbac.ActionPublish, message: "Archive document", event: "document.archived"},
	"restore": {from: []string{"ARCHIVED"}, to: "DRAFT", action: rbac.ActionWrite, message: "Restore to draft", event: "document.restored"},
}

func (s *Service) ListDocuments(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	documents, err := s.store.ListDocuments(ctx, s.accountScope(session))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentSummaryPayload(doc))
	}
	return map[string]any{"documents": items}, nil
}

func (s *Service) CreateDocument(ctx context.Context, session Session, input DocumentInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, errForbidden()
	}
	accountID := session.AccountID
	if session.Role == string(rbac.RoleSuperAdmin) {
		accountID = input.AccountID
	}
	if accountID == "" {
		return nil, errValidation("accountId is required")
	}
	input.Title = strings.TrimSpace(input.Title)
	if input.Title == "" {
		return nil, errValidation("title is required")
	}

	doc := store.Document{
		ID:           util.NewID("doc"),
		AccountID:    accountID,
		Title:        input.Title,
		Summary:      input.Summary,
		Body:         input.Body,
		Citation:     input.Citation,
		Jurisdiction: input.Jurisdiction,
		DocType:      input.DocType,
		SourceURL:    input.SourceURL,
		Status:       "DRAFT",
		IngestStatus: "PENDING",
		CreatedBy:    session.UserName,
		UpdatedBy:    session.UserName,
	}
	if err := s.store.InsertDocument(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.git.EnsureDocumentRepo(doc.ID, documentContent(doc), session.UserName); err != nil {
		s.logger.Warn("init document repo", "document", doc.ID, "error", err)
	}
	s.search.IndexDocument(searchRecord(doc))
	s.audit(session, "document.created", "document", doc.ID, accountID, map[string]any{"title": doc.Title})

	created, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(created)}, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(doc)}, nil
}

func (s *Service) UpdateDocument(ctx context.Context, session Session, documentID string, input DocumentInput) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}

	before := documentContent(doc)
	if strings.TrimSpace(input.Title) != "" {
		doc.Title = strings.TrimSpace(input.Title)
	}
	doc.Summary = input.Summary
	doc.Body = input.Body
	doc.Citation = input.Citation
	doc.Jurisdiction = input.Jurisdiction
	doc.DocType = input.DocType
	doc.SourceURL = input.SourceURL
	doc.UpdatedBy = session.UserName

	if err := s.store.UpdateDocument(ctx, doc); err != nil {
		return nil, err
	}

	after := documentContent(doc)
	if gitrepo.HasChanges(before, after) {
		s.commitContent(doc.ID, after, session.UserName, "Update document")
	}
	s.search.IndexDocument(searchRecord(doc))
	s.audit(session, "document.updated", "document", doc.ID, doc.AccountID, map[string]any{
		"changes": gitrepo.DiffFields(before, after),
	})

	updated, err := s.store.GetDocument(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(updated)}, nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) error {
	if !s.Can(session.Role, rbac.ActionPublish) {
		return errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	s.search.DeleteDocument(documentID)
	s.audit(session, "document.deleted", "document", documentID, doc.AccountID, map[string]any{"title": doc.Title})
	return nil
}

// TransitionDocument applies one review-workflow action. Each transition is
// audited and recorded as a marker commit in the document's history.
func (s *Service) TransitionDocument(ctx context.Context, session Session, documentID, action string) (map[string]any, error) {
	transition, ok := documentTransitions[action]
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	if !s.Can(session.Role, transition.action) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}

	allowed := false
	for _, from := range transition.from {
		if doc.Status == from {
			allowed = true
		}
	}
	if !allowed {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION",
			fmt.Sprintf("Document cannot move from %s to %s", doc.Status, transition.to), nil)
	}

	if err := s.store.UpdateDocumentStatus(ctx, documentID, transition.to, session.UserName); err != nil {
		return nil, err
	}

	doc.Status = transition.to
	doc.UpdatedBy = session.UserName
	s.commitContent(doc.ID, documentContent(doc), session.UserName, transition.message)
	s.search.IndexDocument(searchRecord(doc))
	s.audit(session, transition.event, "document", doc.ID, doc.AccountID, map[string]any{
		"from": transition.from,
		"to":   transition.to,
	})

	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(updated)}, nil
}

// AttachSource stores the uploaded source PDF and queues the document for
// re-ingestion.
func (s *Service) AttachSource(ctx context.Context, session Session, documentID, filename string, data []byte) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errValidation("file is required")
	}
	if s.files == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}

	key := doc.ID + "/" + util.NewID("src") + ".pdf"
	if err := s.files.Put(ctx, key, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("store source: %w", err)
	}
	if err := s.store.UpdateDocumentSource(ctx, documentID, key, session.UserName); err != nil {
		return nil, err
	}

	s.audit(session, "document.source_attached", "document", doc.ID, doc.AccountID, map[string]any{
		"sourceKey": key,
		"filename":  filename,
		"bytes":     len(data),
	})
	updated, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"document": documentPayload(updated)}, nil
}

// TriggerIngest runs the chunk/embed pipeline in the background; progress is
// visible on the document's ingestStatus.
func (s *Service) TriggerIngest(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionWrite) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if doc.SourceKey == "" && doc.Body == "" {
		return nil, errValidation("document has no source PDF and no body text to ingest")
	}
	if s.ingest == nil {
		return nil, domainError(http.StatusServiceUnavailable, "INGEST_UNAVAILABLE", "Ingestion is not configured", nil)
	}
	// The claim is a guarded update, so near-simultaneous triggers start a
	// single pipeline.
	if err := s.store.ClaimDocumentIngest(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusConflict, "INGEST_IN_PROGRESS", "Ingestion is already running", nil)
		}
		return nil, err
	}

	s.audit(session, "document.ingest_triggered", "document", doc.ID, doc.AccountID, nil)
	go func() {
		runCtx := context.Background()
		if err := s.ingest.Run(runCtx, doc); err != nil {
			s.logger.Error("ingest failed", "document", doc.ID, "error", err)
			return
		}
		if updated, err := s.store.GetDocument(runCtx, doc.ID); err == nil {
			s.search.IndexDocument(searchRecord(updated))
		}
	}()

	return map[string]any{"documentId": doc.ID, "ingestStatus": "PROCESSING"}, nil
}

func (s *Service) DocumentHistory(ctx context.Context, session Session, documentID string, limit int) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	commits, err := s.git.History(doc.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   strings.TrimSpace(commit.Message),
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"commits": items}, nil
}

// ExportDocument renders a published document to PDF or DOCX.
func (s *Service) ExportDocument(ctx context.Context, session Session, documentID, format, version string) (*export.Result, error) {
	if !s.Can(session.Role, rbac.ActionRead) {
		return nil, errForbidden()
	}
	doc, err := s.getScopedDocument(ctx, session, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != "PUBLISHED" {
		return nil, domainError(http.StatusConflict, "NOT_PUBLISHED", "Only published documents can be exported", nil)
	}
	parsed, err := export.ParseFormat(format)
	if err != nil {
		return nil, errValidation("format must be 'pdf' or 'docx'")
	}

	result, err := s.exporter.Export(ctx, export.Request{
		DocumentID: doc.ID,
		Version:    version,
		Format:     parsed,
	})
	if err != nil {
		return nil, err
	}
	s.audit(session, "document.exported", "document", doc.ID, doc.AccountID, map[string]any{
		"format":  string(parsed),
		"version": version,
	})
	return result, nil
}

// commitContent writes a revision; failures degrade to a log line because
// the database remains the source of truth.
func (s *Service) commitContent(documentID string, content gitrepo.Content, author, message string) {
	if _, err := s.git.CommitContent(documentID, content, author, message); err != nil {
		s.logger.Warn("commit document content", "document", documentID, "error", err)
		// Documents created before the repos dir existed get a baseline now.
		if err := s.git.EnsureDocumentRepo(documentID, content, author); err != nil {
			s.logger.Warn("init document repo", "document", documentID, "error", err)
		}
	}
}

// getScopedDocument resolves a document within the caller's account. A
// document outside the scope looks the same as a missing one.
func (s *Service) getScopedDocument(ctx context.Context, session Session, documentID string) (store.Document, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return store.Document{}, err
	}
	if session.Role != string(rbac.RoleSuperAdmin) && doc.AccountID != session.AccountID {
		return store.Document{}, sql.ErrNoRows
	}
	return doc, nil
}

func documentContent(doc store.Document) gitrepo.Content {
	return gitrepo.Content{
		Title:        doc.Title,
		Citation:     doc.Citation,
		Jurisdiction: doc.Jurisdiction,
		Summary:      doc.Summary,
		Body:         doc.Body,
	}
}

func searchRecord(doc store.Document) search.DocumentRecord {
	return search.DocumentRecord{
		ID:           doc.ID,
		AccountID:    doc.AccountID,
		Title:        doc.Title,
		Summary:      doc.Summary,
		Citation:     doc.Citation,
		Body:         doc.Body,
		Jurisdiction: doc.Jurisdiction,
		DocType:      doc.DocType,
		Status:       doc.Status,
	}
}

func documentSummaryPayload(doc store.Document) map[string]any {
	return map[string]any{
		"id":           doc.ID,
		"accountId":    doc.AccountID,
		"title":        doc.Title,
		"summary":      doc.Summary,
		"citation":     doc.Citation,
		"jurisdiction": doc.Jurisdiction,
		"docType":      doc.DocType,
		"status":       doc.Status,
		"ingestStatus": doc.IngestStatus,
		"updatedBy":    doc.UpdatedBy,
		"updatedAt":    doc.UpdatedAt,
	}
}

func documentPayload(doc store.Document) map[string]any {
	payload := documentSummaryPayload(doc)
	payload["body"] = doc.Body
	payload["sourceUrl"] = doc.SourceURL
	payload["sourceKey"] = doc.SourceKey
	payload["ingestError"] = doc.IngestError
	payload["createdBy"] = doc.CreatedBy
	payload["createdAt"] = doc.CreatedAt
	return payload
}
