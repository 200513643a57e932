package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"lexrelay/internal/export"
	"lexrelay/internal/store"
)

func TestCreateDocumentInitialState(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")

	payload, err := env.service.CreateDocument(context.Background(), sessionFor(editor), DocumentInput{
		Title:        "  Employment Agreement  ",
		Jurisdiction: "NSW",
		DocType:      "contract",
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	doc := payload["document"].(map[string]any)
	if doc["status"] != "DRAFT" || doc["ingestStatus"] != "PENDING" {
		t.Fatalf("unexpected document: %v", doc)
	}
	if doc["title"] != "Employment Agreement" {
		t.Fatalf("title not trimmed: %v", doc["title"])
	}

	documentID := doc["id"].(string)
	if _, ok := env.git.ensured[documentID]; !ok {
		t.Fatal("expected document repo to be initialized")
	}
	if len(env.search.indexed) != 1 || env.search.indexed[0].ID != documentID {
		t.Fatalf("expected document indexed, got %v", env.search.indexed)
	}
}

func TestCreateDocumentSuperAdminNeedsAccountID(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")

	_, err := env.service.CreateDocument(context.Background(), superSession(), DocumentInput{Title: "X"})
	mustDomainError(t, err, 422, "VALIDATION_ERROR")

	if _, err := env.service.CreateDocument(context.Background(), superSession(), DocumentInput{
		Title:     "Platform Doc",
		AccountID: "acc1",
	}); err != nil {
		t.Fatalf("create with explicit account: %v", err)
	}
}

func TestCreateDocumentViewerForbidden(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	viewer := env.addUser("usr1", "acc1", "VIEWER", "ACTIVE")

	_, err := env.service.CreateDocument(context.Background(), sessionFor(viewer), DocumentInput{Title: "X"})
	mustDomainError(t, err, 403, "FORBIDDEN")
}

func TestDocumentScopeHidesOtherAccounts(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc2", "acc2", "DRAFT")

	_, err := env.service.GetDocument(context.Background(), sessionFor(editor), "doc2")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows for cross-tenant document, got %v", err)
	}

	if _, err := env.service.GetDocument(context.Background(), superSession(), "doc2"); err != nil {
		t.Fatalf("super admin read: %v", err)
	}
}

func TestDocumentReviewWorkflow(t *testing.T) {
	cases := []struct {
		name    string
		from    string
		action  string
		role    string
		want    string
		status  int
		code    string
	}{
		{name: "submit draft", from: "DRAFT", action: "submit", role: "EDITOR", want: "IN_REVIEW"},
		{name: "submit in review", from: "IN_REVIEW", action: "submit", role: "EDITOR", status: 409, code: "INVALID_TRANSITION"},
		{name: "publish in review", from: "IN_REVIEW", action: "publish", role: "ADMIN", want: "PUBLISHED"},
		{name: "publish draft", from: "DRAFT", action: "publish", role: "ADMIN", status: 409, code: "INVALID_TRANSITION"},
		{name: "reject in review", from: "IN_REVIEW", action: "reject", role: "ADMIN", want: "DRAFT"},
		{name: "archive published", from: "PUBLISHED", action: "archive", role: "OWNER", want: "ARCHIVED"},
		{name: "archive draft", from: "DRAFT", action: "archive", role: "OWNER", status: 409, code: "INVALID_TRANSITION"},
		{name: "restore archived", from: "ARCHIVED", action: "restore", role: "EDITOR", want: "DRAFT"},
		{name: "restore published", from: "PUBLISHED", action: "restore", role: "EDITOR", status: 409, code: "INVALID_TRANSITION"},
		{name: "editor cannot publish", from: "IN_REVIEW", action: "publish", role: "EDITOR", status: 403, code: "FORBIDDEN"},
		{name: "viewer cannot submit", from: "DRAFT", action: "submit", role: "VIEWER", status: 403, code: "FORBIDDEN"},
		{name: "unknown action", from: "DRAFT", action: "fold", role: "ADMIN", status: 404, code: "NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.addAccount("acc1", "ACTIVE")
			actor := env.addUser("usr1", "acc1", tc.role, "ACTIVE")
			env.addDocument("doc1", "acc1", tc.from)

			payload, err := env.service.TransitionDocument(context.Background(), sessionFor(actor), "doc1", tc.action)
			if tc.code != "" {
				mustDomainError(t, err, tc.status, tc.code)
				return
			}
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
			if got := payload["document"].(map[string]any)["status"]; got != tc.want {
				t.Fatalf("expected status %s, got %v", tc.want, got)
			}
			// Each successful transition lands as a marker commit.
			if got := env.git.commitMessages("doc1"); len(got) != 1 {
				t.Fatalf("expected one commit, got %v", got)
			}
		})
	}
}

func TestUpdateDocumentCommitsOnlyOnChange(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	doc := env.addDocument("doc1", "acc1", "DRAFT")

	// Same content back: no new revision.
	_, err := env.service.UpdateDocument(context.Background(), sessionFor(editor), "doc1", DocumentInput{
		Title: doc.Title,
		Body:  doc.Body,
	})
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if got := env.git.commitMessages("doc1"); len(got) != 0 {
		t.Fatalf("expected no commits for unchanged content, got %v", got)
	}

	_, err = env.service.UpdateDocument(context.Background(), sessionFor(editor), "doc1", DocumentInput{
		Title: doc.Title,
		Body:  "amended body",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := env.git.commitMessages("doc1"); len(got) != 1 || got[0] != "Update document" {
		t.Fatalf("expected one update commit, got %v", got)
	}

	updated, _ := env.store.GetDocument(context.Background(), "doc1")
	if updated.Body != "amended body" {
		t.Fatalf("body not persisted: %q", updated.Body)
	}
}

func TestDeleteDocumentRemovesFromIndex(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	admin := env.addUser("usr1", "acc1", "ADMIN", "ACTIVE")
	editor := env.addUser("usr2", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	// Deleting needs the publish grant.
	err := env.service.DeleteDocument(context.Background(), sessionFor(editor), "doc1")
	mustDomainError(t, err, 403, "FORBIDDEN")

	if err := env.service.DeleteDocument(context.Background(), sessionFor(admin), "doc1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(env.search.deleted) != 1 || env.search.deleted[0] != "doc1" {
		t.Fatalf("expected index removal, got %v", env.search.deleted)
	}
	if _, err := env.store.GetDocument(context.Background(), "doc1"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected document gone, got %v", err)
	}
}

func TestAttachSourceStoresPDF(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	payload, err := env.service.AttachSource(context.Background(), sessionFor(editor), "doc1", "contract.pdf", []byte("%PDF-1.4 data"))
	if err != nil {
		t.Fatalf("attach source: %v", err)
	}
	sourceKey := payload["document"].(map[string]any)["sourceKey"].(string)
	if sourceKey == "" {
		t.Fatal("expected source key to be set")
	}
	if _, ok := env.files.objects[sourceKey]; !ok {
		t.Fatalf("object not stored under %s", sourceKey)
	}
}

func TestAttachSourceWithoutStorage(t *testing.T) {
	env := newTestEnv()
	env.rebuild(func(deps *Deps) { deps.Files = nil })
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	_, err := env.service.AttachSource(context.Background(), sessionFor(editor), "doc1", "contract.pdf", []byte("data"))
	mustDomainError(t, err, 503, "STORAGE_UNAVAILABLE")
}

func TestTriggerIngestValidations(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")

	// Nothing to ingest.
	empty := env.addDocument("doc1", "acc1", "DRAFT")
	empty.Body = ""
	env.store.documents["doc1"] = empty
	_, err := env.service.TriggerIngest(context.Background(), sessionFor(editor), "doc1")
	mustDomainError(t, err, 422, "VALIDATION_ERROR")

	// Already running.
	running := env.addDocument("doc2", "acc1", "DRAFT")
	running.IngestStatus = "PROCESSING"
	env.store.documents["doc2"] = running
	_, err = env.service.TriggerIngest(context.Background(), sessionFor(editor), "doc2")
	mustDomainError(t, err, 409, "INGEST_IN_PROGRESS")
}

func TestTriggerIngestClaimIsExclusive(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	// The first trigger claims the document before the pipeline starts.
	if _, err := env.service.TriggerIngest(context.Background(), sessionFor(editor), "doc1"); err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	env.store.mu.Lock()
	got := env.store.documents["doc1"].IngestStatus
	env.store.mu.Unlock()
	if got != "PROCESSING" {
		t.Fatalf("expected claim to mark PROCESSING, got %s", got)
	}

	// A second trigger loses the claim and conflicts.
	_, err := env.service.TriggerIngest(context.Background(), sessionFor(editor), "doc1")
	mustDomainError(t, err, 409, "INGEST_IN_PROGRESS")
}

func TestTriggerIngestRunsPipeline(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	payload, err := env.service.TriggerIngest(context.Background(), sessionFor(editor), "doc1")
	if err != nil {
		t.Fatalf("trigger ingest: %v", err)
	}
	if payload["ingestStatus"] != "PROCESSING" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// The pipeline runs in the background.
	deadline := time.Now().Add(2 * time.Second)
	for {
		env.ingest.mu.Lock()
		done := len(env.ingest.runs) == 1
		env.ingest.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ingest did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDocumentHistory(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	viewer := env.addUser("usr1", "acc1", "VIEWER", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")

	var gotLimit int
	env.git.historyFn = func(_ string, limit int) ([]store.CommitInfo, error) {
		gotLimit = limit
		return []store.CommitInfo{{Hash: "abc1234", Message: "Create document\n", Author: "tester"}}, nil
	}

	payload, err := env.service.DocumentHistory(context.Background(), sessionFor(viewer), "doc1", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotLimit != 50 {
		t.Fatalf("expected default limit 50, got %d", gotLimit)
	}
	commits := payload["commits"].([]map[string]any)
	if len(commits) != 1 || commits[0]["message"] != "Create document" {
		t.Fatalf("unexpected commits: %v", commits)
	}
}

func TestExportDocumentRequiresPublished(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	viewer := env.addUser("usr1", "acc1", "VIEWER", "ACTIVE")
	env.addDocument("doc1", "acc1", "DRAFT")
	env.addDocument("doc2", "acc1", "PUBLISHED")

	_, err := env.service.ExportDocument(context.Background(), sessionFor(viewer), "doc1", "pdf", "latest")
	mustDomainError(t, err, 409, "NOT_PUBLISHED")

	result, err := env.service.ExportDocument(context.Background(), sessionFor(viewer), "doc2", "pdf", "latest")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if result.MimeType != "application/pdf" || len(result.Data) == 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	_, err = env.service.ExportDocument(context.Background(), sessionFor(viewer), "doc2", "epub", "latest")
	mustDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestExportDocumentMapsVersionErrors(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	viewer := env.addUser("usr1", "acc1", "VIEWER", "ACTIVE")
	env.addDocument("doc1", "acc1", "PUBLISHED")
	env.exporter.fn = func(export.Request) (*export.Result, error) {
		return nil, export.ErrContentUnavailable
	}

	_, err := env.service.ExportDocument(context.Background(), sessionFor(viewer), "doc1", "docx", "deadbeef")
	if !errors.Is(err, export.ErrContentUnavailable) {
		t.Fatalf("expected ErrContentUnavailable, got %v", err)
	}
}

func TestDocumentOperationsAreAudited(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	admin := env.addUser("usr1", "acc1", "ADMIN", "ACTIVE")
	env.addDocument("doc1", "acc1", "IN_REVIEW")

	if _, err := env.service.TransitionDocument(context.Background(), sessionFor(admin), "doc1", "publish"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	env.store.mu.Lock()
	defer env.store.mu.Unlock()
	if len(env.store.auditLogs) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(env.store.auditLogs))
	}
	entry := env.store.auditLogs[0]
	if entry.EventType != "document.published" || entry.EntityID != "doc1" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.AccountID == nil || *entry.AccountID != "acc1" {
		t.Fatalf("audit entry missing account: %+v", entry)
	}
}
