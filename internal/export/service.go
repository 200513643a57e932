package export

import (
	"context"
	"fmt"

	"lexrelay/internal/gitrepo"
	"lexrelay/internal/store"
)

// DataStore provides document and account metadata.
type DataStore interface {
	GetDocument(ctx context.Context, id string) (store.Document, error)
	GetAccount(ctx context.Context, id string) (store.Account, error)
}

// ContentSource resolves versioned content, typically the git history.
type ContentSource interface {
	GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error)
	GetContentByHash(documentID, hash string) (gitrepo.Content, error)
}

type Service struct {
	store   DataStore
	content ContentSource
}

func NewService(store DataStore, content ContentSource) *Service {
	return &Service{store: store, content: content}
}

// Export renders the document at the requested version into the requested
// format.
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	doc, err := s.store.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	account, err := s.store.GetAccount(ctx, doc.AccountID)
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	content, updatedBy, err := s.resolveContent(doc, req.Version)
	if err != nil {
		return nil, err
	}

	switch req.Format {
	case FormatPDF:
		html, err := RenderDocumentHTML(TemplateData{
			Title:        content.Title,
			Citation:     content.Citation,
			Jurisdiction: content.Jurisdiction,
			DocType:      doc.DocType,
			Status:       doc.Status,
			Summary:      content.Summary,
			BodyHTML:     bodyToHTML(content.Body),
			AccountName:  account.Name,
			Author:       updatedBy,
			UpdatedAt:    doc.UpdatedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("render template: %w", err)
		}
		return exportPDF(html, content.Title)
	case FormatDOCX:
		return exportDOCX(docxDocument{
			Title:      content.Title,
			Citation:   content.Citation,
			Summary:    content.Summary,
			Paragraphs: splitParagraphs(content.Body),
		})
	default:
		return nil, fmt.Errorf("unsupported format: %s", req.Format)
	}
}

// resolveContent prefers the git history; when the document has no repo yet,
// "latest" falls back to the database row.
func (s *Service) resolveContent(doc store.Document, version string) (gitrepo.Content, string, error) {
	if version != "" && version != "latest" {
		content, err := s.content.GetContentByHash(doc.ID, version)
		if err != nil {
			return gitrepo.Content{}, "", fmt.Errorf("%w: %v", ErrContentUnavailable, err)
		}
		return content, doc.UpdatedBy, nil
	}

	content, commit, err := s.content.GetHeadContent(doc.ID)
	if err != nil {
		return gitrepo.Content{
			Title:        doc.Title,
			Citation:     doc.Citation,
			Jurisdiction: doc.Jurisdiction,
			Summary:      doc.Summary,
			Body:         doc.Body,
		}, doc.UpdatedBy, nil
	}
	return content, commit.Author, nil
}
