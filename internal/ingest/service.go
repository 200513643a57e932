// Package ingest turns an uploaded source document into embedded chunks
// ready for semantic search.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lexrelay/internal/chunker"
	"lexrelay/internal/store"
	"lexrelay/internal/util"
)

// Store is the slice of the data store the pipeline writes through.
type Store interface {
	UpdateDocumentIngest(ctx context.Context, documentID, ingestStatus, ingestError string) error
	UpdateDocumentBody(ctx context.Context, documentID, body string) error
	ReplaceDocumentChunks(ctx context.Context, documentID string, chunks []store.DocumentChunk) error
}

// Files fetches the uploaded source object.
type Files interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Embedder produces one embedding per chunk.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Service struct {
	store    Store
	files    Files
	embedder Embedder
	chunker  *chunker.SentenceChunker
	logger   *slog.Logger
}

func NewService(st Store, files Files, embedder Embedder, ch *chunker.SentenceChunker, logger *slog.Logger) *Service {
	if ch == nil {
		ch = chunker.NewSentenceChunker(5, 1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, files: files, embedder: embedder, chunker: ch, logger: logger}
}

// Run executes the pipeline for one document: PDF text extraction (when a
// source object is attached), chunking, embedding, chunk storage. Progress
// is tracked on the document's ingest status; failures land on the row
// instead of being lost in a goroutine.
func (s *Service) Run(ctx context.Context, doc store.Document) error {
	if err := s.store.UpdateDocumentIngest(ctx, doc.ID, "PROCESSING", ""); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	if err := s.run(ctx, doc); err != nil {
		s.logger.Error("ingest failed", "document_id", doc.ID, "error", err)
		if markErr := s.store.UpdateDocumentIngest(ctx, doc.ID, "FAILED", err.Error()); markErr != nil {
			s.logger.Error("record ingest failure", "document_id", doc.ID, "error", markErr)
		}
		return err
	}

	if err := s.store.UpdateDocumentIngest(ctx, doc.ID, "READY", ""); err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	s.logger.Info("ingest complete", "document_id", doc.ID)
	return nil
}

func (s *Service) run(ctx context.Context, doc store.Document) error {
	text := doc.Body

	if doc.SourceKey != "" {
		data, err := s.files.Get(ctx, doc.SourceKey)
		if err != nil {
			return fmt.Errorf("fetch source: %w", err)
		}
		extracted, err := ExtractPDFText(data)
		if err != nil {
			return err
		}
		extracted = strings.TrimSpace(extracted)
		if extracted != "" {
			text = extracted
			if err := s.store.UpdateDocumentBody(ctx, doc.ID, text); err != nil {
				return fmt.Errorf("store extracted body: %w", err)
			}
		}
	}

	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("document has no text to index")
	}

	pieces := s.chunker.Chunk(text)
	if len(pieces) == 0 {
		return fmt.Errorf("document produced no chunks")
	}

	chunks := make([]store.DocumentChunk, 0, len(pieces))
	for _, piece := range pieces {
		vector, err := s.embedder.Embed(ctx, piece.Text)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", piece.Index, err)
		}
		chunks = append(chunks, store.DocumentChunk{
			ID:         util.NewID("chk"),
			DocumentID: doc.ID,
			ChunkIndex: piece.Index,
			Text:       piece.Text,
			Embedding:  vector,
		})
	}

	if err := s.store.ReplaceDocumentChunks(ctx, doc.ID, chunks); err != nil {
		return fmt.Errorf("store chunks: %w", err)
	}
	return nil
}
