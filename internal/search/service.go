package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"lexrelay/internal/store"
)

// Hybrid fusion weights over normalized scores.
const (
	semanticWeight = 0.6
	lexicalWeight  = 0.4
)

const snippetRunes = 240

// ChunkStore runs the vector nearest-neighbour query.
type ChunkStore interface {
	SearchChunksByEmbedding(ctx context.Context, accountID string, embedding []float32, limit int) ([]store.ChunkHit, error)
}

// Embedder turns the query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	IsConfigured() bool
}

// Service is the search facade: a lexical arm (Meilisearch first, PG FTS
// fallback) and a semantic arm (pgvector over chunks), fused for hybrid
// queries.
type Service struct {
	primary  Searcher // may be nil when Meilisearch is not configured
	fallback Searcher
	chunks   ChunkStore
	embedder Embedder
}

// NewService creates a search service. meili may be nil; embedder may be
// unconfigured, in which case semantic and hybrid degrade to lexical.
func NewService(meili *Meili, pgfts *PgFTS, chunks ChunkStore, embedder Embedder) *Service {
	s := &Service{chunks: chunks, embedder: embedder}
	if meili != nil {
		s.primary = meili
	}
	if pgfts != nil {
		s.fallback = pgfts
	}
	return s
}

// Search executes the query in the requested mode.
func (s *Service) Search(ctx context.Context, q Query) Response {
	mode := q.Mode
	if mode == "" {
		mode = ModeHybrid
	}
	if mode != ModeLexical && !s.semanticAvailable() {
		mode = ModeLexical
	}

	switch mode {
	case ModeLexical:
		results, total := s.lexical(q)
		return Response{Results: nonNil(results), Total: total, Query: q.Text, Mode: ModeLexical}
	case ModeSemantic:
		results, err := s.semantic(ctx, q)
		if err != nil {
			slog.Error("semantic search failed", "error", err)
			results = nil
		}
		total := len(results)
		results = paginate(results, q.Offset, effectiveLimit(q.Limit))
		return Response{Results: nonNil(results), Total: total, Query: q.Text, Mode: ModeSemantic}
	default:
		semantic, err := s.semantic(ctx, q)
		if err != nil {
			slog.Warn("semantic arm failed, hybrid degrades to lexical", "error", err)
		}
		lexical, _ := s.lexical(q)
		fused := fuse(semantic, lexical)
		total := len(fused)
		fused = paginate(fused, q.Offset, effectiveLimit(q.Limit))
		return Response{Results: nonNil(fused), Total: total, Query: q.Text, Mode: ModeHybrid}
	}
}

func (s *Service) semanticAvailable() bool {
	return s.chunks != nil && s.embedder != nil && s.embedder.IsConfigured()
}

// lexical tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) lexical(q Query) ([]Result, int) {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(q)
		if err == nil {
			return results, total
		}
		slog.Warn("meilisearch error, falling back to pgfts", "error", err)
	}
	if s.fallback == nil {
		return nil, 0
	}
	results, total, err := s.fallback.Search(q)
	if err != nil {
		slog.Error("pgfts search failed", "error", err)
		return nil, 0
	}
	return results, total
}

// semantic embeds the query and collapses chunk matches onto documents,
// keeping the best chunk per document.
func (s *Service) semantic(ctx context.Context, q Query) ([]Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, nil
	}

	vector, err := s.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	limit := effectiveLimit(q.Limit)
	// Over-fetch: several chunks can belong to one document.
	hits, err := s.chunks.SearchChunksByEmbedding(ctx, q.AccountID, vector, (q.Offset+limit)*4)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]int)
	var results []Result
	for _, hit := range hits {
		if idx, ok := seen[hit.DocumentID]; ok {
			if hit.Score > results[idx].Score {
				results[idx].Score = hit.Score
				results[idx].Snippet = snippet(hit.Text)
			}
			continue
		}
		seen[hit.DocumentID] = len(results)
		results = append(results, Result{
			ID:      hit.DocumentID,
			Title:   hit.DocumentTitle,
			Snippet: snippet(hit.Text),
			Score:   hit.Score,
		})
	}
	sortByScore(results)
	return results, nil
}

// fuse combines both arms with fixed weights over normalized scores. A
// document present in only one arm keeps that arm's weighted contribution.
func fuse(semantic, lexical []Result) []Result {
	normalize(semantic)
	normalize(lexical)

	index := make(map[string]int)
	var fused []Result

	for _, r := range semantic {
		r.Score *= semanticWeight
		index[r.ID] = len(fused)
		fused = append(fused, r)
	}
	for _, r := range lexical {
		if idx, ok := index[r.ID]; ok {
			fused[idx].Score += r.Score * lexicalWeight
			if fused[idx].Snippet == "" {
				fused[idx].Snippet = r.Snippet
			}
			if fused[idx].Status == "" {
				fused[idx].Status = r.Status
			}
			if fused[idx].Jurisdiction == "" {
				fused[idx].Jurisdiction = r.Jurisdiction
			}
			if fused[idx].DocType == "" {
				fused[idx].DocType = r.DocType
			}
			continue
		}
		r.Score *= lexicalWeight
		index[r.ID] = len(fused)
		fused = append(fused, r)
	}

	sortByScore(fused)
	return fused
}

// normalize scales scores into [0,1] relative to the best hit.
func normalize(results []Result) {
	var max float64
	for _, r := range results {
		if r.Score > max {
			max = r.Score
		}
	}
	if max <= 0 {
		return
	}
	for i := range results {
		results[i].Score /= max
	}
}

func sortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

func paginate(results []Result, offset, limit int) []Result {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(results) {
		return nil
	}
	results = results[offset:]
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

func effectiveLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return strings.TrimSpace(string(runes[:snippetRunes])) + "…"
}

// IndexDocument pushes a document into the lexical index (fire-and-forget
// to Meilisearch).
func (s *Service) IndexDocument(doc DocumentRecord) {
	meili, ok := s.primary.(*Meili)
	if !ok || !meili.Healthy() {
		return
	}
	go func() {
		if err := meili.IndexDocument(doc); err != nil {
			slog.Warn("index document", "document_id", doc.ID, "error", err)
		}
	}()
}

// DeleteDocument removes a document from the lexical index (fire-and-forget).
func (s *Service) DeleteDocument(id string) {
	meili, ok := s.primary.(*Meili)
	if !ok || !meili.Healthy() {
		return
	}
	go func() {
		if err := meili.DeleteDocument(id); err != nil {
			slog.Warn("delete document from index", "document_id", id, "error", err)
		}
	}()
}

// ReindexAllFromPG reloads every document from PostgreSQL into Meilisearch.
// Called during bootstrap when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	meili, ok := s.primary.(*Meili)
	if !ok || !meili.Healthy() {
		return
	}
	pgfts, ok := s.fallback.(*PgFTS)
	if !ok {
		return
	}
	documents, err := pgfts.LoadAllRecords(ctx)
	if err != nil {
		slog.Error("reindex load failed", "error", err)
		return
	}
	if err := meili.IndexDocuments(documents); err != nil {
		slog.Error("reindex documents", "error", err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
