// Package assistant answers questions over a tenant's document corpus with
// retrieval-augmented generation.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"lexrelay/internal/embedding"
	"lexrelay/internal/store"
)

const systemPrompt = `You are a legal research assistant. Answer the question using only the numbered document excerpts provided. Cite excerpts inline as [1], [2] and so on. If the excerpts do not contain the answer, say so plainly instead of guessing. Do not provide legal advice; describe what the documents say.`

var ErrUnavailable = errors.New("assistant is not configured")

// Retriever finds the chunks closest to the question embedding.
type Retriever interface {
	SearchChunksByEmbedding(ctx context.Context, accountID string, embedding []float32, limit int) ([]store.ChunkHit, error)
}

// LLM is the embeddings + chat completion client.
type LLM interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Chat(ctx context.Context, messages []embedding.Message) (string, error)
	IsConfigured() bool
}

type Citation struct {
	DocumentID string  `json:"documentId"`
	Title      string  `json:"title"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}

type Answer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

type Service struct {
	retriever Retriever
	llm       LLM
	topK      int
}

func NewService(retriever Retriever, llm LLM, topK int) *Service {
	if topK <= 0 {
		topK = 6
	}
	return &Service{retriever: retriever, llm: llm, topK: topK}
}

// Available reports whether the assistant can answer at all.
func (s *Service) Available() bool {
	return s.llm != nil && s.llm.IsConfigured()
}

// Ask embeds the question, retrieves the closest chunks in the caller's
// account, and asks the chat model to answer from those excerpts only.
func (s *Service) Ask(ctx context.Context, accountID, question string) (Answer, error) {
	if !s.Available() {
		return Answer{}, ErrUnavailable
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return Answer{}, errors.New("question is required")
	}

	vector, err := s.llm.Embed(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("embed question: %w", err)
	}

	hits, err := s.retriever.SearchChunksByEmbedding(ctx, accountID, vector, s.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("retrieve context: %w", err)
	}

	if len(hits) == 0 {
		return Answer{
			Answer:    "I could not find anything relevant in your documents. Try rephrasing the question or ingesting more documents.",
			Citations: []Citation{},
		}, nil
	}

	var prompt strings.Builder
	prompt.WriteString("Document excerpts:\n\n")
	citations := make([]Citation, 0, len(hits))
	for i, hit := range hits {
		fmt.Fprintf(&prompt, "[%d] %s (chunk %d)\n%s\n\n", i+1, hit.DocumentTitle, hit.ChunkIndex, hit.Text)
		citations = append(citations, Citation{
			DocumentID: hit.DocumentID,
			Title:      hit.DocumentTitle,
			ChunkIndex: hit.ChunkIndex,
			Score:      hit.Score,
		})
	}
	fmt.Fprintf(&prompt, "Question: %s", question)

	answer, err := s.llm.Chat(ctx, []embedding.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt.String()},
	})
	if err != nil {
		return Answer{}, fmt.Errorf("chat completion: %w", err)
	}

	return Answer{Answer: answer, Citations: citations}, nil
}
