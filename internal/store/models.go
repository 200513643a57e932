package store

import "time"

type Account struct {
	ID          string
	Name        string
	Slug        string
	Status      string
	SuspendedAt *time.Time
	ClosedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type User struct {
	ID           string
	AccountID    *string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AccountInvitation struct {
	ID          string
	Email       string
	AccountName string
	TokenHash   string
	Status      string
	InvitedBy   string
	ExpiresAt   time.Time
	AcceptedAt  *time.Time
	RevokedAt   *time.Time
	CreatedAt   time.Time
}

type UserInvitation struct {
	ID         string
	AccountID  string
	Email      string
	Role       string
	TokenHash  string
	Status     string
	InvitedBy  string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

type Document struct {
	ID           string
	AccountID    string
	Title        string
	Summary      string
	Body         string
	Citation     string
	Jurisdiction string
	DocType      string
	SourceURL    string
	SourceKey    string
	Status       string
	IngestStatus string
	IngestError  string
	CreatedBy    string
	UpdatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Text       string
	Embedding  []float32
	CreatedAt  time.Time
}

// ChunkHit is a semantic-search match: a chunk joined with its document and
// the cosine similarity of the query embedding.
type ChunkHit struct {
	DocumentID    string
	DocumentTitle string
	ChunkIndex    int
	Text          string
	Score         float64
}

type AuditLog struct {
	ID         int64
	EventType  string
	ActorID    string
	ActorName  string
	AccountID  *string
	EntityType string
	EntityID   string
	Payload    map[string]any
	CreatedAt  time.Time
}

type SearchQueryLog struct {
	ID          int64
	AccountID   *string
	UserID      string
	Query       string
	Mode        string
	ResultCount int
	DurationMS  int64
	CreatedAt   time.Time
}

type PasswordReset struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
