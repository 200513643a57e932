package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"lexrelay/internal/assistant"
	"lexrelay/internal/auth"
	"lexrelay/internal/authpw"
	"lexrelay/internal/config"
	"lexrelay/internal/export"
	"lexrelay/internal/gitrepo"
	"lexrelay/internal/rbac"
	"lexrelay/internal/search"
	"lexrelay/internal/store"
	"lexrelay/internal/util"
)

// Session is an authenticated caller. AccountID is empty for the platform
// super admin, whose queries are unscoped.
type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	AccountID    string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	ListUsers(context.Context, string) ([]store.User, error)
	InsertUser(context.Context, store.User) error
	UpdateUser(ctx context.Context, userID, displayName, role string) error
	UpdateUserStatus(ctx context.Context, userID, status string) error
	CountSuperAdmins(context.Context) (int, error)

	ListAccounts(context.Context) ([]store.Account, error)
	GetAccount(context.Context, string) (store.Account, error)
	UpdateAccount(ctx context.Context, accountID, name string) error
	UpdateAccountStatus(ctx context.Context, accountID, status string) error
	CreateAccountWithOwner(context.Context, store.Account, store.User) error

	InsertAccountInvitation(context.Context, store.AccountInvitation) error
	ListAccountInvitations(context.Context) ([]store.AccountInvitation, error)
	GetAccountInvitation(context.Context, string) (store.AccountInvitation, error)
	GetAccountInvitationByTokenHash(context.Context, string) (store.AccountInvitation, error)
	MarkAccountInvitation(ctx context.Context, invitationID, status string) error
	AcceptAccountInvitation(ctx context.Context, invitationID string, account store.Account, owner store.User) error
	InsertUserInvitation(context.Context, store.UserInvitation) error
	ListUserInvitations(context.Context, string) ([]store.UserInvitation, error)
	GetUserInvitation(context.Context, string) (store.UserInvitation, error)
	GetUserInvitationByTokenHash(context.Context, string) (store.UserInvitation, error)
	MarkUserInvitation(ctx context.Context, invitationID, status string) error
	AcceptUserInvitation(ctx context.Context, invitationID string, user store.User) error

	ListDocuments(context.Context, string) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	InsertDocument(context.Context, store.Document) error
	UpdateDocument(context.Context, store.Document) error
	UpdateDocumentStatus(ctx context.Context, documentID, status, updatedBy string) error
	UpdateDocumentSource(ctx context.Context, documentID, sourceKey, updatedBy string) error
	ClaimDocumentIngest(ctx context.Context, documentID string) error
	DeleteDocument(context.Context, string) error

	InsertAuditLog(context.Context, store.AuditLog) error
	ListAuditLogs(context.Context, store.AuditFilter) ([]store.AuditLog, error)
	InsertSearchQuery(context.Context, store.SearchQueryLog) error

	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	Ping(context.Context) error
}

// sessionStore holds hashed refresh tokens. Satisfied by both the Redis
// store and the Postgres fallback.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type gitService interface {
	EnsureDocumentRepo(documentID string, initial gitrepo.Content, author string) error
	CommitContent(documentID string, content gitrepo.Content, author, message string) (store.CommitInfo, error)
	GetHeadContent(documentID string) (gitrepo.Content, store.CommitInfo, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
}

type searchIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	DeleteDocument(id string)
}

type assistantService interface {
	Available() bool
	Ask(ctx context.Context, accountID, question string) (assistant.Answer, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

type ingestRunner interface {
	Run(ctx context.Context, doc store.Document) error
}

type documentExporter interface {
	Export(ctx context.Context, req export.Request) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendAccountInviteEmail(to, accountName, inviterName, acceptURL string) error
	SendUserInviteEmail(to, accountName, role, inviterName, acceptURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
}

// Deps bundles everything the service layer calls out to.
type Deps struct {
	Store     dataStore
	Sessions  sessionStore
	Passwords *authpw.Service
	Email     mailer
	Files     objectStore
	Search    searchIndex
	Ingest    ingestRunner
	Assistant assistantService
	Git       gitService
	Exporter  documentExporter
	Logger    *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	email     mailer
	files     objectStore
	search    searchIndex
	ingest    ingestRunner
	assistant assistantService
	git       gitService
	exporter  documentExporter
	logger    *slog.Logger
}

func New(cfg config.Config, deps Deps) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  deps.Sessions,
		passwords: deps.Passwords,
		email:     deps.Email,
		files:     deps.Files,
		search:    deps.Search,
		ingest:    deps.Ingest,
		assistant: deps.Assistant,
		git:       deps.Git,
		exporter:  deps.Exporter,
		logger:    logger,
	}
}

// Bootstrap seeds the platform super admin on first start. The system holds
// exactly one SUPER_ADMIN, enforced here and by a partial unique index.
func (s *Service) Bootstrap(ctx context.Context) error {
	count, err := s.store.CountSuperAdmins(ctx)
	if err != nil {
		return fmt.Errorf("count super admins: %w", err)
	}
	if count > 0 {
		return nil
	}
	if s.cfg.SuperAdminPassword == "" {
		s.logger.Warn("no super admin exists and LEXRELAY_SUPER_ADMIN_PASSWORD is unset, skipping seed")
		return nil
	}

	hash, err := authpw.HashPassword(s.cfg.SuperAdminPassword)
	if err != nil {
		return fmt.Errorf("hash super admin password: %w", err)
	}
	user := store.User{
		ID:           util.NewID("usr"),
		DisplayName:  s.cfg.SuperAdminName,
		Email:        strings.ToLower(s.cfg.SuperAdminEmail),
		PasswordHash: hash,
		Role:         string(rbac.RoleSuperAdmin),
		Status:       "ACTIVE",
	}
	if err := s.store.InsertUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil
		}
		return fmt.Errorf("seed super admin: %w", err)
	}
	s.logger.Info("seeded super admin", "email", user.Email)
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// Ping checks the primary datastore, used by the readiness probe.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionPing checks the refresh-token store when it supports pinging
// (Redis); the Postgres fallback is covered by Ping.
func (s *Service) SessionPing(ctx context.Context) error {
	if pinger, ok := s.sessions.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, authpw.SignInRequest{Email: email, Password: password})
	if err != nil {
		return Session{}, err
	}

	if user.AccountID != nil {
		account, err := s.store.GetAccount(ctx, *user.AccountID)
		if err != nil {
			return Session{}, fmt.Errorf("load account: %w", err)
		}
		if account.Status != "ACTIVE" {
			return Session{}, domainError(http.StatusForbidden, "ACCOUNT_INACTIVE", "Account is "+strings.ToLower(account.Status), nil)
		}
	}

	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token: the old token is revoked before a new
// pair is issued, so a replay of the old token fails.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	cached, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, fmt.Errorf("revoke refresh token: %w", err)
	}

	// Re-read the user so role or status changes apply at rotation time.
	user, err := s.store.GetUserByID(ctx, cached.ID)
	if err != nil {
		return Session{}, auth.ErrInvalidToken
	}
	if user.Status != "ACTIVE" {
		return Session{}, auth.ErrInvalidToken
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if refreshToken != "" {
		if err := s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken)); err != nil {
			s.logger.Warn("revoke refresh token", "error", err)
		}
	}
	if session.JTI != "" {
		if err := s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt); err != nil {
			return fmt.Errorf("revoke access token: %w", err)
		}
	}
	return nil
}

// SessionFromToken validates the bearer token and rehydrates the caller.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Session{}, fmt.Errorf("check token revocation: %w", err)
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}
	user, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, auth.ErrInvalidToken
		}
		return Session{}, err
	}
	if user.Status != "ACTIVE" {
		return Session{}, auth.ErrInvalidToken
	}

	accountID := ""
	if user.AccountID != nil {
		accountID = *user.AccountID
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		Role:      user.Role,
		AccountID: accountID,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// RequestPasswordReset always succeeds from the caller's point of view so
// the endpoint does not reveal which emails exist. The returned token is
// only surfaced when SMTP is unconfigured (dev bypass).
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	token, err := s.passwords.RequestPasswordReset(ctx, email)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", nil
	}

	if s.email.IsConfigured() {
		user, err := s.store.GetUserByEmail(ctx, email)
		if err != nil {
			return "", nil
		}
		resetURL := s.cfg.AppBaseURL + "/reset-password?token=" + token
		if err := s.email.SendPasswordResetEmail(user.Email, user.DisplayName, resetURL); err != nil {
			s.logger.Warn("send password reset email", "error", err)
		}
		return "", nil
	}
	return token, nil
}

func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	return s.passwords.ResetPassword(ctx, authpw.ResetPasswordRequest{Token: token, NewPassword: newPassword})
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	accountID := ""
	if user.AccountID != nil {
		accountID = *user.AccountID
	}

	jti := util.NewID("")
	claims := auth.NewClaims(user.ID, user.DisplayName, user.Role, accountID, s.cfg.AccessTTL, jti)
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, fmt.Errorf("issue access token: %w", err)
	}

	refreshToken, err := newRefreshToken()
	if err != nil {
		return Session{}, err
	}
	expiresAt := time.Now().Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refreshToken), user, expiresAt); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		Role:         user.Role,
		AccountID:    accountID,
		JTI:          jti,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// accountScope is the account filter for list queries: empty means
// platform-wide, which only the super admin gets.
func (s *Service) accountScope(session Session) string {
	if session.Role == string(rbac.RoleSuperAdmin) {
		return ""
	}
	return session.AccountID
}

// requireAccount rejects account-less callers on account-scoped writes.
func requireAccount(session Session) (string, error) {
	if session.AccountID == "" {
		return "", domainError(http.StatusForbidden, "FORBIDDEN", "An account is required for this operation", nil)
	}
	return session.AccountID, nil
}

func newRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func newInviteToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
