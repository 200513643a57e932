package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"lexrelay/internal/auth"
	"lexrelay/internal/authpw"
	"lexrelay/internal/rbac"
	"lexrelay/internal/store"
	"lexrelay/internal/util"
)

type CreateAccountInput struct {
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	OwnerName     string `json:"ownerName"`
	OwnerEmail    string `json:"ownerEmail"`
	OwnerPassword string `json:"ownerPassword"`
}

type AcceptAccountInvitationInput struct {
	Token       string `json:"token"`
	AccountName string `json:"accountName"`
	Slug        string `json:"slug"`
	OwnerName   string `json:"ownerName"`
	Password    string `json:"password"`
}

func (s *Service) ListAccounts(ctx context.Context, session Session) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	accounts, err := s.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(accounts))
	for _, account := range accounts {
		items = append(items, accountPayload(account))
	}
	return map[string]any{"accounts": items}, nil
}

func (s *Service) GetAccount(ctx context.Context, session Session, accountID string) (map[string]any, error) {
	if err := s.requireAccountAccess(session, accountID); err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account": accountPayload(account)}, nil
}

func (s *Service) UpdateAccount(ctx context.Context, session Session, accountID, name string) (map[string]any, error) {
	if err := s.requireAccountAccess(session, accountID); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errValidation("name is required")
	}
	if err := s.store.UpdateAccount(ctx, accountID, name); err != nil {
		return nil, err
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.audit(session, "account.updated", "account", accountID, accountID, map[string]any{"name": name})
	return map[string]any{"account": accountPayload(account)}, nil
}

// CreateAccount provisions an account and its OWNER directly, bypassing the
// invitation flow. Super admin only.
func (s *Service) CreateAccount(ctx context.Context, session Session, input CreateAccountInput) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	input.Name = strings.TrimSpace(input.Name)
	input.OwnerEmail = strings.ToLower(strings.TrimSpace(input.OwnerEmail))
	if input.Name == "" || input.OwnerEmail == "" || input.OwnerPassword == "" {
		return nil, errValidation("name, ownerEmail and ownerPassword are required")
	}
	if input.OwnerName == "" {
		input.OwnerName = input.OwnerEmail
	}
	if input.Slug == "" {
		input.Slug = slugify(input.Name)
	}

	passwordHash, err := authpw.HashPassword(input.OwnerPassword)
	if err != nil {
		return nil, err
	}

	account := store.Account{
		ID:     util.NewID("acc"),
		Name:   input.Name,
		Slug:   input.Slug,
		Status: "ACTIVE",
	}
	owner := store.User{
		ID:           util.NewID("usr"),
		AccountID:    &account.ID,
		DisplayName:  input.OwnerName,
		Email:        input.OwnerEmail,
		PasswordHash: passwordHash,
		Role:         string(rbac.RoleOwner),
		Status:       "ACTIVE",
	}
	if err := s.store.CreateAccountWithOwner(ctx, account, owner); err != nil {
		return nil, err
	}

	s.audit(session, "account.created", "account", account.ID, account.ID, map[string]any{
		"name":  account.Name,
		"owner": owner.Email,
	})
	created, err := s.store.GetAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account": accountPayload(created)}, nil
}

func (s *Service) SuspendAccount(ctx context.Context, session Session, accountID string) (map[string]any, error) {
	return s.transitionAccount(ctx, session, accountID, "SUSPENDED", "account.suspended")
}

func (s *Service) ReactivateAccount(ctx context.Context, session Session, accountID string) (map[string]any, error) {
	return s.transitionAccount(ctx, session, accountID, "ACTIVE", "account.reactivated")
}

func (s *Service) CloseAccount(ctx context.Context, session Session, accountID string) (map[string]any, error) {
	return s.transitionAccount(ctx, session, accountID, "CLOSED", "account.closed")
}

func (s *Service) transitionAccount(ctx context.Context, session Session, accountID, target, event string) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	account, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if err := validateAccountTransition(account.Status, target); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAccountStatus(ctx, accountID, target); err != nil {
		return nil, err
	}
	updated, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	s.audit(session, event, "account", accountID, accountID, map[string]any{
		"from": account.Status,
		"to":   target,
	})
	return map[string]any{"account": accountPayload(updated)}, nil
}

// validateAccountTransition enforces the account status machine. CLOSED is
// terminal.
func validateAccountTransition(current, target string) error {
	allowed := false
	switch target {
	case "SUSPENDED":
		allowed = current == "ACTIVE"
	case "ACTIVE":
		allowed = current == "SUSPENDED"
	case "CLOSED":
		allowed = current == "ACTIVE" || current == "SUSPENDED"
	}
	if !allowed {
		return domainError(http.StatusConflict, "INVALID_TRANSITION",
			"Account cannot move from "+current+" to "+target, nil)
	}
	return nil
}

func (s *Service) CreateAccountInvitation(ctx context.Context, session Session, email, accountName string) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	accountName = strings.TrimSpace(accountName)
	if email == "" || accountName == "" {
		return nil, errValidation("email and accountName are required")
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}
	invitation := store.AccountInvitation{
		ID:          util.NewID("ainv"),
		Email:       email,
		AccountName: accountName,
		TokenHash:   auth.HashToken(token),
		Status:      "PENDING",
		InvitedBy:   session.UserName,
		ExpiresAt:   time.Now().Add(s.cfg.InvitationTTL),
	}
	if err := s.store.InsertAccountInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	acceptURL := s.cfg.AppBaseURL + "/invitations/accounts/accept?token=" + token
	payload := map[string]any{"invitation": accountInvitationPayload(invitation)}
	if s.email.IsConfigured() {
		if err := s.email.SendAccountInviteEmail(email, accountName, session.UserName, acceptURL); err != nil {
			s.logger.Warn("send account invite email", "error", err)
		}
	} else {
		// Dev bypass: surface the raw token when no mailer is wired.
		payload["devToken"] = token
	}

	s.audit(session, "account_invitation.created", "account_invitation", invitation.ID, "", map[string]any{
		"email":       email,
		"accountName": accountName,
	})
	return payload, nil
}

func (s *Service) ListAccountInvitations(ctx context.Context, session Session) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	invitations, err := s.store.ListAccountInvitations(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, invitation := range invitations {
		items = append(items, accountInvitationPayload(invitation))
	}
	return map[string]any{"invitations": items}, nil
}

func (s *Service) RevokeAccountInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	if session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	invitation, err := s.store.GetAccountInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if invitation.Status != "PENDING" {
		return nil, errInvitationNotPending(invitation.Status)
	}
	if err := s.store.MarkAccountInvitation(ctx, invitationID, "REVOKED"); err != nil {
		return nil, err
	}
	s.audit(session, "account_invitation.revoked", "account_invitation", invitationID, "", nil)
	return map[string]any{"ok": true}, nil
}

// AcceptAccountInvitation is the public half of the flow: the token creates
// the account and its OWNER atomically. The PENDING→ACCEPTED claim shares a
// transaction with the create, so a failed create (duplicate owner email,
// slug collision) leaves the invitation retryable, and two concurrent
// accepts mint one account.
func (s *Service) AcceptAccountInvitation(ctx context.Context, input AcceptAccountInvitationInput) (map[string]any, error) {
	if input.Token == "" || input.OwnerName == "" || input.Password == "" {
		return nil, errValidation("token, ownerName and password are required")
	}

	invitation, err := s.store.GetAccountInvitationByTokenHash(ctx, auth.HashToken(input.Token))
	if err != nil {
		return nil, err
	}
	if invitation.Status != "PENDING" {
		return nil, errInvitationNotPending(invitation.Status)
	}
	if time.Now().After(invitation.ExpiresAt) {
		if err := s.store.MarkAccountInvitation(ctx, invitation.ID, "EXPIRED"); err != nil {
			s.logger.Warn("mark invitation expired", "invitation", invitation.ID, "error", err)
		}
		return nil, domainError(http.StatusGone, "INVITATION_EXPIRED", "Invitation has expired", nil)
	}

	passwordHash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.AccountName)
	if name == "" {
		name = invitation.AccountName
	}
	slug := strings.TrimSpace(input.Slug)
	if slug == "" {
		slug = slugify(name)
	}

	account := store.Account{
		ID:     util.NewID("acc"),
		Name:   name,
		Slug:   slug,
		Status: "ACTIVE",
	}
	owner := store.User{
		ID:           util.NewID("usr"),
		AccountID:    &account.ID,
		DisplayName:  strings.TrimSpace(input.OwnerName),
		Email:        invitation.Email,
		PasswordHash: passwordHash,
		Role:         string(rbac.RoleOwner),
		Status:       "ACTIVE",
	}
	if err := s.store.AcceptAccountInvitation(ctx, invitation.ID, account, owner); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Zero rows on the claim means another accept won the race.
			return nil, errInvitationNotPending("ACCEPTED")
		}
		return nil, err
	}

	s.audit(Session{UserID: owner.ID, UserName: owner.DisplayName}, "account_invitation.accepted",
		"account", account.ID, account.ID, map[string]any{"invitationId": invitation.ID})
	created, err := s.store.GetAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"account": accountPayload(created)}, nil
}

// requireAccountAccess allows the super admin or a member with
// manage_account on their own account.
func (s *Service) requireAccountAccess(session Session, accountID string) error {
	if session.Role == string(rbac.RoleSuperAdmin) {
		return nil
	}
	if session.AccountID == accountID && s.Can(session.Role, rbac.ActionManageAccount) {
		return nil
	}
	return errForbidden()
}

func errForbidden() error {
	return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func errValidation(message string) error {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, nil)
}

func errInvitationNotPending(status string) error {
	return domainError(http.StatusConflict, "INVITATION_NOT_PENDING",
		"Invitation is "+strings.ToLower(status), nil)
}

func accountPayload(account store.Account) map[string]any {
	return map[string]any{
		"id":        account.ID,
		"name":      account.Name,
		"slug":      account.Slug,
		"status":    account.Status,
		"createdAt": account.CreatedAt,
		"updatedAt": account.UpdatedAt,
	}
}

func accountInvitationPayload(invitation store.AccountInvitation) map[string]any {
	return map[string]any{
		"id":          invitation.ID,
		"email":       invitation.Email,
		"accountName": invitation.AccountName,
		"status":      invitation.Status,
		"invitedBy":   invitation.InvitedBy,
		"expiresAt":   invitation.ExpiresAt,
		"createdAt":   invitation.CreatedAt,
	}
}

func slugify(name string) string {
	var out strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			out.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				out.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(out.String(), "-")
}
