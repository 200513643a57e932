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

type AcceptUserInvitationInput struct {
	Token       string `json:"token"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

func (s *Service) ListUsers(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	users, err := s.store.ListUsers(ctx, s.accountScope(session))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"users": items}, nil
}

func (s *Service) GetUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	user, err := s.getScopedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": userPayload(user)}, nil
}

func (s *Service) UpdateUser(ctx context.Context, session Session, userID, displayName, role string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	user, err := s.getScopedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = user.DisplayName
	}
	if role == "" {
		role = user.Role
	}
	if role != user.Role {
		// The OWNER role is bound to account creation: it is neither
		// granted nor taken away here.
		if user.Role == string(rbac.RoleOwner) || rbac.Role(role) == rbac.RoleOwner {
			return nil, domainError(http.StatusConflict, "OWNER_ROLE_IMMUTABLE",
				"The owner role cannot be changed", nil)
		}
		if !rbac.Invitable(rbac.Role(role)) {
			return nil, errValidation("role must be one of ADMIN, EDITOR, VIEWER")
		}
	}

	if err := s.store.UpdateUser(ctx, userID, displayName, role); err != nil {
		return nil, err
	}
	updated, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit(session, "user.updated", "user", userID, session.AccountID, map[string]any{
		"displayName": displayName,
		"role":        role,
	})
	return map[string]any{"user": userPayload(updated)}, nil
}

func (s *Service) DeactivateUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	if userID == session.UserID {
		return nil, domainError(http.StatusConflict, "SELF_DEACTIVATION", "You cannot deactivate yourself", nil)
	}
	user, err := s.getScopedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == string(rbac.RoleOwner) && session.Role != string(rbac.RoleSuperAdmin) {
		return nil, errForbidden()
	}
	if user.Status != "ACTIVE" {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"User cannot move from "+user.Status+" to DEACTIVATED", nil)
	}
	return s.setUserStatus(ctx, session, user, "DEACTIVATED", "user.deactivated")
}

func (s *Service) ReactivateUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	user, err := s.getScopedUser(ctx, session, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != "DEACTIVATED" {
		return nil, domainError(http.StatusConflict, "INVALID_TRANSITION",
			"User cannot move from "+user.Status+" to ACTIVE", nil)
	}
	return s.setUserStatus(ctx, session, user, "ACTIVE", "user.reactivated")
}

func (s *Service) setUserStatus(ctx context.Context, session Session, user store.User, status, event string) (map[string]any, error) {
	if err := s.store.UpdateUserStatus(ctx, user.ID, status); err != nil {
		return nil, err
	}
	updated, err := s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	s.audit(session, event, "user", user.ID, session.AccountID, map[string]any{
		"from": user.Status,
		"to":   status,
	})
	return map[string]any{"user": userPayload(updated)}, nil
}

func (s *Service) CreateUserInvitation(ctx context.Context, session Session, email, role string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	accountID, err := requireAccount(session)
	if err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errValidation("email is required")
	}
	if !rbac.Invitable(rbac.Role(role)) {
		return nil, errValidation("role must be one of ADMIN, EDITOR, VIEWER")
	}

	token, err := newInviteToken()
	if err != nil {
		return nil, err
	}
	invitation := store.UserInvitation{
		ID:        util.NewID("uinv"),
		AccountID: accountID,
		Email:     email,
		Role:      role,
		TokenHash: auth.HashToken(token),
		Status:    "PENDING",
		InvitedBy: session.UserName,
		ExpiresAt: time.Now().Add(s.cfg.InvitationTTL),
	}
	if err := s.store.InsertUserInvitation(ctx, invitation); err != nil {
		return nil, err
	}

	payload := map[string]any{"invitation": userInvitationPayload(invitation)}
	if s.email.IsConfigured() {
		account, err := s.store.GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		acceptURL := s.cfg.AppBaseURL + "/invitations/users/accept?token=" + token
		if err := s.email.SendUserInviteEmail(email, account.Name, role, session.UserName, acceptURL); err != nil {
			s.logger.Warn("send user invite email", "error", err)
		}
	} else {
		payload["devToken"] = token
	}

	s.audit(session, "user_invitation.created", "user_invitation", invitation.ID, accountID, map[string]any{
		"email": email,
		"role":  role,
	})
	return payload, nil
}

func (s *Service) ListUserInvitations(ctx context.Context, session Session) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	invitations, err := s.store.ListUserInvitations(ctx, s.accountScope(session))
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invitations))
	for _, invitation := range invitations {
		items = append(items, userInvitationPayload(invitation))
	}
	return map[string]any{"invitations": items}, nil
}

func (s *Service) RevokeUserInvitation(ctx context.Context, session Session, invitationID string) (map[string]any, error) {
	if !s.Can(session.Role, rbac.ActionManageUsers) {
		return nil, errForbidden()
	}
	invitation, err := s.store.GetUserInvitation(ctx, invitationID)
	if err != nil {
		return nil, err
	}
	if session.Role != string(rbac.RoleSuperAdmin) && invitation.AccountID != session.AccountID {
		return nil, sql.ErrNoRows
	}
	if invitation.Status != "PENDING" {
		return nil, errInvitationNotPending(invitation.Status)
	}
	if err := s.store.MarkUserInvitation(ctx, invitationID, "REVOKED"); err != nil {
		return nil, err
	}
	s.audit(session, "user_invitation.revoked", "user_invitation", invitationID, invitation.AccountID, nil)
	return map[string]any{"ok": true}, nil
}

// AcceptUserInvitation creates an ACTIVE user with the invited role. Public.
func (s *Service) AcceptUserInvitation(ctx context.Context, input AcceptUserInvitationInput) (map[string]any, error) {
	if input.Token == "" || input.DisplayName == "" || input.Password == "" {
		return nil, errValidation("token, displayName and password are required")
	}

	invitation, err := s.store.GetUserInvitationByTokenHash(ctx, auth.HashToken(input.Token))
	if err != nil {
		return nil, err
	}
	if invitation.Status != "PENDING" {
		return nil, errInvitationNotPending(invitation.Status)
	}
	if time.Now().After(invitation.ExpiresAt) {
		if err := s.store.MarkUserInvitation(ctx, invitation.ID, "EXPIRED"); err != nil {
			s.logger.Warn("mark invitation expired", "invitation", invitation.ID, "error", err)
		}
		return nil, domainError(http.StatusGone, "INVITATION_EXPIRED", "Invitation has expired", nil)
	}

	account, err := s.store.GetAccount(ctx, invitation.AccountID)
	if err != nil {
		return nil, err
	}
	if account.Status != "ACTIVE" {
		return nil, domainError(http.StatusConflict, "ACCOUNT_INACTIVE",
			"Account is "+strings.ToLower(account.Status), nil)
	}

	passwordHash, err := authpw.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := store.User{
		ID:           util.NewID("usr"),
		AccountID:    &invitation.AccountID,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Email:        invitation.Email,
		PasswordHash: passwordHash,
		Role:         invitation.Role,
		Status:       "ACTIVE",
	}
	// The claim and the insert share a transaction: a duplicate email does
	// not consume the invitation.
	if err := s.store.AcceptUserInvitation(ctx, invitation.ID, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errInvitationNotPending("ACCEPTED")
		}
		return nil, err
	}

	s.audit(Session{UserID: user.ID, UserName: user.DisplayName}, "user_invitation.accepted",
		"user", user.ID, invitation.AccountID, map[string]any{"invitationId": invitation.ID})
	return map[string]any{"user": userPayload(user)}, nil
}

// getScopedUser resolves a user within the caller's account. A user outside
// the scope looks the same as a missing one.
func (s *Service) getScopedUser(ctx context.Context, session Session, userID string) (store.User, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return store.User{}, err
	}
	if session.Role == string(rbac.RoleSuperAdmin) {
		return user, nil
	}
	if user.AccountID == nil || *user.AccountID != session.AccountID {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func userPayload(user store.User) map[string]any {
	payload := map[string]any{
		"id":          user.ID,
		"displayName": user.DisplayName,
		"email":       user.Email,
		"role":        user.Role,
		"status":      user.Status,
		"createdAt":   user.CreatedAt,
		"updatedAt":   user.UpdatedAt,
	}
	if user.AccountID != nil {
		payload["accountId"] = *user.AccountID
	}
	return payload
}

func userInvitationPayload(invitation store.UserInvitation) map[string]any {
	return map[string]any{
		"id":        invitation.ID,
		"accountId": invitation.AccountID,
		"email":     invitation.Email,
		"role":      invitation.Role,
		"status":    invitation.Status,
		"invitedBy": invitation.InvitedBy,
		"expiresAt": invitation.ExpiresAt,
		"createdAt": invitation.CreatedAt,
	}
}
