package app

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"lexrelay/internal/auth"
	"lexrelay/internal/store"
)

func TestListUsersRequiresManageUsers(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	editor := env.addUser("usr1", "acc1", "EDITOR", "ACTIVE")

	_, err := env.service.ListUsers(context.Background(), sessionFor(editor))
	mustDomainError(t, err, 403, "FORBIDDEN")
}

func TestListUsersScopedToAccount(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr2", "acc1", "EDITOR", "ACTIVE")
	env.addUser("usr3", "acc2", "EDITOR", "ACTIVE")

	payload, err := env.service.ListUsers(context.Background(), sessionFor(owner))
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if got := len(payload["users"].([]map[string]any)); got != 2 {
		t.Fatalf("expected 2 users in acc1, got %d", got)
	}

	// The super admin sees everyone.
	payload, err = env.service.ListUsers(context.Background(), superSession())
	if err != nil {
		t.Fatalf("list users as super admin: %v", err)
	}
	if got := len(payload["users"].([]map[string]any)); got != 3 {
		t.Fatalf("expected 3 users platform-wide, got %d", got)
	}
}

func TestGetUserHidesOtherAccounts(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr3", "acc2", "EDITOR", "ACTIVE")

	// Cross-tenant lookups are indistinguishable from missing users.
	_, err := env.service.GetUser(context.Background(), sessionFor(owner), "usr3")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	if _, err := env.service.GetUser(context.Background(), superSession(), "usr3"); err != nil {
		t.Fatalf("super admin lookup: %v", err)
	}
}

func TestUpdateUserOwnerRoleImmutable(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr2", "acc1", "ADMIN", "ACTIVE")

	// Owner cannot be demoted.
	_, err := env.service.UpdateUser(context.Background(), sessionFor(owner), "usr1", "", "ADMIN")
	mustDomainError(t, err, 409, "OWNER_ROLE_IMMUTABLE")

	// Nobody can be promoted to owner.
	_, err = env.service.UpdateUser(context.Background(), sessionFor(owner), "usr2", "", "OWNER")
	mustDomainError(t, err, 409, "OWNER_ROLE_IMMUTABLE")

	// Renaming the owner without a role change is fine.
	payload, err := env.service.UpdateUser(context.Background(), sessionFor(owner), "usr1", "Jo Renamed", "")
	if err != nil {
		t.Fatalf("rename owner: %v", err)
	}
	if payload["user"].(map[string]any)["displayName"] != "Jo Renamed" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestUpdateUserRejectsUnknownRole(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr2", "acc1", "EDITOR", "ACTIVE")

	_, err := env.service.UpdateUser(context.Background(), sessionFor(owner), "usr2", "", "SUPER_ADMIN")
	mustDomainError(t, err, 422, "VALIDATION_ERROR")
}

func TestDeactivateUserRules(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr2", "acc1", "EDITOR", "ACTIVE")
	admin := env.addUser("usr3", "acc1", "ADMIN", "ACTIVE")

	// Self-deactivation is blocked.
	_, err := env.service.DeactivateUser(context.Background(), sessionFor(owner), "usr1")
	mustDomainError(t, err, 409, "SELF_DEACTIVATION")

	// Only the super admin may deactivate an owner.
	_, err = env.service.DeactivateUser(context.Background(), sessionFor(admin), "usr1")
	mustDomainError(t, err, 403, "FORBIDDEN")
	if _, err := env.service.DeactivateUser(context.Background(), superSession(), "usr1"); err != nil {
		t.Fatalf("super admin deactivate owner: %v", err)
	}

	// Regular member path, then double-deactivation conflicts.
	if _, err := env.service.DeactivateUser(context.Background(), sessionFor(admin), "usr2"); err != nil {
		t.Fatalf("deactivate editor: %v", err)
	}
	_, err = env.service.DeactivateUser(context.Background(), sessionFor(admin), "usr2")
	mustDomainError(t, err, 409, "INVALID_TRANSITION")
}

func TestReactivateUser(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.addUser("usr2", "acc1", "EDITOR", "DEACTIVATED")

	payload, err := env.service.ReactivateUser(context.Background(), sessionFor(owner), "usr2")
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if payload["user"].(map[string]any)["status"] != "ACTIVE" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	_, err = env.service.ReactivateUser(context.Background(), sessionFor(owner), "usr2")
	mustDomainError(t, err, 409, "INVALID_TRANSITION")
}

func TestCreateUserInvitationValidatesRole(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")

	for _, role := range []string{"OWNER", "SUPER_ADMIN", "JANITOR", ""} {
		_, err := env.service.CreateUserInvitation(context.Background(), sessionFor(owner), "new@example.com", role)
		mustDomainError(t, err, 422, "VALIDATION_ERROR")
	}

	payload, err := env.service.CreateUserInvitation(context.Background(), sessionFor(owner), "New@Example.com", "EDITOR")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	invitation := payload["invitation"].(map[string]any)
	if invitation["email"] != "new@example.com" || invitation["role"] != "EDITOR" {
		t.Fatalf("unexpected invitation: %v", invitation)
	}
	if _, ok := payload["devToken"].(string); !ok {
		t.Fatal("expected dev token when mailer is unconfigured")
	}
}

func TestCreateUserInvitationRequiresAccount(t *testing.T) {
	env := newTestEnv()

	// The super admin has no account of their own to invite into.
	_, err := env.service.CreateUserInvitation(context.Background(), superSession(), "new@example.com", "EDITOR")
	mustDomainError(t, err, 403, "FORBIDDEN")
}

func TestListUserInvitationsScopedToAccount(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.store.userInvites["uinv1"] = store.UserInvitation{
		ID: "uinv1", AccountID: "acc1", Email: "one@example.com", Role: "EDITOR",
		Status: "PENDING", ExpiresAt: time.Now().Add(time.Hour),
	}
	env.store.userInvites["uinv2"] = store.UserInvitation{
		ID: "uinv2", AccountID: "acc2", Email: "two@example.com", Role: "VIEWER",
		Status: "PENDING", ExpiresAt: time.Now().Add(time.Hour),
	}

	payload, err := env.service.ListUserInvitations(context.Background(), sessionFor(owner))
	if err != nil {
		t.Fatalf("list invitations: %v", err)
	}
	if got := len(payload["invitations"].([]map[string]any)); got != 1 {
		t.Fatalf("expected 1 invitation in acc1, got %d", got)
	}

	// The super admin sees every account's invitations.
	payload, err = env.service.ListUserInvitations(context.Background(), superSession())
	if err != nil {
		t.Fatalf("list invitations as super admin: %v", err)
	}
	if got := len(payload["invitations"].([]map[string]any)); got != 2 {
		t.Fatalf("expected 2 invitations platform-wide, got %d", got)
	}
}

func TestRevokeUserInvitationCrossAccountHidden(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	env.store.userInvites["uinv1"] = store.UserInvitation{
		ID:        "uinv1",
		AccountID: "acc2",
		Email:     "other@example.com",
		Role:      "EDITOR",
		Status:    "PENDING",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	_, err := env.service.RevokeUserInvitation(context.Background(), sessionFor(owner), "uinv1")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}

	if _, err := env.service.RevokeUserInvitation(context.Background(), superSession(), "uinv1"); err != nil {
		t.Fatalf("super admin revoke: %v", err)
	}
}

func TestAcceptUserInvitation(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")

	payload, err := env.service.CreateUserInvitation(context.Background(), sessionFor(owner), "new@example.com", "EDITOR")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	token := payload["devToken"].(string)

	accepted, err := env.service.AcceptUserInvitation(context.Background(), AcceptUserInvitationInput{
		Token:       token,
		DisplayName: "New Editor",
		Password:    "password123",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	user := accepted["user"].(map[string]any)
	if user["role"] != "EDITOR" || user["status"] != "ACTIVE" || user["accountId"] != "acc1" {
		t.Fatalf("unexpected user: %v", user)
	}

	// The new credentials work immediately.
	if _, err := env.service.Login(context.Background(), "new@example.com", "password123"); err != nil {
		t.Fatalf("login after accept: %v", err)
	}

	// The token is single-use.
	_, err = env.service.AcceptUserInvitation(context.Background(), AcceptUserInvitationInput{
		Token:       token,
		DisplayName: "Copycat",
		Password:    "password123",
	})
	mustDomainError(t, err, 409, "INVITATION_NOT_PENDING")
}

func TestAcceptUserInvitationInactiveAccount(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "SUSPENDED")
	env.store.userInvites["uinv1"] = store.UserInvitation{
		ID:        "uinv1",
		AccountID: "acc1",
		Email:     "new@example.com",
		Role:      "VIEWER",
		TokenHash: auth.HashToken("invite-token"),
		Status:    "PENDING",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	_, err := env.service.AcceptUserInvitation(context.Background(), AcceptUserInvitationInput{
		Token:       "invite-token",
		DisplayName: "New",
		Password:    "password123",
	})
	mustDomainError(t, err, 409, "ACCOUNT_INACTIVE")
}

func TestAcceptUserInvitationExpired(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.store.userInvites["uinv1"] = store.UserInvitation{
		ID:        "uinv1",
		AccountID: "acc1",
		Email:     "late@example.com",
		Role:      "VIEWER",
		TokenHash: auth.HashToken("stale-token"),
		Status:    "PENDING",
		ExpiresAt: time.Now().Add(-time.Minute),
	}

	_, err := env.service.AcceptUserInvitation(context.Background(), AcceptUserInvitationInput{
		Token:       "stale-token",
		DisplayName: "Late",
		Password:    "password123",
	})
	mustDomainError(t, err, 410, "INVITATION_EXPIRED")

	invitation, _ := env.store.GetUserInvitation(context.Background(), "uinv1")
	if invitation.Status != "EXPIRED" {
		t.Fatalf("expected EXPIRED mark, got %s", invitation.Status)
	}
}

func TestAcceptUserInvitationDuplicateEmail(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addUser("existing", "acc1", "EDITOR", "ACTIVE")
	env.store.userInvites["uinv1"] = store.UserInvitation{
		ID:        "uinv1",
		AccountID: "acc1",
		Email:     "existing@example.com",
		Role:      "VIEWER",
		TokenHash: auth.HashToken("dup-token"),
		Status:    "PENDING",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	input := AcceptUserInvitationInput{
		Token:       "dup-token",
		DisplayName: "Dup",
		Password:    "password123",
	}
	_, err := env.service.AcceptUserInvitation(context.Background(), input)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// The failed create must not consume the invitation.
	invitation, _ := env.store.GetUserInvitation(context.Background(), "uinv1")
	if invitation.Status != "PENDING" {
		t.Fatalf("expected invitation to stay PENDING, got %s", invitation.Status)
	}

	// Once the conflicting member is gone the same token works.
	env.store.mu.Lock()
	delete(env.store.users, "existing")
	env.store.mu.Unlock()
	if _, err := env.service.AcceptUserInvitation(context.Background(), input); err != nil {
		t.Fatalf("retry after clearing conflict: %v", err)
	}
}
