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

func TestListAccountsRequiresSuperAdmin(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")

	if _, err := env.service.ListAccounts(context.Background(), sessionFor(owner)); err == nil {
		t.Fatal("expected forbidden")
	} else {
		mustDomainError(t, err, 403, "FORBIDDEN")
	}

	payload, err := env.service.ListAccounts(context.Background(), superSession())
	if err != nil {
		t.Fatalf("list accounts: %v", err)
	}
	if len(payload["accounts"].([]map[string]any)) != 1 {
		t.Fatalf("expected one account, got %v", payload["accounts"])
	}
}

func TestAccountStatusMachine(t *testing.T) {
	cases := []struct {
		name    string
		current string
		action  func(*Service, context.Context, Session, string) (map[string]any, error)
		wantErr bool
	}{
		{"suspend active", "ACTIVE", (*Service).SuspendAccount, false},
		{"suspend suspended", "SUSPENDED", (*Service).SuspendAccount, true},
		{"reactivate suspended", "SUSPENDED", (*Service).ReactivateAccount, false},
		{"reactivate active", "ACTIVE", (*Service).ReactivateAccount, true},
		{"close active", "ACTIVE", (*Service).CloseAccount, false},
		{"close suspended", "SUSPENDED", (*Service).CloseAccount, false},
		{"close closed", "CLOSED", (*Service).CloseAccount, true},
		{"reactivate closed", "CLOSED", (*Service).ReactivateAccount, true},
		{"suspend closed", "CLOSED", (*Service).SuspendAccount, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv()
			env.addAccount("acc1", tc.current)

			_, err := tc.action(env.service, context.Background(), superSession(), "acc1")
			if tc.wantErr {
				mustDomainError(t, err, 409, "INVALID_TRANSITION")
				return
			}
			if err != nil {
				t.Fatalf("transition: %v", err)
			}
		})
	}
}

func TestAccountTransitionsAreSuperAdminOnly(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")

	_, err := env.service.SuspendAccount(context.Background(), sessionFor(owner), "acc1")
	mustDomainError(t, err, 403, "FORBIDDEN")
}

func TestUpdateAccountScopedToOwnAccount(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addAccount("acc2", "ACTIVE")
	owner := env.addUser("usr1", "acc1", "OWNER", "ACTIVE")
	admin := env.addUser("usr2", "acc1", "ADMIN", "ACTIVE")

	payload, err := env.service.UpdateAccount(context.Background(), sessionFor(owner), "acc1", "Renamed LLP")
	if err != nil {
		t.Fatalf("owner update own account: %v", err)
	}
	if payload["account"].(map[string]any)["name"] != "Renamed LLP" {
		t.Fatalf("unexpected payload: %v", payload)
	}

	// Admins lack manage_account.
	_, err = env.service.UpdateAccount(context.Background(), sessionFor(admin), "acc1", "Nope")
	mustDomainError(t, err, 403, "FORBIDDEN")

	// Another tenant's account is off limits regardless of role.
	_, err = env.service.UpdateAccount(context.Background(), sessionFor(owner), "acc2", "Nope")
	mustDomainError(t, err, 403, "FORBIDDEN")
}

func TestCreateAccountProvisionsOwner(t *testing.T) {
	env := newTestEnv()

	payload, err := env.service.CreateAccount(context.Background(), superSession(), CreateAccountInput{
		Name:          "Smith & Partners",
		OwnerEmail:    "Jo.Smith@Example.com",
		OwnerPassword: "password123",
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	account := payload["account"].(map[string]any)
	if account["slug"] != "smith-partners" {
		t.Fatalf("expected slug derived from name, got %v", account["slug"])
	}

	owner, err := env.store.GetUserByEmail(context.Background(), "jo.smith@example.com")
	if err != nil {
		t.Fatalf("owner not created: %v", err)
	}
	if owner.Role != "OWNER" || owner.Status != "ACTIVE" {
		t.Fatalf("unexpected owner: %+v", owner)
	}
	if owner.AccountID == nil || *owner.AccountID != account["id"] {
		t.Fatalf("owner not bound to account: %+v", owner)
	}
}

func TestCreateAccountInvitationDevToken(t *testing.T) {
	env := newTestEnv()

	payload, err := env.service.CreateAccountInvitation(context.Background(), superSession(), "new@firm.example", "New Firm")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	token, ok := payload["devToken"].(string)
	if !ok || token == "" {
		t.Fatal("expected dev token when mailer is unconfigured")
	}

	// The stored record holds only the hash.
	invitation, err := env.store.GetAccountInvitationByTokenHash(context.Background(), auth.HashToken(token))
	if err != nil {
		t.Fatalf("lookup by token hash: %v", err)
	}
	if invitation.Status != "PENDING" || invitation.TokenHash == token {
		t.Fatalf("unexpected invitation: %+v", invitation)
	}
}

func TestCreateAccountInvitationSendsEmailWhenConfigured(t *testing.T) {
	env := newTestEnv()
	env.mailer.configured = true

	payload, err := env.service.CreateAccountInvitation(context.Background(), superSession(), "new@firm.example", "New Firm")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	if _, ok := payload["devToken"]; ok {
		t.Fatal("dev token must not surface when mail is configured")
	}
	if len(env.mailer.sent) != 1 || env.mailer.sent[0] != "account-invite:new@firm.example" {
		t.Fatalf("expected invite email, got %v", env.mailer.sent)
	}
}

func TestAcceptAccountInvitationCreatesAccountAndOwner(t *testing.T) {
	env := newTestEnv()
	payload, err := env.service.CreateAccountInvitation(context.Background(), superSession(), "new@firm.example", "New Firm")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	token := payload["devToken"].(string)

	accepted, err := env.service.AcceptAccountInvitation(context.Background(), AcceptAccountInvitationInput{
		Token:     token,
		OwnerName: "Jo Smith",
		Password:  "password123",
	})
	if err != nil {
		t.Fatalf("accept invitation: %v", err)
	}

	account := accepted["account"].(map[string]any)
	if account["name"] != "New Firm" || account["status"] != "ACTIVE" {
		t.Fatalf("unexpected account: %v", account)
	}

	owner, err := env.store.GetUserByEmail(context.Background(), "new@firm.example")
	if err != nil {
		t.Fatalf("owner not created: %v", err)
	}
	if owner.Role != "OWNER" {
		t.Fatalf("expected OWNER, got %s", owner.Role)
	}

	// The token is single-use.
	_, err = env.service.AcceptAccountInvitation(context.Background(), AcceptAccountInvitationInput{
		Token:     token,
		OwnerName: "Second",
		Password:  "password123",
	})
	mustDomainError(t, err, 409, "INVITATION_NOT_PENDING")
}

func TestAcceptAccountInvitationExpired(t *testing.T) {
	env := newTestEnv()
	env.store.accountInvites["ainv1"] = store.AccountInvitation{
		ID:          "ainv1",
		Email:       "late@firm.example",
		AccountName: "Late Firm",
		TokenHash:   auth.HashToken("stale-token"),
		Status:      "PENDING",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}

	_, err := env.service.AcceptAccountInvitation(context.Background(), AcceptAccountInvitationInput{
		Token:     "stale-token",
		OwnerName: "Late",
		Password:  "password123",
	})
	mustDomainError(t, err, 410, "INVITATION_EXPIRED")

	invitation, _ := env.store.GetAccountInvitation(context.Background(), "ainv1")
	if invitation.Status != "EXPIRED" {
		t.Fatalf("expected EXPIRED mark, got %s", invitation.Status)
	}
}

func TestAcceptAccountInvitationRaceLoser(t *testing.T) {
	env := newTestEnv()
	env.store.accountInvites["ainv1"] = store.AccountInvitation{
		ID:          "ainv1",
		Email:       "race@firm.example",
		AccountName: "Race Firm",
		TokenHash:   auth.HashToken("race-token"),
		Status:      "PENDING",
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	// The mark hits zero rows: another accept got there first.
	env.store.markAccountInvitationFn = func(context.Context, string, string) error {
		return sql.ErrNoRows
	}

	_, err := env.service.AcceptAccountInvitation(context.Background(), AcceptAccountInvitationInput{
		Token:     "race-token",
		OwnerName: "Racer",
		Password:  "password123",
	})
	mustDomainError(t, err, 409, "INVITATION_NOT_PENDING")
}

func TestAcceptAccountInvitationRetryAfterFailedCreate(t *testing.T) {
	env := newTestEnv()
	env.addAccount("acc1", "ACTIVE")
	env.addUser("taken", "acc1", "EDITOR", "ACTIVE")
	env.store.accountInvites["ainv1"] = store.AccountInvitation{
		ID:          "ainv1",
		Email:       "taken@example.com",
		AccountName: "Second Firm",
		TokenHash:   auth.HashToken("retry-token"),
		Status:      "PENDING",
		ExpiresAt:   time.Now().Add(time.Hour),
	}

	input := AcceptAccountInvitationInput{
		Token:     "retry-token",
		OwnerName: "Taken Owner",
		Password:  "password123",
	}
	_, err := env.service.AcceptAccountInvitation(context.Background(), input)
	if !errors.Is(err, store.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	// The failed create must not consume the invitation.
	invitation, _ := env.store.GetAccountInvitation(context.Background(), "ainv1")
	if invitation.Status != "PENDING" {
		t.Fatalf("expected invitation to stay PENDING, got %s", invitation.Status)
	}

	// Once the conflicting user is gone the same token works.
	env.store.mu.Lock()
	delete(env.store.users, "taken")
	env.store.mu.Unlock()
	if _, err := env.service.AcceptAccountInvitation(context.Background(), input); err != nil {
		t.Fatalf("retry after clearing conflict: %v", err)
	}
}

func TestRevokeAccountInvitation(t *testing.T) {
	env := newTestEnv()
	payload, err := env.service.CreateAccountInvitation(context.Background(), superSession(), "new@firm.example", "New Firm")
	if err != nil {
		t.Fatalf("create invitation: %v", err)
	}
	invitationID := payload["invitation"].(map[string]any)["id"].(string)

	if _, err := env.service.RevokeAccountInvitation(context.Background(), superSession(), invitationID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	// Revoking again conflicts, and the token no longer accepts.
	_, err = env.service.RevokeAccountInvitation(context.Background(), superSession(), invitationID)
	mustDomainError(t, err, 409, "INVITATION_NOT_PENDING")
}

func TestRevokeAccountInvitationUnknownID(t *testing.T) {
	env := newTestEnv()
	_, err := env.service.RevokeAccountInvitation(context.Background(), superSession(), "ainv_missing")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected ErrNoRows, got %v", err)
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Smith & Partners":  "smith-partners",
		"  Harbour  Law  ":  "harbour-law",
		"Éclair Légal":      "clair-l-gal",
		"UPPER case 42 LLP": "upper-case-42-llp",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Fatalf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
