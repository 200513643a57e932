package authpw

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"lexrelay/internal/auth"
	"lexrelay/internal/store"
)

// mockUserStore is a mock implementation of UserStore for testing
type mockUserStore struct {
	users      map[string]store.User
	emailIndex map[string]string // email -> userID
	resets     map[string]struct {
		userID    string
		expiresAt time.Time
		used      bool
	}
}

func newMockUserStore() *mockUserStore {
	return &mockUserStore{
		users:      make(map[string]store.User),
		emailIndex: make(map[string]string),
		resets: make(map[string]struct {
			userID    string
			expiresAt time.Time
			used      bool
		}),
	}
}

func (m *mockUserStore) addUser(id, email, password, status string) {
	hash, _ := HashPassword(password)
	m.users[id] = store.User{
		ID:           id,
		DisplayName:  "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         "EDITOR",
		Status:       status,
	}
	m.emailIndex[email] = id
}

func (m *mockUserStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if userID, ok := m.emailIndex[email]; ok {
		return m.users[userID], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *mockUserStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	if user, ok := m.users[userID]; ok {
		user.PasswordHash = passwordHash
		m.users[userID] = user
		return nil
	}
	return errors.New("user not found")
}

func (m *mockUserStore) SavePasswordReset(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	m.resets[tokenHash] = struct {
		userID    string
		expiresAt time.Time
		used      bool
	}{userID: userID, expiresAt: expiresAt, used: false}
	return nil
}

func (m *mockUserStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	if reset, ok := m.resets[tokenHash]; ok && !reset.used && time.Now().Before(reset.expiresAt) {
		reset.used = true
		m.resets[tokenHash] = reset
		return reset.userID, nil
	}
	return "", errors.New("invalid or expired token")
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.addUser("user-1", "test@example.com", "password123", "ACTIVE")
	mockStore.addUser("user-2", "disabled@example.com", "password123", "DEACTIVATED")
	svc := NewService(mockStore)

	t.Run("successful sign in", func(t *testing.T) {
		user, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if user.Email != "test@example.com" {
			t.Errorf("expected email test@example.com, got %s", user.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "wrongpassword",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("non-existent user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "nonexistent@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials, got %v", err)
		}
	})

	t.Run("deactivated user", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{
			Email:    "disabled@example.com",
			Password: "password123",
		})
		if !errors.Is(err, ErrUserDisabled) {
			t.Errorf("expected ErrUserDisabled, got %v", err)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.SignIn(ctx, SignInRequest{})
		if err == nil {
			t.Error("expected error for missing fields")
		}
	})
}

// The unknown-email branch compares against dummyHash to equalize timing,
// which only works when the hash decodes as real bcrypt output.
func TestDummyHashIsWellFormed(t *testing.T) {
	if len(dummyHash) == 0 {
		t.Fatal("dummy hash was not generated")
	}
	err := bcrypt.CompareHashAndPassword(dummyHash, []byte("not the padding value"))
	if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		t.Fatalf("expected a full mismatch comparison, got %v", err)
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	mockStore := newMockUserStore()
	mockStore.addUser("user-1", "test@example.com", "password123", "ACTIVE")
	svc := NewService(mockStore)

	t.Run("request reset for existing user", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "test@example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if token == "" {
			t.Error("expected token to be generated")
		}
		// Only the hash is stored
		if _, ok := mockStore.resets[token]; ok {
			t.Error("raw token must not be stored")
		}
		if _, ok := mockStore.resets[auth.HashToken(token)]; !ok {
			t.Error("expected hashed token to be stored")
		}
	})

	t.Run("request reset for non-existent user - no error", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "nonexistent@example.com")
		if err != nil {
			t.Errorf("expected no error for non-existent user, got: %v", err)
		}
		if token != "" {
			t.Error("expected empty token for unknown email")
		}
	})

	t.Run("reset password with valid token", func(t *testing.T) {
		token, _ := svc.RequestPasswordReset(ctx, "test@example.com")

		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       token,
			NewPassword: "newpassword123",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Verify old password doesn't work
		if _, err = svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "password123",
		}); err == nil {
			t.Error("expected old password to not work")
		}

		// Verify new password works
		if _, err = svc.SignIn(ctx, SignInRequest{
			Email:    "test@example.com",
			Password: "newpassword123",
		}); err != nil {
			t.Errorf("expected new password to work: %v", err)
		}

		// Token is single-use
		if err = svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       token,
			NewPassword: "anotherpassword1",
		}); err == nil {
			t.Error("expected error for reused token")
		}
	})

	t.Run("reset with invalid token", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "invalid-token",
			NewPassword: "newpassword123",
		})
		if !errors.Is(err, ErrInvalidResetToken) {
			t.Errorf("expected ErrInvalidResetToken, got %v", err)
		}
	})

	t.Run("reset with short password", func(t *testing.T) {
		err := svc.ResetPassword(ctx, ResetPasswordRequest{
			Token:       "some-token",
			NewPassword: "short",
		})
		if err == nil {
			t.Error("expected error for short password")
		}
	})
}
