package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertAccountInvitation(ctx context.Context, item AccountInvitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO account_invitations (id, email, account_name, token_hash, status, invited_by, expires_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7)
	`, item.ID, item.Email, item.AccountName, item.TokenHash, item.Status, item.InvitedBy, item.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account invitation: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAccountInvitations(ctx context.Context) ([]AccountInvitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, account_name, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM account_invitations
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list account invitations: %w", err)
	}
	defer rows.Close()

	items := make([]AccountInvitation, 0)
	for rows.Next() {
		var item AccountInvitation
		if err := rows.Scan(&item.ID, &item.Email, &item.AccountName, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan account invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAccountInvitation(ctx context.Context, invitationID string) (AccountInvitation, error) {
	var item AccountInvitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, account_name, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM account_invitations
		WHERE id=$1
	`, invitationID).Scan(&item.ID, &item.Email, &item.AccountName, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt)
	if err != nil {
		return AccountInvitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetAccountInvitationByTokenHash(ctx context.Context, tokenHash string) (AccountInvitation, error) {
	var item AccountInvitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, account_name, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM account_invitations
		WHERE token_hash=$1
	`, tokenHash).Scan(&item.ID, &item.Email, &item.AccountName, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt)
	if err != nil {
		return AccountInvitation{}, err
	}
	return item, nil
}

// MarkAccountInvitation transitions a PENDING invitation; the WHERE clause
// makes concurrent accepts race-safe, the loser sees sql.ErrNoRows.
func (s *PostgresStore) MarkAccountInvitation(ctx context.Context, invitationID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_invitations
		SET status=$2,
			accepted_at=CASE WHEN $2='ACCEPTED' THEN NOW() ELSE accepted_at END,
			revoked_at=CASE WHEN $2='REVOKED' THEN NOW() ELSE revoked_at END
		WHERE id=$1 AND status='PENDING'
	`, invitationID, status)
	if err != nil {
		return fmt.Errorf("mark account invitation: %w", err)
	}
	return requireRow(res)
}

// AcceptAccountInvitation claims the PENDING invitation and creates the
// account with its OWNER in one transaction. A failed create rolls the
// claim back, so the invitation stays usable; losing the claim race
// surfaces as sql.ErrNoRows.
func (s *PostgresStore) AcceptAccountInvitation(ctx context.Context, invitationID string, account Account, owner User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept invitation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE account_invitations
		SET status='ACCEPTED', accepted_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, invitationID)
	if err != nil {
		return fmt.Errorf("mark account invitation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, name, slug, status)
		VALUES ($1, $2, $3, $4)
	`, account.ID, account.Name, account.Slug, account.Status); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, account_id, display_name, email, password_hash, role, status)
		VALUES ($1, $2, $3, LOWER($4), $5, $6, $7)
	`, owner.ID, account.ID, owner.DisplayName, owner.Email, owner.PasswordHash, owner.Role, owner.Status); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accept invitation tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertUserInvitation(ctx context.Context, item UserInvitation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_invitations (id, account_id, email, role, token_hash, status, invited_by, expires_at)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
	`, item.ID, item.AccountID, item.Email, item.Role, item.TokenHash, item.Status, item.InvitedBy, item.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user invitation: %w", err)
	}
	return nil
}

// ListUserInvitations scopes to one account; empty means platform-wide,
// same contract as ListUsers and ListDocuments.
func (s *PostgresStore) ListUserInvitations(ctx context.Context, accountID string) ([]UserInvitation, error) {
	query := `
		SELECT id, account_id, email, role, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM user_invitations
	`
	args := []any{}
	if accountID != "" {
		query += ` WHERE account_id=$1`
		args = append(args, accountID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list user invitations: %w", err)
	}
	defer rows.Close()

	items := make([]UserInvitation, 0)
	for rows.Next() {
		var item UserInvitation
		if err := rows.Scan(&item.ID, &item.AccountID, &item.Email, &item.Role, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user invitation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user invitations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetUserInvitation(ctx context.Context, invitationID string) (UserInvitation, error) {
	var item UserInvitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, email, role, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM user_invitations
		WHERE id=$1
	`, invitationID).Scan(&item.ID, &item.AccountID, &item.Email, &item.Role, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt)
	if err != nil {
		return UserInvitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetUserInvitationByTokenHash(ctx context.Context, tokenHash string) (UserInvitation, error) {
	var item UserInvitation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, account_id, email, role, token_hash, status, invited_by, expires_at, accepted_at, revoked_at, created_at
		FROM user_invitations
		WHERE token_hash=$1
	`, tokenHash).Scan(&item.ID, &item.AccountID, &item.Email, &item.Role, &item.TokenHash, &item.Status, &item.InvitedBy, &item.ExpiresAt, &item.AcceptedAt, &item.RevokedAt, &item.CreatedAt)
	if err != nil {
		return UserInvitation{}, err
	}
	return item, nil
}

func (s *PostgresStore) MarkUserInvitation(ctx context.Context, invitationID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_invitations
		SET status=$2,
			accepted_at=CASE WHEN $2='ACCEPTED' THEN NOW() ELSE accepted_at END,
			revoked_at=CASE WHEN $2='REVOKED' THEN NOW() ELSE revoked_at END
		WHERE id=$1 AND status='PENDING'
	`, invitationID, status)
	if err != nil {
		return fmt.Errorf("mark user invitation: %w", err)
	}
	return requireRow(res)
}

// AcceptUserInvitation claims the PENDING invitation and creates the member
// in one transaction, same rollback semantics as AcceptAccountInvitation.
func (s *PostgresStore) AcceptUserInvitation(ctx context.Context, invitationID string, user User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin accept invitation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE user_invitations
		SET status='ACCEPTED', accepted_at=NOW()
		WHERE id=$1 AND status='PENDING'
	`, invitationID)
	if err != nil {
		return fmt.Errorf("mark user invitation: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, account_id, display_name, email, password_hash, role, status)
		VALUES ($1, $2, $3, LOWER($4), $5, $6, $7)
	`, user.ID, user.AccountID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.Status); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit accept invitation tx: %w", err)
	}
	return nil
}

// ExpireOverdueInvitations is the housekeeping sweep; expiry is also
// enforced at accept time, this keeps listings honest.
func (s *PostgresStore) ExpireOverdueInvitations(ctx context.Context) (int64, error) {
	var total int64
	res, err := s.db.ExecContext(ctx, `
		UPDATE account_invitations SET status='EXPIRED' WHERE status='PENDING' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("expire account invitations: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	res, err = s.db.ExecContext(ctx, `
		UPDATE user_invitations SET status='EXPIRED' WHERE status='PENDING' AND expires_at <= NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("expire user invitations: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}
	return total, nil
}
