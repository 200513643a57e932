package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, status, suspended_at, closed_at, created_at, updated_at
		FROM accounts
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	items := make([]Account, 0)
	for rows.Next() {
		var item Account
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Status, &item.SuspendedAt, &item.ClosedAt, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate accounts: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (Account, error) {
	var item Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, status, suspended_at, closed_at, created_at, updated_at
		FROM accounts
		WHERE id=$1
	`, accountID).Scan(&item.ID, &item.Name, &item.Slug, &item.Status, &item.SuspendedAt, &item.ClosedAt, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Account{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertAccount(ctx context.Context, item Account) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, name, slug, status)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.Slug, item.Status)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAccount(ctx context.Context, accountID, name string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET name=$2, updated_at=NOW() WHERE id=$1
	`, accountID, name)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) UpdateAccountStatus(ctx context.Context, accountID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET status=$2,
			suspended_at=CASE WHEN $2='SUSPENDED' THEN NOW() ELSE NULL END,
			closed_at=CASE WHEN $2='CLOSED' THEN NOW() ELSE closed_at END,
			updated_at=NOW()
		WHERE id=$1
	`, accountID, status)
	if err != nil {
		return fmt.Errorf("update account status: %w", err)
	}
	return requireRow(res)
}

// CreateAccountWithOwner inserts the account and its OWNER user in one
// transaction, so an accepted account invitation is all-or-nothing.
func (s *PostgresStore) CreateAccountWithOwner(ctx context.Context, account Account, owner User) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create account tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

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
		return fmt.Errorf("commit create account tx: %w", err)
	}
	return nil
}
