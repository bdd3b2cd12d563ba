package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// accountRepository handles database operations for linked accounts
type accountRepository struct {
	db Executor
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db Executor) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, local_user_id, service_id, remote_account_id, remote_screen_name,
	credentials, sync_flags, last_sync_at, created_at`

// GetDueAccounts returns receiving accounts of the given services, least recently synced first
func (r *accountRepository) GetDueAccounts(ctx context.Context, serviceIDs []int) ([]LinkedAccount, error) {
	if len(serviceIDs) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(serviceIDs)+1)
	args = append(args, SyncNoticeReceive)
	for _, id := range serviceIDs {
		args = append(args, id)
	}

	// NULL last_sync_at sorts first in ascending order.
	query := fmt.Sprintf(`
		SELECT %s
		FROM linked_accounts
		WHERE (sync_flags & ?) != 0 AND service_id IN (%s)
		ORDER BY last_sync_at ASC, id ASC
	`, accountColumns, placeholders(len(serviceIDs)))

	return r.query(ctx, query, args...)
}

func (r *accountRepository) GetAccount(ctx context.Context, id int64) (*LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM linked_accounts WHERE id = ?`, id)

	account, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) ListAccounts(ctx context.Context) ([]LinkedAccount, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM linked_accounts ORDER BY service_id, id`)
}

func (r *accountRepository) GetAccountCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM linked_accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get account count: %w", err)
	}
	return count, nil
}

// UpsertAccount inserts a linked account or updates the one with the same service and remote id
func (r *accountRepository) UpsertAccount(ctx context.Context, account LinkedAccount) (int64, error) {
	createdAt := account.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO linked_accounts (local_user_id, service_id, remote_account_id, remote_screen_name,
			credentials, sync_flags, last_sync_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (service_id, remote_account_id) DO UPDATE SET
			local_user_id = excluded.local_user_id,
			remote_screen_name = excluded.remote_screen_name,
			credentials = excluded.credentials,
			sync_flags = excluded.sync_flags
		RETURNING id
	`, account.LocalUserID, account.ServiceID, account.RemoteAccountID, account.RemoteScreenName,
		account.Credentials, account.SyncFlags, nullTime(account.LastSyncAt), formatTime(createdAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert account: %w", err)
	}

	return id, nil
}

func (r *accountRepository) UpdateLastSync(ctx context.Context, id int64, ts time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE linked_accounts SET last_sync_at = ? WHERE id = ?`, formatTime(ts), id)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *accountRepository) query(ctx context.Context, query string, args ...any) ([]LinkedAccount, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var accounts []LinkedAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, *account)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}

	return accounts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*LinkedAccount, error) {
	var (
		a          LinkedAccount
		lastSyncAt sql.NullString
		createdAt  string
	)

	err := s.Scan(&a.ID, &a.LocalUserID, &a.ServiceID, &a.RemoteAccountID, &a.RemoteScreenName,
		&a.Credentials, &a.SyncFlags, &lastSyncAt, &createdAt)
	if err != nil {
		return nil, err
	}

	if a.LastSyncAt, err = parseNullTime(lastSyncAt); err != nil {
		return nil, fmt.Errorf("invalid last_sync_at: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}

	return &a, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
