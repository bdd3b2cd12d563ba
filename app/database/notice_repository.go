package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type noticeRepository struct {
	db Executor
}

func NewNoticeRepository(db Executor) NoticeRepository {
	return &noticeRepository{db: db}
}

func (r *noticeRepository) GetNoticeByURI(ctx context.Context, uri string) (*Notice, error) {
	var (
		n         Notice
		replyTo   sql.NullInt64
		createdAt string
	)

	err := r.db.QueryRowContext(ctx, `
		SELECT id, profile_id, uri, content, source, is_local, reply_to, created_at
		FROM notices
		WHERE uri = ?
	`, uri).Scan(&n.ID, &n.ProfileID, &n.URI, &n.Content, &n.Source, &n.IsLocal, &replyTo, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notice: %w", err)
	}

	if replyTo.Valid {
		n.ReplyTo = &replyTo.Int64
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid notice created_at: %w", err)
	}

	return &n, nil
}

func (r *noticeRepository) GetNoticeCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notices`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get notice count: %w", err)
	}
	return count, nil
}

func (r *noticeRepository) GetTags(ctx context.Context, noticeID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tag FROM notice_tags WHERE notice_id = ? ORDER BY tag`, noticeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	var tags []string
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}

	return tags, rows.Err()
}

func (r *noticeRepository) GetMentions(ctx context.Context, noticeID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT profile_id FROM notice_mentions WHERE notice_id = ? ORDER BY profile_id`, noticeID)
}

// InsertNotice returns ErrDuplicate when a notice with the same URI already exists
func (r *noticeRepository) InsertNotice(ctx context.Context, n Notice) (int64, error) {
	var replyTo sql.NullInt64
	if n.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: *n.ReplyTo, Valid: true}
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO notices (profile_id, uri, content, source, is_local, reply_to, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uri) DO NOTHING
		RETURNING id
	`, n.ProfileID, n.URI, n.Content, n.Source, n.IsLocal, replyTo, formatTime(n.CreatedAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert notice: %w", err)
	}

	return id, nil
}

func (r *noticeRepository) InsertTags(ctx context.Context, noticeID int64, tags []string) error {
	for _, tag := range tags {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO notice_tags (notice_id, tag) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, noticeID, tag)
		if err != nil {
			return fmt.Errorf("failed to insert tag %q: %w", tag, err)
		}
	}
	return nil
}

func (r *noticeRepository) InsertMentions(ctx context.Context, noticeID int64, profileIDs []int64) error {
	for _, profileID := range profileIDs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO notice_mentions (notice_id, profile_id) VALUES (?, ?)
			ON CONFLICT DO NOTHING
		`, noticeID, profileID)
		if err != nil {
			return fmt.Errorf("failed to insert mention: %w", err)
		}
	}
	return nil
}

type inboxRepository struct {
	db Executor
}

func NewInboxRepository(db Executor) InboxRepository {
	return &inboxRepository{db: db}
}

// EnsureInboxEntry adds the notice to the user's inbox and reports whether a row was created
func (r *inboxRepository) EnsureInboxEntry(ctx context.Context, userID, noticeID int64, ts time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO inbox_entries (user_id, notice_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT (user_id, notice_id) DO NOTHING
	`, userID, noticeID, formatTime(ts))
	if err != nil {
		return false, fmt.Errorf("failed to insert inbox entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *inboxRepository) GetInbox(ctx context.Context, userID int64) ([]InboxEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, notice_id, created_at
		FROM inbox_entries
		WHERE user_id = ?
		ORDER BY created_at, notice_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox: %w", err)
	}
	defer rows.Close()

	var entries []InboxEntry
	for rows.Next() {
		var (
			e         InboxEntry
			createdAt string
		)
		if err := rows.Scan(&e.UserID, &e.NoticeID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan inbox entry: %w", err)
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("invalid inbox created_at: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (r *inboxRepository) GetInboxCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inbox_entries`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get inbox count: %w", err)
	}
	return count, nil
}

func queryIDs(ctx context.Context, db Executor, query string, args ...any) ([]int64, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}
