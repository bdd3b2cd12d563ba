package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type avatarRepository struct {
	db Executor
}

func NewAvatarRepository(db Executor) AvatarRepository {
	return &avatarRepository{db: db}
}

const avatarColumns = `id, profile_id, size_variant, width, height, media_type, filename, url, created_at`

func (r *avatarRepository) GetAvatar(ctx context.Context, profileID int64, variant string) (*Avatar, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+avatarColumns+`
		FROM avatars
		WHERE profile_id = ? AND size_variant = ?
	`, profileID, variant)

	avatar, err := scanAvatar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get avatar: %w", err)
	}

	return avatar, nil
}

func (r *avatarRepository) ListAvatars(ctx context.Context, profileID int64) ([]Avatar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+avatarColumns+`
		FROM avatars
		WHERE profile_id = ?
		ORDER BY width
	`, profileID)
	if err != nil {
		return nil, fmt.Errorf("failed to query avatars: %w", err)
	}
	defer rows.Close()

	var avatars []Avatar
	for rows.Next() {
		avatar, err := scanAvatar(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan avatar: %w", err)
		}
		avatars = append(avatars, *avatar)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate avatars: %w", err)
	}

	return avatars, nil
}

func (r *avatarRepository) GetAvatarCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM avatars`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get avatar count: %w", err)
	}
	return count, nil
}

// InsertAvatar returns ErrDuplicate when the profile already has a row for the variant
func (r *avatarRepository) InsertAvatar(ctx context.Context, a Avatar) (int64, error) {
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO avatars (profile_id, size_variant, width, height, media_type, filename, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_id, size_variant) DO NOTHING
		RETURNING id
	`, a.ProfileID, a.SizeVariant, a.Width, a.Height, a.MediaType, a.Filename, a.URL, formatTime(createdAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert avatar: %w", err)
	}

	return id, nil
}

func (r *avatarRepository) DeleteAvatar(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM avatars WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete avatar: %w", err)
	}
	return nil
}

func scanAvatar(s scanner) (*Avatar, error) {
	var (
		a         Avatar
		createdAt string
	)

	err := s.Scan(&a.ID, &a.ProfileID, &a.SizeVariant, &a.Width, &a.Height, &a.MediaType,
		&a.Filename, &a.URL, &createdAt)
	if err != nil {
		return nil, err
	}

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid avatar created_at: %w", err)
	}

	return &a, nil
}
