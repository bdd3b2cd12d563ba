package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type profileRepository struct {
	db Executor
}

func NewProfileRepository(db Executor) ProfileRepository {
	return &profileRepository{db: db}
}

const profileColumns = `id, nickname, fullname, homepage, bio, location, profile_url, created_at`

func (r *profileRepository) GetProfile(ctx context.Context, id int64) (*Profile, error) {
	return r.get(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = ?`, id)
}

func (r *profileRepository) GetProfileByURL(ctx context.Context, profileURL string) (*Profile, error) {
	return r.get(ctx, `SELECT `+profileColumns+` FROM profiles WHERE profile_url = ?`, profileURL)
}

// GetProfileIDsByNicknames resolves lowercase nicknames to profile ids, ignoring
// case. Unknown nicknames are absent from the result; when several profiles
// share a nickname the oldest wins.
func (r *profileRepository) GetProfileIDsByNicknames(ctx context.Context, nicknames []string) (map[string]int64, error) {
	result := make(map[string]int64, len(nicknames))
	if len(nicknames) == 0 {
		return result, nil
	}

	args := make([]any, len(nicknames))
	for i, n := range nicknames {
		args[i] = n
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT lower(nickname), MIN(id)
		FROM profiles
		WHERE lower(nickname) IN (%s)
		GROUP BY lower(nickname)
	`, placeholders(len(nicknames))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles by nickname: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nickname string
			id       int64
		)
		if err := rows.Scan(&nickname, &id); err != nil {
			return nil, fmt.Errorf("failed to scan profile id: %w", err)
		}
		result[nickname] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return result, nil
}

func (r *profileRepository) GetProfileCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get profile count: %w", err)
	}
	return count, nil
}

// InsertProfile returns ErrDuplicate when the profile URL is already taken
func (r *profileRepository) InsertProfile(ctx context.Context, p Profile) (int64, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO profiles (nickname, fullname, homepage, bio, location, profile_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (profile_url) DO NOTHING
		RETURNING id
	`, p.Nickname, p.Fullname, p.Homepage, p.Bio, p.Location, p.ProfileURL, formatTime(createdAt)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrDuplicate
	}
	if err != nil {
		return 0, fmt.Errorf("failed to insert profile: %w", err)
	}

	return id, nil
}

func (r *profileRepository) InsertRemoteProfile(ctx context.Context, rp RemoteProfile) error {
	createdAt := rp.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO remote_profiles (id, uri, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, rp.ID, rp.URI, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("failed to insert remote profile: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrDuplicate
	}

	return nil
}

func (r *profileRepository) get(ctx context.Context, query string, args ...any) (*Profile, error) {
	var (
		p         Profile
		createdAt string
	)

	err := r.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.Nickname, &p.Fullname, &p.Homepage,
		&p.Bio, &p.Location, &p.ProfileURL, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("invalid profile created_at: %w", err)
	}

	return &p, nil
}
