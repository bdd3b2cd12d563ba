package database

import (
	"context"
	"fmt"
	"time"
)

// Groups are owned by the host application; the importer only resolves and fans out to them.
type groupRepository struct {
	db Executor
}

func NewGroupRepository(db Executor) GroupRepository {
	return &groupRepository{db: db}
}

func (r *groupRepository) InsertGroup(ctx context.Context, nickname string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_groups (nickname, created_at) VALUES (?, ?)
		ON CONFLICT (nickname) DO UPDATE SET nickname = excluded.nickname
		RETURNING id
	`, nickname, formatTime(time.Now())).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert group: %w", err)
	}
	return id, nil
}

func (r *groupRepository) GetGroupIDsByNicknames(ctx context.Context, nicknames []string) (map[string]int64, error) {
	result := make(map[string]int64, len(nicknames))
	if len(nicknames) == 0 {
		return result, nil
	}

	args := make([]any, len(nicknames))
	for i, n := range nicknames {
		args[i] = n
	}

	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT nickname, id FROM user_groups WHERE nickname IN (%s)
	`, placeholders(len(nicknames))), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			nickname string
			id       int64
		)
		if err := rows.Scan(&nickname, &id); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		result[nickname] = id
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate groups: %w", err)
	}

	return result, nil
}

func (r *groupRepository) InsertGroupInbox(ctx context.Context, groupID, noticeID int64, ts time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO group_inbox (group_id, notice_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, groupID, noticeID, formatTime(ts))
	if err != nil {
		return fmt.Errorf("failed to insert group inbox entry: %w", err)
	}
	return nil
}

func (r *groupRepository) GetGroupInbox(ctx context.Context, groupID int64) ([]int64, error) {
	return queryIDs(ctx, r.db, `SELECT notice_id FROM group_inbox WHERE group_id = ? ORDER BY notice_id`, groupID)
}
