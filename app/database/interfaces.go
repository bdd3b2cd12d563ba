package database

import (
	"context"
	"time"
)

type AccountRepository interface {
	GetDueAccounts(ctx context.Context, serviceIDs []int) ([]LinkedAccount, error)
	GetAccount(ctx context.Context, id int64) (*LinkedAccount, error)
	ListAccounts(ctx context.Context) ([]LinkedAccount, error)
	GetAccountCount(ctx context.Context) (int, error)

	UpsertAccount(ctx context.Context, account LinkedAccount) (int64, error)
	UpdateLastSync(ctx context.Context, id int64, ts time.Time) error
}

type ProfileRepository interface {
	GetProfile(ctx context.Context, id int64) (*Profile, error)
	GetProfileByURL(ctx context.Context, profileURL string) (*Profile, error)
	GetProfileIDsByNicknames(ctx context.Context, nicknames []string) (map[string]int64, error)
	GetProfileCount(ctx context.Context) (int, error)

	InsertProfile(ctx context.Context, profile Profile) (int64, error)
	InsertRemoteProfile(ctx context.Context, remote RemoteProfile) error
}

type NoticeRepository interface {
	GetNoticeByURI(ctx context.Context, uri string) (*Notice, error)
	GetNoticeCount(ctx context.Context) (int, error)
	GetTags(ctx context.Context, noticeID int64) ([]string, error)
	GetMentions(ctx context.Context, noticeID int64) ([]int64, error)

	InsertNotice(ctx context.Context, notice Notice) (int64, error)
	InsertTags(ctx context.Context, noticeID int64, tags []string) error
	InsertMentions(ctx context.Context, noticeID int64, profileIDs []int64) error
}

type InboxRepository interface {
	EnsureInboxEntry(ctx context.Context, userID, noticeID int64, ts time.Time) (bool, error)
	GetInbox(ctx context.Context, userID int64) ([]InboxEntry, error)
	GetInboxCount(ctx context.Context) (int, error)
}

type GroupRepository interface {
	InsertGroup(ctx context.Context, nickname string) (int64, error)
	GetGroupIDsByNicknames(ctx context.Context, nicknames []string) (map[string]int64, error)
	InsertGroupInbox(ctx context.Context, groupID, noticeID int64, ts time.Time) error
	GetGroupInbox(ctx context.Context, groupID int64) ([]int64, error)
}

type AvatarRepository interface {
	GetAvatar(ctx context.Context, profileID int64, variant string) (*Avatar, error)
	ListAvatars(ctx context.Context, profileID int64) ([]Avatar, error)
	GetAvatarCount(ctx context.Context) (int, error)

	InsertAvatar(ctx context.Context, avatar Avatar) (int64, error)
	DeleteAvatar(ctx context.Context, id int64) error
}
