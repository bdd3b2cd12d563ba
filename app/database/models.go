package database

import (
	"time"
)

// Sync flag bits stored on a linked account.
const (
	SyncNoticeSend    = 1
	SyncNoticeReceive = 2
	SyncSendReplies   = 4
)

// LinkedAccount binds a local user to an account on a remote service
type LinkedAccount struct {
	ID               int64
	LocalUserID      int64
	ServiceID        int
	RemoteAccountID  string
	RemoteScreenName string
	Credentials      string
	SyncFlags        int
	LastSyncAt       *time.Time
	CreatedAt        time.Time
}

func (a LinkedAccount) Receives() bool {
	return a.SyncFlags&SyncNoticeReceive == SyncNoticeReceive
}

// Profile is the local representation of an author
type Profile struct {
	ID         int64
	Nickname   string
	Fullname   string
	Homepage   string
	Bio        string
	Location   string
	ProfileURL string
	CreatedAt  time.Time
}

// RemoteProfile marks a profile as originating on a remote service
type RemoteProfile struct {
	ID        int64
	URI       string
	CreatedAt time.Time
}

type Notice struct {
	ID        int64
	ProfileID int64
	URI       string
	Content   string
	Source    string
	IsLocal   bool
	ReplyTo   *int64
	CreatedAt time.Time
}

type InboxEntry struct {
	UserID    int64
	NoticeID  int64
	CreatedAt time.Time
}

type Group struct {
	ID        int64
	Nickname  string
	CreatedAt time.Time
}

// Avatar is one stored size variant of a profile image
type Avatar struct {
	ID          int64
	ProfileID   int64
	SizeVariant string
	Width       int
	Height      int
	MediaType   string
	Filename    string
	URL         string
	CreatedAt   time.Time
}
