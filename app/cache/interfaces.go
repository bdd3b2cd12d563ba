package cache

import "context"

// URICache remembers which remote URIs already map to a stored notice.
// It only ever short-circuits lookups; the store stays authoritative.
type URICache interface {
	GetNoticeID(ctx context.Context, uri string) (int64, bool, error)
	SetNoticeID(ctx context.Context, uri string, noticeID int64) error
	DeleteNoticeID(ctx context.Context, uri string) error
	Health(ctx context.Context) map[string]any
	Close() error
}

// Noop is used when no cache backend is configured
type Noop struct{}

func (Noop) GetNoticeID(ctx context.Context, uri string) (int64, bool, error)  { return 0, false, nil }
func (Noop) SetNoticeID(ctx context.Context, uri string, noticeID int64) error { return nil }
func (Noop) DeleteNoticeID(ctx context.Context, uri string) error              { return nil }
func (Noop) Close() error                                                      { return nil }

func (Noop) Health(ctx context.Context) map[string]any {
	return map[string]any{"status": "disabled", "type": "none"}
}
