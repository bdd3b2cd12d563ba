package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeSyncAccount TaskType = "sync_account"
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetAccountID() int64
	Start()
	GetDuration() time.Duration
}

type Task struct {
	ID        string
	Type      TaskType
	AccountID int64
	StartedAt *time.Time
}

func (t *Task) GetID() string {
	return t.ID
}

func (t *Task) GetType() TaskType {
	return t.Type
}

func (t *Task) GetAccountID() int64 {
	return t.AccountID
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, accountID int64) Task {
	return Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		AccountID: accountID,
	}
}
