package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailgateway/internal/model"
)

// ErrNotFound is returned when a lookup by message id matches nothing.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering, sorting, and pagination for message
// queries.
type MessageFilter struct {
	UnreadOnly     bool
	HasAttachments *bool
	Sender         *string    // case-insensitive substring of the sender address
	ReceivedFrom   *time.Time // inclusive
	ReceivedTo     *time.Time // inclusive
	SortBy         string     // "received_at", "processed_at", "subject", "sender"
	SortDesc       bool
	Limit          int
	Offset         int
}

// Store defines the persistence interface for ingested messages and sync
// run history. Message ids are unique; inserting an existing id is a
// no-op reported as not inserted.
type Store interface {
	// === Messages ===

	Find(ctx context.Context, filter MessageFilter) ([]model.StoredMessage, error)
	Count(ctx context.Context, filter MessageFilter) (int, error)
	Search(ctx context.Context, query string, limit int) ([]model.StoredMessage, error)
	GetByMessageID(ctx context.Context, messageID string) (*model.StoredMessage, error)
	InsertMessage(ctx context.Context, msg model.StoredMessage) (bool, error)
	UpdateReadStatus(ctx context.Context, messageID string, isRead bool) (bool, error)
	Stats(ctx context.Context) (*model.Stats, error)

	// === Sync runs ===

	RecordSyncRun(ctx context.Context, run model.SyncRun) error
	RecentSyncRuns(ctx context.Context, limit int) ([]model.SyncRun, error)

	Close() error
}
