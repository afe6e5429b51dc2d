package changelog

import (
	"context"
	"time"
)

// Store defines persistence operations for policy change entries.
type Store interface {
	// AppendChange persists a new change entry.
	AppendChange(ctx context.Context, e *Entry) error

	// ListChanges returns entries matching the filter, newest first.
	ListChanges(ctx context.Context, filter *QueryFilter) ([]*Entry, error)

	// CountChanges returns the number of entries matching the filter.
	CountChanges(ctx context.Context, filter *QueryFilter) (int64, error)

	// PurgeChanges removes entries older than the given time.
	PurgeChanges(ctx context.Context, before time.Time) (int64, error)
}
