package tasks

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("task not found")

// Store persists task queue entries. Every transition is a single statement.
type Store interface {
	Enqueue(ctx context.Context, entry Entry) error
	// MarkProcessing claims a queued entry and stamps started_at.
	MarkProcessing(ctx context.Context, taskID string) error
	// MarkRetry returns a failed attempt to the queue with retry_count+1.
	MarkRetry(ctx context.Context, taskID, message string) error
	MarkCompleted(ctx context.Context, taskID, resultData string) error
	MarkFailed(ctx context.Context, taskID, message string) error
	GetByID(ctx context.Context, taskID string) (Entry, error)
}
