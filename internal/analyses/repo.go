package analyses

import (
	"context"
	"time"
)

// Repo defines persistence operations for analysis records. Each write is a
// single transactional statement; readers never observe a record
// mid-transition. Records are never deleted.
type Repo interface {
	Create(ctx context.Context, analysis Analysis) error
	// UpdateProgress advances status/progress. Monotonic progress is the
	// caller's responsibility; terminal records are left untouched.
	UpdateProgress(ctx context.Context, analysisID, status string, progress int) error
	// Complete sets the terminal completed state with progress=100 and
	// completed_at=now.
	Complete(ctx context.Context, analysisID string, result Result, processingTime float64) error
	// Fail sets the terminal failed state with the message. Partial result
	// fields are not cleared.
	Fail(ctx context.Context, analysisID, message string) error
	GetByID(ctx context.Context, analysisID string) (Analysis, error)
	// ListByUser returns records newest-first, bounded by limit.
	ListByUser(ctx context.Context, userID string, limit int) ([]Analysis, error)
	// FindRecentCompleted is the duplicate detector: same user, same content
	// hash, completed within the window, newest first.
	FindRecentCompleted(ctx context.Context, userID, fileHash string, window time.Duration) (Analysis, error)
	Stats(ctx context.Context) (Stats, error)
}
