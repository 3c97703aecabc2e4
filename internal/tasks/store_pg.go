package tasks

import (
	"context"
	"database/sql"
	"errors"
)

// PGStore implements Store using Postgres.
type PGStore struct {
	DB *sql.DB
}

func (s *PGStore) Enqueue(ctx context.Context, entry Entry) error {
	const query = `
INSERT INTO task_queue (
	task_id, analysis_id, task_type, status, priority, task_data, queued_at, retry_count, max_retries
)
VALUES ($1, $2, $3, 'queued', $4, $5, $6, $7, $8)`
	_, err := s.DB.ExecContext(ctx, query,
		entry.TaskID,
		entry.AnalysisID,
		entry.Type,
		entry.Priority,
		entry.TaskData,
		entry.QueuedAt,
		entry.RetryCount,
		entry.MaxRetries,
	)
	return err
}

func (s *PGStore) MarkProcessing(ctx context.Context, taskID string) error {
	const query = `
UPDATE task_queue
SET status = 'processing',
    started_at = COALESCE(started_at, now())
WHERE task_id = $1 AND status = 'queued'`
	return s.exec(ctx, query, taskID)
}

func (s *PGStore) MarkRetry(ctx context.Context, taskID, message string) error {
	const query = `
UPDATE task_queue
SET status = 'queued',
    retry_count = retry_count + 1,
    error_message = $1
WHERE task_id = $2 AND status = 'processing'`
	return s.exec(ctx, query, message, taskID)
}

func (s *PGStore) MarkCompleted(ctx context.Context, taskID, resultData string) error {
	const query = `
UPDATE task_queue
SET status = 'completed',
    result_data = $1,
    completed_at = now()
WHERE task_id = $2 AND status = 'processing'`
	return s.exec(ctx, query, resultData, taskID)
}

func (s *PGStore) MarkFailed(ctx context.Context, taskID, message string) error {
	const query = `
UPDATE task_queue
SET status = 'failed',
    error_message = $1,
    completed_at = now()
WHERE task_id = $2 AND status = 'processing'`
	return s.exec(ctx, query, message, taskID)
}

func (s *PGStore) GetByID(ctx context.Context, taskID string) (Entry, error) {
	const query = `
SELECT task_id, analysis_id, task_type, status, priority, task_data, result_data,
       queued_at, started_at, completed_at, retry_count, max_retries, error_message
FROM task_queue
WHERE task_id = $1
LIMIT 1`
	var entry Entry
	var analysisID sql.NullString
	var taskData sql.NullString
	var resultData sql.NullString
	var startedAt sql.NullTime
	var completedAt sql.NullTime
	var errorMessage sql.NullString
	err := s.DB.QueryRowContext(ctx, query, taskID).Scan(
		&entry.TaskID,
		&analysisID,
		&entry.Type,
		&entry.Status,
		&entry.Priority,
		&taskData,
		&resultData,
		&entry.QueuedAt,
		&startedAt,
		&completedAt,
		&entry.RetryCount,
		&entry.MaxRetries,
		&errorMessage,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, err
	}
	if analysisID.Valid {
		entry.AnalysisID = analysisID.String
	}
	if taskData.Valid {
		entry.TaskData = taskData.String
	}
	if resultData.Valid {
		entry.ResultData = resultData.String
	}
	if startedAt.Valid {
		entry.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		entry.CompletedAt = &completedAt.Time
	}
	if errorMessage.Valid {
		entry.ErrorMessage = &errorMessage.String
	}
	return entry, nil
}

func (s *PGStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Store = (*PGStore)(nil)
