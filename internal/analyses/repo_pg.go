package analyses

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"
)

const analysisColumns = `
analysis_id, user_id, original_filename, file_size, file_hash, query, status, progress,
analysis_report, financial_metrics, investment_recommendations, risk_assessment,
processing_time, error_message, created_at, completed_at`

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

// Create inserts a new analysis record.
func (r *PGRepo) Create(ctx context.Context, analysis Analysis) error {
	const query = `
INSERT INTO analysis_results (
	analysis_id, user_id, original_filename, file_size, file_hash, query, status, progress, created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err := r.DB.ExecContext(ctx, query,
		analysis.ID,
		analysis.UserID,
		analysis.OriginalFilename,
		analysis.FileSize,
		analysis.FileHash,
		analysis.Query,
		analysis.Status,
		analysis.Progress,
		analysis.CreatedAt,
	)
	return err
}

// UpdateProgress advances status and progress for an in-flight record.
// Terminal records are not touched, so a racing writer cannot resurrect one.
func (r *PGRepo) UpdateProgress(ctx context.Context, analysisID, status string, progress int) error {
	const query = `
UPDATE analysis_results
SET status = $1,
    progress = $2
WHERE analysis_id = $3
  AND status NOT IN ('completed', 'failed')`
	res, err := r.DB.ExecContext(ctx, query, status, progress, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete sets the terminal completed state in one statement.
func (r *PGRepo) Complete(ctx context.Context, analysisID string, result Result, processingTime float64) error {
	const query = `
UPDATE analysis_results
SET status = 'completed',
    progress = 100,
    analysis_report = $1,
    financial_metrics = NULLIF($2, ''),
    investment_recommendations = NULLIF($3, ''),
    risk_assessment = NULLIF($4, ''),
    processing_time = $5,
    completed_at = now()
WHERE analysis_id = $6
  AND status NOT IN ('completed', 'failed')`
	res, err := r.DB.ExecContext(ctx, query,
		result.Report,
		result.FinancialMetrics,
		result.InvestmentRecommendations,
		result.RiskAssessment,
		processingTime,
		analysisID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail sets the terminal failed state. Partial result fields are kept.
func (r *PGRepo) Fail(ctx context.Context, analysisID, message string) error {
	const query = `
UPDATE analysis_results
SET status = 'failed',
    error_message = $1
WHERE analysis_id = $2
  AND status NOT IN ('completed', 'failed')`
	res, err := r.DB.ExecContext(ctx, query, message, analysisID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID returns an analysis record by external identifier.
func (r *PGRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	query := `
SELECT ` + analysisColumns + `
FROM analysis_results
WHERE analysis_id = $1
LIMIT 1`
	row := r.DB.QueryRowContext(ctx, query, analysisID)
	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return analysis, nil
}

// ListByUser lists records for a user ordered newest-first.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	query := `
SELECT ` + analysisColumns + `
FROM analysis_results
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2`

	rows, err := r.DB.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Analysis
	for rows.Next() {
		analysis, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, analysis)
	}
	return out, rows.Err()
}

// FindRecentCompleted looks up a prior completed analysis for the same user
// and content hash inside the freshness window.
func (r *PGRepo) FindRecentCompleted(ctx context.Context, userID, fileHash string, window time.Duration) (Analysis, error) {
	query := `
SELECT ` + analysisColumns + `
FROM analysis_results
WHERE user_id = $1
  AND file_hash = $2
  AND status = 'completed'
  AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1`
	cutoff := time.Now().UTC().Add(-window)
	row := r.DB.QueryRowContext(ctx, query, userID, fileHash, cutoff)
	analysis, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Analysis{}, ErrNotFound
		}
		return Analysis{}, err
	}
	return analysis, nil
}

// Stats aggregates counts and average duration across all records.
func (r *PGRepo) Stats(ctx context.Context) (Stats, error) {
	const query = `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE status = 'completed'),
       COUNT(*) FILTER (WHERE status = 'failed'),
       COALESCE(AVG(processing_time) FILTER (WHERE status = 'completed'), 0)
FROM analysis_results`
	var stats Stats
	err := r.DB.QueryRowContext(ctx, query).Scan(
		&stats.TotalAnalyses,
		&stats.CompletedAnalyses,
		&stats.FailedAnalyses,
		&stats.AverageProcessingTime,
	)
	if err != nil {
		return Stats{}, err
	}
	stats.SuccessRate = successRate(stats.CompletedAnalyses, stats.TotalAnalyses)
	return stats, nil
}

var _ Repo = (*PGRepo)(nil)

// successRate is completed/total*100 rounded to two decimals, 0 when empty.
func successRate(completed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(completed)/float64(total)*100*100) / 100
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (Analysis, error) {
	var a Analysis
	var report sql.NullString
	var metrics sql.NullString
	var recommendations sql.NullString
	var risk sql.NullString
	var processingTime sql.NullFloat64
	var errorMessage sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&a.ID,
		&a.UserID,
		&a.OriginalFilename,
		&a.FileSize,
		&a.FileHash,
		&a.Query,
		&a.Status,
		&a.Progress,
		&report,
		&metrics,
		&recommendations,
		&risk,
		&processingTime,
		&errorMessage,
		&a.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return Analysis{}, err
	}
	if report.Valid {
		a.AnalysisReport = report.String
	}
	if metrics.Valid {
		a.FinancialMetrics = metrics.String
	}
	if recommendations.Valid {
		a.InvestmentRecommendations = recommendations.String
	}
	if risk.Valid {
		a.RiskAssessment = risk.String
	}
	if processingTime.Valid {
		a.ProcessingTime = &processingTime.Float64
	}
	if errorMessage.Valid {
		a.ErrorMessage = &errorMessage.String
	}
	if completedAt.Valid {
		a.CompletedAt = &completedAt.Time
	}
	return a, nil
}
