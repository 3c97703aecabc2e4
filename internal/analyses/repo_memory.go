package analyses

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is the in-memory Repo used when no database is configured.
type MemoryRepo struct {
	mu      sync.RWMutex
	records map[string]Analysis
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{records: make(map[string]Analysis)}
}

func (r *MemoryRepo) Create(ctx context.Context, analysis Analysis) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[analysis.ID] = analysis
	return nil
}

func (r *MemoryRepo) UpdateProgress(ctx context.Context, analysisID, status string, progress int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.records[analysisID]
	if !ok || isTerminal(analysis.Status) {
		return ErrNotFound
	}
	analysis.Status = status
	analysis.Progress = progress
	r.records[analysisID] = analysis
	return nil
}

func (r *MemoryRepo) Complete(ctx context.Context, analysisID string, result Result, processingTime float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.records[analysisID]
	if !ok || isTerminal(analysis.Status) {
		return ErrNotFound
	}
	now := time.Now().UTC()
	analysis.Status = StatusCompleted
	analysis.Progress = 100
	analysis.AnalysisReport = result.Report
	analysis.FinancialMetrics = result.FinancialMetrics
	analysis.InvestmentRecommendations = result.InvestmentRecommendations
	analysis.RiskAssessment = result.RiskAssessment
	analysis.ProcessingTime = &processingTime
	analysis.CompletedAt = &now
	r.records[analysisID] = analysis
	return nil
}

func (r *MemoryRepo) Fail(ctx context.Context, analysisID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	analysis, ok := r.records[analysisID]
	if !ok || isTerminal(analysis.Status) {
		return ErrNotFound
	}
	analysis.Status = StatusFailed
	analysis.ErrorMessage = &message
	r.records[analysisID] = analysis
	return nil
}

func (r *MemoryRepo) GetByID(ctx context.Context, analysisID string) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	analysis, ok := r.records[analysisID]
	if !ok {
		return Analysis{}, ErrNotFound
	}
	return analysis, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]Analysis, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Analysis
	for _, analysis := range r.records {
		if analysis.UserID == userID {
			out = append(out, analysis)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) FindRecentCompleted(ctx context.Context, userID, fileHash string, window time.Duration) (Analysis, error) {
	if err := ctx.Err(); err != nil {
		return Analysis{}, err
	}
	cutoff := time.Now().UTC().Add(-window)
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Analysis
	found := false
	for _, analysis := range r.records {
		if analysis.UserID != userID || analysis.FileHash != fileHash {
			continue
		}
		if analysis.Status != StatusCompleted || analysis.CreatedAt.Before(cutoff) {
			continue
		}
		if !found || analysis.CreatedAt.After(best.CreatedAt) {
			best = analysis
			found = true
		}
	}
	if !found {
		return Analysis{}, ErrNotFound
	}
	return best, nil
}

func (r *MemoryRepo) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats Stats
	var durationSum float64
	for _, analysis := range r.records {
		stats.TotalAnalyses++
		switch analysis.Status {
		case StatusCompleted:
			stats.CompletedAnalyses++
			if analysis.ProcessingTime != nil {
				durationSum += *analysis.ProcessingTime
			}
		case StatusFailed:
			stats.FailedAnalyses++
		}
	}
	if stats.CompletedAnalyses > 0 {
		stats.AverageProcessingTime = durationSum / float64(stats.CompletedAnalyses)
	}
	stats.SuccessRate = successRate(stats.CompletedAnalyses, stats.TotalAnalyses)
	return stats, nil
}

var _ Repo = (*MemoryRepo)(nil)

func isTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}
