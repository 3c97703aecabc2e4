package analyses

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"findoc-backend/internal/extract"
	"findoc-backend/internal/ingest"
	"findoc-backend/internal/shared/metrics"
	"findoc-backend/internal/shared/telemetry"
	"findoc-backend/internal/tasks"
	"findoc-backend/internal/users"
)

// ErrInvalidRequest marks request-level validation failures caught before any
// record is created.
var ErrInvalidRequest = errors.New("invalid request")

// Service owns the analysis request lifecycle:
//
//	received -> validated -> hashed -> duplicate short-circuit
//	                                 | record created -> extracting ->
//	                                   pipeline running -> completed | failed
type Service struct {
	Repo            Repo
	Users           *users.Service
	Ingestor        *ingest.Ingestor
	Dispatcher      *tasks.Dispatcher
	Recorder        *metrics.Recorder
	ExtractText     func(ctx context.Context, path string) (string, error)
	DuplicateWindow time.Duration
	DefaultQuery    string
}

// AnalyzeRequest is one document+query submission.
type AnalyzeRequest struct {
	FileName  string
	Data      []byte
	Query     string
	UserEmail string
	UserName  string
}

// AnalyzeOutcome is the synchronous result of an analyze call.
type AnalyzeOutcome struct {
	Duplicate      bool
	Analysis       Analysis
	DocumentLength int
}

// Analyze runs one submission through the full lifecycle. Validation failures
// happen before any record exists; after record creation every failure path
// leaves the record in a terminal failed state before returning. The scratch
// upload is removed on every path.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeOutcome, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = s.DefaultQuery
	}

	upload, err := s.Ingestor.Ingest(ctx, req.FileName, req.Data)
	if err != nil {
		return AnalyzeOutcome{}, err
	}
	defer upload.Remove()

	user, err := s.Users.GetOrCreate(ctx, req.UserEmail, req.UserName)
	if err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	// Duplicate check precedes record creation so a short-circuit never
	// leaves an orphan record behind.
	prior, err := s.Repo.FindRecentCompleted(ctx, user.ID, upload.Hash, s.DuplicateWindow)
	if err == nil {
		metrics.IncDuplicateHit()
		s.Recorder.Record(ctx, "analysis.duplicate_hit", 1, metrics.TypeCounter, map[string]string{"user_id": user.ID})
		telemetry.Info("analysis.duplicate", map[string]any{
			"user_id":     user.ID,
			"analysis_id": prior.ID,
			"file_hash":   upload.Hash,
		})
		return AnalyzeOutcome{Duplicate: true, Analysis: prior}, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return AnalyzeOutcome{}, fmt.Errorf("duplicate lookup: %w", err)
	}

	analysis := Analysis{
		ID:               uuid.NewString(),
		UserID:           user.ID,
		OriginalFilename: upload.FileName,
		FileSize:         upload.Size,
		FileHash:         upload.Hash,
		Query:            query,
		Status:           StatusPending,
		Progress:         0,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.Repo.Create(ctx, analysis); err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("create record: %w", err)
	}
	metrics.IncAnalysisStarted()
	s.Recorder.Record(ctx, "analysis.started", 1, metrics.TypeCounter, map[string]string{"user_id": user.ID})

	s.advance(ctx, analysis.ID, StatusProcessing, 10, "pending->processing")

	text, err := s.extract(ctx, upload.Path)
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrUnreadableDocument
	}
	if err != nil {
		msg := fmt.Sprintf("could not read document text: %v", err)
		s.failRecord(ctx, analysis.ID, msg)
		return AnalyzeOutcome{}, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	s.advance(ctx, analysis.ID, StatusProcessing, 30, "extracted")

	started := time.Now()
	outcomeCh, err := s.Dispatcher.Submit(ctx, tasks.Task{
		AnalysisID:   analysis.ID,
		Type:         tasks.TypeFinancialAnalysis,
		Query:        query,
		DocumentText: text,
	})
	if err != nil {
		msg := fmt.Sprintf("could not dispatch analysis: %v", err)
		s.failRecord(ctx, analysis.ID, msg)
		return AnalyzeOutcome{}, fmt.Errorf("dispatch: %w", err)
	}
	s.advance(ctx, analysis.ID, StatusProcessing, 60, "pipeline_running")

	// The pipeline run is not cancellable once started; wait it out even if
	// the client goes away, so the record always reaches a terminal state.
	outcome := <-outcomeCh
	duration := time.Since(started).Seconds()

	if outcome.Err != nil {
		s.failRecord(ctx, analysis.ID, outcome.Err.Error())
		return AnalyzeOutcome{}, fmt.Errorf("%w: %v", ErrPipelineFailure, outcome.Err)
	}

	result := Result{
		Report:                    outcome.Report.Analysis,
		FinancialMetrics:          outcome.Report.FinancialMetrics,
		InvestmentRecommendations: outcome.Report.InvestmentRecommendations,
		RiskAssessment:            outcome.Report.RiskAssessment,
	}
	if err := s.Repo.Complete(ctx, analysis.ID, result, duration); err != nil {
		s.failRecord(ctx, analysis.ID, fmt.Sprintf("could not store result: %v", err))
		return AnalyzeOutcome{}, fmt.Errorf("store result: %w", err)
	}
	metrics.IncAnalysisCompleted()
	metrics.ObserveAnalysisDuration(duration)
	s.Recorder.Record(ctx, "analysis.completed", 1, metrics.TypeCounter, map[string]string{"user_id": user.ID})
	s.Recorder.Record(ctx, "analysis.duration_seconds", duration, metrics.TypeHistogram, nil)
	telemetry.Info("analysis.status", map[string]any{
		"analysis_id":       analysis.ID,
		"user_id":           user.ID,
		"status":            StatusCompleted,
		"status_transition": "processing->completed",
		"duration_s":        duration,
	})

	stored, err := s.Repo.GetByID(ctx, analysis.ID)
	if err != nil {
		return AnalyzeOutcome{}, fmt.Errorf("reload record: %w", err)
	}
	return AnalyzeOutcome{Analysis: stored, DocumentLength: len(text)}, nil
}

// Get returns an analysis record by ID.
func (s *Service) Get(ctx context.Context, analysisID string) (Analysis, error) {
	if strings.TrimSpace(analysisID) == "" {
		return Analysis{}, fmt.Errorf("%w: analysis id is required", ErrInvalidRequest)
	}
	return s.Repo.GetByID(ctx, analysisID)
}

// ListForUser returns a user's history newest-first; unknown users surface
// users.ErrNotFound.
func (s *Service) ListForUser(ctx context.Context, userID string, limit int) ([]Analysis, error) {
	if _, err := s.Users.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	return s.Repo.ListByUser(ctx, userID, limit)
}

// Stats returns aggregate counts for all records.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.Repo.Stats(ctx)
}

func (s *Service) extract(ctx context.Context, path string) (string, error) {
	if s.ExtractText != nil {
		return s.ExtractText(ctx, path)
	}
	return extract.Text(ctx, path)
}

func (s *Service) advance(ctx context.Context, analysisID, status string, progress int, transition string) {
	if err := s.Repo.UpdateProgress(ctx, analysisID, status, progress); err != nil {
		telemetry.Error("analysis.advance", map[string]any{
			"analysis_id": analysisID,
			"status":      status,
			"progress":    progress,
			"error":       err.Error(),
		})
		return
	}
	telemetry.Info("analysis.status", map[string]any{
		"analysis_id":       analysisID,
		"status":            status,
		"progress":          progress,
		"status_transition": transition,
	})
}

func (s *Service) failRecord(ctx context.Context, analysisID, message string) {
	if err := s.Repo.Fail(ctx, analysisID, message); err != nil {
		telemetry.Error("analysis.fail", map[string]any{
			"analysis_id": analysisID,
			"error":       err.Error(),
		})
	}
	metrics.IncAnalysisFailed()
	s.Recorder.Record(ctx, "analysis.failed", 1, metrics.TypeCounter, map[string]string{"analysis_id": analysisID})
	telemetry.Info("analysis.status", map[string]any{
		"analysis_id":       analysisID,
		"status":            StatusFailed,
		"status_transition": "processing->failed",
		"error":             message,
	})
}
