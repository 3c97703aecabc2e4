package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"findoc-backend/internal/pipeline"
	"findoc-backend/internal/shared/telemetry"
)

// Outcome is the terminal result of a submitted task.
type Outcome struct {
	Report pipeline.Report
	Err    error
}

type job struct {
	task   Task
	result chan Outcome
}

// Dispatcher drains submitted tasks through a fixed worker pool so pipeline
// runs never block the request-accepting path. Entries are persisted in the
// task_queue table and retried up to MaxRetries before going terminal.
type Dispatcher struct {
	Store      Store
	Runner     pipeline.Runner
	Workers    int
	MaxRetries int

	queue     chan job
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewDispatcher constructs a Dispatcher. Call Start before Submit.
func NewDispatcher(store Store, runner pipeline.Runner, workers, maxRetries int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Dispatcher{
		Store:      store,
		Runner:     runner,
		Workers:    workers,
		MaxRetries: maxRetries,
		queue:      make(chan job, 64),
	}
}

// Start launches the worker pool.
func (d *Dispatcher) Start() {
	d.startOnce.Do(func() {
		for i := 0; i < d.Workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	})
}

// Stop drains pending work and waits for the workers to exit.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.queue)
		d.wg.Wait()
	})
}

// Submit persists a queue entry and hands the task to the pool. The returned
// channel receives exactly one Outcome once the task goes terminal.
func (d *Dispatcher) Submit(ctx context.Context, task Task) (<-chan Outcome, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Type == "" {
		task.Type = TypeFinancialAnalysis
	}
	if task.Priority <= 0 {
		task.Priority = 1
	}

	taskData, err := json.Marshal(map[string]any{
		"query":           task.Query,
		"document_length": len(task.DocumentText),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal task data: %w", err)
	}

	entry := Entry{
		TaskID:     task.ID,
		AnalysisID: task.AnalysisID,
		Type:       task.Type,
		Priority:   task.Priority,
		TaskData:   string(taskData),
		QueuedAt:   time.Now().UTC(),
		MaxRetries: d.MaxRetries,
	}
	if err := d.Store.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue task: %w", err)
	}

	result := make(chan Outcome, 1)
	d.queue <- job{task: task, result: result}
	return result, nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for j := range d.queue {
		d.process(j)
	}
}

func (d *Dispatcher) process(j job) {
	// Bookkeeping and the pipeline run outlive the submitting request;
	// a client disconnect must not abort a started run.
	ctx := context.Background()

	var lastErr error
	for attempt := 0; attempt <= d.MaxRetries; attempt++ {
		if err := d.Store.MarkProcessing(ctx, j.task.ID); err != nil {
			j.result <- Outcome{Err: fmt.Errorf("claim task: %w", err)}
			return
		}

		report, err := d.Runner.Run(ctx, pipeline.Input{
			Query:        j.task.Query,
			DocumentText: j.task.DocumentText,
		})
		if err == nil {
			resultData, merr := json.Marshal(map[string]string{
				"analysis":                   report.Analysis,
				"financial_metrics":          report.FinancialMetrics,
				"investment_recommendations": report.InvestmentRecommendations,
				"risk_assessment":            report.RiskAssessment,
			})
			if merr != nil {
				resultData = []byte("{}")
			}
			if serr := d.Store.MarkCompleted(ctx, j.task.ID, string(resultData)); serr != nil {
				telemetry.Error("task.complete", map[string]any{
					"task_id": j.task.ID,
					"error":   serr.Error(),
				})
			}
			j.result <- Outcome{Report: report}
			return
		}

		lastErr = err
		if attempt < d.MaxRetries {
			telemetry.Info("task.retry", map[string]any{
				"task_id":     j.task.ID,
				"analysis_id": j.task.AnalysisID,
				"attempt":     attempt + 1,
				"error":       err.Error(),
			})
			if serr := d.Store.MarkRetry(ctx, j.task.ID, err.Error()); serr != nil {
				j.result <- Outcome{Err: fmt.Errorf("requeue task: %w", serr)}
				return
			}
		}
	}

	if serr := d.Store.MarkFailed(ctx, j.task.ID, lastErr.Error()); serr != nil {
		telemetry.Error("task.fail", map[string]any{
			"task_id": j.task.ID,
			"error":   serr.Error(),
		})
	}
	j.result <- Outcome{Err: lastErr}
}
