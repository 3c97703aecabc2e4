package tasks

import "time"

const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// TypeFinancialAnalysis is the task type for pipeline runs.
const TypeFinancialAnalysis = "financial_analysis"

// Task is a unit of pipeline work submitted by the analyze flow.
type Task struct {
	ID           string
	AnalysisID   string
	Type         string
	Priority     int
	Query        string
	DocumentText string
}

// Entry is the persisted task_queue row tracking a Task through its
// lifecycle: queued -> processing -> completed | (queued again on retry) | failed.
type Entry struct {
	TaskID       string
	AnalysisID   string
	Type         string
	Status       string
	Priority     int
	TaskData     string
	ResultData   string
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	RetryCount   int
	MaxRetries   int
	ErrorMessage *string
}
