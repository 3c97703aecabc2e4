package pipeline

import (
	"context"
	"errors"
)

// Input carries the document text and user query into the analysis pipeline.
type Input struct {
	Query        string
	DocumentText string
}

// Report is the pipeline output. Analysis is always present on success;
// the structured sections are best-effort.
type Report struct {
	Analysis                  string
	FinancialMetrics          string
	InvestmentRecommendations string
	RiskAssessment            string
}

// Runner abstracts the analysis pipeline. Implementations may be slow and
// may fail; callers own timeout and retry policy.
type Runner interface {
	Run(ctx context.Context, input Input) (Report, error)
}

// ErrNotConfigured is returned by the placeholder runner.
var ErrNotConfigured = errors.New("analysis pipeline not configured")

// Placeholder is a stub runner used until a provider is configured.
type Placeholder struct{}

// Run returns ErrNotConfigured.
func (Placeholder) Run(ctx context.Context, input Input) (Report, error) {
	_ = ctx
	_ = input
	return Report{}, ErrNotConfigured
}
