package analyses

import "time"

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Analysis tracks one document+query submission through its lifecycle.
//
// Invariants: Progress == 100 iff Status == completed; CompletedAt is set iff
// Status == completed; ErrorMessage is set iff Status == failed.
type Analysis struct {
	ID                        string     `json:"analysisId"`
	UserID                    string     `json:"userId"`
	OriginalFilename          string     `json:"originalFilename"`
	FileSize                  int64      `json:"fileSize"`
	FileHash                  string     `json:"fileHash"`
	Query                     string     `json:"query"`
	Status                    string     `json:"status"`
	Progress                  int        `json:"progress"`
	AnalysisReport            string     `json:"analysisReport,omitempty"`
	FinancialMetrics          string     `json:"financialMetrics,omitempty"`
	InvestmentRecommendations string     `json:"investmentRecommendations,omitempty"`
	RiskAssessment            string     `json:"riskAssessment,omitempty"`
	ProcessingTime            *float64   `json:"processingTime,omitempty"`
	ErrorMessage              *string    `json:"errorMessage,omitempty"`
	CreatedAt                 time.Time  `json:"createdAt"`
	CompletedAt               *time.Time `json:"completedAt,omitempty"`
}

// Result carries the pipeline output into the terminal completed transition.
type Result struct {
	Report                    string
	FinancialMetrics          string
	InvestmentRecommendations string
	RiskAssessment            string
}

// Stats aggregates record counts for the stats endpoint.
type Stats struct {
	TotalAnalyses         int64   `json:"total_analyses"`
	CompletedAnalyses     int64   `json:"completed_analyses"`
	FailedAnalyses        int64   `json:"failed_analyses"`
	SuccessRate           float64 `json:"success_rate"`
	AverageProcessingTime float64 `json:"average_processing_time"`
}
