package analyses

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"findoc-backend/internal/ingest"
	"findoc-backend/internal/shared/server/respond"
	"findoc-backend/internal/users"
)

type Handler struct {
	Svc            *Service
	MaxUploadBytes int64
}

func NewHandler(svc *Service, maxUploadBytes int64) *Handler {
	return &Handler{Svc: svc, MaxUploadBytes: maxUploadBytes}
}

func (h *Handler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/", h.root)
	r.POST("/analyze", h.analyze)
	r.GET("/analysis/:analysis_id", h.get)
	r.GET("/users/:user_id/analyses", h.listForUser)
	r.GET("/stats", h.stats)
}

func (h *Handler) root(c *gin.Context) {
	respond.OK(c, gin.H{
		"message": "Financial Document Analyzer API is running",
		"status":  "healthy",
	})
}

func (h *Handler) analyze(c *gin.Context) {
	if h.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUploadBytes)
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "a PDF file upload is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "could not read uploaded file", nil)
		return
	}

	outcome, err := h.Svc.Analyze(c.Request.Context(), AnalyzeRequest{
		FileName:  header.Filename,
		Data:      data,
		Query:     c.PostForm("query"),
		UserEmail: c.PostForm("user_email"),
		UserName:  c.PostForm("user_name"),
	})
	if err != nil {
		h.analyzeError(c, err)
		return
	}

	c.Set("userId", outcome.Analysis.UserID)
	c.Set("analysisId", outcome.Analysis.ID)

	if outcome.Duplicate {
		respond.OK(c, gin.H{
			"status":            "duplicate_found",
			"analysis_id":       outcome.Analysis.ID,
			"message":           "This document was already analyzed recently. Returning the previous result.",
			"previous_analysis": analysisView(outcome.Analysis),
		})
		return
	}

	a := outcome.Analysis
	respond.OK(c, gin.H{
		"status":          "success",
		"analysis_id":     a.ID,
		"user_id":         a.UserID,
		"query":           a.Query,
		"analysis":        a.AnalysisReport,
		"file_processed":  a.OriginalFilename,
		"document_length": outcome.DocumentLength,
		"processing_time": a.ProcessingTime,
	})
}

func (h *Handler) analyzeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ingest.ErrInvalidInput), errors.Is(err, ErrInvalidRequest):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrUnreadableDocument):
		respond.Error(c, http.StatusBadRequest, ErrorCodeUnreadable, "the document contains no readable text", nil)
	case errors.Is(err, ErrPipelineFailure):
		respond.Error(c, http.StatusInternalServerError, ErrorCodePipeline, "analysis pipeline failed", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "could not process the analysis", nil)
	}
}

func (h *Handler) get(c *gin.Context) {
	analysis, err := h.Svc.Get(c.Request.Context(), c.Param("analysis_id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "analysis not found", nil)
			return
		}
		if errors.Is(err, ErrInvalidRequest) {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "could not load analysis", nil)
		return
	}
	c.Set("analysisId", analysis.ID)
	respond.OK(c, analysisView(analysis))
}

func (h *Handler) listForUser(c *gin.Context) {
	userID := c.Param("user_id")

	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "limit must be a positive integer", nil)
			return
		}
		limit = parsed
	}

	records, err := h.Svc.ListForUser(c.Request.Context(), userID, limit)
	if err != nil {
		if errors.Is(err, users.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, ErrorCodeNotFound, "user not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "could not load analyses", nil)
		return
	}

	views := make([]gin.H, 0, len(records))
	for _, a := range records {
		views = append(views, analysisView(a))
	}
	c.Set("userId", userID)
	respond.OK(c, gin.H{
		"user_id":  userID,
		"analyses": views,
		"count":    len(views),
	})
}

func (h *Handler) stats(c *gin.Context) {
	stats, err := h.Svc.Stats(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "could not compute stats", nil)
		return
	}
	respond.OK(c, stats)
}

// analysisView is the wire shape of a stored record. Optional fields are
// omitted until their lifecycle stage sets them.
func analysisView(a Analysis) gin.H {
	view := gin.H{
		"analysis_id":       a.ID,
		"user_id":           a.UserID,
		"original_filename": a.OriginalFilename,
		"file_size":         a.FileSize,
		"query":             a.Query,
		"status":            a.Status,
		"progress":          a.Progress,
		"created_at":        a.CreatedAt,
	}
	if a.Status == StatusCompleted {
		view["analysis_report"] = a.AnalysisReport
		view["financial_metrics"] = a.FinancialMetrics
		view["investment_recommendations"] = a.InvestmentRecommendations
		view["risk_assessment"] = a.RiskAssessment
	}
	if a.ProcessingTime != nil {
		view["processing_time"] = *a.ProcessingTime
	}
	if a.ErrorMessage != nil {
		view["error_message"] = *a.ErrorMessage
	}
	if a.CompletedAt != nil {
		view["completed_at"] = *a.CompletedAt
	}
	return view
}
