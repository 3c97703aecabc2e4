package analyses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"findoc-backend/internal/ingest"
	"findoc-backend/internal/pipeline"
	"findoc-backend/internal/shared/server/respond"
	"findoc-backend/internal/shared/telemetry"
	"findoc-backend/internal/tasks"
	"findoc-backend/internal/users"
)

type stubRunner struct {
	fail atomic.Bool
}

func (r *stubRunner) Run(ctx context.Context, input pipeline.Input) (pipeline.Report, error) {
	if r.fail.Load() {
		return pipeline.Report{}, errors.New("provider unavailable")
	}
	return pipeline.Report{
		Analysis:                  "full analysis",
		FinancialMetrics:          "metrics",
		InvestmentRecommendations: "buy",
		RiskAssessment:            "moderate",
	}, nil
}

type analysisEnv struct {
	router  *gin.Engine
	repo    *MemoryRepo
	users   *users.Service
	runner  *stubRunner
	workDir string
	svc     *Service
}

func setupAnalysisEnv(t *testing.T) *analysisEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	telemetry.SetLogger(zap.NewNop())

	env := &analysisEnv{
		repo:    NewMemoryRepo(),
		users:   users.NewService(users.NewMemoryRepo()),
		runner:  &stubRunner{},
		workDir: t.TempDir(),
	}

	dispatcher := tasks.NewDispatcher(tasks.NewMemoryStore(), env.runner, 1, 0)
	dispatcher.Start()
	t.Cleanup(dispatcher.Stop)

	env.svc = &Service{
		Repo:            env.repo,
		Users:           env.users,
		Ingestor:        ingest.New(env.workDir),
		Dispatcher:      dispatcher,
		DuplicateWindow: 24 * time.Hour,
		DefaultQuery:    "Analyze this financial document for investment insights",
		ExtractText: func(ctx context.Context, path string) (string, error) {
			return "quarterly revenue grew 12 percent year over year", nil
		},
	}

	env.router = gin.New()
	NewHandler(env.svc, 10<<20).RegisterRoutes(env.router)
	return env
}

func analyzeRequest(t *testing.T, fileName string, contents []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatalf("CreateFormFile: %v", err)
		}
		if _, err := part.Write(contents); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("WriteField %s: %v", key, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/analyze", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func doAnalyze(t *testing.T, env *analysisEnv, fileName string, contents []byte, fields map[string]string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, fileName, contents, fields))

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp, payload
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) respond.ErrorResponse {
	t.Helper()
	var body respond.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body
}

func TestAnalyzeCompletesRecord(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp, payload := doAnalyze(t, env, "report.pdf", []byte("pdf-bytes"), map[string]string{
		"user_email": "alice@example.com",
		"user_name":  "Alice",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.Code, resp.Body.String())
	}
	if payload["status"] != "success" {
		t.Fatalf("status field = %v", payload["status"])
	}
	if payload["analysis"] != "full analysis" {
		t.Fatalf("analysis field = %v", payload["analysis"])
	}
	if payload["query"] != env.svc.DefaultQuery {
		t.Fatalf("query defaulted to %v", payload["query"])
	}
	analysisID, _ := payload["analysis_id"].(string)
	if analysisID == "" {
		t.Fatal("analysis_id missing")
	}

	stored, err := env.repo.GetByID(context.Background(), analysisID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("stored status = %q", stored.Status)
	}
	if stored.Progress != 100 {
		t.Fatalf("stored progress = %d", stored.Progress)
	}
	if stored.ProcessingTime == nil || stored.CompletedAt == nil {
		t.Fatalf("terminal fields missing: %+v", stored)
	}
	if stored.ErrorMessage != nil {
		t.Fatalf("unexpected error message: %v", *stored.ErrorMessage)
	}

	entries, err := os.ReadDir(env.workDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("work dir not cleaned up, %d entries remain", len(entries))
	}
}

func TestAnalyzeDuplicateShortCircuits(t *testing.T) {
	env := setupAnalysisEnv(t)
	fields := map[string]string{"user_email": "alice@example.com"}
	contents := []byte("same document bytes")

	_, first := doAnalyze(t, env, "report.pdf", contents, fields)
	firstID, _ := first["analysis_id"].(string)

	resp, second := doAnalyze(t, env, "renamed.pdf", contents, fields)
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	if second["status"] != "duplicate_found" {
		t.Fatalf("status field = %v", second["status"])
	}
	prior, ok := second["previous_analysis"].(map[string]any)
	if !ok {
		t.Fatalf("previous_analysis missing: %v", second)
	}
	if prior["analysis_id"] != firstID {
		t.Fatalf("previous analysis_id = %v, want %s", prior["analysis_id"], firstID)
	}

	stats, err := env.repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalAnalyses != 1 {
		t.Fatalf("duplicate created a record: total = %d", stats.TotalAnalyses)
	}
}

func TestAnalyzeDifferentUsersNotDuplicates(t *testing.T) {
	env := setupAnalysisEnv(t)
	contents := []byte("shared document bytes")

	doAnalyze(t, env, "report.pdf", contents, map[string]string{"user_email": "alice@example.com"})
	_, second := doAnalyze(t, env, "report.pdf", contents, map[string]string{"user_email": "bob@example.com"})

	if second["status"] != "success" {
		t.Fatalf("status field = %v, want success", second["status"])
	}

	stats, err := env.repo.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalAnalyses != 2 {
		t.Fatalf("total = %d, want 2", stats.TotalAnalyses)
	}
}

func TestAnalyzeRejectsNonPDF(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "notes.txt", []byte("text"), map[string]string{
		"user_email": "alice@example.com",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Code != ErrorCodeValidation {
		t.Fatalf("error code = %q", body.Error.Code)
	}

	stats, _ := env.repo.Stats(context.Background())
	if stats.TotalAnalyses != 0 {
		t.Fatalf("rejected upload created a record: total = %d", stats.TotalAnalyses)
	}
}

func TestAnalyzeRequiresFile(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "", nil, map[string]string{
		"user_email": "alice@example.com",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
}

func TestAnalyzeRequiresValidEmail(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "report.pdf", []byte("pdf"), map[string]string{
		"user_email": "not-an-email",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}

	stats, _ := env.repo.Stats(context.Background())
	if stats.TotalAnalyses != 0 {
		t.Fatalf("invalid user created a record: total = %d", stats.TotalAnalyses)
	}
}

func TestAnalyzeUnreadableDocumentFailsRecord(t *testing.T) {
	env := setupAnalysisEnv(t)
	env.svc.ExtractText = func(ctx context.Context, path string) (string, error) {
		return "   \n\t ", nil
	}

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "scan.pdf", []byte("image-only"), map[string]string{
		"user_email": "alice@example.com",
	}))
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Code != ErrorCodeUnreadable {
		t.Fatalf("error code = %q", body.Error.Code)
	}

	user, err := env.users.GetOrCreate(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	records, err := env.repo.ListByUser(context.Background(), user.ID, 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	failed := records[0]
	if failed.Status != StatusFailed {
		t.Fatalf("status = %q, want failed", failed.Status)
	}
	if failed.ErrorMessage == nil || *failed.ErrorMessage == "" {
		t.Fatal("error_message not set")
	}
	if failed.CompletedAt != nil {
		t.Fatal("completed_at set on failed record")
	}
	if failed.Progress == 100 {
		t.Fatal("failed record reports full progress")
	}
}

func TestAnalyzePipelineFailureFailsRecord(t *testing.T) {
	env := setupAnalysisEnv(t)
	env.runner.fail.Store(true)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "report.pdf", []byte("pdf"), map[string]string{
		"user_email": "alice@example.com",
	}))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Code != ErrorCodePipeline {
		t.Fatalf("error code = %q", body.Error.Code)
	}

	stats, _ := env.repo.Stats(context.Background())
	if stats.FailedAnalyses != 1 {
		t.Fatalf("failed = %d, want 1", stats.FailedAnalyses)
	}
}

func TestGetAnalysisByID(t *testing.T) {
	env := setupAnalysisEnv(t)
	_, payload := doAnalyze(t, env, "report.pdf", []byte("pdf"), map[string]string{
		"user_email": "alice@example.com",
	})
	analysisID, _ := payload["analysis_id"].(string)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/analysis/"+analysisID, nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var view map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view["status"] != StatusCompleted {
		t.Fatalf("status = %v", view["status"])
	}
	if view["progress"] != float64(100) {
		t.Fatalf("progress = %v", view["progress"])
	}
	if view["analysis_report"] != "full analysis" {
		t.Fatalf("analysis_report = %v", view["analysis_report"])
	}
}

func TestGetAnalysisNotFound(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/analysis/does-not-exist", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
	if body := decodeError(t, resp); body.Error.Code != ErrorCodeNotFound {
		t.Fatalf("error code = %q", body.Error.Code)
	}
}

func TestListAnalysesForUser(t *testing.T) {
	env := setupAnalysisEnv(t)
	fields := map[string]string{"user_email": "alice@example.com"}
	doAnalyze(t, env, "q1.pdf", []byte("q1 document"), fields)
	doAnalyze(t, env, "q2.pdf", []byte("q2 document"), fields)

	user, err := env.users.GetOrCreate(context.Background(), "alice@example.com", "")
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/users/"+user.ID+"/analyses", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var payload struct {
		UserID   string           `json:"user_id"`
		Analyses []map[string]any `json:"analyses"`
		Count    int              `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Count != 2 || len(payload.Analyses) != 2 {
		t.Fatalf("count = %d, analyses = %d", payload.Count, len(payload.Analyses))
	}
	if payload.UserID != user.ID {
		t.Fatalf("user_id = %q", payload.UserID)
	}
}

func TestListAnalysesUnknownUser(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/users/nobody/analyses", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.Code)
	}
}

func TestListAnalysesRejectsBadLimit(t *testing.T) {
	env := setupAnalysisEnv(t)

	for _, limit := range []string{"abc", "0", "-3"} {
		resp := httptest.NewRecorder()
		env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/users/nobody/analyses?limit="+limit, nil))
		if resp.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: status = %d, want 400", limit, resp.Code)
		}
	}
}

func TestStatsAggregatesOutcomes(t *testing.T) {
	env := setupAnalysisEnv(t)

	doAnalyze(t, env, "good.pdf", []byte("good document"), map[string]string{"user_email": "alice@example.com"})

	env.runner.fail.Store(true)
	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, analyzeRequest(t, "bad.pdf", []byte("bad document"), map[string]string{
		"user_email": "alice@example.com",
	}))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("failing analyze status = %d", resp.Code)
	}

	statsResp := httptest.NewRecorder()
	env.router.ServeHTTP(statsResp, httptest.NewRequest(http.MethodGet, "/stats", nil))
	if statsResp.Code != http.StatusOK {
		t.Fatalf("stats status = %d", statsResp.Code)
	}
	var stats Stats
	if err := json.NewDecoder(statsResp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalAnalyses != 2 || stats.CompletedAnalyses != 1 || stats.FailedAnalyses != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 50 {
		t.Fatalf("success_rate = %v, want 50", stats.SuccessRate)
	}
}

func TestRootReportsHealthy(t *testing.T) {
	env := setupAnalysisEnv(t)

	resp := httptest.NewRecorder()
	env.router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("status = %d", resp.Code)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["status"] != "healthy" {
		t.Fatalf("status = %v", payload["status"])
	}
}
