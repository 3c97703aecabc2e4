package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"findoc-backend/internal/shared/telemetry"
)

const chatCompletionsURL = "https://api.openai.com/v1/chat/completions"

const systemPrompt = `You are a senior financial analyst. You receive the extracted text of a
financial document and an investor's question. Respond with a JSON object with
these string fields:
  "analysis": a thorough written report answering the question,
  "financial_metrics": key figures and ratios found in the document,
  "investment_recommendations": buy/hold/sell guidance with rationale,
  "risk_assessment": credit, market, operational and regulatory risks.`

// OpenAIRunner runs the analysis pipeline on OpenAI chat completions.
type OpenAIRunner struct {
	apiKey     string
	model      string
	httpClient *http.Client
	search     *SerperClient
}

// NewOpenAIRunner constructs a runner. search may be nil.
func NewOpenAIRunner(apiKey, model string, search *SerperClient) (*OpenAIRunner, error) {
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("LLM_MODEL is required for OpenAI")
	}
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	timeout := 120 * time.Second
	if raw := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			timeout = time.Duration(parsed) * time.Second
		}
	}
	return &OpenAIRunner{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		search: search,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float32        `json:"temperature,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type reportPayload struct {
	Analysis                  string `json:"analysis"`
	FinancialMetrics          string `json:"financial_metrics"`
	InvestmentRecommendations string `json:"investment_recommendations"`
	RiskAssessment            string `json:"risk_assessment"`
}

// Run sends one chat completion and maps the response to a Report.
func (r *OpenAIRunner) Run(ctx context.Context, input Input) (Report, error) {
	var userContent strings.Builder
	fmt.Fprintf(&userContent, "Question: %s\n\n", input.Query)
	if r.search != nil {
		if snippets, err := r.search.MarketContext(ctx, input.Query); err == nil && snippets != "" {
			fmt.Fprintf(&userContent, "Recent market context:\n%s\n\n", snippets)
		} else if err != nil {
			telemetry.Error("pipeline.search", map[string]any{"error": err.Error()})
		}
	}
	fmt.Fprintf(&userContent, "Document text:\n%s", input.DocumentText)

	temp := float32(0.2)
	reqBody := chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent.String()},
		},
		Temperature:    &temp,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	raw, err := r.complete(ctx, reqBody)
	if err != nil {
		return Report{}, err
	}

	return parseReport(raw), nil
}

func parseReport(raw string) Report {
	var payload reportPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || strings.TrimSpace(payload.Analysis) == "" {
		// Model ignored the schema; treat the whole completion as the report.
		return Report{Analysis: raw}
	}
	return Report{
		Analysis:                  payload.Analysis,
		FinancialMetrics:          payload.FinancialMetrics,
		InvestmentRecommendations: payload.InvestmentRecommendations,
		RiskAssessment:            payload.RiskAssessment,
	}
}

func (r *OpenAIRunner) complete(ctx context.Context, reqBody chatRequest) (string, error) {
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, chatCompletionsURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("openai error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("openai status %d", resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	if parsed.Usage != nil {
		telemetry.Info("pipeline.usage", map[string]any{
			"model":             parsed.Model,
			"prompt_tokens":     parsed.Usage.PromptTokens,
			"completion_tokens": parsed.Usage.CompletionTokens,
			"total_tokens":      parsed.Usage.TotalTokens,
		})
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ Runner = (*OpenAIRunner)(nil)
