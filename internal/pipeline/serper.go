package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const serperSearchURL = "https://google.serper.dev/search"

// SerperClient is a thin wrapper around the Serper.dev web search API,
// used to enrich pipeline prompts with recent market context.
type SerperClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewSerperClient constructs a client, or nil when no key is configured.
func NewSerperClient(apiKey string) *SerperClient {
	if strings.TrimSpace(apiKey) == "" {
		return nil
	}
	return &SerperClient{
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	Organic []struct {
		Title   string `json:"title"`
		Snippet string `json:"snippet"`
	} `json:"organic"`
}

// MarketContext returns a few search snippets for the query, newline joined.
func (s *SerperClient) MarketContext(ctx context.Context, query string) (string, error) {
	body, err := json.Marshal(serperRequest{Q: query, Num: 3})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, serperSearchURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("serper request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("serper status %d", resp.StatusCode)
	}

	var parsed serperResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	var out []string
	for _, hit := range parsed.Organic {
		line := strings.TrimSpace(hit.Title)
		if snippet := strings.TrimSpace(hit.Snippet); snippet != "" {
			line += ": " + snippet
		}
		if line != "" {
			out = append(out, "- "+line)
		}
	}
	return strings.Join(out, "\n"), nil
}
