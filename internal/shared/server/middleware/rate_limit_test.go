package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimitThrottlesAfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 2})

	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/limited", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/limited", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		if resp.Code != http.StatusOK {
			t.Fatalf("request %d expected 200, got %d", i+1, resp.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("request 3 expected 429, got %d", resp.Code)
	}

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Error.Code != "rate_limited" {
		t.Fatalf("error code = %q, want rate_limited", payload.Error.Code)
	}
}

func TestRateLimitTracksClientsSeparately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := NewRateLimiter(RateLimitConfig{Rate: 1, Burst: 1})

	r := gin.New()
	r.Use(RateLimit(limiter))
	r.GET("/limited", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	first := httptest.NewRequest(http.MethodGet, "/limited", nil)
	first.RemoteAddr = "10.0.0.1:1234"
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, first)
	if resp.Code != http.StatusOK {
		t.Fatalf("first client expected 200, got %d", resp.Code)
	}

	second := httptest.NewRequest(http.MethodGet, "/limited", nil)
	second.RemoteAddr = "10.0.0.2:1234"
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, second)
	if resp.Code != http.StatusOK {
		t.Fatalf("second client expected 200, got %d", resp.Code)
	}

	blocked := httptest.NewRequest(http.MethodGet, "/limited", nil)
	blocked.RemoteAddr = "10.0.0.1:1234"
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, blocked)
	if resp.Code != http.StatusTooManyRequests {
		t.Fatalf("exhausted client expected 429, got %d", resp.Code)
	}
}
