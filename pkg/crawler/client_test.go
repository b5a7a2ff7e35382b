package crawler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/resilience"
)

func newTestExecutor(maxRetries int) *resilience.Executor {
	return resilience.NewExecutor(&config.RetryConfig{
		MaxRetries:        maxRetries,
		InitialDelayMs:    1,
		MaxDelayMs:        1,
		BackoffMultiplier: 1,
		TimeoutMs:         5000,
	}, resilience.NewHealthTracker())
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		allowPrivate bool
		blocked      bool
	}{
		{name: "https allowed", url: "https://news.example.com/article"},
		{name: "http allowed", url: "http://news.example.com/article"},
		{name: "ftp blocked", url: "ftp://example.com/file", blocked: true},
		{name: "file blocked", url: "file:///etc/passwd", blocked: true},
		{name: "localhost blocked", url: "http://localhost:8080/x", blocked: true},
		{name: "loopback blocked", url: "http://127.0.0.1/x", blocked: true},
		{name: "10/8 blocked", url: "http://10.1.2.3/x", blocked: true},
		{name: "172.16/12 blocked", url: "http://172.20.0.1/x", blocked: true},
		{name: "192.168/16 blocked", url: "http://192.168.1.10/x", blocked: true},
		{name: "public ip allowed", url: "http://93.184.216.34/x"},
		{name: "private allowed when enabled", url: "http://192.168.1.10/x", allowPrivate: true},
		{name: "localhost allowed when enabled", url: "http://localhost:3002/x", allowPrivate: true},
		{name: "missing host blocked", url: "https://", blocked: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, tt.allowPrivate)
			if tt.blocked {
				assert.ErrorIs(t, err, ErrBlockedURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScrape_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/scrape", r.URL.Path)
		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://news.example.com/a", req.URL)
		assert.Equal(t, []string{"markdown"}, req.Formats)

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"markdown": "# Headline",
				"metadata": map[string]any{"title": "Headline"},
			},
		})
	}))
	defer server.Close()

	client := NewClient(&config.CrawlerConfig{BaseURL: server.URL, AllowPrivateNetworks: true}, newTestExecutor(0))
	result, err := client.Scrape(context.Background(), "https://news.example.com/a", ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "# Headline", result.Markdown)
	assert.Equal(t, "Headline", result.Metadata["title"])
}

func TestScrape_BlockedURLNeverHitsBackend(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	client := NewClient(&config.CrawlerConfig{BaseURL: server.URL}, newTestExecutor(3))
	_, err := client.Scrape(context.Background(), "http://127.0.0.1/admin", ScrapeOptions{})
	assert.ErrorIs(t, err, ErrBlockedURL)
	assert.Zero(t, calls.Load())
}

func TestScrape_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "upstream busy"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]any{"markdown": "ok"},
		})
	}))
	defer server.Close()

	client := NewClient(&config.CrawlerConfig{BaseURL: server.URL, AllowPrivateNetworks: true}, newTestExecutor(2))
	result, err := client.Scrape(context.Background(), "https://news.example.com/a", ScrapeOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Markdown)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScrape_ClientErrorFailsFast(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "unsupported page"})
	}))
	defer server.Close()

	client := NewClient(&config.CrawlerConfig{BaseURL: server.URL, AllowPrivateNetworks: true}, newTestExecutor(3))
	_, err := client.Scrape(context.Background(), "https://news.example.com/a", ScrapeOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported page")
	assert.Equal(t, int32(1), calls.Load(), "4xx must not retry")
}
