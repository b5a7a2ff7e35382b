// Package crawler is the bridge to the external scrape service. Every call
// goes through the resilience executor under the "firecrawl" service name,
// and URLs pass a private-network guard before any request leaves the
// process.
package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
	"github.com/foresight-labs/foresight/pkg/resilience"
)

// ServiceName is the health-tracker service key for the scrape backend.
const ServiceName = "firecrawl"

// ErrBlockedURL is returned for URLs the guard refuses to fetch.
var ErrBlockedURL = errors.New("url blocked by crawler policy")

// ScrapeOptions tune a single scrape call.
type ScrapeOptions struct {
	// Formats requested from the backend, e.g. "markdown", "html".
	// Defaults to markdown only.
	Formats []string
	WaitMs  int
}

// ScrapeResult is the content a successful scrape produced.
type ScrapeResult struct {
	Markdown string
	HTML     string
	Metadata map[string]any
}

// Client calls the scrape service.
type Client struct {
	baseURL      string
	allowPrivate bool
	httpClient   *http.Client
	executor     *resilience.Executor
}

// NewClient creates the bridge from its config.
func NewClient(cfg *config.CrawlerConfig, executor *resilience.Executor) *Client {
	if cfg == nil {
		panic("NewClient: cfg must not be nil")
	}
	if executor == nil {
		panic("NewClient: executor must not be nil")
	}
	timeout := 30 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		allowPrivate: cfg.AllowPrivateNetworks,
		httpClient:   &http.Client{Timeout: timeout},
		executor:     executor,
	}
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats,omitempty"`
	WaitMs  int      `json:"wait_ms,omitempty"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Markdown string         `json:"markdown"`
		HTML     string         `json:"html"`
		Metadata map[string]any `json:"metadata"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// Scrape fetches a URL through the scrape service. Guard violations and
// client-side rejections fail fast; backend failures retry per the
// executor's policy.
func (c *Client) Scrape(ctx context.Context, rawURL string, opts ScrapeOptions) (*ScrapeResult, error) {
	if err := ValidateURL(rawURL, c.allowPrivate); err != nil {
		return nil, resilience.Permanent(err)
	}

	formats := opts.Formats
	if len(formats) == 0 {
		formats = []string{"markdown"}
	}
	body, err := json.Marshal(scrapeRequest{URL: rawURL, Formats: formats, WaitMs: opts.WaitMs})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scrape request: %w", err)
	}

	return resilience.Do(ctx, c.executor, ServiceName, "scrape", nil, func(ctx context.Context) (*ScrapeResult, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/scrape", bytes.NewReader(body))
		if err != nil {
			return nil, resilience.Permanent(fmt.Errorf("failed to build scrape request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("scrape request failed: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
		if err != nil {
			return nil, fmt.Errorf("failed to read scrape response: %w", err)
		}

		var parsed scrapeResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("malformed scrape response (status %d): %w", resp.StatusCode, err)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, resilience.Permanent(fmt.Errorf("scrape rejected with status %d: %s", resp.StatusCode, parsed.Error))
		}
		if resp.StatusCode != http.StatusOK || !parsed.Success {
			return nil, fmt.Errorf("scrape failed with status %d: %s", resp.StatusCode, parsed.Error)
		}

		return &ScrapeResult{
			Markdown: parsed.Data.Markdown,
			HTML:     parsed.Data.HTML,
			Metadata: parsed.Data.Metadata,
		}, nil
	})
}

// ValidateURL enforces the fetch policy: http/https only, and no loopback or
// private-range hosts unless allowPrivate is set.
func ValidateURL(rawURL string, allowPrivate bool) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q is not allowed", ErrBlockedURL, parsed.Scheme)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if allowPrivate {
		return nil
	}
	if strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: loopback host %q", ErrBlockedURL, host)
	}
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() {
			return fmt.Errorf("%w: private address %q", ErrBlockedURL, host)
		}
	}
	return nil
}
