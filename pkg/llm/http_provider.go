package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
)

// HTTPProvider calls an OpenAI-compatible chat-completions endpoint. Both
// hosted providers and local runtimes (Ollama, vLLM) expose this shape.
type HTTPProvider struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	isLocal    bool
	maxTokens  int
	httpClient *http.Client
}

// NewHTTPProvider creates a provider from its registry config. The API key
// is read from the configured environment variable at construction.
func NewHTTPProvider(name string, cfg *config.LLMProviderConfig) *HTTPProvider {
	if cfg == nil {
		panic("NewHTTPProvider: cfg must not be nil")
	}
	timeout := 120 * time.Second
	if cfg.TimeoutSec > 0 {
		timeout = time.Duration(cfg.TimeoutSec) * time.Second
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return &HTTPProvider{
		name:       name,
		baseURL:    cfg.BaseURL,
		apiKey:     apiKey,
		model:      cfg.Model,
		isLocal:    cfg.IsLocal,
		maxTokens:  cfg.MaxTokens,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Name implements Provider.
func (p *HTTPProvider) Name() string { return p.name }

// IsLocal implements Provider.
func (p *HTTPProvider) IsLocal() bool { return p.isLocal }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	User      string        `json:"user,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// GenerateResponse implements Provider.
func (p *HTTPProvider) GenerateResponse(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (*Response, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.maxTokens
	}

	var messages []chatMessage
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  messages,
		MaxTokens: maxTokens,
		User:      opts.ExecutionContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", p.name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", p.name, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("malformed %s response (status %d): %w", p.name, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := string(data)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%s returned status %d: %s", p.name, resp.StatusCode, msg)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", p.name)
	}

	return &Response{
		Content:      parsed.Choices[0].Message.Content,
		Model:        model,
		Provider:     p.name,
		InputTokens:  parsed.Usage.PromptTokens,
		OutputTokens: parsed.Usage.CompletionTokens,
	}, nil
}
