package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
	ports "github.com/ZanzyTHEbar/tester-agent/uta/harness/ports"
)

const (
	DefaultOpenAIBaseURL   = "https://api.openai.com/v1"
	DefaultOpenAIModel     = "gpt-3.5-turbo"
	DefaultTemperature     = 0.7
	DefaultMaxTokens       = 1000
	maxResponseSize        = 10 << 20
	maxErrorBodyInMessages = 200
)

// RetryConfig controls how failed provider calls are retried.
type RetryConfig struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultRetryConfig returns 3 attempts with 2s exponential backoff capped at 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// backoff returns the wait after the given 1-based attempt, with +/-25% jitter.
func (r RetryConfig) backoff(attempt int) time.Duration {
	mult := 1.0
	for i := 1; i < attempt; i++ {
		mult *= r.BackoffMultiplier
	}
	d := time.Duration(float64(r.BackoffBase) * mult)
	if r.MaxBackoff > 0 && d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	jitter := float64(d) * 0.25 * (rand.Float64()*2 - 1)
	return d + time.Duration(jitter)
}

// StatusError is a non-2xx answer from a remote model endpoint.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("endpoint returned status %d: %s", e.Status, e.Body)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// OpenAIConfig configures an OpenAI-compatible chat completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Retry       RetryConfig
}

// OpenAIProvider implements ports.Provider against /chat/completions.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger zerolog.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) {
		if c != nil {
			p.client = c
		}
	}
}

// WithProviderLogger sets the logger used for retry diagnostics.
func WithProviderLogger(l zerolog.Logger) OpenAIOption {
	return func(p *OpenAIProvider) { p.logger = l }
}

// NewOpenAIProvider fills unset fields of cfg with defaults.
func NewOpenAIProvider(cfg OpenAIConfig, opts ...OpenAIOption) *OpenAIProvider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Retry.MaxAttempts < 1 {
		cfg.Retry = DefaultRetryConfig()
	}
	p := &OpenAIProvider{cfg: cfg, client: http.DefaultClient, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// URL is the chat completions endpoint derived from the base URL.
func (p *OpenAIProvider) URL() string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float32         `json:"temperature"`
	TopP           float32         `json:"top_p,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Seed           *int            `json:"seed,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends the prompt, retrying transient failures with exponential
// backoff. The per-call timeout in opts bounds every attempt together.
func (p *OpenAIProvider) Complete(ctx context.Context, in ports.PromptInput, opts ports.Options) (ports.Completion, error) {
	body, err := json.Marshal(p.buildRequest(in, opts))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("build request body: %w", err)
	}
	if opts.TimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutMs)*time.Millisecond)
		defer cancel()
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.Retry.MaxAttempts; attempt++ {
		out, err := p.do(ctx, body)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errs.IsTransient(err) || attempt == p.cfg.Retry.MaxAttempts {
			break
		}

		wait := p.cfg.Retry.backoff(attempt)
		p.logger.Debug().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", p.cfg.Retry.MaxAttempts).
			Dur("backoff", wait).
			Msg("provider request failed, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ports.Completion{}, ctx.Err()
		case <-timer.C:
		}
	}
	return ports.Completion{Status: StatusOf(lastErr)}, lastErr
}

func (p *OpenAIProvider) buildRequest(in ports.PromptInput, opts ports.Options) chatRequest {
	msgs := make([]chatMessage, 0, len(in.Messages)+1)
	if in.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	req := chatRequest{
		Model:       p.cfg.Model,
		Messages:    msgs,
		Temperature: p.cfg.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   p.cfg.MaxTokens,
		Stop:        opts.Stop,
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}
	if opts.MaxNewTokens > 0 {
		req.MaxTokens = opts.MaxNewTokens
	}
	if opts.Seed != 0 {
		seed := opts.Seed
		req.Seed = &seed
	}
	if opts.JSONMode {
		req.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	return req
}

func (p *OpenAIProvider) do(ctx context.Context, body []byte) (ports.Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL(), bytes.NewReader(body))
	if err != nil {
		return ports.Completion{}, fmt.Errorf("create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ports.Completion{}, ctx.Err()
		}
		return ports.Completion{}, errs.NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ports.Completion{}, errs.NewTransientError(fmt.Errorf("read response body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return ports.Completion{}, classifyStatus(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ports.Completion{}, &StatusError{Status: resp.StatusCode, Body: "invalid JSON: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return ports.Completion{}, &StatusError{Status: resp.StatusCode, Body: "no choices in response"}
	}

	out := ports.Completion{
		Text:   parsed.Choices[0].Message.Content,
		Raw:    parsed,
		Status: resp.StatusCode,
	}
	if parsed.Usage != nil {
		out.Usage = &ports.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		}
	}
	return out, nil
}

// classifyStatus marks 429 and 5xx answers as retryable.
func classifyStatus(status int, body []byte) error {
	text := string(body)
	if len(text) > maxErrorBodyInMessages {
		text = text[:maxErrorBodyInMessages] + "..."
	}
	err := &StatusError{Status: status, Body: text}
	if status == http.StatusTooManyRequests || status >= 500 {
		return errs.NewTransientError(err)
	}
	return err
}

var _ ports.Provider = (*OpenAIProvider)(nil)
