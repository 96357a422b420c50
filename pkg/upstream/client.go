// Package upstream answers chat requests through an OpenAI-compatible
// chat-completions API and classifies each answer as on or off topic.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/warden/pkg/config"
	"github.com/pario-ai/warden/pkg/governance"
	"github.com/pario-ai/warden/pkg/logging"
	"github.com/pario-ai/warden/pkg/models"
	"github.com/pario-ai/warden/pkg/router"
)

const completionsPath = "/v1/chat/completions"

// maxErrorBody bounds how much of an upstream error body ends up in errors.
const maxErrorBody = 512

var (
	// ErrAllProvidersFailed is returned when every route failed with a
	// transport error or a 5xx status.
	ErrAllProvidersFailed = errors.New("upstream: all providers failed")
	// ErrMalformed is returned for 2xx responses that carry no usable answer.
	ErrMalformed = errors.New("upstream: malformed response")
)

// StatusError is a non-retryable non-2xx response.
type StatusError struct {
	Provider string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %s returned %d: %s", e.Provider, e.Code, e.Body)
}

// Client implements governance.Answerer.
type Client struct {
	routes       []router.Route
	http         *http.Client
	systemPrompt string
	marker       string
	temperature  float64
	maxTokens    int
	logger       *zap.Logger
}

var _ governance.Answerer = (*Client)(nil)

// New resolves the configured model to a fallback chain and returns a Client
// for it.
func New(cfg *config.Config, logger *zap.Logger) (*Client, error) {
	routes, err := router.FromConfig(cfg).Resolve(cfg.Upstream.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", cfg.Upstream.Model, err)
	}
	logger = logging.OrNop(logger)
	marker := cfg.Upstream.OffTopicMarker
	if marker == "" {
		marker = config.DefaultOffTopicMarker
	}
	return &Client{
		routes:       routes,
		http:         &http.Client{Timeout: cfg.Upstream.Timeout},
		systemPrompt: cfg.Upstream.SystemPrompt,
		marker:       marker,
		temperature:  cfg.Upstream.Temperature,
		maxTokens:    cfg.Upstream.MaxTokens,
		logger:       logger,
	}, nil
}

// Answer sends history, prefixed by the system prompt, to each route in turn
// until one responds. Transport errors and 5xx responses move on to the next
// route; anything else ends the call.
func (c *Client) Answer(ctx context.Context, history []models.ChatMessage) (governance.Answer, error) {
	var lastErr error
	for _, route := range c.routes {
		body, err := json.Marshal(c.buildRequest(route.Model, history))
		if err != nil {
			return governance.Answer{}, fmt.Errorf("encode request: %w", err)
		}
		headers := map[string]string{}
		if route.Provider.APIKey != "" {
			headers["Authorization"] = "Bearer " + route.Provider.APIKey
		}

		res, err := c.do(ctx, route.Provider.URL, headers, body)
		if err != nil {
			if ctx.Err() != nil {
				return governance.Answer{}, ctx.Err()
			}
			c.logger.Warn("upstream failed, trying next",
				zap.String("provider", route.Provider.Name), zap.Error(err))
			lastErr = err
			continue
		}
		if res.statusCode >= 500 {
			c.logger.Warn("upstream error status, trying next",
				zap.String("provider", route.Provider.Name), zap.Int("status", res.statusCode))
			lastErr = &StatusError{Provider: route.Provider.Name, Code: res.statusCode, Body: truncate(res.body)}
			continue
		}
		if res.statusCode < 200 || res.statusCode >= 300 {
			return governance.Answer{}, &StatusError{Provider: route.Provider.Name, Code: res.statusCode, Body: truncate(res.body)}
		}

		text, err := parseCompletion(res.body)
		if err != nil {
			return governance.Answer{}, fmt.Errorf("%s: %w", route.Provider.Name, err)
		}
		return Classify(text, c.marker), nil
	}
	return governance.Answer{}, fmt.Errorf("%w: %w", ErrAllProvidersFailed, lastErr)
}

// buildRequest drops client-supplied system messages so the configured
// prompt stays authoritative.
func (c *Client) buildRequest(model string, history []models.ChatMessage) models.ChatCompletionRequest {
	msgs := make([]models.ChatMessage, 0, len(history)+1)
	if c.systemPrompt != "" {
		msgs = append(msgs, models.ChatMessage{Role: models.RoleSystem, Content: c.systemPrompt})
	}
	for _, m := range history {
		if m.Role == models.RoleSystem {
			continue
		}
		msgs = append(msgs, m)
	}
	req := models.ChatCompletionRequest{Model: model, Messages: msgs}
	if c.temperature > 0 {
		t := c.temperature
		req.Temperature = &t
	}
	if c.maxTokens > 0 {
		n := c.maxTokens
		req.MaxTokens = &n
	}
	return req
}

type result struct {
	statusCode int
	body       []byte
}

func (c *Client) do(ctx context.Context, providerURL string, headers map[string]string, body []byte) (*result, error) {
	target, err := url.Parse(providerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid provider URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(target.String(), "/")+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("upstream response",
		zap.String("url", target.Host),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)))

	return &result{statusCode: resp.StatusCode, body: respBody}, nil
}

func parseCompletion(body []byte) (string, error) {
	var resp models.ChatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrMalformed)
	}
	text := resp.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: empty content", ErrMalformed)
	}
	return text, nil
}

// Classify turns a raw completion into a tagged answer. Text that starts with
// marker, ignoring leading whitespace, is off topic and is returned without
// the marker.
func Classify(text, marker string) governance.Answer {
	trimmed := strings.TrimSpace(text)
	if marker != "" && strings.HasPrefix(trimmed, marker) {
		return governance.Answer{
			Verdict: governance.OffTopic,
			Text:    strings.TrimSpace(strings.TrimPrefix(trimmed, marker)),
		}
	}
	return governance.Answer{Verdict: governance.OnTopic, Text: trimmed}
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody])
	}
	return string(b)
}
