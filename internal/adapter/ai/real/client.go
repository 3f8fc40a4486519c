// Package real implements a real AI client backed by the OpenRouter API.
package real

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"log/slog"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/ai/tokencount"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// Client implements domain.AIClient using OpenRouter chat completions.
// Models come from configuration and are rotated round-robin; a per-model
// circuit breaker steers rotation away from models that keep failing.
type Client struct {
	cfg          config.Config
	chatHC       *http.Client
	breakers     *ai.CircuitBreakerManager
	counter      *tokencount.Counter
	cleaner      *ai.ResponseCleaner
	modelCounter int64
}

// New constructs a real AI client with sensible timeouts.
func New(cfg config.Config) *Client {
	chatTimeout := 60 * time.Second
	if cfg.IsDev() {
		// Free-tier models queue under load; give them room in dev
		chatTimeout = 120 * time.Second
	}

	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}))

	return &Client{
		cfg:      cfg,
		chatHC:   &http.Client{Timeout: chatTimeout, Transport: transport},
		breakers: ai.NewCircuitBreakerManager(),
		counter:  tokencount.NewCounter(),
		cleaner:  ai.NewResponseCleaner(),
	}
}

// apiKey prefers the primary OpenRouter key but falls back to the secondary
// one so key rotation does not require downtime.
func (c *Client) apiKey() string {
	if c.cfg.OpenRouterAPIKey != "" {
		return c.cfg.OpenRouterAPIKey
	}
	return c.cfg.OpenRouterAPIKey2
}

// getBackoffConfig returns a configured ExponentialBackOff based on the current environment.
func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()

	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier

	return expo
}

// pickModel selects the next chat model round-robin, skipping models whose
// circuit breaker is open. When every breaker is open the scheduled model is
// used anyway so recovery probes still happen.
func (c *Client) pickModel() string {
	models := c.cfg.ChatModels
	n := int64(len(models))
	start := atomic.AddInt64(&c.modelCounter, 1)
	for i := int64(0); i < n; i++ {
		model := models[(start+i)%n]
		if c.breakers.GetBreaker(model).ShouldAttempt() {
			return model
		}
	}
	fallback := models[start%n]
	slog.Warn("all model circuits open, forcing scheduled model",
		slog.String("model", fallback))
	return fallback
}

// fallbackModels returns up to three alternates for the OpenRouter "models"
// field, excluding the selected model.
func (c *Client) fallbackModels(selected string) []string {
	out := make([]string, 0, 3)
	for _, m := range c.cfg.ChatModels {
		if m == selected {
			continue
		}
		out = append(out, m)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// ChatJSON calls OpenRouter (OpenAI-compatible) chat completions and returns the message content.
func (c *Client) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	if c.apiKey() == "" {
		slog.Error("OpenRouter API key missing", slog.String("provider", "openrouter"))
		return "", fmt.Errorf("%w: OPENROUTER_API_KEY missing", domain.ErrConfiguration)
	}
	if len(c.cfg.ChatModels) == 0 {
		slog.Error("no chat models configured", slog.String("provider", "openrouter"))
		return "", fmt.Errorf("%w: CHAT_MODELS missing", domain.ErrConfiguration)
	}

	model := c.pickModel()
	breaker := c.breakers.GetBreaker(model)

	if c.cfg.PromptTokenBudget > 0 {
		if n, err := c.counter.CountChatTokens(systemPrompt, userPrompt, model); err == nil && n > c.cfg.PromptTokenBudget {
			slog.Warn("prompt exceeds token budget",
				slog.String("model", model),
				slog.Int("prompt_tokens", n),
				slog.Int("budget", c.cfg.PromptTokenBudget))
		}
	}

	slog.Info("calling OpenRouter API",
		slog.String("provider", "openrouter"),
		slog.String("model", model),
		slog.Int("max_tokens", maxTokens))
	body := map[string]any{
		"model":       model,
		"temperature": 0.2,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
	}
	if fb := c.fallbackModels(model); len(fb) > 0 {
		body["models"] = fb
	}
	b, _ := json.Marshal(body)

	var out struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OpenRouterBaseURL+"/chat/completions", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.apiKey())
		r.Header.Set("Content-Type", "application/json")
		if c.cfg.OpenRouterReferer != "" {
			r.Header.Set("HTTP-Referer", c.cfg.OpenRouterReferer)
		}
		if c.cfg.OpenRouterTitle != "" {
			r.Header.Set("X-Title", c.cfg.OpenRouterTitle)
		}
		resp, err := c.chatHC.Do(r)
		observability.AIRequestsTotal.WithLabelValues("openrouter", "chat").Inc()
		observability.AIRequestDuration.WithLabelValues("openrouter", "chat").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		bodyBytes, err := io.ReadAll(resp.Body)
		if err != nil {
			slog.Error("failed to read response body", slog.String("provider", "openrouter"), slog.Any("error", err))
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			// Retryable: let backoff handle retries
			slog.Warn("ai provider rate limited",
				slog.String("provider", "openrouter"),
				slog.String("op", "chat"),
				slog.Int("status", resp.StatusCode),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")))
			return fmt.Errorf("%w: chat status 429", domain.ErrUpstreamRateLimit)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			// Client error: non-retryable
			slog.Warn("ai provider 4xx",
				slog.String("provider", "openrouter"),
				slog.String("op", "chat"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", model),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
				slog.String("body", snippet(bodyBytes, 512)))
			return backoff.Permanent(fmt.Errorf("chat status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			// 5xx and others: retryable
			slog.Error("ai provider non-2xx",
				slog.String("provider", "openrouter"),
				slog.String("op", "chat"),
				slog.Int("status", resp.StatusCode),
				slog.String("model", model),
				slog.String("x_request_id", resp.Header.Get("X-Request-Id")),
				slog.String("body", snippet(bodyBytes, 512)))
			return fmt.Errorf("chat status %d", resp.StatusCode)
		}
		if err := json.Unmarshal(bodyBytes, &out); err != nil {
			slog.Error("ai provider decode error",
				slog.String("provider", "openrouter"),
				slog.String("op", "chat"),
				slog.String("model", model),
				slog.Any("error", err))
			return err
		}
		return nil
	}
	expo := c.getBackoffConfig()
	bo := backoff.WithContext(expo, ctx)

	if err := backoff.Retry(op, bo); err != nil {
		breaker.RecordFailure()
		slog.Error("OpenRouter API failed after retries",
			slog.String("provider", "openrouter"),
			slog.String("model", model),
			slog.Any("error", err))
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: chat completion: %v", domain.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("openrouter api failed: %w", err)
	}

	if len(out.Choices) == 0 {
		breaker.RecordFailure()
		slog.Error("OpenRouter API returned empty choices", slog.String("provider", "openrouter"), slog.String("model", model))
		return "", fmt.Errorf("%w: empty choices from OpenRouter API", domain.ErrSchemaInvalid)
	}

	content, err := c.cleaner.CleanAndValidateJSON(out.Choices[0].Message.Content)
	if err != nil {
		breaker.RecordFailure()
		slog.Error("ai reply carried no JSON payload",
			slog.String("provider", "openrouter"),
			slog.String("model", model),
			slog.String("body", snippet([]byte(out.Choices[0].Message.Content), 512)))
		return "", fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	breaker.RecordSuccess()
	actualModel := model
	if out.Model != "" && out.Model != model {
		slog.Warn("model substitution detected",
			slog.String("requested_model", model),
			slog.String("actual_model", out.Model),
			slog.String("provider", "openrouter"))
		actualModel = out.Model
	}

	completionTokens := 0
	if n, err := c.counter.CountTokens(content, actualModel); err == nil {
		completionTokens = n
	}
	slog.Info("OpenRouter API call successful",
		slog.String("provider", "openrouter"),
		slog.String("model", actualModel),
		slog.Int("completion_tokens", completionTokens))
	return content, nil
}

// snippet bounds a response body for log output.
func snippet(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
