// Package tts synthesizes spoken question audio via an OpenAI-compatible
// speech endpoint.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"log/slog"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// Client implements domain.SpeechClient against the /audio/speech endpoint.
type Client struct {
	cfg config.Config
	hc  *http.Client
}

// New constructs a speech client. Synthesis for a long question can take a
// while, so the timeout is generous.
func New(cfg config.Config) *Client {
	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s", r.Method, r.URL.Path)
		}))
	return &Client{
		cfg: cfg,
		hc:  &http.Client{Timeout: 60 * time.Second, Transport: transport},
	}
}

func (c *Client) getBackoffConfig() *backoff.ExponentialBackOff {
	expo := backoff.NewExponentialBackOff()

	maxElapsedTime, initialInterval, maxInterval, multiplier := c.cfg.GetAIBackoffConfig()
	expo.MaxElapsedTime = maxElapsedTime
	expo.InitialInterval = initialInterval
	expo.MaxInterval = maxInterval
	expo.Multiplier = multiplier

	return expo
}

// Synthesize renders text as MP3 audio. The MIME type is sniffed from the
// returned bytes rather than trusted from the response headers.
func (c *Client) Synthesize(ctx domain.Context, text string) ([]byte, string, error) {
	if c.cfg.TTSAPIKey == "" {
		slog.Error("TTS API key missing", slog.String("provider", "tts"))
		return nil, "", fmt.Errorf("%w: TTS_API_KEY missing", domain.ErrConfiguration)
	}
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: empty text for synthesis", domain.ErrInvalidArgument)
	}

	body := map[string]any{
		"model":           c.cfg.TTSModel,
		"input":           text,
		"voice":           c.cfg.TTSVoice,
		"response_format": "mp3",
	}
	b, _ := json.Marshal(body)

	var audio []byte
	op := func() error {
		start := time.Now()
		// Recreate request each attempt to avoid reusing consumed bodies
		r, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TTSBaseURL+"/audio/speech", bytes.NewReader(b))
		r.Header.Set("Authorization", "Bearer "+c.cfg.TTSAPIKey)
		r.Header.Set("Content-Type", "application/json")
		resp, err := c.hc.Do(r)
		observability.TTSRequestDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			observability.TTSRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode == http.StatusTooManyRequests {
			observability.TTSRequestsTotal.WithLabelValues("rate_limited").Inc()
			slog.Warn("tts provider rate limited",
				slog.String("provider", "tts"),
				slog.Int("status", resp.StatusCode))
			return fmt.Errorf("%w: speech status 429", domain.ErrUpstreamRateLimit)
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			observability.TTSRequestsTotal.WithLabelValues("client_error").Inc()
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			slog.Warn("tts provider 4xx",
				slog.String("provider", "tts"),
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(snippet)))
			return backoff.Permanent(fmt.Errorf("speech status %d", resp.StatusCode))
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			observability.TTSRequestsTotal.WithLabelValues("server_error").Inc()
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			slog.Error("tts provider non-2xx",
				slog.String("provider", "tts"),
				slog.Int("status", resp.StatusCode),
				slog.String("body", string(snippet)))
			return fmt.Errorf("speech status %d", resp.StatusCode)
		}

		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			observability.TTSRequestsTotal.WithLabelValues("error").Inc()
			return err
		}
		observability.TTSRequestsTotal.WithLabelValues("ok").Inc()
		return nil
	}

	expo := c.getBackoffConfig()
	bo := backoff.WithContext(expo, ctx)
	if err := backoff.Retry(op, bo); err != nil {
		slog.Error("TTS synthesis failed after retries", slog.String("provider", "tts"), slog.Any("error", err))
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("%w: speech synthesis: %v", domain.ErrUpstreamTimeout, err)
		}
		return nil, "", fmt.Errorf("tts api failed: %w", err)
	}

	if len(audio) == 0 {
		return nil, "", fmt.Errorf("%w: empty audio from speech api", domain.ErrSchemaInvalid)
	}

	mime := mimetype.Detect(audio)
	if !strings.HasPrefix(mime.String(), "audio/") {
		slog.Warn("speech api returned non-audio payload",
			slog.String("detected", mime.String()),
			slog.Int("bytes", len(audio)))
	}
	slog.Info("speech synthesis successful",
		slog.String("provider", "tts"),
		slog.Int("bytes", len(audio)),
		slog.String("content_type", mime.String()))
	return audio, mime.String(), nil
}
