package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// CallBudget meters upstream synthesis calls.
type CallBudget interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// budgetedSpeech wraps a SpeechClient and consults a shared call budget
// before every synthesis request.
type budgetedSpeech struct {
	base   domain.SpeechClient
	budget CallBudget
	key    string
}

// NewBudgetedSpeech wraps base with a per-call budget under the given bucket
// key. A nil budget returns base unmodified.
func NewBudgetedSpeech(base domain.SpeechClient, budget CallBudget, key string) domain.SpeechClient {
	if budget == nil || base == nil {
		return base
	}
	return &budgetedSpeech{base: base, budget: budget, key: key}
}

func (c *budgetedSpeech) Synthesize(ctx domain.Context, text string) ([]byte, string, error) {
	allowed, retryAfter, _ := c.budget.Allow(ctx, c.key, 1)
	if !allowed {
		return nil, "", fmt.Errorf("%w: speech call budget exhausted, retry in %s",
			domain.ErrUpstreamRateLimit, retryAfter.Round(time.Millisecond))
	}
	return c.base.Synthesize(ctx, text)
}
