package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// CallBudget meters upstream provider calls. A zero retryAfter with
// allowed=false means the bucket has no refill configured.
type CallBudget interface {
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// budgetedClient wraps an AIClient and consults a shared call budget before
// every completion. Budget errors fail open inside Allow, so only an explicit
// rejection blocks the call.
type budgetedClient struct {
	base   domain.AIClient
	budget CallBudget
	key    string
}

// NewBudgetedClient wraps base with a per-call budget under the given bucket
// key. A nil budget returns base unmodified.
func NewBudgetedClient(base domain.AIClient, budget CallBudget, key string) domain.AIClient {
	if budget == nil || base == nil {
		return base
	}
	return &budgetedClient{base: base, budget: budget, key: key}
}

func (c *budgetedClient) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	allowed, retryAfter, _ := c.budget.Allow(ctx, c.key, 1)
	if !allowed {
		return "", fmt.Errorf("%w: model call budget exhausted, retry in %s",
			domain.ErrUpstreamRateLimit, retryAfter.Round(time.Millisecond))
	}
	return c.base.ChatJSON(ctx, systemPrompt, userPrompt, maxTokens)
}
