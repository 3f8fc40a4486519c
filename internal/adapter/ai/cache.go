package ai

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// chatCacheClient wraps an AIClient and caches ChatJSON completions by prompt
// hash. Reference-answer generation replays identical prompts whenever a
// session is reseeded or a chunk is retried, so a hit saves a full model call.
// It is safe for concurrent use. Eviction is FIFO for simplicity.
type chatCacheClient struct {
	base     domain.AIClient
	capacity int
	mu       sync.RWMutex
	m        map[string]string
	ord      []string
}

// NewChatCache wraps base with a completion cache of given capacity (number of
// entries). If capacity <= 0, base is returned unmodified.
func NewChatCache(base domain.AIClient, capacity int) domain.AIClient {
	if capacity <= 0 || base == nil {
		return base
	}
	return &chatCacheClient{base: base, capacity: capacity, m: make(map[string]string), ord: make([]string, 0, capacity)}
}

func (c *chatCacheClient) ChatJSON(ctx domain.Context, systemPrompt, userPrompt string, maxTokens int) (string, error) {
	k := keyFor(systemPrompt, userPrompt)
	c.mu.RLock()
	v, ok := c.m[k]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}
	out, err := c.base.ChatJSON(ctx, systemPrompt, userPrompt, maxTokens)
	if err != nil {
		return "", err
	}
	c.put(k, out)
	return out, nil
}

func (c *chatCacheClient) put(k, v string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.m[k]; exists {
		c.m[k] = v
		return
	}
	if len(c.ord) >= c.capacity {
		old := c.ord[0]
		c.ord = c.ord[1:]
		delete(c.m, old)
	}
	c.m[k] = v
	c.ord = append(c.ord, k)
}

func keyFor(systemPrompt, userPrompt string) string {
	s := strings.TrimSpace(systemPrompt) + "\x00" + strings.TrimSpace(userPrompt)
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}
