package ai

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

type countingClient struct {
	calls int32
	fail  bool
}

func (c *countingClient) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.fail {
		return "", errors.New("provider down")
	}
	return fmt.Sprintf("%s|%s", systemPrompt, userPrompt), nil
}

func TestChatCache_HitSkipsProvider(t *testing.T) {
	base := &countingClient{}
	c := NewChatCache(base, 8)

	first, err := c.ChatJSON(context.Background(), "sys", "What is a mutex?", 256)
	if err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	second, err := c.ChatJSON(context.Background(), "sys", "What is a mutex?", 256)
	if err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if first != second {
		t.Fatalf("cache returned different content: %q vs %q", first, second)
	}
	if base.calls != 1 {
		t.Fatalf("expected 1 provider call, got %d", base.calls)
	}
}

func TestChatCache_DistinctPromptsMiss(t *testing.T) {
	base := &countingClient{}
	c := NewChatCache(base, 8)

	if _, err := c.ChatJSON(context.Background(), "sys", "question A", 256); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if _, err := c.ChatJSON(context.Background(), "sys", "question B", 256); err != nil {
		t.Fatalf("ChatJSON: %v", err)
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", base.calls)
	}
}

func TestChatCache_FIFOEviction(t *testing.T) {
	base := &countingClient{}
	c := NewChatCache(base, 1)

	_, _ = c.ChatJSON(context.Background(), "sys", "A", 256)
	_, _ = c.ChatJSON(context.Background(), "sys", "B", 256) // evicts A
	_, _ = c.ChatJSON(context.Background(), "sys", "A", 256) // miss again
	if base.calls != 3 {
		t.Fatalf("expected 3 provider calls with capacity 1, got %d", base.calls)
	}
}

func TestChatCache_ErrorsNotCached(t *testing.T) {
	base := &countingClient{fail: true}
	c := NewChatCache(base, 8)

	if _, err := c.ChatJSON(context.Background(), "sys", "Q", 256); err == nil {
		t.Fatal("expected provider error")
	}
	base.fail = false
	out, err := c.ChatJSON(context.Background(), "sys", "Q", 256)
	if err != nil {
		t.Fatalf("ChatJSON after recovery: %v", err)
	}
	if out == "" {
		t.Fatal("expected content after recovery")
	}
	if base.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", base.calls)
	}
}

func TestNewChatCache_ZeroCapacityPassthrough(t *testing.T) {
	base := &countingClient{}
	if got := NewChatCache(base, 0); got != domain.AIClient(base) {
		t.Fatal("zero capacity should return base client unmodified")
	}
	if got := NewChatCache(nil, 8); got != nil {
		t.Fatal("nil base should return nil")
	}
}
