package ai

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// MockClient implements domain.AIClient deterministically for offline/dev mode.
// It inspects the system prompt to decide which payload shape to synthesize,
// so the full interview flow works without provider credentials.
type MockClient struct{}

// NewMockClient constructs a deterministic mock AI client.
func NewMockClient() domain.AIClient { return &MockClient{} }

// ChatJSON returns compact JSON derived deterministically from the prompts.
func (m *MockClient) ChatJSON(_ domain.Context, systemPrompt, userPrompt string, _ int) (string, error) {
	sys := strings.ToLower(systemPrompt)
	switch {
	case strings.Contains(sys, "interview questions"):
		return m.mockQuestions(userPrompt)
	case strings.Contains(sys, "remedial"):
		return m.mockRemediation(userPrompt)
	case strings.Contains(sys, "follow-up"):
		return m.mockDepthPair(userPrompt)
	case strings.Contains(sys, "reference answer"):
		return m.mockReference(userPrompt)
	case strings.Contains(sys, "evaluate"):
		return m.mockEvaluation(userPrompt)
	default:
		return "", fmt.Errorf("%w: unrecognized prompt shape", domain.ErrSchemaInvalid)
	}
}

func (m *MockClient) mockQuestions(userPrompt string) (string, error) {
	topic := topWords(userPrompt, 2)
	if topic == "" {
		topic = "the role"
	}
	qs := []map[string]string{
		{"question": "To start, tell me a bit about yourself and your background.", "category": "non-technical"},
	}
	for i := 1; i <= 12; i++ {
		qs = append(qs, map[string]string{
			"question": fmt.Sprintf("Question %d: explain a core concept relevant to %s.", i, topic),
			"category": "technical",
		})
	}
	qs = append(qs,
		map[string]string{"question": "Describe a time you disagreed with a teammate and how you resolved it.", "category": "non-technical"},
		map[string]string{"question": "How do you keep your skills current?", "category": "non-technical"},
		map[string]string{"question": "That wraps things up. Do you have any questions for us?", "category": "non-technical"},
	)
	b, err := json.Marshal(qs)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

func (m *MockClient) mockReference(userPrompt string) (string, error) {
	payload := map[string]any{
		"answer":      "A strong answer covers " + topWords(userPrompt, 5) + " with concrete examples.",
		"source_urls": []string{"https://go.dev/doc/effective_go"},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

func (m *MockClient) mockEvaluation(userPrompt string) (string, error) {
	score := int(hashToFloat(userPrompt) * 100)
	if isNonAnswer(candidateSection(userPrompt)) {
		score = 5
	}
	route := "normal_flow"
	switch {
	case score >= 85:
		route = "next_difficulty"
	case score <= 10:
		route = "followup"
	}
	payload := map[string]any{
		"score":        score,
		"route_action": route,
		"reason":       "Answer addressed " + topWords(userPrompt, 3) + " at a " + route + " level of depth.",
		"source_urls":  []string{"https://go.dev/doc/effective_go"},
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

// candidateSection extracts the candidate's answer from a grading prompt so
// the mock can score non-answers low without hashing luck.
func candidateSection(userPrompt string) string {
	_, after, found := strings.Cut(userPrompt, "Candidate answer:")
	if !found {
		return userPrompt
	}
	if before, _, ok := strings.Cut(after, "\nReply with"); ok {
		return before
	}
	return after
}

func isNonAnswer(s string) bool {
	s = strings.ToLower(s)
	for _, phrase := range []string{"i don't know", "i dont know", "no idea", "not sure", "i can't answer", "skip"} {
		if strings.Contains(s, phrase) {
			return true
		}
	}
	return false
}

func (m *MockClient) mockDepthPair(userPrompt string) (string, error) {
	topic := topWords(userPrompt, 3)
	pair := []map[string]string{
		{
			"difficulty": "medium",
			"question":   "Going deeper: how would you apply " + topic + " in a production system?",
			"answer":     "A medium-depth answer discusses trade-offs around " + topic + ".",
		},
		{
			"difficulty": "hard",
			"question":   "At scale, what failure modes of " + topic + " would you design around?",
			"answer":     "A hard-depth answer covers failure modes and mitigations for " + topic + ".",
		},
	}
	b, err := json.Marshal(pair)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

func (m *MockClient) mockRemediation(userPrompt string) (string, error) {
	topic := topWords(userPrompt, 3)
	payload := map[string]string{
		"question": "Let's take a step back: in simple terms, what is " + topic + "?",
		"answer":   "A basic answer defines " + topic + " and gives one example.",
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("mock marshal: %w", err)
	}
	return string(b), nil
}

func hashToFloat(s string) float64 {
	h := sha1.Sum([]byte(s))
	u := binary.BigEndian.Uint32(h[:4])
	return float64(u%1000) / 1000.0
}

func topWords(s string, n int) string {
	parts := strings.Fields(s)
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, " ")
}
