package tts

import (
	"crypto/sha1"
	"fmt"
	"strings"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// MockClient implements domain.SpeechClient deterministically for offline/dev
// mode. The payload carries an ID3 header so MIME sniffing still reports MP3.
type MockClient struct{}

// NewMockClient constructs a deterministic mock speech client.
func NewMockClient() domain.SpeechClient { return &MockClient{} }

// Synthesize returns a small deterministic pseudo-MP3 payload.
func (m *MockClient) Synthesize(_ domain.Context, text string) ([]byte, string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, "", fmt.Errorf("%w: empty text for synthesis", domain.ErrInvalidArgument)
	}
	sum := sha1.Sum([]byte(text))
	payload := append([]byte("ID3\x03\x00\x00\x00\x00\x00\x00"), sum[:]...)
	return payload, "audio/mpeg", nil
}
