// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0) //nolint:gosec // Weak random is sufficient for ULID entropy.
)

// newID returns a ULID-based id: globally unique, lexicographically ordered,
// URL friendly.
func newID() string {
	idMu.Lock()
	defer idMu.Unlock()
	id, err := ulid.New(ulid.Timestamp(time.Now()), idEntropy)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Generation bounds for one interview.
const (
	minGeneratedQuestions = 15
	maxGeneratedQuestions = 20
)

// IntroOutroClassifier decides which non-technical questions open and close
// an interview. Patterns are matched as lowercase substrings so products can
// extend them without touching the pinning logic.
type IntroOutroClassifier struct {
	IntroPatterns []string
	OutroPatterns []string
}

// DefaultClassifier returns the stock intro/outro patterns.
func DefaultClassifier() IntroOutroClassifier {
	return IntroOutroClassifier{
		IntroPatterns: []string{
			"introduce yourself",
			"about yourself",
			"tell me about you",
			"your background",
			"walk me through your",
		},
		OutroPatterns: []string{
			"questions for us",
			"questions for me",
			"anything you would like to ask",
			"that wraps",
			"that concludes",
		},
	}
}

func matchesAny(text string, patterns []string) bool {
	text = strings.ToLower(text)
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// IsIntro reports whether q reads like an opening question.
func (c IntroOutroClassifier) IsIntro(q domain.Question) bool {
	return q.Category == domain.CategoryNonTechnical && matchesAny(q.Text, c.IntroPatterns)
}

// IsOutro reports whether q reads like a closing question.
func (c IntroOutroClassifier) IsOutro(q domain.Question) bool {
	return q.Category == domain.CategoryNonTechnical && matchesAny(q.Text, c.OutroPatterns)
}

// GeneratorService produces the primary question queue and the follow-up
// questions routing spawns later.
type GeneratorService struct {
	AI         domain.AIClient
	MaxTokens  int
	Classifier IntroOutroClassifier
	// Rand drives queue shuffling; nil uses the shared source.
	Rand *rand.Rand
}

// NewGeneratorService constructs a GeneratorService with the stock classifier.
func NewGeneratorService(ai domain.AIClient, maxTokens int) GeneratorService {
	return GeneratorService{AI: ai, MaxTokens: maxTokens, Classifier: DefaultClassifier()}
}

func (s GeneratorService) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return 2048
}

func (s GeneratorService) shuffle(n int, swap func(i, j int)) {
	if s.Rand != nil {
		s.Rand.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

// Generate produces the ordered primary queue for one interview: intro
// pinned first, outro pinned last, the middle randomly permuted with
// non-technical questions capped at a fifth of it. Model or parse failures
// degrade to the synthesized intro and outro alone; only missing input
// context is an error.
func (s GeneratorService) Generate(ctx domain.Context, job domain.JobContext, resume domain.ResumeContext) ([]domain.Question, error) {
	if job.Empty() || resume.Empty() {
		return nil, fmt.Errorf("%w: job and resume context required", domain.ErrConfiguration)
	}

	raw, err := s.AI.ChatJSON(ctx, generationSystemPrompt, generationUserPrompt(job, resume, minGeneratedQuestions, maxGeneratedQuestions), s.maxTokens())
	if err != nil {
		slog.Warn("question generation failed, starting with defaults", slog.Any("error", err))
		raw = ""
	}
	qs := parseGeneratedQuestions(raw)
	if len(qs) == 0 && raw != "" {
		slog.Warn("question generation payload unparseable, starting with defaults")
	}
	s.ensureIDs(qs)
	return s.randomizeQueue(qs), nil
}

// ensureIDs assigns missing question ids and, on technical questions, missing
// topic ids derived from the question text.
func (s GeneratorService) ensureIDs(qs []domain.Question) {
	for i := range qs {
		if qs[i].ID == "" {
			qs[i].ID = newID()
		}
		if qs[i].IsTechnical() && qs[i].TopicID == "" {
			qs[i].TopicID = topicIDFor(qs[i].Text)
		}
	}
}

// topicIDFor derives a readable topic id: normalized truncated question text
// plus a short random suffix for best-effort uniqueness.
func topicIDFor(text string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteRune('-')
		}
		if b.Len() >= 24 {
			break
		}
	}
	prefix := strings.Trim(b.String(), "-")
	if prefix == "" {
		prefix = "topic"
	}
	return prefix + "-" + strings.ToLower(newID()[22:])
}

func synthesizedIntro() domain.Question {
	return domain.Question{
		ID:        newID(),
		Text:      "To start, please introduce yourself and walk me through your background.",
		Category:  domain.CategoryNonTechnical,
		QueueType: domain.QueuePrimary,
	}
}

func synthesizedOutro() domain.Question {
	return domain.Question{
		ID:        newID(),
		Text:      "That wraps things up. Do you have any questions for us?",
		Category:  domain.CategoryNonTechnical,
		QueueType: domain.QueuePrimary,
	}
}

// randomizeQueue pins the intro first and the outro last, then permutes the
// middle: every technical question plus at most a quarter as many
// non-technical ones, which keeps non-technical at or under 20% of the
// middle.
func (s GeneratorService) randomizeQueue(qs []domain.Question) []domain.Question {
	rest := make([]domain.Question, len(qs))
	copy(rest, qs)

	intro, rest := takeFirst(rest, s.Classifier.IsIntro)
	if intro == nil {
		intro, rest = takeFirst(rest, func(q domain.Question) bool { return q.Category == domain.CategoryNonTechnical })
	}
	if intro == nil {
		q := synthesizedIntro()
		intro = &q
	}

	outro, rest := takeLast(rest, s.Classifier.IsOutro)
	if outro == nil {
		outro, rest = takeLast(rest, func(q domain.Question) bool { return q.Category == domain.CategoryNonTechnical })
	}
	if outro == nil {
		q := synthesizedOutro()
		outro = &q
	}

	var technical, nonTechnical []domain.Question
	for _, q := range rest {
		if q.Category == domain.CategoryNonTechnical {
			nonTechnical = append(nonTechnical, q)
		} else {
			technical = append(technical, q)
		}
	}
	quota := len(technical) / 4
	if len(nonTechnical) > quota {
		nonTechnical = nonTechnical[:quota]
	}

	middle := append(technical, nonTechnical...)
	s.shuffle(len(middle), func(i, j int) { middle[i], middle[j] = middle[j], middle[i] })

	out := make([]domain.Question, 0, len(middle)+2)
	out = append(out, *intro)
	out = append(out, middle...)
	out = append(out, *outro)
	for i := range out {
		out[i].QueueType = domain.QueuePrimary
	}
	return out
}

func takeFirst(qs []domain.Question, match func(domain.Question) bool) (*domain.Question, []domain.Question) {
	for i, q := range qs {
		if match(q) {
			picked := q
			return &picked, append(qs[:i:i], qs[i+1:]...)
		}
	}
	return nil, qs
}

func takeLast(qs []domain.Question, match func(domain.Question) bool) (*domain.Question, []domain.Question) {
	for i := len(qs) - 1; i >= 0; i-- {
		if match(qs[i]) {
			picked := qs[i]
			return &picked, append(qs[:i:i], qs[i+1:]...)
		}
	}
	return nil, qs
}

// DepthPair generates the medium and hard follow-up pair for a technical
// question in one model call. Ids are deterministic so a redo merges instead
// of duplicating.
func (s GeneratorService) DepthPair(ctx domain.Context, job domain.JobContext, parent domain.Question) (domain.Question, domain.Question, error) {
	raw, err := s.AI.ChatJSON(ctx, depthPairSystemPrompt, depthPairUserPrompt(job, parent), s.maxTokens())
	if err != nil {
		return domain.Question{}, domain.Question{}, fmt.Errorf("op=generate.depth_pair: %w", err)
	}
	medium, hard, err := parseDepthPair(raw)
	if err != nil {
		return domain.Question{}, domain.Question{}, fmt.Errorf("op=generate.depth_pair: %w", err)
	}
	for _, q := range []*domain.Question{&medium, &hard} {
		q.ID = domain.FollowupID(parent.ID, q.Difficulty)
		q.TopicID = parent.TopicID
		q.ParentQuestionID = parent.ID
	}
	return medium, hard, nil
}

// Remediation generates one easier question after a failed answer. The id is
// deterministic per parent so retries merge.
func (s GeneratorService) Remediation(ctx domain.Context, job domain.JobContext, q domain.Question, wrongAnswer string) (domain.Question, error) {
	raw, err := s.AI.ChatJSON(ctx, remediationSystemPrompt, remediationUserPrompt(job, q, wrongAnswer), s.maxTokens())
	if err != nil {
		return domain.Question{}, fmt.Errorf("op=generate.remediation: %w", err)
	}
	text, answer, err := parseRemediation(raw)
	if err != nil {
		return domain.Question{}, fmt.Errorf("op=generate.remediation: %w", err)
	}
	return domain.Question{
		ID:               domain.FollowupID(q.ID, "followup"),
		Text:             text,
		Category:         domain.CategoryFollowup,
		ReferenceAnswer:  answer,
		TopicID:          q.TopicID,
		ParentQuestionID: q.ID,
		QueueType:        domain.QueueRemediation,
	}, nil
}
