package usecase

import (
	"log/slog"
	"strings"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// noReferencePlaceholder stands in for a reference answer when generation
// failed; grading proceeds degraded rather than blocking the interview.
const noReferencePlaceholder = "no ideal answer available"

// evalFallbackReason marks evaluations that fell back after a grader failure.
const evalFallbackReason = "Unable to evaluate"

// GraderService generates reference answers and grades candidate answers.
// Grading never fails: every failure path degrades to a neutral verdict so
// the interview keeps moving.
type GraderService struct {
	AI        domain.AIClient
	MaxTokens int
}

// NewGraderService constructs a GraderService.
func NewGraderService(ai domain.AIClient, maxTokens int) GraderService {
	return GraderService{AI: ai, MaxTokens: maxTokens}
}

func (s GraderService) maxTokens() int {
	if s.MaxTokens > 0 {
		return s.MaxTokens
	}
	return 2048
}

// ReferenceAnswer asks the model for a graded-against answer with citations.
// Any call or parse failure yields nil; callers treat that as "no reference
// available" and degrade.
func (s GraderService) ReferenceAnswer(ctx domain.Context, job domain.JobContext, q domain.Question) *domain.ReferenceAnswer {
	raw, err := s.AI.ChatJSON(ctx, referenceSystemPrompt, referenceUserPrompt(job, q), s.maxTokens())
	if err != nil {
		slog.Warn("reference answer generation failed",
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return nil
	}
	ref, err := parseReferenceAnswer(raw)
	if err != nil {
		slog.Warn("reference answer payload unparseable",
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return nil
	}
	return ref
}

// Evaluate grades a candidate answer against the question's reference answer,
// generating one on demand when missing. On grader failure it returns the
// neutral fallback verdict instead of an error.
func (s GraderService) Evaluate(ctx domain.Context, job domain.JobContext, q domain.Question, candidate string) domain.Evaluation {
	reference := strings.TrimSpace(q.ReferenceAnswer)
	sources := q.SourceURLs
	if reference == "" {
		if ref := s.ReferenceAnswer(ctx, job, q); ref != nil {
			reference = ref.Answer
			sources = ref.SourceURLs
		} else {
			reference = noReferencePlaceholder
		}
	}

	fallback := domain.Evaluation{
		Score:           50,
		Route:           domain.RouteNormalFlow,
		Reason:          evalFallbackReason,
		SourceURLs:      sources,
		ReferenceAnswer: reference,
	}

	raw, err := s.AI.ChatJSON(ctx, evaluationSystemPrompt, evaluationUserPrompt(q, reference, candidate), s.maxTokens())
	if err != nil {
		slog.Warn("evaluation failed, using fallback verdict",
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return fallback
	}
	payload, err := parseEvaluation(raw)
	if err != nil {
		slog.Warn("evaluation payload unparseable, using fallback verdict",
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return fallback
	}

	ev := domain.Evaluation{
		Score:           clampScore(*payload.Score),
		Route:           normalizeRoute(payload.Route),
		Reason:          strings.TrimSpace(payload.Reason),
		SourceURLs:      payload.SourceURLs,
		ReferenceAnswer: reference,
	}
	if len(ev.SourceURLs) == 0 {
		ev.SourceURLs = sources
	}
	return ev
}
