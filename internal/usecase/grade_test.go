package usecase_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

func TestGrader_ReferenceAnswer(t *testing.T) {
	t.Parallel()
	svc := usecase.NewGraderService(newScriptedAI(), 0)

	ref := svc.ReferenceAnswer(context.Background(), jobCtx(), techQ("q1"))
	require.NotNil(t, ref)
	assert.Equal(t, "A model answer.", ref.Answer)
	assert.Equal(t, []string{"https://example.com/ref"}, ref.SourceURLs)
}

func TestGrader_ReferenceAnswer_NothingAvailable(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.referenceJSON = "null"
	svc := usecase.NewGraderService(ai, 0)

	assert.Nil(t, svc.ReferenceAnswer(context.Background(), jobCtx(), techQ("q1")))
}

func TestGrader_ReferenceAnswer_FailuresYieldNil(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.referenceErr = domain.ErrUpstreamTimeout
	svc := usecase.NewGraderService(ai, 0)
	assert.Nil(t, svc.ReferenceAnswer(context.Background(), jobCtx(), techQ("q1")))

	ai = newScriptedAI()
	ai.referenceJSON = "not json at all"
	svc = usecase.NewGraderService(ai, 0)
	assert.Nil(t, svc.ReferenceAnswer(context.Background(), jobCtx(), techQ("q1")))
}

func TestGrader_Evaluate_UsesStoredReference(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."
	q.SourceURLs = []string{"https://stored.example.com"}

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "The runtime multiplexes goroutines.")

	assert.Equal(t, 0, ai.callCount("reference"), "stored reference must not trigger regeneration")
	assert.Equal(t, 1, ai.callCount("evaluation"))
	assert.Equal(t, 70, ev.Score)
	assert.Equal(t, domain.RouteNormalFlow, ev.Route)
	assert.Equal(t, "Stored reference.", ev.ReferenceAnswer)
	assert.Equal(t, []string{"https://example.com/eval"}, ev.SourceURLs)
}

func TestGrader_Evaluate_GeneratesReferenceOnDemand(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	svc := usecase.NewGraderService(ai, 0)

	ev := svc.Evaluate(context.Background(), jobCtx(), techQ("q1"), "An answer.")

	assert.Equal(t, 1, ai.callCount("reference"))
	assert.Equal(t, "A model answer.", ev.ReferenceAnswer)
	assert.Equal(t, 70, ev.Score)
}

func TestGrader_Evaluate_ReferenceFailureUsesPlaceholder(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.referenceErr = domain.ErrUpstreamRateLimit
	svc := usecase.NewGraderService(ai, 0)

	ev := svc.Evaluate(context.Background(), jobCtx(), techQ("q1"), "An answer.")

	assert.Equal(t, "no ideal answer available", ev.ReferenceAnswer)
	assert.Equal(t, 70, ev.Score, "grading proceeds against the placeholder")
}

func TestGrader_Evaluate_FallbackOnModelFailure(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.evaluationErr = domain.ErrUpstreamTimeout
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."
	q.SourceURLs = []string{"https://stored.example.com"}

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "An answer.")

	assert.Equal(t, 50, ev.Score)
	assert.Equal(t, domain.RouteNormalFlow, ev.Route)
	assert.Equal(t, "Unable to evaluate", ev.Reason)
	assert.Equal(t, "Stored reference.", ev.ReferenceAnswer)
	assert.Equal(t, []string{"https://stored.example.com"}, ev.SourceURLs)
}

func TestGrader_Evaluate_FallbackOnMissingScore(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.evaluationJSON = `{"route_action": "next_difficulty", "reason": "no score though"}`
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "An answer.")

	assert.Equal(t, 50, ev.Score)
	assert.Equal(t, domain.RouteNormalFlow, ev.Route)
	assert.Equal(t, "Unable to evaluate", ev.Reason)
}

func TestGrader_Evaluate_ClampsScore(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.evaluationJSON = `{"score": 150, "route_action": "next_difficulty", "reason": "stellar"}`
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "An answer.")

	assert.Equal(t, 100, ev.Score)
	assert.Equal(t, domain.RouteNextDifficulty, ev.Route)
}

func TestGrader_Evaluate_UnknownRouteNormalizes(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.evaluationJSON = `{"score": 64, "route_action": "excellent", "reason": "fine"}`
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "An answer.")

	assert.Equal(t, 64, ev.Score)
	assert.Equal(t, domain.RouteNormalFlow, ev.Route)
}

func TestGrader_Evaluate_EmptyPayloadSourcesFallBack(t *testing.T) {
	t.Parallel()
	ai := newScriptedAI()
	ai.evaluationJSON = `{"score": 55, "route_action": "normal_flow", "reason": "ok"}`
	svc := usecase.NewGraderService(ai, 0)
	q := techQ("q1")
	q.ReferenceAnswer = "Stored reference."
	q.SourceURLs = []string{"https://stored.example.com"}

	ev := svc.Evaluate(context.Background(), jobCtx(), q, "An answer.")

	assert.Equal(t, []string{"https://stored.example.com"}, ev.SourceURLs)
}
