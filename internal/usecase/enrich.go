package usecase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// followupDeps bundles what spawning an enriched follow-up needs. Both the
// live routing path and the preprocessing pipeline go through it so a
// follow-up is always fully playable the moment it enters a queue.
type followupDeps struct {
	gen       GeneratorService
	questions domain.QuestionRepository
	speech    domain.SpeechClient
	blobs     domain.BlobStore
}

// audioKey sniffs the synthesized bytes for the blob extension; provider
// content-type headers lie more often than magic numbers do.
func audioKey(sessionID, questionID string, data []byte) string {
	ext := mimetype.Detect(data).Extension()
	if ext == "" {
		ext = ".bin"
	}
	return sessionID + "/" + questionID + ext
}

// synthesizeAudio renders q's text to audio and attaches the blob URL.
// Failures leave AudioURL unset; presentation degrades to text.
func (d followupDeps) synthesizeAudio(ctx domain.Context, sessionID string, q *domain.Question) {
	data, contentType, err := d.speech.Synthesize(ctx, q.Text)
	if err != nil {
		slog.Warn("speech synthesis failed",
			slog.String("session_id", sessionID),
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return
	}
	url, err := d.blobs.Put(ctx, audioKey(sessionID, q.ID, data), data, contentType)
	if err != nil {
		slog.Warn("audio blob store failed",
			slog.String("session_id", sessionID),
			slog.String("question_id", q.ID),
			slog.Any("error", err))
		return
	}
	q.AudioURL = url
}

// ensurePair guarantees parent's medium and hard follow-ups exist in the
// queue state and the store, generating and enriching whichever is missing.
// Generation failures degrade with the state unchanged; persistence failures
// surface.
func (d followupDeps) ensurePair(ctx domain.Context, sess domain.Session, st domain.QueueState, parent domain.Question) (domain.QueueState, error) {
	_, haveMedium := st.Find(domain.FollowupID(parent.ID, domain.DifficultyMedium))
	_, haveHard := st.Find(domain.FollowupID(parent.ID, domain.DifficultyHard))
	if haveMedium && haveHard {
		return st, nil
	}

	medium, hard, err := d.gen.DepthPair(ctx, sess.Job, parent)
	if err != nil {
		slog.Warn("depth pair generation failed",
			slog.String("session_id", sess.ID),
			slog.String("question_id", parent.ID),
			slog.Any("error", err))
		return st, nil
	}

	var missing []domain.Question
	if !haveMedium {
		missing = append(missing, medium)
	}
	if !haveHard {
		missing = append(missing, hard)
	}
	for i := range missing {
		d.synthesizeAudio(ctx, sess.ID, &missing[i])
	}
	if err := d.questions.SpliceAfter(ctx, sess.ID, parent.ID, missing...); err != nil {
		return st, fmt.Errorf("op=followup.splice: %w", err)
	}
	return st.PushDepth(missing...), nil
}

// enrichedEnough reports whether a stored row already carries everything
// preprocessing would add, so a redo can skip the provider calls.
func enrichedEnough(q domain.Question) bool {
	if q.AudioURL == "" {
		return false
	}
	return !q.IsTechnical() || strings.TrimSpace(q.ReferenceAnswer) != ""
}
