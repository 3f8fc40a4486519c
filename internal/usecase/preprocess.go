package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// PreprocessService runs the enrichment pipeline for question chunks:
// reference answers, synthesized audio, persisted rows, and depth follow-up
// pairs. One run per session holds the single-flight lock; chunk commits are
// idempotent so a crashed run can be redone safely.
type PreprocessService struct {
	Sessions  domain.SessionRepository
	Questions domain.QuestionRepository
	Chunks    domain.ChunkRepository
	Generator GeneratorService
	Grader    GraderService
	Speech    domain.SpeechClient
	Blobs     domain.BlobStore
	Locker    domain.SessionLocker
	LockTTL   time.Duration
}

// NewPreprocessService constructs a PreprocessService with its dependencies.
func NewPreprocessService(
	sessions domain.SessionRepository,
	questions domain.QuestionRepository,
	chunks domain.ChunkRepository,
	generator GeneratorService,
	grader GraderService,
	speech domain.SpeechClient,
	blobs domain.BlobStore,
	locker domain.SessionLocker,
	lockTTL time.Duration,
) PreprocessService {
	return PreprocessService{
		Sessions:  sessions,
		Questions: questions,
		Chunks:    chunks,
		Generator: generator,
		Grader:    grader,
		Speech:    speech,
		Blobs:     blobs,
		Locker:    locker,
		LockTTL:   lockTTL,
	}
}

func (s PreprocessService) lockTTL() time.Duration {
	if s.LockTTL > 0 {
		return s.LockTTL
	}
	return 2 * time.Minute
}

func (s PreprocessService) followupDeps() followupDeps {
	return followupDeps{gen: s.Generator, questions: s.Questions, speech: s.Speech, blobs: s.Blobs}
}

// HandleChunk preprocesses every uncommitted chunk up to and including the
// requested one, keeping the committed set gap-free. Per-question enrichment
// failures are logged and skipped; only persistence failures abort the run.
func (s PreprocessService) HandleChunk(ctx domain.Context, sessionID string, chunk int) error {
	if sessionID == "" || chunk < 0 {
		return fmt.Errorf("%w: session id and non-negative chunk required", domain.ErrInvalidArgument)
	}
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == domain.SessionCompleted {
		slog.Info("session completed, skipping preprocess",
			slog.String("session_id", sessionID),
			slog.Int("chunk", chunk))
		return nil
	}

	set, err := s.Chunks.PreprocessedSet(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("op=preprocess.chunk_set: %w", err)
	}
	if set[chunk] {
		return nil
	}

	acquired, err := s.Locker.Acquire(ctx, sessionID, s.lockTTL())
	if err != nil {
		// Chunk commits are idempotent, so running unguarded wastes
		// provider calls at worst.
		slog.Warn("preprocess lock unavailable, proceeding unguarded",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	} else if !acquired {
		return fmt.Errorf("%w: preprocessing already running for session %s", domain.ErrConflict, sessionID)
	}
	defer func() { _ = s.Locker.Release(ctx, sessionID) }()

	set, err = s.Chunks.PreprocessedSet(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("op=preprocess.chunk_set: %w", err)
	}
	st, err := s.Sessions.LoadQueueState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("op=preprocess.load_state: %w", err)
	}
	size := sess.ChunkSize
	if size <= 0 {
		size = 5
	}

	for k := 0; k <= chunk; k++ {
		if set[k] {
			continue
		}
		st, err = s.processChunk(ctx, sess, st, k, size)
		if err != nil {
			return err
		}
		if err := s.Chunks.MarkPreprocessed(ctx, sessionID, k); err != nil {
			return fmt.Errorf("op=preprocess.mark: %w", err)
		}
		slog.Info("chunk preprocessed",
			slog.String("session_id", sessionID),
			slog.Int("chunk", k))
	}
	return nil
}

// processChunk enriches and persists the questions in one chunk window of the
// flattened presentation order, spawning depth pairs for primary technical
// questions. The chunk is committed by the caller even when some questions
// could not be enriched.
func (s PreprocessService) processChunk(ctx domain.Context, sess domain.Session, st domain.QueueState, chunk, size int) (domain.QueueState, error) {
	flat := st.Flatten()
	lo := chunk * size
	if lo >= len(flat) {
		return st, nil
	}
	hi := lo + size
	if hi > len(flat) {
		hi = len(flat)
	}

	stored := make(map[string]domain.Question)
	rows, err := s.Questions.ForChunk(ctx, sess.ID, chunk, size)
	if err != nil {
		return st, fmt.Errorf("op=preprocess.for_chunk: %w", err)
	}
	for _, r := range rows {
		stored[r.ID] = r
	}

	deps := s.followupDeps()
	for i := lo; i < hi; i++ {
		q := flat[i]
		if row, ok := stored[q.ID]; ok {
			// Prior runs may have enriched this row already.
			q = row
		}

		if !enrichedEnough(q) {
			if q.IsTechnical() && strings.TrimSpace(q.ReferenceAnswer) == "" {
				if ref := s.Grader.ReferenceAnswer(ctx, sess.Job, q); ref != nil {
					q.ReferenceAnswer = ref.Answer
					q.SourceURLs = ref.SourceURLs
				}
			}
			if q.AudioURL == "" {
				deps.synthesizeAudio(ctx, sess.ID, &q)
			}
			// Anchor on the flatten predecessor, not the parent: sibling
			// follow-ups would otherwise leapfrog each other.
			if i > 0 && q.ParentQuestionID != "" {
				err = s.Questions.SpliceAfter(ctx, sess.ID, flat[i-1].ID, q)
			} else {
				err = s.Questions.Append(ctx, sess.ID, q)
			}
			if err != nil {
				return st, fmt.Errorf("op=preprocess.persist: %w", err)
			}
		}

		// A primary technical question with its reference settled gets its
		// depth pair generated up front so promotion never waits on a model.
		refReady := !q.IsTechnical() || strings.TrimSpace(q.ReferenceAnswer) != ""
		if q.IsTechnical() && q.Difficulty == "" && q.ParentQuestionID == "" && refReady {
			next, err := deps.ensurePair(ctx, sess, st, q)
			if err != nil {
				return st, err
			}
			st = next
		}
	}

	if err := s.Sessions.SaveQueueState(ctx, sess.ID, st); err != nil {
		return st, fmt.Errorf("op=preprocess.save_state: %w", err)
	}
	return st, nil
}
