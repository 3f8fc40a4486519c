package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/pkg/textx"
)

// InterviewOptions tunes session pacing. Zero values fall back to the
// defaults below so tests can construct services tersely.
type InterviewOptions struct {
	ChunkSize         int
	ChunkWaitAttempts int
	ChunkWaitInterval time.Duration
	Duration          time.Duration
}

func (o InterviewOptions) withDefaults() InterviewOptions {
	if o.ChunkSize <= 0 {
		o.ChunkSize = 5
	}
	if o.ChunkWaitAttempts <= 0 {
		o.ChunkWaitAttempts = 40
	}
	if o.ChunkWaitInterval <= 0 {
		o.ChunkWaitInterval = 500 * time.Millisecond
	}
	if o.Duration <= 0 {
		o.Duration = 45 * time.Minute
	}
	return o
}

// InterviewService orchestrates the interview lifecycle: starting sessions,
// presenting questions, recording and routing answers, and reporting.
type InterviewService struct {
	Sessions  domain.SessionRepository
	Questions domain.QuestionRepository
	Chunks    domain.ChunkRepository
	Queue     domain.Queue
	Generator GeneratorService
	Grader    GraderService
	Speech    domain.SpeechClient
	Blobs     domain.BlobStore
	Opts      InterviewOptions
}

// NewInterviewService constructs an InterviewService with its dependencies.
func NewInterviewService(
	sessions domain.SessionRepository,
	questions domain.QuestionRepository,
	chunks domain.ChunkRepository,
	queue domain.Queue,
	generator GeneratorService,
	grader GraderService,
	speech domain.SpeechClient,
	blobs domain.BlobStore,
	opts InterviewOptions,
) InterviewService {
	return InterviewService{
		Sessions:  sessions,
		Questions: questions,
		Chunks:    chunks,
		Queue:     queue,
		Generator: generator,
		Grader:    grader,
		Speech:    speech,
		Blobs:     blobs,
		Opts:      opts,
	}
}

func (s InterviewService) followupDeps() followupDeps {
	return followupDeps{gen: s.Generator, questions: s.Questions, speech: s.Speech, blobs: s.Blobs}
}

// Start generates the primary queue, persists the session and its snapshot,
// and kicks off preprocessing of the first chunk. The generated questions are
// returned alongside the session for callers that report on them.
func (s InterviewService) Start(ctx domain.Context, job domain.JobContext, resume domain.ResumeContext) (domain.Session, []domain.Question, error) {
	qs, err := s.Generator.Generate(ctx, job, resume)
	if err != nil {
		return domain.Session{}, nil, err
	}

	opts := s.Opts.withDefaults()
	now := time.Now().UTC()
	sess := domain.Session{
		ID:        newID(),
		Status:    domain.SessionActive,
		Job:       job,
		Resume:    resume,
		ChunkSize: opts.ChunkSize,
		Deadline:  now.Add(opts.Duration),
		CreatedAt: now,
		UpdatedAt: now,
	}
	id, err := s.Sessions.Create(ctx, sess)
	if err != nil {
		return domain.Session{}, nil, fmt.Errorf("op=interview.create_session: %w", err)
	}
	sess.ID = id

	if err := s.Sessions.SaveQueueState(ctx, id, domain.QueueState{Primary: qs}); err != nil {
		return domain.Session{}, nil, fmt.Errorf("op=interview.save_state: %w", err)
	}

	s.enqueueChunk(ctx, id, 0)
	slog.Info("interview started",
		slog.String("session_id", id),
		slog.Int("questions", len(qs)),
		slog.Time("deadline", sess.Deadline))
	return sess, qs, nil
}

// enqueueChunk requests preprocessing of one chunk. Failures are logged, not
// surfaced: the next presentation poll re-requests, so a lost task only
// delays enrichment.
func (s InterviewService) enqueueChunk(ctx domain.Context, sessionID string, chunk int) {
	payload := domain.PreprocessTaskPayload{SessionID: sessionID, ChunkNumber: chunk, RequestID: newID()}
	if _, err := s.Queue.EnqueuePreprocess(ctx, payload); err != nil {
		slog.Warn("preprocess enqueue failed",
			slog.String("session_id", sessionID),
			slog.Int("chunk", chunk),
			slog.Any("error", err))
	}
}

// NextQuestion is the presentation DTO for one question.
type NextQuestion struct {
	Question domain.Question
	// Position is the zero-based slot in the flattened presentation order.
	Position int
	Chunk    int
	// Done marks an exhausted or completed interview; Question is zero.
	Done bool
	// Degraded marks a question served before its enrichment finished.
	Degraded bool
}

// Next resolves the next unasked question. When the question's chunk has not
// been preprocessed yet it requests the work and polls within a bounded
// budget, then serves the bare question anyway. Serving also triggers
// readahead preprocessing of the following chunk.
func (s InterviewService) Next(ctx domain.Context, sessionID string) (NextQuestion, error) {
	opts := s.Opts.withDefaults()
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return NextQuestion{}, err
	}
	if sess.Status == domain.SessionCompleted || sess.Expired(time.Now().UTC()) {
		return NextQuestion{Done: true}, nil
	}

	st, err := s.Sessions.LoadQueueState(ctx, sessionID)
	if err != nil {
		return NextQuestion{}, fmt.Errorf("op=interview.load_state: %w", err)
	}
	flat := st.Flatten()

	asked, err := s.askedIDs(ctx, sessionID)
	if err != nil {
		return NextQuestion{}, err
	}
	idx := -1
	for i, q := range flat {
		if !asked[q.ID] {
			idx = i
			break
		}
	}
	if idx == -1 {
		return NextQuestion{Done: true}, nil
	}
	q := flat[idx]

	size := sess.ChunkSize
	if size <= 0 {
		size = opts.ChunkSize
	}
	chunk := chunkOf(st, flat, q, idx, size)

	set, err := s.Chunks.PreprocessedSet(ctx, sessionID)
	if err != nil {
		return NextQuestion{}, fmt.Errorf("op=interview.chunk_set: %w", err)
	}

	// Follow-ups are enriched when they are spawned; only primary questions
	// wait on their chunk.
	degraded := false
	if q.ParentQuestionID == "" && !set[chunk] {
		s.enqueueChunk(ctx, sessionID, chunk)
		ready := false
		for attempt := 0; attempt < opts.ChunkWaitAttempts; attempt++ {
			if !sleepContext(ctx, opts.ChunkWaitInterval) {
				return NextQuestion{}, fmt.Errorf("op=interview.next: %w", ctx.Err())
			}
			set, err = s.Chunks.PreprocessedSet(ctx, sessionID)
			if err != nil {
				return NextQuestion{}, fmt.Errorf("op=interview.chunk_set: %w", err)
			}
			if set[chunk] {
				ready = true
				break
			}
		}
		if !ready {
			slog.Warn("chunk wait budget exhausted, serving without enrichment",
				slog.String("session_id", sessionID),
				slog.Int("chunk", chunk))
			degraded = true
		}
	}

	// Prefer the stored row: it carries enrichment the snapshot never sees.
	if row, err := s.Questions.Get(ctx, sessionID, q.ID); err == nil {
		q = row
	} else if !errors.Is(err, domain.ErrNotFound) {
		return NextQuestion{}, fmt.Errorf("op=interview.question_get: %w", err)
	}

	if (chunk+1)*size < len(flat) && !set[chunk+1] {
		s.enqueueChunk(ctx, sessionID, chunk+1)
	}

	return NextQuestion{
		Question: q,
		Position: idx,
		Chunk:    chunk,
		Degraded: degraded && q.AudioURL == "",
	}, nil
}

// chunkOf attributes a question to a chunk. Follow-ups count toward the chunk
// of the primary question whose topic spawned them.
func chunkOf(st domain.QueueState, flat []domain.Question, q domain.Question, idx, size int) int {
	root := q
	for root.ParentQuestionID != "" {
		p, ok := st.Find(root.ParentQuestionID)
		if !ok {
			break
		}
		root = p
	}
	if root.ID != q.ID {
		for i, fq := range flat {
			if fq.ID == root.ID {
				idx = i
				break
			}
		}
	}
	return idx / size
}

func sleepContext(ctx domain.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// askedIDs returns the ids of questions already asked in this session.
func (s InterviewService) askedIDs(ctx domain.Context, sessionID string) (map[string]bool, error) {
	rows, err := s.Questions.AllAsked(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=interview.all_asked: %w", err)
	}
	asked := make(map[string]bool, len(rows))
	for _, row := range rows {
		if row.AskedAt != nil {
			asked[row.ID] = true
		}
	}
	return asked, nil
}

// MarkAsked records that a question's audio started playing. The first mark
// wins; re-marks are no-ops. A row is created from the queue snapshot when
// the question was served before preprocessing stored one.
func (s InterviewService) MarkAsked(ctx domain.Context, sessionID, questionID string) error {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == domain.SessionCompleted {
		return fmt.Errorf("%w: interview already completed", domain.ErrConflict)
	}

	row, err := s.Questions.Get(ctx, sessionID, questionID)
	switch {
	case err == nil:
		if row.AskedAt != nil {
			return nil
		}
	case errors.Is(err, domain.ErrNotFound):
		st, stErr := s.Sessions.LoadQueueState(ctx, sessionID)
		if stErr != nil {
			return fmt.Errorf("op=interview.load_state: %w", stErr)
		}
		q, ok := st.Find(questionID)
		if !ok {
			return fmt.Errorf("%w: question %s", domain.ErrNotFound, questionID)
		}
		if appendErr := s.Questions.Append(ctx, sessionID, q); appendErr != nil {
			return fmt.Errorf("op=interview.append_question: %w", appendErr)
		}
	default:
		return fmt.Errorf("op=interview.question_get: %w", err)
	}

	if err := s.Questions.MarkAsked(ctx, sessionID, questionID, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=interview.mark_asked: %w", err)
	}
	return nil
}

// AnswerResult reports what recording an answer did.
type AnswerResult struct {
	Question domain.Question
	// Evaluation is nil when grading was skipped.
	Evaluation *domain.Evaluation
	Decision   domain.RouteKind
	Skipped    bool
}

// SubmitAnswer records a candidate answer, grades it when gradable, and
// applies the routing decision to the queues and the stored rows. Blank
// answers and non-technical questions skip grading; grader failures degrade
// to the neutral verdict so the interview always advances.
func (s InterviewService) SubmitAnswer(ctx domain.Context, sessionID, questionID, answer string) (AnswerResult, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return AnswerResult{}, err
	}
	if sess.Status == domain.SessionCompleted {
		return AnswerResult{}, fmt.Errorf("%w: interview already completed", domain.ErrConflict)
	}

	row, err := s.Questions.Get(ctx, sessionID, questionID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			if st, stErr := s.Sessions.LoadQueueState(ctx, sessionID); stErr == nil {
				if _, ok := st.Find(questionID); ok {
					return AnswerResult{}, fmt.Errorf("%w: question not asked yet", domain.ErrConflict)
				}
			}
		}
		return AnswerResult{}, err
	}
	if row.AskedAt == nil {
		return AnswerResult{}, fmt.Errorf("%w: question not asked yet", domain.ErrConflict)
	}

	clean := textx.SanitizeText(answer)
	if clean == "" {
		return AnswerResult{Question: row, Skipped: true}, nil
	}
	if row.Category == domain.CategoryNonTechnical {
		if err := s.Questions.UpdateAnswer(ctx, sessionID, questionID, clean, nil); err != nil {
			return AnswerResult{}, fmt.Errorf("op=interview.update_answer: %w", err)
		}
		row.UserAnswer = clean
		return AnswerResult{Question: row, Skipped: true}, nil
	}

	ev := s.Grader.Evaluate(ctx, sess.Job, row, clean)
	score := ev.Score
	if err := s.Questions.UpdateAnswer(ctx, sessionID, questionID, clean, &score); err != nil {
		return AnswerResult{}, fmt.Errorf("op=interview.update_answer: %w", err)
	}
	row.UserAnswer = clean
	row.Correctness = &score

	// Persist an on-demand reference answer so the report can show it.
	if strings.TrimSpace(row.ReferenceAnswer) == "" && ev.ReferenceAnswer != noReferencePlaceholder {
		row.ReferenceAnswer = ev.ReferenceAnswer
		row.SourceURLs = ev.SourceURLs
		if err := s.Questions.Append(ctx, sessionID, row); err != nil {
			slog.Warn("reference backfill failed",
				slog.String("session_id", sessionID),
				slog.String("question_id", questionID),
				slog.Any("error", err))
		}
	}

	dec := domain.DecideRoute(row, ev)
	if err := s.applyRoute(ctx, sess, row, clean, dec); err != nil {
		return AnswerResult{}, err
	}
	return AnswerResult{Question: row, Evaluation: &ev, Decision: dec.Kind}, nil
}

// applyRoute executes one routing decision against the queue snapshot and
// the stored rows. Generation failures leave both untouched; persistence
// failures surface.
func (s InterviewService) applyRoute(ctx domain.Context, sess domain.Session, row domain.Question, answer string, dec domain.RouteDecision) error {
	st, err := s.Sessions.LoadQueueState(ctx, sess.ID)
	if err != nil {
		return fmt.Errorf("op=interview.load_state: %w", err)
	}

	switch dec.Kind {
	case domain.RouteRemediate:
		if _, exists := st.Find(domain.FollowupID(row.ID, "followup")); exists {
			return nil
		}
		rem, err := s.Generator.Remediation(ctx, sess.Job, row, answer)
		if err != nil {
			slog.Warn("remediation generation failed, queue unchanged",
				slog.String("session_id", sess.ID),
				slog.String("question_id", row.ID),
				slog.Any("error", err))
			return nil
		}
		deps := s.followupDeps()
		deps.synthesizeAudio(ctx, sess.ID, &rem)

		st = st.PushRemediation(rem)
		next, purged := st.PurgeTopicDepth(row.TopicID)
		var purgeIDs []string
		for _, p := range purged {
			if s.isAsked(ctx, sess.ID, p.ID) {
				// Asked questions stay in the snapshot so their own
				// follow-ups remain reachable in the presentation order.
				next = next.PushDepth(p)
				continue
			}
			purgeIDs = append(purgeIDs, p.ID)
		}
		st = next

		if err := s.Questions.SpliceAfter(ctx, sess.ID, row.ID, rem); err != nil {
			return fmt.Errorf("op=interview.splice_remediation: %w", err)
		}
		if len(purgeIDs) > 0 {
			if err := s.Questions.DeletePending(ctx, sess.ID, purgeIDs); err != nil {
				return fmt.Errorf("op=interview.delete_pending: %w", err)
			}
		}
		return s.saveState(ctx, sess.ID, st)

	case domain.RoutePromote:
		diff := domain.PromotedDifficulty(row)
		if diff == "" {
			return nil
		}
		parent := row
		if row.Difficulty == domain.DifficultyMedium {
			p, ok := st.Find(row.ParentQuestionID)
			if !ok {
				return nil
			}
			parent = p
		}
		st, err = s.followupDeps().ensurePair(ctx, sess, st, parent)
		if err != nil {
			return err
		}
		target, ok := st.Find(domain.FollowupID(parent.ID, diff))
		if !ok || s.isAsked(ctx, sess.ID, target.ID) {
			return nil
		}
		return s.saveState(ctx, sess.ID, st.PromoteFront(target))

	default:
		prune := s.pendingOnly(ctx, sess.ID, dec.PruneIDs)
		if len(prune) == 0 {
			return nil
		}
		if err := s.Questions.DeletePending(ctx, sess.ID, prune); err != nil {
			return fmt.Errorf("op=interview.delete_pending: %w", err)
		}
		return s.saveState(ctx, sess.ID, st.RemovePending(prune...))
	}
}

func (s InterviewService) saveState(ctx domain.Context, sessionID string, st domain.QueueState) error {
	if err := s.Sessions.SaveQueueState(ctx, sessionID, st); err != nil {
		return fmt.Errorf("op=interview.save_state: %w", err)
	}
	return nil
}

func (s InterviewService) isAsked(ctx domain.Context, sessionID, questionID string) bool {
	row, err := s.Questions.Get(ctx, sessionID, questionID)
	return err == nil && row.AskedAt != nil
}

// pendingOnly filters ids down to questions that were never asked. Unknown
// lookup failures keep the question rather than risk dropping an asked one.
func (s InterviewService) pendingOnly(ctx domain.Context, sessionID string, ids []string) []string {
	var out []string
	for _, id := range ids {
		row, err := s.Questions.Get(ctx, sessionID, id)
		switch {
		case err == nil && row.AskedAt != nil:
		case err == nil || errors.Is(err, domain.ErrNotFound):
			out = append(out, id)
		}
	}
	return out
}

// Finish completes a session and drops its audio. Idempotent.
func (s InterviewService) Finish(ctx domain.Context, sessionID string) error {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != domain.SessionCompleted {
		if err := s.Sessions.MarkComplete(ctx, sessionID); err != nil {
			return fmt.Errorf("op=interview.mark_complete: %w", err)
		}
	}
	if err := s.Blobs.DeleteByPrefix(ctx, sessionID+"/"); err != nil {
		slog.Warn("audio cleanup failed",
			slog.String("session_id", sessionID),
			slog.Any("error", err))
	}
	slog.Info("interview finished", slog.String("session_id", sessionID))
	return nil
}

// InterviewReport aggregates a session's asked questions and scores.
type InterviewReport struct {
	SessionID     string
	Status        domain.SessionStatus
	CreatedAt     time.Time
	Deadline      time.Time
	CompletedAt   *time.Time
	Questions     []domain.Question
	AskedCount    int
	AnsweredCount int
	// AverageScore is nil until at least one answer was graded.
	AverageScore *float64
	// NextPosition is the upcoming question's stored position while the
	// session is active.
	NextPosition *int
}

// Report returns the asked questions in ask order with score aggregates.
func (s InterviewService) Report(ctx domain.Context, sessionID string) (InterviewReport, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return InterviewReport{}, err
	}
	rows, err := s.Questions.AllAsked(ctx, sessionID)
	if err != nil {
		return InterviewReport{}, fmt.Errorf("op=interview.all_asked: %w", err)
	}

	report := InterviewReport{
		SessionID:   sess.ID,
		Status:      sess.Status,
		CreatedAt:   sess.CreatedAt,
		Deadline:    sess.Deadline,
		CompletedAt: sess.CompletedAt,
	}
	var scoreSum, scoreN int
	for _, row := range rows {
		if row.AskedAt == nil {
			continue
		}
		report.Questions = append(report.Questions, row)
		report.AskedCount++
		if row.Answered() {
			report.AnsweredCount++
		}
		if row.Correctness != nil {
			scoreSum += *row.Correctness
			scoreN++
		}
	}
	if scoreN > 0 {
		avg := float64(scoreSum) / float64(scoreN)
		report.AverageScore = &avg
	}
	if sess.Status == domain.SessionActive {
		if _, pos, err := s.Questions.NextUnasked(ctx, sessionID); err == nil {
			report.NextPosition = &pos
		} else if !errors.Is(err, domain.ErrNotFound) {
			return InterviewReport{}, fmt.Errorf("op=interview.next_unasked: %w", err)
		}
	}
	return report, nil
}

// ExpireStale finishes sessions whose deadline passed. Used by the periodic
// sweeper; returns how many sessions it completed.
func (s InterviewService) ExpireStale(ctx domain.Context, limit int) (int, error) {
	sessions, err := s.Sessions.ListExpired(ctx, time.Now().UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("op=interview.list_expired: %w", err)
	}
	finished := 0
	for _, sess := range sessions {
		if err := s.Finish(ctx, sess.ID); err != nil {
			slog.Warn("expiring session failed",
				slog.String("session_id", sess.ID),
				slog.Any("error", err))
			continue
		}
		finished++
	}
	return finished, nil
}
