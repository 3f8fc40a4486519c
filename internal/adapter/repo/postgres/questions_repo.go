package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// QuestionRepo persists the per-session presentation order of questions.
// Rows cover both pending and asked questions; asked rows carry an asked_at
// mark and are never deleted while the session lives.
type QuestionRepo struct{ Pool PgxPool }

// NewQuestionRepo constructs a QuestionRepo with the given pool.
func NewQuestionRepo(p PgxPool) *QuestionRepo { return &QuestionRepo{Pool: p} }

const questionColumns = `id, text, category, difficulty, reference_answer, source_urls, audio_url, topic_id, parent_question_id, queue_type, user_answer, correctness, asked_at`

func scanQuestion(row pgx.Row) (domain.Question, error) {
	var q domain.Question
	var srcRaw []byte
	if err := row.Scan(&q.ID, &q.Text, &q.Category, &q.Difficulty, &q.ReferenceAnswer, &srcRaw, &q.AudioURL, &q.TopicID, &q.ParentQuestionID, &q.QueueType, &q.UserAnswer, &q.Correctness, &q.AskedAt); err != nil {
		return domain.Question{}, err
	}
	if len(srcRaw) > 0 {
		if err := json.Unmarshal(srcRaw, &q.SourceURLs); err != nil {
			return domain.Question{}, err
		}
	}
	return q, nil
}

func marshalSourceURLs(urls []string) ([]byte, error) {
	if urls == nil {
		urls = []string{}
	}
	return json.Marshal(urls)
}

// Append inserts q at the tail of the session's presentation order. A row
// with the same id is merged: content fields refresh, while position,
// user_answer, correctness and asked_at keep their stored values.
func (r *QuestionRepo) Append(ctx domain.Context, sessionID string, q domain.Question) error {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "session_questions"),
	)
	srcRaw, err := marshalSourceURLs(q.SourceURLs)
	if err != nil {
		return fmt.Errorf("op=question.append: %w", err)
	}
	now := time.Now().UTC()
	sql := `INSERT INTO session_questions (session_id, id, position, text, category, difficulty, reference_answer, source_urls, audio_url, topic_id, parent_question_id, queue_type, user_answer, correctness, asked_at, created_at, updated_at)
	VALUES ($1,$2,(SELECT COALESCE(MAX(position),-1)+1 FROM session_questions WHERE session_id=$1),$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$15)
	ON CONFLICT (session_id, id)
	DO UPDATE SET text=EXCLUDED.text, category=EXCLUDED.category, difficulty=EXCLUDED.difficulty, reference_answer=EXCLUDED.reference_answer, source_urls=EXCLUDED.source_urls, audio_url=EXCLUDED.audio_url, topic_id=EXCLUDED.topic_id, parent_question_id=EXCLUDED.parent_question_id, queue_type=EXCLUDED.queue_type, updated_at=EXCLUDED.updated_at`
	_, err = r.Pool.Exec(ctx, sql, sessionID, q.ID, q.Text, q.Category, q.Difficulty, q.ReferenceAnswer, srcRaw, q.AudioURL, q.TopicID, q.ParentQuestionID, q.QueueType, q.UserAnswer, q.Correctness, q.AskedAt, now)
	if err != nil {
		return fmt.Errorf("op=question.append: %w", err)
	}
	return nil
}

// SpliceAfter inserts qs immediately after the row with id afterID,
// preserving their given order. Unknown anchors degrade to a tail append.
// Rows past the anchor shift right; a retried splice merges on conflict
// and may leave position holes, which readers tolerate.
func (r *QuestionRepo) SpliceAfter(ctx domain.Context, sessionID, afterID string, qs ...domain.Question) error {
	if len(qs) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.SpliceAfter")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "session_questions"),
	)
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=question.splice_begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var anchor int
	err = tx.QueryRow(ctx, `SELECT position FROM session_questions WHERE session_id=$1 AND id=$2`, sessionID, afterID).Scan(&anchor)
	if err == pgx.ErrNoRows {
		err = tx.QueryRow(ctx, `SELECT COALESCE(MAX(position),-1) FROM session_questions WHERE session_id=$1`, sessionID).Scan(&anchor)
	}
	if err != nil {
		return fmt.Errorf("op=question.splice_anchor: %w", err)
	}

	now := time.Now().UTC()
	shift := `UPDATE session_questions SET position = position + $3, updated_at=$4 WHERE session_id=$1 AND position > $2`
	if _, err := tx.Exec(ctx, shift, sessionID, anchor, len(qs), now); err != nil {
		return fmt.Errorf("op=question.splice_shift: %w", err)
	}

	insert := `INSERT INTO session_questions (session_id, id, position, text, category, difficulty, reference_answer, source_urls, audio_url, topic_id, parent_question_id, queue_type, user_answer, correctness, asked_at, created_at, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$16)
	ON CONFLICT (session_id, id)
	DO UPDATE SET text=EXCLUDED.text, category=EXCLUDED.category, difficulty=EXCLUDED.difficulty, reference_answer=EXCLUDED.reference_answer, source_urls=EXCLUDED.source_urls, audio_url=EXCLUDED.audio_url, topic_id=EXCLUDED.topic_id, parent_question_id=EXCLUDED.parent_question_id, queue_type=EXCLUDED.queue_type, updated_at=EXCLUDED.updated_at`
	for i, q := range qs {
		srcRaw, err := marshalSourceURLs(q.SourceURLs)
		if err != nil {
			return fmt.Errorf("op=question.splice_insert: %w", err)
		}
		if _, err := tx.Exec(ctx, insert, sessionID, q.ID, anchor+1+i, q.Text, q.Category, q.Difficulty, q.ReferenceAnswer, srcRaw, q.AudioURL, q.TopicID, q.ParentQuestionID, q.QueueType, q.UserAnswer, q.Correctness, q.AskedAt, now); err != nil {
			return fmt.Errorf("op=question.splice_insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=question.splice_commit: %w", err)
	}
	return nil
}

// UpdateAnswer records the candidate's answer and its correctness score.
func (r *QuestionRepo) UpdateAnswer(ctx domain.Context, sessionID, questionID, answer string, correctness *int) error {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.UpdateAnswer")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `UPDATE session_questions SET user_answer=$3, correctness=$4, updated_at=$5 WHERE session_id=$1 AND id=$2`
	_, err := r.Pool.Exec(ctx, q, sessionID, questionID, answer, correctness, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=question.update_answer: %w", err)
	}
	return nil
}

// MarkAsked stamps the row with the time it was presented to the candidate.
func (r *QuestionRepo) MarkAsked(ctx domain.Context, sessionID, questionID string, at time.Time) error {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.MarkAsked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `UPDATE session_questions SET asked_at=$3, updated_at=$3 WHERE session_id=$1 AND id=$2`
	_, err := r.Pool.Exec(ctx, q, sessionID, questionID, at.UTC())
	if err != nil {
		return fmt.Errorf("op=question.mark_asked: %w", err)
	}
	return nil
}

// DeletePending removes unasked rows by id; asked rows are never deleted.
func (r *QuestionRepo) DeletePending(ctx domain.Context, sessionID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.DeletePending")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "DELETE"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `DELETE FROM session_questions WHERE session_id=$1 AND id = ANY($2) AND asked_at IS NULL`
	_, err := r.Pool.Exec(ctx, q, sessionID, ids)
	if err != nil {
		return fmt.Errorf("op=question.delete_pending: %w", err)
	}
	return nil
}

// Get loads a single question row by id.
func (r *QuestionRepo) Get(ctx domain.Context, sessionID, questionID string) (domain.Question, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `SELECT ` + questionColumns + ` FROM session_questions WHERE session_id=$1 AND id=$2`
	qu, err := scanQuestion(r.Pool.QueryRow(ctx, q, sessionID, questionID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Question{}, fmt.Errorf("op=question.get: %w", domain.ErrNotFound)
		}
		return domain.Question{}, fmt.Errorf("op=question.get: %w", err)
	}
	return qu, nil
}

// ForChunk returns rows [chunk*size, (chunk+1)*size) of the presentation order.
func (r *QuestionRepo) ForChunk(ctx domain.Context, sessionID string, chunk, size int) ([]domain.Question, error) {
	if chunk < 0 || size <= 0 {
		return nil, fmt.Errorf("op=question.for_chunk: %w", domain.ErrInvalidArgument)
	}
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.ForChunk")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `SELECT ` + questionColumns + ` FROM session_questions WHERE session_id=$1 ORDER BY position ASC OFFSET $2 LIMIT $3`
	rows, err := r.Pool.Query(ctx, q, sessionID, chunk*size, size)
	if err != nil {
		return nil, fmt.Errorf("op=question.for_chunk: %w", err)
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		qu, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("op=question.for_chunk_scan: %w", err)
		}
		out = append(out, qu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=question.for_chunk_rows: %w", err)
	}
	return out, nil
}

// AllAsked returns every stored row ordered by ask time, unasked rows last
// in presentation order.
func (r *QuestionRepo) AllAsked(ctx domain.Context, sessionID string) ([]domain.Question, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.AllAsked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `SELECT ` + questionColumns + ` FROM session_questions WHERE session_id=$1 ORDER BY asked_at ASC NULLS LAST, position ASC`
	rows, err := r.Pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=question.all_asked: %w", err)
	}
	defer rows.Close()
	var out []domain.Question
	for rows.Next() {
		qu, err := scanQuestion(rows)
		if err != nil {
			return nil, fmt.Errorf("op=question.all_asked_scan: %w", err)
		}
		out = append(out, qu)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=question.all_asked_rows: %w", err)
	}
	return out, nil
}

// NextUnasked returns the first row without an asked_at mark along with its
// zero-based ordinal in the presentation order. Ordinals come from row
// numbering, so position holes do not affect them.
func (r *QuestionRepo) NextUnasked(ctx domain.Context, sessionID string) (domain.Question, int, error) {
	tracer := otel.Tracer("repo.questions")
	ctx, span := tracer.Start(ctx, "questions.NextUnasked")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "session_questions"),
	)
	q := `SELECT ` + questionColumns + `, ord FROM (
		SELECT *, row_number() OVER (ORDER BY position ASC) - 1 AS ord
		FROM session_questions WHERE session_id=$1
	) sq WHERE asked_at IS NULL ORDER BY ord ASC LIMIT 1`
	row := r.Pool.QueryRow(ctx, q, sessionID)
	var qu domain.Question
	var srcRaw []byte
	var ord int
	if err := row.Scan(&qu.ID, &qu.Text, &qu.Category, &qu.Difficulty, &qu.ReferenceAnswer, &srcRaw, &qu.AudioURL, &qu.TopicID, &qu.ParentQuestionID, &qu.QueueType, &qu.UserAnswer, &qu.Correctness, &qu.AskedAt, &ord); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Question{}, 0, fmt.Errorf("op=question.next_unasked: %w", domain.ErrNotFound)
		}
		return domain.Question{}, 0, fmt.Errorf("op=question.next_unasked: %w", err)
	}
	if len(srcRaw) > 0 {
		if err := json.Unmarshal(srcRaw, &qu.SourceURLs); err != nil {
			return domain.Question{}, 0, fmt.Errorf("op=question.next_unasked: %w", err)
		}
	}
	return qu, ord, nil
}
