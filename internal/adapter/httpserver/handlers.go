package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/adapter/observability"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/config"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/usecase"
)

// maxBodyBytes caps JSON request bodies. Answers are the largest payload and
// stay well under this.
const maxBodyBytes = 1 << 20

// InterviewFlow is the slice of the interview usecase the HTTP layer drives.
type InterviewFlow interface {
	Start(ctx context.Context, job domain.JobContext, resume domain.ResumeContext) (domain.Session, []domain.Question, error)
	Next(ctx context.Context, sessionID string) (usecase.NextQuestion, error)
	MarkAsked(ctx context.Context, sessionID, questionID string) error
	SubmitAnswer(ctx context.Context, sessionID, questionID, answer string) (usecase.AnswerResult, error)
	Finish(ctx context.Context, sessionID string) error
	Report(ctx context.Context, sessionID string) (usecase.InterviewReport, error)
}

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Interviews InterviewFlow
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
	QueueCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, interviews InterviewFlow, dbCheck, redisCheck, queueCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Interviews: interviews, DBCheck: dbCheck, RedisCheck: redisCheck, QueueCheck: queueCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

// notAcceptable writes a 406 when the client refuses JSON responses. Every
// endpoint on this server speaks JSON only.
func notAcceptable(w http.ResponseWriter, r *http.Request) bool {
	a := r.Header.Get("Accept")
	if a == "" || a == "*/*" || strings.Contains(a, "application/json") {
		return false
	}
	writeJSON(w, http.StatusNotAcceptable, errorEnvelope{Error: apiError{
		Code:    "INVALID_ARGUMENT",
		Message: "not acceptable",
		Details: map[string]any{"accept": a},
	}})
	return true
}

// decodeBody decodes and validates a JSON request body. Oversized bodies map
// to 413, everything else to 400.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope{Error: apiError{
				Code:    "INVALID_ARGUMENT",
				Message: "payload too large",
				Details: map[string]any{"max_bytes": maxBodyBytes},
			}})
			return false
		}
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

// pathID validates one URL parameter and writes a 400 on failure.
func pathID(w http.ResponseWriter, r *http.Request, param string, validate func(string) ValidationResult) (string, bool) {
	id := chi.URLParam(r, param)
	if res := validate(id); !res.Valid {
		writeError(w, r, fmt.Errorf("%w: invalid %s", domain.ErrInvalidArgument, param), res.Errors)
		return "", false
	}
	return id, true
}

type jobPayload struct {
	Title       string   `json:"title" validate:"max=200"`
	Seniority   string   `json:"seniority" validate:"max=100"`
	TechStack   []string `json:"tech_stack" validate:"max=50,dive,max=100"`
	Description string   `json:"description" validate:"max=8000"`
}

func (p jobPayload) toDomain() domain.JobContext {
	return domain.JobContext{Title: p.Title, Seniority: p.Seniority, TechStack: p.TechStack, Description: p.Description}
}

type resumePayload struct {
	Skills         []string `json:"skills" validate:"max=100,dive,max=200"`
	WorkHistory    []string `json:"work_history" validate:"max=50,dive,max=4000"`
	Projects       []string `json:"projects" validate:"max=50,dive,max=4000"`
	Certifications []string `json:"certifications" validate:"max=50,dive,max=200"`
}

func (p resumePayload) toDomain() domain.ResumeContext {
	return domain.ResumeContext{Skills: p.Skills, WorkHistory: p.WorkHistory, Projects: p.Projects, Certifications: p.Certifications}
}

// StartInterviewHandler creates a session: generates the primary queue, seeds
// the snapshot, and kicks off preprocessing of the first chunk.
func (s *Server) StartInterviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		var req struct {
			Job    jobPayload    `json:"job"`
			Resume resumePayload `json:"resume"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		job := req.Job.toDomain()
		resume := req.Resume.toDomain()
		// Empty contexts are a caller mistake, not a server misconfiguration.
		if job.Empty() {
			writeError(w, r, fmt.Errorf("%w: job context required", domain.ErrInvalidArgument), map[string]string{"field": "job"})
			return
		}
		if resume.Empty() {
			writeError(w, r, fmt.Errorf("%w: resume context required", domain.ErrInvalidArgument), map[string]string{"field": "resume"})
			return
		}
		sess, qs, err := s.Interviews.Start(r.Context(), job, resume)
		if err != nil {
			writeError(w, r, fmt.Errorf("start interview: %w", err), nil)
			return
		}
		for _, q := range qs {
			observability.QuestionsGeneratedTotal.WithLabelValues(q.Category).Inc()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             sess.ID,
			"status":         string(sess.Status),
			"deadline":       sess.Deadline.UTC().Format(time.RFC3339),
			"chunk_size":     sess.ChunkSize,
			"question_count": len(qs),
		})
	}
}

// NextQuestionHandler serves the next unasked question, waiting a bounded
// time for its chunk to finish preprocessing.
func (s *Server) NextQuestionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id, ok := pathID(w, r, "id", ValidateSessionID)
		if !ok {
			return
		}
		started := time.Now()
		nq, err := s.Interviews.Next(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if nq.Done {
			writeJSON(w, http.StatusOK, map[string]any{"done": true})
			return
		}
		observability.ObserveChunkWait(time.Since(started), nq.Degraded)
		writeJSON(w, http.StatusOK, map[string]any{
			"done":     false,
			"position": nq.Position,
			"chunk":    nq.Chunk,
			"degraded": nq.Degraded,
			"question": BuildQuestionView(nq.Question, false),
		})
	}
}

// MarkAskedHandler records that a question's audio started playing; answers
// are only accepted for asked questions.
func (s *Server) MarkAskedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id, ok := pathID(w, r, "id", ValidateSessionID)
		if !ok {
			return
		}
		qid, ok := pathID(w, r, "qid", ValidateQuestionID)
		if !ok {
			return
		}
		if err := s.Interviews.MarkAsked(r.Context(), id, qid); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": qid, "status": "asked"})
	}
}

// AnswerHandler records one answer, grades it when gradable, and reports the
// resulting queue routing.
func (s *Server) AnswerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id, ok := pathID(w, r, "id", ValidateSessionID)
		if !ok {
			return
		}
		qid, ok := pathID(w, r, "qid", ValidateQuestionID)
		if !ok {
			return
		}
		var req struct {
			Answer string `json:"answer" validate:"max=20000"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := s.Interviews.SubmitAnswer(r.Context(), id, qid, req.Answer)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		resp := map[string]any{"question_id": res.Question.ID, "skipped": res.Skipped}
		if res.Evaluation != nil {
			observability.ObserveAnswerScore(res.Evaluation.Score, routeLabel(res.Decision))
			resp["score"] = res.Evaluation.Score
			resp["route"] = routeLabel(res.Decision)
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// FinishHandler completes a session. Finishing twice is a no-op.
func (s *Server) FinishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id, ok := pathID(w, r, "id", ValidateSessionID)
		if !ok {
			return
		}
		if err := s.Interviews.Finish(r.Context(), id); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(domain.SessionCompleted)})
	}
}

// ReportHandler returns the asked questions in ask order with answers,
// scores, and aggregates.
func (s *Server) ReportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if notAcceptable(w, r) {
			return
		}
		id, ok := pathID(w, r, "id", ValidateSessionID)
		if !ok {
			return
		}
		rep, err := s.Interviews.Report(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, BuildReportEnvelope(rep))
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "env": s.Cfg.AppEnv})
	}
}

// ReadyzHandler probes the session store, redis, and the queue brokers.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		probe := func(name string, fn func(context.Context) error) {
			if fn == nil {
				return
			}
			if err := fn(ctx); err != nil {
				checks = append(checks, check{Name: name, OK: false, Details: err.Error()})
				return
			}
			checks = append(checks, check{Name: name, OK: true})
		}
		probe("db", s.DBCheck)
		probe("redis", s.RedisCheck)
		probe("queue", s.QueueCheck)
		st := http.StatusOK
		for _, c := range checks {
			if !c.OK {
				st = http.StatusServiceUnavailable
				break
			}
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

// OpenAPIServe serves api/openapi.yaml if present.
func (s *Server) OpenAPIServe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := os.ReadFile("api/openapi.yaml")
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}

// routeLabel maps a routing decision onto the grader's action vocabulary so
// API responses and metrics share one label set.
func routeLabel(k domain.RouteKind) string {
	switch k {
	case domain.RoutePromote:
		return string(domain.RouteNextDifficulty)
	case domain.RouteRemediate:
		return string(domain.RouteFollowup)
	default:
		return string(domain.RouteNormalFlow)
	}
}

// BuildQuestionView renders one question for API responses. Answer fields,
// including the reference answer, are only exposed on report views so the
// presentation path cannot leak them to candidates.
func BuildQuestionView(q domain.Question, withAnswers bool) map[string]any {
	m := map[string]any{
		"id":       q.ID,
		"text":     q.Text,
		"category": q.Category,
		"queue":    string(q.QueueType),
	}
	if q.Difficulty != "" {
		m["difficulty"] = q.Difficulty
	}
	if q.AudioURL != "" {
		m["audio_url"] = q.AudioURL
	}
	if q.TopicID != "" {
		m["topic_id"] = q.TopicID
	}
	if q.ParentQuestionID != "" {
		m["parent_question_id"] = q.ParentQuestionID
	}
	if !withAnswers {
		return m
	}
	if q.AskedAt != nil {
		m["asked_at"] = q.AskedAt.UTC().Format(time.RFC3339)
	}
	if q.UserAnswer != "" {
		m["answer"] = q.UserAnswer
	}
	if q.Correctness != nil {
		m["score"] = *q.Correctness
	}
	if q.ReferenceAnswer != "" {
		m["reference_answer"] = q.ReferenceAnswer
	}
	if len(q.SourceURLs) > 0 {
		m["source_urls"] = q.SourceURLs
	}
	return m
}

// BuildReportEnvelope renders the interview report for API responses.
func BuildReportEnvelope(rep usecase.InterviewReport) map[string]any {
	qs := make([]map[string]any, 0, len(rep.Questions))
	for _, q := range rep.Questions {
		qs = append(qs, BuildQuestionView(q, true))
	}
	m := map[string]any{
		"session_id":     rep.SessionID,
		"status":         string(rep.Status),
		"created_at":     rep.CreatedAt.UTC().Format(time.RFC3339),
		"deadline":       rep.Deadline.UTC().Format(time.RFC3339),
		"asked_count":    rep.AskedCount,
		"answered_count": rep.AnsweredCount,
		"questions":      qs,
	}
	if rep.CompletedAt != nil {
		m["completed_at"] = rep.CompletedAt.UTC().Format(time.RFC3339)
	}
	if rep.AverageScore != nil {
		m["average_score"] = *rep.AverageScore
	}
	if rep.NextPosition != nil {
		m["next_position"] = *rep.NextPosition
	}
	return m
}
