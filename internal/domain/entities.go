package domain

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrConfiguration     = errors.New("configuration incomplete")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrRateLimited       = errors.New("rate limited")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
)

// QuestionCategory enumerates question categories
const (
	CategoryTechnical    = "technical"
	CategoryNonTechnical = "non-technical"
	CategoryFollowup     = "followup"
)

// Difficulty levels carried only by depth follow-ups
const (
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// QueueType identifies the logical queue a question belongs to
type QueueType string

const (
	QueuePrimary     QueueType = "Q1"
	QueueDepth       QueueType = "Q2"
	QueueRemediation QueueType = "Q3"
)

// RouteAction is the grader's directive for the queue engine
type RouteAction string

const (
	RouteNextDifficulty RouteAction = "next_difficulty"
	RouteNormalFlow     RouteAction = "normal_flow"
	RouteFollowup       RouteAction = "followup"
)

// Question is one interview question.
// Invariants: ID immutable once assigned; UserAnswer set implies AskedAt set;
// Difficulty only on depth follow-ups; TopicID shared between a technical
// primary question and every follow-up it spawns.
type Question struct {
	ID               string
	Text             string
	Category         string
	Difficulty       string
	ReferenceAnswer  string
	SourceURLs       []string
	AudioURL         string
	TopicID          string
	ParentQuestionID string
	QueueType        QueueType
	UserAnswer       string
	Correctness      *int
	AskedAt          *time.Time
}

// IsTechnical reports whether the question counts as technical for routing.
func (q Question) IsTechnical() bool { return q.Category == CategoryTechnical }

// Answered reports whether a candidate answer has been recorded.
func (q Question) Answered() bool { return strings.TrimSpace(q.UserAnswer) != "" }

// SessionStatus values
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// JobContext holds the structured job posting the interview targets.
type JobContext struct {
	Title       string
	Seniority   string
	TechStack   []string
	Description string
}

// Empty reports whether the context carries no usable signal.
func (j JobContext) Empty() bool {
	return strings.TrimSpace(j.Title) == "" && len(j.TechStack) == 0 && strings.TrimSpace(j.Description) == ""
}

// ResumeContext holds the structured candidate resume.
type ResumeContext struct {
	Skills         []string
	WorkHistory    []string
	Projects       []string
	Certifications []string
}

// Empty reports whether the context carries no usable signal.
func (r ResumeContext) Empty() bool {
	return len(r.Skills) == 0 && len(r.WorkHistory) == 0 && len(r.Projects) == 0
}

// Session is one interview run.
type Session struct {
	ID          string
	Status      SessionStatus
	Job         JobContext
	Resume      ResumeContext
	ChunkSize   int
	Deadline    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Expired reports whether the interview ran past its deadline at t.
func (s Session) Expired(t time.Time) bool {
	return !s.Deadline.IsZero() && t.After(s.Deadline)
}

// Evaluation is the grader's verdict for one answered question.
type Evaluation struct {
	Score           int
	Route           RouteAction
	Reason          string
	SourceURLs      []string
	ReferenceAnswer string
}

// ReferenceAnswer couples a model answer with its citations.
type ReferenceAnswer struct {
	Answer     string
	SourceURLs []string
}

// Repositories (ports)

type SessionRepository interface {
	Create(ctx Context, s Session) (string, error)
	Get(ctx Context, id string) (Session, error)
	MarkComplete(ctx Context, id string) error
	// ListExpired returns active sessions whose deadline passed before cutoff.
	ListExpired(ctx Context, cutoff time.Time, limit int) ([]Session, error)
	SaveQueueState(ctx Context, sessionID string, st QueueState) error
	LoadQueueState(ctx Context, sessionID string) (QueueState, error)
}

type QuestionRepository interface {
	// Append inserts q at the tail of the session's presentation order.
	// Existing rows with the same id are merged, not duplicated.
	Append(ctx Context, sessionID string, q Question) error
	// SpliceAfter inserts qs immediately after the row with id afterID,
	// preserving their given order. Falls back to tail append when afterID
	// is not stored.
	SpliceAfter(ctx Context, sessionID, afterID string, qs ...Question) error
	UpdateAnswer(ctx Context, sessionID, questionID, answer string, correctness *int) error
	MarkAsked(ctx Context, sessionID, questionID string, at time.Time) error
	// DeletePending removes unasked rows by id; asked rows are never deleted.
	DeletePending(ctx Context, sessionID string, ids []string) error
	Get(ctx Context, sessionID, questionID string) (Question, error)
	// ForChunk returns rows [chunk*size, (chunk+1)*size) of the presentation order.
	ForChunk(ctx Context, sessionID string, chunk, size int) ([]Question, error)
	// AllAsked returns every stored row ordered by ask time, unasked rows last
	// in presentation order.
	AllAsked(ctx Context, sessionID string) ([]Question, error)
	// NextUnasked returns the first stored row without an AskedAt mark along
	// with its zero-based position in the presentation order.
	NextUnasked(ctx Context, sessionID string) (Question, int, error)
}

type ChunkRepository interface {
	MarkPreprocessed(ctx Context, sessionID string, chunk int) error
	PreprocessedSet(ctx Context, sessionID string) (map[int]bool, error)
}

// Queue (port)

type Queue interface {
	EnqueuePreprocess(ctx Context, payload PreprocessTaskPayload) (string, error)
}

// AIClient (port)

type AIClient interface {
	// ChatJSON returns the model's JSON payload for a schema-bearing prompt.
	// Implementations strip any prose or markdown the model wraps around the
	// JSON; a reply with no parseable payload surfaces ErrSchemaInvalid.
	ChatJSON(ctx Context, systemPrompt, userPrompt string, maxTokens int) (string, error)
}

// SpeechClient (port)

type SpeechClient interface {
	// Synthesize renders text as spoken audio and reports the MIME type.
	Synthesize(ctx Context, text string) (data []byte, contentType string, err error)
}

// BlobStore (port)
// Put stores bytes under key and returns a stable URL for playback.
// DeleteByPrefix removes every object below prefix; used to drop a whole
// session's audio at interview end.
type BlobStore interface {
	Put(ctx Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx Context, key string) error
	DeleteByPrefix(ctx Context, prefix string) error
}

// SessionLocker (port)
// Single-flight guard: at most one preprocessing run per session system-wide.
type SessionLocker interface {
	Acquire(ctx Context, sessionID string, ttl time.Duration) (bool, error)
	Release(ctx Context, sessionID string) error
}

// PreprocessTaskPayload

type PreprocessTaskPayload struct {
	SessionID   string
	ChunkNumber int
	RequestID   string
}

// Context is an alias to allow decoupling from std context in domain
// Adapters and usecases should pass context.Context through

type Context = context.Context
