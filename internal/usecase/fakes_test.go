package usecase_test

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// In-memory fakes implementing the domain ports. Error fields inject
// failures per method; call records let tests assert side effects.

type fakeSessions struct {
	mu          sync.Mutex
	sessions    map[string]domain.Session
	states      map[string]domain.QueueState
	createErr   error
	getErr      error
	completeErr error
	saveErr     error
	loadErr     error
	listErr     error
	saves       int
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{
		sessions: make(map[string]domain.Session),
		states:   make(map[string]domain.QueueState),
	}
}

func (f *fakeSessions) Create(_ domain.Context, s domain.Session) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("sess-%d", len(f.sessions)+1)
	}
	f.sessions[s.ID] = s
	return s.ID, nil
}

func (f *fakeSessions) Get(_ domain.Context, id string) (domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Session{}, f.getErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessions) MarkComplete(_ domain.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completeErr != nil {
		return f.completeErr
	}
	s, ok := f.sessions[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now().UTC()
	s.Status = domain.SessionCompleted
	s.CompletedAt = &now
	f.sessions[id] = s
	return nil
}

func (f *fakeSessions) ListExpired(_ domain.Context, cutoff time.Time, limit int) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Session
	for _, s := range f.sessions {
		if s.Status == domain.SessionActive && s.Deadline.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessions) SaveQueueState(_ domain.Context, sessionID string, st domain.QueueState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.states[sessionID] = st.Clone()
	f.saves++
	return nil
}

func (f *fakeSessions) LoadQueueState(_ domain.Context, sessionID string) (domain.QueueState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return domain.QueueState{}, f.loadErr
	}
	st, ok := f.states[sessionID]
	if !ok {
		return domain.QueueState{}, domain.ErrNotFound
	}
	return st.Clone(), nil
}

func (f *fakeSessions) state(sessionID string) domain.QueueState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[sessionID].Clone()
}

type fakeQuestions struct {
	mu        sync.Mutex
	rows      map[string][]domain.Question
	appendErr error
	spliceErr error
	updateErr error
	markErr   error
	deleteErr error
	getErr    error
	chunkErr  error
	allErr    error
	nextErr   error
	deletes   [][]string
}

func newFakeQuestions() *fakeQuestions {
	return &fakeQuestions{rows: make(map[string][]domain.Question)}
}

// mergeContent mirrors the repository's conflict handling: content fields
// update, answer and ask fields stay.
func mergeContent(dst, src domain.Question) domain.Question {
	dst.Text = src.Text
	dst.Category = src.Category
	dst.Difficulty = src.Difficulty
	dst.ReferenceAnswer = src.ReferenceAnswer
	dst.SourceURLs = src.SourceURLs
	dst.AudioURL = src.AudioURL
	dst.TopicID = src.TopicID
	dst.ParentQuestionID = src.ParentQuestionID
	dst.QueueType = src.QueueType
	return dst
}

func (f *fakeQuestions) Append(_ domain.Context, sessionID string, q domain.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	rows := f.rows[sessionID]
	for i := range rows {
		if rows[i].ID == q.ID {
			rows[i] = mergeContent(rows[i], q)
			return nil
		}
	}
	f.rows[sessionID] = append(rows, q)
	return nil
}

func (f *fakeQuestions) SpliceAfter(_ domain.Context, sessionID, afterID string, qs ...domain.Question) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spliceErr != nil {
		return f.spliceErr
	}
	if len(qs) == 0 {
		return nil
	}
	rows := f.rows[sessionID]
	var fresh []domain.Question
	for _, q := range qs {
		merged := false
		for i := range rows {
			if rows[i].ID == q.ID {
				rows[i] = mergeContent(rows[i], q)
				merged = true
				break
			}
		}
		if !merged {
			fresh = append(fresh, q)
		}
	}
	at := len(rows)
	for i := range rows {
		if rows[i].ID == afterID {
			at = i + 1
			break
		}
	}
	out := make([]domain.Question, 0, len(rows)+len(fresh))
	out = append(out, rows[:at]...)
	out = append(out, fresh...)
	out = append(out, rows[at:]...)
	f.rows[sessionID] = out
	return nil
}

func (f *fakeQuestions) UpdateAnswer(_ domain.Context, sessionID, questionID, answer string, correctness *int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	rows := f.rows[sessionID]
	for i := range rows {
		if rows[i].ID == questionID {
			rows[i].UserAnswer = answer
			rows[i].Correctness = correctness
		}
	}
	return nil
}

func (f *fakeQuestions) MarkAsked(_ domain.Context, sessionID, questionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	rows := f.rows[sessionID]
	for i := range rows {
		if rows[i].ID == questionID {
			t := at
			rows[i].AskedAt = &t
		}
	}
	return nil
}

func (f *fakeQuestions) DeletePending(_ domain.Context, sessionID string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletes = append(f.deletes, append([]string(nil), ids...))
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	rows := f.rows[sessionID]
	kept := rows[:0]
	for _, r := range rows {
		if drop[r.ID] && r.AskedAt == nil {
			continue
		}
		kept = append(kept, r)
	}
	f.rows[sessionID] = kept
	return nil
}

func (f *fakeQuestions) Get(_ domain.Context, sessionID, questionID string) (domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Question{}, f.getErr
	}
	for _, r := range f.rows[sessionID] {
		if r.ID == questionID {
			return r, nil
		}
	}
	return domain.Question{}, domain.ErrNotFound
}

func (f *fakeQuestions) ForChunk(_ domain.Context, sessionID string, chunk, size int) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunkErr != nil {
		return nil, f.chunkErr
	}
	rows := f.rows[sessionID]
	lo := chunk * size
	if lo >= len(rows) {
		return nil, nil
	}
	hi := lo + size
	if hi > len(rows) {
		hi = len(rows)
	}
	return append([]domain.Question(nil), rows[lo:hi]...), nil
}

func (f *fakeQuestions) AllAsked(_ domain.Context, sessionID string) ([]domain.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allErr != nil {
		return nil, f.allErr
	}
	rows := f.rows[sessionID]
	var asked, unasked []domain.Question
	for _, r := range rows {
		if r.AskedAt != nil {
			asked = append(asked, r)
		} else {
			unasked = append(unasked, r)
		}
	}
	sort.SliceStable(asked, func(i, j int) bool { return asked[i].AskedAt.Before(*asked[j].AskedAt) })
	return append(asked, unasked...), nil
}

func (f *fakeQuestions) NextUnasked(_ domain.Context, sessionID string) (domain.Question, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.nextErr != nil {
		return domain.Question{}, 0, f.nextErr
	}
	for i, r := range f.rows[sessionID] {
		if r.AskedAt == nil {
			return r, i, nil
		}
	}
	return domain.Question{}, 0, domain.ErrNotFound
}

func (f *fakeQuestions) byID(sessionID, questionID string) (domain.Question, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows[sessionID] {
		if r.ID == questionID {
			return r, true
		}
	}
	return domain.Question{}, false
}

func (f *fakeQuestions) ids(sessionID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.rows[sessionID]))
	for _, r := range f.rows[sessionID] {
		out = append(out, r.ID)
	}
	return out
}

type fakeChunks struct {
	mu      sync.Mutex
	set     map[string]map[int]bool
	markErr error
	setErr  error
	marks   []int
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{set: make(map[string]map[int]bool)}
}

func (f *fakeChunks) MarkPreprocessed(_ domain.Context, sessionID string, chunk int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	if f.set[sessionID] == nil {
		f.set[sessionID] = make(map[int]bool)
	}
	f.set[sessionID][chunk] = true
	f.marks = append(f.marks, chunk)
	return nil
}

func (f *fakeChunks) PreprocessedSet(_ domain.Context, sessionID string) (map[int]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return nil, f.setErr
	}
	out := make(map[int]bool, len(f.set[sessionID]))
	for k, v := range f.set[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeChunks) mark(sessionID string, chunks ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set[sessionID] == nil {
		f.set[sessionID] = make(map[int]bool)
	}
	for _, c := range chunks {
		f.set[sessionID][c] = true
	}
}

type fakeQueue struct {
	mu        sync.Mutex
	tasks     []domain.PreprocessTaskPayload
	err       error
	onEnqueue func(domain.PreprocessTaskPayload)
}

func (f *fakeQueue) EnqueuePreprocess(_ domain.Context, payload domain.PreprocessTaskPayload) (string, error) {
	f.mu.Lock()
	f.tasks = append(f.tasks, payload)
	hook := f.onEnqueue
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	if hook != nil {
		hook(payload)
	}
	return fmt.Sprintf("task-%d", len(f.tasks)), nil
}

func (f *fakeQueue) chunks() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, t.ChunkNumber)
	}
	return out
}

// scriptedAI dispatches on the same system prompt markers the mock client
// uses, with per-shape payload and error overrides.
type scriptedAI struct {
	mu              sync.Mutex
	calls           []string
	err             error
	questionsJSON   string
	questionsErr    error
	referenceJSON   string
	referenceErr    error
	evaluationJSON  string
	evaluationErr   error
	pairJSON        string
	pairErr         error
	remediationJSON string
	remediationErr  error
}

func newScriptedAI() *scriptedAI {
	return &scriptedAI{
		questionsJSON: `[
			{"question": "Tell me about yourself and your background.", "category": "non-technical"},
			{"question": "Explain how goroutine scheduling works.", "category": "technical", "reference_answer": "The runtime multiplexes goroutines onto OS threads.", "source_urls": ["https://go.dev/doc"]},
			{"question": "Do you have any questions for us?", "category": "non-technical"}
		]`,
		referenceJSON:   `{"answer": "A model answer.", "source_urls": ["https://example.com/ref"]}`,
		evaluationJSON:  `{"score": 70, "route_action": "normal_flow", "reason": "solid", "source_urls": ["https://example.com/eval"]}`,
		pairJSON:        `[{"difficulty": "medium", "question": "Deeper medium question?", "answer": "Medium answer."}, {"difficulty": "hard", "question": "Deeper hard question?", "answer": "Hard answer."}]`,
		remediationJSON: `{"question": "Simpler question?", "answer": "Basic answer."}`,
	}
}

func (f *scriptedAI) ChatJSON(_ domain.Context, systemPrompt, _ string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	sys := strings.ToLower(systemPrompt)
	switch {
	case strings.Contains(sys, "interview questions"):
		f.calls = append(f.calls, "questions")
		return f.questionsJSON, f.questionsErr
	case strings.Contains(sys, "remedial"):
		f.calls = append(f.calls, "remediation")
		return f.remediationJSON, f.remediationErr
	case strings.Contains(sys, "follow-up"):
		f.calls = append(f.calls, "pair")
		return f.pairJSON, f.pairErr
	case strings.Contains(sys, "reference answer"):
		f.calls = append(f.calls, "reference")
		return f.referenceJSON, f.referenceErr
	case strings.Contains(sys, "evaluate"):
		f.calls = append(f.calls, "evaluation")
		return f.evaluationJSON, f.evaluationErr
	default:
		return "", fmt.Errorf("%w: unrecognized prompt", domain.ErrSchemaInvalid)
	}
}

func (f *scriptedAI) callCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == kind {
			n++
		}
	}
	return n
}

type fakeSpeech struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeSpeech) Synthesize(_ domain.Context, _ string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, "", f.err
	}
	return []byte("ID3\x04\x00fake-audio"), "audio/mpeg", nil
}

func (f *fakeSpeech) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeBlobs struct {
	mu              sync.Mutex
	puts            map[string]string
	deletedPrefixes []string
	putErr          error
	deleteErr       error
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{puts: make(map[string]string)}
}

func (f *fakeBlobs) Put(_ domain.Context, key string, _ []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	f.puts[key] = contentType
	return "https://blobs.test/" + key, nil
}

func (f *fakeBlobs) Delete(_ domain.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.puts, key)
	return nil
}

func (f *fakeBlobs) DeleteByPrefix(_ domain.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deletedPrefixes = append(f.deletedPrefixes, prefix)
	for k := range f.puts {
		if strings.HasPrefix(k, prefix) {
			delete(f.puts, k)
		}
	}
	return nil
}

func (f *fakeBlobs) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.puts))
	for k := range f.puts {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeLocker struct {
	mu         sync.Mutex
	held       map[string]bool
	busy       bool
	acquireErr error
	acquires   int
	releases   int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]bool)}
}

func (f *fakeLocker) Acquire(_ domain.Context, sessionID string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.acquireErr != nil {
		return false, f.acquireErr
	}
	if f.busy || f.held[sessionID] {
		return false, nil
	}
	f.held[sessionID] = true
	return true, nil
}

func (f *fakeLocker) Release(_ domain.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	delete(f.held, sessionID)
	return nil
}

// Question builders for interview-level tests.

func techQ(id string) domain.Question {
	return domain.Question{
		ID:        id,
		Text:      "Explain the internals of " + id + ".",
		Category:  domain.CategoryTechnical,
		TopicID:   id + "-topic",
		QueueType: domain.QueuePrimary,
	}
}

func nonTechQ(id, text string) domain.Question {
	return domain.Question{
		ID:        id,
		Text:      text,
		Category:  domain.CategoryNonTechnical,
		QueueType: domain.QueuePrimary,
	}
}

func depthQ(parentID, difficulty string) domain.Question {
	return domain.Question{
		ID:               domain.FollowupID(parentID, difficulty),
		Text:             "Going deeper on " + parentID + ", " + difficulty + " version?",
		Category:         domain.CategoryTechnical,
		Difficulty:       difficulty,
		ReferenceAnswer:  "Reference for the " + difficulty + " follow-up.",
		TopicID:          parentID + "-topic",
		ParentQuestionID: parentID,
		QueueType:        domain.QueueDepth,
	}
}

func jobCtx() domain.JobContext {
	return domain.JobContext{
		Title:       "Backend Engineer",
		Seniority:   "Senior",
		TechStack:   []string{"Go", "PostgreSQL", "Redpanda"},
		Description: "Own the interview orchestration services.",
	}
}

func resumeCtx() domain.ResumeContext {
	return domain.ResumeContext{
		Skills:      []string{"Go", "Kafka", "PostgreSQL"},
		WorkHistory: []string{"Built event pipelines at Acme."},
		Projects:    []string{"Open source ULID library."},
	}
}
