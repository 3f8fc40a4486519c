package usecase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Goldfish7718/Calibr-AI-Recruitment-Platform/internal/domain"
)

// Prompt input caps. Job and resume contexts come from user input and can be
// arbitrarily large; clamping keeps every prompt inside the model window
// without a tokenizer round trip on the hot path.
const (
	maxContextChars  = 4000
	maxContextItems  = 12
	maxQuestionChars = 1000
	maxAnswerChars   = 4000
)

func clampText(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func clampList(items []string, maxItems, maxChars int) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = clampText(it, maxChars)
		if it == "" {
			continue
		}
		out = append(out, it)
		if len(out) == maxItems {
			break
		}
	}
	return out
}

func bulleted(items []string) string {
	var b strings.Builder
	for _, it := range items {
		b.WriteString("- ")
		b.WriteString(it)
		b.WriteString("\n")
	}
	return b.String()
}

func jobPromptBlock(j domain.JobContext) string {
	var b strings.Builder
	b.WriteString("Job title: " + clampText(j.Title, 200) + "\n")
	if j.Seniority != "" {
		b.WriteString("Seniority: " + clampText(j.Seniority, 100) + "\n")
	}
	if len(j.TechStack) > 0 {
		b.WriteString("Tech stack:\n" + bulleted(clampList(j.TechStack, maxContextItems, 100)))
	}
	if j.Description != "" {
		b.WriteString("Description:\n" + clampText(j.Description, maxContextChars) + "\n")
	}
	return b.String()
}

func resumePromptBlock(r domain.ResumeContext) string {
	var b strings.Builder
	if len(r.Skills) > 0 {
		b.WriteString("Skills:\n" + bulleted(clampList(r.Skills, maxContextItems, 100)))
	}
	if len(r.WorkHistory) > 0 {
		b.WriteString("Work history:\n" + bulleted(clampList(r.WorkHistory, maxContextItems, 500)))
	}
	if len(r.Projects) > 0 {
		b.WriteString("Projects:\n" + bulleted(clampList(r.Projects, maxContextItems, 500)))
	}
	if len(r.Certifications) > 0 {
		b.WriteString("Certifications:\n" + bulleted(clampList(r.Certifications, maxContextItems, 200)))
	}
	return b.String()
}

// Question generation

const generationSystemPrompt = `You are a senior engineer designing interview questions for a screening round. Reply with a JSON array only, no prose.`

func generationUserPrompt(job domain.JobContext, resume domain.ResumeContext, minQ, maxQ int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d to %d interview questions for the candidate below, covering these sections in order: introduction, deep dives into the job's tech stack, the candidate's past projects, role-appropriate problem solving, and advanced topics scaled to the stated seniority.\n\n", minQ, maxQ)
	b.WriteString(jobPromptBlock(job))
	b.WriteString("\n")
	b.WriteString(resumePromptBlock(resume))
	b.WriteString(`
Tag every question "technical" or "non-technical". Every technical question must carry a reference_answer an interviewer can grade against.
Reply with a JSON array of objects shaped like:
[{"question": "...", "category": "technical", "reference_answer": "...", "source_urls": ["..."]}]
Omit reference_answer and source_urls on non-technical questions.`)
	return b.String()
}

type generatedQuestion struct {
	Question        string   `json:"question"`
	Category        string   `json:"category"`
	ReferenceAnswer string   `json:"reference_answer"`
	SourceURLs      []string `json:"source_urls"`
}

// parseGeneratedQuestions is deliberately lenient: a malformed payload yields
// an empty list so interview startup degrades instead of failing.
func parseGeneratedQuestions(raw string) []domain.Question {
	var items []generatedQuestion
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}
	out := make([]domain.Question, 0, len(items))
	for _, it := range items {
		text := strings.TrimSpace(it.Question)
		if text == "" {
			continue
		}
		category := domain.CategoryTechnical
		if strings.EqualFold(strings.TrimSpace(it.Category), domain.CategoryNonTechnical) {
			category = domain.CategoryNonTechnical
		}
		q := domain.Question{
			Text:      text,
			Category:  category,
			QueueType: domain.QueuePrimary,
		}
		if category == domain.CategoryTechnical {
			q.ReferenceAnswer = strings.TrimSpace(it.ReferenceAnswer)
			q.SourceURLs = it.SourceURLs
		}
		out = append(out, q)
	}
	return out
}

// Reference answers

const referenceSystemPrompt = `You are a subject-matter expert writing the reference answer an interviewer will grade candidates against. Reply with JSON only.`

func referenceUserPrompt(job domain.JobContext, q domain.Question) string {
	var b strings.Builder
	b.WriteString("Write a comprehensive model answer to the question below, plus 2-3 authoritative citation URLs.\n\n")
	b.WriteString(jobPromptBlock(job))
	b.WriteString("\nQuestion: " + clampText(q.Text, maxQuestionChars) + "\n")
	b.WriteString(`
Reply with a JSON object shaped like {"answer": "...", "source_urls": ["...", "..."]}.
If no factual model answer exists for the question, reply with JSON null.`)
	return b.String()
}

func parseReferenceAnswer(raw string) (*domain.ReferenceAnswer, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	var payload struct {
		Answer     string   `json:"answer"`
		SourceURLs []string `json:"source_urls"`
	}
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return nil, fmt.Errorf("%w: reference payload: %v", domain.ErrSchemaInvalid, err)
	}
	answer := strings.TrimSpace(payload.Answer)
	if answer == "" {
		return nil, nil
	}
	return &domain.ReferenceAnswer{Answer: answer, SourceURLs: payload.SourceURLs}, nil
}

// Answer evaluation. The system prompt states the model-facing thresholds;
// promotion at the engine level starts lower (domain.PromoteScoreMin).

const evaluationSystemPrompt = `You are a strict technical interviewer. Evaluate the candidate's answer against the model answer, weighing technical accuracy, completeness, correct terminology, and conceptual understanding. Score 0-100. Pick route_action "next_difficulty" for 80 and above, "followup" for 10 and below, otherwise "normal_flow". Reply with JSON only.`

func evaluationUserPrompt(q domain.Question, reference, candidate string) string {
	var b strings.Builder
	b.WriteString("Question: " + clampText(q.Text, maxQuestionChars) + "\n\n")
	b.WriteString("Model answer: " + clampText(reference, maxAnswerChars) + "\n\n")
	b.WriteString("Candidate answer: " + clampText(candidate, maxAnswerChars) + "\n")
	b.WriteString(`
Reply with a JSON object shaped like {"score": 0, "route_action": "normal_flow", "reason": "...", "source_urls": ["..."]}.`)
	return b.String()
}

type evaluationPayload struct {
	Score      *float64 `json:"score"`
	Route      string   `json:"route_action"`
	Reason     string   `json:"reason"`
	SourceURLs []string `json:"source_urls"`
}

func parseEvaluation(raw string) (evaluationPayload, error) {
	var payload evaluationPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return evaluationPayload{}, fmt.Errorf("%w: evaluation payload: %v", domain.ErrSchemaInvalid, err)
	}
	// A missing score must not read as zero; zero triggers remediation.
	if payload.Score == nil {
		return evaluationPayload{}, fmt.Errorf("%w: evaluation payload missing score", domain.ErrSchemaInvalid)
	}
	return payload, nil
}

func clampScore(f float64) int {
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	default:
		return int(f + 0.5)
	}
}

func normalizeRoute(s string) domain.RouteAction {
	switch domain.RouteAction(strings.TrimSpace(strings.ToLower(s))) {
	case domain.RouteNextDifficulty:
		return domain.RouteNextDifficulty
	case domain.RouteFollowup:
		return domain.RouteFollowup
	default:
		return domain.RouteNormalFlow
	}
}

// Depth follow-up pairs

const depthPairSystemPrompt = `You are a senior technical interviewer writing follow-up questions that probe one topic at increasing depth. Reply with a JSON array only.`

func depthPairUserPrompt(job domain.JobContext, parent domain.Question) string {
	var b strings.Builder
	b.WriteString("The candidate answered this question well:\n")
	b.WriteString(clampText(parent.Text, maxQuestionChars) + "\n\n")
	b.WriteString(jobPromptBlock(job))
	b.WriteString(`
Write exactly two deeper questions on the same topic, one medium and one hard, each with the model answer an interviewer grades against.
Reply with a JSON array shaped like:
[{"difficulty": "medium", "question": "...", "answer": "..."}, {"difficulty": "hard", "question": "...", "answer": "..."}]`)
	return b.String()
}

func parseDepthPair(raw string) (medium, hard domain.Question, err error) {
	var items []struct {
		Difficulty string `json:"difficulty"`
		Question   string `json:"question"`
		Answer     string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return domain.Question{}, domain.Question{}, fmt.Errorf("%w: depth pair payload: %v", domain.ErrSchemaInvalid, err)
	}
	for _, it := range items {
		q := domain.Question{
			Text:            strings.TrimSpace(it.Question),
			Category:        domain.CategoryTechnical,
			ReferenceAnswer: strings.TrimSpace(it.Answer),
			QueueType:       domain.QueueDepth,
		}
		switch strings.ToLower(strings.TrimSpace(it.Difficulty)) {
		case domain.DifficultyMedium:
			q.Difficulty = domain.DifficultyMedium
			medium = q
		case domain.DifficultyHard:
			q.Difficulty = domain.DifficultyHard
			hard = q
		}
	}
	if medium.Text == "" || hard.Text == "" {
		return domain.Question{}, domain.Question{}, fmt.Errorf("%w: depth pair incomplete", domain.ErrSchemaInvalid)
	}
	return medium, hard, nil
}

// Remediation

const remediationSystemPrompt = `You are a supportive interviewer writing one remedial question that approaches a topic the candidate struggled with from an easier angle. Reply with JSON only.`

func remediationUserPrompt(job domain.JobContext, q domain.Question, wrongAnswer string) string {
	var b strings.Builder
	b.WriteString("The candidate struggled with this question:\n")
	b.WriteString(clampText(q.Text, maxQuestionChars) + "\n\n")
	b.WriteString("Their answer was:\n")
	b.WriteString(clampText(wrongAnswer, maxAnswerChars) + "\n\n")
	b.WriteString(jobPromptBlock(job))
	b.WriteString(`
Write one simpler question probing the same topic from a more basic angle, with the model answer.
Reply with a JSON object shaped like {"question": "...", "answer": "..."}.`)
	return b.String()
}

func parseRemediation(raw string) (text, answer string, err error) {
	var payload struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return "", "", fmt.Errorf("%w: remediation payload: %v", domain.ErrSchemaInvalid, err)
	}
	text = strings.TrimSpace(payload.Question)
	if text == "" {
		return "", "", fmt.Errorf("%w: remediation payload missing question", domain.ErrSchemaInvalid)
	}
	return text, strings.TrimSpace(payload.Answer), nil
}
