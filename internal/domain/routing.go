package domain

// Routing thresholds. The grader instructs the model to suggest
// next_difficulty at 80 and up; promotion here intentionally starts at 50 so
// depth pairs are spawned liberally. Remediation stays pegged at 10.
const (
	PromoteScoreMin   = 50
	RemediateScoreMax = 10
)

// RouteKind classifies the queue mutation an answer triggers.
type RouteKind int

const (
	// RouteNone advances without promoting; PruneIDs may still apply.
	RouteNone RouteKind = iota
	// RoutePromote surfaces the next-difficulty follow-up of the topic.
	RoutePromote
	// RouteRemediate spawns one remediation question and purges the
	// topic's pending depth entries.
	RouteRemediate
)

// RouteDecision is the outcome of the authoritative routing function. Both
// the live engine path and answer persistence execute the same decision, so
// in-memory queues and stored rows cannot diverge.
type RouteDecision struct {
	Kind RouteKind
	// PruneIDs are pending follow-up ids to drop from the queues and the
	// stored presentation list.
	PruneIDs []string
}

// DecideRoute maps a graded answer to its queue mutation.
// Remediation questions terminate their chain: their answers never spawn
// further follow-ups.
func DecideRoute(q Question, ev Evaluation) RouteDecision {
	if q.QueueType == QueueRemediation {
		return RouteDecision{Kind: RouteNone}
	}
	switch {
	case ev.Route == RouteFollowup || ev.Score <= RemediateScoreMax:
		return RouteDecision{Kind: RouteRemediate}
	case ev.Route == RouteNextDifficulty || ev.Score >= PromoteScoreMin:
		return RouteDecision{Kind: RoutePromote}
	default:
		return RouteDecision{Kind: RouteNone, PruneIDs: PendingFollowupIDs(q)}
	}
}

// FollowupID derives the deterministic id of a depth follow-up.
func FollowupID(parentID, difficulty string) string {
	return parentID + "_" + difficulty
}

// PendingFollowupIDs lists the depth follow-up ids a weak answer invalidates:
// a primary question loses its medium and hard pair, a medium question loses
// only the sibling hard. Hard questions and non-technical questions have
// nothing pending.
func PendingFollowupIDs(q Question) []string {
	if !q.IsTechnical() {
		return nil
	}
	switch q.Difficulty {
	case "":
		return []string{FollowupID(q.ID, DifficultyMedium), FollowupID(q.ID, DifficultyHard)}
	case DifficultyMedium:
		parent := q.ParentQuestionID
		if parent == "" {
			return nil
		}
		return []string{FollowupID(parent, DifficultyHard)}
	default:
		return nil
	}
}

// PromotedDifficulty returns which difficulty follows a strong answer on q:
// medium after the base question, hard after the medium, nothing after hard.
func PromotedDifficulty(q Question) string {
	if !q.IsTechnical() {
		return ""
	}
	switch q.Difficulty {
	case "":
		return DifficultyMedium
	case DifficultyMedium:
		return DifficultyHard
	default:
		return ""
	}
}
