package domain

// QueueState is the per-session engine state: the three ordered queues.
// Values are treated as immutable; transition helpers return a new state so
// callers can persist a snapshot after every transition without hidden
// shared mutation.
type QueueState struct {
	Primary     []Question
	Depth       []Question
	Remediation []Question
}

// Clone returns a deep copy of the state's slices.
func (st QueueState) Clone() QueueState {
	out := QueueState{
		Primary:     make([]Question, len(st.Primary)),
		Depth:       make([]Question, len(st.Depth)),
		Remediation: make([]Question, len(st.Remediation)),
	}
	copy(out.Primary, st.Primary)
	copy(out.Depth, st.Depth)
	copy(out.Remediation, st.Remediation)
	return out
}

// Len returns the total number of queued questions.
func (st QueueState) Len() int {
	return len(st.Primary) + len(st.Depth) + len(st.Remediation)
}

// Find returns the question with the given id from any queue.
func (st QueueState) Find(id string) (Question, bool) {
	for _, qs := range [][]Question{st.Primary, st.Depth, st.Remediation} {
		for _, q := range qs {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// Flatten returns the presentation order: primary questions in sequence with
// every follow-up spliced immediately after the question that spawned it.
// Follow-ups of follow-ups (a remediation spawned by a depth question) land
// directly after their own parent.
func (st QueueState) Flatten() []Question {
	children := make(map[string][]Question)
	for _, q := range st.Depth {
		children[q.ParentQuestionID] = append(children[q.ParentQuestionID], q)
	}
	for _, qs := range children {
		orderDepthPair(qs)
	}
	for _, q := range st.Remediation {
		children[q.ParentQuestionID] = append(children[q.ParentQuestionID], q)
	}

	out := make([]Question, 0, st.Len())
	var emit func(q Question)
	emit = func(q Question) {
		out = append(out, q)
		for _, child := range children[q.ID] {
			emit(child)
		}
	}
	for _, q := range st.Primary {
		emit(q)
	}
	return out
}

// orderDepthPair sorts a parent's depth entries medium before hard in place.
func orderDepthPair(qs []Question) {
	for i := range qs {
		if qs[i].Difficulty == DifficultyMedium && i > 0 {
			qs[0], qs[i] = qs[i], qs[0]
		}
	}
}

// PushDepth appends depth follow-ups to Q2.
func (st QueueState) PushDepth(qs ...Question) QueueState {
	out := st.Clone()
	out.Depth = append(out.Depth, qs...)
	return out
}

// PushRemediation appends a remediation follow-up to Q3.
func (st QueueState) PushRemediation(q Question) QueueState {
	out := st.Clone()
	out.Remediation = append(out.Remediation, q)
	return out
}

// PromoteFront moves q to the front of the primary queue for immediate
// asking, removing it from the depth queue when it is held there.
func (st QueueState) PromoteFront(q Question) QueueState {
	out := st.Clone()
	out.Depth = removeByID(out.Depth, q.ID)
	out.Primary = removeByID(out.Primary, q.ID)
	out.Primary = append([]Question{q}, out.Primary...)
	return out
}

// PurgeTopicDepth removes every pending depth entry carrying topicID and
// returns the purged entries alongside the new state.
func (st QueueState) PurgeTopicDepth(topicID string) (QueueState, []Question) {
	out := st.Clone()
	kept := out.Depth[:0]
	var purged []Question
	for _, q := range out.Depth {
		if q.TopicID == topicID && topicID != "" {
			purged = append(purged, q)
			continue
		}
		kept = append(kept, q)
	}
	out.Depth = kept
	return out, purged
}

// RemovePending drops questions by id from every queue.
func (st QueueState) RemovePending(ids ...string) QueueState {
	out := st.Clone()
	for _, id := range ids {
		out.Primary = removeByID(out.Primary, id)
		out.Depth = removeByID(out.Depth, id)
		out.Remediation = removeByID(out.Remediation, id)
	}
	return out
}

func removeByID(qs []Question, id string) []Question {
	kept := qs[:0]
	for _, q := range qs {
		if q.ID != id {
			kept = append(kept, q)
		}
	}
	return kept
}
