package exam

import "sort"

// answerState is the mutable record behind one question. Only the session
// goroutine touches it.
type answerState struct {
	selected     *string
	correct      string
	review       bool
	timeSpentSec int
}

// answerStore holds exactly one answer per question. The key set is fixed at
// session start; mutations never add or remove entries.
type answerStore struct {
	byID map[uint]*answerState
	ids  []uint
}

func newAnswerStore(questions map[uint]Question) *answerStore {
	s := &answerStore{byID: make(map[uint]*answerState, len(questions))}
	for id, q := range questions {
		s.byID[id] = &answerState{correct: q.CorrectOption}
		s.ids = append(s.ids, id)
	}
	sort.Slice(s.ids, func(i, j int) bool { return s.ids[i] < s.ids[j] })
	return s
}

// setSelection records the chosen option, or clears it when choice is nil.
// Unknown question ids are silent no-ops: the id set is closed at start.
func (s *answerStore) setSelection(questionID uint, choice *string) {
	a, ok := s.byID[questionID]
	if !ok {
		return
	}
	if choice == nil {
		a.selected = nil
		return
	}
	v := *choice
	a.selected = &v
}

func (s *answerStore) toggleReview(questionID uint) {
	if a, ok := s.byID[questionID]; ok {
		a.review = !a.review
	}
}

// addTime accrues viewing time. Negative amounts are ignored so accumulated
// time stays monotonically non-decreasing.
func (s *answerStore) addTime(questionID uint, seconds int) {
	if seconds <= 0 {
		return
	}
	if a, ok := s.byID[questionID]; ok {
		a.timeSpentSec += seconds
	}
}

// snapshot returns a deep copy ordered by question id.
func (s *answerStore) snapshot() []AnswerSnapshot {
	out := make([]AnswerSnapshot, 0, len(s.ids))
	for _, id := range s.ids {
		a := s.byID[id]
		snap := AnswerSnapshot{
			QuestionID:      id,
			Correct:         a.correct,
			MarkedForReview: a.review,
			TimeSpentSec:    a.timeSpentSec,
		}
		if a.selected != nil {
			v := *a.selected
			snap.Selected = &v
		}
		out = append(out, snap)
	}
	return out
}
