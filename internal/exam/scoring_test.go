package exam

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

// buildQuestions lays out `per` questions for each subject, chapter id
// cycling through 3 chapters per subject, all with correct option "A".
func buildQuestions(per int, subjects ...Subject) map[uint]Question {
	qs := make(map[uint]Question)
	id := uint(1)
	for si, subj := range subjects {
		for i := 0; i < per; i++ {
			chapter := uint(si*10 + i%3 + 1)
			qs[id] = Question{
				ID:            id,
				Subject:       subj,
				ChapterID:     chapter,
				ChapterName:   fmt.Sprintf("%s chapter %d", subj, chapter),
				CorrectOption: "A",
			}
			id++
		}
	}
	return qs
}

func answersFor(qs map[uint]Question, pick func(q Question) *string) []AnswerSnapshot {
	store := newAnswerStore(qs)
	for _, id := range store.ids {
		store.setSelection(id, pick(qs[id]))
	}
	return store.snapshot()
}

func zeroJitterConfig() Config {
	cfg := DefaultConfig()
	cfg.Jitter = func() float64 { return 0 }
	return cfg
}

func TestScoreSubjectExample(t *testing.T) {
	// 40 physics questions: 30 correct, 5 incorrect, 5 unattempted.
	cfg := zeroJitterConfig()
	cfg.Distribution = []SubjectCount{{Subject: SubjectPhysics, Count: 40}}

	qs := buildQuestions(40, SubjectPhysics)
	n := 0
	answers := answersFor(qs, func(Question) *string {
		n++
		switch {
		case n <= 30:
			return strPtr("A")
		case n <= 35:
			return strPtr("B")
		default:
			return nil
		}
	})

	res := Score(cfg, qs, answers)
	require.Len(t, res.Subjects, 1)
	st := res.Subjects[0]
	assert.Equal(t, 40, st.Total)
	assert.Equal(t, 30, st.Correct)
	assert.Equal(t, 5, st.Incorrect)
	assert.Equal(t, 5, st.Unattempted)
	assert.Equal(t, 115, st.Score)
	assert.Equal(t, 115, res.AggregateScore)
	assert.Equal(t, 160, res.MaxScore)
}

func TestScoreMaxScoreThreeSubjects(t *testing.T) {
	cfg := zeroJitterConfig()
	qs := buildQuestions(30, SubjectPhysics, SubjectChemistry, SubjectMathematics)
	answers := answersFor(qs, func(Question) *string { return nil })

	res := Score(cfg, qs, answers)
	assert.Equal(t, 360, res.MaxScore)
	assert.Equal(t, 0, res.AggregateScore)
	require.Len(t, res.Subjects, 3)
	// Distribution order is preserved in the output.
	assert.Equal(t, SubjectPhysics, res.Subjects[0].Subject)
	assert.Equal(t, SubjectChemistry, res.Subjects[1].Subject)
	assert.Equal(t, SubjectMathematics, res.Subjects[2].Subject)
}

func TestScoreCountInvariant(t *testing.T) {
	cfg := zeroJitterConfig()
	qs := buildQuestions(30, SubjectPhysics, SubjectChemistry, SubjectMathematics)
	n := 0
	answers := answersFor(qs, func(Question) *string {
		n++
		switch n % 3 {
		case 0:
			return nil
		case 1:
			return strPtr("A")
		default:
			return strPtr("C")
		}
	})

	res := Score(cfg, qs, answers)
	for _, st := range res.Subjects {
		assert.Equal(t, st.Total, st.Correct+st.Incorrect+st.Unattempted,
			"subject %s: correct+incorrect+unattempted must equal total", st.Subject)
		assert.Equal(t, 30, st.Total)
	}
}

func TestScorePercentileClamped(t *testing.T) {
	cfg := zeroJitterConfig()
	cfg.Distribution = []SubjectCount{{Subject: SubjectPhysics, Count: 10}}
	qs := buildQuestions(10, SubjectPhysics)

	// Perfect score with a positive jitter still caps at 99.9.
	cfg.Jitter = func() float64 { return 2 }
	allCorrect := answersFor(qs, func(Question) *string { return strPtr("A") })
	res := Score(cfg, qs, allCorrect)
	assert.Equal(t, 99.9, res.Percentile)

	// All-incorrect with negative jitter floors at 0.
	cfg.Jitter = func() float64 { return -2 }
	allWrong := answersFor(qs, func(Question) *string { return strPtr("D") })
	res = Score(cfg, qs, allWrong)
	assert.Equal(t, 0.0, res.Percentile)
}

func TestScoreDeterministicWithFixedJitter(t *testing.T) {
	cfg := zeroJitterConfig()
	qs := buildQuestions(30, SubjectPhysics, SubjectChemistry, SubjectMathematics)
	n := 0
	answers := answersFor(qs, func(Question) *string {
		n++
		if n%2 == 0 {
			return strPtr("A")
		}
		return strPtr("B")
	})

	first := Score(cfg, qs, answers)
	second := Score(cfg, qs, answers)
	assert.Equal(t, first, second)
}
