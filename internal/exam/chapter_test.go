package exam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chapterFixture builds one chapter with the given number of correct and
// total answers; incorrect fills the remainder.
func chapterFixture(total, correct int) (map[uint]Question, []AnswerSnapshot) {
	qs := make(map[uint]Question, total)
	for i := 1; i <= total; i++ {
		qs[uint(i)] = Question{
			ID:            uint(i),
			Subject:       SubjectChemistry,
			ChapterID:     42,
			ChapterName:   "Thermodynamics",
			CorrectOption: "A",
		}
	}
	store := newAnswerStore(qs)
	n := 0
	for _, id := range store.ids {
		n++
		if n <= correct {
			store.setSelection(id, strPtr("A"))
		} else {
			store.setSelection(id, strPtr("B"))
		}
		store.addTime(id, 30)
	}
	return qs, store.snapshot()
}

func TestAnalyzeChaptersStrengthBoundaries(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		total    int
		correct  int
		accuracy float64
		strength string
	}{
		{name: "exactly 70 percent is strong", total: 10, correct: 7, accuracy: 70, strength: StrengthStrong},
		{name: "exactly 40 percent is moderate", total: 10, correct: 4, accuracy: 40, strength: StrengthModerate},
		{name: "just under 40 percent is weak", total: 1000, correct: 399, accuracy: 39.9, strength: StrengthWeak},
		{name: "zero correct is weak", total: 10, correct: 0, accuracy: 0, strength: StrengthWeak},
		{name: "all correct is strong", total: 10, correct: 10, accuracy: 100, strength: StrengthStrong},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			qs, answers := chapterFixture(tc.total, tc.correct)
			rows := AnalyzeChapters(cfg, qs, answers)
			require.Len(t, rows, 1)
			ch := rows[0]
			assert.InDelta(t, tc.accuracy, ch.Accuracy, 1e-9)
			assert.Equal(t, tc.strength, ch.Strength)
			assert.Equal(t, tc.total, ch.Total)
			assert.Equal(t, tc.correct, ch.Correct)
			assert.Equal(t, tc.total, ch.Correct+ch.Incorrect+ch.Unattempted)
		})
	}
}

func TestAnalyzeChaptersAverageTime(t *testing.T) {
	cfg := DefaultConfig()
	qs, answers := chapterFixture(4, 2)
	rows := AnalyzeChapters(cfg, qs, answers)
	require.Len(t, rows, 1)
	assert.InDelta(t, 30.0, rows[0].AvgTimeSec, 1e-9)
	assert.Equal(t, "Thermodynamics", rows[0].ChapterName)
	assert.Equal(t, SubjectChemistry, rows[0].Subject)
}

func TestAnalyzeChaptersOneEntryPerChapter(t *testing.T) {
	cfg := DefaultConfig()
	qs := buildQuestions(30, SubjectPhysics, SubjectMathematics)
	answers := answersFor(qs, func(Question) *string { return strPtr("A") })

	rows := AnalyzeChapters(cfg, qs, answers)
	// 3 chapters per subject in the fixture.
	require.Len(t, rows, 6)
	seen := make(map[uint]bool)
	for _, ch := range rows {
		assert.False(t, seen[ch.ChapterID], "chapter %d reported twice", ch.ChapterID)
		seen[ch.ChapterID] = true
		assert.Equal(t, StrengthStrong, ch.Strength)
	}
}
