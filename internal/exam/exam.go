// Package exam implements the session engine for a proctored, timed mock
// examination: the attempt lifecycle state machine, the countdown timer, the
// per-question answer store, the integrity-violation monitor, periodic
// autosave and the scoring/chapter-analysis pipeline. It is a library-level
// engine: question sourcing, durable storage and result delivery are injected
// through the QuestionProvider, Store and Listener interfaces.
package exam

import (
	"context"
	"math/rand"
	"time"
)

type Subject string

const (
	SubjectPhysics     Subject = "physics"
	SubjectChemistry   Subject = "chemistry"
	SubjectMathematics Subject = "mathematics"
)

// Phase is the lifecycle state of a session. idle and generating are
// transient start-up states that only exist inside Start; a live Session is
// always in_progress or beyond.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseGenerating    Phase = "generating"
	PhaseInProgress    Phase = "in_progress"
	PhaseSubmitting    Phase = "submitting"
	PhaseCompleted     Phase = "completed"
	PhaseAutoSubmitted Phase = "auto_submitted"
	PhaseAbandoned     Phase = "abandoned"
)

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAutoSubmitted || p == PhaseAbandoned
}

// Cause identifies what ended a session.
type Cause string

const (
	CauseCompleted     Cause = "completed"
	CauseAutoSubmitted Cause = "auto_submitted"
)

// Question is supplied by the external provider and frozen for the lifetime
// of the session.
type Question struct {
	ID            uint
	Subject       Subject
	ChapterID     uint
	ChapterName   string
	Text          string
	Options       map[string]string
	CorrectOption string
	Difficulty    string
	Concept       string
}

type SubjectCount struct {
	Subject Subject
	Count   int
}

// Config carries the exam-format constants. Marking weights and strength
// thresholds are configuration rather than hard-coded so the engine is not
// tied to one exam pattern.
type Config struct {
	Duration          time.Duration
	TickInterval      time.Duration
	AutosaveInterval  time.Duration
	Distribution      []SubjectCount
	MarksCorrect      int
	MarksIncorrect    int
	StrongThreshold   float64
	ModerateThreshold float64
	ViolationLimit    int

	// Jitter is added to the percentile estimate. Nil selects a small
	// bounded random offset; tests inject a deterministic source.
	Jitter func() float64
}

func DefaultConfig() Config {
	return Config{
		Duration:         3 * time.Hour,
		TickInterval:     time.Second,
		AutosaveInterval: 10 * time.Second,
		Distribution: []SubjectCount{
			{Subject: SubjectPhysics, Count: 30},
			{Subject: SubjectChemistry, Count: 30},
			{Subject: SubjectMathematics, Count: 30},
		},
		MarksCorrect:      4,
		MarksIncorrect:    1,
		StrongThreshold:   70,
		ModerateThreshold: 40,
		ViolationLimit:    3,
	}
}

func (c Config) TotalQuestions() int {
	total := 0
	for _, d := range c.Distribution {
		total += d.Count
	}
	return total
}

func defaultJitter() float64 {
	return rand.Float64()*4 - 2
}

// AnswerSnapshot is an immutable copy of one answer, used for autosave and
// scoring.
type AnswerSnapshot struct {
	QuestionID      uint    `json:"questionId"`
	Selected        *string `json:"selected"`
	Correct         string  `json:"correct"`
	MarkedForReview bool    `json:"markedForReview"`
	TimeSpentSec    int     `json:"timeSpentSec"`
}

type SubjectStat struct {
	Subject     Subject `json:"subject"`
	Total       int     `json:"total"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
	Score       int     `json:"score"`
}

type ChapterAnalysis struct {
	ChapterID   uint    `json:"chapterId"`
	ChapterName string  `json:"chapterName"`
	Subject     Subject `json:"subject"`
	Total       int     `json:"total"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
	Accuracy    float64 `json:"accuracy"`
	AvgTimeSec  float64 `json:"avgTimeSec"`
	Strength    string  `json:"strength"`
}

// ResultSnapshot is produced exactly once per attempt, at submission.
type ResultSnapshot struct {
	AggregateScore int               `json:"aggregateScore"`
	MaxScore       int               `json:"maxScore"`
	Percentile     float64           `json:"percentile"`
	Subjects       []SubjectStat     `json:"perSubjectStats"`
	Chapters       []ChapterAnalysis `json:"chapterAnalysis"`
}

// QuestionProvider supplies the question set, consumed once at Start.
type QuestionProvider interface {
	Generate(ctx context.Context, dist []SubjectCount) ([]Question, error)
}

// Store is the durable attempt/answer store. The engine only issues these
// calls; it does not define the storage format. The final Finalize write is
// authoritative and may overwrite partial autosave data.
type Store interface {
	FindInProgress(ctx context.Context, userID uint) (attemptID uint, found bool, err error)
	CreateAttempt(ctx context.Context, userID uint, startedAt time.Time, durationSec int, answers []AnswerSnapshot) (uint, error)
	SaveAnswers(ctx context.Context, attemptID uint, remainingSec int, answers []AnswerSnapshot) error
	SaveViolations(ctx context.Context, attemptID uint, count int) error
	MarkSubmitting(ctx context.Context, attemptID uint) error
	SaveChapterAnalysis(ctx context.Context, attemptID uint, rows []ChapterAnalysis) error
	Finalize(ctx context.Context, attemptID uint, cause Cause, remainingSec int, violations int, res *ResultSnapshot) error
	MarkAbandoned(ctx context.Context, attemptID uint) error
}

// Listener receives session events for the reporting/UI layer. Callbacks run
// on the session goroutine and must not block.
type Listener interface {
	PhaseChanged(attemptID uint, phase Phase)
	Tick(attemptID uint, remainingSec int)
	Violation(attemptID uint, count int, warning string, forced bool)
	Completed(attemptID uint, res *ResultSnapshot)
}

// NopListener discards all events.
type NopListener struct{}

func (NopListener) PhaseChanged(uint, Phase)          {}
func (NopListener) Tick(uint, int)                    {}
func (NopListener) Violation(uint, int, string, bool) {}
func (NopListener) Completed(uint, *ResultSnapshot)   {}
