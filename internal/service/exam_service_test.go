package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"mockexam_backend/internal/config"
	"mockexam_backend/internal/exam"
	"mockexam_backend/internal/model"
	"mockexam_backend/internal/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProvider struct {
	questions []exam.Question
}

func (p *staticProvider) Generate(context.Context, []exam.SubjectCount) ([]exam.Question, error) {
	return p.questions, nil
}

// gatedStore blocks the first caller inside the open-attempt lookup until
// release is closed, holding the lookup-to-insert window open on demand.
type gatedStore struct {
	mu        sync.Mutex
	enterOnce sync.Once
	entered   chan struct{}
	release   chan struct{}
	created   int
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedStore) FindInProgress(context.Context, uint) (uint, bool, error) {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return 0, false, nil
}

func (s *gatedStore) CreateAttempt(_ context.Context, _ uint, _ time.Time, _ int, _ []exam.AnswerSnapshot) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	return uint(200 + s.created), nil
}

func (s *gatedStore) SaveAnswers(context.Context, uint, int, []exam.AnswerSnapshot) error { return nil }
func (s *gatedStore) SaveViolations(context.Context, uint, int) error                     { return nil }
func (s *gatedStore) MarkSubmitting(context.Context, uint) error                          { return nil }
func (s *gatedStore) SaveChapterAnalysis(context.Context, uint, []exam.ChapterAnalysis) error {
	return nil
}
func (s *gatedStore) Finalize(context.Context, uint, exam.Cause, int, int, *exam.ResultSnapshot) error {
	return nil
}
func (s *gatedStore) MarkAbandoned(context.Context, uint) error { return nil }

func (s *gatedStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created
}

type staticUsers struct {
	disabled bool
}

func (u *staticUsers) FindByID(id uint) (*model.User, error) {
	usr := &model.User{Name: "candidate", Email: "candidate@example.com", Role: model.Student, Disabled: u.disabled}
	usr.ID = id
	return usr, nil
}

func paperQuestions(n int) []exam.Question {
	out := make([]exam.Question, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, exam.Question{
			ID:            uint(i),
			Subject:       exam.SubjectPhysics,
			ChapterID:     1,
			ChapterName:   "Kinematics",
			Text:          "?",
			Options:       map[string]string{"A": "1", "B": "2", "C": "3", "D": "4"},
			CorrectOption: "A",
		})
	}
	return out
}

func newTestExamService(store exam.Store, users UserDirectory) *ExamService {
	cfg := &config.Config{}
	cfg.Exam = config.ExamConfig{
		DurationSeconds:     60,
		AutosaveSeconds:     3600,
		QuestionsPerSubject: 1,
		Subjects:            []string{"physics"},
		MarksCorrect:        4,
		MarksIncorrect:      1,
		StrongThreshold:     70,
		ModerateThreshold:   40,
		ViolationLimit:      3,
	}
	return &ExamService{
		Config:   cfg,
		Users:    users,
		Archive:  &ArchiveService{},
		store:    store,
		provider: &staticProvider{questions: paperQuestions(1)},
		sessions: make(map[uint]*exam.Session),
		starting: make(map[uint]struct{}),
	}
}

func TestStartSerializesConcurrentRequests(t *testing.T) {
	store := newGatedStore()
	svc := newTestExamService(store, &staticUsers{})
	t.Cleanup(svc.Shutdown)

	type outcome struct {
		view *ActiveExamView
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		v, err := svc.Start(context.Background(), 7)
		first <- outcome{v, err}
	}()
	<-store.entered // first Start is now inside the open-attempt lookup

	// A second Start for the same user arrives before the first has created
	// its attempt. The reservation must turn it away without touching the
	// store.
	_, err := svc.Start(context.Background(), 7)
	assert.ErrorIs(t, err, exam.ErrAlreadyInProgress)
	assert.Zero(t, store.createdCount())

	close(store.release)
	got := <-first
	require.NoError(t, got.err)
	require.NotNil(t, got.view)
	assert.Equal(t, 1, store.createdCount(), "exactly one attempt row")

	// With the session registered, a third Start reports its attempt id.
	_, err = svc.Start(context.Background(), 7)
	var open *exam.AlreadyInProgressError
	require.ErrorAs(t, err, &open)
	assert.Equal(t, got.view.AttemptID, open.AttemptID)
	assert.Equal(t, 1, store.createdCount())
}

func TestStartRejectsDisabledUser(t *testing.T) {
	store := newGatedStore()
	svc := newTestExamService(store, &staticUsers{disabled: true})

	_, err := svc.Start(context.Background(), 7)
	assert.ErrorIs(t, err, util.ErrPermissionDenied)
	assert.Zero(t, store.createdCount())
}

func TestBuildAnswerReviews(t *testing.T) {
	q := model.Question{Subject: "physics", ChapterID: 3, Text: "v = u + at?"}
	q.ID = 11
	right := "A"
	wrong := "B"
	answers := []model.ExamAttemptAnswer{
		{QuestionID: 11, SelectedOption: &right, CorrectOption: "A", TimeSpentSec: 30},
		{QuestionID: 12, SelectedOption: &wrong, CorrectOption: "A", MarkedForReview: true},
		{QuestionID: 13, CorrectOption: "C"},
	}

	reviews := buildAnswerReviews(answers, []model.Question{q})
	require.Len(t, reviews, 3)

	assert.True(t, reviews[0].IsCorrect)
	assert.Equal(t, "v = u + at?", reviews[0].Text)
	assert.Equal(t, "physics", reviews[0].Subject)
	assert.Equal(t, 30, reviews[0].TimeSpentSec)

	assert.False(t, reviews[1].IsCorrect)
	assert.True(t, reviews[1].MarkedForReview)
	assert.Empty(t, reviews[1].Text, "question gone from the bank keeps snapshot fields only")

	assert.False(t, reviews[2].IsCorrect)
	assert.Nil(t, reviews[2].Selected)
	assert.Equal(t, "C", reviews[2].Correct)
}
