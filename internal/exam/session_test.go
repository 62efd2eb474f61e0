package exam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	questions []Question
	err       error
}

func (p *fakeProvider) Generate(context.Context, []SubjectCount) ([]Question, error) {
	return p.questions, p.err
}

type fakeStore struct {
	mu sync.Mutex

	inProgressID uint
	hasActive    bool
	findErr      error

	created        int
	createdAnswers []AnswerSnapshot

	saveCalls   int
	saveErr     error
	lastSaved   []AnswerSnapshot
	lastRemain  int
	violations  int
	chapterRows []ChapterAnalysis
	chapterErr  error

	finalizeCalls int
	finalizeErr   error
	finalCause    Cause
	finalResult   *ResultSnapshot
	abandoned     bool
	submitting    bool

	// events records the order of durable writes; violationDelay slows the
	// violation write down to expose ordering bugs.
	events         []string
	violationDelay time.Duration
}

func (s *fakeStore) FindInProgress(context.Context, uint) (uint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgressID, s.hasActive, s.findErr
}

func (s *fakeStore) CreateAttempt(_ context.Context, _ uint, _ time.Time, _ int, answers []AnswerSnapshot) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created++
	s.createdAnswers = answers
	return 101, nil
}

func (s *fakeStore) SaveAnswers(_ context.Context, _ uint, remaining int, answers []AnswerSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.lastSaved = answers
	s.lastRemain = remaining
	return nil
}

func (s *fakeStore) SaveViolations(_ context.Context, _ uint, count int) error {
	if d := s.violationDelay; d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = count
	s.events = append(s.events, fmt.Sprintf("violations:%d", count))
	return nil
}

func (s *fakeStore) MarkSubmitting(context.Context, uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitting = true
	s.events = append(s.events, "submitting")
	return nil
}

func (s *fakeStore) SaveChapterAnalysis(_ context.Context, _ uint, rows []ChapterAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chapterErr != nil {
		return s.chapterErr
	}
	s.chapterRows = rows
	return nil
}

func (s *fakeStore) Finalize(_ context.Context, _ uint, cause Cause, _ int, _ int, res *ResultSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	s.finalizeCalls++
	s.finalCause = cause
	s.finalResult = res
	s.events = append(s.events, "finalize")
	return nil
}

func (s *fakeStore) MarkAbandoned(context.Context, uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.abandoned = true
	return nil
}

func (s *fakeStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

func (s *fakeStore) setFinalizeErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeErr = err
}

func (s *fakeStore) stats() (saves, finalizes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls, s.finalizeCalls
}

type recordingListener struct {
	mu         sync.Mutex
	phases     []Phase
	ticks      []int
	violations []int
	results    []*ResultSnapshot
}

func (l *recordingListener) PhaseChanged(_ uint, p Phase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.phases = append(l.phases, p)
}

func (l *recordingListener) Tick(_ uint, remaining int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, remaining)
}

func (l *recordingListener) Violation(_ uint, count int, _ string, _ bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.violations = append(l.violations, count)
}

func (l *recordingListener) Completed(_ uint, res *ResultSnapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.results = append(l.results, res)
}

func (l *recordingListener) completedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.results)
}

func questionSlice(per int, subjects ...Subject) []Question {
	m := buildQuestions(per, subjects...)
	out := make([]Question, 0, len(m))
	for i := uint(1); i <= uint(len(m)); i++ {
		out = append(out, m[i])
	}
	return out
}

// testConfig disables the wall-clock paths unless a test opts in.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Distribution = []SubjectCount{
		{Subject: SubjectPhysics, Count: 3},
		{Subject: SubjectChemistry, Count: 3},
		{Subject: SubjectMathematics, Count: 3},
	}
	cfg.TickInterval = time.Hour
	cfg.AutosaveInterval = time.Hour
	cfg.Jitter = func() float64 { return 0 }
	return cfg
}

func startSession(t *testing.T, cfg Config, store *fakeStore, listener Listener) *Session {
	t.Helper()
	sess, err := Start(context.Background(), StartParams{
		UserID:   7,
		Config:   cfg,
		Provider: &fakeProvider{questions: questionSlice(3, SubjectPhysics, SubjectChemistry, SubjectMathematics)},
		Store:    store,
		Listener: listener,
	})
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	return sess
}

func TestStartAlreadyInProgress(t *testing.T) {
	store := &fakeStore{hasActive: true, inProgressID: 55}
	_, err := Start(context.Background(), StartParams{
		UserID:   7,
		Config:   testConfig(),
		Provider: &fakeProvider{},
		Store:    store,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyInProgress)

	var aip *AlreadyInProgressError
	require.ErrorAs(t, err, &aip)
	assert.Equal(t, uint(55), aip.AttemptID)
	assert.Zero(t, store.created, "no attempt may be created")
}

func TestStartGenerationFailed(t *testing.T) {
	store := &fakeStore{}
	_, err := Start(context.Background(), StartParams{
		UserID:   7,
		Config:   testConfig(),
		Provider: &fakeProvider{questions: questionSlice(2, SubjectPhysics)}, // 2 of 9
		Store:    store,
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Zero(t, store.created)

	_, err = Start(context.Background(), StartParams{
		UserID:   7,
		Config:   testConfig(),
		Provider: &fakeProvider{err: errors.New("bank unavailable")},
		Store:    store,
	})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Zero(t, store.created)
}

func TestStartCreatesOneAnswerPerQuestion(t *testing.T) {
	store := &fakeStore{}
	sess := startSession(t, testConfig(), store, nil)

	assert.Equal(t, PhaseInProgress, sess.Phase())
	assert.Equal(t, int(testConfig().Duration/time.Second), sess.Remaining())
	assert.Equal(t, 1, store.created)
	assert.Len(t, store.createdAnswers, 9)
	for _, a := range store.createdAnswers {
		assert.Nil(t, a.Selected)
		assert.NotEmpty(t, a.Correct)
	}
}

func TestMutationsOnlyInProgress(t *testing.T) {
	store := &fakeStore{}
	sess := startSession(t, testConfig(), store, nil)

	require.NoError(t, sess.Select(1, strPtr("B")))
	require.NoError(t, sess.ToggleReview(1))
	require.NoError(t, sess.AccrueTime(1, 12))
	// Unknown id: defensive no-op, no error.
	require.NoError(t, sess.Select(999, strPtr("A")))

	snap, _, err := sess.Snapshot()
	require.NoError(t, err)
	require.Equal(t, uint(1), snap[0].QuestionID)
	assert.Equal(t, "B", *snap[0].Selected)
	assert.True(t, snap[0].MarkedForReview)
	assert.Equal(t, 12, snap[0].TimeSpentSec)

	_, err = sess.Submit(CauseCompleted)
	require.NoError(t, err)

	assert.ErrorIs(t, sess.Select(1, strPtr("C")), ErrNotInProgress)
	assert.ErrorIs(t, sess.ToggleReview(1), ErrNotInProgress)
	assert.ErrorIs(t, sess.AccrueTime(1, 1), ErrNotInProgress)
}

func TestSubmitIdempotentUnderConcurrentTriggers(t *testing.T) {
	store := &fakeStore{}
	var scoringRuns atomic.Int32
	cfg := testConfig()
	cfg.Jitter = func() float64 {
		scoringRuns.Add(1)
		return 0
	}
	listener := &recordingListener{}
	sess := startSession(t, cfg, store, listener)

	const n = 8
	results := make([]*ResultSnapshot, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := sess.Submit(CauseCompleted)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	_, finalizes := store.stats()
	assert.Equal(t, 1, finalizes, "exactly one finalize write")
	assert.Equal(t, int32(1), scoringRuns.Load(), "exactly one scoring pass")
	assert.Equal(t, PhaseCompleted, sess.Phase())
	assert.Equal(t, 1, listener.completedCount())
	for _, res := range results {
		assert.Same(t, results[0], res)
	}
}

func TestTimerExpiryAutoSubmits(t *testing.T) {
	store := &fakeStore{}
	listener := &recordingListener{}
	cfg := testConfig()
	cfg.Duration = 3 * time.Second
	cfg.TickInterval = 5 * time.Millisecond
	sess := startSession(t, cfg, store, listener)

	require.Eventually(t, func() bool {
		return sess.Phase() == PhaseAutoSubmitted
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, CauseAutoSubmitted, store.finalCause)
	assert.Zero(t, sess.Remaining())

	// Countdown was strictly decreasing by one per delivered tick.
	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.NotEmpty(t, listener.ticks)
	for i := 1; i < len(listener.ticks); i++ {
		assert.Equal(t, listener.ticks[i-1]-1, listener.ticks[i])
	}
	assert.Zero(t, listener.ticks[len(listener.ticks)-1])
}

func TestNoTicksAfterSubmission(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.TickInterval = 5 * time.Millisecond
	sess := startSession(t, cfg, store, nil)

	_, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)

	remaining := sess.Remaining()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, remaining, sess.Remaining(), "no tick may be delivered after submission")
}

func TestViolationEscalationForcesSubmit(t *testing.T) {
	store := &fakeStore{}
	listener := &recordingListener{}
	sess := startSession(t, testConfig(), store, listener)

	count, forced, err := sess.Violation()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, forced)

	count, forced, err = sess.Violation()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.False(t, forced)

	count, forced, err = sess.Violation()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.True(t, forced)

	require.Eventually(t, func() bool {
		return sess.Phase() == PhaseAutoSubmitted
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, CauseAutoSubmitted, store.finalCause)

	// Violations after the threshold crossing never re-fire the submission.
	count, forced, err = sess.Violation()
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.False(t, forced)
	_, finalizes := store.stats()
	assert.Equal(t, 1, finalizes)
}

func TestViolationWritesNeverTrailFinalize(t *testing.T) {
	store := &fakeStore{violationDelay: 20 * time.Millisecond}
	sess := startSession(t, testConfig(), store, nil)

	for i := 0; i < 3; i++ {
		_, _, err := sess.Violation()
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return sess.Phase() == PhaseAutoSubmitted
	}, 2*time.Second, 5*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.NotEmpty(t, store.events)
	assert.Equal(t, "finalize", store.events[len(store.events)-1],
		"the terminal row is the last write; a slow count write must not land after it")
	last := 0
	for _, ev := range store.events {
		var n int
		if _, err := fmt.Sscanf(ev, "violations:%d", &n); err == nil {
			assert.Greater(t, n, last, "stored violation count only moves forward")
			last = n
		}
	}
	assert.Equal(t, 3, store.violations)
}

func TestAutosaveFailureDoesNotDisturbSession(t *testing.T) {
	store := &fakeStore{}
	store.setSaveErr(errors.New("disk full"))
	cfg := testConfig()
	cfg.AutosaveInterval = 5 * time.Millisecond
	sess := startSession(t, cfg, store, nil)

	require.Eventually(t, func() bool {
		saves, _ := store.stats()
		return saves > 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, PhaseInProgress, sess.Phase())
	require.NoError(t, sess.Select(1, strPtr("A")))

	// A later submit still succeeds; the final flush is best-effort.
	res, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, PhaseCompleted, sess.Phase())
}

func TestAutosavePersistsSnapshot(t *testing.T) {
	store := &fakeStore{}
	cfg := testConfig()
	cfg.AutosaveInterval = 5 * time.Millisecond
	sess := startSession(t, cfg, store, nil)

	require.NoError(t, sess.Select(2, strPtr("D")))
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, a := range store.lastSaved {
			if a.QuestionID == 2 && a.Selected != nil && *a.Selected == "D" {
				return true
			}
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func TestFinalizeFailureIsRetryableWithoutRescoring(t *testing.T) {
	store := &fakeStore{}
	var scoringRuns atomic.Int32
	cfg := testConfig()
	cfg.Jitter = func() float64 {
		scoringRuns.Add(1)
		return 0
	}
	sess := startSession(t, cfg, store, nil)
	store.setFinalizeErr(errors.New("connection reset"))

	_, err := sess.Submit(CauseCompleted)
	assert.ErrorIs(t, err, ErrSubmitFailed)
	assert.Equal(t, PhaseSubmitting, sess.Phase(), "attempt stays in submitting for retry")
	assert.Equal(t, int32(1), scoringRuns.Load())
	store.mu.Lock()
	assert.True(t, store.submitting, "submitting status persisted when the latch is taken")
	store.mu.Unlock()

	store.setFinalizeErr(nil)
	res, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, PhaseCompleted, sess.Phase())
	assert.Equal(t, int32(1), scoringRuns.Load(), "retry must not re-run scoring")
	_, finalizes := store.stats()
	assert.Equal(t, 1, finalizes)
}

func TestSubmitComputesScoreFromFrozenAnswers(t *testing.T) {
	store := &fakeStore{}
	sess := startSession(t, testConfig(), store, nil)

	// 9 questions, all correct option "A": answer 4 right, 2 wrong, 3 blank.
	for id := uint(1); id <= 4; id++ {
		require.NoError(t, sess.Select(id, strPtr("A")))
	}
	require.NoError(t, sess.Select(5, strPtr("B")))
	require.NoError(t, sess.Select(6, strPtr("C")))

	res, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)
	assert.Equal(t, 4*4-2*1, res.AggregateScore)
	assert.Equal(t, 9*4, res.MaxScore)
	assert.NotEmpty(t, res.Chapters)
	assert.Same(t, res, store.finalResult)
	assert.NotEmpty(t, store.chapterRows)

	got, err := sess.Result()
	require.NoError(t, err)
	assert.Same(t, res, got)
}

func TestAbandon(t *testing.T) {
	store := &fakeStore{}
	listener := &recordingListener{}
	sess := startSession(t, testConfig(), store, listener)

	require.NoError(t, sess.Abandon())
	assert.Equal(t, PhaseAbandoned, sess.Phase())
	assert.True(t, store.abandoned)

	// Terminal phase: submit is a no-op, no scoring happens.
	res, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)
	assert.Nil(t, res)
	_, finalizes := store.stats()
	assert.Zero(t, finalizes)
	assert.ErrorIs(t, sess.Select(1, strPtr("A")), ErrNotInProgress)

	got, err := sess.Result()
	require.NoError(t, err)
	assert.Nil(t, got, "abandoned attempts carry no result")
}

func TestCloseReleasesSession(t *testing.T) {
	store := &fakeStore{}
	sess := startSession(t, testConfig(), store, nil)

	_, err := sess.Submit(CauseCompleted)
	require.NoError(t, err)
	sess.Close()

	assert.ErrorIs(t, sess.Select(1, strPtr("A")), ErrSessionClosed)
	_, _, err = sess.Snapshot()
	assert.ErrorIs(t, err, ErrSessionClosed)
}
