package exam

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Session is the single writer for attempt phase and answer state. Every
// mutation — UI events, timer ticks, violation signals — is funneled through
// one goroutine consuming a message channel, so no two mutations ever
// interleave. Queries (Phase, Remaining) read atomics that only the session
// goroutine writes.
type Session struct {
	attemptID uint
	userID    uint
	cfg       Config
	store     Store
	listener  Listener
	log       *zap.Logger

	questions map[uint]Question
	answers   *answerStore
	monitor   *integrityMonitor

	msgs           chan *message
	stopBackground chan struct{}
	stopOnce       sync.Once
	closed         chan struct{}

	phase     atomic.Value // Phase
	remaining atomic.Int64

	// latch is the single-use submission guard: check-and-set before any
	// submit side effect, so timer expiry, the violation threshold and an
	// explicit submit collapse into one execution.
	latch     atomic.Bool
	pending   []AnswerSnapshot
	result    *ResultSnapshot
	cause     Cause
	finalized bool
}

type msgKind int

const (
	msgSelect msgKind = iota
	msgReview
	msgAccrue
	msgTick
	msgViolation
	msgSubmit
	msgAbandon
	msgSnapshot
	msgResult
	msgClose
)

type message struct {
	kind       msgKind
	questionID uint
	choice     *string
	seconds    int
	cause      Cause
	reply      chan reply
}

type reply struct {
	err       error
	result    *ResultSnapshot
	count     int
	forced    bool
	answers   []AnswerSnapshot
	remaining int
}

// StartParams wires a new session to its collaborators.
type StartParams struct {
	UserID   uint
	Config   Config
	Provider QuestionProvider
	Store    Store
	Listener Listener
	Logger   *zap.Logger
}

// Start runs the transient idle → generating hand-off and, on success,
// returns a session already in in_progress with the timer armed. It fails
// with AlreadyInProgressError when the store reports an open attempt for the
// user and with ErrGenerationFailed when the provider cannot supply the full
// configured distribution; in both cases nothing was created.
func Start(ctx context.Context, p StartParams) (*Session, error) {
	cfg := p.Config
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.AutosaveInterval <= 0 {
		cfg.AutosaveInterval = 10 * time.Second
	}
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	listener := p.Listener
	if listener == nil {
		listener = NopListener{}
	}

	if id, found, err := p.Store.FindInProgress(ctx, p.UserID); err != nil {
		return nil, err
	} else if found {
		return nil, &AlreadyInProgressError{AttemptID: id}
	}

	generated, err := p.Provider.Generate(ctx, cfg.Distribution)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if want := cfg.TotalQuestions(); len(generated) < want {
		return nil, fmt.Errorf("%w: provider returned %d of %d questions", ErrGenerationFailed, len(generated), want)
	}

	questions := make(map[uint]Question, len(generated))
	for _, q := range generated {
		questions[q.ID] = q
	}
	answers := newAnswerStore(questions)

	durationSec := int(cfg.Duration / time.Second)
	startedAt := time.Now()
	attemptID, err := p.Store.CreateAttempt(ctx, p.UserID, startedAt, durationSec, answers.snapshot())
	if err != nil {
		return nil, err
	}

	s := &Session{
		attemptID:      attemptID,
		userID:         p.UserID,
		cfg:            cfg,
		store:          p.Store,
		listener:       listener,
		log:            log.With(zap.Uint("attemptId", attemptID), zap.Uint("userId", p.UserID)),
		questions:      questions,
		answers:        answers,
		monitor:        newIntegrityMonitor(cfg.ViolationLimit),
		msgs:           make(chan *message, 16),
		stopBackground: make(chan struct{}),
		closed:         make(chan struct{}),
	}
	s.phase.Store(PhaseInProgress)
	s.remaining.Store(int64(durationSec))

	go s.run()
	go s.runTimer()
	go s.runAutosave()

	s.log.Info("exam session started",
		zap.Int("questions", len(questions)),
		zap.Int("durationSec", durationSec))
	listener.PhaseChanged(attemptID, PhaseInProgress)
	return s, nil
}

func (s *Session) AttemptID() uint { return s.attemptID }
func (s *Session) UserID() uint    { return s.userID }

func (s *Session) Phase() Phase {
	return s.phase.Load().(Phase)
}

// Remaining reports the countdown in whole seconds.
func (s *Session) Remaining() int {
	return int(s.remaining.Load())
}

// Questions returns the frozen question set.
func (s *Session) Questions() map[uint]Question { return s.questions }

// Select records the chosen option for a question; nil clears the selection.
func (s *Session) Select(questionID uint, choice *string) error {
	r := s.send(&message{kind: msgSelect, questionID: questionID, choice: choice})
	return r.err
}

func (s *Session) ToggleReview(questionID uint) error {
	r := s.send(&message{kind: msgReview, questionID: questionID})
	return r.err
}

// AccrueTime adds viewing time to the question currently on screen. Called
// once per heartbeat by the hosting layer.
func (s *Session) AccrueTime(questionID uint, seconds int) error {
	r := s.send(&message{kind: msgAccrue, questionID: questionID, seconds: seconds})
	return r.err
}

// Violation reports one focus-loss or visibility-loss signal. The returned
// flag is true when this violation crossed the limit and forced submission.
func (s *Session) Violation() (count int, forced bool, err error) {
	r := s.send(&message{kind: msgViolation})
	return r.count, r.forced, r.err
}

// Submit ends the session. It is idempotent: once the phase is submitting or
// terminal, further calls re-attempt only the durable finalize write (after a
// transient failure) or return the already-computed result.
func (s *Session) Submit(cause Cause) (*ResultSnapshot, error) {
	r := s.send(&message{kind: msgSubmit, cause: cause})
	return r.result, r.err
}

// Abandon discards the session without scoring and marks the attempt
// abandoned durably.
func (s *Session) Abandon() error {
	r := s.send(&message{kind: msgAbandon})
	return r.err
}

// Result returns the scored result once the session is finalized; nil before
// submission and for abandoned sessions.
func (s *Session) Result() (*ResultSnapshot, error) {
	r := s.send(&message{kind: msgResult})
	return r.result, r.err
}

// Snapshot returns an immutable copy of the answers plus remaining seconds.
func (s *Session) Snapshot() ([]AnswerSnapshot, int, error) {
	r := s.send(&message{kind: msgSnapshot})
	return r.answers, r.remaining, r.err
}

// Close releases the session goroutine. Further operations fail with
// ErrSessionClosed.
func (s *Session) Close() {
	s.send(&message{kind: msgClose})
}

func (s *Session) send(m *message) reply {
	m.reply = make(chan reply, 1)
	select {
	case s.msgs <- m:
	case <-s.closed:
		return reply{err: ErrSessionClosed}
	}
	select {
	case r := <-m.reply:
		return r
	case <-s.closed:
		return reply{err: ErrSessionClosed}
	}
}

func (s *Session) setPhase(p Phase) {
	s.phase.Store(p)
}

func (s *Session) run() {
	for m := range s.msgs {
		if s.handle(m) {
			return
		}
	}
}

func (s *Session) handle(m *message) (closeLoop bool) {
	switch m.kind {
	case msgSelect:
		if s.Phase() != PhaseInProgress {
			m.reply <- reply{err: ErrNotInProgress}
			return
		}
		s.answers.setSelection(m.questionID, m.choice)
		m.reply <- reply{}

	case msgReview:
		if s.Phase() != PhaseInProgress {
			m.reply <- reply{err: ErrNotInProgress}
			return
		}
		s.answers.toggleReview(m.questionID)
		m.reply <- reply{}

	case msgAccrue:
		if s.Phase() != PhaseInProgress {
			m.reply <- reply{err: ErrNotInProgress}
			return
		}
		s.answers.addTime(m.questionID, m.seconds)
		m.reply <- reply{}

	case msgTick:
		// Stale-timer guard: a tick queued before submission began must
		// never fire afterwards.
		if s.Phase() != PhaseInProgress {
			return
		}
		rem := s.remaining.Add(-1)
		s.listener.Tick(s.attemptID, int(rem))
		if rem <= 0 {
			if _, err := s.doSubmit(CauseAutoSubmitted); err != nil {
				s.log.Error("auto submit on expiry failed", zap.Error(err))
			}
		}

	case msgViolation:
		if s.Phase() != PhaseInProgress {
			m.reply <- reply{count: s.monitor.count}
			return
		}
		count, warning, force := s.monitor.record()
		// Persisted on the loop: the count write is ordered before any
		// later Finalize and can never land after the terminal row.
		if err := s.store.SaveViolations(context.Background(), s.attemptID, count); err != nil {
			s.log.Warn("violation count persist failed", zap.Error(err), zap.Int("count", count))
		}
		s.listener.Violation(s.attemptID, count, warning, force)
		m.reply <- reply{count: count, forced: force}
		if force {
			s.log.Warn("violation limit crossed, forcing submission", zap.Int("count", count))
			if _, err := s.doSubmit(CauseAutoSubmitted); err != nil {
				s.log.Error("forced submit failed", zap.Error(err))
			}
		}

	case msgSnapshot:
		m.reply <- reply{answers: s.answers.snapshot(), remaining: int(s.remaining.Load())}

	case msgResult:
		if s.finalized {
			m.reply <- reply{result: s.result}
		} else {
			m.reply <- reply{}
		}

	case msgSubmit:
		res, err := s.doSubmit(m.cause)
		m.reply <- reply{result: res, err: err}

	case msgAbandon:
		m.reply <- reply{err: s.doAbandon()}

	case msgClose:
		s.stopBackgroundTasks()
		close(s.closed)
		m.reply <- reply{}
		return true
	}
	return
}

// doSubmit runs on the session goroutine. The latch guarantees the side
// effects below — timer cancellation, final flush, the single scoring pass —
// run exactly once no matter how many triggers race for them.
func (s *Session) doSubmit(cause Cause) (*ResultSnapshot, error) {
	if s.Phase().Terminal() {
		return s.result, nil
	}
	if s.latch.CompareAndSwap(false, true) {
		s.cause = cause
		s.setPhase(PhaseSubmitting)
		s.listener.PhaseChanged(s.attemptID, PhaseSubmitting)
		s.stopBackgroundTasks()

		if err := s.store.MarkSubmitting(context.Background(), s.attemptID); err != nil {
			s.log.Warn("submitting status persist failed", zap.Error(err))
		}
		s.pending = s.answers.snapshot()
		if err := s.store.SaveAnswers(context.Background(), s.attemptID, int(s.remaining.Load()), s.pending); err != nil {
			// Final flush is best-effort: Finalize below is authoritative.
			s.log.Warn("final answer flush failed", zap.Error(err))
		}
	}
	return s.finalize()
}

// finalize scores the frozen snapshot (once) and performs the durable
// terminal writes. On failure the session stays in submitting with the latch
// held, so a retry re-attempts only what has not succeeded yet.
func (s *Session) finalize() (*ResultSnapshot, error) {
	if s.finalized {
		return s.result, nil
	}
	if s.result == nil {
		res, err := s.scoreGuarded(s.pending)
		if err != nil {
			s.log.Error("scoring pipeline failed", zap.Error(err))
			return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
		}
		s.result = res
	}

	ctx := context.Background()
	if err := s.store.SaveChapterAnalysis(ctx, s.attemptID, s.result.Chapters); err != nil {
		return nil, fmt.Errorf("%w: chapter analysis: %v", ErrSubmitFailed, err)
	}
	if err := s.store.Finalize(ctx, s.attemptID, s.cause, int(s.remaining.Load()), s.monitor.count, s.result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmitFailed, err)
	}
	s.finalized = true

	terminal := PhaseCompleted
	if s.cause == CauseAutoSubmitted {
		terminal = PhaseAutoSubmitted
	}
	s.setPhase(terminal)
	s.log.Info("exam session finalized",
		zap.String("cause", string(s.cause)),
		zap.Int("score", s.result.AggregateScore),
		zap.Int("maxScore", s.result.MaxScore))
	s.listener.PhaseChanged(s.attemptID, terminal)
	s.listener.Completed(s.attemptID, s.result)
	return s.result, nil
}

// scoreGuarded treats scoring and chapter analysis as a pure computation
// over the frozen snapshot; a panic becomes a retryable submission failure
// instead of a falsely terminal attempt.
func (s *Session) scoreGuarded(snap []AnswerSnapshot) (res *ResultSnapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("scoring panic: %v", r)
		}
	}()
	res = Score(s.cfg, s.questions, snap)
	res.Chapters = AnalyzeChapters(s.cfg, s.questions, snap)
	return res, nil
}

func (s *Session) doAbandon() error {
	ph := s.Phase()
	if ph.Terminal() {
		return nil
	}
	if ph != PhaseInProgress || !s.latch.CompareAndSwap(false, true) {
		return ErrNotInProgress
	}
	s.stopBackgroundTasks()
	s.setPhase(PhaseAbandoned)
	s.listener.PhaseChanged(s.attemptID, PhaseAbandoned)
	err := s.store.MarkAbandoned(context.Background(), s.attemptID)
	if err != nil {
		s.log.Error("mark abandoned failed", zap.Error(err))
	} else {
		s.log.Info("exam session abandoned")
	}
	return err
}

func (s *Session) stopBackgroundTasks() {
	s.stopOnce.Do(func() { close(s.stopBackground) })
}

// runTimer posts one tick per interval. Decrementing happens on the session
// goroutine so the countdown is serialized with every other mutation.
func (s *Session) runTimer() {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			select {
			case s.msgs <- &message{kind: msgTick}:
			case <-s.stopBackground:
				return
			}
		case <-s.stopBackground:
			return
		}
	}
}

// runAutosave flushes a snapshot to the store on a fixed interval. Failures
// are logged and swallowed; the next cycle retries. The snapshot request is
// serialized through the session goroutine, the durable write is not.
func (s *Session) runAutosave() {
	t := time.NewTicker(s.cfg.AutosaveInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m := &message{kind: msgSnapshot, reply: make(chan reply, 1)}
			select {
			case s.msgs <- m:
			case <-s.stopBackground:
				return
			}
			select {
			case r := <-m.reply:
				if err := s.store.SaveAnswers(context.Background(), s.attemptID, r.remaining, r.answers); err != nil {
					s.log.Warn("autosave failed", zap.Error(err))
				}
			case <-s.closed:
				// The loop shut down before answering; nothing left to save.
				return
			}
		case <-s.stopBackground:
			return
		}
	}
}
