package service

import (
	"context"
	"encoding/json"
	"fmt"
	"mockexam_backend/internal/config"
	"mockexam_backend/internal/exam"
	"mockexam_backend/internal/model"
	"mockexam_backend/internal/repository"
	"mockexam_backend/internal/util"
	"mockexam_backend/pkg/logger"
	"mockexam_backend/pkg/monitoring"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExamService owns the live sessions: one engine session per user, created by
// Start, retired when the session reaches a terminal phase. Everything
// durable goes through the attemptStore adapter; this layer only adds the
// registry, the event fan-out and the read-side views.
type ExamService struct {
	Config       *config.Config
	AttemptRepo  *repository.AttemptRepository
	QuestionRepo *repository.QuestionRepository
	Users        UserDirectory
	Hub          *ExamHub
	Archive      *ArchiveService

	store    exam.Store
	provider exam.QuestionProvider

	mu       sync.Mutex
	sessions map[uint]*exam.Session
	// starting reserves users whose Start is still in flight, so two
	// concurrent Starts cannot both pass the open-attempt lookup.
	starting map[uint]struct{}
}

// UserDirectory is the read side of the user table the service needs.
type UserDirectory interface {
	FindByID(id uint) (*model.User, error)
}

func NewExamService(cfg *config.Config, attemptRepo *repository.AttemptRepository, questionRepo *repository.QuestionRepository, users UserDirectory, questionSvc *QuestionService, hub *ExamHub, archive *ArchiveService) *ExamService {
	return &ExamService{
		Config:       cfg,
		AttemptRepo:  attemptRepo,
		QuestionRepo: questionRepo,
		Users:        users,
		Hub:          hub,
		Archive:      archive,
		store:        newAttemptStore(attemptRepo),
		provider:     questionSvc,
		sessions:     make(map[uint]*exam.Session),
		starting:     make(map[uint]struct{}),
	}
}

func (s *ExamService) engineConfig() exam.Config {
	e := s.Config.Exam
	dist := make([]exam.SubjectCount, 0, len(e.Subjects))
	for _, subject := range e.Subjects {
		dist = append(dist, exam.SubjectCount{Subject: exam.Subject(subject), Count: e.QuestionsPerSubject})
	}
	return exam.Config{
		Duration:          e.Duration(),
		TickInterval:      time.Second,
		AutosaveInterval:  e.AutosaveInterval(),
		Distribution:      dist,
		MarksCorrect:      e.MarksCorrect,
		MarksIncorrect:    e.MarksIncorrect,
		StrongThreshold:   e.StrongThreshold,
		ModerateThreshold: e.ModerateThreshold,
		ViolationLimit:    e.ViolationLimit,
	}
}

// QuestionView is a question as the examinee sees it: no correct option.
type QuestionView struct {
	ID          uint              `json:"id"`
	Subject     string            `json:"subject"`
	ChapterID   uint              `json:"chapterId"`
	ChapterName string            `json:"chapterName"`
	Text        string            `json:"text"`
	Options     map[string]string `json:"options"`
	Difficulty  string            `json:"difficulty"`
	Concept     string            `json:"concept"`
}

type AnswerView struct {
	QuestionID      uint    `json:"questionId"`
	Selected        *string `json:"selected"`
	MarkedForReview bool    `json:"markedForReview"`
	TimeSpentSec    int     `json:"timeSpentSec"`
}

type ActiveExamView struct {
	AttemptID    uint           `json:"attemptId"`
	Phase        string         `json:"phase"`
	DurationSec  int            `json:"durationSec"`
	RemainingSec int            `json:"remainingSec"`
	Questions    []QuestionView `json:"questions"`
	Answers      []AnswerView   `json:"answers"`
}

type AttemptResultView struct {
	AttemptID      uint                   `json:"attemptId"`
	Status         model.AttemptStatus    `json:"status"`
	StartedAt      time.Time              `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
	ViolationCount int                    `json:"violationCount"`
	AggregateScore int                    `json:"aggregateScore"`
	MaxScore       int                    `json:"maxScore"`
	Percentile     float64                `json:"percentile"`
	Subjects       []exam.SubjectStat     `json:"perSubjectStats"`
	Chapters       []exam.ChapterAnalysis `json:"chapterAnalysis"`
	Answers        []AnswerReviewView     `json:"answers"`
}

// AnswerReviewView is the post-exam per-question review: unlike the live
// AnswerView it exposes the correct option.
type AnswerReviewView struct {
	QuestionID      uint    `json:"questionId"`
	Subject         string  `json:"subject"`
	ChapterID       uint    `json:"chapterId"`
	Text            string  `json:"text"`
	Selected        *string `json:"selected"`
	Correct         string  `json:"correct"`
	IsCorrect       bool    `json:"isCorrect"`
	MarkedForReview bool    `json:"markedForReview"`
	TimeSpentSec    int     `json:"timeSpentSec"`
}

type ViolationOutcome struct {
	Count   int    `json:"count"`
	Warning string `json:"warning,omitempty"`
	Forced  bool   `json:"forced"`
}

// Start creates a new attempt for the user. At most one session per user may
// be live; a second Start reports the open attempt instead of creating one.
// The reservation below covers the whole generate-and-create window, so the
// invariant holds even for concurrent requests from the same user.
func (s *ExamService) Start(ctx context.Context, userID uint) (*ActiveExamView, error) {
	user, err := s.Users.FindByID(userID)
	if err != nil {
		return nil, util.ErrUserNotFound
	}
	if user.Disabled {
		return nil, util.ErrPermissionDenied
	}

	s.mu.Lock()
	if sess, ok := s.sessions[userID]; ok && !sess.Phase().Terminal() {
		s.mu.Unlock()
		return nil, &exam.AlreadyInProgressError{AttemptID: sess.AttemptID()}
	}
	if _, ok := s.starting[userID]; ok {
		s.mu.Unlock()
		return nil, &exam.AlreadyInProgressError{}
	}
	s.starting[userID] = struct{}{}
	s.mu.Unlock()

	sess, err := exam.Start(ctx, exam.StartParams{
		UserID:   userID,
		Config:   s.engineConfig(),
		Provider: s.provider,
		Store:    s.store,
		Listener: &sessionListener{svc: s, userID: userID},
		Logger:   logger.Log,
	})

	s.mu.Lock()
	delete(s.starting, userID)
	if err == nil {
		s.sessions[userID] = sess
	}
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	monitoring.ActiveExamSessions.Inc()

	return s.activeView(sess)
}

func (s *ExamService) sessionFor(userID uint) (*exam.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, util.ErrNoActiveSession
	}
	return sess, nil
}

// Active returns the full restorable view of the user's live session. Clients
// reconnecting after a refresh rebuild their state from this.
func (s *ExamService) Active(userID uint) (*ActiveExamView, error) {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return nil, err
	}
	return s.activeView(sess)
}

func (s *ExamService) activeView(sess *exam.Session) (*ActiveExamView, error) {
	snap, remaining, err := sess.Snapshot()
	if err != nil {
		return nil, err
	}

	questions := make([]QuestionView, 0, len(sess.Questions()))
	for _, q := range sess.Questions() {
		questions = append(questions, QuestionView{
			ID:          q.ID,
			Subject:     string(q.Subject),
			ChapterID:   q.ChapterID,
			ChapterName: q.ChapterName,
			Text:        q.Text,
			Options:     q.Options,
			Difficulty:  q.Difficulty,
			Concept:     q.Concept,
		})
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].ID < questions[j].ID })

	answers := make([]AnswerView, 0, len(snap))
	for _, a := range snap {
		answers = append(answers, AnswerView{
			QuestionID:      a.QuestionID,
			Selected:        a.Selected,
			MarkedForReview: a.MarkedForReview,
			TimeSpentSec:    a.TimeSpentSec,
		})
	}

	return &ActiveExamView{
		AttemptID:    sess.AttemptID(),
		Phase:        string(sess.Phase()),
		DurationSec:  s.Config.Exam.DurationSeconds,
		RemainingSec: remaining,
		Questions:    questions,
		Answers:      answers,
	}, nil
}

func (s *ExamService) Answer(userID, questionID uint, selected *string) error {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return err
	}
	return sess.Select(questionID, selected)
}

func (s *ExamService) ToggleReview(userID, questionID uint) error {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return err
	}
	return sess.ToggleReview(questionID)
}

func (s *ExamService) AccrueTime(userID, questionID uint, seconds int) error {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return err
	}
	return sess.AccrueTime(questionID, seconds)
}

func (s *ExamService) ReportViolation(userID uint) (*ViolationOutcome, error) {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return nil, err
	}
	count, forced, err := sess.Violation()
	if err != nil {
		return nil, err
	}
	out := &ViolationOutcome{Count: count, Forced: forced}
	if !forced && count < s.Config.Exam.ViolationLimit {
		out.Warning = fmt.Sprintf("warning %d", count)
	}
	return out, nil
}

func (s *ExamService) Submit(userID uint) (*exam.ResultSnapshot, error) {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return nil, err
	}
	return sess.Submit(exam.CauseCompleted)
}

func (s *ExamService) Abandon(userID uint) error {
	sess, err := s.sessionFor(userID)
	if err != nil {
		return err
	}
	return sess.Abandon()
}

// Result serves a finalized attempt from the database. The live registry is
// irrelevant here: results survive restarts.
func (s *ExamService) Result(userID, attemptID uint, isAdmin bool) (*AttemptResultView, error) {
	attempt, err := s.AttemptRepo.FindByID(attemptID)
	if err != nil {
		return nil, util.ErrAttemptNotFound
	}
	if attempt.UserID != userID && !isAdmin {
		return nil, util.ErrPermissionDenied
	}
	if attempt.Status != model.AttemptCompleted && attempt.Status != model.AttemptAutoSubmitted {
		return nil, util.ErrAttemptNotScored
	}

	var subjects []exam.SubjectStat
	if len(attempt.SubjectStats) > 0 {
		if err := json.Unmarshal(attempt.SubjectStats, &subjects); err != nil {
			logger.Log.Error("Corrupt subject stats", zap.Error(err), zap.Uint("attemptId", attemptID))
		}
	}

	answerRows, err := s.AttemptRepo.GetAnswers(attemptID)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(answerRows))
	for _, a := range answerRows {
		ids = append(ids, a.QuestionID)
	}
	questions, err := s.QuestionRepo.FindByIDs(ids)
	if err != nil {
		return nil, err
	}

	rows, err := s.AttemptRepo.GetChapterAnalysis(attemptID)
	if err != nil {
		return nil, err
	}
	chapters := make([]exam.ChapterAnalysis, 0, len(rows))
	for _, r := range rows {
		chapters = append(chapters, exam.ChapterAnalysis{
			ChapterID:   r.ChapterID,
			ChapterName: r.ChapterName,
			Subject:     exam.Subject(r.Subject),
			Total:       r.Total,
			Correct:     r.Correct,
			Incorrect:   r.Incorrect,
			Unattempted: r.Unattempted,
			Accuracy:    r.Accuracy,
			AvgTimeSec:  r.AvgTimeSec,
			Strength:    r.Strength,
		})
	}

	return &AttemptResultView{
		AttemptID:      attempt.ID,
		Status:         attempt.Status,
		StartedAt:      attempt.StartedAt,
		CompletedAt:    attempt.CompletedAt,
		ViolationCount: attempt.ViolationCount,
		AggregateScore: attempt.Score,
		MaxScore:       attempt.MaxScore,
		Percentile:     attempt.Percentile,
		Subjects:       subjects,
		Chapters:       chapters,
		Answers:        buildAnswerReviews(answerRows, questions),
	}, nil
}

func buildAnswerReviews(answers []model.ExamAttemptAnswer, questions []model.Question) []AnswerReviewView {
	byID := make(map[uint]*model.Question, len(questions))
	for i := range questions {
		byID[questions[i].ID] = &questions[i]
	}
	out := make([]AnswerReviewView, 0, len(answers))
	for _, a := range answers {
		v := AnswerReviewView{
			QuestionID:      a.QuestionID,
			Selected:        a.SelectedOption,
			Correct:         a.CorrectOption,
			IsCorrect:       a.SelectedOption != nil && *a.SelectedOption == a.CorrectOption,
			MarkedForReview: a.MarkedForReview,
			TimeSpentSec:    a.TimeSpentSec,
		}
		// Questions deleted from the bank since the attempt keep their
		// snapshot fields only.
		if q, ok := byID[a.QuestionID]; ok {
			v.Subject = q.Subject
			v.ChapterID = q.ChapterID
			v.Text = q.Text
		}
		out = append(out, v)
	}
	return out
}

func (s *ExamService) PastAttempts(userID uint, limit int) ([]model.ExamAttempt, error) {
	statuses := []model.AttemptStatus{
		model.AttemptCompleted,
		model.AttemptAutoSubmitted,
		model.AttemptAbandoned,
	}
	return s.AttemptRepo.ListByUser(userID, statuses, limit)
}

// Shutdown closes every live session. In-memory state is lost by design; the
// last autosave plus the in_progress row let the attempt be reconciled later.
func (s *ExamService) Shutdown() {
	s.mu.Lock()
	sessions := make([]*exam.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[uint]*exam.Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	logger.Log.Info("Exam sessions closed", zap.Int("count", len(sessions)))
}

func (s *ExamService) retire(userID uint, sess *exam.Session) {
	s.mu.Lock()
	if cur, ok := s.sessions[userID]; ok && cur == sess {
		delete(s.sessions, userID)
	}
	s.mu.Unlock()
	monitoring.ActiveExamSessions.Dec()
	sess.Close()
}

// sessionListener fans engine events out to the websocket hub and the
// Prometheus metrics. Callbacks run on the session goroutine; anything that
// could take a lock held around engine calls is deferred to a goroutine.
type sessionListener struct {
	svc    *ExamService
	userID uint
}

func (l *sessionListener) PhaseChanged(attemptID uint, phase exam.Phase) {
	l.svc.Hub.PushToUser(l.userID, WSMessage{
		Type: "PHASE",
		Data: map[string]interface{}{"attemptId": attemptID, "phase": phase},
	})

	if phase.Terminal() {
		if phase == exam.PhaseCompleted || phase == exam.PhaseAutoSubmitted {
			monitoring.ExamSubmissions.WithLabelValues(string(phase)).Inc()
		}
		s := l.svc
		go func() {
			if sess, err := s.sessionFor(l.userID); err == nil && sess.AttemptID() == attemptID {
				s.retire(l.userID, sess)
			}
		}()
	}
}

func (l *sessionListener) Tick(attemptID uint, remainingSec int) {
	l.svc.Hub.PushToUser(l.userID, WSMessage{
		Type: "TICK",
		Data: map[string]interface{}{"attemptId": attemptID, "remainingSec": remainingSec},
	})
}

func (l *sessionListener) Violation(attemptID uint, count int, warning string, forced bool) {
	monitoring.IntegrityViolations.Inc()
	l.svc.Hub.PushToUser(l.userID, WSMessage{
		Type: "VIOLATION",
		Data: map[string]interface{}{
			"attemptId": attemptID,
			"count":     count,
			"warning":   warning,
			"forced":    forced,
		},
	})
}

func (l *sessionListener) Completed(attemptID uint, res *exam.ResultSnapshot) {
	l.svc.Hub.PushToUser(l.userID, WSMessage{
		Type: "RESULT",
		Data: map[string]interface{}{"attemptId": attemptID, "result": res},
	})
	if l.svc.Archive.Enabled() {
		go l.svc.Archive.ArchiveResult(attemptID, l.userID, res)
	}
}
