package service

import (
	"context"
	"encoding/json"
	"errors"
	"mockexam_backend/internal/exam"
	"mockexam_backend/internal/model"
	"mockexam_backend/internal/repository"
	"mockexam_backend/pkg/monitoring"
	"time"
)

// attemptStore adapts the GORM repositories to the engine's Store port. The
// engine never sees GORM models; everything crosses this boundary as
// snapshots.
type attemptStore struct {
	Attempts *repository.AttemptRepository
}

func newAttemptStore(attempts *repository.AttemptRepository) *attemptStore {
	return &attemptStore{Attempts: attempts}
}

func (s *attemptStore) FindInProgress(ctx context.Context, userID uint) (uint, bool, error) {
	a, err := s.Attempts.FindInProgressByUser(userID)
	if err != nil {
		return 0, false, err
	}
	if a == nil {
		return 0, false, nil
	}
	return a.ID, true, nil
}

func (s *attemptStore) CreateAttempt(ctx context.Context, userID uint, startedAt time.Time, durationSec int, answers []exam.AnswerSnapshot) (uint, error) {
	attempt := &model.ExamAttempt{
		UserID:           userID,
		Status:           model.AttemptInProgress,
		TimeRemainingSec: durationSec,
		DurationSec:      durationSec,
		StartedAt:        startedAt,
	}
	rows := make([]model.ExamAttemptAnswer, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, model.ExamAttemptAnswer{
			QuestionID:      a.QuestionID,
			SelectedOption:  a.Selected,
			CorrectOption:   a.Correct,
			MarkedForReview: a.MarkedForReview,
			TimeSpentSec:    a.TimeSpentSec,
		})
	}
	if err := s.Attempts.CreateWithAnswers(attempt, rows); err != nil {
		var open *repository.ActiveAttemptError
		if errors.As(err, &open) {
			return 0, &exam.AlreadyInProgressError{AttemptID: open.AttemptID}
		}
		return 0, err
	}
	return attempt.ID, nil
}

func (s *attemptStore) SaveAnswers(ctx context.Context, attemptID uint, remainingSec int, answers []exam.AnswerSnapshot) error {
	rows := make([]model.ExamAttemptAnswer, 0, len(answers))
	for _, a := range answers {
		rows = append(rows, model.ExamAttemptAnswer{
			AttemptID:       attemptID,
			QuestionID:      a.QuestionID,
			SelectedOption:  a.Selected,
			CorrectOption:   a.Correct,
			MarkedForReview: a.MarkedForReview,
			TimeSpentSec:    a.TimeSpentSec,
		})
	}
	if err := s.Attempts.UpsertAnswers(rows); err != nil {
		monitoring.AutosaveFailures.Inc()
		return err
	}
	if err := s.Attempts.UpdateTimeRemaining(attemptID, remainingSec); err != nil {
		monitoring.AutosaveFailures.Inc()
		return err
	}
	return nil
}

func (s *attemptStore) SaveViolations(ctx context.Context, attemptID uint, count int) error {
	return s.Attempts.UpdateViolationCount(attemptID, count)
}

func (s *attemptStore) MarkSubmitting(ctx context.Context, attemptID uint) error {
	return s.Attempts.MarkSubmitting(attemptID)
}

func (s *attemptStore) SaveChapterAnalysis(ctx context.Context, attemptID uint, rows []exam.ChapterAnalysis) error {
	out := make([]model.AttemptChapterAnalysis, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.AttemptChapterAnalysis{
			AttemptID:   attemptID,
			ChapterID:   r.ChapterID,
			ChapterName: r.ChapterName,
			Subject:     string(r.Subject),
			Total:       r.Total,
			Correct:     r.Correct,
			Incorrect:   r.Incorrect,
			Unattempted: r.Unattempted,
			Accuracy:    r.Accuracy,
			AvgTimeSec:  r.AvgTimeSec,
			Strength:    r.Strength,
		})
	}
	return s.Attempts.ReplaceChapterAnalysis(attemptID, out)
}

func (s *attemptStore) Finalize(ctx context.Context, attemptID uint, cause exam.Cause, remainingSec int, violations int, res *exam.ResultSnapshot) error {
	status := model.AttemptCompleted
	if cause == exam.CauseAutoSubmitted {
		status = model.AttemptAutoSubmitted
	}
	subjectStats, err := json.Marshal(res.Subjects)
	if err != nil {
		return err
	}
	return s.Attempts.Finalize(attemptID, status, remainingSec, violations,
		res.AggregateScore, res.MaxScore, res.Percentile, subjectStats)
}

func (s *attemptStore) MarkAbandoned(ctx context.Context, attemptID uint) error {
	return s.Attempts.MarkAbandoned(attemptID)
}
