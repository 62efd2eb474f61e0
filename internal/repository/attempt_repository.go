package repository

import (
	"errors"
	"fmt"
	"mockexam_backend/internal/model"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AttemptRepository struct {
	DB *gorm.DB
}

func NewAttemptRepository(db *gorm.DB) *AttemptRepository {
	return &AttemptRepository{DB: db}
}

// ActiveAttemptError reports that an insert would give the user a second
// open attempt.
type ActiveAttemptError struct {
	AttemptID uint
}

func (e *ActiveAttemptError) Error() string {
	return fmt.Sprintf("user already has attempt %d open", e.AttemptID)
}

// CreateWithAnswers creates the attempt and its full answer set in one
// transaction, so a session never starts with a partially materialized
// answer sheet. The open-attempt check is re-run inside the transaction
// under a row lock, keeping one-open-attempt-per-user true even when two
// Starts race past the initial lookup.
func (r *AttemptRepository) CreateWithAnswers(attempt *model.ExamAttempt, answers []model.ExamAttemptAnswer) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		var open model.ExamAttempt
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ? AND status IN ?", attempt.UserID, openStatuses()).
			First(&open).Error
		if err == nil {
			return &ActiveAttemptError{AttemptID: open.ID}
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := tx.Create(attempt).Error; err != nil {
			return err
		}
		for i := range answers {
			answers[i].AttemptID = attempt.ID
		}
		if len(answers) == 0 {
			return nil
		}
		return tx.Create(&answers).Error
	})
}

func (r *AttemptRepository) FindByID(id uint) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	if err := r.DB.First(&a, id).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// openStatuses are the states that block a new attempt: a live session, or
// one whose terminal writes have not completed yet.
func openStatuses() []model.AttemptStatus {
	return []model.AttemptStatus{model.AttemptInProgress, model.AttemptSubmitting}
}

func (r *AttemptRepository) FindInProgressByUser(userID uint) (*model.ExamAttempt, error) {
	var a model.ExamAttempt
	err := r.DB.Where("user_id = ? AND status IN ?", userID, openStatuses()).First(&a).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AttemptRepository) ListByUser(userID uint, statuses []model.AttemptStatus, limit int) ([]model.ExamAttempt, error) {
	q := r.DB.Where("user_id = ?", userID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var attempts []model.ExamAttempt
	err := q.Order("created_at DESC").Find(&attempts).Error
	return attempts, err
}

// UpsertAnswers writes one row per (attempt, question); autosave and the
// final flush both go through here, the later write winning.
func (r *AttemptRepository) UpsertAnswers(answers []model.ExamAttemptAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	return r.DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "attempt_id"}, {Name: "question_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"selected_option", "marked_for_review", "time_spent_sec", "updated_at",
		}),
	}).Create(&answers).Error
}

func (r *AttemptRepository) GetAnswers(attemptID uint) ([]model.ExamAttemptAnswer, error) {
	var answers []model.ExamAttemptAnswer
	err := r.DB.Where("attempt_id = ?", attemptID).Order("question_id").Find(&answers).Error
	return answers, err
}

func (r *AttemptRepository) UpdateTimeRemaining(attemptID uint, remainingSec int) error {
	return r.DB.Model(&model.ExamAttempt{}).Where("id = ?", attemptID).
		Update("time_remaining_sec", remainingSec).Error
}

// UpdateViolationCount only touches live rows; once the attempt left
// in_progress the terminal write owns the column.
func (r *AttemptRepository) UpdateViolationCount(attemptID uint, count int) error {
	return r.DB.Model(&model.ExamAttempt{}).
		Where("id = ? AND status = ?", attemptID, model.AttemptInProgress).
		Update("violation_count", count).Error
}

// MarkSubmitting pins the status while the terminal writes are in flight, so
// an attempt stuck mid-submission is visible as such.
func (r *AttemptRepository) MarkSubmitting(attemptID uint) error {
	return r.DB.Model(&model.ExamAttempt{}).
		Where("id = ? AND status = ?", attemptID, model.AttemptInProgress).
		Update("status", model.AttemptSubmitting).Error
}

// Finalize is the authoritative terminal write for an attempt.
func (r *AttemptRepository) Finalize(attemptID uint, status model.AttemptStatus, remainingSec, violations, score, maxScore int, percentile float64, subjectStats []byte) error {
	now := time.Now()
	return r.DB.Model(&model.ExamAttempt{}).Where("id = ?", attemptID).Updates(map[string]interface{}{
		"status":             status,
		"time_remaining_sec": remainingSec,
		"violation_count":    violations,
		"score":              score,
		"max_score":          maxScore,
		"percentile":         percentile,
		"subject_stats":      subjectStats,
		"completed_at":       &now,
	}).Error
}

func (r *AttemptRepository) MarkAbandoned(attemptID uint) error {
	now := time.Now()
	return r.DB.Model(&model.ExamAttempt{}).Where("id = ?", attemptID).Updates(map[string]interface{}{
		"status":       model.AttemptAbandoned,
		"completed_at": &now,
	}).Error
}

// ReplaceChapterAnalysis deletes and re-inserts so a finalize retry never
// duplicates rows.
func (r *AttemptRepository) ReplaceChapterAnalysis(attemptID uint, rows []model.AttemptChapterAnalysis) error {
	return r.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("attempt_id = ?", attemptID).
			Delete(&model.AttemptChapterAnalysis{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.Create(&rows).Error
	})
}

func (r *AttemptRepository) GetChapterAnalysis(attemptID uint) ([]model.AttemptChapterAnalysis, error) {
	var rows []model.AttemptChapterAnalysis
	err := r.DB.Where("attempt_id = ?", attemptID).Order("chapter_id").Find(&rows).Error
	return rows, err
}
