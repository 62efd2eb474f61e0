package repository

import (
	"mockexam_backend/internal/model"

	"gorm.io/gorm"
)

type QuestionRepository struct {
	DB *gorm.DB
}

func NewQuestionRepository(db *gorm.DB) *QuestionRepository {
	return &QuestionRepository{DB: db}
}

// RandomBySubject draws n random questions for one subject.
func (r *QuestionRepository) RandomBySubject(subject string, n int) ([]model.Question, error) {
	var questions []model.Question
	err := r.DB.Where("subject = ?", subject).Order("RAND()").Limit(n).Find(&questions).Error
	return questions, err
}

func (r *QuestionRepository) FindByIDs(ids []uint) ([]model.Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var questions []model.Question
	err := r.DB.Where("id IN ?", ids).Find(&questions).Error
	return questions, err
}

func (r *QuestionRepository) CountBySubject(subject string) (int64, error) {
	var count int64
	err := r.DB.Model(&model.Question{}).Where("subject = ?", subject).Count(&count).Error
	return count, err
}
