package model

// ExamAttemptAnswer is one row per (attempt, question), created when the
// attempt starts and upserted by autosave; the final submission flush is
// authoritative and may overwrite it.
type ExamAttemptAnswer struct {
	BaseModel
	AttemptID       uint    `gorm:"uniqueIndex:idx_attempt_question;type:bigint unsigned;not null" json:"attemptId"`
	QuestionID      uint    `gorm:"uniqueIndex:idx_attempt_question;type:bigint unsigned;not null" json:"questionId"`
	SelectedOption  *string `gorm:"size:1" json:"selectedOption"`
	CorrectOption   string  `gorm:"size:1;not null" json:"-"`
	MarkedForReview bool    `gorm:"default:false" json:"markedForReview"`
	TimeSpentSec    int     `gorm:"default:0" json:"timeSpentSec"`
}

func (ExamAttemptAnswer) TableName() string {
	return "exam_attempt_answers"
}
