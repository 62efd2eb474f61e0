package model

import (
	"encoding/json"
	"time"
)

type AttemptStatus string

const (
	AttemptInProgress    AttemptStatus = "in_progress"
	AttemptSubmitting    AttemptStatus = "submitting"
	AttemptCompleted     AttemptStatus = "completed"
	AttemptAutoSubmitted AttemptStatus = "auto_submitted"
	AttemptAbandoned     AttemptStatus = "abandoned"
)

// swagger:model ExamAttempt
type ExamAttempt struct {
	BaseModel
	UserID           uint          `gorm:"index;type:bigint unsigned;not null" json:"userId"`
	Status           AttemptStatus `gorm:"size:20;index;default:'in_progress'" json:"status"`
	ViolationCount   int           `gorm:"default:0" json:"violationCount"`
	TimeRemainingSec int           `json:"timeRemainingSec"`
	DurationSec      int           `json:"durationSec"`
	StartedAt        time.Time     `json:"startedAt"`
	CompletedAt      *time.Time    `json:"completedAt,omitempty"`

	// Populated only after scoring.
	Score        int             `json:"score"`
	MaxScore     int             `json:"maxScore"`
	Percentile   float64         `json:"percentile"`
	SubjectStats json.RawMessage `gorm:"type:json" json:"subjectStats,omitempty"`
}

func (ExamAttempt) TableName() string {
	return "exam_attempts"
}
