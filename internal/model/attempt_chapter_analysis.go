package model

// AttemptChapterAnalysis 按章节统计一次考试的强弱项（评分完成后一次性写入）
type AttemptChapterAnalysis struct {
	BaseModel
	AttemptID   uint    `gorm:"index;type:bigint unsigned;not null" json:"attemptId"`
	ChapterID   uint    `gorm:"type:bigint unsigned" json:"chapterId"`
	ChapterName string  `gorm:"size:120" json:"chapterName"`
	Subject     string  `gorm:"size:20" json:"subject"`
	Total       int     `json:"total"`
	Correct     int     `json:"correct"`
	Incorrect   int     `json:"incorrect"`
	Unattempted int     `json:"unattempted"`
	Accuracy    float64 `json:"accuracy"`
	AvgTimeSec  float64 `json:"avgTimeSec"`
	Strength    string  `gorm:"size:10" json:"strength"`
}

func (AttemptChapterAnalysis) TableName() string {
	return "attempt_chapter_analyses"
}
