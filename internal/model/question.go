package model

// Question is read-only to this service: the bank is populated by the
// external question pipeline. Correct options never leave the backend.
//
// swagger:model Question
type Question struct {
	BaseModel
	Subject       string `gorm:"size:20;index;not null" json:"subject"`
	ChapterID     uint   `gorm:"index;type:bigint unsigned" json:"chapterId"`
	ChapterName   string `gorm:"size:120" json:"chapterName"`
	Text          string `gorm:"type:text;not null" json:"text"`
	OptionA       string `gorm:"type:text" json:"optionA"`
	OptionB       string `gorm:"type:text" json:"optionB"`
	OptionC       string `gorm:"type:text" json:"optionC"`
	OptionD       string `gorm:"type:text" json:"optionD"`
	CorrectOption string `gorm:"size:1;not null" json:"-"`
	Difficulty    string `gorm:"size:20" json:"difficulty"`
	Concept       string `gorm:"size:120" json:"concept"`
}

func (Question) TableName() string {
	return "questions"
}
