package question

import "time"

type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

func (d Difficulty) Valid() bool {
	switch d {
	case Easy, Medium, Hard:
		return true
	}
	return false
}

// Question is one generated technical question. Rows are never updated.
type Question struct {
	ID         string     `gorm:"primaryKey;size:26" json:"id"`
	JobInfoID  string     `gorm:"size:26;index:idx_questions_job_created,priority:1;not null" json:"jobInfoId"`
	Difficulty Difficulty `gorm:"type:varchar(8);not null" json:"difficulty"`
	Text       string     `gorm:"type:text;not null" json:"text"`
	CreatedAt  time.Time  `gorm:"index:idx_questions_job_created,priority:2" json:"createdAt"`
}

func (Question) TableName() string { return "questions" }
