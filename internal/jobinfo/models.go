package jobinfo

import "time"

type ExperienceLevel string

const (
	Junior   ExperienceLevel = "junior"
	MidLevel ExperienceLevel = "mid-level"
	Senior   ExperienceLevel = "senior"
)

// JobInfo is the job profile a candidate practises for. It owns the
// interviews and questions generated for it.
type JobInfo struct {
	ID              string          `gorm:"primaryKey;size:26" json:"id"`
	UserID          string          `gorm:"type:varchar(64);index;not null" json:"userId"`
	Name            string          `gorm:"type:varchar(255);not null" json:"name"`
	Title           string          `gorm:"type:varchar(255)" json:"title"`
	Description     string          `gorm:"type:text;not null" json:"description"`
	ExperienceLevel ExperienceLevel `gorm:"type:varchar(16);not null" json:"experienceLevel"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (JobInfo) TableName() string { return "job_infos" }

// DisplayTitle is the title shown to the interviewer agent.
func (j JobInfo) DisplayTitle() string {
	if j.Title == "" {
		return "Not Specified"
	}
	return j.Title
}
