package interview

import (
	"regexp"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
)

// InitialDuration is the duration of an interview whose call never reported one.
const InitialDuration = "00:00:00"

type Interview struct {
	ID         string           `gorm:"primaryKey;size:26" json:"id"`
	JobInfoID  string           `gorm:"size:26;index;not null" json:"jobInfoId"`
	JobInfo    *jobinfo.JobInfo `gorm:"foreignKey:JobInfoID" json:"-"`
	HumeChatID *string          `gorm:"type:varchar(64)" json:"humeChatId"`
	Duration   string           `gorm:"type:varchar(16);not null;default:'00:00:00'" json:"duration"`
	Feedback   *string          `gorm:"type:text" json:"feedback"`
	CreatedAt  time.Time        `json:"createdAt"`
	UpdatedAt  time.Time        `gorm:"index" json:"updatedAt"`
}

func (Interview) TableName() string { return "interviews" }

// UpdateInterviewInput carries the optional fields of an update. Nil
// fields are left alone.
type UpdateInterviewInput struct {
	HumeChatID *string `json:"humeChatId,omitempty"`
	Duration   *string `json:"duration,omitempty"`
}

var durationPattern = regexp.MustCompile(`^\d{2,}:[0-5]\d:[0-5]\d$`)

// ValidDuration reports whether d is an HH:MM:SS call duration.
func ValidDuration(d string) bool {
	return durationPattern.MatchString(d)
}

// durationBefore compares two valid durations.
func durationBefore(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
