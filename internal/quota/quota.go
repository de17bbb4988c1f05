// Package quota decides whether a user may create more interviews or
// questions. Plans are out of scope here: the limit is a flat per-user cap.
package quota

import (
	"context"

	"gorm.io/gorm"
)

type Checker interface {
	CanCreateInterview(ctx context.Context, userID string) (bool, error)
	CanCreateQuestion(ctx context.Context, userID string) (bool, error)
}

// CapChecker counts the user's existing rows against fixed caps. A cap of
// zero or less means unlimited.
type CapChecker struct {
	db           *gorm.DB
	interviewCap int
	questionCap  int
}

func NewCapChecker(db *gorm.DB, interviewCap, questionCap int) *CapChecker {
	return &CapChecker{db: db, interviewCap: interviewCap, questionCap: questionCap}
}

func (c *CapChecker) CanCreateInterview(ctx context.Context, userID string) (bool, error) {
	return c.under(ctx, "interviews", userID, c.interviewCap)
}

func (c *CapChecker) CanCreateQuestion(ctx context.Context, userID string) (bool, error) {
	return c.under(ctx, "questions", userID, c.questionCap)
}

func (c *CapChecker) under(ctx context.Context, table, userID string, limit int) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	var n int64
	err := c.db.WithContext(ctx).
		Table(table).
		Joins("JOIN job_infos ON job_infos.id = "+table+".job_info_id").
		Where("job_infos.user_id = ?", userID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n < int64(limit), nil
}

// Unlimited allows everything.
type Unlimited struct{}

func (Unlimited) CanCreateInterview(context.Context, string) (bool, error) { return true, nil }
func (Unlimited) CanCreateQuestion(context.Context, string) (bool, error)  { return true, nil }
