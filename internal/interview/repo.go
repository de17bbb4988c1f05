package interview

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/common"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Insert assigns an id when missing and stores iv.
func (r *Repo) Insert(ctx context.Context, iv *Interview) error {
	if iv.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		iv.ID = id
	}
	if iv.Duration == "" {
		iv.Duration = InitialDuration
	}
	return r.db.WithContext(ctx).Omit("JobInfo").Create(iv).Error
}

// Get loads an interview together with its job info.
func (r *Repo) Get(ctx context.Context, id string) (*Interview, error) {
	var iv Interview
	if err := r.db.WithContext(ctx).Preload("JobInfo").First(&iv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &iv, nil
}

// LinkChatID stores chatID unless a different chat id is already stored.
// It reports whether the stored value now equals chatID.
func (r *Repo) LinkChatID(ctx context.Context, id, chatID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Interview{}).
		Where("id = ? AND hume_chat_id IS NULL", id).
		Update("hume_chat_id", chatID)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	var n int64
	err := r.db.WithContext(ctx).
		Model(&Interview{}).
		Where("id = ? AND hume_chat_id = ?", id, chatID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ErrDurationContended is returned when other writers kept moving the
// stored duration under every compare-and-set attempt.
var ErrDurationContended = errors.New("interview: duration changed concurrently")

const durationCASAttempts = 5

// UpdateDuration raises the stored duration to d. A lower value is not
// applied; equal values rewrite the same bytes.
func (r *Repo) UpdateDuration(ctx context.Context, id, d string) error {
	for i := 0; i < durationCASAttempts; i++ {
		var iv Interview
		if err := r.db.WithContext(ctx).Select("id", "duration").First(&iv, "id = ?", id).Error; err != nil {
			return err
		}
		if durationBefore(d, iv.Duration) {
			return nil
		}
		res := r.db.WithContext(ctx).
			Model(&Interview{}).
			Where("id = ? AND duration = ?", id, iv.Duration).
			Update("duration", d)
		if res.Error != nil {
			return res.Error
		}
		// equal values count as applied even where the driver reports
		// zero changed rows
		if res.RowsAffected > 0 || iv.Duration == d {
			return nil
		}
	}
	return ErrDurationContended
}

// SetFeedback stores feedback unless the interview already has some. It
// reports whether this call wrote it.
func (r *Repo) SetFeedback(ctx context.Context, id, feedback string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&Interview{}).
		Where("id = ? AND feedback IS NULL", id).
		Update("feedback", feedback)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListLinked returns the job's interviews that got a chat id, most
// recently updated first.
func (r *Repo) ListLinked(ctx context.Context, jobInfoID string) ([]Interview, error) {
	var out []Interview
	if err := r.db.WithContext(ctx).
		Where("job_info_id = ? AND hume_chat_id IS NOT NULL", jobInfoID).
		Order("updated_at DESC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountStaleUnlinked counts interviews created before cutoff that never
// got a chat id.
func (r *Repo) CountStaleUnlinked(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&Interview{}).
		Where("hume_chat_id IS NULL AND created_at < ?", cutoff).
		Count(&n).Error
	return n, err
}
