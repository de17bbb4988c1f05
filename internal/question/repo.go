package question

import (
	"context"

	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/common"
	"gorm.io/gorm"
)

type Repo struct {
	db    *gorm.DB
	cache *cache.Store
}

func NewRepo(db *gorm.DB, c *cache.Store) *Repo {
	return &Repo{db: db, cache: c}
}

func (r *Repo) Insert(ctx context.Context, q *Question) error {
	if q.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		q.ID = id
	}
	if err := r.db.WithContext(ctx).Create(q).Error; err != nil {
		return err
	}
	r.cache.Forget(ctx, GlobalTag(), JobInfoTag(q.JobInfoID), IDTag(q.ID))
	return nil
}

// ListByJobInfo returns the job's questions oldest first.
func (r *Repo) ListByJobInfo(ctx context.Context, jobInfoID string) ([]Question, error) {
	return cache.Fetch(ctx, r.cache, resource+":jobInfo:"+jobInfoID, []string{JobInfoTag(jobInfoID)}, func(ctx context.Context) ([]Question, error) {
		var out []Question
		if err := r.db.WithContext(ctx).
			Where("job_info_id = ?", jobInfoID).
			Order("created_at ASC, id ASC").
			Find(&out).Error; err != nil {
			return nil, err
		}
		return out, nil
	})
}

// Latest returns the job's newest question.
func (r *Repo) Latest(ctx context.Context, jobInfoID string) (*Question, error) {
	var q Question
	if err := r.db.WithContext(ctx).
		Where("job_info_id = ?", jobInfoID).
		Order("created_at DESC, id DESC").
		First(&q).Error; err != nil {
		return nil, err
	}
	return &q, nil
}
