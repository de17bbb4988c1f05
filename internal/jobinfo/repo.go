package jobinfo

import (
	"context"

	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/common"
	"gorm.io/gorm"
)

const resource = "jobInfos"

func GlobalTag() string            { return cache.GlobalTag(resource) }
func UserTag(userID string) string { return cache.UserTag(resource, userID) }
func IDTag(id string) string       { return cache.IDTag(resource, id) }

type Repo struct {
	db    *gorm.DB
	cache *cache.Store
}

func NewRepo(db *gorm.DB, c *cache.Store) *Repo {
	return &Repo{db: db, cache: c}
}

func (r *Repo) Create(ctx context.Context, j *JobInfo) error {
	if j.ID == "" {
		id, err := common.NewULID()
		if err != nil {
			return err
		}
		j.ID = id
	}
	if err := r.db.WithContext(ctx).Create(j).Error; err != nil {
		return err
	}
	r.cache.Forget(ctx, GlobalTag(), UserTag(j.UserID), IDTag(j.ID))
	return nil
}

// GetOwned returns the job info only when userID owns it. A missing row
// and a foreign row both yield gorm.ErrRecordNotFound.
func (r *Repo) GetOwned(ctx context.Context, id, userID string) (*JobInfo, error) {
	j, err := cache.Fetch(ctx, r.cache, resource+":"+id, []string{IDTag(id)}, func(ctx context.Context) (*JobInfo, error) {
		var j JobInfo
		if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
			return nil, err
		}
		return &j, nil
	})
	if err != nil {
		return nil, err
	}
	if j == nil || j.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return j, nil
}
