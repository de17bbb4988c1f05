package interview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/ai-interview/internal/auth"
	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/ratelimit"
	"github.com/suPer8Hu/ai-interview/internal/retry"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&jobinfo.JobInfo{}, &Interview{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// failNext makes the next n writes of the given kind to interviews fail.
func failNext(t *testing.T, db *gorm.DB, kind string, n int32) *atomic.Int32 {
	t.Helper()
	var remaining, calls atomic.Int32
	remaining.Store(n)
	hook := func(tx *gorm.DB) {
		if tx.Statement.Table != "interviews" {
			return
		}
		calls.Add(1)
		if remaining.Add(-1) >= 0 {
			tx.AddError(errors.New("store unavailable"))
		}
	}
	var err error
	switch kind {
	case "create":
		err = db.Callback().Create().Before("gorm:create").Register("test:fail_create", hook)
	case "update":
		err = db.Callback().Update().Before("gorm:update").Register("test:fail_update", hook)
	}
	require.NoError(t, err)
	return &calls
}

type recordingCache struct {
	mu   sync.Mutex
	tags []string
}

func (c *recordingCache) Invalidate(_ context.Context, tags ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tags = append(c.tags, tags...)
	return nil
}

func (c *recordingCache) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.tags...)
}

type fixedQuota bool

func (q fixedQuota) CanCreateInterview(context.Context, string) (bool, error) { return bool(q), nil }
func (q fixedQuota) CanCreateQuestion(context.Context, string) (bool, error)  { return bool(q), nil }

type countingLimiter struct {
	allow bool
	calls atomic.Int32
}

func (l *countingLimiter) Allow(context.Context, string) (bool, error) {
	l.calls.Add(1)
	return l.allow, nil
}

type fakeTranscripts struct {
	text string
	err  error
}

func (f fakeTranscripts) Transcript(context.Context, string) (string, error) { return f.text, f.err }

type fakeFeedback struct {
	text  string
	err   error
	got   FeedbackRequest
	calls int
}

func (f *fakeFeedback) Feedback(_ context.Context, req FeedbackRequest) (string, error) {
	f.calls++
	f.got = req
	return f.text, f.err
}

type fixture struct {
	db      *gorm.DB
	repo    *Repo
	cache   *recordingCache
	actions *Actions
	job     *jobinfo.JobInfo
	owner   context.Context
	other   context.Context
}

func newFixture(t *testing.T, mutate func(*Deps)) *fixture {
	t.Helper()
	db := openTestDB(t)
	jobs := jobinfo.NewRepo(db, cache.New(nil, 0, nil))
	job := &jobinfo.JobInfo{UserID: "user_1", Name: "Platform", Description: "Run Go services", ExperienceLevel: jobinfo.MidLevel}
	require.NoError(t, jobs.Create(context.Background(), job))

	f := &fixture{
		db:    db,
		repo:  NewRepo(db),
		cache: &recordingCache{},
		job:   job,
		owner: auth.WithIdentity(context.Background(), auth.Identity{UserID: "user_1", Name: "Ada"}),
		other: auth.WithIdentity(context.Background(), auth.Identity{UserID: "user_2", Name: "Eve"}),
	}
	d := Deps{
		Repo:     f.repo,
		JobInfos: jobs,
		Cache:    f.cache,
		Retry:    retry.Policy{MaxAttempts: 3, Base: time.Millisecond},
	}
	if mutate != nil {
		mutate(&d)
	}
	f.actions = NewActions(d)
	return f
}

func (f *fixture) count(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&Interview{}).Count(&n).Error)
	return n
}

func (f *fixture) stored(t *testing.T, id string) *Interview {
	t.Helper()
	iv, err := f.repo.Get(context.Background(), id)
	require.NoError(t, err)
	return iv
}

func ptr(s string) *string { return &s }

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok, "expected ActionError, got %v", err)
	assert.Equal(t, want, kind)
}

func TestCreateInterview(t *testing.T) {
	f := newFixture(t, nil)

	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	iv := f.stored(t, id)
	assert.Equal(t, f.job.ID, iv.JobInfoID)
	assert.Equal(t, InitialDuration, iv.Duration)
	assert.Nil(t, iv.HumeChatID)
	assert.Contains(t, f.cache.all(), JobInfoTag(f.job.ID))
}

func TestCreateInterview_Unauthenticated(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.actions.CreateInterview(context.Background(), f.job.ID)
	assertKind(t, err, Unauthenticated)
	assert.Equal(t, MsgPermission, MessageOf(err))
}

func TestCreateInterview_NonOwnerForbiddenRegardlessOfQuotaAndRate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		quota bool
		allow bool
	}{
		{"all allowed", true, true},
		{"quota denied", false, true},
		{"rate denied", true, false},
		{"both denied", false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			lim := &countingLimiter{allow: tc.allow}
			f := newFixture(t, func(d *Deps) {
				d.Quota = fixedQuota(tc.quota)
				d.Limiter = lim
			})

			_, err := f.actions.CreateInterview(f.other, f.job.ID)
			assertKind(t, err, Forbidden)
			assert.Equal(t, int32(0), lim.calls.Load())
			assert.Zero(t, f.count(t))

			_, err = f.actions.CreateInterview(f.owner, "missing")
			assertKind(t, err, Forbidden)
		})
	}
}

func TestCreateInterview_QuotaExceeded(t *testing.T) {
	lim := &countingLimiter{allow: true}
	f := newFixture(t, func(d *Deps) {
		d.Quota = fixedQuota(false)
		d.Limiter = lim
	})

	_, err := f.actions.CreateInterview(f.owner, f.job.ID)
	assertKind(t, err, QuotaExceeded)
	assert.Equal(t, MsgPlanLimit, MessageOf(err))
	assert.Equal(t, int32(0), lim.calls.Load())
}

func TestCreateInterview_ThirteenthCallRateLimited(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Limiter = ratelimit.NewLocalLimiter(ratelimit.InterviewBucket())
	})
	inserts := failNext(t, f.db, "create", 0)

	for i := 0; i < 12; i++ {
		_, err := f.actions.CreateInterview(f.owner, f.job.ID)
		require.NoError(t, err, "call %d", i+1)
	}
	require.Equal(t, int32(12), inserts.Load())

	_, err := f.actions.CreateInterview(f.owner, f.job.ID)
	assertKind(t, err, RateLimited)
	assert.Equal(t, MsgRateLimited, MessageOf(err))
	assert.Equal(t, int32(12), inserts.Load())
	assert.Equal(t, int64(12), f.count(t))
}

func TestCreateInterview_RetriesExhausted(t *testing.T) {
	f := newFixture(t, nil)
	attempts := failNext(t, f.db, "create", 3)

	_, err := f.actions.CreateInterview(f.owner, f.job.ID)
	assertKind(t, err, PersistenceFailed)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, MsgCreateFailed, MessageOf(err))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Zero(t, f.count(t))
}

func TestCreateInterview_FailThenSucceedWritesOnce(t *testing.T) {
	f := newFixture(t, nil)
	attempts := failNext(t, f.db, "create", 1)

	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int64(1), f.count(t))
	assert.Equal(t, InitialDuration, f.stored(t, id).Duration)
}

func TestUpdateInterview_LinkRelinkScenario(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_a")}))
	assert.Equal(t, "chat_a", *f.stored(t, id).HumeChatID)

	// a different chat id is a silent success that leaves the stored value
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_b"), Duration: ptr("00:05:00")}))
	iv := f.stored(t, id)
	assert.Equal(t, "chat_a", *iv.HumeChatID)
	assert.Equal(t, InitialDuration, iv.Duration)

	// the same id again is a no-op success
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_a")}))
	assert.Equal(t, "chat_a", *f.stored(t, id).HumeChatID)

	assert.Contains(t, f.cache.all(), IDTag(id))
}

func TestUpdateInterview_ConcurrentLinksPersistOneChatID(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr(fmt.Sprintf("chat_%d", i))})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	iv := f.stored(t, id)
	require.NotNil(t, iv.HumeChatID)
	assert.True(t, strings.HasPrefix(*iv.HumeChatID, "chat_"))

	var linked int64
	require.NoError(t, f.db.Model(&Interview{}).Where("hume_chat_id IS NOT NULL").Count(&linked).Error)
	assert.Equal(t, int64(1), linked)
}

func TestRepo_LinkChatIDConditional(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	iv := &Interview{JobInfoID: f.job.ID}
	require.NoError(t, f.repo.Insert(ctx, iv))

	ok, err := f.repo.LinkChatID(ctx, iv.ID, "chat_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.repo.LinkChatID(ctx, iv.ID, "chat_2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.repo.LinkChatID(ctx, iv.ID, "chat_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "chat_1", *f.stored(t, iv.ID).HumeChatID)
}

func TestUpdateInterview_Duration(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{Duration: ptr("00:01:30")}))
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{Duration: ptr("00:01:30")}))
	assert.Equal(t, "00:01:30", f.stored(t, id).Duration)

	// a late lower sample is not applied
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{Duration: ptr("00:00:40")}))
	assert.Equal(t, "00:01:30", f.stored(t, id).Duration)

	err = f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{Duration: ptr("1:30")})
	assertKind(t, err, InvalidInput)
	assert.Equal(t, "00:01:30", f.stored(t, id).Duration)
}

func TestUpdateInterview_RetryThenPersistenceFailed(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	attempts := failNext(t, f.db, "update", 1)
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{Duration: ptr("00:00:10")}))
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, "00:00:10", f.stored(t, id).Duration)

	f2 := newFixture(t, nil)
	id2, err := f2.actions.CreateInterview(f2.owner, f2.job.ID)
	require.NoError(t, err)
	failNext(t, f2.db, "update", 3)
	err = f2.actions.UpdateInterview(f2.owner, id2, UpdateInterviewInput{Duration: ptr("00:00:10")})
	assertKind(t, err, PersistenceFailed)
	assert.Equal(t, MsgUpdateFailed, MessageOf(err))
}

func TestUpdateInterview_Forbidden(t *testing.T) {
	f := newFixture(t, nil)
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	err = f.actions.UpdateInterview(f.other, id, UpdateInterviewInput{HumeChatID: ptr("chat_x")})
	assertKind(t, err, Forbidden)
	assert.Nil(t, f.stored(t, id).HumeChatID)

	err = f.actions.UpdateInterview(f.owner, "missing", UpdateInterviewInput{Duration: ptr("00:00:01")})
	assertKind(t, err, Forbidden)

	err = f.actions.UpdateInterview(context.Background(), id, UpdateInterviewInput{})
	assertKind(t, err, Unauthenticated)
}

func TestGenerateInterviewFeedback(t *testing.T) {
	gen := &fakeFeedback{text: "## Overall rating: 7/10"}
	f := newFixture(t, func(d *Deps) {
		d.Transcripts = fakeTranscripts{text: `{"speaker":"interviewer","text":"Hi"}`}
		d.Feedback = gen
	})
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)

	err = f.actions.GenerateInterviewFeedback(f.owner, id)
	assertKind(t, err, PreconditionFailed)
	assert.Equal(t, MsgNotCompleted, MessageOf(err))

	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_1")}))
	require.NoError(t, f.actions.GenerateInterviewFeedback(f.owner, id))

	assert.Equal(t, "Ada", gen.got.UserName)
	assert.Equal(t, f.job.ID, gen.got.JobInfo.ID)
	assert.Contains(t, gen.got.Transcript, "interviewer")
	require.NotNil(t, f.stored(t, id).Feedback)
	assert.Equal(t, "## Overall rating: 7/10", *f.stored(t, id).Feedback)

	err = f.actions.GenerateInterviewFeedback(f.other, id)
	assertKind(t, err, Forbidden)
}

func TestGenerateInterviewFeedback_SetOnce(t *testing.T) {
	gen := &fakeFeedback{text: "first report"}
	f := newFixture(t, func(d *Deps) {
		d.Transcripts = fakeTranscripts{text: "t"}
		d.Feedback = gen
	})
	id, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)
	require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_1")}))

	require.NoError(t, f.actions.GenerateInterviewFeedback(f.owner, id))
	gen.text = "second report"
	require.NoError(t, f.actions.GenerateInterviewFeedback(f.owner, id))

	assert.Equal(t, "first report", *f.stored(t, id).Feedback)
	assert.Equal(t, 1, gen.calls, "stored feedback must not reach the model again")
}

func TestRepo_SetFeedbackConditional(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	iv := &Interview{JobInfoID: f.job.ID}
	require.NoError(t, f.repo.Insert(ctx, iv))

	stored, err := f.repo.SetFeedback(ctx, iv.ID, "first")
	require.NoError(t, err)
	assert.True(t, stored)

	stored, err = f.repo.SetFeedback(ctx, iv.ID, "second")
	require.NoError(t, err)
	assert.False(t, stored)
	assert.Equal(t, "first", *f.stored(t, iv.ID).Feedback)
}

// bumpAfterRead moves the stored duration after each read of interviews,
// the way a concurrent writer landing between read and write would.
func bumpAfterRead(t *testing.T, db *gorm.DB, id string, next func(n int) (string, bool)) {
	t.Helper()
	var reads atomic.Int32
	err := db.Callback().Query().After("gorm:query").Register("test:bump_duration", func(tx *gorm.DB) {
		if tx.Statement.Table != "interviews" {
			return
		}
		d, ok := next(int(reads.Add(1)))
		if !ok {
			return
		}
		require.NoError(t, db.Model(&Interview{}).Where("id = ?", id).Update("duration", d).Error)
	})
	require.NoError(t, err)
}

func TestRepo_UpdateDurationRereadsAfterLostCompareAndSet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	iv := &Interview{JobInfoID: f.job.ID}
	require.NoError(t, f.repo.Insert(ctx, iv))

	bumpAfterRead(t, f.db, iv.ID, func(n int) (string, bool) {
		return "00:02:00", n == 1
	})

	require.NoError(t, f.repo.UpdateDuration(ctx, iv.ID, "00:03:00"))
	assert.Equal(t, "00:03:00", f.stored(t, iv.ID).Duration)
}

func TestRepo_UpdateDurationContended(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	iv := &Interview{JobInfoID: f.job.ID}
	require.NoError(t, f.repo.Insert(ctx, iv))

	bumpAfterRead(t, f.db, iv.ID, func(n int) (string, bool) {
		return fmt.Sprintf("00:00:%02d", n), true
	})

	err := f.repo.UpdateDuration(ctx, iv.ID, "00:10:00")
	assert.ErrorIs(t, err, ErrDurationContended)
}

func TestGenerateInterviewFeedback_GenerationFailures(t *testing.T) {
	for _, tc := range []struct {
		name        string
		transcripts fakeTranscripts
		feedback    *fakeFeedback
		message     string
	}{
		{"empty result", fakeTranscripts{text: "t"}, &fakeFeedback{}, MsgFeedbackEmpty},
		{"transcript error", fakeTranscripts{err: errors.New("hume down")}, &fakeFeedback{text: "x"}, MsgFeedbackFailed},
		{"model error", fakeTranscripts{text: "t"}, &fakeFeedback{err: errors.New("model down")}, MsgFeedbackFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, func(d *Deps) {
				d.Transcripts = tc.transcripts
				d.Feedback = tc.feedback
			})
			id, err := f.actions.CreateInterview(f.owner, f.job.ID)
			require.NoError(t, err)
			require.NoError(t, f.actions.UpdateInterview(f.owner, id, UpdateInterviewInput{HumeChatID: ptr("chat_1")}))

			err = f.actions.GenerateInterviewFeedback(f.owner, id)
			assertKind(t, err, GenerationFailed)
			assert.Equal(t, tc.message, MessageOf(err))
			assert.Nil(t, f.stored(t, id).Feedback)
		})
	}
}

func TestListLinkedAndStale(t *testing.T) {
	f := newFixture(t, nil)
	linked, err := f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)
	_, err = f.actions.CreateInterview(f.owner, f.job.ID)
	require.NoError(t, err)
	require.NoError(t, f.actions.UpdateInterview(f.owner, linked, UpdateInterviewInput{HumeChatID: ptr("chat_1")}))

	list, err := f.actions.ListLinked(f.owner, f.job.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, linked, list[0].ID)

	_, err = f.actions.ListLinked(f.other, f.job.ID)
	assertKind(t, err, Forbidden)

	n, err := f.repo.CountStaleUnlinked(context.Background(), time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = f.repo.CountStaleUnlinked(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := map[Kind]int{
		Unauthenticated:    http.StatusUnauthorized,
		Forbidden:          http.StatusForbidden,
		QuotaExceeded:      http.StatusForbidden,
		RateLimited:        http.StatusTooManyRequests,
		PreconditionFailed: http.StatusConflict,
		InvalidInput:       http.StatusBadRequest,
		GenerationFailed:   http.StatusBadGateway,
		PersistenceFailed:  http.StatusServiceUnavailable,
	}
	for kind, status := range cases {
		assert.Equal(t, status, HTTPStatus(fail(kind, "m", nil)), kind)
	}
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
	assert.Equal(t, MsgUnexpectedFailed, MessageOf(errors.New("boom")))
}

func TestValidDuration(t *testing.T) {
	assert.True(t, ValidDuration("00:00:00"))
	assert.True(t, ValidDuration("01:59:59"))
	assert.True(t, ValidDuration("100:00:01"))
	assert.False(t, ValidDuration("00:60:00"))
	assert.False(t, ValidDuration("0:00:00"))
	assert.False(t, ValidDuration(""))
	assert.True(t, durationBefore("09:59:59", "10:00:00"))
	assert.True(t, durationBefore("99:00:00", "100:00:00"))
}
