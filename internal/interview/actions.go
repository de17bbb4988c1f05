package interview

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/suPer8Hu/ai-interview/internal/auth"
	"github.com/suPer8Hu/ai-interview/internal/cache"
	"github.com/suPer8Hu/ai-interview/internal/jobinfo"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"github.com/suPer8Hu/ai-interview/internal/quota"
	"github.com/suPer8Hu/ai-interview/internal/ratelimit"
	"github.com/suPer8Hu/ai-interview/internal/retry"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const feedbackPersistTimeout = 10 * time.Second

type Deps struct {
	Repo        *Repo
	JobInfos    *jobinfo.Repo
	Quota       quota.Checker
	Limiter     ratelimit.Limiter
	Cache       cache.Invalidator
	Transcripts TranscriptSource
	Feedback    FeedbackGenerator
	Retry       retry.Policy
	Log         *zap.Logger
}

// Actions are the interview mutations callable by a signed-in user.
// Every method reads the caller from the context.
type Actions struct {
	repo        *Repo
	jobs        *jobinfo.Repo
	quota       quota.Checker
	limiter     ratelimit.Limiter
	cache       cache.Invalidator
	transcripts TranscriptSource
	feedback    FeedbackGenerator
	policy      retry.Policy
	log         *zap.Logger
}

func NewActions(d Deps) *Actions {
	a := &Actions{
		repo:        d.Repo,
		jobs:        d.JobInfos,
		quota:       d.Quota,
		limiter:     d.Limiter,
		cache:       d.Cache,
		transcripts: d.Transcripts,
		feedback:    d.Feedback,
		policy:      d.Retry,
		log:         d.Log,
	}
	if a.quota == nil {
		a.quota = quota.Unlimited{}
	}
	if a.limiter == nil {
		a.limiter = ratelimit.Allowance{}
	}
	if a.cache == nil {
		a.cache = cache.New(nil, 0, nil)
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.policy.MaxAttempts == 0 {
		a.policy = retry.Default()
	}
	return a
}

func (a *Actions) withRetryLog(action string) retry.Policy {
	p := a.policy
	inner := p.OnRetry
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		metrics.PersistenceRetries.WithLabelValues(action).Inc()
		a.log.Warn("persistence attempt failed",
			zap.String("action", action),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if inner != nil {
			inner(attempt, err, wait)
		}
	}
	return p
}

func record(action string, err error) {
	result := "ok"
	if err != nil {
		if kind, ok := KindOf(err); ok {
			result = string(kind)
		} else {
			result = "error"
		}
	}
	metrics.ActionResults.WithLabelValues(action, result).Inc()
}

// CreateInterview creates an interview for one of the caller's job infos
// and returns its id.
func (a *Actions) CreateInterview(ctx context.Context, jobInfoID string) (id string, err error) {
	defer func() { record("create_interview", err) }()

	who, ok := auth.FromContext(ctx)
	if !ok {
		return "", fail(Unauthenticated, MsgPermission, nil)
	}

	// ownership first: a foreign job info is Forbidden whatever the quota
	// or bucket says, and never spends a token
	if _, err := a.jobs.GetOwned(ctx, jobInfoID, who.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fail(Forbidden, MsgPermission, nil)
		}
		return "", fmt.Errorf("load job info: %w", err)
	}

	allowed, err := a.quota.CanCreateInterview(ctx, who.UserID)
	if err != nil {
		return "", fmt.Errorf("check quota: %w", err)
	}
	if !allowed {
		return "", fail(QuotaExceeded, MsgPlanLimit, nil)
	}

	allowed, err = a.limiter.Allow(ctx, who.UserID)
	if err != nil {
		return "", fmt.Errorf("check rate limit: %w", err)
	}
	if !allowed {
		metrics.RateLimitDenials.Inc()
		return "", fail(RateLimited, MsgRateLimited, nil)
	}

	iv := &Interview{JobInfoID: jobInfoID, Duration: InitialDuration}
	err = retry.Do(ctx, a.withRetryLog("create_interview"), func(ctx context.Context) error {
		return a.repo.Insert(ctx, iv)
	})
	if err != nil {
		a.log.Error("interview creation failed", zap.String("job_info_id", jobInfoID), zap.Error(err))
		return "", fail(PersistenceFailed, MsgCreateFailed, err)
	}

	a.invalidate(ctx, JobInfoTag(jobInfoID), UserTag(who.UserID), GlobalTag())
	a.log.Info("interview created", zap.String("interview_id", iv.ID), zap.String("job_info_id", jobInfoID))
	return iv.ID, nil
}

// UpdateInterview links the voice chat id and/or records the call
// duration. A chat id that differs from the stored one is ignored and
// reported as success.
func (a *Actions) UpdateInterview(ctx context.Context, id string, in UpdateInterviewInput) (err error) {
	defer func() { record("update_interview", err) }()

	who, ok := auth.FromContext(ctx)
	if !ok {
		return fail(Unauthenticated, MsgPermission, nil)
	}

	iv, err := a.owned(ctx, id, who.UserID)
	if err != nil {
		return err
	}

	if in.Duration != nil && !ValidDuration(*in.Duration) {
		return fail(InvalidInput, MsgInvalidDuration, nil)
	}
	if in.HumeChatID != nil && *in.HumeChatID == "" {
		in.HumeChatID = nil
	}

	if in.HumeChatID != nil && iv.HumeChatID != nil && *iv.HumeChatID != *in.HumeChatID {
		a.linkMismatch(id, *iv.HumeChatID, *in.HumeChatID)
		return nil
	}

	mismatch := false
	err = retry.Do(ctx, a.withRetryLog("update_interview"), func(ctx context.Context) error {
		if in.HumeChatID != nil {
			linked, err := a.repo.LinkChatID(ctx, id, *in.HumeChatID)
			if err != nil {
				return err
			}
			if !linked {
				mismatch = true
				return nil
			}
		}
		if in.Duration != nil {
			return a.repo.UpdateDuration(ctx, id, *in.Duration)
		}
		return nil
	})
	if err != nil {
		a.log.Error("interview update failed", zap.String("interview_id", id), zap.Error(err))
		return fail(PersistenceFailed, MsgUpdateFailed, err)
	}
	if mismatch {
		a.linkMismatch(id, "", *in.HumeChatID)
		return nil
	}

	a.invalidate(ctx, JobInfoTag(iv.JobInfoID), IDTag(id))
	return nil
}

// GenerateInterviewFeedback writes the coaching report for a finished call.
func (a *Actions) GenerateInterviewFeedback(ctx context.Context, interviewID string) (err error) {
	defer func() { record("generate_feedback", err) }()

	who, ok := auth.FromContext(ctx)
	if !ok {
		return fail(Unauthenticated, MsgPermission, nil)
	}

	iv, err := a.owned(ctx, interviewID, who.UserID)
	if err != nil {
		return err
	}
	if iv.HumeChatID == nil {
		return fail(PreconditionFailed, MsgNotCompleted, nil)
	}
	if iv.Feedback != nil {
		// set once; a repeat request or a queued duplicate is done already
		return nil
	}
	if a.transcripts == nil || a.feedback == nil {
		return fail(GenerationFailed, MsgFeedbackFailed, errors.New("feedback generation not configured"))
	}

	transcript, err := a.transcripts.Transcript(ctx, *iv.HumeChatID)
	if err != nil {
		a.log.Error("transcript fetch failed", zap.String("interview_id", interviewID), zap.Error(err))
		return fail(GenerationFailed, MsgFeedbackFailed, err)
	}

	text, err := a.feedback.Feedback(ctx, FeedbackRequest{
		Transcript: transcript,
		JobInfo:    *iv.JobInfo,
		UserName:   who.Name,
	})
	if err != nil {
		a.log.Error("feedback generation failed", zap.String("interview_id", interviewID), zap.Error(err))
		return fail(GenerationFailed, MsgFeedbackFailed, err)
	}
	if text == "" {
		return fail(GenerationFailed, MsgFeedbackEmpty, nil)
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), feedbackPersistTimeout)
	defer cancel()
	stored, err := a.repo.SetFeedback(pctx, interviewID, text)
	if err != nil {
		a.log.Error("feedback save failed", zap.String("interview_id", interviewID), zap.Error(err))
		return fail(PersistenceFailed, MsgFeedbackFailed, err)
	}
	if !stored {
		a.log.Info("feedback already stored by a concurrent request", zap.String("interview_id", interviewID))
		return nil
	}

	a.invalidate(ctx, IDTag(interviewID))
	return nil
}

// ListLinked returns the caller's interviews for a job info that reached
// the call stage.
func (a *Actions) ListLinked(ctx context.Context, jobInfoID string) ([]Interview, error) {
	who, ok := auth.FromContext(ctx)
	if !ok {
		return nil, fail(Unauthenticated, MsgPermission, nil)
	}
	if _, err := a.jobs.GetOwned(ctx, jobInfoID, who.UserID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(Forbidden, MsgPermission, nil)
		}
		return nil, fmt.Errorf("load job info: %w", err)
	}
	return a.repo.ListLinked(ctx, jobInfoID)
}

// owned loads the interview and hides rows the user does not own.
func (a *Actions) owned(ctx context.Context, id, userID string) (*Interview, error) {
	iv, err := a.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fail(Forbidden, MsgPermission, nil)
		}
		return nil, fmt.Errorf("load interview: %w", err)
	}
	if iv.JobInfo == nil || iv.JobInfo.UserID != userID {
		return nil, fail(Forbidden, MsgPermission, nil)
	}
	return iv, nil
}

func (a *Actions) linkMismatch(id, stored, attempted string) {
	metrics.ChatLinkMismatches.Inc()
	a.log.Warn("ignored chat id for already linked interview",
		zap.String("interview_id", id),
		zap.String("stored_chat_id", stored),
		zap.String("attempted_chat_id", attempted),
	)
}

func (a *Actions) invalidate(ctx context.Context, tags ...string) {
	if err := a.cache.Invalidate(ctx, tags...); err != nil {
		a.log.Warn("cache invalidation failed", zap.Strings("tags", tags), zap.Error(err))
	}
}
