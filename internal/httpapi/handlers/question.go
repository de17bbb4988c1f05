package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/auth"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"github.com/suPer8Hu/ai-interview/internal/question"
	"go.uber.org/zap"
)

const (
	msgGenerateFailed  = "Error generating your question"
	msgNotLoggedIn     = "You are not logged in"
	msgNoPermission    = "You do not have permission to do this"
	msgMissingJobInfo  = "Missing jobInfoId"
	msgUnauthorized    = "Unauthorized"
	msgNoQuestionFound = "No question found"
	msgLatestFailed    = "Error fetching your question"
)

type generateQuestionReq struct {
	Prompt    question.Difficulty `json:"prompt" binding:"required"`
	JobInfoID string              `json:"jobInfoId" binding:"required"`
}

// GenerateQuestion streams a new question as plain text. Once the question
// is stored its id follows the text as a trailer comment.
func (h *Handler) GenerateQuestion(c *gin.Context) {
	var req generateQuestionReq
	if err := c.ShouldBindJSON(&req); err != nil || !req.Prompt.Valid() {
		c.String(http.StatusBadRequest, msgGenerateFailed)
		return
	}

	who, ok := auth.FromContext(c.Request.Context())
	if !ok {
		c.String(http.StatusUnauthorized, msgNotLoggedIn)
		return
	}

	ctx := c.Request.Context()
	gen, err := h.Questions.Generate(ctx, who.UserID, req.JobInfoID, req.Prompt)
	switch {
	case err == nil:
	case errors.Is(err, question.ErrInvalidRequest):
		c.String(http.StatusBadRequest, msgGenerateFailed)
		return
	case errors.Is(err, question.ErrQuotaExceeded):
		c.String(http.StatusForbidden, interview.MsgPlanLimit)
		return
	case errors.Is(err, question.ErrForbidden):
		c.String(http.StatusForbidden, msgNoPermission)
		return
	default:
		h.Log.Error("question generation failed to start", zap.String("job_info_id", req.JobInfoID), zap.Error(err))
		c.String(http.StatusInternalServerError, msgGenerateFailed)
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	for chunk := range gen.Chunks {
		if ctx.Err() != nil {
			continue
		}
		if _, err := io.WriteString(c.Writer, chunk); err != nil {
			continue
		}
		c.Writer.Flush()
	}

	if err := <-gen.Err; err != nil {
		h.Log.Warn("question stream ended with error", zap.String("job_info_id", req.JobInfoID), zap.Error(err))
		metrics.QuestionTrailers.WithLabelValues("missed").Inc()
		return
	}

	timer := time.NewTimer(h.TrailerWait)
	defer timer.Stop()
	select {
	case id, ok := <-gen.QuestionID:
		if !ok {
			metrics.QuestionTrailers.WithLabelValues("missed").Inc()
			return
		}
		_, _ = io.WriteString(c.Writer, question.Trailer(id))
		c.Writer.Flush()
		metrics.QuestionTrailers.WithLabelValues("sent").Inc()
	case <-timer.C:
		h.Log.Warn("question id not ready in time", zap.String("job_info_id", req.JobInfoID))
		metrics.QuestionTrailers.WithLabelValues("missed").Inc()
	case <-ctx.Done():
	}
}

// LatestQuestion returns the id of the newest question of a job info.
func (h *Handler) LatestQuestion(c *gin.Context) {
	jobInfoID := c.Query("jobInfoId")
	if jobInfoID == "" {
		c.String(http.StatusBadRequest, msgMissingJobInfo)
		return
	}

	who, ok := auth.FromContext(c.Request.Context())
	if !ok {
		c.String(http.StatusUnauthorized, msgUnauthorized)
		return
	}

	id, err := h.Questions.LatestID(c.Request.Context(), who.UserID, jobInfoID)
	if err != nil {
		if errors.Is(err, question.ErrNotFound) {
			c.String(http.StatusNotFound, msgNoQuestionFound)
			return
		}
		h.Log.Error("latest question lookup failed", zap.String("job_info_id", jobInfoID), zap.Error(err))
		c.String(http.StatusInternalServerError, msgLatestFailed)
		return
	}
	c.JSON(http.StatusOK, gin.H{"questionId": id})
}
