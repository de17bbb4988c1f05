package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/auth"
	"github.com/suPer8Hu/ai-interview/internal/interview"
	"github.com/suPer8Hu/ai-interview/internal/store/rabbitmq"
	"go.uber.org/zap"
)

// actionFail answers with the {error,message} shape the client expects
// from interview actions.
func (h *Handler) actionFail(c *gin.Context, op string, err error) {
	if _, ok := interview.KindOf(err); !ok {
		h.Log.Error("interview action failed", zap.String("op", op), zap.Error(err))
	}
	c.JSON(interview.HTTPStatus(err), gin.H{"error": true, "message": interview.MessageOf(err)})
}

type createInterviewReq struct {
	JobInfoID string `json:"jobInfoId" binding:"required"`
}

func (h *Handler) CreateInterview(c *gin.Context) {
	var req createInterviewReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "jobInfoId is required"})
		return
	}

	id, err := h.Interviews.CreateInterview(c.Request.Context(), req.JobInfoID)
	if err != nil {
		h.actionFail(c, "create", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": false, "id": id})
}

func (h *Handler) UpdateInterview(c *gin.Context) {
	var req interview.UpdateInterviewInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": true, "message": "invalid json"})
		return
	}

	if err := h.Interviews.UpdateInterview(c.Request.Context(), c.Param("id"), req); err != nil {
		h.actionFail(c, "update", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": false})
}

func (h *Handler) GenerateFeedback(c *gin.Context) {
	if err := h.Interviews.GenerateInterviewFeedback(c.Request.Context(), c.Param("id")); err != nil {
		h.actionFail(c, "feedback", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"error": false})
}

// GenerateFeedbackAsync queues feedback generation for the worker.
func (h *Handler) GenerateFeedbackAsync(c *gin.Context) {
	who, ok := auth.FromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": true, "message": interview.MsgPermission})
		return
	}
	if h.Queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": true, "message": interview.MsgFeedbackFailed})
		return
	}

	job := rabbitmq.FeedbackJob{InterviewID: c.Param("id"), UserID: who.UserID, UserName: who.Name}
	if err := h.Queue.PublishFeedbackJob(c.Request.Context(), job); err != nil {
		h.Log.Error("enqueue feedback job failed", zap.String("interview_id", job.InterviewID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": true, "message": interview.MsgFeedbackFailed})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"error": false})
}

func (h *Handler) ListInterviews(c *gin.Context) {
	list, err := h.Interviews.ListLinked(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.actionFail(c, "list", err)
		return
	}
	if list == nil {
		list = []interview.Interview{}
	}
	c.JSON(http.StatusOK, gin.H{"error": false, "interviews": list})
}
