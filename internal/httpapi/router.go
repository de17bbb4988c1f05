package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/ai-interview/internal/common"
	"github.com/suPer8Hu/ai-interview/internal/config"
	"github.com/suPer8Hu/ai-interview/internal/httpapi/handlers"
	"github.com/suPer8Hu/ai-interview/internal/httpapi/middleware"
	"github.com/suPer8Hu/ai-interview/internal/metrics"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, cfg config.Config, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	r.Use(metrics.Middleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/metrics", metrics.Handler())

	// handlers answer a missing identity in their own format
	api := r.Group("/")
	api.Use(middleware.AuthRequired(cfg.JWTSecret, true))

	api.POST("/generate-question", h.GenerateQuestion)
	api.GET("/latest-question", h.LatestQuestion)

	api.POST("/interviews", h.CreateInterview)
	api.PATCH("/interviews/:id", h.UpdateInterview)
	api.POST("/interviews/:id/feedback", h.GenerateFeedback)
	api.POST("/interviews/:id/feedback/async", h.GenerateFeedbackAsync)
	api.GET("/job-infos/:id/interviews", h.ListInterviews)
	return r
}
