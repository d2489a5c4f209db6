package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/fenwick-ai/ragchat-core/internal/http/handlers"
	httpMW "github.com/fenwick-ai/ragchat-core/internal/http/middleware"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type RouterConfig struct {
	ChatHandler   *httpH.ChatHandler
	HealthHandler *httpH.HealthHandler
	Log           *logger.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.Default()
	r.Use(otelgin.Middleware("ragchat-core"))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.AttachRequestContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS())

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.ChatHandler != nil {
			api.POST("/chat/send", cfg.ChatHandler.Send)
			api.POST("/chat/retry", cfg.ChatHandler.Retry)
			api.POST("/chat/stop", cfg.ChatHandler.Stop)
			api.GET("/chat", cfg.ChatHandler.GetChat)
			api.POST("/chat/:id/rename", cfg.ChatHandler.Rename)
			api.POST("/chat/:id/bookmark", cfg.ChatHandler.Bookmark)
			api.POST("/chat/:id/title", cfg.ChatHandler.Title)
			api.DELETE("/chat/:id", cfg.ChatHandler.Delete)
			api.GET("/chat/favorites", cfg.ChatHandler.Favorites)
			api.GET("/chat/history", cfg.ChatHandler.History)
			api.POST("/chat/feedback", cfg.ChatHandler.Feedback)
			api.POST("/chat/followup-questions", cfg.ChatHandler.FollowupQuestions)
			api.GET("/chat/turns/:id/trace", cfg.ChatHandler.Trace)
			api.GET("/models", cfg.ChatHandler.Models)
		}
	}

	return r
}
