package app

import (
	"github.com/gin-gonic/gin"

	apphttp "github.com/fenwick-ai/ragchat-core/internal/http"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

func wireRouter(log *logger.Logger, handlers Handlers) *gin.Engine {
	return apphttp.NewRouter(apphttp.RouterConfig{
		ChatHandler:   handlers.Chat,
		HealthHandler: handlers.Health,
		Log:           log,
	})
}
