package app

import (
	"github.com/fenwick-ai/ragchat-core/internal/http/handlers"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/sse"
)

type Handlers struct {
	Chat   *handlers.ChatHandler
	Health *handlers.HealthHandler
}

func wireHandlers(log *logger.Logger, services Services, hub *sse.SSEHub) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Chat:   handlers.NewChatHandler(services.Chat, hub, services.Registry),
		Health: handlers.NewHealthHandler(),
	}
}
