package app

import (
	"context"

	"gorm.io/gorm"

	chatmod "github.com/fenwick-ai/ragchat-core/internal/modules/chat"
	"github.com/fenwick-ai/ragchat-core/internal/modules/chat/steps"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
	"github.com/fenwick-ai/ragchat-core/internal/platform/redisx"
	"github.com/fenwick-ai/ragchat-core/internal/sse"
	"github.com/fenwick-ai/ragchat-core/internal/temporalx/temporalworker"
)

type Services struct {
	Chat     chatmod.Usecases
	Registry *redisx.StreamRegistry
	Worker   *temporalworker.Runner
	log      *logger.Logger
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, repos Repos, clients Clients, hub *sse.SSEHub) (Services, error) {
	log.Info("Wiring services...")

	var transport redisx.StopTransport
	switch {
	case clients.Redis != nil:
		transport = redisx.NewRedisStopTransport(log, clients.Redis)
	case clients.PgxPool != nil:
		transport = redisx.NewPgxStopTransport(log, clients.PgxPool)
	}
	registry := redisx.NewStreamRegistry(log, transport)

	retrieval := steps.RetrievalDeps{
		Docs:         repos.Docs,
		Messages:     repos.Messages,
		Personalize:  repos.Personalize,
		Vectors:      clients.Vectors,
		AI:           clients.AI,
		Alpha:        clients.Alpha,
		Log:          log,
		DefaultAlpha: cfg.DefaultAlpha,
	}

	usecases := chatmod.New(chatmod.UsecasesDeps{
		DB:  db,
		Log: log,

		Chats:        repos.Chats,
		Messages:     repos.Messages,
		Turns:        repos.Turns,
		Docs:         repos.Docs,
		States:       repos.States,
		SummaryNodes: repos.SummaryNodes,
		Traces:       repos.Traces,
		Shared:       repos.Shared,
		Personalize:  repos.Personalize,
		Agents:       repos.Agents,

		Retrieval: retrieval,
		Emitter:   hub,
		Registry:  registry,
	})

	var runner *temporalworker.Runner
	if clients.Temporal != nil {
		r, err := temporalworker.NewRunner(
			log,
			clients.Temporal,
			repos.Chats,
			repos.Messages,
			repos.Docs,
			repos.States,
			repos.SummaryNodes,
			retrieval,
			hub,
		)
		if err != nil {
			return Services{}, err
		}
		runner = r
	}

	return Services{
		Chat:     usecases,
		Registry: registry,
		Worker:   runner,
		log:      log,
	}, nil
}

func (s Services) StartBackground(ctx context.Context) {
	if s.Registry != nil {
		go func() {
			if err := s.Registry.Run(ctx); err != nil && s.log != nil {
				s.log.Warn("stream registry stop subscription ended", "error", err)
			}
		}()
	}
	if s.Worker != nil {
		if err := s.Worker.Start(ctx); err != nil && s.log != nil {
			s.log.Error("temporal worker failed to start", "error", err)
		}
	}
}
