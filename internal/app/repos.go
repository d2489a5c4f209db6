package app

import (
	"gorm.io/gorm"

	"github.com/fenwick-ai/ragchat-core/internal/data/repos"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type Repos struct {
	Chats        repos.ChatRepo
	Messages     repos.MessageRepo
	Turns        repos.TurnRepo
	Docs         repos.DocRepo
	States       repos.StateRepo
	SummaryNodes repos.SummaryNodeRepo
	Traces       repos.ChatTraceRepo
	Shared       repos.SharedChatRepo
	Personalize  repos.UserPersonalizationRepo
	Agents       repos.AgentRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Chats:        repos.NewChatRepo(db, log),
		Messages:     repos.NewMessageRepo(db, log),
		Turns:        repos.NewTurnRepo(db, log),
		Docs:         repos.NewDocRepo(db, log),
		States:       repos.NewStateRepo(db, log),
		SummaryNodes: repos.NewSummaryNodeRepo(db, log),
		Traces:       repos.NewChatTraceRepo(db, log),
		Shared:       repos.NewSharedChatRepo(db, log),
		Personalize:  repos.NewUserPersonalizationRepo(db, log),
		Agents:       repos.NewAgentRepo(db, log),
	}
}
