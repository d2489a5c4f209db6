// Package repos re-exports the chat aggregate's repositories under a single
// import path, the way app/repos.go wires them into the DI container.
package repos

import (
	"gorm.io/gorm"

	"github.com/fenwick-ai/ragchat-core/internal/data/repos/chat"
	"github.com/fenwick-ai/ragchat-core/internal/platform/logger"
)

type ChatRepo = chat.ChatRepo
type MessageRepo = chat.MessageRepo
type TurnRepo = chat.TurnRepo
type DocRepo = chat.DocRepo
type StateRepo = chat.StateRepo
type SummaryNodeRepo = chat.SummaryNodeRepo
type ChatTraceRepo = chat.ChatTraceRepo
type SharedChatRepo = chat.SharedChatRepo
type UserPersonalizationRepo = chat.UserPersonalizationRepo
type AgentRepo = chat.AgentRepo

func NewChatRepo(db *gorm.DB, baseLog *logger.Logger) ChatRepo { return chat.NewChatRepo(db, baseLog) }

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return chat.NewMessageRepo(db, baseLog)
}

func NewTurnRepo(db *gorm.DB, baseLog *logger.Logger) TurnRepo { return chat.NewTurnRepo(db, baseLog) }

func NewDocRepo(db *gorm.DB, baseLog *logger.Logger) DocRepo { return chat.NewDocRepo(db, baseLog) }

func NewStateRepo(db *gorm.DB, baseLog *logger.Logger) StateRepo {
	return chat.NewStateRepo(db, baseLog)
}

func NewSummaryNodeRepo(db *gorm.DB, baseLog *logger.Logger) SummaryNodeRepo {
	return chat.NewSummaryNodeRepo(db, baseLog)
}

func NewChatTraceRepo(db *gorm.DB, baseLog *logger.Logger) ChatTraceRepo {
	return chat.NewChatTraceRepo(db, baseLog)
}

func NewSharedChatRepo(db *gorm.DB, baseLog *logger.Logger) SharedChatRepo {
	return chat.NewSharedChatRepo(db, baseLog)
}

func NewUserPersonalizationRepo(db *gorm.DB, baseLog *logger.Logger) UserPersonalizationRepo {
	return chat.NewUserPersonalizationRepo(db, baseLog)
}

func NewAgentRepo(db *gorm.DB, baseLog *logger.Logger) AgentRepo { return chat.NewAgentRepo(db, baseLog) }
