package repository

import (
	"context"
	"sync"
	"time"

	"github.com/speshiou/gemini-telegram-bot/internal/model"
)

type memoryChatRepository struct {
	mu    sync.RWMutex
	chats map[int64]*model.Chat
}

// NewMemoryChatRepository 创建一个进程内存储的 ChatRepository，
// 用于本地开发和测试，进程退出后数据即丢失。
func NewMemoryChatRepository() ChatRepository {
	return &memoryChatRepository{chats: make(map[int64]*model.Chat)}
}

func (r *memoryChatRepository) EnsureChat(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	chat, ok := r.chats[chatID]
	if !ok {
		chat = &model.Chat{
			ID:               chatID,
			FirstInteraction: now,
			History:          []model.Turn{},
		}
		r.chats[chatID] = chat
	}
	chat.LastInteraction = now
	return nil
}

func (r *memoryChatRepository) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil, nil
	}
	// 返回副本，避免调用方看到后续写入
	copied := *chat
	copied.History = append([]model.Turn{}, chat.History...)
	return &copied, nil
}

func (r *memoryChatRepository) GetHistory(ctx context.Context, chatID int64) ([]model.Turn, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil || chat == nil {
		return []model.Turn{}, err
	}
	return chat.History, nil
}

func (r *memoryChatRepository) AppendTurn(ctx context.Context, chatID int64, userMsg, modelMsg string, maxTurns int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	chat.History = trimTurns(append(chat.History, model.Turn{User: userMsg, Model: modelMsg}), maxTurns)
	return nil
}

func (r *memoryChatRepository) ClearHistory(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	chat, ok := r.chats[chatID]
	if !ok {
		return nil
	}
	chat.History = []model.Turn{}
	return nil
}
