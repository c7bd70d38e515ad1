package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/speshiou/gemini-telegram-bot/internal/model"
)

type redisChatRepository struct {
	redisClient *redis.Client

	// Redis 的读-改-写不是原子的，按 chat id 串行化写操作
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewRedisChatRepository 创建一个基于 Redis 的 ChatRepository。
// 每个会话以 JSON 记录存储在 chat:{id} 键下。
func NewRedisChatRepository(redisClient *redis.Client) ChatRepository {
	return &redisChatRepository{
		redisClient: redisClient,
		locks:       make(map[int64]*sync.Mutex),
	}
}

func chatKey(chatID int64) string {
	return fmt.Sprintf("chat:%d", chatID)
}

// chatLock 返回指定会话的互斥锁，同一会话的写操作在进程内串行执行。
func (r *redisChatRepository) chatLock(chatID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[chatID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[chatID] = l
	}
	return l
}

// loadChat 读取并反序列化会话记录，不存在时返回 (nil, nil)。
func (r *redisChatRepository) loadChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	jsonData, err := r.redisClient.Get(ctx, chatKey(chatID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话记录失败: %w", err)
	}
	var chat model.Chat
	if err := json.Unmarshal([]byte(jsonData), &chat); err != nil {
		return nil, fmt.Errorf("解析会话记录失败: %w", err)
	}
	return &chat, nil
}

func (r *redisChatRepository) saveChat(ctx context.Context, chat *model.Chat) error {
	jsonData, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("序列化会话记录失败: %w", err)
	}
	if err := r.redisClient.Set(ctx, chatKey(chat.ID), jsonData, 0).Err(); err != nil {
		return fmt.Errorf("写入会话记录失败: %w", err)
	}
	return nil
}

// EnsureChat 创建或刷新会话记录。
func (r *redisChatRepository) EnsureChat(ctx context.Context, chatID int64) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	chat, err := r.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		chat = &model.Chat{
			ID:               chatID,
			FirstInteraction: now,
			History:          []model.Turn{},
		}
	}
	chat.LastInteraction = now
	return r.saveChat(ctx, chat)
}

// GetChat 读取完整的会话记录。
func (r *redisChatRepository) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	return r.loadChat(ctx, chatID)
}

// GetHistory 读取会话历史，未知 id 返回空切片。
func (r *redisChatRepository) GetHistory(ctx context.Context, chatID int64) ([]model.Turn, error) {
	chat, err := r.loadChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return []model.Turn{}, nil
	}
	return chat.History, nil
}

// AppendTurn 追加一轮问答并按 maxTurns 截断；会话不存在时为 no-op。
func (r *redisChatRepository) AppendTurn(ctx context.Context, chatID int64, userMsg, modelMsg string, maxTurns int) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}
	chat.History = trimTurns(append(chat.History, model.Turn{User: userMsg, Model: modelMsg}), maxTurns)
	return r.saveChat(ctx, chat)
}

// ClearHistory 清空历史，时间戳不变。
func (r *redisChatRepository) ClearHistory(ctx context.Context, chatID int64) error {
	lock := r.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	chat, err := r.loadChat(ctx, chatID)
	if err != nil {
		return err
	}
	if chat == nil {
		return nil
	}
	chat.History = []model.Turn{}
	return r.saveChat(ctx, chat)
}
