// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speshiou/gemini-telegram-bot/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ChatRepository 定义了会话历史记录的操作接口。
//
// AppendTurn 对不存在的会话 id 是静默 no-op（与 MongoDB 非 upsert 的 $push
// 语义一致），调用方应先调用 EnsureChat；三种实现保持同样的约定。
type ChatRepository interface {
	// EnsureChat 幂等地创建会话记录：首次写入设置 first_interaction，
	// 每次调用都刷新 last_interaction。
	EnsureChat(ctx context.Context, chatID int64) error
	// GetChat 返回完整的会话记录，不存在时返回 (nil, nil)。
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	// GetHistory 返回会话的历史轮次，会话不存在或无历史时返回空切片。
	GetHistory(ctx context.Context, chatID int64) ([]model.Turn, error)
	// AppendTurn 原子地追加一轮问答；maxTurns > 0 时只保留最近 maxTurns 轮。
	AppendTurn(ctx context.Context, chatID int64, userMsg, modelMsg string, maxTurns int) error
	// ClearHistory 清空历史，保留记录本身和时间戳。
	ClearHistory(ctx context.Context, chatID int64) error
}

// trimTurns 保留最近 max 轮，max <= 0 时不截断。
func trimTurns(turns []model.Turn, max int) []model.Turn {
	if max > 0 && len(turns) > max {
		return turns[len(turns)-max:]
	}
	return turns
}

type mongoChatRepository struct {
	chats *mongo.Collection
}

// NewMongoChatRepository 创建一个基于 MongoDB 的 ChatRepository。
// 每个会话对应 chats 集合中的一个文档，_id 为 Telegram chat id。
func NewMongoChatRepository(client *mongo.Client, database string) ChatRepository {
	return &mongoChatRepository{
		chats: client.Database(database).Collection("chats"),
	}
}

// EnsureChat 通过 upsert 创建或刷新会话记录。
func (r *mongoChatRepository) EnsureChat(ctx context.Context, chatID int64) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{"last_interaction": now},
		"$setOnInsert": bson.M{
			"first_interaction": now,
			"history":           bson.A{},
		},
	}

	_, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert 会话记录失败: %w", err)
	}
	return nil
}

// GetChat 读取完整的会话文档。
func (r *mongoChatRepository) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	var chat model.Chat
	err := r.chats.FindOne(ctx, bson.M{"_id": chatID}).Decode(&chat)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话记录失败: %w", err)
	}
	return &chat, nil
}

// GetHistory 读取会话历史，未知 id 返回空切片而非错误。
func (r *mongoChatRepository) GetHistory(ctx context.Context, chatID int64) ([]model.Turn, error) {
	chat, err := r.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return []model.Turn{}, nil
	}
	return chat.History, nil
}

// AppendTurn 通过 $push 追加一轮问答。单文档更新保证了并发读取方
// 不会观察到追加到一半或截断到一半的历史。
func (r *mongoChatRepository) AppendTurn(ctx context.Context, chatID int64, userMsg, modelMsg string, maxTurns int) error {
	turn := model.Turn{User: userMsg, Model: modelMsg}

	push := bson.M{"history": turn}
	if maxTurns > 0 {
		// $slice 取负数表示保留数组尾部最近的 maxTurns 个元素
		push = bson.M{"history": bson.M{
			"$each":  bson.A{turn},
			"$slice": -maxTurns,
		}}
	}

	_, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$push": push})
	if err != nil {
		return fmt.Errorf("追加会话历史失败: %w", err)
	}
	return nil
}

// ClearHistory 将历史置空，时间戳不变。
func (r *mongoChatRepository) ClearHistory(ctx context.Context, chatID int64) error {
	_, err := r.chats.UpdateOne(ctx, bson.M{"_id": chatID}, bson.M{"$set": bson.M{"history": bson.A{}}})
	if err != nil {
		return fmt.Errorf("清空会话历史失败: %w", err)
	}
	return nil
}
