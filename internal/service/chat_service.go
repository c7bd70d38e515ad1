// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/speshiou/gemini-telegram-bot/internal/repository"
	"github.com/speshiou/gemini-telegram-bot/pkg/gemini"
	"github.com/speshiou/gemini-telegram-bot/pkg/log"
)

// 占位消息的初始内容，收到首个分块后立即被替换。
const placeholderText = "…"

// 生成失败时展示给用户的提示，避免占位消息永远停在省略号上。
const failureNotice = "Sorry, something went wrong while generating the response. Please try again later."

// Messenger 抽象了发往消息平台的出站操作，由 Telegram 适配层实现。
type Messenger interface {
	// SendReply 发送一条回复消息，返回新消息的 id 供后续编辑。
	SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	// EditMessage 原地编辑已发送的消息。
	EditMessage(ctx context.Context, chatID int64, messageID int, text string) error
	// SendTyping 发送"正在输入"状态。
	SendTyping(ctx context.Context, chatID int64) error
}

// IncomingTurn 是一次入站的对话轮次。
type IncomingTurn struct {
	ChatID int64
	// MessageID 用户消息的 id，占位消息以回复形式挂在它下面。
	MessageID int
	Text      string
	// Image 非 nil 时本轮带图片负载，由调度层预先解析好
	Image *gemini.ImagePart
}

// ChatService 定义了对话轮次编排的接口。
type ChatService interface {
	// HandleTurn 处理一轮对话：取历史、调模型、流式回显、落库。
	HandleTurn(ctx context.Context, turn IncomingTurn) error
	// Reset 清空指定会话的历史。
	Reset(ctx context.Context, chatID int64) error
}

type chatService struct {
	geminiClient gemini.Client
	chatRepo     repository.ChatRepository
	messenger    Messenger
	maxHistory   int
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(geminiClient gemini.Client, chatRepo repository.ChatRepository, messenger Messenger, maxHistory int) ChatService {
	return &chatService{
		geminiClient: geminiClient,
		chatRepo:     chatRepo,
		messenger:    messenger,
		maxHistory:   maxHistory,
	}
}

// HandleTurn 编排一轮完整的问答。
//
// 任何失败只终止本轮：未完成的轮次绝不落库，历史中也就不会出现半截轮次。
func (s *chatService) HandleTurn(ctx context.Context, turn IncomingTurn) error {
	// 1. 幂等地创建会话记录并刷新 last_interaction
	if err := s.chatRepo.EnsureChat(ctx, turn.ChatID); err != nil {
		return fmt.Errorf("初始化会话记录失败: %w", err)
	}

	// 2. "正在输入"只是提示，失败不影响本轮
	if err := s.messenger.SendTyping(ctx, turn.ChatID); err != nil {
		log.Warnf("发送 typing 状态失败: chat=%d, err=%v", turn.ChatID, err)
	}

	// 3. 取历史
	history, err := s.chatRepo.GetHistory(ctx, turn.ChatID)
	if err != nil {
		return fmt.Errorf("读取会话历史失败: %w", err)
	}

	// 4. 先发占位消息，流式分块到达时原地编辑
	placeholderID, err := s.messenger.SendReply(ctx, turn.ChatID, turn.MessageID, placeholderText)
	if err != nil {
		return fmt.Errorf("发送占位消息失败: %w", err)
	}

	editor := &placeholderEditor{
		ctx:       ctx,
		messenger: s.messenger,
		chatID:    turn.ChatID,
		messageID: placeholderID,
	}

	// 5. 调用模型并消费流式响应
	req := gemini.ChatRequest{
		History: history,
		Text:    turn.Text,
		Image:   turn.Image,
	}
	if err := s.geminiClient.StreamChat(ctx, req, editor); err != nil {
		// 中途失败：不落库，把占位消息改成错误提示后上报
		if editErr := s.messenger.EditMessage(ctx, turn.ChatID, placeholderID, failureNotice); editErr != nil {
			log.Warnf("更新失败提示失败: chat=%d, err=%v", turn.ChatID, editErr)
		}
		return fmt.Errorf("模型生成失败: %w", err)
	}

	answer := editor.String()
	if answer == "" {
		// 流正常结束但没有产出任何文本，本轮不落库
		log.Warnf("模型返回空响应: chat=%d", turn.ChatID)
		return nil
	}

	// 逐块编辑可能落后于缓冲区（单次编辑失败被跳过时），结束后补齐最终全文
	if err := editor.Flush(); err != nil {
		log.Warnf("补发完整回复失败: chat=%d, err=%v", turn.ChatID, err)
	}

	// 6. 完整回复已知后才写入历史，截断上限在每次追加时生效
	if err := s.chatRepo.AppendTurn(ctx, turn.ChatID, turn.Text, answer, s.maxHistory); err != nil {
		// 回复已经送达用户，落库失败只记录，不把本轮标记为失败
		log.Error("写入会话历史失败", err)
	}

	return nil
}

// Reset 清空会话历史，记录和时间戳保持不变。
func (s *chatService) Reset(ctx context.Context, chatID int64) error {
	if err := s.chatRepo.ClearHistory(ctx, chatID); err != nil {
		return fmt.Errorf("清空会话历史失败: %w", err)
	}
	return nil
}

// placeholderEditor 实现 gemini.ChunkWriter：把分块累积进缓冲区，
// 并在每个分块到达后原地编辑占位消息。
type placeholderEditor struct {
	ctx       context.Context
	messenger Messenger
	chatID    int64
	messageID int
	buf       strings.Builder
	lastSent  string
}

// WriteChunk 满足 gemini.ChunkWriter 接口。
// 单次编辑失败不中断流，完整回复会在流结束后由 Flush 补齐。
func (e *placeholderEditor) WriteChunk(text string) error {
	e.buf.WriteString(text)
	current := e.buf.String()
	if current == e.lastSent {
		return nil
	}
	if err := e.messenger.EditMessage(e.ctx, e.chatID, e.messageID, current); err != nil {
		log.Warnf("编辑占位消息失败: chat=%d, msg=%d, err=%v", e.chatID, e.messageID, err)
		return nil
	}
	e.lastSent = current
	return nil
}

// Flush 确保占位消息最终展示完整回复。
func (e *placeholderEditor) Flush() error {
	full := e.buf.String()
	if full == e.lastSent {
		return nil
	}
	if err := e.messenger.EditMessage(e.ctx, e.chatID, e.messageID, full); err != nil {
		return err
	}
	e.lastSent = full
	return nil
}

// String 返回目前累积的完整回复。
func (e *placeholderEditor) String() string {
	return e.buf.String()
}
