package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/speshiou/gemini-telegram-bot/internal/service"
)

// telegramMessenger 把 service.Messenger 适配到 Telegram Bot API。
// ctx 参数保留接口形态，底层 HTTP 客户端自带超时。
type telegramMessenger struct {
	api *tgbotapi.BotAPI
}

// NewMessenger 创建一个基于 Telegram 的 Messenger。
func NewMessenger(api *tgbotapi.BotAPI) service.Messenger {
	return &telegramMessenger{api: api}
}

// SendReply 以回复形式发送消息，返回新消息 id。
func (m *telegramMessenger) SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	sent, err := m.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessage 原地编辑已发送的消息。
func (m *telegramMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	_, err := m.api.Request(edit)
	return err
}

// SendTyping 发送"正在输入"状态。
func (m *telegramMessenger) SendTyping(ctx context.Context, chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, err := m.api.Request(action)
	return err
}
