// Package bot 实现了 Telegram 侧的事件调度：长轮询、命令处理、
// 允许名单过滤以及异常上报。
package bot

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/speshiou/gemini-telegram-bot/internal/config"
	"github.com/speshiou/gemini-telegram-bot/internal/service"
	"github.com/speshiou/gemini-telegram-bot/pkg/gemini"
	"github.com/speshiou/gemini-telegram-bot/pkg/log"
)

const greetingText = "Hi! I'm an AI chatbot powered by Gemini Pro Vision model. Feel free to ask me anything."

const resetDoneText = "Chat history has been cleared."

const attachmentFailedText = "Sorry, I could not process the attached image."

// Bot 持有 Telegram API 句柄并把入站更新分发给 ChatService。
type Bot struct {
	api         *tgbotapi.BotAPI
	chatService service.ChatService
	cfg         config.TelegramConfig
	photos      *photoCache
	allowed     map[string]struct{}
}

// New 创建一个新的 Bot。
func New(api *tgbotapi.BotAPI, chatService service.ChatService, cfg config.TelegramConfig) *Bot {
	allowed := make(map[string]struct{}, len(cfg.AllowedUsernames))
	for _, name := range cfg.AllowedUsernames {
		allowed[strings.ToLower(name)] = struct{}{}
	}
	return &Bot{
		api:         api,
		chatService: chatService,
		cfg:         cfg,
		photos:      newPhotoCache(cfg.PhotoCacheDir, api),
		allowed:     allowed,
	}
}

// Run 以长轮询方式消费更新，直到 ctx 被取消。
// 每条更新由独立的 goroutine 处理，不同会话的轮次互不阻塞。
func (b *Bot) Run(ctx context.Context) {
	b.setupCommands()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	log.Infof("Telegram 长轮询已启动: @%s", b.api.Self.UserName)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			// 更新处理与轮询循环解耦，挂起点都在网络调用上
			go b.HandleUpdate(context.Background(), update)
		}
	}
}

// setupCommands 向 Telegram 注册命令菜单。
func (b *Bot) setupCommands() {
	commands := tgbotapi.NewSetMyCommands(
		tgbotapi.BotCommand{Command: "reset", Description: "clear the chat history"},
	)
	if _, err := b.api.Request(commands); err != nil {
		log.Warnf("注册命令菜单失败: %v", err)
	}
}

// HandleUpdate 处理一条入站更新。失败被限制在本条更新内：
// panic 被捕获并记录，可选地上报给开发者会话，进程继续接收后续事件。
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("处理更新时发生 panic: %v", r)
			log.Error("未处理的异常", err)
			b.reportToDeveloper(update, err)
		}
	}()

	if err := b.dispatch(ctx, update); err != nil {
		log.Error("处理更新失败", err)
		b.reportToDeveloper(update, err)
	}
}

// dispatch 根据更新类型路由到对应的处理逻辑。
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}

	if !b.allowedUser(msg.From) {
		log.Infof("忽略未授权用户的消息: %s", userLabel(msg.From))
		return nil
	}

	if msg.IsCommand() {
		return b.handleCommand(ctx, msg)
	}

	// 只处理文本消息，其余类型（贴纸、语音等）直接忽略
	if msg.Text == "" {
		return nil
	}

	turn := service.IncomingTurn{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
	}

	// 回复了带图片的消息时，解析最大分辨率变体并附带图片字节
	if msg.ReplyToMessage != nil && len(msg.ReplyToMessage.Photo) > 0 {
		photo := largestPhoto(msg.ReplyToMessage.Photo)
		data, err := b.photos.fetch(photo.FileID, photo.FileUniqueID)
		if err != nil {
			// 附件异常终止本轮并告知用户，而不是让进程崩溃
			reply := tgbotapi.NewMessage(msg.Chat.ID, attachmentFailedText)
			reply.ReplyToMessageID = msg.MessageID
			if _, sendErr := b.api.Send(reply); sendErr != nil {
				log.Warnf("发送附件错误提示失败: %v", sendErr)
			}
			return fmt.Errorf("解析图片附件失败: %w", err)
		}
		turn.Image = &gemini.ImagePart{Data: data, MIMEType: "image/jpeg"}
	}

	return b.chatService.HandleTurn(ctx, turn)
}

// handleCommand 处理命令消息。
func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		reply := tgbotapi.NewMessage(msg.Chat.ID, greetingText)
		if _, err := b.api.Send(reply); err != nil {
			return fmt.Errorf("发送欢迎消息失败: %w", err)
		}
		return nil
	case "reset":
		if err := b.chatService.Reset(ctx, msg.Chat.ID); err != nil {
			return err
		}
		reply := tgbotapi.NewMessage(msg.Chat.ID, resetDoneText)
		if _, err := b.api.Send(reply); err != nil {
			return fmt.Errorf("发送重置确认失败: %w", err)
		}
		return nil
	default:
		// 未知命令静默忽略
		return nil
	}
}

// allowedUser 检查允许名单；名单为空表示允许所有用户。
func (b *Bot) allowedUser(user *tgbotapi.User) bool {
	if len(b.allowed) == 0 {
		return true
	}
	if user == nil || user.UserName == "" {
		return false
	}
	_, ok := b.allowed[strings.ToLower(user.UserName)]
	return ok
}

// reportToDeveloper 把失败上下文以 HTML 报告形式发送到开发者会话。
// 发送失败只记录，不再级联上报。
func (b *Bot) reportToDeveloper(update tgbotapi.Update, err error) {
	if b.cfg.DeveloperChatID == 0 {
		return
	}

	var detail strings.Builder
	detail.WriteString("An exception was raised while handling an update\n")
	if update.Message != nil {
		detail.WriteString(fmt.Sprintf("<pre>chat_id = %d\nfrom = %s</pre>\n",
			update.Message.Chat.ID, html.EscapeString(userLabel(update.Message.From))))
	}
	detail.WriteString(fmt.Sprintf("<pre>%s</pre>", html.EscapeString(err.Error())))

	report := tgbotapi.NewMessage(b.cfg.DeveloperChatID, detail.String())
	report.ParseMode = tgbotapi.ModeHTML
	if _, sendErr := b.api.Send(report); sendErr != nil {
		log.Errorf("发送错误报告失败: %v", sendErr)
	}
}

func userLabel(user *tgbotapi.User) string {
	if user == nil {
		return "unknown"
	}
	if user.UserName != "" {
		return "@" + user.UserName
	}
	return fmt.Sprintf("id:%d", user.ID)
}
