// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/speshiou/gemini-telegram-bot/internal/bot"
)

// WebhookHandler 接收 Telegram webhook 推送的更新。
type WebhookHandler struct {
	bot *bot.Bot
}

// NewWebhookHandler 创建一个新的 WebhookHandler。
func NewWebhookHandler(b *bot.Bot) *WebhookHandler {
	return &WebhookHandler{bot: b}
}

// Handle 解析 webhook 请求体中的更新并异步分发。
// 处理使用独立的后台上下文：Telegram 只要求尽快返回 200，
// 轮次本身不应随 webhook 请求的结束而取消。
func (h *WebhookHandler) Handle(c *gin.Context) {
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    http.StatusBadRequest,
			"message": "invalid update payload",
		})
		return
	}

	go h.bot.HandleUpdate(context.Background(), update)
	c.Status(http.StatusOK)
}

// Health 是存活探针。
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"code":    http.StatusOK,
		"message": "ok",
	})
}
