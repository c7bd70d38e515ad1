// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/speshiou/gemini-telegram-bot/internal/bot"
	"github.com/speshiou/gemini-telegram-bot/internal/config"
	"github.com/speshiou/gemini-telegram-bot/internal/handler"
	"github.com/speshiou/gemini-telegram-bot/internal/middleware"
	"github.com/speshiou/gemini-telegram-bot/internal/repository"
	"github.com/speshiou/gemini-telegram-bot/internal/service"
	"github.com/speshiou/gemini-telegram-bot/pkg/database"
	"github.com/speshiou/gemini-telegram-bot/pkg/gemini"
	"github.com/speshiou/gemini-telegram-bot/pkg/log"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. 初始化存储：句柄显式持有，退出时显式关闭
	chatRepo, teardown, err := newChatRepository(ctx, cfg.Storage)
	if err != nil {
		log.Fatal("初始化存储失败", err)
	}
	defer teardown()
	log.Infof("会话存储已就绪: driver=%s", cfg.Storage.Driver)

	// 4. 初始化 Gemini 客户端
	geminiClient, err := gemini.NewClient(ctx, cfg.Gemini)
	if err != nil {
		log.Fatal("初始化 Gemini 客户端失败", err)
	}

	// 5. 初始化 Telegram API 与 Service (依赖注入)
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.Fatal("初始化 Telegram API 失败", err)
	}
	messenger := bot.NewMessenger(api)
	chatService := service.NewChatService(geminiClient, chatRepo, messenger, cfg.Storage.MaxHistory)
	tgBot := bot.New(api, chatService, cfg.Telegram)

	// 6. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())
	r.GET("/healthz", handler.Health)
	if cfg.Server.WebhookPath != "" {
		// webhook 模式：更新由 Telegram 推送到这里，不再长轮询
		r.POST(cfg.Server.WebhookPath, handler.NewWebhookHandler(tgBot).Handle)
		log.Infof("Telegram webhook 路由已注册: %s", cfg.Server.WebhookPath)
	} else {
		// 长轮询模式
		go tgBot.Run(ctx)
	}

	// 7. 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 先停止接收新更新，再关闭 HTTP 服务器
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}

	log.Info("服务已优雅关闭")
}

// newChatRepository 按配置选择存储驱动，返回仓库和对应的清理函数。
func newChatRepository(ctx context.Context, cfg config.StorageConfig) (repository.ChatRepository, func(), error) {
	switch cfg.Driver {
	case "mongo", "":
		client, err := database.NewMongoClient(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, err
		}
		teardown := func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(disconnectCtx); err != nil {
				log.Error("关闭 MongoDB 连接失败", err)
			}
		}
		return repository.NewMongoChatRepository(client, cfg.Mongo.Database), teardown, nil
	case "redis":
		rdb, err := database.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, nil, err
		}
		teardown := func() {
			if err := rdb.Close(); err != nil {
				log.Error("关闭 Redis 连接失败", err)
			}
		}
		return repository.NewRedisChatRepository(rdb), teardown, nil
	case "memory":
		return repository.NewMemoryChatRepository(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}
