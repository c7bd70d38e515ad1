// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig 存储 HTTP 服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// WebhookPath 非空时启用 Telegram webhook 路由；为空则仅使用长轮询。
	WebhookPath string `mapstructure:"webhook_path"`
}

// TelegramConfig 存储 Telegram Bot 相关的配置。
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// DeveloperChatID 非零时，未处理的异常会以报告形式发送到该会话。
	DeveloperChatID int64 `mapstructure:"developer_chat_id"`
	// AllowedUsernames 为空表示允许所有用户。
	AllowedUsernames []string `mapstructure:"allowed_usernames"`
	// PhotoCacheDir 回复图片的本地缓存目录。
	PhotoCacheDir string `mapstructure:"photo_cache_dir"`
}

// GeminiConfig 存储 Gemini 模型相关的配置。
type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	// Model 纯文本轮次使用的模型。
	Model string `mapstructure:"model"`
	// VisionModel 带图片轮次使用的模型。
	VisionModel string `mapstructure:"vision_model"`
}

// StorageConfig 存储对话历史持久化相关的配置。
type StorageConfig struct {
	// Driver 可选 mongo / redis / memory。
	Driver string `mapstructure:"driver"`
	// MaxHistory 每个会话保留的最近轮次数，<=0 表示不限制。
	MaxHistory int         `mapstructure:"max_history"`
	Mongo      MongoConfig `mapstructure:"mongo"`
	Redis      RedisConfig `mapstructure:"redis"`
}

// MongoConfig 存储 MongoDB 的配置。
type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Init 初始化配置加载，从指定路径读取 YAML 文件并解析到 Conf 变量中。
// 密钥类配置允许通过环境变量覆盖，便于容器部署时不落盘。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（仅密钥和连接串）
	_ = viper.BindEnv("telegram.token", "TELEGRAM_BOT_TOKEN")
	_ = viper.BindEnv("gemini.api_key", "GEMINI_API_KEY")
	_ = viper.BindEnv("storage.mongo.uri", "MONGODB_URI")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}
}
