// Package gemini 提供了与 Google Gemini 模型交互的客户端。
package gemini

import (
	"context"
	"fmt"

	"github.com/speshiou/gemini-telegram-bot/internal/config"
	"github.com/speshiou/gemini-telegram-bot/internal/model"
	"google.golang.org/genai"
)

// ChunkWriter 接收流式响应的文本分块。
// 实现方在每个分块到达时执行副作用（如编辑占位消息）。
type ChunkWriter interface {
	WriteChunk(text string) error
}

// ImagePart 是随文本一起发送的图片负载。
type ImagePart struct {
	Data     []byte
	MIMEType string
}

// ChatRequest 描述一次模型调用：历史轮次加本轮的新输入。
type ChatRequest struct {
	History []model.Turn
	Text    string
	// Image 非 nil 时切换到视觉模型
	Image *ImagePart
}

// Client 定义了 Gemini 客户端的接口。
type Client interface {
	// StreamChat 以历史加新负载调用模型，并将流式分块依次写入 writer。
	StreamChat(ctx context.Context, req ChatRequest, writer ChunkWriter) error
}

type geminiClient struct {
	cfg    config.GeminiConfig
	client *genai.Client
}

// NewClient 创建一个新的 Gemini 客户端。
func NewClient(ctx context.Context, cfg config.GeminiConfig) (Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 Gemini 客户端失败: %w", err)
	}
	return &geminiClient{cfg: cfg, client: client}, nil
}

// pickModel 根据是否携带图片选择模型变体。
func pickModel(cfg config.GeminiConfig, hasImage bool) string {
	if hasImage {
		return cfg.VisionModel
	}
	return cfg.Model
}

// StreamChat 调用流式生成接口，逐分块写入 writer。
// 流中途的任何错误会原样返回，由调用方决定本轮是否落库。
func (c *geminiClient) StreamChat(ctx context.Context, req ChatRequest, writer ChunkWriter) error {
	contents := BuildContents(req.History)

	parts := []*genai.Part{genai.NewPartFromText(req.Text)}
	if req.Image != nil {
		parts = append(parts, genai.NewPartFromBytes(req.Image.Data, req.Image.MIMEType))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	modelName := pickModel(c.cfg, req.Image != nil)
	for resp, err := range c.client.Models.GenerateContentStream(ctx, modelName, contents, nil) {
		if err != nil {
			return fmt.Errorf("调用 Gemini 流式接口失败: %w", err)
		}
		text := resp.Text()
		if text == "" {
			continue
		}
		if err := writer.WriteChunk(text); err != nil {
			return fmt.Errorf("写入响应分块失败: %w", err)
		}
	}
	return nil
}
