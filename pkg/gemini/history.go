package gemini

import (
	"github.com/speshiou/gemini-telegram-bot/internal/model"
	"google.golang.org/genai"
)

// BuildContents 将存储的历史轮次展开为模型所需的角色标注消息序列：
// 每轮按时间顺序展开为一条 user 消息加一条 model 消息，N 轮恰好产生 2N 条。
// 纯函数，不修改输入。
func BuildContents(turns []model.Turn) []*genai.Content {
	contents := make([]*genai.Content, 0, len(turns)*2)
	for _, t := range turns {
		contents = append(contents,
			genai.NewContentFromText(t.User, genai.RoleUser),
			genai.NewContentFromText(t.Model, genai.RoleModel),
		)
	}
	return contents
}
