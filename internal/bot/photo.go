package bot

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/speshiou/gemini-telegram-bot/pkg/log"
)

// largestPhoto 返回声明字节数最大的分辨率变体，体积相同时取先出现者。
// Telegram 对同一张照片总是提供多个尺寸。
func largestPhoto(photos []tgbotapi.PhotoSize) *tgbotapi.PhotoSize {
	if len(photos) == 0 {
		return nil
	}
	largest := &photos[0]
	for i := 1; i < len(photos); i++ {
		if photos[i].FileSize > largest.FileSize {
			largest = &photos[i]
		}
	}
	return largest
}

// photoCache 以 Telegram file_unique_id 为键在本地磁盘缓存图片字节，
// 命中时跳过重新下载。
type photoCache struct {
	dir      string
	download func(fileID string) ([]byte, error)
}

func newPhotoCache(dir string, api *tgbotapi.BotAPI) *photoCache {
	return &photoCache{
		dir: dir,
		download: func(fileID string) ([]byte, error) {
			url, err := api.GetFileDirectURL(fileID)
			if err != nil {
				return nil, fmt.Errorf("获取文件下载地址失败: %w", err)
			}
			resp, err := http.Get(url)
			if err != nil {
				return nil, fmt.Errorf("下载图片失败: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return nil, fmt.Errorf("下载图片返回非 200 状态: %s", resp.Status)
			}
			return io.ReadAll(resp.Body)
		},
	}
}

// fetch 返回图片字节，优先读本地缓存，未命中时下载并写入缓存。
func (c *photoCache) fetch(fileID, fileUniqueID string) ([]byte, error) {
	path := filepath.Join(c.dir, fileUniqueID+".jpg")
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	data, err := c.download(fileID)
	if err != nil {
		return nil, err
	}

	// 缓存写入失败不影响本轮，下次重新下载即可
	if err := os.MkdirAll(c.dir, os.ModePerm); err == nil {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			log.Warnf("写入图片缓存失败: %s, err=%v", path, err)
		}
	}
	return data, nil
}
