package bot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestLargestPhoto(t *testing.T) {
	tests := []struct {
		name   string
		photos []tgbotapi.PhotoSize
		want   string
	}{
		{
			name: "picks largest by size",
			photos: []tgbotapi.PhotoSize{
				{FileID: "small", FileSize: 100},
				{FileID: "large", FileSize: 9000},
				{FileID: "medium", FileSize: 2000},
			},
			want: "large",
		},
		{
			name: "tie keeps first encountered",
			photos: []tgbotapi.PhotoSize{
				{FileID: "first", FileSize: 500},
				{FileID: "second", FileSize: 500},
			},
			want: "first",
		},
		{
			name:   "single variant",
			photos: []tgbotapi.PhotoSize{{FileID: "only", FileSize: 1}},
			want:   "only",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := largestPhoto(tt.photos)
			if got == nil || got.FileID != tt.want {
				t.Fatalf("largestPhoto = %+v, want FileID %q", got, tt.want)
			}
		})
	}
}

func TestLargestPhotoEmpty(t *testing.T) {
	if got := largestPhoto(nil); got != nil {
		t.Fatalf("expected nil for empty slice, got %+v", got)
	}
}

func TestPhotoCacheFetchOnce(t *testing.T) {
	dir := t.TempDir()
	downloads := 0
	cache := &photoCache{
		dir: dir,
		download: func(fileID string) ([]byte, error) {
			downloads++
			return []byte("jpeg-bytes"), nil
		},
	}

	// 首次：下载并写入缓存
	data, err := cache.fetch("file-1", "unique-1")
	if err != nil {
		t.Fatalf("first fetch failed: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Fatalf("unexpected bytes: %q", data)
	}
	if _, err := os.Stat(filepath.Join(dir, "unique-1.jpg")); err != nil {
		t.Fatalf("cache file should exist: %v", err)
	}

	// 再次：命中缓存，不再下载
	if _, err := cache.fetch("file-1", "unique-1"); err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if downloads != 1 {
		t.Fatalf("download count = %d, want 1", downloads)
	}
}

func TestPhotoCacheDownloadError(t *testing.T) {
	cache := &photoCache{
		dir: t.TempDir(),
		download: func(fileID string) ([]byte, error) {
			return nil, errors.New("network down")
		},
	}

	if _, err := cache.fetch("file-2", "unique-2"); err == nil {
		t.Fatal("expected download error to propagate")
	}
}
