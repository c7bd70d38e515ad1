package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/speshiou/gemini-telegram-bot/internal/repository"
	"github.com/speshiou/gemini-telegram-bot/pkg/gemini"
)

// fakeGemini 按预设分块驱动 writer，再返回预设错误。
type fakeGemini struct {
	chunks  []string
	err     error
	lastReq gemini.ChatRequest
	calls   int
}

func (f *fakeGemini) StreamChat(ctx context.Context, req gemini.ChatRequest, writer gemini.ChunkWriter) error {
	f.calls++
	f.lastReq = req
	for _, c := range f.chunks {
		if err := writer.WriteChunk(c); err != nil {
			return err
		}
	}
	return f.err
}

// fakeMessenger 记录所有出站操作。
type fakeMessenger struct {
	nextMessageID int
	sent          []string
	edits         []string
	typingCount   int
	sendErr       error
}

func (f *fakeMessenger) SendReply(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.nextMessageID++
	f.sent = append(f.sent, text)
	return f.nextMessageID, nil
}

func (f *fakeMessenger) EditMessage(ctx context.Context, chatID int64, messageID int, text string) error {
	f.edits = append(f.edits, text)
	return nil
}

func (f *fakeMessenger) SendTyping(ctx context.Context, chatID int64) error {
	f.typingCount++
	return nil
}

func newTestService(gem *fakeGemini, msgr *fakeMessenger, maxHistory int) (ChatService, repository.ChatRepository) {
	repo := repository.NewMemoryChatRepository()
	return NewChatService(gem, repo, msgr, maxHistory), repo
}

func TestHandleTurnFirstTurn(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{chunks: []string{"Hello", ", world", "!"}}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 1, MessageID: 100, Text: "hi"})
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	// 空历史的首轮：模型收到空历史加一条新文本
	if len(gem.lastReq.History) != 0 {
		t.Fatalf("model should receive empty history, got %d turns", len(gem.lastReq.History))
	}
	if gem.lastReq.Text != "hi" || gem.lastReq.Image != nil {
		t.Fatalf("unexpected request payload: %+v", gem.lastReq)
	}

	// 一条占位消息加若干次编辑，最后一次编辑是完整回复
	if len(msgr.sent) != 1 {
		t.Fatalf("expected exactly one placeholder message, got %d", len(msgr.sent))
	}
	if len(msgr.edits) == 0 {
		t.Fatal("expected at least one placeholder edit")
	}
	if last := msgr.edits[len(msgr.edits)-1]; last != "Hello, world!" {
		t.Fatalf("final edit = %q, want full answer", last)
	}

	// 完成后恰好存入一轮
	history, err := repo.GetHistory(ctx, 1)
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("stored history length = %d, want 1", len(history))
	}
	if history[0].User != "hi" || history[0].Model != "Hello, world!" {
		t.Fatalf("unexpected stored turn: %+v", history[0])
	}
}

func TestHandleTurnWithImage(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{chunks: []string{"a cat"}}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	img := &gemini.ImagePart{Data: []byte{0xFF, 0xD8}, MIMEType: "image/jpeg"}
	err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 2, MessageID: 5, Text: "what is this?", Image: img})
	if err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if gem.lastReq.Image == nil {
		t.Fatal("image payload should be forwarded to the model")
	}
	if gem.lastReq.Image.MIMEType != "image/jpeg" {
		t.Fatalf("image MIME = %q, want image/jpeg", gem.lastReq.Image.MIMEType)
	}

	// 落库的 user_message 只保留原始文本，不含图片字节
	history, _ := repo.GetHistory(ctx, 2)
	if len(history) != 1 {
		t.Fatalf("stored history length = %d, want 1", len(history))
	}
	if history[0].User != "what is this?" {
		t.Fatalf("stored user message = %q, want text only", history[0].User)
	}
}

func TestHandleTurnStreamFailure(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{err: errors.New("upstream unreachable")}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 3, MessageID: 9, Text: "hi"})
	if err == nil {
		t.Fatal("expected an error when the stream fails")
	}

	// 占位消息已创建但没有产出文本：历史必须保持原状
	history, _ := repo.GetHistory(ctx, 3)
	if len(history) != 0 {
		t.Fatalf("no turn should be persisted on failure, got %d", len(history))
	}
	// 占位消息被改成了错误提示
	if len(msgr.edits) == 0 || !strings.Contains(msgr.edits[len(msgr.edits)-1], "Sorry") {
		t.Fatalf("placeholder should be edited to a failure notice, edits=%v", msgr.edits)
	}
}

func TestHandleTurnEmptyResponse(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	if err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 4, MessageID: 1, Text: "hi"}); err != nil {
		t.Fatalf("empty response should not be an error: %v", err)
	}

	history, _ := repo.GetHistory(ctx, 4)
	if len(history) != 0 {
		t.Fatalf("empty response must not be persisted, got %d turns", len(history))
	}
}

func TestHandleTurnCarriesHistory(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{chunks: []string{"a3"}}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	if err := repo.EnsureChat(ctx, 6); err != nil {
		t.Fatalf("EnsureChat failed: %v", err)
	}
	_ = repo.AppendTurn(ctx, 6, "q1", "a1", 20)
	_ = repo.AppendTurn(ctx, 6, "q2", "a2", 20)

	if err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 6, MessageID: 1, Text: "q3"}); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}

	if len(gem.lastReq.History) != 2 {
		t.Fatalf("model should receive 2 prior turns, got %d", len(gem.lastReq.History))
	}
	history, _ := repo.GetHistory(ctx, 6)
	if len(history) != 3 {
		t.Fatalf("stored history length = %d, want 3", len(history))
	}
}

func TestHandleTurnAppliesHistoryBound(t *testing.T) {
	ctx := context.Background()
	msgr := &fakeMessenger{}
	gem := &fakeGemini{chunks: []string{"ok"}}
	svc, repo := newTestService(gem, msgr, 2)

	for _, q := range []string{"q1", "q2", "q3"} {
		if err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 8, MessageID: 1, Text: q}); err != nil {
			t.Fatalf("HandleTurn(%s) failed: %v", q, err)
		}
	}

	history, _ := repo.GetHistory(ctx, 8)
	if len(history) != 2 {
		t.Fatalf("history length = %d, want bound of 2", len(history))
	}
	if history[0].User != "q2" || history[1].User != "q3" {
		t.Fatalf("oldest turn should be dropped first, got %+v", history)
	}
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	gem := &fakeGemini{chunks: []string{"a"}}
	msgr := &fakeMessenger{}
	svc, repo := newTestService(gem, msgr, 20)

	if err := svc.HandleTurn(ctx, IncomingTurn{ChatID: 7, MessageID: 1, Text: "q"}); err != nil {
		t.Fatalf("HandleTurn failed: %v", err)
	}
	if err := svc.Reset(ctx, 7); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}

	history, _ := repo.GetHistory(ctx, 7)
	if len(history) != 0 {
		t.Fatalf("history should be empty after reset, got %d turns", len(history))
	}
	// 记录本身仍然存在
	chat, _ := repo.GetChat(ctx, 7)
	if chat == nil {
		t.Fatal("chat record should survive a reset")
	}
}
