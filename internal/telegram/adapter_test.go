package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/voxchat/internal/types"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []string
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sent) == 0 {
		return ""
	}
	return b.sent[len(b.sent)-1]
}

type fakeDialogs struct {
	dialogs  []*types.DialogIndex
	appended []types.Message
}

func (f *fakeDialogs) List(context.Context) ([]*types.DialogIndex, error) { return f.dialogs, nil }

func (f *fakeDialogs) Get(_ context.Context, id types.DialogID) (*types.DialogIndex, error) {
	for _, d := range f.dialogs {
		if d.DialogID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dialog not found: %s", id)
}

func (f *fakeDialogs) Append(_ context.Context, id types.DialogID, msg types.Message) (types.MessageID, error) {
	msg.DialogID = id
	f.appended = append(f.appended, msg)
	return "m1", nil
}

func (f *fakeDialogs) Count(_ context.Context, id types.DialogID) (int64, error) {
	return int64(len(f.appended)), nil
}

func command(chatID int64, text string) *tgbotapi.Message {
	name := strings.Fields(text)[0]
	return &tgbotapi.Message{
		Chat:     &tgbotapi.Chat{ID: chatID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(name)}},
	}
}

func text(chatID int64, s string) *tgbotapi.Message {
	return &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}, Text: s}
}

func newAdapter(allowed int64) (*Adapter, *fakeBot, *fakeDialogs) {
	bot := &fakeBot{}
	store := &fakeDialogs{dialogs: []*types.DialogIndex{{DialogID: "d1", Patient: "Ada", DoctorType: "surgeon"}}}
	return New(bot, store, store, store, allowed), bot, store
}

func TestAdapterRequiresBinding(t *testing.T) {
	a, bot, store := newAdapter(0)
	a.handleMessage(context.Background(), text(5, "hello"))
	if len(store.appended) != 0 {
		t.Errorf("expected no append without binding, got %d", len(store.appended))
	}
	if !strings.Contains(bot.last(), "No dialog selected") {
		t.Errorf("unexpected reply %q", bot.last())
	}
}

func TestAdapterUseAndAppend(t *testing.T) {
	a, bot, store := newAdapter(0)
	ctx := context.Background()

	a.handleMessage(ctx, command(5, "/use d1"))
	if bot.last() != "Now talking in dialog d1." {
		t.Errorf("unexpected reply %q", bot.last())
	}
	a.handleMessage(ctx, text(5, "I will be there"))
	if len(store.appended) != 1 {
		t.Fatalf("expected 1 append, got %d", len(store.appended))
	}
	got := store.appended[0]
	if got.DialogID != "d1" || got.Role != types.RoleUser || got.Content != "I will be there" {
		t.Errorf("unexpected message %+v", got)
	}

	a.handleMessage(ctx, command(5, "/status"))
	if bot.last() != "Dialog: d1\nMessages: 1" {
		t.Errorf("unexpected status %q", bot.last())
	}
}

func TestAdapterUnknownDialog(t *testing.T) {
	a, bot, _ := newAdapter(0)
	a.handleMessage(context.Background(), command(5, "/use nope"))
	if bot.last() != "Unknown dialog." {
		t.Errorf("unexpected reply %q", bot.last())
	}
}

func TestAdapterListsDialogs(t *testing.T) {
	a, bot, _ := newAdapter(0)
	a.handleMessage(context.Background(), command(5, "/dialogs"))
	if !strings.Contains(bot.last(), "d1  Ada  surgeon") {
		t.Errorf("unexpected list %q", bot.last())
	}
}

func TestAdapterIgnoresOtherChats(t *testing.T) {
	a, bot, _ := newAdapter(42)
	a.handleMessage(context.Background(), command(5, "/start"))
	if bot.last() != "" {
		t.Errorf("expected no reply to foreign chat, got %q", bot.last())
	}
}
