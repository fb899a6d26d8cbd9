// Package telegram lets a Telegram chat take part in dialogs: text sent to
// the bot is appended to the chat's current dialog.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/voxchat/internal/types"
)

// Bot is the subset of *tgbotapi.BotAPI used by the adapter.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Dialogs is the part of the chat service the adapter drives.
type Dialogs interface {
	List(ctx context.Context) ([]*types.DialogIndex, error)
	Get(ctx context.Context, id types.DialogID) (*types.DialogIndex, error)
}

// Appender records a user message and queues a reply.
type Appender interface {
	Append(ctx context.Context, dialogID types.DialogID, msg types.Message) (types.MessageID, error)
}

// Counter reports how many messages a dialog holds.
type Counter interface {
	Count(ctx context.Context, dialogID types.DialogID) (int64, error)
}

// Adapter bridges Telegram chats to dialogs.
type Adapter struct {
	bot      Bot
	dialogs  Dialogs
	appender Appender
	counter  Counter
	allowed  int64

	mu       sync.Mutex
	bindings map[int64]types.DialogID
}

// NewBot connects to the Bot API with token.
func NewBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return bot, nil
}

// New creates a Telegram adapter. When allowedChat is non-zero, updates from
// other chats are ignored.
func New(bot Bot, dialogs Dialogs, appender Appender, counter Counter, allowedChat int64) *Adapter {
	return &Adapter{
		bot:      bot,
		dialogs:  dialogs,
		appender: appender,
		counter:  counter,
		allowed:  allowedChat,
		bindings: make(map[int64]types.DialogID),
	}
}

// Start long-polls for updates until ctx is done.
func (a *Adapter) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := a.bot.GetUpdatesChan(u)

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message == nil || update.Message.Text == "" {
				continue
			}
			a.handleMessage(ctx, update.Message)
		case <-ctx.Done():
			a.bot.StopReceivingUpdates()
			return
		}
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if a.allowed != 0 && chatID != a.allowed {
		slog.Debug("ignoring telegram chat", "chat_id", chatID)
		return
	}
	if msg.IsCommand() {
		a.handleCommand(ctx, msg)
		return
	}

	dialogID, ok := a.binding(chatID)
	if !ok {
		a.sendResponse(chatID, "No dialog selected. Use /dialogs and /use <id>.")
		return
	}
	_, err := a.appender.Append(ctx, dialogID, types.Message{
		Role:    types.RoleUser,
		Content: msg.Text,
	})
	if err != nil {
		slog.Error("append telegram message", "dialog_id", string(dialogID), "error", err)
		a.sendResponse(chatID, "Sorry, I encountered an error processing your message.")
	}
}

func (a *Adapter) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		a.sendResponse(chatID, "Hello! Use /dialogs to list appointment dialogs and /use <id> to join one.")

	case "dialogs":
		dialogs, err := a.dialogs.List(ctx)
		if err != nil {
			a.sendResponse(chatID, "Error listing dialogs.")
			return
		}
		if len(dialogs) == 0 {
			a.sendResponse(chatID, "No dialogs yet.")
			return
		}
		var b strings.Builder
		for _, d := range dialogs {
			fmt.Fprintf(&b, "%s  %s  %s\n", d.DialogID, d.Patient, d.DoctorType)
		}
		a.sendResponse(chatID, b.String())

	case "use":
		id := types.DialogID(strings.TrimSpace(msg.CommandArguments()))
		if id == "" {
			a.sendResponse(chatID, "Usage: /use <dialog id>")
			return
		}
		if _, err := a.dialogs.Get(ctx, id); err != nil {
			a.sendResponse(chatID, "Unknown dialog.")
			return
		}
		a.bind(chatID, id)
		a.sendResponse(chatID, fmt.Sprintf("Now talking in dialog %s.", id))

	case "status":
		id, ok := a.binding(chatID)
		if !ok {
			a.sendResponse(chatID, "No dialog selected.")
			return
		}
		count, err := a.counter.Count(ctx, id)
		if err != nil {
			a.sendResponse(chatID, "Error fetching status.")
			return
		}
		a.sendResponse(chatID, fmt.Sprintf("Dialog: %s\nMessages: %d", id, count))

	default:
		a.sendResponse(chatID, "Unknown command. Available: /start, /dialogs, /use, /status")
	}
}

func (a *Adapter) bind(chatID int64, id types.DialogID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bindings[chatID] = id
}

func (a *Adapter) binding(chatID int64) (types.DialogID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.bindings[chatID]
	return id, ok
}

func (a *Adapter) sendResponse(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := a.bot.Send(msg); err != nil {
		slog.Warn("send telegram message", "chat_id", strconv.FormatInt(chatID, 10), "error", err)
	}
}
