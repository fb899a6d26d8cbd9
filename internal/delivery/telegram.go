package delivery

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/voxchat/internal/types"
)

const maxTelegramMessage = 4096

// TelegramSender is the subset of *tgbotapi.BotAPI used by the sink.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Telegram mirrors dialog messages into a single chat. Audio attachments are
// sent as documents.
type Telegram struct {
	bot    TelegramSender
	chatID int64
	open   Opener
}

// NewTelegram creates a Telegram sink. When open is nil, attachments are
// sent by URL and Telegram fetches them itself.
func NewTelegram(bot TelegramSender, chatID int64, open Opener) *Telegram {
	return &Telegram{bot: bot, chatID: chatID, open: open}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, ev Event) error {
	text := formatText(ev)
	for _, att := range ev.Message.Attachments {
		if err := t.sendAttachment(ctx, att, text); err != nil {
			return err
		}
		text = ""
	}
	if text == "" {
		return nil
	}
	for _, part := range splitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		if _, err := t.bot.Send(msg); err != nil {
			// Retry without markdown if it fails
			msg.ParseMode = ""
			if _, err := t.bot.Send(msg); err != nil {
				return fmt.Errorf("send message: %w", err)
			}
		}
	}
	return nil
}

func (t *Telegram) sendAttachment(ctx context.Context, att types.Attachment, caption string) error {
	var file tgbotapi.RequestFileData = tgbotapi.FileURL(att.URL)
	if t.open != nil {
		rc, err := t.open(ctx, att)
		if err != nil {
			return fmt.Errorf("open attachment: %w", err)
		}
		defer rc.Close()
		file = tgbotapi.FileReader{Name: att.Name, Reader: rc}
	}

	doc := tgbotapi.NewDocument(t.chatID, file)
	if len(caption) > 1024 {
		caption = caption[:1024]
	}
	doc.Caption = caption
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	slog.Debug("mirrored attachment", "sink", "telegram", "name", att.Name)
	return nil
}

func formatText(ev Event) string {
	who := "Patient"
	if ev.Message.Role == types.RoleAssistant {
		who = "Assistant"
	}
	if ev.Dialog.Patient != "" && ev.Message.Role == types.RoleUser {
		who = ev.Dialog.Patient
	}
	if ev.Message.Content == "" {
		return ""
	}
	return fmt.Sprintf("%s: %s", who, ev.Message.Content)
}

func splitMessage(text string) []string {
	if len(text) <= maxTelegramMessage {
		return []string{text}
	}
	var parts []string
	for len(text) > 0 {
		end := maxTelegramMessage
		if end > len(text) {
			end = len(text)
		}
		parts = append(parts, text[:end])
		text = text[end:]
	}
	return parts
}
