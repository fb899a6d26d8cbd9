// Package chat records dialog messages, mirrors them to delivery sinks and
// asks the responder for assistant replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/user/voxchat/internal/delivery"
	"github.com/user/voxchat/internal/gateway"
	"github.com/user/voxchat/internal/types"
)

// FailureReply is recorded when the responder gives up on a message.
const FailureReply = "Sorry, something went wrong processing your message."

// ErrEmptyMessage is returned for messages with neither text nor attachments.
var ErrEmptyMessage = errors.New("message has no content")

// Service is the message log of every dialog.
type Service struct {
	dialogs  types.DialogStore
	messages types.MessageStore
	sinks    *delivery.Registry
	gateway  *gateway.Gateway
	now      func() time.Time

	mu sync.Mutex // serializes dialog index updates
	wg sync.WaitGroup
}

// NewService creates a Service over the given stores.
func NewService(dialogs types.DialogStore, messages types.MessageStore) *Service {
	return &Service{dialogs: dialogs, messages: messages, now: time.Now}
}

// SetDelivery mirrors every recorded message through reg.
func (s *Service) SetDelivery(reg *delivery.Registry) {
	s.sinks = reg
}

// SetGateway queues a reply run for every user message.
func (s *Service) SetGateway(gw *gateway.Gateway) {
	s.gateway = gw
}

// Record stores msg in the dialog and mirrors it. No reply is requested.
func (s *Service) Record(ctx context.Context, dialogID types.DialogID, msg types.Message) (types.MessageID, error) {
	d, err := s.dialogs.Get(ctx, dialogID)
	if err != nil {
		return "", fmt.Errorf("get dialog: %w", err)
	}
	if msg.Role == "" {
		return "", fmt.Errorf("message role is required")
	}
	if msg.Content == "" && len(msg.Attachments) == 0 {
		return "", ErrEmptyMessage
	}
	if msg.ID == "" {
		msg.ID = types.NewMessageID()
	}
	if msg.At.IsZero() {
		msg.At = s.now()
	}
	msg.DialogID = dialogID

	if err := s.messages.Append(ctx, &msg); err != nil {
		return "", fmt.Errorf("append message: %w", err)
	}
	if err := s.touch(ctx, d.DialogID, msg.Seq); err != nil {
		slog.Warn("update dialog index", "dialog_id", string(dialogID), "error", err)
	}
	s.deliver(ctx, d, msg)
	return msg.ID, nil
}

// Append records msg and, for user messages, queues a reply.
func (s *Service) Append(ctx context.Context, dialogID types.DialogID, msg types.Message) (types.MessageID, error) {
	id, err := s.Record(ctx, dialogID, msg)
	if err != nil {
		return "", err
	}
	if msg.Role != types.RoleUser || s.gateway == nil {
		return id, nil
	}

	_, err = s.gateway.Submit(ctx, dialogID, id, gateway.WithOnFailure(func(error) {
		ctx := context.WithoutCancel(ctx)
		if _, err := s.Record(ctx, dialogID, types.Message{Role: types.RoleAssistant, Content: FailureReply}); err != nil {
			slog.Error("record failure reply", "dialog_id", string(dialogID), "error", err)
		}
	}))
	if err != nil {
		slog.Warn("queue reply", "dialog_id", string(dialogID), "message_id", string(id), "error", err)
	}
	return id, nil
}

// Messages returns the newest limit messages in order. limit <= 0 returns all.
func (s *Service) Messages(ctx context.Context, dialogID types.DialogID, limit int) ([]*types.Message, error) {
	if _, err := s.dialogs.Get(ctx, dialogID); err != nil {
		return nil, fmt.Errorf("get dialog: %w", err)
	}
	return s.messages.Tail(ctx, dialogID, limit)
}

// Flush waits for pending deliveries.
func (s *Service) Flush() {
	s.wg.Wait()
}

func (s *Service) touch(ctx context.Context, id types.DialogID, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, err := s.dialogs.Get(ctx, id)
	if err != nil {
		return err
	}
	if seq > d.LastMessage {
		d.LastMessage = seq
	}
	d.UpdatedAt = s.now()
	return s.dialogs.Update(ctx, d)
}

func (s *Service) deliver(ctx context.Context, d *types.DialogIndex, msg types.Message) {
	if s.sinks == nil || s.sinks.Len() == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := s.sinks.Deliver(ctx, delivery.Event{Dialog: d, Message: msg}); err != nil {
			slog.Warn("mirror message", "dialog_id", string(d.DialogID), "message_id", string(msg.ID), "error", err)
		}
	}()
}

// ForDialog binds the service to one dialog for callers that only know
// about messages.
func (s *Service) ForDialog(id types.DialogID) *DialogAppender {
	return &DialogAppender{service: s, dialogID: id}
}

// DialogAppender appends messages to a single dialog.
type DialogAppender struct {
	service  *Service
	dialogID types.DialogID
}

func (a *DialogAppender) Append(ctx context.Context, msg types.Message) (types.MessageID, error) {
	return a.service.Append(ctx, a.dialogID, msg)
}
