package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"regexp"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/voxchat/internal/gateway"
	"github.com/user/voxchat/internal/types"
)

// TranscriptLookup returns the transcript of an audio attachment, or "".
type TranscriptLookup func(ctx context.Context, att types.Attachment) string

// Responder asks the remote dialog service for the assistant's reply to a
// user message and records it.
type Responder struct {
	url         string
	client      *http.Client
	service     *Service
	dialogs     types.DialogStore
	history     *History
	prompt      *Prompt
	limit       int
	transcripts TranscriptLookup
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithResponderClient overrides the HTTP client.
func WithResponderClient(c *http.Client) ResponderOption {
	return func(r *Responder) { r.client = c }
}

// WithHistoryLimit caps how many stored messages are considered.
func WithHistoryLimit(n int) ResponderOption {
	return func(r *Responder) { r.limit = n }
}

// WithTranscripts attaches voice transcripts to the turns sent upstream.
func WithTranscripts(fn TranscriptLookup) ResponderOption {
	return func(r *Responder) { r.transcripts = fn }
}

// WithPrompt overrides the system prompt.
func WithPrompt(p *Prompt) ResponderOption {
	return func(r *Responder) { r.prompt = p }
}

// NewResponder creates a Responder posting to url.
func NewResponder(url string, service *Service, dialogs types.DialogStore, history *History, opts ...ResponderOption) *Responder {
	prompt, _ := NewPrompt("")
	r := &Responder{
		url:     url,
		client:  &http.Client{Timeout: 60 * time.Second},
		service: service,
		dialogs: dialogs,
		history: history,
		prompt:  prompt,
		limit:   50,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type replyRequest struct {
	DialogID       types.DialogID  `json:"dialog_id"`
	RemoteDialogID string          `json:"remote_dialog_id,omitempty"`
	MessageID      types.MessageID `json:"message_id"`
	Messages       []Turn          `json:"messages"`
}

type replyResponse struct {
	Content string `json:"content"`
	Format  string `json:"format,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Handle produces the reply for run. It is installed as the gateway handler.
func (r *Responder) Handle(ctx context.Context, run *gateway.Run) error {
	d, err := r.dialogs.Get(ctx, run.DialogID)
	if err != nil {
		return gateway.Permanent(fmt.Errorf("get dialog: %w", err))
	}
	msgs, err := r.service.Messages(ctx, run.DialogID, r.limit)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		t := TurnFromMessage(m)
		if r.transcripts != nil {
			for _, a := range m.Attachments {
				if a.IsAudio() {
					t.Transcript = r.transcripts(ctx, a)
					break
				}
			}
		}
		turns = append(turns, t)
	}

	system, err := r.prompt.Render(d)
	if err != nil {
		return gateway.Permanent(err)
	}

	content, err := r.request(ctx, replyRequest{
		DialogID:       d.DialogID,
		RemoteDialogID: d.RemoteID,
		MessageID:      run.MessageID,
		Messages:       r.history.Window(system, turns),
	})
	if err != nil {
		return err
	}
	if content == "" {
		slog.Debug("empty reply", "dialog_id", string(d.DialogID), "run_id", string(run.ID))
		return nil
	}

	_, err = r.service.Record(ctx, d.DialogID, types.Message{Role: types.RoleAssistant, Content: content})
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	return nil
}

func (r *Responder) request(ctx context.Context, payload replyRequest) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", gateway.Permanent(fmt.Errorf("encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return "", gateway.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("responder request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read reply: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("responder status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", gateway.Permanent(err)
		}
		return "", err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		var reply replyResponse
		if err := json.Unmarshal(data, &reply); err != nil {
			return "", gateway.Permanent(fmt.Errorf("decode reply: %w", err))
		}
		if reply.Error != "" {
			return "", gateway.Permanent(fmt.Errorf("responder: %s", reply.Error))
		}
		if reply.Format == "html" || looksLikeHTML(reply.Content) {
			return toMarkdown(reply.Content), nil
		}
		return strings.TrimSpace(reply.Content), nil
	case "text/html":
		return toMarkdown(string(data)), nil
	default:
		return strings.TrimSpace(string(data)), nil
	}
}

var htmlTag = regexp.MustCompile(`(?i)<(p|br|div|ul|ol|li|strong|em|b|i|a|h[1-6])[\s>/]`)

func looksLikeHTML(s string) bool {
	return htmlTag.MatchString(s)
}

func toMarkdown(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		slog.Warn("convert reply to markdown", "error", err)
		return strings.TrimSpace(html)
	}
	return strings.TrimSpace(md)
}
