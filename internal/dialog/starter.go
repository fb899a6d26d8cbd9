package dialog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/user/voxchat/internal/types"
)

// DefaultGreeting is the assistant message that opens every new dialog.
const DefaultGreeting = "Hello, I'm calling to confirm your appointment with the therapist"

// ErrCreateFailed is returned when the dialog service rejects the request.
var ErrCreateFailed = errors.New("failed to create dialog")

// ErrInvalidForm wraps validation failures.
var ErrInvalidForm = errors.New("invalid form")

// Creator persists a local dialog.
type Creator interface {
	Create(ctx context.Context, tmpl *types.DialogIndex) (*types.DialogIndex, error)
}

// Recorder appends a message to a dialog without asking for a reply.
type Recorder interface {
	Record(ctx context.Context, dialogID types.DialogID, msg types.Message) (types.MessageID, error)
}

// Starter creates remote dialogs from appointment forms.
type Starter struct {
	baseURL  string
	client   *http.Client
	dialogs  Creator
	recorder Recorder
	greeting string
	now      func() time.Time
}

// StarterOption configures a Starter.
type StarterOption func(*Starter)

// WithHTTPClient overrides the HTTP client used to reach the dialog service.
func WithHTTPClient(c *http.Client) StarterOption {
	return func(s *Starter) { s.client = c }
}

// WithGreeting overrides the opening assistant message.
func WithGreeting(greeting string) StarterOption {
	return func(s *Starter) {
		if greeting != "" {
			s.greeting = greeting
		}
	}
}

// NewStarter returns a Starter posting to baseURL + "/v2/new_dialog".
func NewStarter(baseURL string, dialogs Creator, recorder Recorder, opts ...StarterOption) *Starter {
	s := &Starter{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		dialogs:  dialogs,
		recorder: recorder,
		greeting: DefaultGreeting,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start validates the form, asks the dialog service for a new dialog and
// records it locally together with the greeting.
func (s *Starter) Start(ctx context.Context, form Form) (*types.DialogIndex, error) {
	form.Normalize()
	if err := form.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidForm, err)
	}

	remoteID, err := s.requestDialog(ctx, form)
	if err != nil {
		return nil, err
	}

	d, err := s.dialogs.Create(ctx, &types.DialogIndex{
		DialogKey:  types.NewDialogKey("remote", remoteID),
		RemoteID:   remoteID,
		Patient:    form.Name,
		DoctorType: form.DoctorType,
	})
	if err != nil {
		return nil, fmt.Errorf("create dialog: %w", err)
	}
	slog.Info("dialog started", "dialog_id", string(d.DialogID), "remote_id", remoteID)

	if s.recorder != nil {
		_, err := s.recorder.Record(ctx, d.DialogID, types.Message{
			ID:      types.NewMessageID(),
			Role:    types.RoleAssistant,
			Content: s.greeting,
			At:      s.now(),
		})
		if err != nil {
			return d, fmt.Errorf("append greeting: %w", err)
		}
	}
	return d, nil
}

func (s *Starter) requestDialog(ctx context.Context, form Form) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, kv := range form.Fields() {
		if err := mw.WriteField(kv[0], kv[1]); err != nil {
			return "", fmt.Errorf("encode form: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("encode form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v2/new_dialog", &body)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%w: status %d", ErrCreateFailed, resp.StatusCode)
	}
	remoteID := strings.TrimSpace(string(data))
	if remoteID == "" {
		return "", fmt.Errorf("%w: empty dialog id", ErrCreateFailed)
	}
	return remoteID, nil
}
