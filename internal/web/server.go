// Package web serves the voxchat HTTP API and the browser voice sessions.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/user/voxchat/internal/chat"
	"github.com/user/voxchat/internal/dialog"
	"github.com/user/voxchat/internal/gateway"
	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/upload"
	"github.com/user/voxchat/internal/voice"
	"github.com/user/voxchat/internal/voice/remote"
	"github.com/user/voxchat/internal/web/metrics"
)

const defaultMessageLimit = 200

// DialogStarter creates dialogs from the appointment form.
type DialogStarter interface {
	Start(ctx context.Context, form dialog.Form) (*types.DialogIndex, error)
}

// Options wires the server to the rest of the application. Dialogs, Chat
// and Uploads are required.
type Options struct {
	Dialogs  types.DialogStore
	Chat     *chat.Service
	Starter  DialogStarter
	Uploads  *upload.Handler
	Previews *voice.Previews
	Metrics  *metrics.Metrics

	// QueueStats reports the reply queue for the metrics scrape.
	QueueStats func() gateway.QueueStats

	Constraints    voice.Constraints
	OriginPatterns []string
	Logger         *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	opts   Options
	log    *slog.Logger
	router chi.Router
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a Server and registers its routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Previews == nil {
		opts.Previews = voice.NewPreviews("/api/previews")
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		router: chi.NewRouter(),
		ctx:    ctx,
		cancel: cancel,
	}

	r := s.router
	r.Use(RequestLogger(s.log))
	if opts.Metrics != nil {
		r.Use(metrics.RequestMiddleware(opts.Metrics))
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler(s.updateGauges))
	}
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/files/upload", opts.Uploads.ServeUpload)
		r.Get("/files/{id}", opts.Uploads.ServeFile)
		r.Get("/files/{id}/transcript", opts.Uploads.ServeTranscript)
		r.Get("/previews/{id}", s.handlePreview)

		r.Get("/dialogs", s.handleListDialogs)
		r.Post("/dialogs", s.handleStartDialog)
		r.Get("/dialogs/{id}/messages", s.handleMessages)
		r.Post("/dialogs/{id}/messages", s.handleAppend)

		r.Get("/suggestions", s.handleSuggestions)
		r.Get("/voice/ws", s.handleVoice)
	})
	return s
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close ends every open voice session.
func (s *Server) Close() {
	s.cancel()
}

func (s *Server) updateGauges() {
	if s.opts.QueueStats == nil {
		return
	}
	st := s.opts.QueueStats()
	s.opts.Metrics.SetQueue(st.Pending, st.Active, st.Failed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	data, ct, ok := s.opts.Previews.Resolve(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "preview not found")
		return
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleListDialogs(w http.ResponseWriter, r *http.Request) {
	dialogs, err := s.opts.Dialogs.List(r.Context())
	if err != nil {
		s.log.Error("list dialogs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if dialogs == nil {
		dialogs = []*types.DialogIndex{}
	}
	sort.Slice(dialogs, func(i, j int) bool {
		return dialogs[i].UpdatedAt.After(dialogs[j].UpdatedAt)
	})
	writeJSON(w, http.StatusOK, dialogs)
}

func (s *Server) handleStartDialog(w http.ResponseWriter, r *http.Request) {
	if s.opts.Starter == nil {
		writeError(w, http.StatusServiceUnavailable, "dialog service not configured")
		return
	}
	var form dialog.Form
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	d, err := s.opts.Starter.Start(r.Context(), form)
	switch {
	case errors.Is(err, dialog.ErrInvalidForm):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:  dialog.ErrInvalidForm.Error(),
			Fields: dialog.FieldErrors(err),
		})
		return
	case errors.Is(err, dialog.ErrCreateFailed):
		s.log.Warn("remote dialog create failed", "error", err)
		writeError(w, http.StatusBadGateway, dialog.ErrCreateFailed.Error())
		return
	case err != nil:
		s.log.Error("start dialog failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.opts.Metrics != nil {
		s.opts.Metrics.IncDialogsStarted()
	}
	writeJSON(w, http.StatusCreated, d)
}

// dialogFromPath resolves {id} or writes a 404.
func (s *Server) dialogFromPath(w http.ResponseWriter, r *http.Request) (types.DialogID, bool) {
	id := types.DialogID(chi.URLParam(r, "id"))
	if _, err := s.opts.Dialogs.Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "dialog not found")
		return "", false
	}
	return id, true
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dialogFromPath(w, r)
	if !ok {
		return
	}
	limit := defaultMessageLimit
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}

	msgs, err := s.opts.Chat.Messages(r.Context(), id, limit)
	if err != nil {
		s.log.Error("tail messages failed", "dialog_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleAppend(w http.ResponseWriter, r *http.Request) {
	id, ok := s.dialogFromPath(w, r)
	if !ok {
		return
	}
	var msg types.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if msg.Role == "" {
		msg.Role = types.RoleUser
	}
	if msg.Role != types.RoleUser && msg.Role != types.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}

	msgID, err := s.opts.Chat.Append(r.Context(), id, msg)
	if errors.Is(err, chat.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.log.Error("append message failed", "dialog_id", string(id), "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if s.opts.Metrics != nil {
		kind := "text"
		for _, att := range msg.Attachments {
			if att.IsAudio() {
				kind = "voice"
				break
			}
		}
		s.opts.Metrics.IncMessages(string(msg.Role), kind)
	}
	writeJSON(w, http.StatusCreated, chat.AppendResponse{ID: msgID})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chat.SuggestedActions())
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	id := types.DialogID(r.URL.Query().Get("dialog_id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "dialog_id is required")
		return
	}
	if _, err := s.opts.Dialogs.Get(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "dialog not found")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.opts.OriginPatterns})
	if err != nil {
		s.log.Warn("voice websocket accept failed", "dialog_id", string(id), "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	log := s.log.With("dialog_id", string(id))
	if s.opts.Metrics != nil {
		s.opts.Metrics.VoiceSessionOpened()
		defer s.opts.Metrics.VoiceSessionClosed()
	}
	log.Info("voice session opened")
	err = remote.Serve(ctx, conn, remote.Config{
		Uploader:    s.opts.Uploads,
		Appender:    s.opts.Chat.ForDialog(id),
		Previews:    s.opts.Previews,
		Constraints: s.opts.Constraints,
		Logger:      log,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("voice session ended", "error", err)
		return
	}
	log.Info("voice session closed")
}
