package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/voxchat/internal/gateway"
	"github.com/user/voxchat/internal/types"
)

func newResponderFixture(t *testing.T, handler http.HandlerFunc) (*fixture, *Responder) {
	t.Helper()
	f := newFixture(t)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	r := NewResponder(srv.URL, f.service, f.dialogs, NewHistoryWithCounter(wordCounter, 1000, 100))
	return f, r
}

func TestResponderRecordsMarkdownReply(t *testing.T) {
	var got replyRequest
	f, r := newResponderFixture(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(replyResponse{Content: "<p>Your <strong>appointment</strong> is confirmed.</p>"})
	})
	ctx := context.Background()

	id, err := f.service.Record(ctx, f.dialogID, types.Message{Role: types.RoleUser, Content: "yes please"})
	if err != nil {
		t.Fatal(err)
	}
	run := gateway.NewRun(f.dialogID, id)
	if err := r.Handle(ctx, run); err != nil {
		t.Fatal(err)
	}

	if got.DialogID != f.dialogID || got.RemoteDialogID != "r1" || got.MessageID != id {
		t.Errorf("unexpected request ids: %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "yes please" {
		t.Errorf("unexpected request messages: %+v", got.Messages)
	}

	msgs, _ := f.service.Messages(ctx, f.dialogID, 0)
	if len(msgs) != 2 {
		t.Fatalf("expected reply recorded, got %d messages", len(msgs))
	}
	if msgs[1].Role != types.RoleAssistant {
		t.Errorf("expected assistant reply, got %s", msgs[1].Role)
	}
	if msgs[1].Content != "Your **appointment** is confirmed." {
		t.Errorf("expected markdown reply, got %q", msgs[1].Content)
	}
}

func TestResponderPlainTextReply(t *testing.T) {
	f, r := newResponderFixture(t, func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("  See you Tuesday.\n"))
	})
	ctx := context.Background()
	id, _ := f.service.Record(ctx, f.dialogID, types.Message{Role: types.RoleUser, Content: "ok"})

	if err := r.Handle(ctx, gateway.NewRun(f.dialogID, id)); err != nil {
		t.Fatal(err)
	}
	msgs, _ := f.service.Messages(ctx, f.dialogID, 0)
	if msgs[len(msgs)-1].Content != "See you Tuesday." {
		t.Errorf("unexpected reply %q", msgs[len(msgs)-1].Content)
	}
}

func TestResponderClientErrorIsPermanent(t *testing.T) {
	f, r := newResponderFixture(t, func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, `{"error":"bad dialog"}`, http.StatusBadRequest)
	})
	err := r.Handle(context.Background(), gateway.NewRun(f.dialogID, "m1"))
	if err == nil {
		t.Fatal("expected error")
	}
	if gateway.DefaultRetryPolicy().ShouldRetry(err, 1) {
		t.Errorf("expected 4xx to be permanent, got %v", err)
	}
}

func TestResponderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	f, r := newResponderFixture(t, func(w http.ResponseWriter, req *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "upstream down", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":"Back online."}`))
	})
	ctx := context.Background()

	gw := gateway.New(f.dialogs)
	gw.SetRetryPolicy(&gateway.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond})
	gw.SetHandler(r.Handle)
	gw.Start(ctx)
	defer gw.Stop()
	f.service.SetGateway(gw)

	if _, err := f.service.Append(ctx, f.dialogID, types.Message{Role: types.RoleUser, Content: "hello?"}); err != nil {
		t.Fatal(err)
	}
	if !gw.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 responder calls, got %d", calls.Load())
	}
	msgs, _ := f.service.Messages(ctx, f.dialogID, 0)
	if len(msgs) != 2 || msgs[1].Content != "Back online." {
		t.Errorf("unexpected transcript: %+v", msgs)
	}
}

func TestResponderIncludesTranscripts(t *testing.T) {
	var got replyRequest
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewDecoder(req.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	lookup := func(ctx context.Context, att types.Attachment) string {
		if att.URL == "http://files/voice" {
			return "I can make it"
		}
		return ""
	}
	r := NewResponder(srv.URL, f.service, f.dialogs, NewHistoryWithCounter(wordCounter, 1000, 0), WithTranscripts(lookup))
	ctx := context.Background()
	id, _ := f.service.Record(ctx, f.dialogID, types.Message{
		Role:        types.RoleUser,
		Content:     "🎤 Voice message",
		Attachments: []types.Attachment{{URL: "http://files/voice", Name: "voice-message.webm", ContentType: "audio/webm"}},
	})

	if err := r.Handle(ctx, gateway.NewRun(f.dialogID, id)); err != nil {
		t.Fatal(err)
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Transcript != "I can make it" {
		t.Errorf("expected transcript, got %q", last.Transcript)
	}
	msgs, _ := f.service.Messages(ctx, f.dialogID, 0)
	if len(msgs) != 1 {
		t.Errorf("expected empty reply to record nothing, got %d messages", len(msgs))
	}
}

func TestResponderUnknownDialog(t *testing.T) {
	_, r := newResponderFixture(t, func(w http.ResponseWriter, req *http.Request) {})
	err := r.Handle(context.Background(), gateway.NewRun("missing", "m1"))
	if err == nil {
		t.Fatal("expected error for unknown dialog")
	}
	if gateway.DefaultRetryPolicy().ShouldRetry(err, 1) {
		t.Errorf("expected unknown dialog to be permanent, got %v", err)
	}
}
