package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/voice"
	"github.com/user/voxchat/internal/voice/mock"
)

type browser struct {
	t    *testing.T
	conn *websocket.Conn
	seq  int64
	last *SnapshotView
}

func startSession(t *testing.T, cfg Config) *browser {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		Serve(r.Context(), conn, cfg)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return &browser{t: t, conn: conn}
}

func (b *browser) send(v any) {
	b.t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		b.t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.conn.Write(ctx, websocket.MessageText, data); err != nil {
		b.t.Fatalf("write: %v", err)
	}
}

func (b *browser) command(typ string, text string) int64 {
	b.seq++
	b.send(Inbound{Type: typ, ID: b.seq, Text: text})
	return b.seq
}

func (b *browser) binary(data []byte) {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		b.t.Fatalf("write binary: %v", err)
	}
}

// expect reads until a message matches, returning it.
func (b *browser) expect(match func(Outbound) bool) Outbound {
	b.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			b.t.Fatalf("read: %v", err)
		}
		var msg Outbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.t.Fatalf("decode: %v", err)
		}
		if msg.Type == MsgSnapshot {
			b.last = msg.Snapshot
		}
		if match(msg) {
			return msg
		}
	}
}

func (b *browser) expectType(typ string) Outbound {
	b.t.Helper()
	return b.expect(func(m Outbound) bool { return m.Type == typ })
}

func (b *browser) expectResult(id int64) Outbound {
	b.t.Helper()
	return b.expect(func(m Outbound) bool { return m.Type == MsgResult && m.ID == id })
}

func testConfig() (Config, *mock.Uploader, *mock.Appender) {
	up := &mock.Uploader{Result: types.Attachment{URL: "http://files/voice", Name: "voice-message.webm", ContentType: "audio/webm"}}
	app := &mock.Appender{}
	return Config{
		Uploader: up,
		Appender: app,
		Previews: voice.NewPreviews("http://localhost/api/previews"),
	}, up, app
}

func record(t *testing.T, b *browser) {
	t.Helper()
	start := b.command(CmdStart, "")
	open := b.expectType(MsgCaptureOpen)
	if open.Constraints == nil || open.Constraints.MimeType != voice.MimeType {
		t.Fatalf("expected constraints with mime type, got %+v", open.Constraints)
	}
	b.send(Inbound{Type: EvCaptureOpened})
	if res := b.expectResult(start); res.Error != "" {
		t.Fatalf("start failed: %s", res.Error)
	}

	b.binary(make([]byte, 150))
	b.binary(make([]byte, 50))

	stop := b.command(CmdStop, "")
	b.expectType(MsgCaptureFinalize)
	b.send(Inbound{Type: EvCaptureEnded})
	if res := b.expectResult(stop); res.Error != "" {
		t.Fatalf("stop failed: %s", res.Error)
	}
}

func TestSessionRecordAndSubmit(t *testing.T) {
	cfg, up, app := testConfig()
	b := startSession(t, cfg)

	record(t, b)
	snap := b.last
	if snap == nil || snap.Recorder != "stopped" {
		t.Fatalf("expected stopped snapshot before the stop result, got %+v", snap)
	}
	if snap.SizeBytes != 200 {
		t.Errorf("expected 200 bytes, got %d", snap.SizeBytes)
	}
	if !strings.HasPrefix(snap.PreviewURL, "http://localhost/api/previews/") {
		t.Errorf("unexpected preview url %q", snap.PreviewURL)
	}

	input := b.command(CmdSetInput, "running late")
	b.expectResult(input)
	submit := b.command(CmdSubmit, "")
	if res := b.expectResult(submit); res.Error != "" {
		t.Fatalf("submit failed: %s", res.Error)
	}

	if files := up.Uploads(); len(files) != 1 || len(files[0].Data) != 200 {
		t.Fatalf("expected one 200 byte upload, got %+v", files)
	}
	msgs := app.Appended()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 appended message, got %d", len(msgs))
	}
	if msgs[0].Content != "running late" || len(msgs[0].Attachments) != 1 {
		t.Errorf("unexpected message %+v", msgs[0])
	}
}

func TestSessionCaptureDenied(t *testing.T) {
	cfg, _, _ := testConfig()
	b := startSession(t, cfg)

	start := b.command(CmdStart, "")
	b.expectType(MsgCaptureOpen)
	b.send(Inbound{Type: EvCaptureDenied, Error: "NotAllowedError"})

	// The notice is raised before the start call returns.
	b.expect(func(m Outbound) bool {
		return m.Type == MsgNotice && m.Message == "Could not access the microphone"
	})
	res := b.expectResult(start)
	if res.Error == "" {
		t.Fatal("expected start error")
	}
	if res.Message != "Could not access the microphone" {
		t.Errorf("unexpected message %q", res.Message)
	}
}

func TestSessionCommandsRunInOrder(t *testing.T) {
	cfg, _, app := testConfig()
	b := startSession(t, cfg)

	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("msg-%d", i)
		b.command(CmdSetInput, text)
		submit := b.command(CmdSubmit, "")

		res := b.expectResult(submit)
		if res.Error != "" {
			t.Fatalf("submit %d failed: %s", i, res.Error)
		}
		msgs := app.Appended()
		if len(msgs) != i+1 {
			t.Fatalf("expected %d messages, got %d", i+1, len(msgs))
		}
		if got := msgs[i].Content; got != text {
			t.Fatalf("expected content %q, got %q", text, got)
		}
	}
}

func TestSessionPlayback(t *testing.T) {
	cfg, _, _ := testConfig()
	b := startSession(t, cfg)
	record(t, b)

	play := b.command(CmdPlay, "")
	if load := b.expectType(MsgPlaybackLoad); !strings.HasPrefix(load.URL, "http://localhost/api/previews/") {
		t.Errorf("unexpected load url %q", load.URL)
	}
	b.expectType(MsgPlaybackPlay)
	b.expectResult(play)

	b.send(Inbound{Type: EvPlayback, Kind: "timeupdate", PositionMS: 500, DurationMS: 1000})
	b.expect(func(m Outbound) bool {
		return m.Type == MsgSnapshot && m.Snapshot.Player == "playing" && m.Snapshot.Progress == 50
	})

	b.send(Inbound{Type: EvPlayback, Kind: "ended", PositionMS: 1000, DurationMS: 1000})
	b.expect(func(m Outbound) bool {
		return m.Type == MsgSnapshot && m.Snapshot.Player == "ready"
	})
}

func TestSessionDiscard(t *testing.T) {
	cfg, _, _ := testConfig()
	b := startSession(t, cfg)
	record(t, b)

	discard := b.command(CmdDiscard, "")
	b.expectResult(discard)
	if b.last == nil || b.last.Recorder != "idle" || b.last.PreviewURL != "" {
		t.Errorf("expected idle snapshot without preview, got %+v", b.last)
	}
	if cfg.Previews.Len() != 0 {
		t.Errorf("expected preview revoked, got %d", cfg.Previews.Len())
	}
}
