package transcribe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/user/voxchat/internal/state"
)

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestOpenAITranscribe(t *testing.T) {
	var gotPath, gotModel, gotFile string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		if f, h, err := r.FormFile("file"); err == nil {
			io.ReadAll(f)
			gotFile = h.Filename
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"  hello doctor  "}`))
	}))
	defer srv.Close()

	tr, err := NewOpenAI("sk-test", "", WithBaseURL(srv.URL), WithMaxRetries(0))
	if err != nil {
		t.Fatal(err)
	}
	text, err := tr.Transcribe(context.Background(), []byte("audio"), "voice-message.webm", "audio/webm")
	if err != nil {
		t.Fatal(err)
	}
	if text != "hello doctor" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
	if !strings.HasSuffix(gotPath, "/audio/transcriptions") {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotModel != DefaultModel || gotFile != "voice-message.webm" {
		t.Errorf("unexpected model %q or file %q", gotModel, gotFile)
	}
}

func TestOpenAITranscribeEmpty(t *testing.T) {
	tr, _ := NewOpenAI("sk-test", "")
	if _, err := tr.Transcribe(context.Background(), nil, "a.webm", "audio/webm"); err == nil {
		t.Fatal("expected error for empty audio")
	}
}

type fakeEngine struct {
	mu    sync.Mutex
	calls int
	text  string
	err   error
	gate  chan struct{}
}

func (f *fakeEngine) Transcribe(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return f.text, f.err
}

func TestWorkerStoresTranscript(t *testing.T) {
	blobs := state.NewBlobStore(t.TempDir())
	ctx := context.Background()
	meta, err := blobs.Put(ctx, "voice-message.webm", "audio/webm", bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatal(err)
	}

	w := NewWorker(ctx, &fakeEngine{text: "see you at ten"}, blobs, 2)
	if !w.Submit(meta, []byte("abc")) {
		t.Fatal("expected submit to be accepted")
	}
	w.Wait()

	got, err := blobs.GetMeta(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "see you at ten" {
		t.Errorf("expected transcript, got %q", got.Transcript)
	}
}

func TestWorkerSkipsWhenSaturated(t *testing.T) {
	blobs := state.NewBlobStore(t.TempDir())
	ctx := context.Background()
	meta, _ := blobs.Put(ctx, "a.webm", "audio/webm", bytes.NewReader([]byte("abc")))

	engine := &fakeEngine{text: "x", gate: make(chan struct{})}
	w := NewWorker(ctx, engine, blobs, 1)
	if !w.Submit(meta, []byte("abc")) {
		t.Fatal("expected first submit to be accepted")
	}
	if w.Submit(meta, []byte("abc")) {
		t.Error("expected second submit to be skipped")
	}
	close(engine.gate)
	w.Wait()
}

func TestWorkerEngineError(t *testing.T) {
	blobs := state.NewBlobStore(t.TempDir())
	ctx := context.Background()
	meta, _ := blobs.Put(ctx, "a.webm", "audio/webm", bytes.NewReader([]byte("abc")))

	w := NewWorker(ctx, &fakeEngine{err: errors.New("quota")}, blobs, 1)
	w.Submit(meta, []byte("abc"))
	w.Wait()

	got, _ := blobs.GetMeta(ctx, meta.ID)
	if got.Transcript != "" {
		t.Errorf("expected no transcript, got %q", got.Transcript)
	}
}
