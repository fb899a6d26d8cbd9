// internal/state/blob_test.go
package state

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestBlobStorePutOpen(t *testing.T) {
	store := NewBlobStore(t.TempDir())
	ctx := context.Background()

	payload := bytes.Repeat([]byte{0x1a}, 512)
	meta, err := store.Put(ctx, "voice-message.webm", "audio/webm", bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if meta.Size != 512 {
		t.Errorf("expected size 512, got %d", meta.Size)
	}

	rc, got, err := store.Open(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("blob bytes differ from what was stored")
	}
	if got.ContentType != "audio/webm" || got.Name != "voice-message.webm" {
		t.Errorf("unexpected meta: %+v", got)
	}
}

func TestBlobStoreSetTranscript(t *testing.T) {
	store := NewBlobStore(t.TempDir())
	ctx := context.Background()

	meta, err := store.Put(ctx, "a.webm", "audio/webm", bytes.NewReader([]byte("abc")))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetTranscript(ctx, meta.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetMeta(ctx, meta.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Transcript != "hello" {
		t.Errorf("expected transcript hello, got %q", got.Transcript)
	}
}

func TestBlobStoreMissing(t *testing.T) {
	store := NewBlobStore(t.TempDir())
	if _, _, err := store.Open(context.Background(), "nope"); err == nil {
		t.Error("expected error for missing blob")
	}
}
