package transcribe

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/user/voxchat/internal/types"
)

// Worker transcribes uploaded audio in the background and stores the text
// on the blob's metadata. At most maxConcurrent jobs run at once; further
// submissions are skipped rather than queued.
type Worker struct {
	ctx    context.Context
	engine Transcriber
	blobs  types.BlobStore
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
}

// NewWorker creates a Worker. Jobs are cancelled when ctx is done.
func NewWorker(ctx context.Context, engine Transcriber, blobs types.BlobStore, maxConcurrent int) *Worker {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Worker{
		ctx:    ctx,
		engine: engine,
		blobs:  blobs,
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Submit starts transcription of data. It never blocks and reports false
// when the worker is saturated.
func (w *Worker) Submit(meta *types.BlobMeta, data []byte) bool {
	if !w.sem.TryAcquire(1) {
		return false
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.sem.Release(1)
		w.run(meta, data)
	}()
	return true
}

func (w *Worker) run(meta *types.BlobMeta, data []byte) {
	text, err := w.engine.Transcribe(w.ctx, data, meta.Name, meta.ContentType)
	if err != nil {
		slog.Error("transcription failed", "blob_id", meta.ID, "error", err)
		return
	}
	if text == "" {
		slog.Info("transcription returned no text", "blob_id", meta.ID)
		return
	}
	if err := w.blobs.SetTranscript(w.ctx, meta.ID, text); err != nil {
		slog.Error("store transcript failed", "blob_id", meta.ID, "error", err)
		return
	}
	slog.Info("voice message transcribed", "blob_id", meta.ID, "chars", len(text))
}

// Wait blocks until all running jobs have finished.
func (w *Worker) Wait() {
	w.wg.Wait()
}
