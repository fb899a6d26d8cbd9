package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// recorder owns the capture stream and the elapsed timer. Every field is
// touched only by the widget's event loop.
type recorder struct {
	w *Widget

	state     RecorderState
	opening   bool
	stream    CaptureStream
	frags     <-chan []byte
	ticker    clockwork.Ticker
	timeout   clockwork.Timer
	startedAt time.Time
	elapsed   time.Duration
	chunks    [][]byte
	size      int

	finalizing bool
	waiters    []func(error)

	recording *Recording
}

func (r *recorder) tickC() <-chan time.Time {
	if r.ticker == nil {
		return nil
	}
	return r.ticker.Chan()
}

func (r *recorder) timeoutC() <-chan time.Time {
	if r.timeout == nil {
		return nil
	}
	return r.timeout.Chan()
}

func (r *recorder) start(ctx context.Context, done func(error)) {
	w := r.w
	if w.sub.inFlight && w.sub.voice {
		done(ErrSubmitInFlight)
		return
	}
	if r.state == RecorderRecording || r.opening {
		done(nil)
		return
	}

	r.opening = true
	c := w.opts.Constraints
	go func() {
		stream, err := w.opts.Device.Open(ctx, c)
		posted := w.post(func() { r.opened(stream, err, done) })
		if !posted && err == nil {
			stream.Close()
		}
	}()
}

func (r *recorder) opened(stream CaptureStream, err error, done func(error)) {
	w := r.w
	r.opening = false

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			done(err)
			return
		}
		err = fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		w.notify(err)
		done(err)
		return
	}
	if w.sub.inFlight && w.sub.voice {
		stream.Close()
		done(ErrSubmitInFlight)
		return
	}

	// The new session supersedes a previous recording only once it is open.
	w.releaseRecording()

	r.stream = stream
	r.frags = stream.Fragments()
	r.chunks = nil
	r.size = 0
	r.elapsed = 0
	r.startedAt = w.clock.Now()
	r.ticker = w.clock.NewTicker(w.opts.TickInterval)
	r.state = RecorderRecording
	w.log.Debug("recording started", "sample_rate", w.opts.Constraints.SampleRate)
	done(nil)
}

func (r *recorder) tick() {
	r.elapsed = r.w.clock.Since(r.startedAt)
}

func (r *recorder) appendFragment(data []byte) {
	if r.state != RecorderRecording || len(data) == 0 {
		return
	}
	r.chunks = append(r.chunks, data)
	r.size += len(data)
}

// stop asks the device to finalize; done is answered when the fragment
// channel closes.
func (r *recorder) stop(done func(error)) {
	if r.state != RecorderRecording {
		done(nil)
		return
	}
	r.waiters = append(r.waiters, done)
	if r.finalizing {
		return
	}
	r.finalizing = true
	r.stopTicker()
	r.elapsed = r.w.clock.Since(r.startedAt)
	r.stream.Finalize()
	r.timeout = r.w.clock.NewTimer(r.w.opts.FinalizeTimeout)
}

// finish turns the buffered fragments into a recording. It runs when the
// device has flushed, when the stream ends on its own or on finalize timeout.
func (r *recorder) finish() {
	if r.state != RecorderRecording {
		return
	}
	w := r.w
	if !r.finalizing {
		r.elapsed = w.clock.Since(r.startedAt)
	}
	r.stopTicker()
	r.stopTimeout()
	r.closeStream()

	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.finalizing = false

	var err error
	if len(data) < w.opts.MinRecordingBytes {
		r.state = RecorderIdle
		r.size = 0
		err = fmt.Errorf("%w: captured %d bytes", ErrRecordingFailed, len(data))
		w.notify(err)
	} else {
		rec := &Recording{
			Data:      data,
			MimeType:  w.opts.Constraints.MimeType,
			Duration:  r.elapsed,
			CreatedAt: w.clock.Now(),
		}
		rec.PreviewURL = w.opts.Previews.Create(data, rec.MimeType)
		r.recording = rec
		r.size = len(data)
		r.state = RecorderStopped
		w.player.load(rec)
		w.log.Debug("recording stopped", "bytes", len(data), "duration", r.elapsed)
	}
	r.answer(err)
}

// abort ends capture without producing a recording.
func (r *recorder) abort(err error) {
	r.stopTicker()
	r.stopTimeout()
	r.closeStream()
	r.chunks = nil
	r.size = 0
	r.elapsed = 0
	r.finalizing = false
	r.state = RecorderIdle
	r.answer(err)
}

func (r *recorder) answer(err error) {
	for _, done := range r.waiters {
		done(err)
	}
	r.waiters = nil
}

func (r *recorder) closeStream() {
	if r.stream == nil {
		return
	}
	if err := r.stream.Close(); err != nil {
		r.w.log.Warn("failed to close capture stream", "error", err)
	}
	r.stream = nil
	r.frags = nil
}

func (r *recorder) stopTicker() {
	if r.ticker != nil {
		r.ticker.Stop()
		r.ticker = nil
	}
}

func (r *recorder) stopTimeout() {
	if r.timeout != nil {
		r.timeout.Stop()
		r.timeout = nil
	}
}
