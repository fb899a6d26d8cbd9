package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/voxchat/internal/types"
)

// Options configures a [Widget]. Device, Uploader and Appender are required.
type Options struct {
	Device   CaptureDevice
	Speaker  Speaker
	Uploader Uploader
	Appender Appender
	Notifier Notifier
	Previews *Previews

	Constraints Constraints
	Clock       clockwork.Clock
	Logger      *slog.Logger

	// TickInterval is the cadence of elapsed-time updates while recording.
	TickInterval time.Duration
	// FinalizeTimeout bounds how long stop waits for the device to flush.
	FinalizeTimeout time.Duration
	// MinRecordingBytes is the smallest recording that is kept.
	MinRecordingBytes int

	// OnChange is called from the event loop with every new snapshot.
	// It must not block.
	OnChange func(Snapshot)
}

func (o *Options) applyDefaults() {
	if o.Constraints == (Constraints{}) {
		o.Constraints = DefaultConstraints()
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{Logger: o.Logger}
	}
	if o.Previews == nil {
		o.Previews = NewPreviews("blob:voxchat")
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 50 * time.Millisecond
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 3 * time.Second
	}
	if o.MinRecordingBytes <= 0 {
		o.MinRecordingBytes = 100
	}
}

// Widget is one user's voice-message widget.
type Widget struct {
	opts   Options
	log    *slog.Logger
	clock  clockwork.Clock
	ctx    context.Context
	cancel context.CancelFunc

	events    chan func()
	quit      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once

	snap atomic.Pointer[Snapshot]
	last atomic.Pointer[Recording]

	// Owned by the event loop.
	rec       recorder
	player    player
	sub       submitter
	input     string
	files     []types.Attachment
	uploading int
	outbox    []outgoing
}

type outgoing struct {
	ch  chan error
	err error
}

// New creates a widget and starts its event loop. Call Close to stop it.
func New(opts Options) (*Widget, error) {
	if opts.Device == nil {
		return nil, errors.New("voice: capture device is required")
	}
	if opts.Uploader == nil || opts.Appender == nil {
		return nil, errors.New("voice: uploader and appender are required")
	}
	opts.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		opts:    opts,
		log:     opts.Logger,
		clock:   opts.Clock,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	w.rec.w = w
	w.player.w = w
	w.sub.w = w
	w.publish()

	go w.run()
	return w, nil
}

// Start begins a capture session. Calling Start while already recording is a
// no-op. Starting from a stopped recording replaces it once the new capture
// session is open.
func (w *Widget) Start(ctx context.Context) error {
	return w.do(ctx, func(done func(error)) { w.rec.start(ctx, done) })
}

// Stop ends the capture session and returns once the final fragment has
// been received. It is a no-op unless recording.
func (w *Widget) Stop(ctx context.Context) error {
	return w.do(ctx, w.rec.stop)
}

// Play starts playback of the finished recording from the beginning.
func (w *Widget) Play(ctx context.Context) error {
	return w.do(ctx, func(done func(error)) { done(w.player.play()) })
}

// Pause pauses playback.
func (w *Widget) Pause(ctx context.Context) error {
	return w.do(ctx, func(done func(error)) { done(w.player.pause()) })
}

// TogglePlayback pauses when playing and plays otherwise.
func (w *Widget) TogglePlayback(ctx context.Context) error {
	return w.do(ctx, func(done func(error)) {
		if w.player.state == PlayerPlaying {
			done(w.player.pause())
			return
		}
		done(w.player.play())
	})
}

// Discard drops the current capture or finished recording and returns the
// widget to idle. It is rejected while a submission is in flight.
func (w *Widget) Discard(ctx context.Context) error {
	return w.do(ctx, func(done func(error)) {
		if w.sub.inFlight {
			done(ErrSubmitInFlight)
			return
		}
		if w.rec.state == RecorderRecording {
			w.rec.abort(nil)
		}
		w.releaseRecording()
		done(nil)
	})
}

// SetInput replaces the typed text that accompanies the next submission.
func (w *Widget) SetInput(ctx context.Context, text string) error {
	return w.do(ctx, func(done func(error)) {
		w.input = text
		done(nil)
	})
}

// Attach uploads f and queues the result for the next submission. It
// returns once the upload has finished.
func (w *Widget) Attach(ctx context.Context, f File) error {
	return w.do(ctx, func(done func(error)) {
		w.uploading++
		go func() {
			att, err := w.opts.Uploader.Upload(w.ctx, f)
			w.post(func() {
				w.uploading--
				if err != nil {
					err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
					w.notify(err)
					done(err)
					return
				}
				w.files = append(w.files, att)
				done(nil)
			})
		}()
	})
}

// Submit sends the typed text, queued attachments and the finished recording, if any, and
// returns when the message has been appended or the attempt failed.
func (w *Widget) Submit(ctx context.Context) error {
	return w.do(ctx, w.sub.submit)
}

// Snapshot returns the latest published state.
func (w *Widget) Snapshot() Snapshot {
	return *w.snap.Load()
}

// Recording returns the finished recording, or nil.
func (w *Widget) Recording() *Recording {
	return w.last.Load()
}

// Close stops the event loop, ending any capture session and releasing the
// playback output and preview. Pending calls return ErrClosed.
func (w *Widget) Close() error {
	w.closeOnce.Do(func() {
		w.cancel()
		close(w.quit)
		<-w.stopped
	})
	return nil
}

// do runs fn on the event loop and waits for it to call done.
func (w *Widget) do(ctx context.Context, fn func(done func(error))) error {
	res := make(chan error, 1)
	ev := func() {
		fn(func(err error) { w.outbox = append(w.outbox, outgoing{ch: res, err: err}) })
	}

	select {
	case w.events <- ev:
	case <-w.stopped:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-res:
		return err
	case <-w.stopped:
		select {
		case err := <-res:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post queues ev from another goroutine. It reports false once the loop has exited.
func (w *Widget) post(ev func()) bool {
	select {
	case w.events <- ev:
		return true
	case <-w.stopped:
		return false
	}
}

func (w *Widget) run() {
	defer close(w.stopped)
	for {
		select {
		case <-w.quit:
			w.teardown()
			w.flush()
			return
		case ev := <-w.events:
			ev()
		case <-w.rec.tickC():
			w.rec.tick()
		case data, ok := <-w.rec.frags:
			if ok {
				w.rec.appendFragment(data)
			} else {
				w.rec.finish()
			}
		case <-w.rec.timeoutC():
			w.log.Warn("capture device did not finalize in time", "timeout", w.opts.FinalizeTimeout)
			w.rec.finish()
		case ev, ok := <-w.player.evC:
			if ok {
				w.player.handle(ev)
			} else {
				w.player.evC = nil
			}
		}
		w.publish()
		w.flush()
	}
}

func (w *Widget) teardown() {
	if w.rec.state == RecorderRecording {
		w.rec.abort(ErrClosed)
	}
	w.releaseRecording()
	w.sub.abandon()
}

func (w *Widget) flush() {
	for _, o := range w.outbox {
		o.ch <- o.err
	}
	w.outbox = w.outbox[:0]
}

func (w *Widget) publish() {
	s := Snapshot{
		Recorder:   w.rec.state,
		Player:     w.player.state,
		Opening:    w.rec.opening,
		Elapsed:    w.rec.elapsed,
		SizeBytes:  w.rec.size,
		Progress:   w.player.progress,
		Submitting: w.sub.inFlight,
		Input:      w.input,

		Attachments: len(w.files),
		Uploading:   w.uploading,
	}
	if r := w.rec.recording; r != nil {
		s.PreviewURL = r.PreviewURL
		s.SizeBytes = r.Size()
	}
	w.last.Store(w.rec.recording)

	if prev := w.snap.Load(); prev != nil && *prev == s {
		return
	}
	w.snap.Store(&s)
	if w.opts.OnChange != nil {
		w.opts.OnChange(s)
	}
}

// notify raises a notice for err and logs it.
func (w *Widget) notify(err error) {
	n := Notice{Err: err, Message: NoticeMessage(err), At: w.clock.Now()}
	w.log.Warn("voice widget error", "error", err)
	w.opts.Notifier.Notify(n)
}

// releaseRecording drops the finished recording, its preview and playback state.
func (w *Widget) releaseRecording() {
	w.player.unload()
	if r := w.rec.recording; r != nil {
		w.opts.Previews.Revoke(r.PreviewURL)
		w.rec.recording = nil
	}
	if w.rec.state == RecorderStopped {
		w.rec.state = RecorderIdle
		w.rec.elapsed = 0
		w.rec.size = 0
	}
}
