// Package mock provides in-memory mock implementations of the voice widget's
// collaborators for use in unit tests.
//
// All mocks are safe for concurrent use. They record calls so that tests can
// assert on counts and arguments, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	dev := &mock.CaptureDevice{}
//	w, _ := voice.New(voice.Options{Device: dev, Uploader: &mock.Uploader{}, Appender: &mock.Appender{}})
//	_ = w.Start(ctx)
//	dev.LastStream().Push(make([]byte, 200))
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/voice"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// CaptureDevice is a mock implementation of [voice.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open when set.
	OpenError error

	// FinalFragment, when set, is delivered by each stream on Finalize
	// before its fragment channel closes.
	FinalFragment []byte

	// IgnoreFinalize makes streams ignore Finalize so the widget's timeout path runs.
	IgnoreFinalize bool

	// Streams holds every stream handed out, in order.
	Streams []*CaptureStream

	// Constraints records the constraints of every Open call.
	Constraints []voice.Constraints

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [voice.CaptureDevice].
func (d *CaptureDevice) Open(_ context.Context, c voice.Constraints) (voice.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountOpen++
	d.Constraints = append(d.Constraints, c)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	s := &CaptureStream{
		ch:             make(chan []byte, 64),
		finalFragment:  d.FinalFragment,
		ignoreFinalize: d.IgnoreFinalize,
	}
	d.Streams = append(d.Streams, s)
	return s, nil
}

// OpenCount returns CallCountOpen under the lock.
func (d *CaptureDevice) OpenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// LastStream returns the most recently opened stream, or nil.
func (d *CaptureDevice) LastStream() *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Streams) == 0 {
		return nil
	}
	return d.Streams[len(d.Streams)-1]
}

// CaptureStream is a mock implementation of [voice.CaptureStream].
// Fragments are fed with [CaptureStream.Push].
type CaptureStream struct {
	mu             sync.Mutex
	ch             chan []byte
	ended          bool
	finalFragment  []byte
	ignoreFinalize bool

	// CallCountFinalize records how many times Finalize was called.
	CallCountFinalize int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Fragments implements [voice.CaptureStream].
func (s *CaptureStream) Fragments() <-chan []byte { return s.ch }

// Push delivers one fragment. Fragments pushed after the stream ended are dropped.
func (s *CaptureStream) Push(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ch <- data
}

// End closes the fragment channel as if the device stopped on its own.
func (s *CaptureStream) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.end()
}

func (s *CaptureStream) end() {
	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

// Finalize implements [voice.CaptureStream].
func (s *CaptureStream) Finalize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountFinalize++
	if s.ignoreFinalize || s.ended {
		return
	}
	if len(s.finalFragment) > 0 {
		s.ch <- s.finalFragment
	}
	s.end()
}

// Close implements [voice.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return nil
}

// Closed reports whether Close has been called at least once.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountClose > 0
}

// FinalizeCount returns CallCountFinalize under the lock.
func (s *CaptureStream) FinalizeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CallCountFinalize
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Speaker is a mock implementation of [voice.Speaker].
type Speaker struct {
	mu sync.Mutex

	// OpenError is returned by Open when set.
	OpenError error

	// PlayError is returned by Play on every output when set.
	PlayError error

	// Outputs holds every output handed out, in order.
	Outputs []*PlaybackOutput

	// PreviewURLs records the URL passed to each Open call.
	PreviewURLs []string
}

// Open implements [voice.Speaker].
func (s *Speaker) Open(_ context.Context, previewURL string, _ *voice.Recording) (voice.PlaybackOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PreviewURLs = append(s.PreviewURLs, previewURL)
	if s.OpenError != nil {
		return nil, s.OpenError
	}
	out := &PlaybackOutput{events: make(chan voice.PlaybackEvent, 16), playError: s.PlayError}
	s.Outputs = append(s.Outputs, out)
	return out, nil
}

// LastOutput returns the most recently opened output, or nil.
func (s *Speaker) LastOutput() *PlaybackOutput {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Outputs) == 0 {
		return nil
	}
	return s.Outputs[len(s.Outputs)-1]
}

// PlaybackOutput is a mock implementation of [voice.PlaybackOutput].
// Events are injected with [PlaybackOutput.Emit].
type PlaybackOutput struct {
	mu        sync.Mutex
	events    chan voice.PlaybackEvent
	closed    bool
	playError error

	CallCountPlay  int
	CallCountPause int
	CallCountClose int
}

func (o *PlaybackOutput) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountPlay++
	return o.playError
}

func (o *PlaybackOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountPause++
	return nil
}

func (o *PlaybackOutput) Events() <-chan voice.PlaybackEvent { return o.events }

func (o *PlaybackOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.CallCountClose++
	if !o.closed {
		o.closed = true
		close(o.events)
	}
	return nil
}

// Emit injects a playback event. Events after Close are dropped.
func (o *PlaybackOutput) Emit(ev voice.PlaybackEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.events <- ev
	}
}

// Counts returns the play, pause and close call counts.
func (o *PlaybackOutput) Counts() (play, pause, closed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.CallCountPlay, o.CallCountPause, o.CallCountClose
}

// ─── Uploader / Appender ──────────────────────────────────────────────────────

// Uploader is a mock implementation of [voice.Uploader].
type Uploader struct {
	mu sync.Mutex

	// Result is returned by Upload on success.
	Result types.Attachment

	// Err is returned by Upload when set.
	Err error

	// Gate, when non-nil, blocks Upload until it is closed or ctx is done.
	Gate chan struct{}

	// Files records every uploaded file.
	Files []voice.File
}

// Upload implements [voice.Uploader].
func (u *Uploader) Upload(ctx context.Context, f voice.File) (types.Attachment, error) {
	u.mu.Lock()
	u.Files = append(u.Files, f)
	gate, res, err := u.Gate, u.Result, u.Err
	u.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return types.Attachment{}, ctx.Err()
		}
	}
	return res, err
}

// Uploads returns a copy of the recorded files.
func (u *Uploader) Uploads() []voice.File {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]voice.File(nil), u.Files...)
}

// SetErr changes the error returned by later calls.
func (u *Uploader) SetErr(err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Err = err
}

// Appender is a mock implementation of [voice.Appender].
type Appender struct {
	mu sync.Mutex

	// Err is returned by Append when set.
	Err error

	// Messages records every appended message.
	Messages []types.Message
}

// Append implements [voice.Appender]. Returns the message's own ID.
func (a *Appender) Append(_ context.Context, msg types.Message) (types.MessageID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Messages = append(a.Messages, msg)
	if a.Err != nil {
		return "", a.Err
	}
	return msg.ID, nil
}

// Appended returns a copy of the recorded messages.
func (a *Appender) Appended() []types.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Message(nil), a.Messages...)
}

// ─── Notifier ─────────────────────────────────────────────────────────────────

// Notifier is a mock implementation of [voice.Notifier].
type Notifier struct {
	mu      sync.Mutex
	notices []voice.Notice
}

// Notify implements [voice.Notifier].
func (n *Notifier) Notify(notice voice.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

// Notices returns a copy of the recorded notices.
func (n *Notifier) Notices() []voice.Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]voice.Notice(nil), n.notices...)
}

// Has reports whether a notice matching target (via errors.Is) was raised.
func (n *Notifier) Has(target error) bool {
	for _, notice := range n.Notices() {
		if errors.Is(notice.Err, target) {
			return true
		}
	}
	return false
}
