package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/user/voxchat/internal/voice"
)

// device proxies the browser's microphone.
type device Session

// Open asks the browser for a capture session and waits for its answer.
func (d *device) Open(ctx context.Context, c voice.Constraints) (voice.CaptureStream, error) {
	s := (*Session)(d)
	p := &pendingOpen{
		stream: &captureStream{s: s, frags: make(chan []byte, 64)},
		reply:  make(chan error, 1),
	}

	s.mu.Lock()
	if s.opening != nil {
		s.mu.Unlock()
		return nil, errors.New("capture already opening")
	}
	s.opening = p
	s.mu.Unlock()

	cancelPending := func() {
		s.mu.Lock()
		if s.opening == p {
			s.opening = nil
		}
		s.mu.Unlock()
	}

	if err := s.send(ctx, Outbound{Type: MsgCaptureOpen, Constraints: viewConstraints(c)}); err != nil {
		cancelPending()
		return nil, err
	}

	select {
	case err := <-p.reply:
		if err != nil {
			return nil, err
		}
		return p.stream, nil
	case <-ctx.Done():
		cancelPending()
		s.enqueue(Outbound{Type: MsgCaptureClose})
		return nil, ctx.Err()
	case <-s.ctx.Done():
		cancelPending()
		return nil, errors.New("session closed")
	}
}

// captureStream receives the browser's MediaRecorder chunks.
type captureStream struct {
	s     *Session
	frags chan []byte

	endOnce      sync.Once
	closeOnce    sync.Once
	finalizeOnce sync.Once
}

func (c *captureStream) Fragments() <-chan []byte { return c.frags }

func (c *captureStream) Finalize() {
	c.finalizeOnce.Do(func() {
		c.s.enqueue(Outbound{Type: MsgCaptureFinalize})
	})
}

// Close stops the browser recorder and detaches the stream.
func (c *captureStream) Close() error {
	c.closeOnce.Do(func() {
		s := c.s
		s.mu.Lock()
		if s.capture == c {
			s.capture = nil
		}
		s.mu.Unlock()
		s.enqueue(Outbound{Type: MsgCaptureClose})
	})
	return nil
}

func (c *captureStream) push(data []byte) {
	select {
	case c.frags <- data:
	default:
		c.s.log.Warn("dropping capture fragment", "bytes", len(data))
	}
}

func (c *captureStream) end() {
	c.endOnce.Do(func() { close(c.frags) })
}
