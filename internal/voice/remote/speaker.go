package remote

import (
	"context"
	"errors"
	"sync"

	"github.com/user/voxchat/internal/voice"
)

// speaker proxies the browser's audio element.
type speaker Session

// Open loads the preview URL into the browser's player.
func (sp *speaker) Open(_ context.Context, previewURL string, _ *voice.Recording) (voice.PlaybackOutput, error) {
	s := (*Session)(sp)
	if previewURL == "" {
		return nil, errors.New("recording has no preview url")
	}
	out := &output{s: s, events: make(chan voice.PlaybackEvent, 16)}

	s.mu.Lock()
	s.output = out
	s.mu.Unlock()

	if !s.enqueue(Outbound{Type: MsgPlaybackLoad, URL: previewURL}) {
		return nil, errors.New("session outbox full")
	}
	return out, nil
}

type output struct {
	s         *Session
	events    chan voice.PlaybackEvent
	closeOnce sync.Once
}

func (o *output) Play() error {
	if !o.s.enqueue(Outbound{Type: MsgPlaybackPlay}) {
		return errors.New("session outbox full")
	}
	return nil
}

func (o *output) Pause() error {
	if !o.s.enqueue(Outbound{Type: MsgPlaybackPause}) {
		return errors.New("session outbox full")
	}
	return nil
}

func (o *output) Events() <-chan voice.PlaybackEvent { return o.events }

func (o *output) Close() error {
	o.closeOnce.Do(func() {
		s := o.s
		s.mu.Lock()
		if s.output == o {
			s.output = nil
		}
		s.mu.Unlock()
		s.enqueue(Outbound{Type: MsgPlaybackClose})
	})
	return nil
}

// emit delivers a browser report. Time updates are dropped when the widget
// lags behind.
func (o *output) emit(ev voice.PlaybackEvent) {
	if ev.Kind == voice.PlaybackTimeUpdate {
		select {
		case o.events <- ev:
		default:
		}
		return
	}
	select {
	case o.events <- ev:
	case <-o.s.ctx.Done():
	}
}
