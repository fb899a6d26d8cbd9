package voice

import (
	"errors"
	"fmt"
)

// player owns the playback output of the finished recording.
type player struct {
	w *Widget

	state    PlayerState
	rec      *Recording
	out      PlaybackOutput
	evC      <-chan PlaybackEvent
	progress float64
}

func (p *player) load(rec *Recording) {
	p.unload()
	p.rec = rec
	p.state = PlayerReady
}

func (p *player) unload() {
	p.closeOutput()
	p.rec = nil
	p.state = PlayerNoRecording
	p.progress = 0
}

func (p *player) closeOutput() {
	if p.out == nil {
		return
	}
	if err := p.out.Close(); err != nil {
		p.w.log.Warn("failed to close playback output", "error", err)
	}
	p.out = nil
	p.evC = nil
}

func (p *player) play() error {
	if p.state != PlayerReady {
		return nil
	}
	if p.out == nil {
		if p.w.opts.Speaker == nil {
			return p.fail(errors.New("no speaker configured"))
		}
		out, err := p.w.opts.Speaker.Open(p.w.ctx, p.rec.PreviewURL, p.rec)
		if err != nil {
			return p.fail(err)
		}
		p.out = out
		p.evC = out.Events()
	}

	p.progress = 0
	if err := p.out.Play(); err != nil {
		return p.fail(err)
	}
	p.state = PlayerPlaying
	return nil
}

func (p *player) pause() error {
	if p.state != PlayerPlaying {
		return nil
	}
	if err := p.out.Pause(); err != nil {
		p.w.log.Warn("failed to pause playback", "error", err)
	}
	p.state = PlayerReady
	return nil
}

func (p *player) handle(ev PlaybackEvent) {
	switch ev.Kind {
	case PlaybackTimeUpdate:
		if p.state == PlayerPlaying {
			p.progress = ProgressPercent(ev.Position, ev.Duration)
		}
	case PlaybackEnded:
		if p.state == PlayerPlaying {
			p.state = PlayerReady
		}
	case PlaybackError:
		if p.rec != nil {
			p.fail(ev.Err)
		}
	}
}

// fail raises a playback notice and leaves the player ready for another attempt.
func (p *player) fail(cause error) error {
	if cause == nil {
		cause = errors.New("unknown playback error")
	}
	err := fmt.Errorf("%w: %w", ErrPlaybackFailed, cause)
	p.w.notify(err)
	if p.rec != nil {
		p.state = PlayerReady
	}
	return err
}
