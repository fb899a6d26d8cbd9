package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/voxchat/internal/voice"
)

// Speaker plays recordings through ffplay. Progress is derived from the
// wall clock against the recording's duration.
type Speaker struct {
	Path      string
	ProbePath string
	Clock     clockwork.Clock
	// Interval is the cadence of position updates.
	Interval time.Duration

	command CommandFunc
}

// NewSpeaker returns a Speaker using ffplay and ffprobe from PATH.
func NewSpeaker() *Speaker {
	return &Speaker{
		Path:      "ffplay",
		ProbePath: "ffprobe",
		Clock:     clockwork.NewRealClock(),
		Interval:  250 * time.Millisecond,
		command:   exec.Command,
	}
}

// Open prepares playback of rec. No process is started until Play.
func (s *Speaker) Open(_ context.Context, _ string, rec *voice.Recording) (voice.PlaybackOutput, error) {
	if rec == nil || len(rec.Data) == 0 {
		return nil, fmt.Errorf("nothing to play")
	}
	clock := s.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := s.Interval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &output{
		speaker:  s,
		clock:    clock,
		interval: interval,
		data:     rec.Data,
		duration: rec.Duration,
		events:   make(chan voice.PlaybackEvent, 16),
		done:     make(chan struct{}),
	}, nil
}

// ProbeDuration asks ffprobe for the duration of data. Streams without a
// duration header yield zero.
func (s *Speaker) ProbeDuration(data []byte) (time.Duration, error) {
	cmd := s.command(s.ProbePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(data)
	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("probe duration: %w", err)
	}
	text := strings.TrimSpace(string(out))
	if text == "" || text == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", text, err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

type output struct {
	speaker  *Speaker
	clock    clockwork.Clock
	interval time.Duration
	data     []byte
	events   chan voice.PlaybackEvent
	done     chan struct{}

	mu        sync.Mutex
	duration  time.Duration
	probed    bool
	cmd       *exec.Cmd
	gen       int
	closeOnce sync.Once
}

func (o *output) Events() <-chan voice.PlaybackEvent { return o.events }

// Play starts ffplay from the beginning, replacing any running process.
func (o *output) Play() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	select {
	case <-o.done:
		return errors.New("output closed")
	default:
	}
	o.stopLocked()

	cmd := o.speaker.command(o.speaker.Path, "-nodisp", "-autoexit", "-loglevel", "error", "-i", "pipe:0")
	cmd.Stdin = bytes.NewReader(o.data)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", o.speaker.Path, err)
	}
	o.cmd = cmd
	o.gen++

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	go o.watch(o.gen, exited, !o.probed && o.duration == 0)
	o.probed = true
	return nil
}

// Pause stops the running process. Playing again restarts from zero.
func (o *output) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return nil
}

func (o *output) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.stopLocked()
		o.mu.Unlock()
		close(o.done)
	})
	return nil
}

// stopLocked kills the current process. Its exit is ignored because the
// generation moves on.
func (o *output) stopLocked() {
	if o.cmd == nil {
		return
	}
	o.gen++
	o.cmd.Process.Kill()
	o.cmd = nil
}

func (o *output) current(gen int) (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.duration, o.gen == gen && o.cmd != nil
}

// finish clears the process of gen if it is still the current one.
func (o *output) finish(gen int) (time.Duration, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen || o.cmd == nil {
		return 0, false
	}
	o.cmd = nil
	return o.duration, true
}

func (o *output) watch(gen int, exited <-chan error, probe bool) {
	if probe {
		if d, err := o.speaker.ProbeDuration(o.data); err == nil && d > 0 {
			o.mu.Lock()
			o.duration = d
			o.mu.Unlock()
		}
	}

	started := o.clock.Now()
	ticker := o.clock.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			dur, ok := o.current(gen)
			if !ok {
				return
			}
			pos := o.clock.Since(started)
			if dur > 0 && pos > dur {
				pos = dur
			}
			select {
			case o.events <- voice.PlaybackEvent{Kind: voice.PlaybackTimeUpdate, Position: pos, Duration: dur}:
			default:
			}
		case err := <-exited:
			dur, ok := o.finish(gen)
			if !ok {
				return
			}
			ev := voice.PlaybackEvent{Kind: voice.PlaybackEnded, Position: dur, Duration: dur}
			if err != nil {
				ev = voice.PlaybackEvent{Kind: voice.PlaybackError, Err: fmt.Errorf("%s: %w", o.speaker.Path, err)}
			}
			select {
			case o.events <- ev:
			case <-o.done:
			}
			return
		case <-o.done:
			return
		}
	}
}
