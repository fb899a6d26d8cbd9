// Package ffmpeg captures and plays voice messages on the local machine by
// driving ffmpeg, ffplay and ffprobe processes.
package ffmpeg

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/voxchat/internal/voice"
)

// CommandFunc builds the process for a tool invocation.
type CommandFunc func(name string, args ...string) *exec.Cmd

// Device captures the microphone through ffmpeg, encoding webm/opus to
// stdout.
type Device struct {
	// Path is the ffmpeg binary.
	Path string
	// InputFormat is the ffmpeg input device format, e.g. pulse or avfoundation.
	InputFormat string
	// Input names the default input when the constraints carry none.
	Input string
	Clock clockwork.Clock

	command CommandFunc
}

// NewDevice returns a Device for the current platform.
func NewDevice(path string) *Device {
	if path == "" {
		path = "ffmpeg"
	}
	format, input := platformInput()
	return &Device{
		Path:        path,
		InputFormat: format,
		Input:       input,
		Clock:       clockwork.NewRealClock(),
		command:     exec.Command,
	}
}

func platformInput() (format, input string) {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation", ":default"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Check reports whether the ffmpeg binary can be found.
func (d *Device) Check() error {
	if _, err := exec.LookPath(d.Path); err != nil {
		return fmt.Errorf("%s not found. Install ffmpeg and make sure it is on PATH", d.Path)
	}
	return nil
}

// CaptureArgs returns the ffmpeg arguments for c.
func (d *Device) CaptureArgs(c voice.Constraints) []string {
	input := d.Input
	if c.Device != "" && c.Device != "default" {
		input = c.Device
	}
	args := []string{
		"-hide_banner", "-loglevel", "error", "-nostats",
		"-f", d.InputFormat,
		"-i", input,
		"-ac", "1",
	}
	if c.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(c.SampleRate))
	}
	// ffmpeg has no echo canceller; EchoCancellation is ignored.
	if c.NoiseSuppression {
		args = append(args, "-af", "highpass=f=80,afftdn")
	}
	args = append(args, "-c:a", "libopus")
	if c.BitsPerSecond > 0 {
		args = append(args, "-b:a", strconv.Itoa(c.BitsPerSecond))
	}
	return append(args, "-f", "webm", "-flush_packets", "1", "pipe:1")
}

// Open starts ffmpeg and waits for the first encoded bytes, which arrive
// once the input device is open. An early exit is reported with ffmpeg's
// stderr.
func (d *Device) Open(ctx context.Context, c voice.Constraints) (voice.CaptureStream, error) {
	cmd := d.command(d.Path, d.CaptureArgs(c)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stderr := &limitedBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Path, err)
	}

	reads := make(chan []byte, 16)
	go readChunks(stdout, reads)

	select {
	case first, ok := <-reads:
		if !ok {
			waitErr := cmd.Wait()
			msg := strings.TrimSpace(stderr.String())
			if msg == "" && waitErr != nil {
				msg = waitErr.Error()
			}
			return nil, fmt.Errorf("open capture: %s", msg)
		}
		timeslice := c.Timeslice
		if timeslice <= 0 {
			timeslice = time.Second
		}
		s := &stream{
			cmd:     cmd,
			stdin:   stdin,
			frags:   make(chan []byte, 4),
			closed:  make(chan struct{}),
			exited:  make(chan struct{}),
			pending: first,
		}
		go s.run(reads, d.clock().NewTicker(timeslice))
		return s, nil
	case <-ctx.Done():
		cmd.Process.Kill()
		go func() {
			for range reads {
			}
			cmd.Wait()
		}()
		return nil, ctx.Err()
	}
}

func (d *Device) clock() clockwork.Clock {
	if d.Clock == nil {
		return clockwork.NewRealClock()
	}
	return d.Clock
}

func readChunks(r io.Reader, out chan<- []byte) {
	defer close(out)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			out <- chunk
		}
		if err != nil {
			return
		}
	}
}

// stream groups ffmpeg output into one fragment per timeslice.
type stream struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	frags   chan []byte
	closed  chan struct{}
	exited  chan struct{}
	pending []byte

	finalizeOnce sync.Once
	closeOnce    sync.Once
}

func (s *stream) Fragments() <-chan []byte { return s.frags }

// Finalize asks ffmpeg to quit, which makes it flush and close the container.
func (s *stream) Finalize() {
	s.finalizeOnce.Do(func() {
		go func() {
			s.stdin.Write([]byte("q"))
			s.stdin.Close()
		}()
	})
}

func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cmd.Process.Kill()
	})
	<-s.exited
	return nil
}

func (s *stream) run(reads <-chan []byte, ticker clockwork.Ticker) {
	defer close(s.exited)
	defer close(s.frags)
	defer ticker.Stop()
	for {
		select {
		case b, ok := <-reads:
			if !ok {
				s.emit()
				s.cmd.Wait()
				return
			}
			s.pending = append(s.pending, b...)
		case <-ticker.Chan():
			s.emit()
		}
	}
}

func (s *stream) emit() {
	if len(s.pending) == 0 {
		return
	}
	frag := s.pending
	s.pending = nil
	select {
	case s.frags <- frag:
	case <-s.closed:
	}
}

type limitedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
