package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/user/voxchat/internal/voice"
)

// helperCommand runs this test binary as a stand-in for the ffmpeg tools.
func helperCommand(mode string) CommandFunc {
	return func(name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=TestHelperProcess", "--", mode, name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = append(os.Environ(), "VOXCHAT_WANT_HELPER_PROCESS=1")
		return cmd
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("VOXCHAT_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 {
		if args[0] == "--" {
			args = args[1:]
			break
		}
		args = args[1:]
	}
	switch args[0] {
	case "capture":
		fmt.Fprint(os.Stdout, "HEADER")
		r := bufio.NewReader(os.Stdin)
		for {
			b, err := r.ReadByte()
			if err != nil || b == 'q' {
				break
			}
		}
		fmt.Fprint(os.Stdout, "TRAILER")
	case "nodevice":
		fmt.Fprintln(os.Stderr, "default: No such device")
		os.Exit(1)
	case "play":
		io.Copy(io.Discard, os.Stdin)
		time.Sleep(30 * time.Millisecond)
	case "playfail":
		io.Copy(io.Discard, os.Stdin)
		os.Exit(2)
	case "probe":
		io.Copy(io.Discard, os.Stdin)
		fmt.Println("1.500000")
	case "probe-na":
		io.Copy(io.Discard, os.Stdin)
		fmt.Println("N/A")
	}
}

func newTestDevice(mode string) *Device {
	d := NewDevice("ffmpeg")
	d.InputFormat = "pulse"
	d.Input = "default"
	d.command = helperCommand(mode)
	return d
}

func TestCaptureArgs(t *testing.T) {
	d := newTestDevice("capture")
	c := voice.DefaultConstraints()
	args := d.CaptureArgs(c)

	for _, want := range []string{"pulse", "libopus", "44100", "128000", "webm", "pipe:1"} {
		if !slices.Contains(args, want) {
			t.Errorf("expected %q in args %v", want, args)
		}
	}
	if !slices.Contains(args, "highpass=f=80,afftdn") {
		t.Error("expected noise suppression filter")
	}

	c.Device = "alsa_input.usb"
	c.NoiseSuppression = false
	args = d.CaptureArgs(c)
	if !slices.Contains(args, "alsa_input.usb") {
		t.Errorf("expected custom device in %v", args)
	}
	if slices.Contains(args, "-af") {
		t.Error("expected no filter without noise suppression")
	}
}

func TestCaptureStreamFinalize(t *testing.T) {
	d := newTestDevice("capture")
	c := voice.DefaultConstraints()
	c.Timeslice = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := d.Open(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	s.Finalize()
	var got strings.Builder
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case frag, ok := <-s.Fragments():
			if !ok {
				done = true
			}
			got.Write(frag)
		case <-timeout:
			t.Fatal("fragments channel never closed")
		}
	}
	if got.String() != "HEADERTRAILER" {
		t.Errorf("expected HEADERTRAILER, got %q", got.String())
	}
	if err := s.Close(); err != nil {
		t.Errorf("expected nil close error, got %v", err)
	}
}

func TestCaptureOpenFailure(t *testing.T) {
	d := newTestDevice("nodevice")
	_, err := d.Open(context.Background(), voice.DefaultConstraints())
	if err == nil {
		t.Fatal("expected open error")
	}
	if !strings.Contains(err.Error(), "No such device") {
		t.Errorf("expected stderr in error, got %v", err)
	}
}

func TestCaptureCloseWithoutFinalize(t *testing.T) {
	s, err := newTestDevice("capture").Open(context.Background(), voice.DefaultConstraints())
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		s.Close()
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
}

func newTestSpeaker(mode, probe string) *Speaker {
	s := NewSpeaker()
	s.Interval = 5 * time.Millisecond
	play := helperCommand(mode)
	probeCmd := helperCommand(probe)
	s.command = func(name string, args ...string) *exec.Cmd {
		if name == s.ProbePath {
			return probeCmd(name, args...)
		}
		return play(name, args...)
	}
	return s
}

func waitEvent(t *testing.T, out voice.PlaybackOutput, kind voice.PlaybackEventKind) voice.PlaybackEvent {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-out.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for event kind %d", kind)
		}
	}
}

func TestSpeakerPlaysToEnd(t *testing.T) {
	s := newTestSpeaker("play", "probe")
	out, err := s.Open(context.Background(), "blob:x", &voice.Recording{Data: []byte("opus")})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if err := out.Play(); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, out, voice.PlaybackEnded)
	if ev.Duration != 1500*time.Millisecond {
		t.Errorf("expected probed duration 1.5s, got %v", ev.Duration)
	}
}

func TestSpeakerReportsFailure(t *testing.T) {
	s := newTestSpeaker("playfail", "probe-na")
	out, err := s.Open(context.Background(), "blob:x", &voice.Recording{Data: []byte("opus"), Duration: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if err := out.Play(); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, out, voice.PlaybackError)
	if ev.Err == nil {
		t.Error("expected error in event")
	}
}

func TestSpeakerRejectsEmpty(t *testing.T) {
	if _, err := NewSpeaker().Open(context.Background(), "", &voice.Recording{}); err == nil {
		t.Error("expected error for empty recording")
	}
}

func TestProbeDurationNA(t *testing.T) {
	s := newTestSpeaker("play", "probe-na")
	d, err := s.ProbeDuration([]byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if d != 0 {
		t.Errorf("expected zero duration, got %v", d)
	}
}

func TestSpeakerPauseSilencesOutput(t *testing.T) {
	clock := clockwork.NewFakeClock()
	s := newTestSpeaker("play", "probe")
	s.Clock = clock
	s.Interval = 100 * time.Millisecond
	out, err := s.Open(context.Background(), "", &voice.Recording{Data: []byte("x"), Duration: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := out.Play(); err != nil {
		t.Fatal(err)
	}
	if err := out.Pause(); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-out.Events():
		t.Errorf("expected no events after pause, got %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}
