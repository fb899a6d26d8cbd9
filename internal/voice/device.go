package voice

import (
	"context"
	"time"
)

const (
	// MimeType is the container tag of every finished recording.
	MimeType = "audio/webm;codecs=opus"

	// VoiceFileName and VoiceContentType describe the uploaded file.
	VoiceFileName    = "voice-message.webm"
	VoiceContentType = "audio/webm"

	// VoicePlaceholder is the message content used when no text was typed.
	VoicePlaceholder = "🎤 Voice message"
)

// Constraints describe the capture session requested from the device.
type Constraints struct {
	SampleRate       int
	EchoCancellation bool
	NoiseSuppression bool
	MimeType         string
	BitsPerSecond    int
	// Timeslice is the interval at which the device delivers fragments.
	Timeslice time.Duration
	// Device optionally names the input device. Empty selects the default.
	Device string
}

// DefaultConstraints returns the speech capture settings: 44.1 kHz mono
// opus at 128 kbit/s with echo cancellation and noise suppression, one
// fragment per second.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       44100,
		EchoCancellation: true,
		NoiseSuppression: true,
		MimeType:         MimeType,
		BitsPerSecond:    128000,
		Timeslice:        time.Second,
	}
}

// CaptureDevice opens microphone capture sessions.
type CaptureDevice interface {
	// Open starts capturing. A refusal or missing device is reported as an
	// error. ctx bounds the opening only; the stream lives until Close.
	Open(ctx context.Context, c Constraints) (CaptureStream, error)
}

// CaptureStream is one open capture session.
type CaptureStream interface {
	// Fragments delivers encoded audio. The channel is closed once the device
	// has flushed its last fragment after Finalize, or when capture ends
	// on its own.
	Fragments() <-chan []byte

	// Finalize asks the device to flush buffered audio and end the stream.
	// It must not block.
	Finalize()

	// Close releases the hardware. Safe to call more than once.
	Close() error
}

// Speaker opens playback outputs for finished recordings.
type Speaker interface {
	// Open prepares playback of rec, addressed by its preview URL.
	// It must not block on the audio hardware.
	Open(ctx context.Context, previewURL string, rec *Recording) (PlaybackOutput, error)
}

// PlaybackOutput is one loaded recording on an output device.
type PlaybackOutput interface {
	// Play starts playback from the beginning.
	Play() error
	Pause() error
	// Events delivers position updates, end of media and errors.
	Events() <-chan PlaybackEvent
	Close() error
}

type PlaybackEventKind int

const (
	PlaybackTimeUpdate PlaybackEventKind = iota
	PlaybackEnded
	PlaybackError
)

// PlaybackEvent is reported by a [PlaybackOutput].
type PlaybackEvent struct {
	Kind     PlaybackEventKind
	Position time.Duration
	Duration time.Duration
	Err      error
}
