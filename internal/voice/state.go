package voice

import "time"

type RecorderState int

const (
	RecorderIdle RecorderState = iota
	RecorderRecording
	RecorderStopped
)

func (s RecorderState) String() string {
	switch s {
	case RecorderIdle:
		return "idle"
	case RecorderRecording:
		return "recording"
	case RecorderStopped:
		return "stopped"
	}
	return "unknown"
}

// MarshalText encodes the state by name.
func (s RecorderState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type PlayerState int

const (
	PlayerNoRecording PlayerState = iota
	PlayerReady
	PlayerPlaying
)

func (s PlayerState) String() string {
	switch s {
	case PlayerNoRecording:
		return "no_recording"
	case PlayerReady:
		return "ready"
	case PlayerPlaying:
		return "playing"
	}
	return "unknown"
}

func (s PlayerState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Recording is a finished, immutable capture.
type Recording struct {
	Data       []byte
	MimeType   string
	Duration   time.Duration
	PreviewURL string
	CreatedAt  time.Time
}

// Size returns the recording length in bytes.
func (r *Recording) Size() int { return len(r.Data) }

// Snapshot is a read-only view of the widget, published after every transition.
type Snapshot struct {
	Recorder   RecorderState `json:"recorder"`
	Player     PlayerState   `json:"player"`
	Opening    bool          `json:"opening"`
	Elapsed    time.Duration `json:"elapsed"`
	SizeBytes  int           `json:"size_bytes"`
	PreviewURL string        `json:"preview_url,omitempty"`
	Progress   float64       `json:"progress"`
	Submitting bool          `json:"submitting"`
	Input      string        `json:"input"`

	// Attachments counts uploaded files waiting for the next submission.
	Attachments int `json:"attachments"`
	Uploading   int `json:"uploading"`
}

// ElapsedText formats the recording timer the way the widget displays it.
func (s Snapshot) ElapsedText() string { return FormatElapsed(s.Elapsed) }

// HasRecording reports whether a finished recording is held.
func (s Snapshot) HasRecording() bool { return s.Recorder == RecorderStopped }
