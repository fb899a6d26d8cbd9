// Package remote runs a voice widget for a browser over a websocket. The
// browser owns the microphone and the audio element; the server owns the
// widget state and talks to both through the protocol below.
//
// Text frames carry JSON messages with a "type" field. Binary frames from
// the browser carry capture fragments of the open stream.
package remote

import (
	"time"

	"github.com/user/voxchat/internal/voice"
)

// Browser to server.
const (
	// Widget commands. The server answers each with a "result" carrying
	// the same id.
	CmdStart    = "start"
	CmdStop     = "stop"
	CmdPlay     = "play"
	CmdPause    = "pause"
	CmdToggle   = "toggle"
	CmdDiscard  = "discard"
	CmdSubmit   = "submit"
	CmdSetInput = "input"

	// Device reports.
	EvCaptureOpened = "capture_opened"
	EvCaptureDenied = "capture_denied"
	EvCaptureEnded  = "capture_ended"
	EvPlayback      = "playback"
)

// Server to browser.
const (
	MsgSnapshot        = "snapshot"
	MsgNotice          = "notice"
	MsgResult          = "result"
	MsgCaptureOpen     = "capture_open"
	MsgCaptureFinalize = "capture_finalize"
	MsgCaptureClose    = "capture_close"
	MsgPlaybackLoad    = "playback_load"
	MsgPlaybackPlay    = "playback_play"
	MsgPlaybackPause   = "playback_pause"
	MsgPlaybackClose   = "playback_close"
)

// Inbound is any text message sent by the browser.
type Inbound struct {
	Type       string `json:"type"`
	ID         int64  `json:"id,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	Kind       string `json:"kind,omitempty"`
	PositionMS int64  `json:"position_ms,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// Outbound is any text message sent to the browser.
type Outbound struct {
	Type        string           `json:"type"`
	ID          int64            `json:"id,omitempty"`
	Error       string           `json:"error,omitempty"`
	Message     string           `json:"message,omitempty"`
	URL         string           `json:"url,omitempty"`
	Snapshot    *SnapshotView    `json:"snapshot,omitempty"`
	Constraints *ConstraintsView `json:"constraints,omitempty"`
}

// SnapshotView is the browser rendering of a widget snapshot.
type SnapshotView struct {
	Recorder    string  `json:"recorder"`
	Player      string  `json:"player"`
	Opening     bool    `json:"opening"`
	ElapsedMS   int64   `json:"elapsed_ms"`
	ElapsedText string  `json:"elapsed_text"`
	SizeBytes   int     `json:"size_bytes"`
	PreviewURL  string  `json:"preview_url,omitempty"`
	Progress    float64 `json:"progress"`
	Submitting  bool    `json:"submitting"`
	Input       string  `json:"input"`
	Attachments int     `json:"attachments"`
	Uploading   int     `json:"uploading"`
}

// ConstraintsView maps capture constraints onto getUserMedia and
// MediaRecorder options.
type ConstraintsView struct {
	SampleRate       int    `json:"sampleRate"`
	EchoCancellation bool   `json:"echoCancellation"`
	NoiseSuppression bool   `json:"noiseSuppression"`
	MimeType         string `json:"mimeType"`
	BitsPerSecond    int    `json:"audioBitsPerSecond"`
	TimesliceMS      int64  `json:"timeslice"`
	DeviceID         string `json:"deviceId,omitempty"`
}

func viewSnapshot(s voice.Snapshot) *SnapshotView {
	return &SnapshotView{
		Recorder:    s.Recorder.String(),
		Player:      s.Player.String(),
		Opening:     s.Opening,
		ElapsedMS:   s.Elapsed.Milliseconds(),
		ElapsedText: s.ElapsedText(),
		SizeBytes:   s.SizeBytes,
		PreviewURL:  s.PreviewURL,
		Progress:    s.Progress,
		Submitting:  s.Submitting,
		Input:       s.Input,
		Attachments: s.Attachments,
		Uploading:   s.Uploading,
	}
}

func viewConstraints(c voice.Constraints) *ConstraintsView {
	return &ConstraintsView{
		SampleRate:       c.SampleRate,
		EchoCancellation: c.EchoCancellation,
		NoiseSuppression: c.NoiseSuppression,
		MimeType:         c.MimeType,
		BitsPerSecond:    c.BitsPerSecond,
		TimesliceMS:      c.Timeslice.Milliseconds(),
		DeviceID:         c.Device,
	}
}

func playbackEvent(in Inbound) voice.PlaybackEvent {
	ev := voice.PlaybackEvent{
		Position: time.Duration(in.PositionMS) * time.Millisecond,
		Duration: time.Duration(in.DurationMS) * time.Millisecond,
	}
	switch in.Kind {
	case "ended":
		ev.Kind = voice.PlaybackEnded
	case "error":
		ev.Kind = voice.PlaybackError
		ev.Err = browserError(in.Error, "playback failed")
	default:
		ev.Kind = voice.PlaybackTimeUpdate
	}
	return ev
}

type browserErr string

func (e browserErr) Error() string { return string(e) }

func browserError(msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return browserErr(msg)
}
