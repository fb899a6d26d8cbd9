// Package voice implements the voice-message widget: a Recorder that owns
// the microphone capture session, a Player for the finished recording and a
// Submitter that uploads the recording and appends it to the conversation.
//
// All state transitions run on a single event-loop goroutine owned by
// [Widget]. Capture fragments, timer ticks, playback events and network
// completions are delivered to that loop, so a stop request can never race
// with late audio data.
//
// Platform specifics live behind small interfaces:
//
//   - [CaptureDevice] / [CaptureStream] for the microphone
//   - [Speaker] / [PlaybackOutput] for playback
//   - [Uploader] and [Appender] for the network collaborators
//
// Implementations exist in the ffmpeg (local CLI) and remote (browser over
// websocket) subpackages; package mock provides scripted test doubles.
package voice
