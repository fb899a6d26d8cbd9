package voice

import "errors"

var (
	ErrPermissionDenied = errors.New("voice: microphone unavailable")
	ErrRecordingFailed  = errors.New("voice: recording failed")
	ErrUploadFailed     = errors.New("voice: upload failed")
	ErrAppendFailed     = errors.New("voice: append message failed")
	ErrPlaybackFailed   = errors.New("voice: playback failed")
	ErrSubmitInFlight   = errors.New("voice: submission in progress")
	ErrUploadPending    = errors.New("voice: attachment upload in progress")
	ErrNothingToSubmit  = errors.New("voice: nothing to submit")
	ErrClosed           = errors.New("voice: widget closed")
)

// NoticeMessage returns the user-facing text for a widget error.
func NoticeMessage(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Could not access the microphone"
	case errors.Is(err, ErrRecordingFailed):
		return "Recording failed. Please check microphone access"
	case errors.Is(err, ErrUploadFailed):
		return "Failed to upload file, please try again!"
	case errors.Is(err, ErrAppendFailed):
		return "Failed to send message, please try again!"
	case errors.Is(err, ErrUploadPending):
		return "Please wait for the upload to finish"
	case errors.Is(err, ErrPlaybackFailed):
		return "Error playing audio"
	default:
		return "Something went wrong"
	}
}
