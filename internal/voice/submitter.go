package voice

import (
	"fmt"
	"strings"

	"github.com/user/voxchat/internal/types"
)

// submitter packages the typed text and recording into an outbound message.
type submitter struct {
	w *Widget

	inFlight bool
	voice    bool
	pending  func(error)

	// Typed text and attachment count of the submission in flight.
	text  string
	files int
}

func (s *submitter) submit(done func(error)) {
	w := s.w
	if s.inFlight {
		done(ErrSubmitInFlight)
		return
	}
	if w.uploading > 0 {
		done(ErrUploadPending)
		return
	}

	var rec *Recording
	if w.rec.state == RecorderStopped {
		rec = w.rec.recording
	}
	text := strings.TrimSpace(w.input)
	files := append([]types.Attachment(nil), w.files...)
	if text == "" && rec == nil && len(files) == 0 {
		done(ErrNothingToSubmit)
		return
	}

	content := text
	if content == "" && rec != nil {
		content = VoicePlaceholder
	}

	s.inFlight = true
	s.voice = rec != nil
	s.pending = done
	s.text = w.input
	s.files = len(files)

	ctx := w.ctx
	go func() {
		atts := files
		if rec != nil {
			att, err := w.opts.Uploader.Upload(ctx, File{
				Name:        VoiceFileName,
				ContentType: VoiceContentType,
				Data:        rec.Data,
			})
			if err != nil {
				err = fmt.Errorf("%w: %w", ErrUploadFailed, err)
				w.post(func() { s.complete(rec, err) })
				return
			}
			atts = append(atts, att)
		}

		msg := types.Message{
			ID:          types.NewMessageID(),
			Role:        types.RoleUser,
			Content:     content,
			Attachments: atts,
			At:          w.clock.Now(),
		}
		id, err := w.opts.Appender.Append(ctx, msg)
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrAppendFailed, err)
		} else {
			w.log.Debug("message submitted", "message_id", id, "attachments", len(atts))
		}
		w.post(func() { s.complete(rec, err) })
	}()
}

func (s *submitter) complete(rec *Recording, err error) {
	w := s.w
	done := s.pending
	text, files := s.text, s.files
	s.inFlight = false
	s.voice = false
	s.pending = nil

	if err != nil {
		// The recording is kept so the user can retry.
		w.notify(err)
		done(err)
		return
	}

	// Text typed while the message was in flight is kept.
	if w.input == text {
		w.input = ""
	}
	w.files = w.files[files:]
	if rec != nil && w.rec.recording == rec {
		w.releaseRecording()
	}
	done(nil)
}

// abandon answers a pending submission when the widget closes.
func (s *submitter) abandon() {
	if s.pending != nil {
		s.pending(ErrClosed)
		s.pending = nil
	}
	s.inFlight = false
	s.voice = false
}
