package voice

import (
	"log/slog"
	"time"
)

// Notice is a transient, user-visible message raised by the widget.
type Notice struct {
	Err     error     `json:"-"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives widget notices. Notify is called from the widget's event
// loop and must not block.
type Notifier interface {
	Notify(n Notice)
}

// NotifierFunc adapts a function to [Notifier].
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

// LogNotifier writes notices to a logger. Used when no UI is attached.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notice) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("voice notice", "message", n.Message, "error", n.Err)
}
