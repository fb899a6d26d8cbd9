package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/user/voxchat/internal/voice"
)

const (
	outboxSize   = 256
	commandQueue = 64
	readLimit    = 1 << 20
	writeTimeout = 10 * time.Second
)

// Config wires a browser session to the rest of the application.
type Config struct {
	Uploader    voice.Uploader
	Appender    voice.Appender
	Previews    *voice.Previews
	Constraints voice.Constraints
	Clock       clockwork.Clock
	Logger      *slog.Logger
}

var errBusy = errors.New("remote: too many pending commands")

// Session is one browser connection driving one widget.
type Session struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    *slog.Logger
	widget *voice.Widget

	out   chan Outbound
	cmds  chan Inbound
	stale atomic.Bool
	wg    sync.WaitGroup

	mu      sync.Mutex
	opening *pendingOpen
	capture *captureStream
	output  *output
}

type pendingOpen struct {
	stream *captureStream
	reply  chan error
}

// Serve runs a widget for the browser on conn until the connection closes
// or ctx is done. conn is closed on return.
func Serve(ctx context.Context, conn *websocket.Conn, cfg Config) error {
	s, err := newSession(ctx, conn, cfg)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return err
	}
	err = s.readLoop()
	s.close()
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session error")
		return err
	}
	conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}

func newSession(ctx context.Context, conn *websocket.Conn, cfg Config) (*Session, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
		log:    logger,
		out:    make(chan Outbound, outboxSize),
		cmds:   make(chan Inbound, commandQueue),
	}
	conn.SetReadLimit(readLimit)

	w, err := voice.New(voice.Options{
		Device:      (*device)(s),
		Speaker:     (*speaker)(s),
		Uploader:    cfg.Uploader,
		Appender:    cfg.Appender,
		Previews:    cfg.Previews,
		Constraints: cfg.Constraints,
		Clock:       cfg.Clock,
		Logger:      logger,
		Notifier: voice.NotifierFunc(func(n voice.Notice) {
			s.enqueue(Outbound{Type: MsgNotice, Message: n.Message})
		}),
		OnChange: func(snap voice.Snapshot) {
			if !s.enqueue(Outbound{Type: MsgSnapshot, Snapshot: viewSnapshot(snap)}) {
				s.stale.Store(true)
			}
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create widget: %w", err)
	}
	s.widget = w

	s.wg.Add(2)
	go s.writeLoop()
	go s.commandLoop()
	return s, nil
}

func (s *Session) close() {
	s.widget.Close()
	s.cancel()
	s.wg.Wait()
}

// enqueue queues msg without blocking. It reports false when the outbox is full.
func (s *Session) enqueue(msg Outbound) bool {
	select {
	case s.out <- msg:
		return true
	default:
		if msg.Type != MsgSnapshot {
			s.log.Warn("dropping outbound message", "type", msg.Type)
		}
		return false
	}
}

// send queues msg, waiting for room.
func (s *Session) send(ctx context.Context, msg Outbound) error {
	select {
	case s.out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return errors.New("session closed")
	}
}

func (s *Session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.out:
			if err := s.write(msg); err != nil {
				s.log.Debug("websocket write failed", "error", err)
				s.cancel()
				return
			}
			if len(s.out) == 0 && s.stale.Swap(false) {
				s.write(Outbound{Type: MsgSnapshot, Snapshot: viewSnapshot(s.widget.Snapshot())})
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) write(msg Outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *Session) readLoop() error {
	defer s.endCapture()
	for {
		typ, data, err := s.conn.Read(s.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if typ == websocket.MessageBinary {
			s.pushFragment(data)
			continue
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			s.log.Warn("invalid websocket message", "error", err)
			continue
		}
		s.handle(in)
	}
}

func (s *Session) handle(in Inbound) {
	switch in.Type {
	case CmdStart, CmdStop, CmdPlay, CmdPause, CmdToggle, CmdDiscard, CmdSubmit, CmdSetInput:
		select {
		case s.cmds <- in:
		default:
			s.log.Warn("command queue full", "type", in.Type)
			s.enqueue(Outbound{Type: MsgResult, ID: in.ID, Error: errBusy.Error(), Message: voice.NoticeMessage(errBusy)})
		}
	case EvCaptureOpened:
		s.resolveOpen(nil)
	case EvCaptureDenied:
		s.resolveOpen(browserError(in.Error, "permission denied"))
	case EvCaptureEnded:
		s.endCapture()
	case EvPlayback:
		s.mu.Lock()
		out := s.output
		s.mu.Unlock()
		if out != nil {
			out.emit(playbackEvent(in))
		}
	default:
		s.log.Debug("unknown websocket message", "type", in.Type)
	}
}

// commandLoop runs widget commands one at a time in arrival order. Device
// reports keep flowing on the read loop while a command blocks.
func (s *Session) commandLoop() {
	defer s.wg.Done()
	for {
		select {
		case in := <-s.cmds:
			s.command(in)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) command(in Inbound) {
	var err error
	w := s.widget
	switch in.Type {
	case CmdStart:
		err = w.Start(s.ctx)
	case CmdStop:
		err = w.Stop(s.ctx)
	case CmdPlay:
		err = w.Play(s.ctx)
	case CmdPause:
		err = w.Pause(s.ctx)
	case CmdToggle:
		err = w.TogglePlayback(s.ctx)
	case CmdDiscard:
		err = w.Discard(s.ctx)
	case CmdSubmit:
		err = w.Submit(s.ctx)
	case CmdSetInput:
		err = w.SetInput(s.ctx, in.Text)
	}
	res := Outbound{Type: MsgResult, ID: in.ID}
	if err != nil {
		res.Error = err.Error()
		res.Message = voice.NoticeMessage(err)
	}
	s.send(s.ctx, res)
}

func (s *Session) resolveOpen(err error) {
	s.mu.Lock()
	p := s.opening
	s.opening = nil
	if p != nil && err == nil {
		s.capture = p.stream
	}
	s.mu.Unlock()
	if p == nil {
		s.log.Debug("capture report without pending open")
		return
	}
	p.reply <- err
}

func (s *Session) pushFragment(data []byte) {
	s.mu.Lock()
	st := s.capture
	s.mu.Unlock()
	if st == nil {
		return
	}
	st.push(data)
}

// endCapture closes the fragment stream of the open capture. Runs on the
// read loop only.
func (s *Session) endCapture() {
	s.mu.Lock()
	st := s.capture
	s.capture = nil
	s.mu.Unlock()
	if st != nil {
		st.end()
	}
}
