package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/user/voxchat/internal/types"
)

// Event is a message recorded in a dialog, ready to be mirrored.
type Event struct {
	Dialog  *types.DialogIndex
	Message types.Message
}

// Sink mirrors dialog messages to an outside system.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev Event) error
}

// Opener reads the bytes behind an attachment.
type Opener func(ctx context.Context, att types.Attachment) (io.ReadCloser, error)

// SinkFunc adapts a function to the Sink interface.
type SinkFunc struct {
	Label string
	Fn    func(ctx context.Context, ev Event) error
}

func (s SinkFunc) Name() string { return s.Label }

func (s SinkFunc) Deliver(ctx context.Context, ev Event) error { return s.Fn(ctx, ev) }

type route struct {
	prefix string
	sink   Sink
}

// Registry fans messages out to every sink whose prefix matches the
// dialog key. An empty prefix matches every dialog.
type Registry struct {
	mu     sync.RWMutex
	routes []route
}

// NewRegistry creates an empty delivery registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a sink for dialog keys starting with prefix.
func (r *Registry) Register(prefix string, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route{prefix: prefix, sink: sink})
}

// Len returns the number of registered sinks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}

// Deliver hands ev to every matching sink. All sinks are attempted; their
// failures are joined. No matching sink is not an error.
func (r *Registry) Deliver(ctx context.Context, ev Event) error {
	if ev.Dialog == nil {
		return fmt.Errorf("deliver: dialog is required")
	}
	r.mu.RLock()
	routes := make([]route, len(r.routes))
	copy(routes, r.routes)
	r.mu.RUnlock()

	var errs []error
	key := string(ev.Dialog.DialogKey)
	for _, rt := range routes {
		if !strings.HasPrefix(key, rt.prefix) {
			continue
		}
		if err := rt.sink.Deliver(ctx, ev); err != nil {
			slog.Warn("delivery failed", "sink", rt.sink.Name(), "dialog_id", string(ev.Dialog.DialogID), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", rt.sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
