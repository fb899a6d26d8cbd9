package gateway

import (
	"context"
	"fmt"

	"github.com/user/voxchat/internal/types"
)

// Handler produces the reply for a single run.
type Handler func(ctx context.Context, run *Run) error

// Gateway turns user messages into reply runs. Each run is checked against
// the dialog store, queued on its dialog's lane and retried on failure.
type Gateway struct {
	dialogs types.DialogStore
	Queue   *Queue
	retry   *RetryPolicy
	handler Handler
}

// New creates a Gateway with the given concurrency limit for simultaneous
// run processing.
func New(dialogs types.DialogStore, maxConcurrent ...int64) *Gateway {
	var concurrency int64 = 2
	if len(maxConcurrent) > 0 && maxConcurrent[0] > 0 {
		concurrency = maxConcurrent[0]
	}
	g := &Gateway{
		dialogs: dialogs,
		Queue:   NewQueue(concurrency),
		retry:   DefaultRetryPolicy(),
	}
	g.Queue.SetProcessor(g.process)
	return g
}

// SetHandler installs the reply handler.
func (g *Gateway) SetHandler(h Handler) {
	g.handler = h
}

// SetRetryPolicy replaces the default retry policy.
func (g *Gateway) SetRetryPolicy(p *RetryPolicy) {
	g.retry = p
}

// Start starts the internal queue.
func (g *Gateway) Start(ctx context.Context) {
	g.Queue.Start(ctx)
}

// Stop stops the queue and waits for outstanding work to finish.
func (g *Gateway) Stop() {
	g.Queue.Stop()
}

// RunOption configures optional behavior on a Run.
type RunOption func(*Run)

// WithOnFailure sets a callback invoked when the run gives up.
func WithOnFailure(fn func(error)) RunOption {
	return func(r *Run) { r.OnFailure = fn }
}

// Submit queues a reply run for messageID in an existing dialog.
func (g *Gateway) Submit(ctx context.Context, dialogID types.DialogID, messageID types.MessageID, opts ...RunOption) (*Run, error) {
	if _, err := g.dialogs.Get(ctx, dialogID); err != nil {
		return nil, fmt.Errorf("resolve dialog: %w", err)
	}
	run := NewRun(dialogID, messageID)
	for _, opt := range opts {
		opt(run)
	}
	if err := g.Queue.Enqueue(run); err != nil {
		return nil, err
	}
	return run, nil
}

func (g *Gateway) process(run *Run) error {
	if g.handler == nil {
		return nil
	}
	return g.retry.Execute(run.Ctx, func(ctx context.Context) error {
		run.Attempts++
		return g.handler(ctx, run)
	})
}
