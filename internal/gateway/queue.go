package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/voxchat/internal/types"
)

const defaultLaneSize = 100

// ErrQueueStopped is returned by Enqueue after Stop.
var ErrQueueStopped = errors.New("queue stopped")

// Queue manages per-dialog lanes with a global concurrency semaphore.
// Runs within a dialog are processed in order; the semaphore bounds how many
// dialogs are processed at once.
type Queue struct {
	lanes     map[types.DialogID]chan *Run
	laneSize  int
	semaphore *semaphore.Weighted
	processor func(*Run) error
	active    atomic.Int64
	inflight  atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// NewQueue creates a Queue that allows up to maxConcurrent runs to execute
// simultaneously across all dialog lanes.
func NewQueue(maxConcurrent int64) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Queue{
		lanes:     make(map[types.DialogID]chan *Run),
		laneSize:  defaultLaneSize,
		semaphore: semaphore.NewWeighted(maxConcurrent),
	}
}

// Start initialises the queue's context. Must be called before Enqueue.
func (q *Queue) Start(ctx context.Context) {
	q.ctx, q.cancel = context.WithCancel(ctx)
}

// Stop cancels the queue context, closes all lanes, and waits for in-flight
// processors to finish. Calling Stop twice is safe.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		for _, lane := range q.lanes {
			close(lane)
		}
	}
	q.mu.Unlock()
	q.wg.Wait()
}

// Enqueue adds a Run to its dialog's lane, creating the lane and its
// goroutine on first use.
func (q *Queue) Enqueue(run *Run) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx == nil {
		return fmt.Errorf("queue not started")
	}
	if q.stopped {
		return ErrQueueStopped
	}

	lane, exists := q.lanes[run.DialogID]
	if !exists {
		lane = make(chan *Run, q.laneSize)
		q.lanes[run.DialogID] = lane
		q.wg.Add(1)
		go q.processLane(lane)
	}

	q.inflight.Add(1)
	select {
	case lane <- run:
		return nil
	default:
		q.inflight.Add(-1)
		return fmt.Errorf("queue full for dialog %s", run.DialogID)
	}
}

func (q *Queue) processLane(lane chan *Run) {
	defer q.wg.Done()
	for {
		select {
		case run, ok := <-lane:
			if !ok {
				return
			}
			if err := q.semaphore.Acquire(q.ctx, 1); err != nil {
				return
			}
			q.execute(run)
			q.semaphore.Release(1)
			q.inflight.Add(-1)
		case <-q.ctx.Done():
			return
		}
	}
}

func (q *Queue) execute(run *Run) {
	if q.processor == nil {
		return
	}
	q.active.Add(1)
	defer q.active.Add(-1)

	started := time.Now()
	run.Ctx = q.ctx
	run.StartedAt = &started
	run.Status = RunStatusRunning

	err := q.processor(run)

	ended := time.Now()
	run.EndedAt = &ended
	q.processed.Add(1)
	if err != nil {
		q.failed.Add(1)
		run.Status = RunStatusFailed
		run.Error = err
		slog.Error("run failed", "run_id", string(run.ID), "dialog_id", string(run.DialogID), "attempts", run.Attempts, "error", err)
		if run.OnFailure != nil {
			run.OnFailure(err)
		}
		return
	}
	run.Status = RunStatusComplete
	slog.Debug("run complete", "run_id", string(run.ID), "dialog_id", string(run.DialogID), "duration", ended.Sub(started))
}

// WaitIdle blocks until every enqueued run has been processed, or the
// timeout expires. Returns true if idle.
func (q *Queue) WaitIdle(timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		if q.idle() {
			return true
		}
		select {
		case <-deadline:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (q *Queue) idle() bool {
	return q.inflight.Load() == 0
}

// SetProcessor sets the function invoked for each dequeued Run.
func (q *Queue) SetProcessor(fn func(*Run) error) {
	q.processor = fn
}

// QueueStats is a point-in-time view of queue activity.
type QueueStats struct {
	Lanes     int
	Pending   int64
	Active    int64
	Processed int64
	Failed    int64
}

// Stats reports current queue activity.
func (q *Queue) Stats() QueueStats {
	q.mu.RLock()
	lanes := len(q.lanes)
	q.mu.RUnlock()
	active := q.active.Load()
	return QueueStats{
		Lanes:     lanes,
		Pending:   q.inflight.Load() - active,
		Active:    active,
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}
