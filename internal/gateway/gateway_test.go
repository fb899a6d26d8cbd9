package gateway

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/user/voxchat/internal/state"
	"github.com/user/voxchat/internal/types"
)

func newTestGateway(t *testing.T) (*Gateway, *state.DialogStore) {
	t.Helper()
	dialogs := state.NewDialogStore(t.TempDir())
	gw := New(dialogs)
	gw.SetRetryPolicy(fastPolicy(3))
	gw.Start(context.Background())
	t.Cleanup(gw.Stop)
	return gw, dialogs
}

func TestGatewaySubmit(t *testing.T) {
	gw, dialogs := newTestGateway(t)
	ctx := context.Background()

	id, err := dialogs.ResolveOrCreate(ctx, types.NewDialogKey("test", "123"))
	if err != nil {
		t.Fatal(err)
	}

	handled := make(chan *Run, 1)
	gw.SetHandler(func(ctx context.Context, run *Run) error {
		handled <- run
		return nil
	})

	if _, err := gw.Submit(ctx, id, "m1"); err != nil {
		t.Fatal(err)
	}

	select {
	case run := <-handled:
		if run.DialogID != id || run.MessageID != "m1" {
			t.Errorf("unexpected run: %+v", run)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestGatewaySubmitUnknownDialog(t *testing.T) {
	gw, _ := newTestGateway(t)
	if _, err := gw.Submit(context.Background(), "missing", "m1"); err == nil {
		t.Error("expected error for unknown dialog")
	}
}

func TestGatewayRetriesHandler(t *testing.T) {
	gw, dialogs := newTestGateway(t)
	ctx := context.Background()
	id, _ := dialogs.ResolveOrCreate(ctx, types.NewDialogKey("test", "retry"))

	var calls atomic.Int32
	gw.SetHandler(func(ctx context.Context, run *Run) error {
		if calls.Add(1) < 3 {
			return errors.New("connection reset")
		}
		return nil
	})

	run, err := gw.Submit(ctx, id, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if !gw.Queue.WaitIdle(2 * time.Second) {
		t.Fatal("queue did not drain")
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
	if run.Status != RunStatusComplete {
		t.Errorf("expected complete, got %s", run.Status)
	}
	if run.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", run.Attempts)
	}
}

func TestGatewayFailureCallback(t *testing.T) {
	gw, dialogs := newTestGateway(t)
	ctx := context.Background()
	id, _ := dialogs.ResolveOrCreate(ctx, types.NewDialogKey("test", "fail"))

	gw.SetHandler(func(ctx context.Context, run *Run) error {
		return Permanent(errors.New("responder rejected message"))
	})

	failed := make(chan error, 1)
	if _, err := gw.Submit(ctx, id, "m1", WithOnFailure(func(err error) { failed <- err })); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Error("expected error in failure callback")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failure callback not called")
	}
}
