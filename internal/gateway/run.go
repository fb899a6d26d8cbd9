package gateway

import (
	"context"
	"time"

	"github.com/user/voxchat/internal/types"
)

// RunStatus represents the lifecycle state of a Run.
type RunStatus string

const (
	RunStatusQueued   RunStatus = "queued"
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is one request for an assistant reply to a user message.
type Run struct {
	ID        types.RunID
	DialogID  types.DialogID
	MessageID types.MessageID
	Status    RunStatus
	Attempts  int
	CreatedAt time.Time
	StartedAt *time.Time
	EndedAt   *time.Time
	Error     error
	Ctx       context.Context
	OnFailure func(err error)
}

// NewRun creates a Run in the Queued state answering messageID.
func NewRun(dialogID types.DialogID, messageID types.MessageID) *Run {
	return &Run{
		ID:        types.NewRunID(),
		DialogID:  dialogID,
		MessageID: messageID,
		Status:    RunStatusQueued,
		CreatedAt: time.Now(),
	}
}
