// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type DialogKey string
type DialogID string
type MessageID string
type BlobID string
type RunID string

func NewDialogID() DialogID {
	return DialogID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewBlobID() BlobID {
	return BlobID(uuid.New().String())
}

func NewRunID() RunID {
	return RunID(uuid.New().String())
}

func NewDialogKey(parts ...string) DialogKey {
	return DialogKey(strings.Join(parts, ":"))
}
