package voice

import (
	"context"

	"github.com/user/voxchat/internal/types"
)

// File is an outbound upload.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Uploader stores a file and returns a reference to it.
type Uploader interface {
	Upload(ctx context.Context, f File) (types.Attachment, error)
}

// Appender appends a message to the conversation.
type Appender interface {
	Append(ctx context.Context, msg types.Message) (types.MessageID, error)
}
