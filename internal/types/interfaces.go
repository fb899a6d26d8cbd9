// internal/types/interfaces.go
package types

import (
	"context"
	"io"
)

type DialogStore interface {
	ResolveOrCreate(ctx context.Context, key DialogKey) (DialogID, error)
	Get(ctx context.Context, id DialogID) (*DialogIndex, error)
	List(ctx context.Context) ([]*DialogIndex, error)
	Update(ctx context.Context, dialog *DialogIndex) error
}

type MessageStore interface {
	Append(ctx context.Context, msg *Message) error
	Tail(ctx context.Context, dialogID DialogID, limit int) ([]*Message, error)
	Count(ctx context.Context, dialogID DialogID) (int64, error)
}

type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (*BlobMeta, error)
	Open(ctx context.Context, id BlobID) (io.ReadCloser, *BlobMeta, error)
	GetMeta(ctx context.Context, id BlobID) (*BlobMeta, error)
	SetTranscript(ctx context.Context, id BlobID, transcript string) error
}
