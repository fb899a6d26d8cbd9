// internal/state/blob.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/voxchat/internal/types"
)

// BlobStore keeps uploaded files on disk.
// Bytes live at blobs/<id>.bin, metadata at blobs/<id>.json.
type BlobStore struct {
	root string
	mu   sync.Mutex
}

// NewBlobStore creates a file-backed BlobStore rooted at the given directory.
func NewBlobStore(root string) *BlobStore {
	return &BlobStore{root: root}
}

func (b *BlobStore) dir() string {
	return filepath.Join(b.root, "blobs")
}

func (b *BlobStore) dataPath(id types.BlobID) string {
	return filepath.Join(b.dir(), string(id)+".bin")
}

func (b *BlobStore) metaPath(id types.BlobID) string {
	return filepath.Join(b.dir(), string(id)+".json")
}

// Put streams r to disk and records its metadata.
func (b *BlobStore) Put(_ context.Context, name, contentType string, r io.Reader) (*types.BlobMeta, error) {
	if err := os.MkdirAll(b.dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create blobs dir: %w", err)
	}

	id := types.NewBlobID()
	tmp := b.dataPath(id) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create blob file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, b.dataPath(id)); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("rename blob: %w", err)
	}

	meta := &types.BlobMeta{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        n,
		CreatedAt:   time.Now(),
	}
	if err := b.writeMeta(meta); err != nil {
		os.Remove(b.dataPath(id))
		return nil, err
	}
	return meta, nil
}

func (b *BlobStore) writeMeta(meta *types.BlobMeta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal blob meta: %w", err)
	}
	return writeAtomic(b.metaPath(meta.ID), data)
}

// GetMeta returns the metadata of a stored blob.
func (b *BlobStore) GetMeta(_ context.Context, id types.BlobID) (*types.BlobMeta, error) {
	data, err := os.ReadFile(b.metaPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", id)
		}
		return nil, fmt.Errorf("read blob meta: %w", err)
	}
	var meta types.BlobMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("unmarshal blob meta: %w", err)
	}
	return &meta, nil
}

// Open returns a reader over the blob bytes. The caller closes it.
func (b *BlobStore) Open(ctx context.Context, id types.BlobID) (io.ReadCloser, *types.BlobMeta, error) {
	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(b.dataPath(id))
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, meta, nil
}

// SetTranscript stores the transcript text on the blob's metadata.
func (b *BlobStore) SetTranscript(ctx context.Context, id types.BlobID, transcript string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	meta, err := b.GetMeta(ctx, id)
	if err != nil {
		return err
	}
	meta.Transcript = transcript
	return b.writeMeta(meta)
}
