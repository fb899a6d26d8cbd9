package upload

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/user/voxchat/internal/types"
)

// BlobIDFromURL extracts the blob ID from a URL produced by FileURL.
func (h *Handler) BlobIDFromURL(url string) (types.BlobID, bool) {
	prefix := h.publicURL + "/api/files/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(url, prefix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return types.BlobID(id), true
}

// OpenAttachment returns the bytes behind att. Locally stored files are read
// from the blob store; anything else is fetched over HTTP.
func (h *Handler) OpenAttachment(ctx context.Context, att types.Attachment) (io.ReadCloser, error) {
	if id, ok := h.BlobIDFromURL(att.URL); ok {
		rc, _, err := h.blobs.Open(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("open blob: %w", err)
		}
		return rc, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch attachment: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Transcript returns the stored transcript of a locally stored attachment,
// or "" when there is none.
func (h *Handler) Transcript(ctx context.Context, att types.Attachment) string {
	id, ok := h.BlobIDFromURL(att.URL)
	if !ok {
		return ""
	}
	meta, err := h.blobs.GetMeta(ctx, id)
	if err != nil {
		return ""
	}
	return meta.Transcript
}
