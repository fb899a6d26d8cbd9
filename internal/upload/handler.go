package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/voice"
)

// Transcriber accepts uploaded audio for background transcription.
type Transcriber interface {
	// Submit must not block; it may drop work when saturated.
	Submit(meta *types.BlobMeta, data []byte) bool
}

// Handler serves the upload endpoint and the stored files.
type Handler struct {
	blobs       types.BlobStore
	publicURL   string
	maxBytes    int64
	transcriber Transcriber
}

// NewHandler creates a Handler storing into blobs. File URLs are built from
// publicURL; maxBytes limits a request body.
func NewHandler(blobs types.BlobStore, publicURL string, maxBytes int64) *Handler {
	return &Handler{
		blobs:     blobs,
		publicURL: strings.TrimRight(publicURL, "/"),
		maxBytes:  maxBytes,
	}
}

// SetTranscriber enables transcription of uploaded audio.
func (h *Handler) SetTranscriber(t Transcriber) {
	h.transcriber = t
}

// FileURL returns the public URL of a stored blob.
func (h *Handler) FileURL(id types.BlobID) string {
	return h.publicURL + "/api/files/" + string(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// ServeUpload handles POST /api/files/upload.
func (h *Handler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeError(w, http.StatusRequestEntityTooLarge, "File size should be less than the upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "Failed to read file data")
		return
	}

	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = MimeForFilename(header.Filename)
	}
	name := header.Filename
	if name == "" {
		name = "upload" + ExtForContentType(ct)
	}

	meta, err := h.store(r.Context(), name, ct, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Upload failed")
		return
	}

	writeJSON(w, http.StatusOK, Response{
		URL:         h.FileURL(meta.ID),
		Pathname:    meta.Name,
		ContentType: meta.ContentType,
	})
}

func (h *Handler) store(ctx context.Context, name, ct string, data []byte) (*types.BlobMeta, error) {
	meta, err := h.blobs.Put(ctx, name, ct, bytes.NewReader(data))
	if err != nil {
		slog.Error("store upload failed", "file", name, "error", err)
		return nil, err
	}
	slog.Info("file uploaded", "blob_id", meta.ID, "file", name, "bytes", meta.Size, "content_type", ct)

	if h.transcriber != nil && strings.HasPrefix(ct, "audio/") {
		if !h.transcriber.Submit(meta, data) {
			slog.Warn("transcription skipped: too many in flight", "blob_id", meta.ID)
		}
	}
	return meta, nil
}

// Upload stores f directly, for in-process callers that would otherwise
// post to ServeUpload.
func (h *Handler) Upload(ctx context.Context, f voice.File) (types.Attachment, error) {
	if len(f.Data) == 0 {
		return types.Attachment{}, fmt.Errorf("upload %q: empty file", f.Name)
	}
	if h.maxBytes > 0 && int64(len(f.Data)) > h.maxBytes {
		return types.Attachment{}, fmt.Errorf("upload %q: file size should be less than the upload limit", f.Name)
	}
	ct := f.ContentType
	if ct == "" {
		ct = MimeForFilename(f.Name)
	}
	name := f.Name
	if name == "" {
		name = "upload" + ExtForContentType(ct)
	}
	meta, err := h.store(ctx, name, ct, f.Data)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("upload %q: %w", name, err)
	}
	return types.Attachment{URL: h.FileURL(meta.ID), Name: meta.Name, ContentType: meta.ContentType}, nil
}

// ServeFile handles GET /api/files/{id}.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	id := types.BlobID(chi.URLParam(r, "id"))
	rc, meta, err := h.blobs.Open(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", meta.ContentType)
	w.Header().Set("Content-Disposition", `inline; filename="`+meta.Name+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("serve file interrupted", "blob_id", id, "error", err)
	}
}

// ServeTranscript handles GET /api/files/{id}/transcript.
func (h *Handler) ServeTranscript(w http.ResponseWriter, r *http.Request) {
	id := types.BlobID(chi.URLParam(r, "id"))
	meta, err := h.blobs.GetMeta(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "file not found")
		return
	}
	if meta.Transcript == "" {
		writeError(w, http.StatusNotFound, "no transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(meta.ID), "transcript": meta.Transcript})
}
