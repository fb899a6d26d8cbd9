package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/user/voxchat/internal/types"
	"github.com/user/voxchat/internal/voice"
)

// Response is the success body of the upload endpoint.
type Response struct {
	URL         string `json:"url"`
	Pathname    string `json:"pathname"`
	ContentType string `json:"contentType"`
}

// ErrorResponse is the failure body of the upload endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client posts files to an upload endpoint as multipart field "file".
type Client struct {
	url  string
	http *http.Client
}

// NewClient creates a Client for the endpoint at url. A nil httpClient uses
// a client with a 60 second timeout.
func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{url: url, http: httpClient}
}

// Upload sends f and returns the stored attachment.
func (c *Client) Upload(ctx context.Context, f voice.File) (types.Attachment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	// CreateFormFile always sets application/octet-stream; the real type is needed server-side.
	partHeader := textproto.MIMEHeader{}
	partHeader.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, f.Name))
	ct := f.ContentType
	if ct == "" {
		ct = MimeForFilename(f.Name)
	}
	partHeader.Set("Content-Type", ct)

	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return types.Attachment{}, fmt.Errorf("write file data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return types.Attachment{}, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return types.Attachment{}, fmt.Errorf("upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return types.Attachment{}, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return types.Attachment{}, fmt.Errorf("upload rejected: %s", e.Error)
		}
		return types.Attachment{}, fmt.Errorf("upload rejected: status %d", resp.StatusCode)
	}

	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return types.Attachment{}, fmt.Errorf("decode upload response: %w", err)
	}
	if r.URL == "" {
		return types.Attachment{}, fmt.Errorf("upload response has no url")
	}
	return types.Attachment{URL: r.URL, Name: r.Pathname, ContentType: r.ContentType}, nil
}
