package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/voxchat/internal/dialog"
	"github.com/user/voxchat/internal/types"
)

// Client talks to a running voxchat server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the server at baseURL. A nil httpClient
// selects one with a 30s timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error  string            `json:"error"`
			Fields map[string]string `json:"fields"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if json.Unmarshal(data, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Error, Fields: e.Fields}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// ListDialogs returns every dialog known to the server.
func (c *Client) ListDialogs(ctx context.Context) ([]*types.DialogIndex, error) {
	var out []*types.DialogIndex
	if err := c.do(ctx, http.MethodGet, "/api/dialogs", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// StartDialog submits an appointment form.
func (c *Client) StartDialog(ctx context.Context, form dialog.Form) (*types.DialogIndex, error) {
	var out types.DialogIndex
	if err := c.do(ctx, http.MethodPost, "/api/dialogs", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages returns the newest limit messages of a dialog.
func (c *Client) Messages(ctx context.Context, id types.DialogID, limit int) ([]*types.Message, error) {
	path := "/api/dialogs/" + url.PathEscape(string(id)) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []*types.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendResponse is the body returned for an appended message.
type AppendResponse struct {
	ID types.MessageID `json:"id"`
}

// Append posts a message to a dialog.
func (c *Client) Append(ctx context.Context, id types.DialogID, msg types.Message) (types.MessageID, error) {
	var out AppendResponse
	path := "/api/dialogs/" + url.PathEscape(string(id)) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, msg, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// ForDialog binds the client to one dialog.
func (c *Client) ForDialog(id types.DialogID) *RemoteAppender {
	return &RemoteAppender{client: c, dialogID: id}
}

// RemoteAppender appends messages to one dialog on a remote server.
type RemoteAppender struct {
	client   *Client
	dialogID types.DialogID
}

func (a *RemoteAppender) Append(ctx context.Context, msg types.Message) (types.MessageID, error) {
	return a.client.Append(ctx, a.dialogID, msg)
}
