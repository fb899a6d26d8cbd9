package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/user/voxchat/internal/dialog"
	"github.com/user/voxchat/internal/types"
)

func TestClientAppend(t *testing.T) {
	var got types.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/dialogs/d1/messages" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(AppendResponse{ID: got.ID})
	}))
	defer srv.Close()

	appender := NewClient(srv.URL+"/", nil).ForDialog("d1")
	id, err := appender.Append(context.Background(), types.Message{ID: "m1", Role: types.RoleUser, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if id != "m1" {
		t.Errorf("expected m1, got %s", id)
	}
	if got.Content != "hi" {
		t.Errorf("expected content hi, got %q", got.Content)
	}
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid form","fields":{"name":"Name is required"}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).StartDialog(context.Background(), dialog.Form{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Fields["name"] != "Name is required" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestClientListAndMessages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/dialogs":
			json.NewEncoder(w).Encode([]*types.DialogIndex{{DialogID: "d1"}})
		case "/api/dialogs/d1/messages":
			if r.URL.Query().Get("limit") != "5" {
				http.Error(w, `{"error":"bad limit"}`, http.StatusBadRequest)
				return
			}
			json.NewEncoder(w).Encode([]*types.Message{{ID: "m1"}, {ID: "m2"}})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ctx := context.Background()
	dialogs, err := c.ListDialogs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(dialogs) != 1 || dialogs[0].DialogID != "d1" {
		t.Errorf("unexpected dialogs: %+v", dialogs)
	}
	msgs, err := c.Messages(ctx, "d1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Errorf("expected 2 messages, got %d", len(msgs))
	}
}
