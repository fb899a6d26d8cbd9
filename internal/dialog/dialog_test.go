package dialog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/user/voxchat/internal/state"
	"github.com/user/voxchat/internal/types"
)

type recorded struct {
	mu       sync.Mutex
	messages []types.Message
	dialogs  []types.DialogID
}

func (r *recorded) Record(_ context.Context, id types.DialogID, msg types.Message) (types.MessageID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialogs = append(r.dialogs, id)
	r.messages = append(r.messages, msg)
	return msg.ID, nil
}

func validForm() Form {
	return Form{
		Name:       "Ada Lovelace",
		Date:       "2026-10-20",
		Time:       "09:30",
		DoctorType: "therapist",
	}
}

func TestValidateRequiredFields(t *testing.T) {
	var f Form
	err := f.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	fields := FieldErrors(err)
	want := map[string]string{
		"name":        "Name is required",
		"date":        "Date is required",
		"time":        "Time is required",
		"doctor_type": "Doctor type is required",
		"lang":        "Language is required",
	}
	for field, msg := range want {
		if fields[field] != msg {
			t.Errorf("expected %s message %q, got %q", field, msg, fields[field])
		}
	}
}

func TestNormalizeDefaultsLanguage(t *testing.T) {
	f := validForm()
	f.Name = "  Ada  "
	f.DoctorType = "Therapist"
	f.Normalize()
	if f.Lang != "en" {
		t.Errorf("expected lang en, got %q", f.Lang)
	}
	if f.Name != "Ada" {
		t.Errorf("expected trimmed name, got %q", f.Name)
	}
	if err := f.Validate(); err != nil {
		t.Errorf("expected valid form, got %v", err)
	}
}

func TestValidateFormats(t *testing.T) {
	f := validForm()
	f.Date = "20/10/2026"
	f.Time = "9am"
	f.DoctorType = "dentist"
	f.Lang = "it"
	fields := FieldErrors(f.Validate())
	for _, field := range []string{"date", "time", "doctor_type", "lang"} {
		if fields[field] == "" {
			t.Errorf("expected error for %s", field)
		}
	}
	if _, ok := fields["name"]; ok {
		t.Error("expected no error for name")
	}
}

func TestStarterStart(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/new_dialog" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got = make(map[string]string)
		for k, v := range r.MultipartForm.Value {
			got[k] = v[0]
		}
		w.Write([]byte("remote-42\n"))
	}))
	defer srv.Close()

	store := state.NewDialogStore(t.TempDir())
	rec := &recorded{}
	starter := NewStarter(srv.URL, store, rec)

	d, err := starter.Start(context.Background(), validForm())
	if err != nil {
		t.Fatal(err)
	}
	if d.RemoteID != "remote-42" {
		t.Errorf("expected remote id remote-42, got %q", d.RemoteID)
	}
	if d.DialogKey != "remote:remote-42" {
		t.Errorf("expected key remote:remote-42, got %q", d.DialogKey)
	}
	if got["name"] != "Ada Lovelace" || got["lang"] != "en" || got["doctor_type"] != "therapist" {
		t.Errorf("unexpected form fields: %v", got)
	}
	if _, ok := got["cancel_additional_data"]; !ok {
		t.Error("expected cancel_additional_data to be sent")
	}

	if len(rec.messages) != 1 {
		t.Fatalf("expected 1 greeting, got %d", len(rec.messages))
	}
	if rec.messages[0].Role != types.RoleAssistant || rec.messages[0].Content != DefaultGreeting {
		t.Errorf("unexpected greeting: %+v", rec.messages[0])
	}
	if rec.dialogs[0] != d.DialogID {
		t.Errorf("expected greeting in %s, got %s", d.DialogID, rec.dialogs[0])
	}

	stored, err := store.Get(context.Background(), d.DialogID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Patient != "Ada Lovelace" {
		t.Errorf("expected patient stored, got %q", stored.Patient)
	}
}

func TestStarterRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := state.NewDialogStore(t.TempDir())
	rec := &recorded{}
	_, err := NewStarter(srv.URL, store, rec).Start(context.Background(), validForm())
	if !errors.Is(err, ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
	dialogs, _ := store.List(context.Background())
	if len(dialogs) != 0 {
		t.Errorf("expected no local dialog, got %d", len(dialogs))
	}
	if len(rec.messages) != 0 {
		t.Errorf("expected no greeting, got %d", len(rec.messages))
	}
}

func TestStarterInvalidFormSkipsRemote(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	_, err := NewStarter(srv.URL, state.NewDialogStore(t.TempDir()), nil).Start(context.Background(), Form{})
	if !errors.Is(err, ErrInvalidForm) {
		t.Fatalf("expected ErrInvalidForm, got %v", err)
	}
	if FieldErrors(err)["name"] != "Name is required" {
		t.Errorf("expected name error through wrapping, got %v", FieldErrors(err))
	}
	if called {
		t.Error("expected no request for invalid form")
	}
}
