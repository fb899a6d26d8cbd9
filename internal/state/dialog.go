// internal/state/dialog.go
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/voxchat/internal/types"
)

// DialogStore is a JSON-file-backed dialog index.
// The index lives in dialogs/dialogs.json and every dialog gets its own
// directory at dialogs/<dialogID>/ for its transcript.
type DialogStore struct {
	root string
	mu   sync.RWMutex
}

// NewDialogStore creates a file-backed DialogStore rooted at the given directory.
func NewDialogStore(root string) *DialogStore {
	return &DialogStore{root: root}
}

func (s *DialogStore) indexPath() string {
	return filepath.Join(s.root, "dialogs", "dialogs.json")
}

func (s *DialogStore) dialogDir(id types.DialogID) string {
	return filepath.Join(s.root, "dialogs", string(id))
}

// loadIndex reads dialogs.json and returns a map keyed by DialogKey.
func (s *DialogStore) loadIndex() (map[types.DialogKey]*types.DialogIndex, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[types.DialogKey]*types.DialogIndex), nil
		}
		return nil, fmt.Errorf("read dialog index: %w", err)
	}

	var dialogs []*types.DialogIndex
	if err := json.Unmarshal(data, &dialogs); err != nil {
		return nil, fmt.Errorf("unmarshal dialog index: %w", err)
	}

	index := make(map[types.DialogKey]*types.DialogIndex, len(dialogs))
	for _, d := range dialogs {
		index[d.DialogKey] = d
	}
	return index, nil
}

func (s *DialogStore) saveIndex(index map[types.DialogKey]*types.DialogIndex) error {
	dialogs := make([]*types.DialogIndex, 0, len(index))
	for _, d := range index {
		dialogs = append(dialogs, d)
	}

	data, err := json.MarshalIndent(dialogs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dialog index: %w", err)
	}
	return writeAtomic(s.indexPath(), data)
}

// ResolveOrCreate returns the DialogID for the given key, creating a new dialog if needed.
func (s *DialogStore) ResolveOrCreate(_ context.Context, key types.DialogKey) (types.DialogID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	if existing, ok := index[key]; ok {
		return existing.DialogID, nil
	}

	d, err := s.insert(index, &types.DialogIndex{DialogKey: key})
	if err != nil {
		return "", err
	}
	return d.DialogID, nil
}

// Create stores a new dialog built from the given template. The template's
// key must be unique; ID, status and timestamps are filled in.
func (s *DialogStore) Create(_ context.Context, tmpl *types.DialogIndex) (*types.DialogIndex, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if tmpl.DialogKey == "" {
		return nil, fmt.Errorf("dialog key is required")
	}
	if _, ok := index[tmpl.DialogKey]; ok {
		return nil, fmt.Errorf("dialog already exists: %s", tmpl.DialogKey)
	}
	return s.insert(index, tmpl)
}

// insert assigns identity to d and persists it. Caller must hold the write lock.
func (s *DialogStore) insert(index map[types.DialogKey]*types.DialogIndex, d *types.DialogIndex) (*types.DialogIndex, error) {
	now := time.Now()
	d.DialogID = types.NewDialogID()
	d.Status = "active"
	d.CreatedAt = now
	d.UpdatedAt = now
	index[d.DialogKey] = d

	if err := s.saveIndex(index); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dialogDir(d.DialogID), 0o755); err != nil {
		return nil, fmt.Errorf("create dialog dir: %w", err)
	}
	return d, nil
}

// Get returns the dialog with the given ID.
func (s *DialogStore) Get(_ context.Context, id types.DialogID) (*types.DialogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, d := range index {
		if d.DialogID == id {
			return d, nil
		}
	}
	return nil, fmt.Errorf("dialog not found: %s", id)
}

// List returns all dialogs.
func (s *DialogStore) List(_ context.Context) ([]*types.DialogIndex, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	dialogs := make([]*types.DialogIndex, 0, len(index))
	for _, d := range index {
		dialogs = append(dialogs, d)
	}
	return dialogs, nil
}

// Update persists changes to the given dialog, setting UpdatedAt to now.
func (s *DialogStore) Update(_ context.Context, dialog *types.DialogIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return err
	}
	if _, ok := index[dialog.DialogKey]; !ok {
		return fmt.Errorf("dialog not found: %s", dialog.DialogKey)
	}

	dialog.UpdatedAt = time.Now()
	index[dialog.DialogKey] = dialog
	return s.saveIndex(index)
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
