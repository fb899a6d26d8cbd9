// internal/state/message.go
package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/voxchat/internal/types"
)

// MessageStore is a JSONL-backed append-only transcript store.
// Messages are stored per-dialog in dialogs/<dialogID>/messages.jsonl.
type MessageStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.DialogID]*sync.Mutex
}

// NewMessageStore creates a file-backed MessageStore rooted at the given directory.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{
		root:  root,
		locks: make(map[types.DialogID]*sync.Mutex),
	}
}

func (m *MessageStore) lockFor(dialogID types.DialogID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	if lock, ok := m.locks[dialogID]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[dialogID] = lock
	return lock
}

func (m *MessageStore) transcriptPath(dialogID types.DialogID) string {
	return filepath.Join(m.root, "dialogs", string(dialogID), "messages.jsonl")
}

// readAll decodes the whole transcript. Caller must hold the dialog lock.
func (m *MessageStore) readAll(dialogID types.DialogID) ([]*types.Message, error) {
	f, err := os.Open(m.transcriptPath(dialogID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var msgs []*types.Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		msgs = append(msgs, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return msgs, nil
}

// Append adds a message to the dialog transcript and assigns its sequence number.
// A message with an ID that is already present is not written twice.
func (m *MessageStore) Append(_ context.Context, msg *types.Message) error {
	if msg.DialogID == "" {
		return fmt.Errorf("message has no dialog id")
	}
	lock := m.lockFor(msg.DialogID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.transcriptPath(msg.DialogID)), 0o755); err != nil {
		return fmt.Errorf("create dialog dir: %w", err)
	}

	existing, err := m.readAll(msg.DialogID)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if msg.ID != "" && e.ID == msg.ID {
			msg.Seq = e.Seq
			return nil
		}
	}
	msg.Seq = int64(len(existing)) + 1

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(m.transcriptPath(msg.DialogID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Tail returns the last limit messages of the dialog. A limit <= 0 returns all.
func (m *MessageStore) Tail(_ context.Context, dialogID types.DialogID, limit int) ([]*types.Message, error) {
	lock := m.lockFor(dialogID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := m.readAll(dialogID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Count returns the number of messages in the dialog.
func (m *MessageStore) Count(_ context.Context, dialogID types.DialogID) (int64, error) {
	lock := m.lockFor(dialogID)
	lock.Lock()
	defer lock.Unlock()

	msgs, err := m.readAll(dialogID)
	if err != nil {
		return 0, err
	}
	return int64(len(msgs)), nil
}
