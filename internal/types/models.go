// internal/types/models.go
package types

import (
	"strings"
	"time"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Attachment references an uploaded binary artifact.
type Attachment struct {
	URL         string `json:"url"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
}

// IsAudio reports whether the attachment carries an audio payload.
func (a Attachment) IsAudio() bool {
	return strings.HasPrefix(a.ContentType, "audio/")
}

type Message struct {
	ID          MessageID    `json:"id"`
	DialogID    DialogID     `json:"dialog_id,omitempty"`
	Seq         int64        `json:"seq,omitempty"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
	At          time.Time    `json:"at"`
}

type DialogIndex struct {
	DialogID    DialogID  `json:"dialog_id"`
	DialogKey   DialogKey `json:"dialog_key"`
	RemoteID    string    `json:"remote_id,omitempty"`
	Patient     string    `json:"patient,omitempty"`
	DoctorType  string    `json:"doctor_type,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastMessage int64     `json:"last_message_seq"`
}

type BlobMeta struct {
	ID          BlobID    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Transcript  string    `json:"transcript,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
