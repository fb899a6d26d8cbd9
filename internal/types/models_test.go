// internal/types/models_test.go
package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestAttachmentJSONFieldNames(t *testing.T) {
	att := Attachment{URL: "http://x/api/files/1", Name: "voice-message.webm", ContentType: "audio/webm"}
	data, err := json.Marshal(att)
	if err != nil {
		t.Fatal(err)
	}
	// The upload contract uses camelCase contentType.
	if !strings.Contains(string(data), `"contentType":"audio/webm"`) {
		t.Errorf("expected camelCase contentType, got %s", data)
	}
}

func TestAttachmentIsAudio(t *testing.T) {
	if !(Attachment{ContentType: "audio/webm"}).IsAudio() {
		t.Error("expected audio/webm to be audio")
	}
	if (Attachment{ContentType: "image/png"}).IsAudio() {
		t.Error("expected image/png not to be audio")
	}
}
