package chat

import (
	"strings"
	"testing"

	"github.com/user/voxchat/internal/types"
)

func wordCounter(s string) int {
	return len(strings.Fields(s))
}

func TestHistoryWindowKeepsNewest(t *testing.T) {
	h := NewHistoryWithCounter(wordCounter, 12, 2)
	turns := []Turn{
		{Role: "user", Content: "one two three four"},
		{Role: "assistant", Content: "five six seven"},
		{Role: "user", Content: "eight nine"},
	}

	got := h.Window("system prompt here", turns)
	// budget 10, system 3, leaves 7: the last two turns (5 words) fit, the first (4) does not.
	if len(got) != 3 {
		t.Fatalf("expected system + 2 turns, got %d", len(got))
	}
	if got[0].Role != "system" {
		t.Errorf("expected system first, got %s", got[0].Role)
	}
	if got[1].Content != "five six seven" || got[2].Content != "eight nine" {
		t.Errorf("unexpected window: %+v", got)
	}
}

func TestHistoryWindowAlwaysKeepsLastTurn(t *testing.T) {
	h := NewHistoryWithCounter(wordCounter, 3, 1)
	got := h.Window("", []Turn{{Role: "user", Content: "a very long message that exceeds the budget"}})
	if len(got) != 1 {
		t.Fatalf("expected the newest turn to be kept, got %d", len(got))
	}
}

func TestHistoryCountsTranscripts(t *testing.T) {
	h := NewHistoryWithCounter(wordCounter, 5, 0)
	turns := []Turn{
		{Role: "user", Content: "hi"},
		{Role: "user", Content: "🎤", Transcript: "please move my appointment"},
	}
	got := h.Window("", turns)
	if len(got) != 1 {
		t.Errorf("expected transcript tokens to push out the older turn, got %d turns", len(got))
	}
}

func TestNewHistoryTiktoken(t *testing.T) {
	h, err := NewHistory("gpt-4o-mini", 100, 10)
	if err != nil {
		t.Skipf("tokenizer unavailable: %v", err)
	}
	if h.Budget() != 90 {
		t.Errorf("expected budget 90, got %d", h.Budget())
	}
	if n := h.count("hello world"); n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}
}

func TestTurnFromMessage(t *testing.T) {
	m := &types.Message{Role: types.RoleUser, Content: "x", Attachments: []types.Attachment{{Name: "a.webm"}}}
	turn := TurnFromMessage(m)
	if turn.Role != "user" || turn.Content != "x" || len(turn.Attachments) != 1 {
		t.Errorf("unexpected turn: %+v", turn)
	}
}

func TestPromptRender(t *testing.T) {
	p, err := NewPrompt("")
	if err != nil {
		t.Fatal(err)
	}
	out, err := p.Render(&types.DialogIndex{Patient: "Ada", DoctorType: "surgeon"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Patient: Ada") || !strings.Contains(out, "the surgeon") {
		t.Errorf("unexpected prompt: %s", out)
	}
	if strings.Contains(out, "Dialog:") {
		t.Error("expected dialog line omitted without remote id")
	}

	if _, err := NewPrompt("{{.Broken"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSuggestedActions(t *testing.T) {
	actions := SuggestedActions()
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].Action != "What is the weather in San Francisco?" {
		t.Errorf("unexpected first action %q", actions[0].Action)
	}
}
