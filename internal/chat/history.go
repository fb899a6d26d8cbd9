package chat

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/voxchat/internal/types"
)

// Turn is one entry of the conversation sent to the responder.
type Turn struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
	Transcript  string             `json:"transcript,omitempty"`
}

// Counter returns the token count for a string.
type Counter func(text string) int

// History trims a transcript to the responder's token budget.
type History struct {
	count     Counter
	maxTokens int
	reserve   int
}

// NewHistory creates a History using the tokenizer for model.
// maxTokens is the context window; reserve is kept free for the reply.
func NewHistory(model string, maxTokens, reserve int) (*History, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	count := func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
	return NewHistoryWithCounter(count, maxTokens, reserve), nil
}

// NewHistoryWithCounter creates a History with a custom token counter.
func NewHistoryWithCounter(count Counter, maxTokens, reserve int) *History {
	return &History{count: count, maxTokens: maxTokens, reserve: reserve}
}

// Budget returns the number of tokens available for the prompt.
func (h *History) Budget() int {
	return h.maxTokens - h.reserve
}

func (h *History) tokens(t Turn) int {
	n := h.count(t.Content) + h.count(t.Transcript)
	for _, a := range t.Attachments {
		n += h.count(a.Name)
	}
	return n
}

// Window returns the system prompt followed by the newest turns that fit the
// budget, in chronological order. The newest turn is always kept.
func (h *History) Window(system string, turns []Turn) []Turn {
	remaining := h.Budget()
	if system != "" {
		remaining -= h.count(system)
	}

	kept := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		n := h.tokens(turns[i])
		if kept > 0 && n > remaining {
			break
		}
		remaining -= n
		start = i
		kept++
	}

	out := make([]Turn, 0, kept+1)
	if system != "" {
		out = append(out, Turn{Role: string(types.RoleSystem), Content: system})
	}
	return append(out, turns[start:]...)
}

// TurnFromMessage converts a stored message.
func TurnFromMessage(m *types.Message) Turn {
	return Turn{
		Role:        string(m.Role),
		Content:     m.Content,
		Attachments: m.Attachments,
	}
}
