package chat

// SuggestedAction is a canned prompt offered on an empty conversation.
type SuggestedAction struct {
	Title  string `json:"title"`
	Label  string `json:"label"`
	Action string `json:"action"`
}

// SuggestedActions returns the welcome prompts.
func SuggestedActions() []SuggestedAction {
	return []SuggestedAction{
		{
			Title:  "What is the weather",
			Label:  "in San Francisco?",
			Action: "What is the weather in San Francisco?",
		},
		{
			Title:  "Answer like I'm 5,",
			Label:  "why is the sky blue?",
			Action: "Answer like I'm 5, why is the sky blue?",
		},
	}
}
