package chat

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/user/voxchat/internal/types"
)

// DefaultPrompt is the system prompt template sent ahead of the transcript.
// Fields: .Time, .Patient, .DoctorType, .RemoteID.
const DefaultPrompt = `You are a friendly clinic assistant calling a patient to confirm an appointment.
- Time: {{.Time}}
{{- if .Patient}}
- Patient: {{.Patient}}
{{- end}}
{{- if .DoctorType}}
- Appointment with: the {{.DoctorType}}
{{- end}}
{{- if .RemoteID}}
- Dialog: {{.RemoteID}}
{{- end}}

Keep replies short. Voice messages arrive with a transcript when one is available.`

// PromptData is the data available to the prompt template.
type PromptData struct {
	Time       string
	Patient    string
	DoctorType string
	RemoteID   string
}

// Prompt renders the system prompt for a dialog.
type Prompt struct {
	tmpl *template.Template
	now  func() time.Time
}

// NewPrompt parses text as a prompt template. Empty text selects DefaultPrompt.
func NewPrompt(text string) (*Prompt, error) {
	if text == "" {
		text = DefaultPrompt
	}
	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt: %w", err)
	}
	return &Prompt{tmpl: tmpl, now: time.Now}, nil
}

// Render executes the template for d.
func (p *Prompt) Render(d *types.DialogIndex) (string, error) {
	data := PromptData{Time: p.now().Format(time.RFC3339)}
	if d != nil {
		data.Patient = d.Patient
		data.DoctorType = d.DoctorType
		data.RemoteID = d.RemoteID
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return buf.String(), nil
}
