package generation

import (
	"strings"

	ports "github.com/ZanzyTHEbar/chatrelay/relay/generation/ports"
	"github.com/ZanzyTHEbar/chatrelay/relay/transcript"
)

// PromptBuilder turns a transcript into a provider PromptInput.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build keeps the transcript order. Message content only has its line endings
// normalized; the system prompt is also trimmed.
func (b *PromptBuilder) Build(system string, history transcript.Transcript, meta map[string]string) ports.PromptInput {
	messages := make([]ports.PromptMessage, len(history))
	for i, turn := range history {
		messages[i] = ports.PromptMessage{
			Role:    string(turn.Role),
			Content: strings.ReplaceAll(turn.Content, "\r\n", "\n"),
		}
	}

	return ports.PromptInput{
		System:   strings.TrimSpace(strings.ReplaceAll(system, "\r\n", "\n")),
		Messages: messages,
		Meta:     meta,
	}
}
