// Package transcript keeps the per-user conversation history the relay sends
// as context to the completion provider, and persists it through a Backend.
package transcript

import "fmt"

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the roles a transcript may hold.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Turn is a single conversational exchange. Turns are never modified after
// they are appended.
type Turn struct {
	Role    Role   `json:"role" yaml:"role"`
	Content string `json:"content" yaml:"content"`
}

// UserTurn builds a turn authored by the user.
func UserTurn(content string) Turn { return Turn{Role: RoleUser, Content: content} }

// AssistantTurn builds a turn authored by the assistant.
func AssistantTurn(content string) Turn { return Turn{Role: RoleAssistant, Content: content} }

// Transcript is the ordered history of one user, oldest first.
type Transcript []Turn

// Clone returns a copy that shares no backing array with t.
func (t Transcript) Clone() Transcript {
	if len(t) == 0 {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

func (t Transcript) validate() error {
	for i, turn := range t {
		if !turn.Role.Valid() {
			return fmt.Errorf("turn %d has invalid role %q", i, turn.Role)
		}
	}
	return nil
}

// Snapshot is the whole store: user id to transcript.
type Snapshot map[string]Transcript

// Clone deep-copies the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for user, t := range s {
		out[user] = t.Clone()
	}
	return out
}
