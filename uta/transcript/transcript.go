// Package transcript records the ordered turns of one simulated conversation.
package transcript

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleTester Role = "tester"
	RoleAgent  Role = "agent"
)

// Chat roles used when the history is handed to an agent adapter.
const (
	ChatUser      = "user"
	ChatAssistant = "assistant"
)

// Turn is a single message in the conversation. Turns are immutable once
// appended.
type Turn struct {
	Index      int            `json:"index"`
	Role       Role           `json:"role"`
	Text       string         `json:"text"`
	Structured map[string]any `json:"structured,omitempty"`
	LatencyMs  float64        `json:"latency_ms,omitempty"`
	CostUSD    float64        `json:"cost_usd,omitempty"`
	Status     int            `json:"status,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Failed reports whether the turn is a synthetic record of an adapter failure.
func (t Turn) Failed() bool {
	return t.Error != ""
}

// Malformed reports whether an agent turn carries nothing a strategy can react to.
func (t Turn) Malformed() bool {
	return t.Failed() || (t.Text == "" && len(t.Structured) == 0)
}

// Message is a role/content pair in the chat format agents expect.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an append-only ordered list of turns. It is owned by a
// single orchestrator run and is not safe for concurrent mutation.
type Conversation struct {
	ID    string `json:"id"`
	turns []Turn
}

// New returns an empty conversation.
func New(id string) *Conversation {
	return &Conversation{ID: id}
}

// Append adds a turn, assigning its index and timestamp. The stored turn is
// returned.
func (c *Conversation) Append(t Turn) Turn {
	t.Index = len(c.turns)
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	c.turns = append(c.turns, t)
	return t
}

// Len returns the number of turns recorded.
func (c *Conversation) Len() int {
	return len(c.turns)
}

// Turns returns a copy of the recorded turns.
func (c *Conversation) Turns() []Turn {
	out := make([]Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// LastAgent returns the most recent agent turn.
func (c *Conversation) LastAgent() (Turn, bool) {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAgent {
			return c.turns[i], true
		}
	}
	return Turn{}, false
}

// LastStructured returns the most recent structured payload the agent emitted.
func (c *Conversation) LastStructured() map[string]any {
	for i := len(c.turns) - 1; i >= 0; i-- {
		if c.turns[i].Role == RoleAgent && len(c.turns[i].Structured) > 0 {
			return c.turns[i].Structured
		}
	}
	return nil
}

// FinalStructured returns the payload of the last agent turn. When that turn
// is a failed call it falls back to the most recent payload the agent
// emitted before the failure.
func (c *Conversation) FinalStructured() map[string]any {
	last, ok := c.LastAgent()
	if !ok {
		return nil
	}
	if last.Failed() {
		return c.LastStructured()
	}
	return last.Structured
}

// AgentTurns returns the agent turns in order.
func (c *Conversation) AgentTurns() []Turn {
	return c.byRole(RoleAgent)
}

// TesterTurns returns the tester turns in order.
func (c *Conversation) TesterTurns() []Turn {
	return c.byRole(RoleTester)
}

func (c *Conversation) byRole(role Role) []Turn {
	var out []Turn
	for _, t := range c.turns {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}

// Messages renders the history in chat format. Failed agent turns are
// omitted because the agent never produced them.
func (c *Conversation) Messages() []Message {
	msgs := make([]Message, 0, len(c.turns))
	for _, t := range c.turns {
		if t.Failed() {
			continue
		}
		role := ChatUser
		if t.Role == RoleAgent {
			role = ChatAssistant
		}
		msgs = append(msgs, Message{Role: role, Content: t.Text})
	}
	return msgs
}

type conversationJSON struct {
	ID    string `json:"id"`
	Turns []Turn `json:"turns"`
}

// MarshalJSON encodes the conversation with its turns.
func (c *Conversation) MarshalJSON() ([]byte, error) {
	turns := c.turns
	if turns == nil {
		turns = []Turn{}
	}
	return json.Marshal(conversationJSON{ID: c.ID, Turns: turns})
}

// UnmarshalJSON restores a conversation written by MarshalJSON.
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var raw conversationJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.ID = raw.ID
	c.turns = raw.Turns
	return nil
}
