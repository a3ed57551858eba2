package transcript

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation_AppendAssignsIndexes(t *testing.T) {
	c := New("conv-1")
	first := c.Append(Turn{Role: RoleTester, Text: "hello"})
	second := c.Append(Turn{Role: RoleAgent, Text: "hi", Structured: map[string]any{"outcome": "pending"}})

	assert.Equal(t, 0, first.Index)
	assert.Equal(t, 1, second.Index)
	assert.False(t, second.CreatedAt.IsZero())
	assert.Equal(t, 2, c.Len())
}

func TestConversation_TurnsIsACopy(t *testing.T) {
	c := New("conv-1")
	c.Append(Turn{Role: RoleTester, Text: "hello"})

	turns := c.Turns()
	turns[0].Text = "mutated"

	assert.Equal(t, "hello", c.Turns()[0].Text)
}

func TestConversation_RoleViews(t *testing.T) {
	c := New("conv-1")
	c.Append(Turn{Role: RoleTester, Text: "t1"})
	c.Append(Turn{Role: RoleAgent, Text: "a1", Structured: map[string]any{"outcome": "x"}})
	c.Append(Turn{Role: RoleTester, Text: "t2"})
	c.Append(Turn{Role: RoleAgent, Text: "a2"})

	last, ok := c.LastAgent()
	require.True(t, ok)
	assert.Equal(t, "a2", last.Text)
	assert.Equal(t, map[string]any{"outcome": "x"}, c.LastStructured())
	assert.Len(t, c.AgentTurns(), 2)
	assert.Len(t, c.TesterTurns(), 2)
}

func TestConversation_FinalStructured(t *testing.T) {
	c := New("conv-1")
	assert.Nil(t, c.FinalStructured())

	c.Append(Turn{Role: RoleAgent, Text: "a1", Structured: map[string]any{"outcome": "success"}})
	c.Append(Turn{Role: RoleTester, Text: "t1"})
	c.Append(Turn{Role: RoleAgent, Text: "a2"})
	assert.Nil(t, c.FinalStructured())

	c.Append(Turn{Role: RoleTester, Text: "t2"})
	c.Append(Turn{Role: RoleAgent, Structured: map[string]any{"outcome": "pending"}})
	c.Append(Turn{Role: RoleTester, Text: "t3"})
	c.Append(Turn{Role: RoleAgent, Error: "timeout"})
	assert.Equal(t, map[string]any{"outcome": "pending"}, c.FinalStructured())
}

func TestConversation_MessagesSkipFailedTurns(t *testing.T) {
	c := New("conv-1")
	c.Append(Turn{Role: RoleTester, Text: "pay my bill"})
	c.Append(Turn{Role: RoleAgent, Error: "timeout"})

	msgs := c.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{Role: ChatUser, Content: "pay my bill"}, msgs[0])
}

func TestTurn_Malformed(t *testing.T) {
	assert.True(t, Turn{Role: RoleAgent}.Malformed())
	assert.True(t, Turn{Role: RoleAgent, Text: "x", Error: "boom"}.Malformed())
	assert.False(t, Turn{Role: RoleAgent, Structured: map[string]any{"a": 1}}.Malformed())
	assert.False(t, Turn{Role: RoleAgent, Text: "ok"}.Malformed())
}

func TestConversation_LastAgentEmpty(t *testing.T) {
	c := New("conv-1")
	_, ok := c.LastAgent()
	assert.False(t, ok)
	assert.Nil(t, c.LastStructured())
}

func TestConversation_JSONRoundTrip(t *testing.T) {
	c := New("conv-1")
	c.Append(Turn{Role: RoleTester, Text: "hello"})
	c.Append(Turn{Role: RoleAgent, Text: "hi", Structured: map[string]any{"outcome": "goal_reached"}})

	data, err := json.Marshal(c)
	require.NoError(t, err)

	var back Conversation
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "conv-1", back.ID)
	require.Equal(t, 2, back.Len())
	assert.Equal(t, "goal_reached", back.LastStructured()["outcome"])

	empty, err := json.Marshal(New("x"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"x","turns":[]}`, string(empty))
}
