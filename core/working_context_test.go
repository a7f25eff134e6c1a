package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildWorkingContext_RoutesInstructions(t *testing.T) {
	events := []Event{
		SystemInstruction{EventHeader: header(0), Content: "persona", Stable: true},
		UserMessage{EventHeader: header(1), Content: "hi"},
		SystemInstruction{EventHeader: header(2), Content: "date: monday"},
		AgentMessage{EventHeader: header(3), Content: "hello"},
	}

	wc := BuildWorkingContext(events, WorkingContextOptions{
		SystemInstructions:       []string{"dyn"},
		StaticSystemInstructions: []string{"static"},
	})

	assert.Equal(t, []string{"static", "persona"}, wc.StaticSystemInstructions)
	assert.Equal(t, []string{"dyn", "date: monday"}, wc.SystemInstructions)
	require.Len(t, wc.Messages, 2)
	assert.Equal(t, "hi", wc.Messages[0].Content)
	assert.Equal(t, "hello", wc.Messages[1].Content)
	assert.Empty(t, wc.NewMessages())
}

func TestBuildWorkingContext_CustomMapper(t *testing.T) {
	events := []Event{
		UserMessage{EventHeader: header(0), Content: "a"},
		AgentMessage{EventHeader: header(1), Content: "b"},
	}
	onlyUsers := func(e Event) (Message, bool) {
		if um, ok := e.(UserMessage); ok {
			return Message{Role: RoleUser, Content: "U:" + um.Content}, true
		}
		return Message{}, false
	}

	wc := BuildWorkingContext(events, WorkingContextOptions{Mapper: onlyUsers})
	require.Len(t, wc.Messages, 1)
	assert.Equal(t, "U:a", wc.Messages[0].Content)
}

func TestWorkingContext_NewMessagesTracksAdditions(t *testing.T) {
	seed := []Message{{Role: RoleUser, Content: "old"}}
	wc := NewWorkingContext(WorkingContextInit{Messages: seed})

	seed[0].Content = "mutated"
	assert.Equal(t, "old", wc.Messages[0].Content)

	wc.AddMessage(Message{Role: RoleAssistant, Content: "new1"})
	wc.AddMessage(Message{Role: RoleUser, Content: "new2"})

	added := wc.NewMessages()
	require.Len(t, added, 2)
	assert.Equal(t, "new1", added[0].Content)
	assert.Equal(t, "new2", added[1].Content)
	assert.Len(t, wc.Messages, 3)
}

func TestWorkingContext_CacheFriendlyMessages(t *testing.T) {
	wc := NewWorkingContext(WorkingContextInit{
		Messages:                 []Message{{Role: RoleUser, Content: "q"}, {Role: RoleTool, Content: "r", ToolCallID: "c1", Name: "t"}},
		SystemInstructions:       []string{"dynamic"},
		StaticSystemInstructions: []string{"static-1", "static-2"},
	})

	out := wc.CacheFriendlyMessages()
	require.Len(t, out, 5)
	assert.Equal(t, CacheFriendlyMessage{Role: RoleSystem, Content: "static-1"}, out[0])
	assert.Equal(t, CacheFriendlyMessage{Role: RoleSystem, Content: "static-2"}, out[1])
	assert.Equal(t, CacheFriendlyMessage{Role: RoleSystem, Content: "dynamic"}, out[2])
	assert.Equal(t, RoleUser, out[3].Role)
	assert.Equal(t, CacheFriendlyMessage{Role: RoleTool, Content: "r", ToolCallID: "c1", Name: "t"}, out[4])
}
