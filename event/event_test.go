package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalFlattensPayload(t *testing.T) {
	ev := NewRunStarted("thread-1", "run-1")

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "run_started", wire["type"])
	assert.Equal(t, "thread-1", wire["threadId"])
	assert.Equal(t, "run-1", wire["runId"])
	assert.NotZero(t, wire["timestamp"])
}

func TestMarshalContentDelta(t *testing.T) {
	ev := NewTextMessageContent("msg-1", "hello ")

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(data, &wire))

	assert.Equal(t, "text_message_content", wire["type"])
	assert.Equal(t, "msg-1", wire["messageId"])
	assert.Equal(t, "hello ", wire["delta"])
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
	}{
		{"run_started", NewRunStarted("t1", "r1")},
		{"run_finished", NewRunFinished("r1", map[string]any{"tokens": float64(42)})},
		{"run_error", NewRunError("model unavailable")},
		{"text_message_start", NewTextMessageStart("m1")},
		{"text_message_content", NewTextMessageContent("m1", "delta")},
		{"text_message_end", NewTextMessageEnd("m1")},
		{"tool_call_start", NewToolCallStart("tc1", "search", map[string]any{"query": "go"})},
		{"tool_call_end", NewToolCallEnd("tc1")},
		{"tool_call_result", NewToolCallResult("tc1", "m2", "result text")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			require.NoError(t, err)

			var got Event
			require.NoError(t, json.Unmarshal(data, &got))

			assert.Equal(t, tt.ev.Type, got.Type)
			assert.Equal(t, tt.ev.Payload, got.Payload)
			assert.WithinDuration(t, tt.ev.Timestamp, got.Timestamp, time.Millisecond)
		})
	}
}

func TestUnmarshalUnknownType(t *testing.T) {
	var ev Event
	err := json.Unmarshal([]byte(`{"type":"run_paused","timestamp":0}`), &ev)
	assert.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, NewRunFinished("r1", nil).IsTerminal())
	assert.True(t, NewRunError("boom").IsTerminal())
	assert.False(t, NewRunStarted("t1", "r1").IsTerminal())
	assert.False(t, NewTextMessageEnd("m1").IsTerminal())
}
