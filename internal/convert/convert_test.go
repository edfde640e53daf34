package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func simpleRequest() string {
	return `{
		"model": "claude-sonnet-4",
		"max_tokens": 1024,
		"messages": [{"role": "user", "content": "Hello!"}],
		"stream": true
	}`
}

func convert(t *testing.T, body string) gjson.Result {
	t.Helper()
	out, err := AnthropicToOpenAI([]byte(body))
	require.NoError(t, err)
	return gjson.ParseBytes(out)
}

func TestSimpleConversion(t *testing.T) {
	out := convert(t, simpleRequest())

	assert.Equal(t, "claude-sonnet-4", out.Get("model").Str)
	assert.Equal(t, int64(1024), out.Get("max_completion_tokens").Int())
	assert.False(t, out.Get("stream").Bool(), "shadow requests are always non-streaming")

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].Get("role").Str)
	assert.Equal(t, "Hello!", msgs[0].Get("content").Str)
}

func TestSystemPromptString(t *testing.T) {
	out := convert(t, `{
		"model": "m", "max_tokens": 10,
		"system": "You are helpful.",
		"messages": [{"role": "user", "content": "Hi"}]
	}`)

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Get("role").Str)
	assert.Equal(t, "You are helpful.", msgs[0].Get("content").Str)
	assert.Equal(t, "user", msgs[1].Get("role").Str)
}

func TestSystemPromptBlocks(t *testing.T) {
	out := convert(t, `{
		"model": "m", "max_tokens": 10,
		"system": [{"type":"text","text":"Block one"},{"type":"text","text":"Block two"}],
		"messages": []
	}`)

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "system", msgs[0].Get("role").Str)
	assert.Equal(t, "Block one\nBlock two", msgs[0].Get("content").Str)
}

func TestToolUseRoundTrip(t *testing.T) {
	out := convert(t, `{
		"model": "m", "max_tokens": 100,
		"messages": [
			{"role": "user", "content": "Weather?"},
			{"role": "assistant", "content": [
				{"type": "tool_use", "id": "tool_123", "name": "get_weather", "input": {"location": "SF"}}
			]},
			{"role": "user", "content": [
				{"type": "tool_result", "tool_use_id": "tool_123", "content": "72F and sunny"}
			]}
		]
	}`)

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 3)
	assert.Equal(t, "user", msgs[0].Get("role").Str)

	assert.Equal(t, "assistant", msgs[1].Get("role").Str)
	assert.Equal(t, "get_weather", msgs[1].Get("tool_calls.0.function.name").Str)
	args := msgs[1].Get("tool_calls.0.function.arguments").Str
	assert.Equal(t, "SF", gjson.Get(args, "location").Str, "arguments are serialized JSON")

	assert.Equal(t, "tool", msgs[2].Get("role").Str)
	assert.Equal(t, "tool_123", msgs[2].Get("tool_call_id").Str)
	assert.Equal(t, "72F and sunny", msgs[2].Get("content").Str)
}

func TestToolsAndToolChoice(t *testing.T) {
	out := convert(t, `{
		"model": "m", "max_tokens": 10, "messages": [],
		"tools": [{
			"name": "get_weather",
			"description": "Get weather info",
			"input_schema": {"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}
		}],
		"tool_choice": {"type": "auto"}
	}`)

	assert.Equal(t, "get_weather", out.Get("tools.0.function.name").Str)
	assert.Equal(t, "Get weather info", out.Get("tools.0.function.description").Str)
	assert.Equal(t, "object", out.Get("tools.0.function.parameters.type").Str)
	assert.Equal(t, "auto", out.Get("tool_choice").Str)
}

func TestToolChoiceVariants(t *testing.T) {
	tests := []struct {
		name   string
		choice string
		want   string
	}{
		{"any maps to required", `{"type":"any"}`, `"required"`},
		{"none stays none", `{"type":"none"}`, `"none"`},
		{"unknown falls back to auto", `{"type":"wild"}`, `"auto"`},
		{"tool without name falls back", `{"type":"tool"}`, `"auto"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := convert(t, `{"model":"m","max_tokens":1,"messages":[],"tool_choice":`+tt.choice+`}`)
			assert.Equal(t, tt.want, out.Get("tool_choice").Raw)
		})
	}
}

func TestNamedToolChoice(t *testing.T) {
	out := convert(t, `{"model":"m","max_tokens":1,"messages":[],"tool_choice":{"type":"tool","name":"search"}}`)
	assert.Equal(t, "function", out.Get("tool_choice.type").Str)
	assert.Equal(t, "search", out.Get("tool_choice.function.name").Str)
}

func TestStopSequencesAndSamplingParams(t *testing.T) {
	out := convert(t, `{
		"model":"m","max_tokens":1,"messages":[],
		"stop_sequences":["STOP","END"],
		"temperature":0.7,"top_p":0.9
	}`)

	stops := out.Get("stop").Array()
	require.Len(t, stops, 2)
	assert.Equal(t, "STOP", stops[0].Str)
	assert.InDelta(t, 0.7, out.Get("temperature").Float(), 1e-9)
	assert.InDelta(t, 0.9, out.Get("top_p").Float(), 1e-9)
}

func TestImageBlockPlaceholder(t *testing.T) {
	out := convert(t, `{
		"model":"m","max_tokens":1,
		"messages": [{
			"role": "user",
			"content": [
				{"type":"text","text":"Look at this: "},
				{"type":"image","source":{"type":"base64","media_type":"image/png","data":"abc123"}}
			]
		}]
	}`)

	assert.Equal(t, "Look at this: [image]", out.Get("messages.0.content").Str)
}

func TestUnknownBlockTypesSkipped(t *testing.T) {
	out := convert(t, `{
		"model":"m","max_tokens":1,
		"messages": [
			{"role": "user", "content": [
				{"type":"text","text":"Hello"},
				{"type":"citations","citations":[]},
				{"type":"text","text":" world"}
			]},
			{"role": "assistant", "content": [
				{"type":"thinking","thinking":"let me think..."},
				{"type":"text","text":"Here is my answer"},
				{"type":"server_tool_use","id":"st_1","name":"web_search"}
			]}
		]
	}`)

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hello world", msgs[0].Get("content").Str)
	assert.Equal(t, "assistant", msgs[1].Get("role").Str)
	assert.Equal(t, "Here is my answer", msgs[1].Get("content").Str)
	assert.False(t, msgs[1].Get("tool_calls").Exists())
}

func TestToolResultWithArrayContent(t *testing.T) {
	out := convert(t, `{
		"model":"m","max_tokens":1,
		"messages": [{
			"role": "user",
			"content": [{
				"type": "tool_result",
				"tool_use_id": "tool_1",
				"content": [
					{"type":"text","text":"Result line 1"},
					{"type":"text","text":"Result line 2"}
				]
			}]
		}]
	}`)

	msgs := out.Get("messages").Array()
	require.Len(t, msgs, 1)
	assert.Equal(t, "tool", msgs[0].Get("role").Str)
	assert.Equal(t, "Result line 1Result line 2", msgs[0].Get("content").Str)
}

func TestMissingFieldsUseDefaults(t *testing.T) {
	out := convert(t, `{"messages":[]}`)
	assert.Equal(t, "unknown", out.Get("model").Str)
	assert.Equal(t, int64(4096), out.Get("max_completion_tokens").Int())
}

func TestNonObjectBodyRejected(t *testing.T) {
	_, err := AnthropicToOpenAI([]byte(`[1,2,3]`))
	assert.Error(t, err)
	_, err = AnthropicToOpenAI([]byte(`{broken`))
	assert.Error(t, err)
}
