// Package convert maps Anthropic Messages API request bodies to the
// OpenAI chat-completions format for targets that only speak that dialect.
//
// All reads go through gjson on the raw body, never typed structs, so
// unknown content block types (thinking, server_tool_use, citations)
// degrade gracefully instead of failing deserialization. Unknown block
// types are logged at info so they can be handled explicitly later.
package convert

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// knownBlockTypes are the content block types with an OpenAI mapping.
var knownBlockTypes = map[string]struct{}{
	"text":        {},
	"image":       {},
	"tool_use":    {},
	"tool_result": {},
}

// AnthropicToOpenAI converts a raw Anthropic Messages request body into an
// OpenAI chat-completions request. The output always sets stream=false;
// shadow dispatches are consumed whole, never streamed.
func AnthropicToOpenAI(body []byte) ([]byte, error) {
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return nil, fmt.Errorf("request body is not a JSON object")
	}

	messages := []map[string]any{}

	if text := systemText(gjson.GetBytes(body, "system")); text != "" {
		messages = append(messages, map[string]any{"role": "system", "content": text})
	}

	for _, msg := range gjson.GetBytes(body, "messages").Array() {
		role := msg.Get("role").Str
		if role == "" {
			role = "user"
		}
		content := msg.Get("content")
		switch {
		case content.Type == gjson.String:
			messages = append(messages, map[string]any{"role": role, "content": content.Str})
		case content.IsArray():
			if role == "user" {
				messages = convertUserBlocks(content.Array(), messages)
			} else {
				messages = convertAssistantBlocks(content.Array(), messages)
			}
		}
	}

	model := "unknown"
	if m := gjson.GetBytes(body, "model"); m.Type == gjson.String && m.Str != "" {
		model = m.Str
	}
	maxTokens := int64(4096)
	if mt := gjson.GetBytes(body, "max_tokens"); mt.Type == gjson.Number {
		maxTokens = mt.Int()
	}

	out := map[string]any{
		"model":                 model,
		"messages":              messages,
		"max_completion_tokens": maxTokens,
		"stream":                false,
	}

	if v := gjson.GetBytes(body, "temperature"); v.Exists() {
		out["temperature"] = v.Value()
	}
	if v := gjson.GetBytes(body, "top_p"); v.Exists() {
		out["top_p"] = v.Value()
	}
	if v := gjson.GetBytes(body, "stop_sequences"); v.Exists() {
		out["stop"] = v.Value()
	}
	if tools := gjson.GetBytes(body, "tools"); tools.IsArray() {
		out["tools"] = convertTools(tools.Array())
	}
	if tc := gjson.GetBytes(body, "tool_choice"); tc.Exists() {
		out["tool_choice"] = convertToolChoice(tc)
	}

	return json.Marshal(out)
}

// systemText flattens the system field, which arrives either as a plain
// string or as an array of text blocks.
func systemText(system gjson.Result) string {
	switch {
	case system.Type == gjson.String:
		return system.Str
	case system.IsArray():
		text := ""
		for _, block := range system.Array() {
			if t := block.Get("text"); t.Type == gjson.String {
				if text != "" {
					text += "\n"
				}
				text += t.Str
			}
		}
		return text
	}
	return ""
}

// convertUserBlocks flattens user content blocks. Text and image
// placeholders accumulate into one user message; each tool_result becomes
// its own tool-role message, flushing accumulated text first to keep
// ordering intact.
func convertUserBlocks(blocks []gjson.Result, messages []map[string]any) []map[string]any {
	text := ""
	flush := func() {
		if text != "" {
			messages = append(messages, map[string]any{"role": "user", "content": text})
			text = ""
		}
	}

	for _, block := range blocks {
		switch blockType := block.Get("type").Str; blockType {
		case "text":
			text += block.Get("text").Str
		case "image":
			text += "[image]"
		case "tool_result":
			flush()
			messages = append(messages, map[string]any{
				"role":         "tool",
				"content":      toolResultText(block.Get("content")),
				"tool_call_id": block.Get("tool_use_id").Str,
			})
		default:
			logUnknownBlock(blockType, "user")
		}
	}
	flush()
	return messages
}

// convertAssistantBlocks collapses assistant content blocks into a single
// assistant message carrying the concatenated text and any tool calls.
func convertAssistantBlocks(blocks []gjson.Result, messages []map[string]any) []map[string]any {
	text := ""
	var toolCalls []map[string]any

	for _, block := range blocks {
		switch blockType := block.Get("type").Str; blockType {
		case "text":
			text += block.Get("text").Str
		case "tool_use":
			input := block.Get("input").Raw
			if input == "" {
				input = "{}"
			}
			toolCalls = append(toolCalls, map[string]any{
				"id":   block.Get("id").Str,
				"type": "function",
				"function": map[string]any{
					"name":      block.Get("name").Str,
					"arguments": input,
				},
			})
		default:
			logUnknownBlock(blockType, "assistant")
		}
	}

	msg := map[string]any{"role": "assistant"}
	if text != "" {
		msg["content"] = text
	}
	if len(toolCalls) > 0 {
		msg["tool_calls"] = toolCalls
	}
	return append(messages, msg)
}

// toolResultText flattens tool_result content, which is either a string or
// an array of text blocks.
func toolResultText(content gjson.Result) string {
	switch {
	case content.Type == gjson.String:
		return content.Str
	case content.IsArray():
		text := ""
		for _, block := range content.Array() {
			if block.Get("type").Str == "text" {
				text += block.Get("text").Str
			}
		}
		return text
	}
	return ""
}

func convertTools(tools []gjson.Result) []map[string]any {
	converted := make([]map[string]any, 0, len(tools))
	for _, tool := range tools {
		fn := map[string]any{
			"name":       tool.Get("name").Str,
			"parameters": json.RawMessage("{}"),
		}
		if schema := tool.Get("input_schema"); schema.Exists() {
			fn["parameters"] = json.RawMessage(schema.Raw)
		}
		if desc := tool.Get("description"); desc.Exists() {
			fn["description"] = desc.Value()
		}
		converted = append(converted, map[string]any{"type": "function", "function": fn})
	}
	return converted
}

func convertToolChoice(tc gjson.Result) any {
	switch tc.Get("type").Str {
	case "any":
		return "required"
	case "none":
		return "none"
	case "tool":
		if name := tc.Get("name").Str; name != "" {
			return map[string]any{
				"type":     "function",
				"function": map[string]any{"name": name},
			}
		}
		return "auto"
	default:
		return "auto"
	}
}

func logUnknownBlock(blockType, role string) {
	if blockType == "" {
		return
	}
	if _, known := knownBlockTypes[blockType]; known {
		return
	}
	log.Info().
		Str("block_type", blockType).
		Str("role", role).
		Msg("skipping unknown content block type in conversion")
}
