// SSE stream accounting for the primary response path.
//
// DESIGN: The accountant inspects Anthropic SSE events for token usage and
// tool calls while the raw bytes stream to the client untouched. It keeps a
// rolling buffer holding at most one partial event; complete events are
// located by the blank-line frame delimiter and parsed individually, so the
// accountant never waits for the whole response.
package proxy

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Usage is the cumulative per-request accounting extracted from a stream.
type Usage struct {
	InputTokens  uint64
	OutputTokens uint64
	ToolCalls    uint64
}

// Accountant incrementally parses an Anthropic SSE stream. Feed it the
// same chunks that are written to the client; it never modifies them.
type Accountant struct {
	buffer []byte
	usage  Usage
}

// NewAccountant returns an accountant with an empty rolling buffer.
func NewAccountant() *Accountant {
	return &Accountant{buffer: make([]byte, 0, 4096)}
}

// Feed appends a chunk to the rolling buffer and consumes any complete
// events it now contains.
func (a *Accountant) Feed(chunk []byte) {
	a.buffer = append(a.buffer, chunk...)
	a.drain(false)
}

// Finish consumes any trailing partial event and returns the final usage.
// Call exactly once at stream end (EOF, upstream close, or client
// disconnect).
func (a *Accountant) Finish() Usage {
	a.drain(true)
	return a.usage
}

func (a *Accountant) drain(flush bool) {
	for {
		event, rest, ok := nextSSEEvent(a.buffer, flush)
		if !ok {
			return
		}
		a.buffer = rest
		a.parseEvent(event)
	}
}

// nextSSEEvent splits the first complete event off buf. Events are framed
// by a blank line; both LF and CRLF line endings appear in the wild. With
// flush set, a trailing unterminated event is returned as-is.
func nextSSEEvent(buf []byte, flush bool) (event, rest []byte, ok bool) {
	if idx := bytes.Index(buf, []byte("\r\n\r\n")); idx >= 0 {
		return buf[:idx], buf[idx+4:], true
	}
	if idx := bytes.Index(buf, []byte("\n\n")); idx >= 0 {
		return buf[:idx], buf[idx+2:], true
	}
	if flush {
		trimmed := bytes.TrimSpace(buf)
		if len(trimmed) > 0 {
			return trimmed, nil, true
		}
	}
	return nil, nil, false
}

// parseEvent reads the event name and data payload from one framed block
// and applies the usage it carries. Malformed JSON is skipped; the bytes
// already went to the client and accounting is best-effort.
func (a *Accountant) parseEvent(event []byte) {
	var eventType string
	var dataLines [][]byte

	for _, line := range bytes.Split(event, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if rest, found := bytes.CutPrefix(line, []byte("event:")); found {
			eventType = string(bytes.TrimSpace(rest))
		} else if rest, found := bytes.CutPrefix(line, []byte("data:")); found {
			payload := bytes.TrimSpace(rest)
			if len(payload) > 0 && !bytes.Equal(payload, []byte("[DONE]")) {
				dataLines = append(dataLines, payload)
			}
		}
	}

	if len(dataLines) == 0 {
		return
	}
	data := bytes.Join(dataLines, []byte("\n"))
	if !gjson.ValidBytes(data) {
		return
	}

	switch eventType {
	case "message_start":
		if v := gjson.GetBytes(data, "message.usage.input_tokens"); v.Exists() {
			a.usage.InputTokens = v.Uint()
		}
	case "message_delta":
		// Some targets report input_tokens here instead of message_start.
		// When both events carry it, the last-seen value wins.
		if v := gjson.GetBytes(data, "usage.input_tokens"); v.Exists() {
			a.usage.InputTokens = v.Uint()
		}
		if v := gjson.GetBytes(data, "usage.output_tokens"); v.Exists() {
			a.usage.OutputTokens = v.Uint()
		}
	case "content_block_start":
		if gjson.GetBytes(data, "content_block.type").Str == "tool_use" {
			a.usage.ToolCalls++
		}
	}
}

// extractJSONUsage pulls usage and tool-call counts out of a complete
// non-streaming Anthropic response body.
func extractJSONUsage(body []byte) Usage {
	var u Usage
	if !gjson.ValidBytes(body) {
		return u
	}
	u.InputTokens = gjson.GetBytes(body, "usage.input_tokens").Uint()
	u.OutputTokens = gjson.GetBytes(body, "usage.output_tokens").Uint()
	for _, block := range gjson.GetBytes(body, "content").Array() {
		if block.Get("type").Str == "tool_use" {
			u.ToolCalls++
		}
	}
	return u
}
