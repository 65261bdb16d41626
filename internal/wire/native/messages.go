// Package native models the Anthropic Messages wire protocol: the request and
// reply bodies exchanged on /v1/messages, and the SSE event sequence used when
// the client asks for stream=true. Types are hand-written rather than SDK
// params because the proxy must decode an inbound client request, not build
// one to send — see DESIGN.md for why the generated/SDK route was not taken.
package native

import "encoding/json"

// Request is the body the client POSTs to /v1/messages.
type Request struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []Message       `json:"messages"`
	Tools         []Tool          `json:"tools,omitempty"`
	MaxTokens     int64           `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

// SystemBlock is one element of an ordered system-prompt sequence.
type SystemBlock struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
}

// SystemBlocks attempts to decode Request.System as an ordered sequence of
// blocks. ok is false when System is a bare string or absent.
func (r *Request) SystemBlocks() (blocks []SystemBlock, ok bool) {
	if len(r.System) == 0 {
		return nil, false
	}
	if err := json.Unmarshal(r.System, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// SystemString returns Request.System decoded as a bare string. ok is false
// when System is a block sequence or absent.
func (r *Request) SystemString() (text string, ok bool) {
	if len(r.System) == 0 {
		return "", false
	}
	if err := json.Unmarshal(r.System, &text); err != nil {
		return "", false
	}
	return text, true
}

// Message is one turn of the conversation. Content is either a plain string
// or an ordered sequence of ContentBlock, matching the client's own choice of
// shape on the wire.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// TextContent returns Content decoded as a bare string. ok is false when
// Content is a block sequence.
func (m *Message) TextContent() (text string, ok bool) {
	if err := json.Unmarshal(m.Content, &text); err != nil {
		return "", false
	}
	return text, true
}

// ContentBlocks returns Content decoded as an ordered sequence of blocks. ok
// is false when Content is a bare string.
func (m *Message) ContentBlocks() (blocks []ContentBlock, ok bool) {
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, false
	}
	return blocks, true
}

// ContentBlock is the tagged union of the three block kinds a message can
// carry: text, tool_use, and tool_result. Dispatch on Type.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// ToolResultText returns the text of a tool_result block, falling back to the
// raw Content field when Text is absent, per spec.md §4.2 step 3.
func (b *ContentBlock) ToolResultText() string {
	if b.Text != "" {
		return b.Text
	}
	if len(b.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(b.Content, &s); err == nil {
		return s
	}
	return string(b.Content)
}

// Tool is one entry of Request.Tools: a named function with a JSON Schema
// input shape.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Reply is the non-streaming response body for /v1/messages.
type Reply struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Role         string       `json:"role"`
	Model        string       `json:"model"`
	Content      []ReplyBlock `json:"content"`
	StopReason   string       `json:"stop_reason"`
	StopSequence *string      `json:"stop_sequence"`
	Usage        Usage        `json:"usage"`
}

// ReplyBlock is a content block in a non-streaming Reply: either a text block
// or a tool_use block.
type ReplyBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

// Usage mirrors spec.md §3.1's input_tokens/output_tokens pair.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}
