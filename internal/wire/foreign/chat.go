// Package foreign models the OpenAI-compatible chat-completions wire
// protocol spoken by OpenRouter in translated mode: the request body, the
// non-streaming response, and the streaming delta-chunk grammar.
package foreign

import "encoding/json"

// ChatRequest is the body sent to {openrouter_base}/v1/chat/completions.
type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	MaxTokens   *int64        `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream"`
}

// ChatMessage is one entry of ChatRequest.Messages. Role is one of
// system/user/assistant/tool.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation requested by the assistant, either as
// part of a non-streaming ChatMessage or reconstructed from streaming deltas.
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the "function" field of a ToolCall. Arguments is the
// cumulative JSON-encoded argument string, not a delta (see spec.md §4.3).
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// Tool describes one function the model may call.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction is the "function" field of a Tool.
type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse is the non-streaming chat-completions response.
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   *Usage       `json:"usage,omitempty"`
}

// ChatChoice is one entry of ChatResponse.Choices. This proxy only ever deals
// with a single choice (index 0).
type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ResponseMsg `json:"message"`
	FinishReason *string     `json:"finish_reason"`
}

// ResponseMsg is the "message" field of a non-streaming ChatChoice.
type ResponseMsg struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Usage is the token-accounting block attached to responses and, optionally,
// the terminal streaming frame.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}
