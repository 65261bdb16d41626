package native

// Event names carried on the SSE "event:" line, per spec.md §3.1.
const (
	EventMessageStart      = "message_start"
	EventPing              = "ping"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventError             = "error"
)

// MessageStartEvent is the payload of the first event in every streaming
// reply. Content is always empty and Usage carries at most the input token
// count known so far; the rest is filled in by later content_block_* and
// message_delta events.
type MessageStartEvent struct {
	Message StartMessage `json:"message"`
}

// StartMessage is the "message" field of a MessageStartEvent.
type StartMessage struct {
	ID           string       `json:"id"`
	Type         string       `json:"type"`
	Role         string       `json:"role"`
	Model        string       `json:"model"`
	Content      []ReplyBlock `json:"content"`
	StopReason   *string      `json:"stop_reason"`
	StopSequence *string      `json:"stop_sequence"`
	Usage        Usage        `json:"usage"`
}

// ContentBlockStartEvent opens a content block at Index. Block is either a
// text block (Text: "") or a tool_use block (ID, Name, empty Input).
type ContentBlockStartEvent struct {
	Index        int        `json:"index"`
	ContentBlock ReplyBlock `json:"content_block"`
}

// ContentBlockDeltaEvent carries one of three delta variants, discriminated
// by Delta.Type: text_delta, input_json_delta, thinking_delta.
type ContentBlockDeltaEvent struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`
}

// Delta is the tagged union of content_block_delta payloads.
type Delta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
}

// ContentBlockStopEvent closes the content block at Index.
type ContentBlockStopEvent struct {
	Index int `json:"index"`
}

// MessageDeltaEvent carries the terminal stop_reason/usage update that
// precedes message_stop.
type MessageDeltaEvent struct {
	Delta MessageDeltaFields `json:"delta"`
	Usage MessageDeltaUsage  `json:"usage"`
}

// MessageDeltaFields is the "delta" field of a MessageDeltaEvent.
type MessageDeltaFields struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaUsage is the "usage" field of a MessageDeltaEvent; only output
// tokens are known at this point in the stream.
type MessageDeltaUsage struct {
	OutputTokens int64 `json:"output_tokens"`
}

// ErrorEventPayload is the payload of a mid-stream "error" event.
type ErrorEventPayload struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the "error" field of an ErrorEventPayload.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
