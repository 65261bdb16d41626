package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"messagebridge/internal/sse"
	"messagebridge/internal/wire/foreign"
	"messagebridge/internal/wire/native"
)

// StreamStartError wraps an upstream error frame that arrived before the
// preamble was ever emitted. The Orchestrator treats this as a failed
// request rather than a mid-stream event, since no client-visible SSE
// response has started yet.
type StreamStartError struct {
	Type    string
	Message string
}

func (e *StreamStartError) Error() string {
	return fmt.Sprintf("upstream stream error before preamble: %s: %s", e.Type, e.Message)
}

type openBlock struct {
	kind     string // "text" or "tool_use"
	id, name string
	argsSeen string
}

// StreamTranslator consumes foreign (OpenAI-compatible) chat-completion
// stream chunks and emits the equivalent native Anthropic Messages SSE event
// sequence, per spec.md §4.3. One instance serves exactly one request; it is
// not safe for concurrent use.
type StreamTranslator struct {
	ctx context.Context
	w   *sse.Writer

	model string

	started     bool
	textStarted bool
	sawToolCall bool

	blocks      []openBlock
	textIndex   int
	toolByIndex map[int]int // foreign tool_calls[].index -> native block index

	textBuf, thinkingBuf strings.Builder

	inputTokens  int64
	outputTokens int64
	haveUsage    bool

	finishReason string
}

// NewStreamTranslator prepares a translator that writes native SSE events to
// w for a reply against the given model name.
func NewStreamTranslator(ctx context.Context, w *sse.Writer, model string) *StreamTranslator {
	return &StreamTranslator{
		ctx:         ctx,
		w:           w,
		model:       model,
		textIndex:   -1,
		toolByIndex: make(map[int]int),
	}
}

// Process handles one decoded foreign stream chunk. Call Finish once the
// upstream sends its [DONE] sentinel or the stream otherwise ends.
func (t *StreamTranslator) Process(chunk *foreign.Chunk) error {
	if chunk.Error != nil {
		if !t.started {
			return &StreamStartError{Type: chunk.Error.Type, Message: chunk.Error.Message}
		}
		return t.emitError(chunk.Error.Type, chunk.Error.Message)
	}

	if chunk.Usage != nil {
		t.inputTokens = chunk.Usage.PromptTokens
		t.outputTokens = chunk.Usage.CompletionTokens
		t.haveUsage = true
	}

	for _, choice := range chunk.Choices {
		delta := choice.Delta
		hasContent := delta.Content != "" || delta.Reasoning != "" || len(delta.ToolCalls) > 0
		if hasContent {
			if err := t.ensurePreamble(chunk.ID); err != nil {
				return err
			}
			if err := t.applyDelta(delta); err != nil {
				return err
			}
		}
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			t.finishReason = *choice.FinishReason
		}
	}
	return nil
}

// ensurePreamble emits message_start + ping on the first frame that actually
// carries content; metadata-only frames never trigger it.
func (t *StreamTranslator) ensurePreamble(foreignID string) error {
	if t.started {
		return nil
	}
	t.started = true

	id := foreignID
	if id == "" {
		id = "msg_" + uuid.NewString()
	} else {
		id = "msg_" + strings.TrimPrefix(id, "chatcmpl-")
	}

	if err := t.w.WriteEvent(native.EventMessageStart, native.MessageStartEvent{
		Message: native.StartMessage{
			ID:      id,
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []native.ReplyBlock{},
			Usage:   native.Usage{InputTokens: t.inputTokens},
		},
	}); err != nil {
		return err
	}
	return t.w.WriteEvent(native.EventPing, struct{}{})
}

func (t *StreamTranslator) applyDelta(delta foreign.ChunkDelta) error {
	if delta.Content != "" {
		if err := t.ensureTextBlock(); err != nil {
			return err
		}
		t.textBuf.WriteString(delta.Content)
		if err := t.w.WriteEvent(native.EventContentBlockDelta, native.ContentBlockDeltaEvent{
			Index: t.textIndex,
			Delta: native.Delta{Type: "text_delta", Text: delta.Content},
		}); err != nil {
			return err
		}
	}

	if delta.Reasoning != "" {
		if err := t.ensureTextBlock(); err != nil {
			return err
		}
		t.thinkingBuf.WriteString(delta.Reasoning)
		if err := t.w.WriteEvent(native.EventContentBlockDelta, native.ContentBlockDeltaEvent{
			Index: t.textIndex,
			Delta: native.Delta{Type: "thinking_delta", Thinking: delta.Reasoning},
		}); err != nil {
			return err
		}
	}

	for _, tc := range delta.ToolCalls {
		if err := t.applyToolCallDelta(tc); err != nil {
			return err
		}
	}
	return nil
}

func (t *StreamTranslator) ensureTextBlock() error {
	if t.textStarted {
		return nil
	}
	t.textStarted = true
	t.textIndex = len(t.blocks)
	t.blocks = append(t.blocks, openBlock{kind: "text"})
	return t.w.WriteEvent(native.EventContentBlockStart, native.ContentBlockStartEvent{
		Index:        t.textIndex,
		ContentBlock: native.ReplyBlock{Type: "text", Text: ""},
	})
}

func (t *StreamTranslator) applyToolCallDelta(tc foreign.ToolCallDelta) error {
	nativeIndex, ok := t.toolByIndex[tc.Index]
	if !ok {
		t.sawToolCall = true
		nativeIndex = len(t.blocks)
		t.toolByIndex[tc.Index] = nativeIndex

		id := tc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", time.Now().UnixMilli(), tc.Index)
		}
		if tc.Function.Name == "" {
			slog.WarnContext(t.ctx, "translate: tool call opened without a name", "foreign_index", tc.Index)
		}
		t.blocks = append(t.blocks, openBlock{kind: "tool_use", id: id, name: tc.Function.Name})

		if err := t.w.WriteEvent(native.EventContentBlockStart, native.ContentBlockStartEvent{
			Index: nativeIndex,
			ContentBlock: native.ReplyBlock{
				Type:  "tool_use",
				ID:    id,
				Name:  tc.Function.Name,
				Input: json.RawMessage("{}"),
			},
		}); err != nil {
			return err
		}
	}

	block := &t.blocks[nativeIndex]
	newArgs := tc.Function.Arguments

	switch {
	case len(newArgs) > len(block.argsSeen):
		fragment := newArgs[len(block.argsSeen):]
		block.argsSeen = newArgs
		return t.w.WriteEvent(native.EventContentBlockDelta, native.ContentBlockDeltaEvent{
			Index: nativeIndex,
			Delta: native.Delta{Type: "input_json_delta", PartialJSON: fragment},
		})
	case len(newArgs) < len(block.argsSeen):
		slog.WarnContext(t.ctx, "translate: tool call arguments shrank mid-stream, discarding frame",
			"foreign_index", tc.Index, "previous_len", len(block.argsSeen), "new_len", len(newArgs))
	}
	return nil
}

func (t *StreamTranslator) emitError(errType, message string) error {
	if errType == "" {
		errType = "api_error"
	}
	return t.w.WriteEvent(native.EventError, native.ErrorEventPayload{
		Error: native.ErrorDetail{Type: errType, Message: message},
	})
}

// Finish closes every opened content block (text and tool_use alike, per
// spec.md §8 S3) and emits the trailing message_delta/message_stop pair. It
// must be called exactly once, after the upstream stream ends (on [DONE] or
// EOF). Finish is a no-op if no content-bearing frame was ever seen.
func (t *StreamTranslator) Finish() error {
	if !t.started {
		return nil
	}
	for i := range t.blocks {
		if err := t.w.WriteEvent(native.EventContentBlockStop, native.ContentBlockStopEvent{Index: i}); err != nil {
			return err
		}
	}

	if !t.haveUsage {
		t.outputTokens = int64(whitespaceTokenCount(t.textBuf.String()) + whitespaceTokenCount(t.thinkingBuf.String()))
	}

	stopReason := nativeFinishReason(t.finishReason, t.sawToolCall)

	if err := t.w.WriteEvent(native.EventMessageDelta, native.MessageDeltaEvent{
		Delta: native.MessageDeltaFields{StopReason: stopReason},
		Usage: native.MessageDeltaUsage{OutputTokens: t.outputTokens},
	}); err != nil {
		return err
	}
	return t.w.WriteEvent(native.EventMessageStop, struct{}{})
}

// ToolCallSummary is one reconstructed tool invocation in a Summary.
type ToolCallSummary struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Summary is the reconstructed assistant message the Proxy Orchestrator
// records against a translated-mode request, per spec.md §4.5 step 3's
// "synthetic reply body" requirement.
type Summary struct {
	Text            string
	ToolCalls       []ToolCallSummary
	StopReason      string
	MessageComplete bool
}

// Summary assembles the terminal reconstructed-message view of everything
// Process has seen so far. Call it after Finish. A tool call whose
// arguments never became valid JSON is reported with Input {} and a logged
// warning, per spec.md §7's TranslationError handling.
func (t *StreamTranslator) Summary() Summary {
	sum := Summary{
		Text:            t.textBuf.String(),
		StopReason:      nativeFinishReason(t.finishReason, t.sawToolCall),
		MessageComplete: t.started,
	}
	for _, b := range t.blocks {
		if b.kind != "tool_use" {
			continue
		}
		input := json.RawMessage(b.argsSeen)
		if len(input) == 0 || !json.Valid(input) {
			slog.WarnContext(t.ctx, "translate: tool call arguments never became valid JSON", "tool_id", b.id)
			input = json.RawMessage("{}")
		}
		sum.ToolCalls = append(sum.ToolCalls, ToolCallSummary{ID: b.id, Name: b.name, Input: input})
	}
	return sum
}

// whitespaceTokenCount is the documented-imprecise output-token fallback
// used when an upstream never reports usage: the count of whitespace-
// separated groups in s (spec.md §4.3/§9).
func whitespaceTokenCount(s string) int {
	return len(strings.Fields(s))
}
