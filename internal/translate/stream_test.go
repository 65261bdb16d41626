package translate

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"messagebridge/internal/sse"
	"messagebridge/internal/wire/foreign"
	"messagebridge/internal/wire/native"
)

// parsedFrame is one "event: X\ndata: Y\n\n" frame from a recorded SSE body.
type parsedFrame struct {
	event string
	data  string
}

func parseFrames(t *testing.T, body string) []parsedFrame {
	t.Helper()
	var frames []parsedFrame
	for _, raw := range strings.Split(strings.TrimRight(body, "\n"), "\n\n") {
		if raw == "" {
			continue
		}
		lines := strings.SplitN(raw, "\n", 2)
		if len(lines) != 2 {
			t.Fatalf("malformed frame: %q", raw)
		}
		event := strings.TrimPrefix(lines[0], "event: ")
		data := strings.TrimPrefix(lines[1], "data: ")
		frames = append(frames, parsedFrame{event: event, data: data})
	}
	return frames
}

func eventNames(frames []parsedFrame) []string {
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.event
	}
	return out
}

func TestStreamTranslatorTextOnly(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tr := NewStreamTranslator(context.Background(), w, "claude-3-5-sonnet-20241022")

	chunks := []*foreign.Chunk{
		{ID: "chatcmpl-abc", Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{Content: "Hello"}}}},
		{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{Content: ", world"}}}},
		{Choices: []foreign.ChunkChoice{{FinishReason: strPtr("stop")}}},
	}
	for _, c := range chunks {
		if err := tr.Process(c); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := tr.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	frames := parseFrames(t, rec.Body.String())
	got := eventNames(frames)
	want := []string{
		native.EventMessageStart,
		native.EventPing,
		native.EventContentBlockStart,
		native.EventContentBlockDelta,
		native.EventContentBlockDelta,
		native.EventContentBlockStop,
		native.EventMessageDelta,
		native.EventMessageStop,
	}
	if !equalStrings(got, want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}

	var delta native.MessageDeltaEvent
	if err := json.Unmarshal([]byte(frames[len(frames)-2].data), &delta); err != nil {
		t.Fatalf("decode message_delta: %v", err)
	}
	if delta.Delta.StopReason != "end_turn" {
		t.Fatalf("stop_reason = %q", delta.Delta.StopReason)
	}
}

func TestStreamTranslatorToolCallAccumulation(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tr := NewStreamTranslator(context.Background(), w, "claude-3-5-sonnet-20241022")

	chunks := []*foreign.Chunk{
		{ID: "chatcmpl-xyz", Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{
			ToolCalls: []foreign.ToolCallDelta{{Index: 0, ID: "call_1", Function: foreign.ToolCallFunction{Name: "lookup", Arguments: ""}}},
		}}}},
		{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{
			ToolCalls: []foreign.ToolCallDelta{{Index: 0, Function: foreign.ToolCallFunction{Arguments: `{"q":`}}},
		}}}},
		{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{
			ToolCalls: []foreign.ToolCallDelta{{Index: 0, Function: foreign.ToolCallFunction{Arguments: `{"q":"weather"}`}}},
		}}}},
		{Choices: []foreign.ChunkChoice{{FinishReason: strPtr("stop")}}},
	}
	for _, c := range chunks {
		if err := tr.Process(c); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := tr.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	frames := parseFrames(t, rec.Body.String())

	var partial string
	for _, f := range frames {
		if f.event != native.EventContentBlockDelta {
			continue
		}
		var d native.ContentBlockDeltaEvent
		if err := json.Unmarshal([]byte(f.data), &d); err != nil {
			t.Fatalf("decode delta: %v", err)
		}
		if d.Delta.Type == "input_json_delta" {
			partial += d.Delta.PartialJSON
		}
	}
	if partial != `{"q":"weather"}` {
		t.Fatalf("reconstructed arguments = %q", partial)
	}

	var delta native.MessageDeltaEvent
	if err := json.Unmarshal([]byte(frames[len(frames)-2].data), &delta); err != nil {
		t.Fatalf("decode message_delta: %v", err)
	}
	if delta.Delta.StopReason != "tool_use" {
		t.Fatalf("expected sawToolCall override to tool_use, got %q", delta.Delta.StopReason)
	}
}

func TestStreamTranslatorEveryOpenedBlockGetsAStop(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tr := NewStreamTranslator(context.Background(), w, "m")

	chunks := []*foreign.Chunk{
		{ID: "c1", Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{Content: "thinking aloud"}}}},
		{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{
			ToolCalls: []foreign.ToolCallDelta{{Index: 0, ID: "call_1", Function: foreign.ToolCallFunction{Name: "a", Arguments: "{}"}}},
		}}}},
		{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{
			ToolCalls: []foreign.ToolCallDelta{{Index: 1, ID: "call_2", Function: foreign.ToolCallFunction{Name: "b", Arguments: "{}"}}},
		}}}},
		{Choices: []foreign.ChunkChoice{{FinishReason: strPtr("tool_calls")}}},
	}
	for _, c := range chunks {
		if err := tr.Process(c); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}
	if err := tr.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	frames := parseFrames(t, rec.Body.String())
	stopCount := 0
	for _, f := range frames {
		if f.event == native.EventContentBlockStop {
			stopCount++
		}
	}
	if stopCount != 3 {
		t.Fatalf("expected 3 content_block_stop events (text + 2 tool blocks), got %d", stopCount)
	}
}

func TestStreamTranslatorErrorBeforePreambleFailsRequest(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tr := NewStreamTranslator(context.Background(), w, "m")

	err = tr.Process(&foreign.Chunk{Error: &foreign.ChunkError{Type: "upstream_error", Message: "boom"}})
	if err == nil {
		t.Fatalf("expected error before preamble")
	}
	var startErr *StreamStartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StreamStartError, got %T: %v", err, err)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("expected no bytes written to the client, got %q", rec.Body.String())
	}
}

func TestStreamTranslatorErrorAfterPreambleEmitsErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	w, err := sse.NewWriter(rec)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	tr := NewStreamTranslator(context.Background(), w, "m")

	if err := tr.Process(&foreign.Chunk{Choices: []foreign.ChunkChoice{{Delta: foreign.ChunkDelta{Content: "hi"}}}}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := tr.Process(&foreign.Chunk{Error: &foreign.ChunkError{Type: "upstream_error", Message: "boom"}}); err != nil {
		t.Fatalf("Process error frame: %v", err)
	}

	frames := parseFrames(t, rec.Body.String())
	if frames[len(frames)-1].event != native.EventError {
		t.Fatalf("expected trailing error event, got %s", frames[len(frames)-1].event)
	}
}

func strPtr(s string) *string { return &s }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
