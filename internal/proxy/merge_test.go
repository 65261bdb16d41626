package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"messagebridge/internal/store"
)

func TestRelayDirectStreamPreservesBytesAndMerges(t *testing.T) {
	frames := []string{
		`event: message_start` + "\n" + `data: {"message":{"id":"msg_1","type":"message","role":"assistant","model":"claude","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":0,"output_tokens":0}}}`,
		`event: content_block_start` + "\n" + `data: {"index":0,"content_block":{"type":"text","text":""}}`,
		`event: content_block_delta` + "\n" + `data: {"index":0,"delta":{"type":"text_delta","text":"hello "}}`,
		`event: content_block_delta` + "\n" + `data: {"index":0,"delta":{"type":"text_delta","text":"world"}}`,
		`event: content_block_stop` + "\n" + `data: {"index":0}`,
		`event: message_delta` + "\n" + `data: {"delta":{"stop_reason":"end_turn"}}`,
		`event: message_stop` + "\n" + `data: {}`,
	}
	input := strings.Join(frames, "\n\n") + "\n\n"

	st := store.New(10)
	id := st.Start(store.ModeDirect, "claude", nil, nil)

	var out bytes.Buffer
	merged, firstByteMS, err := relayDirectStream(context.Background(), st, id, strings.NewReader(input), &out, func() {}, time.Now())
	if err != nil {
		t.Fatalf("relayDirectStream: %v", err)
	}
	if out.String() != input {
		t.Errorf("relay did not preserve bytes verbatim:\ngot:  %q\nwant: %q", out.String(), input)
	}
	if merged.CompleteText != "hello world" {
		t.Errorf("CompleteText = %q, want %q", merged.CompleteText, "hello world")
	}
	if !merged.MessageComplete {
		t.Error("MessageComplete = false, want true")
	}
	if firstByteMS < 0 {
		t.Errorf("firstByteMS = %d, want >= 0", firstByteMS)
	}

	rec, ok := st.Get(id)
	if !ok {
		t.Fatal("record not found")
	}
	if len(rec.Raw) != len(frames) {
		t.Errorf("stored %d chunks, want %d", len(rec.Raw), len(frames))
	}
}

func TestRelayDirectStreamCapturesToolCallArguments(t *testing.T) {
	frames := []string{
		`event: content_block_start` + "\n" + `data: {"index":0,"content_block":{"type":"tool_use","id":"tool_1","name":"search","input":{}}}`,
		`event: content_block_delta` + "\n" + `data: {"index":0,"delta":{"type":"input_json_delta","partial_json":"{\"q\":"}}`,
		`event: content_block_delta` + "\n" + `data: {"index":0,"delta":{"type":"input_json_delta","partial_json":"\"cats\"}"}}`,
		`event: content_block_stop` + "\n" + `data: {"index":0}`,
	}
	input := strings.Join(frames, "\n\n") + "\n\n"

	st := store.New(10)
	id := st.Start(store.ModeDirect, "claude", nil, nil)

	var out bytes.Buffer
	merged, _, err := relayDirectStream(context.Background(), st, id, strings.NewReader(input), &out, func() {}, time.Now())
	if err != nil {
		t.Fatalf("relayDirectStream: %v", err)
	}
	if len(merged.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d entries, want 1", len(merged.ToolCalls))
	}
	tc := merged.ToolCalls[0]
	if tc.ID != "tool_1" || tc.Name != "search" {
		t.Errorf("tool call = %+v", tc)
	}
	raw, ok := tc.Input.(json.RawMessage)
	if !ok {
		t.Fatalf("tool call input is %T, want json.RawMessage", tc.Input)
	}
	if string(raw) != `{"q":"cats"}` {
		t.Errorf("tool call input = %s, want %s", raw, `{"q":"cats"}`)
	}
}
