package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"messagebridge/internal/store"
	"messagebridge/internal/wire/native"
)

// directMerger reconstructs a MergedContent summary from the native SSE
// event sequence a Direct-mode upstream (the real Anthropic API) sends back
// unchanged. Unlike the Streaming Translator, there is nothing to translate
// here — only to observe, per spec.md §4.5 step 2's Direct-mode clause.
type directMerger struct {
	text       strings.Builder
	toolCalls  []store.ToolCallSummary
	argsSeen   map[int]string
	toolIndex  map[int]int
	complete   bool
	stopReason string
}

func newDirectMerger() *directMerger {
	return &directMerger{argsSeen: make(map[int]string), toolIndex: make(map[int]int)}
}

func (m *directMerger) apply(event string, data []byte) {
	switch event {
	case native.EventContentBlockStart:
		var evt native.ContentBlockStartEvent
		if err := json.Unmarshal(data, &evt); err == nil && evt.ContentBlock.Type == "tool_use" {
			m.toolIndex[evt.Index] = len(m.toolCalls)
			m.toolCalls = append(m.toolCalls, store.ToolCallSummary{ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name})
		}
	case native.EventContentBlockDelta:
		var evt native.ContentBlockDeltaEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			return
		}
		switch evt.Delta.Type {
		case "text_delta":
			m.text.WriteString(evt.Delta.Text)
		case "thinking_delta":
			m.text.WriteString(evt.Delta.Thinking)
		case "input_json_delta":
			if pos, ok := m.toolIndex[evt.Index]; ok {
				m.argsSeen[evt.Index] += evt.Delta.PartialJSON
				m.toolCalls[pos].Input = json.RawMessage(m.argsSeen[evt.Index])
			}
		}
	case native.EventMessageDelta:
		var evt native.MessageDeltaEvent
		if err := json.Unmarshal(data, &evt); err == nil {
			m.stopReason = evt.Delta.StopReason
		}
	case native.EventMessageStop:
		m.complete = true
	}
}

func (m *directMerger) summary() store.MergedContent {
	for i, t := range m.toolCalls {
		raw, ok := t.Input.(json.RawMessage)
		if !ok || len(raw) == 0 || !json.Valid(raw) {
			m.toolCalls[i].Input = json.RawMessage("{}")
		}
	}
	text := m.text.String()
	return store.MergedContent{
		CompleteText:    text,
		TotalCharacters: len(text),
		ToolCalls:       m.toolCalls,
		MessageComplete: m.complete,
		Timestamp:       time.Now(),
	}
}

// relayDirectStream copies upstream's raw SSE bytes to w exactly as received
// (Direct mode is verbatim passthrough, per spec.md §4.5 step 2) while also
// splitting the stream into named frames to feed store.AddChunk and build a
// MergedContent summary. firstByteMS is the latency from start to the first
// frame that carried any "data:" payload, or zero if none arrived.
func relayDirectStream(ctx context.Context, st *store.Store, id string, upstream io.Reader, w io.Writer, flush func(), start time.Time) (store.MergedContent, int64, error) {
	merger := newDirectMerger()
	br := bufio.NewReaderSize(upstream, 8*1024)

	var (
		event       string
		dataLines   []string
		firstByteMS int64
	)

	for {
		if ctx.Err() != nil {
			return merger.summary(), firstByteMS, ctx.Err()
		}

		line, readErr := br.ReadBytes('\n')
		if len(line) > 0 {
			if _, werr := w.Write(line); werr != nil {
				return merger.summary(), firstByteMS, werr
			}
			flush()
		}

		trimmed := strings.TrimRight(string(line), "\r\n")
		switch {
		case strings.HasPrefix(trimmed, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(trimmed, "event:"))
		case strings.HasPrefix(trimmed, "data:"):
			if firstByteMS == 0 {
				firstByteMS = time.Since(start).Milliseconds()
			}
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(trimmed, "data:"), " "))
		case trimmed == "":
			if len(dataLines) > 0 {
				data := []byte(strings.Join(dataLines, "\n"))
				st.AddChunk(id, data)
				merger.apply(event, data)
				event = ""
				dataLines = nil
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				return merger.summary(), firstByteMS, nil
			}
			return merger.summary(), firstByteMS, readErr
		}
	}
}
