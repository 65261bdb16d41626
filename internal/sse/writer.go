package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Writer emits native SSE events to an HTTP response. Each call writes its
// "event:"/"data:" pair in a single Write and flushes immediately — the
// intermediate proxy must not let small SSE frames sit in a buffer, or the
// client stalls waiting for bytes that already left the translator.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

// NewWriter prepares w for SSE writing. It sets the SSE response headers and
// returns an error if the underlying ResponseWriter does not support
// flushing (it would otherwise silently batch frames).
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("sse: response writer does not support flushing")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &Writer{w: w, flusher: flusher}, nil
}

// WriteEvent marshals payload and writes it as a named SSE frame:
// "event: <name>\ndata: <compact json>\n\n". Write failures (the client
// disconnected) set a terminal flag observable via Failed and are returned
// to the caller.
func (w *Writer) WriteEvent(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sse: marshal %s event: %w", name, err)
	}
	frame := fmt.Sprintf("event: %s\ndata: %s\n\n", name, data)
	if _, err := w.w.Write([]byte(frame)); err != nil {
		w.failed = true
		return fmt.Errorf("sse: write %s event: %w", name, err)
	}
	w.flusher.Flush()
	return nil
}

// Failed reports whether the last write to the client failed, meaning the
// connection is gone and no further writes should be attempted.
func (w *Writer) Failed() bool {
	return w.failed
}
