// Package sse implements the Event Codec: reading a line-oriented
// Server-Sent-Events byte stream into typed JSON frames, and writing typed
// frames back out as SSE. See spec.md §4.1.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

// doneSentinel terminates the foreign stream logically, per spec.md
// §3.1/§4.1.
const doneSentinel = "[DONE]"

// Reader parses an incoming SSE byte stream into JSON payload frames. It
// tolerates an incomplete trailing line across reads (bufio.Reader buffers
// across underlying Read calls), ignores any line that is not a "data:"
// line, and treats malformed JSON payloads as non-fatal: the frame is
// skipped and a debug log line is emitted.
type Reader struct {
	br  *bufio.Reader
	ctx context.Context
}

// NewReader wraps r (typically an upstream response body) for frame-by-frame
// reading.
func NewReader(ctx context.Context, r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 8*1024), ctx: ctx}
}

// Next returns the next well-formed JSON frame payload. done is true when
// the stream's [DONE] sentinel was consumed; payload is nil in that case.
// err is io.EOF (or a read error) when the underlying stream ends without
// ever sending a sentinel — an UpstreamStreamError condition the caller
// should act on.
func (r *Reader) Next() (payload json.RawMessage, done bool, err error) {
	var data strings.Builder
	haveData := false

	for {
		line, readErr := r.br.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		if value, ok := cutDataLine(line); ok {
			if haveData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			haveData = true
		}
		// Any other line (comment, event:, id:, retry:, or blank) is
		// ignored as a data carrier; a blank line only matters below as a
		// frame boundary.

		atBoundary := line == "" || readErr != nil
		if atBoundary && haveData {
			raw := data.String()
			data.Reset()
			haveData = false

			if raw == doneSentinel {
				return nil, true, nil
			}
			if !json.Valid([]byte(raw)) {
				slog.DebugContext(r.ctx, "sse: skipping malformed JSON frame", "payload", raw)
				if readErr != nil {
					return nil, false, readErr
				}
				continue
			}
			return json.RawMessage(raw), false, nil
		}

		if readErr != nil {
			return nil, false, readErr
		}
	}
}

// cutDataLine strips a leading "data:" prefix and the single optional space
// that follows the colon, per spec.md §4.1.
func cutDataLine(line string) (value string, ok bool) {
	rest, found := strings.CutPrefix(line, "data:")
	if !found {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}
