package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"messagebridge/internal/config"
	"messagebridge/internal/sse"
	"messagebridge/internal/store"
	"messagebridge/internal/translate"
	"messagebridge/internal/wire/foreign"
	"messagebridge/internal/wire/native"
)

// MessagesHandler implements the Proxy Orchestrator (spec.md §4.5): the
// single entry point for POST /v1/messages, routing each request through
// either a verbatim Direct-mode relay or a Translated-mode round trip to
// OpenRouter, and recording the outcome in the Observation Store.
type MessagesHandler struct {
	cfg    *config.Config
	store  *store.Store
	client *http.Client
}

// NewMessagesHandler wires a MessagesHandler against the given config,
// store, and upstream HTTP client (shared across requests for connection
// reuse).
func NewMessagesHandler(cfg *config.Config, st *store.Store, client *http.Client) *MessagesHandler {
	return &MessagesHandler{cfg: cfg, store: st, client: client}
}

var _ http.Handler = (*MessagesHandler)(nil)

func (h *MessagesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	removeForwardedHeaders(r.Header)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(ctx, w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeError(ctx, w, http.StatusBadRequest, err)
		return
	}

	var req native.Request
	if err := json.Unmarshal(rawBody, &req); err != nil {
		writeError(ctx, w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}

	mode := modeFor(h.cfg.Mode)
	id := h.store.Start(mode, req.Model, map[string][]string(r.Header), json.RawMessage(rawBody))
	start := time.Now()

	var runErr error
	if mode == store.ModeTranslated {
		runErr = h.serveTranslated(ctx, w, id, start, &req)
	} else {
		runErr = h.serveDirect(ctx, w, r.Header, id, start, rawBody, req.Stream)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.ErrorContext(ctx, "messages: request ended with an error", "error", runErr, "request_id", id)
	}
}

func modeFor(m string) store.Mode {
	if m == "translated" {
		return store.ModeTranslated
	}
	return store.ModeDirect
}

// serveDirect implements spec.md §4.5 step 2's Direct-mode clause: relay
// upstream bytes unchanged, observing the stream for the Store as a side
// effect.
func (h *MessagesHandler) serveDirect(ctx context.Context, w http.ResponseWriter, inbound http.Header, id string, start time.Time, rawBody []byte, streaming bool) error {
	upReq, err := buildDirectRequest(ctx, h.cfg.AnthropicBaseURL, "/v1/messages", bytes.NewReader(rawBody), inbound)
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	resp, err := h.client.Do(upReq)
	if err != nil {
		return h.failPreStream(ctx, w, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return h.relayUpstreamError(ctx, w, id, resp)
	}

	if !streaming {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			h.store.SetError(id, err.Error())
			return err
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(resp.StatusCode)
		if _, werr := w.Write(body); werr != nil {
			h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds()})
			return werr
		}
		h.store.SetMerged(id, directNonStreamSummary(body))
		h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds()})
		return nil
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		err := fmt.Errorf("response writer does not support flushing")
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}
	copyUpstreamHeaders(w.Header(), resp.Header)
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(resp.StatusCode)

	merged, firstByteMS, relayErr := relayDirectStream(ctx, h.store, id, resp.Body, w, flusher.Flush, start)
	if relayErr != nil {
		if ctx.Err() != nil {
			h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
			return ctx.Err()
		}
		h.store.SetError(id, relayErr.Error())
		return relayErr
	}
	h.store.SetMerged(id, merged)
	h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
	return nil
}

// serveTranslated implements spec.md §4.5 step 2's Translated-mode clause:
// translate, dispatch to OpenRouter, and drive either the Streaming
// Translator or the non-streaming reply converter.
func (h *MessagesHandler) serveTranslated(ctx context.Context, w http.ResponseWriter, id string, start time.Time, req *native.Request) error {
	foreignReq, err := translate.ToForeignRequest(ctx, req, translate.RequestOptions{
		Models: translate.ModelMapping{
			Sonnet:  h.cfg.Models.Sonnet,
			Opus:    h.cfg.Models.Opus,
			Haiku:   h.cfg.Models.Haiku,
			Default: h.cfg.Models.Default,
		},
		BlockedTools: blockedToolSet(h.cfg.BlockedTools),
	})
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusBadRequest, err)
		return err
	}

	body, err := json.Marshal(foreignReq)
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	upReq, err := buildTranslatedRequest(ctx, h.cfg.OpenRouterBaseURL, bytes.NewReader(body))
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	resp, err := h.client.Do(upReq)
	if err != nil {
		return h.failPreStream(ctx, w, id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return h.relayUpstreamError(ctx, w, id, resp)
	}

	if !req.Stream {
		return h.finishNonStreamingTranslated(ctx, w, id, start, req.Model, resp.Body)
	}
	return h.finishStreamingTranslated(ctx, w, id, start, req.Model, resp.Body)
}

func (h *MessagesHandler) finishNonStreamingTranslated(ctx context.Context, w http.ResponseWriter, id string, start time.Time, model string, upstreamBody io.Reader) error {
	respBody, err := io.ReadAll(upstreamBody)
	if err != nil {
		h.store.SetError(id, err.Error())
		return err
	}

	var chatResp foreign.ChatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	reply, err := translate.ToNativeReply(&chatResp, model)
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	writeJSON(ctx, w, reply, http.StatusOK)
	h.store.SetMerged(id, nonStreamSummaryFromReply(reply))
	h.store.End(id, store.Metrics{
		DurationMS:   time.Since(start).Milliseconds(),
		InputTokens:  reply.Usage.InputTokens,
		OutputTokens: reply.Usage.OutputTokens,
	})
	return nil
}

func (h *MessagesHandler) finishStreamingTranslated(ctx context.Context, w http.ResponseWriter, id string, start time.Time, model string, upstreamBody io.Reader) error {
	sseWriter, err := sse.NewWriter(w)
	if err != nil {
		h.store.SetError(id, err.Error())
		writeError(ctx, w, http.StatusInternalServerError, err)
		return err
	}

	translator := translate.NewStreamTranslator(ctx, sseWriter, model)
	reader := sse.NewReader(ctx, upstreamBody)

	var firstByteMS int64
	for {
		payload, done, rerr := reader.Next()
		if done {
			break
		}
		if rerr != nil {
			return h.endStreamingTranslated(ctx, id, start, firstByteMS, translator, sseWriter, rerr)
		}
		if firstByteMS == 0 {
			firstByteMS = time.Since(start).Milliseconds()
		}
		h.store.AddChunk(id, payload)

		var chunk foreign.Chunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			slog.WarnContext(ctx, "messages: skipping malformed foreign chunk", "error", err)
			continue
		}
		if perr := translator.Process(&chunk); perr != nil {
			var startErr *translate.StreamStartError
			if errors.As(perr, &startErr) {
				h.store.SetError(id, startErr.Error())
				writeError(ctx, w, http.StatusBadGateway, startErr)
				return startErr
			}
			// A write error here means the client disconnected mid-stream.
			h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
			return perr
		}
	}

	if ferr := translator.Finish(); ferr != nil {
		h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
		return ferr
	}

	summary := translator.Summary()
	h.store.SetMerged(id, store.MergedContent{
		CompleteText:    summary.Text,
		TotalCharacters: len(summary.Text),
		ToolCalls:       toolSummaries(summary.ToolCalls),
		MessageComplete: summary.MessageComplete,
		Timestamp:       time.Now(),
	})
	h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
	return nil
}

// endStreamingTranslated handles a stream read failure (UpstreamStreamError
// or ClientDisconnect, per spec.md §7): if the client connection is gone,
// record success (content already consumed) rather than an error; otherwise
// emit a terminal native error event before giving up.
func (h *MessagesHandler) endStreamingTranslated(ctx context.Context, id string, start time.Time, firstByteMS int64, translator *translate.StreamTranslator, sw *sse.Writer, rerr error) error {
	if ctx.Err() != nil {
		_ = translator.Finish()
		h.store.End(id, store.Metrics{DurationMS: time.Since(start).Milliseconds(), FirstByteMS: firstByteMS})
		return ctx.Err()
	}
	h.store.SetError(id, rerr.Error())
	_ = sw.WriteEvent(native.EventError, native.ErrorEventPayload{
		Error: native.ErrorDetail{Type: "api_error", Message: sanitizeError(rerr)},
	})
	return rerr
}

// failPreStream handles a network-level dispatch failure before any upstream
// response arrived.
func (h *MessagesHandler) failPreStream(ctx context.Context, w http.ResponseWriter, id string, err error) error {
	if ctx.Err() != nil {
		h.store.SetError(id, "client disconnected before upstream responded")
		return ctx.Err()
	}
	h.store.SetError(id, err.Error())
	writeError(ctx, w, http.StatusBadGateway, err)
	return err
}

// relayUpstreamError implements the UpstreamHTTPError taxonomy entry: the
// status is passed through, the body sanitized, per spec.md §7.
func (h *MessagesHandler) relayUpstreamError(ctx context.Context, w http.ResponseWriter, id string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if isBlank(string(body)) {
		body = []byte(http.StatusText(resp.StatusCode))
	}
	upErr := &upstreamHTTPError{Status: resp.StatusCode, Body: string(body)}
	h.store.SetError(id, sanitizeMessage(string(body)))
	writeError(ctx, w, statusForUpstream(resp.StatusCode), upErr)
	return upErr
}

func copyUpstreamHeaders(dst, src http.Header) {
	for k, v := range src {
		if strings.EqualFold(k, "Content-Length") {
			continue
		}
		dst[k] = v
	}
}

func blockedToolSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func toolSummaries(in []translate.ToolCallSummary) []store.ToolCallSummary {
	if len(in) == 0 {
		return nil
	}
	out := make([]store.ToolCallSummary, len(in))
	for i, t := range in {
		out[i] = store.ToolCallSummary{ID: t.ID, Name: t.Name, Input: t.Input}
	}
	return out
}

func directNonStreamSummary(body []byte) store.MergedContent {
	var reply native.Reply
	if err := json.Unmarshal(body, &reply); err != nil {
		return store.MergedContent{Timestamp: time.Now()}
	}
	return nonStreamSummaryFromReply(&reply)
}

func nonStreamSummaryFromReply(reply *native.Reply) store.MergedContent {
	var text strings.Builder
	var tools []store.ToolCallSummary
	for _, b := range reply.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			tools = append(tools, store.ToolCallSummary{ID: b.ID, Name: b.Name, Input: b.Input})
		}
	}
	return store.MergedContent{
		CompleteText:    text.String(),
		TotalCharacters: text.Len(),
		ToolCalls:       tools,
		MessageComplete: true,
		Timestamp:       time.Now(),
	}
}
