package proxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"messagebridge/internal/config"
	"messagebridge/internal/store"
)

func testConfig(mode, baseURL string) *config.Config {
	return &config.Config{
		Bind:              "127.0.0.1:0",
		Mode:              mode,
		AnthropicBaseURL:  baseURL,
		OpenRouterBaseURL: baseURL,
		RequestTimeout:    5 * time.Second,
		StoreCapacity:     100,
	}
}

func TestMessagesHandlerDirectNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("upstream got path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`))
	}))
	defer upstream.Close()

	st := store.New(10)
	cfg := testConfig("direct", upstream.URL)
	h := NewMessagesHandler(cfg, st, upstream.Client())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-3","messages":[{"role":"user","content":"hi"}],"max_tokens":100}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "hi there") {
		t.Errorf("body = %s", rr.Body.String())
	}

	records := st.Query()
	if len(records) != 1 {
		t.Fatalf("store has %d records, want 1", len(records))
	}
	if records[0].Status != store.StatusSuccess {
		t.Errorf("status = %s, want success", records[0].Status)
	}
}

func TestMessagesHandlerDirectUpstreamError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer upstream.Close()

	st := store.New(10)
	cfg := testConfig("direct", upstream.URL)
	h := NewMessagesHandler(cfg, st, upstream.Client())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-3","messages":[],"max_tokens":10}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}

	records := st.Query()
	if len(records) != 1 || records[0].Status != store.StatusError {
		t.Fatalf("records = %+v", records)
	}
}

func TestMessagesHandlerRejectsMalformedBody(t *testing.T) {
	st := store.New(10)
	cfg := testConfig("direct", "http://unused.invalid")
	h := NewMessagesHandler(cfg, st, http.DefaultClient)

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`not json`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if len(st.Query()) != 0 {
		t.Errorf("malformed request should not reach the store")
	}
}

func TestMessagesHandlerTranslatedNonStreaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("upstream got path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"chatcmpl_1","model":"openrouter/model","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1}}`))
	}))
	defer upstream.Close()

	st := store.New(10)
	cfg := testConfig("translated", upstream.URL)
	h := NewMessagesHandler(cfg, st, upstream.Client())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hi"}],"max_tokens":100}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"type":"message"`) {
		t.Errorf("expected a native-shaped reply, got %s", rr.Body.String())
	}

	records := st.Query()
	if len(records) != 1 || records[0].Status != store.StatusSuccess {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Metrics.InputTokens != 5 || records[0].Metrics.OutputTokens != 1 {
		t.Errorf("metrics = %+v", records[0].Metrics)
	}
}

func TestMessagesHandlerTranslatedStreaming(t *testing.T) {
	chunks := []string{
		`{"id":"c1","choices":[{"index":0,"delta":{"role":"assistant","content":""}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{"content":"hi"}}]}`,
		`{"id":"c1","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
	}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fw := w.(http.Flusher)
		for _, c := range chunks {
			_, _ = io.WriteString(w, "data: "+c+"\n\n")
			fw.Flush()
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		fw.Flush()
	}))
	defer upstream.Close()

	st := store.New(10)
	cfg := testConfig("translated", upstream.URL)
	h := NewMessagesHandler(cfg, st, upstream.Client())

	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(`{"model":"claude-3-5-sonnet-latest","messages":[{"role":"user","content":"hi"}],"max_tokens":100,"stream":true}`))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "event: message_start") {
		t.Errorf("expected native SSE framing, got %s", rr.Body.String())
	}

	records := st.Query()
	if len(records) != 1 || records[0].Status != store.StatusSuccess {
		t.Fatalf("records = %+v", records)
	}
}
