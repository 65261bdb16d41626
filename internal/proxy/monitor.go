package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"

	"messagebridge/internal/sse"
	"messagebridge/internal/store"
)

const previewMaxLen = 160

// listedRecord is a Record enriched with a short text preview of its last
// message, extracted ad hoc with gjson rather than decoding into
// internal/wire/native — the store package intentionally carries requests as
// opaque JSON, so it has no typed Request to range over.
type listedRecord struct {
	*store.Record
	Preview string `json:"preview"`
}

func withPreviews(records []*store.Record) []listedRecord {
	out := make([]listedRecord, len(records))
	for i, rec := range records {
		out[i] = listedRecord{Record: rec, Preview: requestPreview(rec)}
	}
	return out
}

func requestPreview(rec *store.Record) string {
	raw, ok := rec.Request.(json.RawMessage)
	if !ok || len(raw) == 0 {
		return ""
	}
	last := gjson.GetBytes(raw, "messages.@reverse.0")
	if !last.Exists() {
		return ""
	}
	content := last.Get("content")
	if content.IsArray() {
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				return truncatePreview(block.Get("text").String())
			}
		}
		return ""
	}
	return truncatePreview(content.String())
}

func truncatePreview(s string) string {
	if len(s) <= previewMaxLen {
		return s
	}
	return s[:previewMaxLen] + "…"
}

// MonitorHandler implements the /api/monitor/* routes of spec.md §6: a thin
// REST+SSE facade over the Observation Store.
type MonitorHandler struct {
	store *store.Store
}

// NewMonitorHandler wires a MonitorHandler against st.
func NewMonitorHandler(st *store.Store) *MonitorHandler {
	return &MonitorHandler{store: st}
}

// ListRequests serves GET /api/monitor/requests, honoring the
// status/model/timeRange/page/limit query filters.
func (h *MonitorHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	filtered := filterRecords(h.store.Query(), r.URL.Query())
	page, limit := paginationParams(r.URL.Query())
	writeJSON(r.Context(), w, map[string]any{
		"requests": withPreviews(paginate(filtered, page, limit)),
		"total":    len(filtered),
		"page":     page,
		"limit":    limit,
	}, http.StatusOK)
}

// GetRequest serves GET /api/monitor/requests/:id.
func (h *MonitorHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, ok := h.store.Get(id)
	if !ok {
		writeError(r.Context(), w, http.StatusNotFound, fmt.Errorf("request %q not found", id))
		return
	}
	writeJSON(r.Context(), w, rec, http.StatusOK)
}

// Stats serves GET /api/monitor/stats, recomputing over the filtered set
// when a filter is present and falling back to the store's own running
// totals otherwise (cheaper, and exact for the unfiltered case).
func (h *MonitorHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if len(r.URL.Query()) == 0 {
		writeJSON(r.Context(), w, h.store.GetStats(), http.StatusOK)
		return
	}
	filtered := filterRecords(h.store.Query(), r.URL.Query())
	writeJSON(r.Context(), w, statsOf(filtered, h.store.GetStats()), http.StatusOK)
}

// Stream serves GET /api/monitor/stream: a live SSE fan-out of store
// events, per spec.md §6. The connection ends when the client disconnects
// or a write to it fails.
func (h *MonitorHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}

	ch, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	store.Drain(ctx, ch, func(evt store.Event) {
		if werr := sw.WriteEvent(evt.Type, evt.Record); werr != nil {
			cancel()
		}
	})
}

// Clear serves POST /api/monitor/clear.
func (h *MonitorHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	writeJSON(r.Context(), w, map[string]string{"status": "cleared"}, http.StatusOK)
}

// Export serves GET /api/monitor/export: the filtered record set,
// pretty-printed for readability (a supplement beyond the bare
// query/export contract, per SPEC_FULL.md).
func (h *MonitorHandler) Export(w http.ResponseWriter, r *http.Request) {
	filtered := filterRecords(h.store.Query(), r.URL.Query())
	raw, err := json.Marshal(filtered)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pretty.Pretty(raw))
}

func filterRecords(records []*store.Record, q url.Values) []*store.Record {
	status := q.Get("status")
	model := q.Get("model")
	timeRange := q.Get("timeRange")

	var since time.Time
	if timeRange != "" {
		if d, err := time.ParseDuration(timeRange); err == nil {
			since = time.Now().Add(-d)
		}
	}

	out := make([]*store.Record, 0, len(records))
	for _, rec := range records {
		if status != "" && string(rec.Status) != status {
			continue
		}
		if model != "" && rec.Model != model {
			continue
		}
		if !since.IsZero() && rec.StartedAt.Before(since) {
			continue
		}
		out = append(out, rec)
	}
	return out
}

func paginationParams(q url.Values) (page, limit int) {
	page = 1
	limit = 50
	if v, err := strconv.Atoi(q.Get("page")); err == nil && v > 0 {
		page = v
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = v
	}
	return page, limit
}

func paginate(records []*store.Record, page, limit int) []*store.Record {
	start := (page - 1) * limit
	if start < 0 || start >= len(records) {
		return []*store.Record{}
	}
	end := start + limit
	if end > len(records) {
		end = len(records)
	}
	return records[start:end]
}

// statsOf recomputes the countable fields of Stats over a filtered record
// set; Evicted/Dropped/Capacity are not meaningful per-filter, so they are
// carried over from the store's live totals.
func statsOf(records []*store.Record, totals store.Stats) store.Stats {
	stats := store.Stats{Capacity: totals.Capacity, Evicted: totals.Evicted, Dropped: totals.Dropped}
	for _, rec := range records {
		stats.Total++
		switch rec.Status {
		case store.StatusPending:
			stats.Pending++
		case store.StatusSuccess:
			stats.Success++
		case store.StatusError:
			stats.Error++
		}
	}
	return stats
}
