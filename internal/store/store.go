// Package store implements the Observation Store: a bounded, in-memory
// repository of proxied request/reply pairs, with live event fan-out to
// subscribers of the monitor SSE feed.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Record.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Mode identifies which routing path served a request.
type Mode string

const (
	ModeDirect     Mode = "direct"
	ModeTranslated Mode = "translated"
)

// Record is one observed request/reply cycle.
type Record struct {
	ID        string
	Mode      Mode
	Status    Status
	Model     string
	Headers   map[string][]string
	Request   any
	Raw       []RawChunk
	Merged    any
	Error     string
	Metrics   Metrics
	StartedAt time.Time
	EndedAt   time.Time
}

// RawChunk is one streamed frame captured verbatim for later export.
type RawChunk struct {
	At      time.Time
	Payload []byte
}

// Metrics holds timing and token accounting captured for a Record.
type Metrics struct {
	InputTokens  int64
	OutputTokens int64
	DurationMS   int64
	FirstByteMS  int64
	ChunkCount   int
}

// Stats summarizes the store's current contents for /api/monitor/stats.
type Stats struct {
	Total    int
	Pending  int
	Success  int
	Error    int
	Evicted  uint64
	Dropped  uint64
	Capacity int
}

// Event is pushed to live subscribers whenever a Record changes.
type Event struct {
	Type   string // "start", "chunk", "end" (End and SetError), "clear"
	Record *Record
}

// Store is a capacity-bounded, concurrency-safe collection of Records with
// subscriber fan-out. The zero value is not usable; use New.
type Store struct {
	mu       sync.RWMutex
	capacity int
	records  map[string]*Record
	order    []string // insertion order, oldest first

	subMu sync.Mutex
	subs  map[chan Event]struct{}

	evicted uint64
	dropped uint64
}

// New creates a Store holding at most capacity records. Once full, Start
// evicts a completed-first, oldest-first tenth of the store to make room.
func New(capacity int) *Store {
	if capacity <= 0 {
		capacity = 1
	}
	return &Store{
		capacity: capacity,
		records:  make(map[string]*Record, capacity),
		subs:     make(map[chan Event]struct{}),
	}
}

// Start creates a new pending Record and returns its ID.
func (s *Store) Start(mode Mode, model string, headers map[string][]string, req any) string {
	id := uuid.NewString()
	rec := &Record{
		ID:        id,
		Mode:      mode,
		Status:    StatusPending,
		Model:     model,
		Headers:   MaskHeaders(headers),
		Request:   req,
		StartedAt: nowFunc(),
	}

	s.mu.Lock()
	s.evictLocked()
	s.records[id] = rec
	s.order = append(s.order, id)
	s.mu.Unlock()

	s.publish(Event{Type: "start", Record: rec})
	return id
}

// AddChunk appends a streamed chunk to the Record's raw history.
func (s *Store) AddChunk(id string, payload []byte) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Raw = append(rec.Raw, RawChunk{At: nowFunc(), Payload: append([]byte(nil), payload...)})
	rec.Metrics.ChunkCount++
	s.mu.Unlock()

	s.publish(Event{Type: "chunk", Record: rec})
}

// SetMerged records the fully reassembled reply (from streamed chunks or a
// single non-streaming response) on the Record.
func (s *Store) SetMerged(id string, merged any) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if ok {
		rec.Merged = merged
	}
	s.mu.Unlock()
}

// End marks a Record successful and records final metrics.
func (s *Store) End(id string, metrics Metrics) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Status = StatusSuccess
	rec.EndedAt = nowFunc()
	metrics.ChunkCount = rec.Metrics.ChunkCount
	rec.Metrics = metrics
	s.mu.Unlock()

	s.publish(Event{Type: "end", Record: rec})
}

// SetError marks a Record failed.
func (s *Store) SetError(id string, errMsg string) {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	rec.Status = StatusError
	rec.Error = errMsg
	rec.EndedAt = nowFunc()
	s.mu.Unlock()

	s.publish(Event{Type: "end", Record: rec})
}

// Get returns the Record with the given ID, if present.
func (s *Store) Get(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	return rec, ok
}

// Query returns every Record currently held, newest first.
func (s *Store) Query() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if rec, ok := s.records[s.order[i]]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// GetStats summarizes the store's current state.
func (s *Store) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{Capacity: s.capacity, Evicted: s.evicted, Dropped: s.dropped}
	for _, rec := range s.records {
		stats.Total++
		switch rec.Status {
		case StatusPending:
			stats.Pending++
		case StatusSuccess:
			stats.Success++
		case StatusError:
			stats.Error++
		}
	}
	return stats
}

// Clear removes every Record from the store. It is idempotent: calling it on
// an already-empty store is a no-op that still emits a "clear" event.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = make(map[string]*Record, s.capacity)
	s.order = nil
	s.mu.Unlock()

	s.publish(Event{Type: "clear"})
}

// evictLocked drops the oldest max(1, floor(capacity*0.1)) records when the
// store is at capacity, completed records first; pending records are evicted
// only when fewer than that many completed records are held. Callers must
// hold s.mu.
func (s *Store) evictLocked() {
	if len(s.order) < s.capacity {
		return
	}

	n := s.capacity / 10
	if n < 1 {
		n = 1
	}

	type candidate struct {
		id  string
		rec *Record
	}
	candidates := make([]candidate, 0, len(s.order))
	for _, id := range s.order {
		if rec, ok := s.records[id]; ok {
			candidates = append(candidates, candidate{id: id, rec: rec})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		aPending := candidates[a].rec.Status == StatusPending
		bPending := candidates[b].rec.Status == StatusPending
		if aPending != bPending {
			return !aPending
		}
		return candidates[a].rec.StartedAt.Before(candidates[b].rec.StartedAt)
	})

	toEvict := make(map[string]bool, n)
	for i := 0; i < n && i < len(candidates); i++ {
		toEvict[candidates[i].id] = true
	}

	// Fallback: candidates is only empty if s.order referenced no live
	// records, which evictLocked's capacity check above should preclude; kept
	// as a safety net so the store can never wedge at capacity.
	if len(toEvict) == 0 {
		for _, id := range s.order {
			if rec, ok := s.records[id]; ok && rec.Status == StatusPending {
				toEvict[id] = true
				break
			}
		}
	}

	newOrder := s.order[:0:0]
	for _, id := range s.order {
		if toEvict[id] {
			delete(s.records, id)
			s.evicted++
			continue
		}
		newOrder = append(newOrder, id)
	}
	s.order = newOrder
}

// Subscribe registers a new live subscriber and returns a channel of events
// plus an unsubscribe function. Sends are non-blocking: a slow subscriber
// drops events rather than stalling the store.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) publish(evt Event) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped++
		}
	}
}

// nowFunc is overridden in tests to make eviction ordering deterministic.
var nowFunc = time.Now

// Drain forwards events from a subscription channel to handle until ctx is
// cancelled or the channel is closed by Unsubscribe. Used by the monitor SSE
// handler to bridge a Subscribe channel onto an sse.Writer.
func Drain(ctx context.Context, ch <-chan Event, handle func(Event)) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			handle(evt)
		}
	}
}
