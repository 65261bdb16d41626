package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"messagebridge/internal/config"
	obsmiddleware "messagebridge/internal/observability/middleware"
	"messagebridge/internal/store"
)

// ReadinessChecker reports whether the process is ready to accept traffic.
// internal/app.Health implements this, flipping true once the listener is
// bound — grounded in the teacher's internal/app/health.go.
type ReadinessChecker interface {
	IsReady() bool
}

const maxRequestBodyBytes = 10 << 20 // 10MiB; generous enough for large tool schemas/history

// Proxy is the HTTP server implementing every route in spec.md §6, wired
// onto a chi.Mux.
type Proxy struct {
	cfg    *config.Config
	store  *store.Store
	router *chi.Mux
	srv    *http.Server
}

// New builds a Proxy against cfg and store, ready to Start. health may be
// nil, in which case GET /ready always reports 503.
func New(cfg *config.Config, st *store.Store, health ReadinessChecker) (*Proxy, error) {
	if cfg == nil {
		return nil, fmt.Errorf("proxy: nil config")
	}
	if st == nil {
		return nil, fmt.Errorf("proxy: nil store")
	}
	if health == nil {
		health = noopReadiness{}
	}

	client := &http.Client{Timeout: cfg.RequestTimeout}

	messages := NewMessagesHandler(cfg, st, client)
	countTokens := NewCountTokensHandler(cfg, client)
	monitor := NewMonitorHandler(st)

	r := chi.NewRouter()
	r.Use(Recovery)
	r.Use(obsmiddleware.RequestIDGeneration)
	r.Use(obsmiddleware.TraceContextExtraction)
	r.Use(obsmiddleware.Logging(slog.Default()))
	r.Use(obsmiddleware.RequestIDPropagation)
	r.Use(RequestSizeLimit(maxRequestBodyBytes))

	r.Post("/v1/messages", messages.ServeHTTP)
	r.Post("/v1/messages/count_tokens", countTokens.ServeHTTP)

	r.Get("/health", livenessHandler())
	r.Get("/ready", readinessHandler(health))

	r.Get("/monitor", notImplementedHandler)
	r.Get("/config", notImplementedHandler)
	r.Get("/", notImplementedHandler)

	r.Route("/api/monitor", func(r chi.Router) {
		r.Get("/requests", monitor.ListRequests)
		r.Get("/requests/{id}", monitor.GetRequest)
		r.Get("/stats", monitor.Stats)
		r.Get("/stream", monitor.Stream)
		r.Post("/clear", monitor.Clear)
		r.Get("/export", monitor.Export)
		r.Get("/analyze", notImplementedHandler)
	})

	r.Route("/api/config", func(r chi.Router) {
		r.Get("/", notImplementedHandler)
		r.Post("/", notImplementedHandler)
		r.Get("/*", notImplementedHandler)
		r.Post("/*", notImplementedHandler)
	})

	return &Proxy{cfg: cfg, store: st, router: r}, nil
}

// Start binds addr and serves in the background, returning a channel that
// receives at most one error if the server exits abnormally (a clean
// Shutdown produces no value on the channel, which is then closed).
func (p *Proxy) Start(ctx context.Context, addr string) (<-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("proxy: listen on %s: %w", addr, err)
	}

	p.srv = &http.Server{
		Addr:              addr,
		Handler:           p.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

// Shutdown gracefully stops the server, letting in-flight requests drain
// until ctx expires.
func (p *Proxy) Shutdown(ctx context.Context) error {
	if p.srv == nil {
		return nil
	}
	return p.srv.Shutdown(ctx)
}

type noopReadiness struct{}

func (noopReadiness) IsReady() bool { return false }
