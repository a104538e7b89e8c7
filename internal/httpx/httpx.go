// Package httpx contains the HTTP delivery layer (net/http handlers) for the
// blockvault service. It maps JSON requests onto the block store, runs each
// request inside one database transaction, and translates domain errors into
// status codes. Handlers are split across files (blocks.go, health.go,
// errors.go, middleware.go).
package httpx

import (
	"context"
	"net/http"

	"github.com/haukened/blockvault/internal/app"
	"github.com/haukened/blockvault/internal/domain"
)

// ServicePort abstracts the block operations of app.Service used by the
// HTTP layer. It is satisfied by *app.Service in production and mocked in
// tests.
type ServicePort interface {
	Create(ctx context.Context, db app.DBTX, flat domain.FlatBlock) (domain.BlockRecord, error)
	ReadByID(ctx context.Context, db app.DBTX, id string) (domain.FlatBlock, error)
	ReadByName(ctx context.Context, db app.DBTX, name string) (domain.FlatBlock, error)
	Update(ctx context.Context, db app.DBTX, name string, upd domain.BlockUpdate) (bool, error)
	DeleteByName(ctx context.Context, db app.DBTX, name string) (bool, error)
}

// TxRunner opens the session each request runs in.
type TxRunner interface {
	InTx(ctx context.Context, fn func(app.DBTX) error) error
}

// Handler wires HTTP endpoints to the block store.
// It is safe for concurrent use. Zero-value is not valid; construct via New.
type Handler struct {
	Service   ServicePort
	Tx        TxRunner
	MaxBody   int64                       // request body limit in bytes (0 disables)
	Readiness func(context.Context) error // optional readiness probe
	Metrics   http.Handler                // optional /metrics handler
}

// New returns a configured Handler.
func New(svc ServicePort, tx TxRunner, maxBody int64, readiness func(context.Context) error) *Handler {
	return &Handler{Service: svc, Tx: tx, MaxBody: maxBody, Readiness: readiness}
}

// Router constructs and returns an http.Handler with all routes mounted and
// the correlation, logging and security header middleware applied.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /block_data/{$}", h.handleCreate)
	mux.HandleFunc("GET /block_data/{id}", h.handleReadByID)
	mux.HandleFunc("GET /block_data/name/{name}", h.handleReadByName)
	mux.HandleFunc("PATCH /block_data/name/{name}", h.handleUpdate)
	mux.HandleFunc("DELETE /block_data/name/{name}", h.handleDelete)
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /readyz", h.handleReady)
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return CorrelationIDMiddleware(logRequests(h.secureHeaders(mux)))
}

// secureHeaders middleware adds standard security & cache control headers.
// Responses carry block contents, so nothing is cacheable.
func (h *Handler) secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'; base-uri 'none'")
		next.ServeHTTP(w, r)
	})
}
