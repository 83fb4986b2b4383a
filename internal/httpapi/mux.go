// Package httpapi is the local status endpoint of the serve daemon.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"cloudpico-station/internal/cache"
	"cloudpico-station/internal/storeforward"
)

// Health is the daemon's view of its last cycle.
type Health struct {
	Status       string          `json:"status"`
	Capabilities map[string]bool `json:"capabilities"`
	Cycles       int             `json:"cycles"`
	LastCycle    string          `json:"last_cycle,omitempty"`
	Online       bool            `json:"online"`
	Backlog      int             `json:"backlog"`
}

type Source interface {
	Health(ctx context.Context) Health
	Backlog(ctx context.Context) ([]storeforward.Record, error)
	CacheEntries() (map[string]cache.Entry, error)
}

func NewMux(src Source, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{src: src, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealthz)
	mux.HandleFunc("GET /backlog", h.handleBacklog)
	mux.HandleFunc("GET /cache", h.handleCache)
	return mux
}

func NewServer(addr string, mux *http.ServeMux, logger *slog.Logger) *http.Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

type handlers struct {
	src    Source
	logger *slog.Logger
}

func (h *handlers) handleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.src.Health(r.Context()))
}

func (h *handlers) handleBacklog(w http.ResponseWriter, r *http.Request) {
	recs, err := h.src.Backlog(r.Context())
	if err != nil {
		h.logger.Error("failed to read backlog", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to read backlog")
		return
	}
	if recs == nil {
		recs = []storeforward.Record{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"count": len(recs), "readings": recs})
}

func (h *handlers) handleCache(w http.ResponseWriter, r *http.Request) {
	entries, err := h.src.CacheEntries()
	if err != nil {
		h.logger.Error("failed to read cache", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to read cache")
		return
	}
	WriteJSON(w, http.StatusOK, entries)
}
