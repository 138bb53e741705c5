// Package server exposes the pipeline over HTTP: trigger endpoints for the
// sweeps and the publisher, and the push subscriber endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilupskalvis/regsync/internal/core"
	"github.com/kilupskalvis/regsync/internal/metrics"
	"github.com/kilupskalvis/regsync/internal/models"
)

// Indexer runs an index sweep.
type Indexer interface {
	Run(ctx context.Context, query string, maxPages int) models.RunSummary
}

// DetailRefresher runs a detail sweep.
type DetailRefresher interface {
	Run(ctx context.Context, limit int, politeness time.Duration) models.RunSummary
}

// ChangePublisher publishes pending change events.
type ChangePublisher interface {
	Publish(ctx context.Context, limit int) (int, error)
}

// ChangeHandler applies one change event.
type ChangeHandler interface {
	Handle(ctx context.Context, ev models.ChangeEvent) models.Disposition
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the pipeline components served over HTTP.
type Deps struct {
	Index     Indexer
	Details   DetailRefresher
	Publisher ChangePublisher
	Consumer  ChangeHandler
	Warehouse Pinger
	Metrics   *metrics.Collector
	Registry  *prometheus.Registry
}

// Config holds request limits and defaults.
type Config struct {
	MaxRequestBody    int64
	RequestsPerMinute int
	DefaultQuery      string
	DetailPoliteness  time.Duration
	DetailLimit       int
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody:    1 << 20,
		RequestsPerMinute: 120,
		DefaultQuery:      "a",
		DetailPoliteness:  500 * time.Millisecond,
	}
}

// Handler creates the HTTP handler with all routes and middleware.
// The returned cleanup function stops background goroutines and should be
// called on server shutdown.
func Handler(deps Deps, cfg *Config, logger *slog.Logger) (http.Handler, func()) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &handlers{deps: deps, cfg: cfg, logger: logger}
	rl := newRateLimiter(cfg.RequestsPerMinute)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", h.readyz)

	for _, method := range []string{"GET", "POST"} {
		mux.Handle(method+" /index", rl.middleware(http.HandlerFunc(h.index)))
		mux.Handle(method+" /details", rl.middleware(http.HandlerFunc(h.details)))
		mux.Handle(method+" /producer", rl.middleware(http.HandlerFunc(h.producer)))
	}
	mux.HandleFunc("POST /subscriber", h.subscriber)

	if deps.Registry != nil {
		mux.Handle("GET /metrics", metrics.Handler(deps.Registry))
	}

	handler := applyMiddleware(mux,
		recoveryMiddleware(logger),
		loggingMiddleware(logger),
		requestIDMiddleware,
		metricsMiddleware(deps.Metrics),
	)

	return handler, rl.Stop
}

// applyMiddleware applies middleware in reverse order so the first in the list runs first.
func applyMiddleware(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

type handlers struct {
	deps   Deps
	cfg    *Config
	logger *slog.Logger
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"service": "regsync", "status": "ready"})
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) readyz(w http.ResponseWriter, r *http.Request) {
	if h.deps.Warehouse != nil {
		if err := h.deps.Warehouse.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "error",
				"message": "warehouse unavailable: " + err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) index(w http.ResponseWriter, r *http.Request) {
	if h.deps.Index == nil {
		writeUnavailable(w, "index sweep")
		return
	}
	p := h.readParams(r)
	query := p.text("q", h.cfg.DefaultQuery)
	sum := h.deps.Index.Run(r.Context(), query, p.number("max_pages", 0))
	writeSummary(w, sum)
}

func (h *handlers) details(w http.ResponseWriter, r *http.Request) {
	if h.deps.Details == nil {
		writeUnavailable(w, "detail sweep")
		return
	}
	p := h.readParams(r)
	politeness := h.cfg.DetailPoliteness
	if sec, ok := p.decimal("sleep_sec"); ok && sec >= 0 {
		politeness = time.Duration(sec * float64(time.Second))
	}
	sum := h.deps.Details.Run(r.Context(), p.number("limit", h.cfg.DetailLimit), politeness)
	writeSummary(w, sum)
}

func (h *handlers) producer(w http.ResponseWriter, r *http.Request) {
	if h.deps.Publisher == nil {
		writeUnavailable(w, "publisher")
		return
	}
	p := h.readParams(r)
	n, err := h.deps.Publisher.Publish(r.Context(), p.number("limit", 0))
	if err != nil {
		h.logger.Error("publish failed", "published", n, "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, models.RunSummary{
			Status:    models.StatusError,
			Published: n,
			Message:   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, models.RunSummary{Status: models.StatusOK, Published: n})
}

// subscriber is the push endpoint. An empty 2xx acks the message; any other
// status asks for redelivery, except 400 for envelopes that can never be
// decoded.
func (h *handlers) subscriber(w http.ResponseWriter, r *http.Request) {
	if h.deps.Consumer == nil {
		writeUnavailable(w, "consumer")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxRequestBody))
	if err != nil {
		http.Error(w, "Bad Request: unreadable body", http.StatusBadRequest)
		return
	}
	ev, err := core.DecodePush(body)
	if err != nil {
		var me *core.MalformedMessageError
		if errors.As(err, &me) {
			h.logger.Warn("rejecting malformed push", "error", err, "request_id", RequestID(r.Context()))
			http.Error(w, "Bad Request: "+me.Reason, http.StatusBadRequest)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if h.deps.Consumer.Handle(r.Context(), ev) == models.Retry {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": "change not applied for " + ev.Identifier(),
		})
		return
	}
	w.WriteHeader(http.StatusOK)
}

func writeUnavailable(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusInternalServerError, models.RunSummary{
		Status:  models.StatusError,
		Message: what + " not configured",
	})
}

// summaryStatus maps a run status to its HTTP status code.
func summaryStatus(s models.RunStatus) int {
	switch s {
	case models.StatusOK:
		return http.StatusOK
	case models.StatusPartial:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}

func writeSummary(w http.ResponseWriter, sum models.RunSummary) {
	writeJSON(w, summaryStatus(sum.Status), sum)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// params merges query parameters over an optional JSON object body.
type params struct {
	query url.Values
	body  map[string]any
}

func (h *handlers) readParams(r *http.Request) params {
	p := params{query: r.URL.Query()}
	if r.Body == nil || !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		return p
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxRequestBody))
	if err != nil || len(data) == 0 {
		return p
	}
	if err := json.Unmarshal(data, &p.body); err != nil {
		h.logger.Debug("ignoring non-object request body", "error", err)
	}
	return p
}

func (p params) raw(name string) string {
	if v := p.query.Get(name); v != "" {
		return v
	}
	switch v := p.body[name].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

func (p params) text(name, def string) string {
	if v := p.raw(name); v != "" {
		return v
	}
	return def
}

// number parses name, falling back to def when it is absent or not a number.
func (p params) number(name string, def int) int {
	n, err := strconv.Atoi(p.raw(name))
	if err != nil {
		return def
	}
	return n
}

func (p params) decimal(name string) (float64, bool) {
	f, err := strconv.ParseFloat(p.raw(name), 64)
	return f, err == nil
}
