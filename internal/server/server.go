// Package server receives forge webhooks and message-bus deliveries over
// HTTP and hands the parsed events to the dispatcher.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"distsync.dev/distsync/internal/dispatch"
	"distsync.dev/distsync/internal/events"
)

const (
	// maxBodySize bounds the payloads read from a delivery. GitLab merge
	// request hooks with long descriptions stay well below it.
	maxBodySize = 10 << 20

	// deduplicationWindow is how long a delivery id is remembered
	deduplicationWindow = time.Hour

	shutdownTimeout = 30 * time.Second
)

// Delivery headers. GitLab sends the token and event uuid; message-bus
// bridges send a request id.
const (
	headerToken     = "X-Gitlab-Token"
	headerEventUUID = "X-Gitlab-Event-UUID"
	headerRequestID = "X-Request-Id"
)

// Dispatcher submits work items for an event
type Dispatcher interface {
	Dispatch(ctx context.Context, event events.Event) ([]dispatch.WorkItem, error)
}

// Handler is the webhook endpoint. It checks the shared secret, drops
// redelivered payloads and dispatches the parsed event.
type Handler struct {
	parser     *events.Parser
	dispatcher Dispatcher
	secret     []byte
	logger     *slog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewHandler creates a webhook Handler. An empty secret disables the
// token check.
func NewHandler(parser *events.Parser, dispatcher Dispatcher, secret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		parser:     parser,
		dispatcher: dispatcher,
		secret:     []byte(secret),
		logger:     logger,
		seen:       make(map[string]time.Time),
		now:        time.Now,
	}
}

type response struct {
	Status    string   `json:"status"`
	WorkItems []string `json:"work_items,omitempty"`
	Error     string   `json:"error,omitempty"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, response{Status: "error", Error: "method not allowed"})
		return
	}

	if len(h.secret) > 0 {
		token := []byte(r.Header.Get(headerToken))
		if subtle.ConstantTimeCompare(token, h.secret) != 1 {
			h.logger.Warn("rejected delivery with invalid token", "remote", r.RemoteAddr)
			writeJSON(w, http.StatusUnauthorized, response{Status: "error", Error: "invalid token"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: "failed to read body"})
		return
	}
	if len(body) > maxBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, response{Status: "error", Error: "payload too large"})
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: "empty body"})
		return
	}

	deliveryID := r.Header.Get(headerEventUUID)
	if deliveryID == "" {
		deliveryID = r.Header.Get(headerRequestID)
	}
	logger := h.logger
	if deliveryID != "" {
		if h.isDuplicate(deliveryID) {
			h.logger.Info("ignoring redelivered payload", "delivery", deliveryID)
			writeJSON(w, http.StatusOK, response{Status: "duplicate"})
			return
		}
		logger = logger.With("delivery", deliveryID)
	} else {
		logger = logger.With("delivery", "local-"+uuid.NewString())
	}

	event, err := h.parser.Parse(body)
	if err != nil {
		// a redelivery of the same payload would fail the same way
		logger.Warn("failed to parse payload", "error", err)
		writeJSON(w, http.StatusBadRequest, response{Status: "error", Error: err.Error()})
		return
	}
	if event == nil {
		logger.Debug("ignoring unsupported payload")
		writeJSON(w, http.StatusOK, response{Status: "ignored"})
		return
	}
	if !event.PreCheck() {
		logger.Debug("event failed pre-check", "type", event.Type().String())
		writeJSON(w, http.StatusOK, response{Status: "ignored"})
		return
	}

	items, err := h.dispatcher.Dispatch(r.Context(), event)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if err != nil {
		logger.Error("failed to dispatch event", "type", event.Type().String(), "error", err)
		h.forget(deliveryID)
		writeJSON(w, http.StatusServiceUnavailable, response{Status: "error", WorkItems: ids, Error: err.Error()})
		return
	}

	logger.Info("event accepted", "type", event.Type().String(), "work_items", len(ids))
	status := "accepted"
	if len(ids) == 0 {
		status = "ignored"
	}
	writeJSON(w, http.StatusAccepted, response{Status: status, WorkItems: ids})
}

// isDuplicate records id and reports whether it was seen within the
// deduplication window. Expired entries are pruned on every call.
func (h *Handler) isDuplicate(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now()
	for key, at := range h.seen {
		if now.Sub(at) > deduplicationWindow {
			delete(h.seen, key)
		}
	}
	if _, ok := h.seen[id]; ok {
		return true
	}
	h.seen[id] = now
	return false
}

// forget lets a delivery be retried after a failed dispatch
func (h *Handler) forget(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	delete(h.seen, id)
	h.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, code int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Routes returns the HTTP routes served by distsync
func Routes(webhook http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, response{Status: "ok"})
	})
	return mux
}

// Server serves the routes until its context is cancelled
type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// New creates a Server listening on addr
func New(addr string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
