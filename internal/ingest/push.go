// push.go — the HTTP push endpoint half of C3.
//
// POST /ingest accepts either a structured Event-shaped JSON payload or a
// single-line payload wrapped in {"message": "..."}; both dispatch through
// the same normalize→append path the tailer uses. Errors produce a
// 5xx-class failure response carrying a correlation ID so an operator can
// find the matching log line.
package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/octoreflex/siemstream/internal/model"
	"github.com/octoreflex/siemstream/internal/normalize"
)

type pushResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// PushServer hosts the /ingest HTTP endpoint.
type PushServer struct {
	addr    string
	store   EventAppender
	norm    *normalize.Normalizer
	metrics Metrics
	log     *zap.Logger
	router  *chi.Mux

	httpServer *http.Server
}

// NewPushServer constructs a PushServer bound to addr.
func NewPushServer(addr string, store EventAppender, norm *normalize.Normalizer, metrics Metrics, log *zap.Logger) *PushServer {
	s := &PushServer{addr: addr, store: store, norm: norm, metrics: metrics, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Post("/ingest", s.handleIngest)
	s.router = r

	return s
}

// ListenAndServe blocks serving the push endpoint until the server fails
// or is shut down externally via Shutdown.
func (s *PushServer) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server. Safe to call even if
// ListenAndServe has not yet been invoked.
func (s *PushServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *PushServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	var raw map[string]any
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&raw); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var ev *model.Event
	var err error

	if msg, ok := raw["message"].(string); ok && msg != "" {
		var matched bool
		ev, matched = s.norm.Normalize(msg)
		if !matched {
			s.fail(w, http.StatusUnprocessableEntity, "message did not match any parser")
			return
		}
	} else {
		ev, err = s.norm.NormalizeRecord(raw)
		if err != nil {
			s.fail(w, http.StatusUnprocessableEntity, "record failed schema validation")
			return
		}
	}

	if err := s.store.Append(*ev); err != nil {
		if s.metrics != nil {
			s.metrics.IncDropped("push", "store_error")
		}
		s.fail(w, http.StatusInternalServerError, "append failed")
		return
	}

	if s.metrics != nil {
		s.metrics.IncIngested("push")
	}
	s.writeJSON(w, http.StatusOK, pushResponse{Status: "ok"})
}

// fail writes a 5xx/4xx-class failure response tagged with a correlation
// ID so an operator can find the matching log line.
func (s *PushServer) fail(w http.ResponseWriter, status int, detail string) {
	correlationID := uuid.NewString()
	if s.log != nil {
		s.log.Warn("ingest: push request failed",
			zap.String("correlation_id", correlationID), zap.String("detail", detail), zap.Int("status", status))
	}
	s.writeJSON(w, status, pushResponse{Status: "error", Detail: detail + " (correlation_id=" + correlationID + ")"})
}

func (s *PushServer) writeJSON(w http.ResponseWriter, status int, resp pushResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
