// Package http serves the read-only pod state API, probes and metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/podstate/internal/alerts"
	"github.com/autopeer-io/podstate/internal/pkg/metrics"
	"github.com/autopeer-io/podstate/internal/podstate/model"
	"github.com/autopeer-io/podstate/internal/podstate/uncertainty"
	"github.com/autopeer-io/podstate/pkg/log"
	"github.com/autopeer-io/podstate/pkg/options"
)

// StateSource exposes the current pod state.
type StateSource interface {
	Snapshot() model.Snapshot
	ResolverState() uncertainty.State
	InSync() bool
}

// AlertSource exposes the user alerts.
type AlertSource interface {
	Active() []alerts.Alert
	Get(id string) (alerts.Alert, bool)
	Dismiss(id string)
}

// ReadyFunc reports whether a dependency is usable.
type ReadyFunc func(ctx context.Context) error

// StateResponse is the body of GET /v1/pod/state.
type StateResponse struct {
	Snapshot model.Snapshot    `json:"snapshot"`
	Resolver uncertainty.State `json:"resolver"`
	InSync   bool              `json:"inSync"`
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions

	state  StateSource
	alerts AlertSource
	ready  []ReadyFunc
}

func NewServer(opts *options.HttpOptions, state StateSource, alertSrc AlertSource, ready ...ReadyFunc) *Server {
	s := &Server{
		options: opts,
		state:   state,
		alerts:  alertSrc,
		ready:   ready,
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Timeout,
		WriteTimeout:      opts.Timeout,
	}
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/v1/pod").Subrouter()
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/dismiss", s.handleDismiss).Methods(http.MethodPost)

	return r
}

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, check := range s.ready {
		if err := check(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	if !s.state.InSync() {
		http.Error(w, "snapshot store out of sync", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StateResponse{
		Snapshot: s.state.Snapshot(),
		Resolver: s.state.ResolverState(),
		InSync:   s.state.InSync(),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.alerts.Active())
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := s.alerts.Get(id); !ok {
		http.Error(w, "alert not found", http.StatusNotFound)
		return
	}
	s.alerts.Dismiss(id)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to write response")
	}
}
