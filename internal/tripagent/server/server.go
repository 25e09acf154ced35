// Package server exposes health checks, metrics and the agent status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

// Status is the document served on /api/v1/status.
type Status struct {
	Motion        string     `json:"motion"`
	IdleSince     *time.Time `json:"idleSince,omitempty"`
	Ignition      bool       `json:"ignition"`
	Moving        bool       `json:"moving"`
	StopCommand   bool       `json:"stopCommand"`
	Capture       string     `json:"capture"`
	CaptureSince  *time.Time `json:"captureSince,omitempty"`
	MqttConnected bool       `json:"mqttConnected"`
	QueuedSignals int        `json:"queuedSignals"`
}

// Source provides what the server reports.
type Source interface {
	Status() Status
	// Ready reports whether the agent can receive telemetry.
	Ready() bool
}

type Server struct {
	server  *http.Server
	options *options.HttpOptions
}

func NewServer(opts *options.HttpOptions, src Source, gatherer prometheus.Gatherer) *Server {
	return &Server{
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(src, gatherer),
			ReadHeaderTimeout: 5 * time.Second,
		},
		options: opts,
	}
}

// NewRouter returns the handler serving every endpoint.
func NewRouter(src Source, gatherer prometheus.Gatherer) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !src.Ready() {
			http.Error(w, "mqtt not connected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src.Status()); err != nil {
			log.Error(err, "Failed to encode status")
		}
	}).Methods(http.MethodGet)

	return r
}

// Start serves until ctx is done. An empty address disables the server.
func (s *Server) Start(ctx context.Context) error {
	if s.server.Addr == "" {
		log.Info("HTTP server disabled")
		return nil
	}
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
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
