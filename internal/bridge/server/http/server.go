package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/k-laboratory/rovlink/internal/bridge/command"
	"github.com/k-laboratory/rovlink/internal/bridge/hub"
	"github.com/k-laboratory/rovlink/internal/bridge/link"
	"github.com/k-laboratory/rovlink/internal/bridge/state"
	"github.com/k-laboratory/rovlink/internal/bridge/video"
	"github.com/k-laboratory/rovlink/internal/pkg/metrics"
	"github.com/k-laboratory/rovlink/pkg/log"
	"github.com/k-laboratory/rovlink/pkg/options"
)

// Backend bundles the bridge components the HTTP API is a view over.
type Backend struct {
	Link     *link.Manager
	State    *state.Aggregator
	Hub      *hub.Hub
	Command  *command.Dispatcher
	Video    *video.Registry
	Frames   func() (frames, dropped uint64)
	Deadline time.Duration // websocket write deadline
}

// Server exposes the bridge REST and websocket API.
type Server struct {
	server  *http.Server
	options *options.HttpOptions
	backend Backend
	limiter *rate.Limiter
	log     log.Logger
}

// NewServer wires the router. Command submission is rate limited to protect
// the vehicle link from request floods.
func NewServer(opts *options.HttpOptions, cmdOpts *options.CommandOptions, backend Backend) *Server {
	limit := rate.Inf
	if cmdOpts.RateLimitRPS > 0 {
		limit = rate.Limit(cmdOpts.RateLimitRPS)
	}
	s := &Server{
		options: opts,
		backend: backend,
		limiter: rate.NewLimiter(limit, cmdOpts.RateLimitBurst),
		log:     log.WithName("http"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/telemetry", s.handleTelemetry).Methods(http.MethodGet)
	api.HandleFunc("/telemetry/ws", s.handleTelemetryWS).Methods(http.MethodGet)
	api.HandleFunc("/commands", s.handleSubmitCommand).Methods(http.MethodPost)
	api.HandleFunc("/commands/{id}", s.handleGetCommand).Methods(http.MethodGet)
	api.HandleFunc("/streams", s.handleListStreams).Methods(http.MethodGet)
	api.HandleFunc("/streams", s.handleRegisterStream).Methods(http.MethodPost)

	s.server = &http.Server{
		Addr:    opts.Addr,
		Handler: r,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
