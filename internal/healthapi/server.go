// Package healthapi exposes the core's health surface over HTTP: the
// status of every registered adapter, the aggregator's processing
// watermark, and a tail of recent structured log entries.
//
// Narrowed from internal/controllers/restserver.Controller
// (mux.NewRouter, an http.Server held by value, ctx+WaitGroup-driven
// startup/shutdown) down to the three read-only /healthz endpoints this
// core's §10.4 health surface calls for — no gRPC, no TLS/SNI, no website
// routing.
package healthapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/windvane-labs/weathercore/internal/adapters"
	"github.com/windvane-labs/weathercore/internal/aggregator"
	"github.com/windvane-labs/weathercore/internal/log"
	"github.com/windvane-labs/weathercore/pkg/responseformat"
)

// AdapterStatus pairs an adapter's name with its current HealthStatus, for
// the GET /healthz/adapters response.
type AdapterStatus struct {
	Name   string      `json:"name"`
	Status interface{} `json:"status"`
}

// Server is the health HTTP surface.
type Server struct {
	http       http.Server
	adapters   []adapters.Adapter
	aggregator *aggregator.Aggregator
	format     *responseformat.Formatter
}

// New builds a Server bound to addr, reporting on the given adapters and
// aggregator. Every endpoint answers JSON by default and MessagePack when
// the request carries ?format=msgpack.
func New(addr string, registered []adapters.Adapter, agg *aggregator.Aggregator) *Server {
	s := &Server{adapters: registered, aggregator: agg, format: responseformat.NewFormatter()}

	router := mux.NewRouter()
	router.HandleFunc("/healthz/adapters", s.handleAdapters).Methods(http.MethodGet)
	router.HandleFunc("/healthz/aggregator", s.handleAggregator).Methods(http.MethodGet)
	router.HandleFunc("/healthz/log", s.handleLog).Methods(http.MethodGet)

	s.http = http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in its own goroutine and returns immediately. Bind
// errors other than http.ErrServerClosed are logged, matching the
// fire-and-forget ListenAndServe goroutine in
// restserver.Controller.Start.
func (s *Server) Start() {
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("healthapi: serve: %v", err)
		}
	}()
}

// Stop gracefully shuts the server down, honoring ctx's deadline.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleAdapters(w http.ResponseWriter, r *http.Request) {
	out := make([]AdapterStatus, 0, len(s.adapters))
	for _, a := range s.adapters {
		out = append(out, AdapterStatus{Name: a.Name(), Status: a.Health()})
	}
	s.write(w, r, out)
}

func (s *Server) handleAggregator(w http.ResponseWriter, r *http.Request) {
	if s.aggregator == nil {
		s.write(w, r, aggregator.Snapshot{})
		return
	}
	s.write(w, r, s.aggregator.Status())
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	const tailSize = 200
	s.write(w, r, log.GetLogBuffer().Tail(tailSize))
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, v interface{}) {
	if err := s.format.WriteResponse(w, r, v); err != nil {
		log.Warnf("healthapi: encode response: %v", err)
	}
}
