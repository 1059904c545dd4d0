// Package httpapi is the HTTP boundary: request parsing, inline-vs-async
// dispatch, job polling, and output rendering. All transcription logic
// lives below it.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/openscribe/transcriber/internal/dispatch"
	"github.com/openscribe/transcriber/internal/jobs"
	"github.com/openscribe/transcriber/internal/selector"
)

type Server struct {
	selector *selector.Selector
	queue    *jobs.Queue
	policy   *dispatch.Policy

	uploadDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUploadDir sets where uploaded media artifacts are stored.
func WithUploadDir(dir string) Option {
	return func(s *Server) {
		s.uploadDir = dir
	}
}

func NewServer(sel *selector.Selector, queue *jobs.Queue, policy *dispatch.Policy, opts ...Option) *Server {
	s := &Server{
		selector: sel,
		queue:    queue,
		policy:   policy,
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/v1/transcriptions/youtube", s.handleYouTube)
	s.mux.HandleFunc("/v1/transcriptions/media", s.handleMedia)
	s.mux.HandleFunc("/v1/jobs", s.handleJobs)
	s.mux.HandleFunc("/v1/jobs/stream", s.handleJobStream)
	s.mux.HandleFunc("/v1/jobs/", s.handleJobByID)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
