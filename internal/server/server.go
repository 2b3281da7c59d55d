// Package server exposes the bridge over HTTP.
//
// Request/response endpoints drive the device registry, the title and the
// session record store. GET /ws upgrades to a WebSocket push channel that is
// registered with the broadcast hub.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/hub"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/registry"
	"github.com/srg/shotbridge/internal/store"
	"github.com/srg/shotbridge/internal/title"
)

const (
	defaultClientQueue = 64
	shutdownTimeout    = 5 * time.Second
)

// Options configures the HTTP surface.
type Options struct {
	Addr      string
	StaticDir string

	// ClientQueue bounds the messages buffered per push subscriber.
	ClientQueue int
	// WriteTimeout bounds one WebSocket write.
	WriteTimeout time.Duration

	// Now stamps archive directories. Defaults to time.Now.
	Now func() time.Time
}

// Deps are the components the handlers operate on.
type Deps struct {
	Registry *registry.Registry
	Store    *store.Store
	Ledger   *ledger.Ledger
	Title    *title.Store
	Hub      *hub.Hub
}

// Server serves the bridge API.
type Server struct {
	opts   Options
	deps   Deps
	logger *logrus.Logger
	mux    *http.ServeMux
}

// New builds a Server and registers its routes.
func New(opts Options, deps Deps, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ClientQueue <= 0 {
		opts.ClientQueue = defaultClientQueue
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /devices", s.handleDevices)
	s.mux.HandleFunc("POST /connect", s.handleConnect)
	s.mux.HandleFunc("POST /disconnect", s.handleDisconnect)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("GET /get_title", s.handleGetTitle)
	s.mux.HandleFunc("POST /set_title", s.handleSetTitle)
	s.mux.HandleFunc("POST /clear_sessions", s.handleClearSessions)
	s.mux.HandleFunc("GET /sessions", s.handleSessions)
	s.mux.HandleFunc("GET /download/{id}", s.handleDownload)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)

	if s.opts.StaticDir != "" {
		if info, err := os.Stat(s.opts.StaticDir); err == nil && info.IsDir() {
			s.mux.Handle("GET /", http.FileServer(http.Dir(s.opts.StaticDir)))
		} else {
			s.logger.WithField("static_dir", s.opts.StaticDir).Warn("Static directory not found, UI disabled")
		}
	}
}

// Handler returns the root handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return withCORS(s.mux)
}

// Run serves on opts.Addr until ctx is cancelled, then shuts down gracefully
// and closes the hub so open push channels terminate.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	s.logger.Info("HTTP server stopped")
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "*")
		h.Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
