package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Server handles HTTP requests for the annotator
type Server struct {
	service   *Service
	basicAuth BasicAuth
	limiter   *rate.Limiter
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// ServerOptions configures a Server.
type ServerOptions struct {
	BasicAuth BasicAuth
	// RequestsPerSecond limits API traffic; zero disables the limit.
	RequestsPerSecond float64
	Burst             int
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, opts ServerOptions) *Server {
	return NewServerWithMux(service, opts, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, opts ServerOptions, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: opts.BasicAuth,
		mux:       mux,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = max(1, int(opts.RequestsPerSecond))
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	userOK := subtle.ConstantTimeCompare([]byte(credentials[0]), []byte(s.basicAuth.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(credentials[1]), []byte(s.basicAuth.Password)) == 1
	return userOK && passOK
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="FX Annotator"`)
			corsError(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// limit middleware rejects requests over the configured rate
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	if s.limiter == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			corsError(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// route wraps h with the shared middleware
func (s *Server) route(h http.HandlerFunc) http.HandlerFunc {
	return s.limit(s.requireAuth(h))
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.mux.HandleFunc("POST /api/detect", s.route(s.handleDetect))
	s.mux.HandleFunc("POST /api/convert", s.route(s.handleConvert))
	s.mux.HandleFunc("POST /api/annotate", s.route(s.handleAnnotate))

	s.mux.HandleFunc("GET /api/rates/{base}", s.route(s.handleGetRates))
	s.mux.HandleFunc("DELETE /api/rates", s.route(s.handleClearRates))

	s.mux.HandleFunc("GET /api/settings", s.route(s.handleGetSettings))
	s.mux.HandleFunc("PUT /api/settings", s.route(s.handleSaveSettings))

	// Sessions (most specific paths first)
	s.mux.HandleFunc("POST /api/sessions/{id}/mutations", s.route(s.handleSessionMutation))
	s.mux.HandleFunc("POST /api/sessions/{id}/triggers/{kind}", s.route(s.handleSessionTrigger))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.route(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.route(s.handleDeleteSession))
	s.mux.HandleFunc("POST /api/sessions", s.route(s.handleCreateSession))
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.corsMiddleware(s.mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting server", "address", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.service.Close()
	if err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.corsMiddleware(s.mux).ServeHTTP(w, r)
}
