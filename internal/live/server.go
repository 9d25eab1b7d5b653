package live

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/joulia/joulia-live/internal/apierr"
	"github.com/joulia/joulia-live/internal/config"
	"github.com/joulia/joulia-live/internal/livelog"
)

// Default listener values.
const (
	DefaultPort = 8790
	DefaultHost = "localhost"
)

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string
	Port            int
	Quiet           bool          // disable request logging
	PingInterval    time.Duration // WebSocket keepalive
	ShutdownTimeout time.Duration
	StoreDriver     string // recorded in the instance registry

	// OriginPatterns are the browser origins, besides the server's own
	// host, allowed to open the streaming socket.
	OriginPatterns []string

	// Instances records the running server for port-conflict detection and
	// `status`. Nil skips registration.
	Instances *config.Instances
}

// Server exposes a Service over HTTP and WebSocket.
type Server struct {
	config ServerConfig
	svc    *Service
	router chi.Router
}

// NewServer creates a server for svc and sets up its routes.
func NewServer(svc *Service, cfg ServerConfig) *Server {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{config: cfg, svc: svc}
	s.router = s.setupRouter()
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)
	if !s.config.Quiet {
		r.Use(middleware.Logger)
	}

	r.Route("/live", func(r chi.Router) {
		r.Get("/timeseries/socket/", s.handleTimeseriesSocket)
		r.Post("/recipeInstance/start/", s.handleRecipeInstanceStart)
		r.Post("/recipeInstance/end/", s.handleRecipeInstanceEnd)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/ws/ticket", s.handleIssueTicket)
		r.Post("/timeseries", s.handleIngest)
		r.Post("/brewhouses/{id}/launch", s.handleLaunch)
		r.Get("/brewhouses/{id}/controller", s.handleController)
		r.Post("/recipe-instances/{id}/end", s.handleEnd)
		r.Get("/live/stats", s.handleStats)
	})

	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// and closes the service.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		if other, ok := s.registeredOn(s.config.Port); ok {
			return fmt.Errorf("port %d is already in use by joulia-live PID %d (started %s)",
				s.config.Port, other.PID, other.StartedAt.Format(time.RFC3339))
		}
		return fmt.Errorf("listen: %w", err)
	}
	if s.config.Port == 0 {
		s.config.Port = ln.Addr().(*net.TCPAddr).Port
	}

	if reg := s.config.Instances; reg != nil {
		inst := config.Instance{
			PID:       os.Getpid(),
			Host:      s.config.Host,
			Port:      s.config.Port,
			Store:     s.config.StoreDriver,
			StartedAt: time.Now(),
		}
		if err := reg.Claim(inst); err != nil {
			ln.Close()
			return err
		}
		defer func() {
			if err := reg.Release(inst.PID); err != nil {
				livelog.Log.Warn("Failed to release server instance", "error", err.Error())
			}
		}()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		livelog.Log.Info("Live server listening", "addr", s.Addr())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.cleanTickets(ctx)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		closeErr := s.svc.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return closeErr
	})
	return g.Wait()
}

func (s *Server) registeredOn(port int) (config.Instance, bool) {
	if s.config.Instances == nil || port == 0 {
		return config.Instance{}, false
	}
	return s.config.Instances.OnPort(port)
}

// Addr returns the server address string.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

// cleanTickets periodically drops expired WebSocket tickets.
func (s *Server) cleanTickets(ctx context.Context) {
	tickets := s.svc.Bridge().Tickets()
	if tickets == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := tickets.Cleanup(); removed > 0 {
				livelog.Log.Debug("Cleaned expired tickets", "removed", removed)
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	p := s.svc.Bridge().ResolveRequest(r)
	if !p.Authenticated() {
		writeAPIError(w, apierr.ErrUnauthenticated)
		return
	}
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// corsMiddleware adds CORS headers for cross-origin requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRFToken")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse is an API error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}

// writeAPIError maps err onto its HTTP status and error code.
func writeAPIError(w http.ResponseWriter, err error) {
	status := apierr.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		livelog.Log.Error("Request failed", "error", err)
		writeError(w, status, apierr.Code(err), "internal error")
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="joulia"`)
	}
	writeError(w, status, apierr.Code(err), err.Error())
}

// pathID parses a positive integer URL parameter.
func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, chi.URLParam(r, name), apierr.ErrMalformedMessage)
	}
	return id, nil
}
