package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/seidata/curator/pkg/auth"
	"github.com/seidata/curator/pkg/blob"
	"github.com/seidata/curator/pkg/config"
	"github.com/seidata/curator/pkg/daemon"
	"github.com/seidata/curator/pkg/events"
	"github.com/seidata/curator/pkg/executor"
	"github.com/seidata/curator/pkg/log"
	"github.com/seidata/curator/pkg/metrics"
	"github.com/seidata/curator/pkg/prototype"
	"github.com/seidata/curator/pkg/storage"
)

// Redirect tokens carried back to the dashboard after form posts.
const (
	tokenMetadataSuccess = "S_METADATA_SUCCESS"
	tokenMetadataError   = "E_METADATA_ERROR"
	tokenAuthSuccess     = "S_AUTHENTICATED"
	tokenAuthError       = "E_AUTHENTICATION_FAILED"
)

// sessionCookie names the session token cookie.
const sessionCookie = "CURATOR_SESSION"

// Server is curator's HTTP surface: the submission intake, the history
// and staging read API, and the admin RPCs.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	blobs    *blob.Store
	registry *prototype.Registry
	auth     *auth.Service
	resolver *daemon.Resolver
	exec     *executor.Executor
	broker   *events.Broker
	limiter  *ipLimiter
	router   chi.Router
	logger   zerolog.Logger
}

// NewServer assembles the HTTP server.
func NewServer(cfg *config.Config, store storage.Store, blobs *blob.Store, registry *prototype.Registry, authService *auth.Service, resolver *daemon.Resolver, exec *executor.Executor, broker *events.Broker) *Server {
	s := &Server{
		cfg:      cfg,
		store:    store,
		blobs:    blobs,
		registry: registry,
		auth:     authService,
		resolver: resolver,
		exec:     exec,
		broker:   broker,
		limiter:  newIPLimiter(),
		logger:   log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())
	r.Post("/authenticate", s.handleAuthenticate)

	r.Group(func(r chi.Router) {
		r.Use(s.sessionRequired)
		r.With(s.rateLimited).Post("/upload", s.handleUpload)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodDelete},
			AllowCredentials: true,
		}))
		r.Use(s.sessionRequired)
		r.Get("/history", s.handleHistoryGet)
		r.Delete("/history", s.handleHistoryDelete)
		r.Get("/staged", s.handleStaged)
		r.Get("/prototype", s.handlePrototype)
	})

	r.Route("/rpc", func(r chi.Router) {
		r.Use(s.sessionRequired, s.adminRequired)
		r.Get("/prototypes", s.handleRPCPrototypes)
		r.Get("/inventory", s.handleRPCInventory)
		r.Get("/reconfigure", s.handleRPCReconfigure)
	})

	return r
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.ListenAddr(),
		Handler:      s.router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// writeJSON renders a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

// redirectHome sends the dashboard redirect with a result token.
func (s *Server) redirectHome(w http.ResponseWriter, r *http.Request, token string) {
	http.Redirect(w, r, "/home?"+token, http.StatusSeeOther)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"node_id":   s.cfg.NodeID,
		"timestamp": time.Now().UTC(),
	})
}
