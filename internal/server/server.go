// Package server assembles the HTTP router of the tile server.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/joeblew999/plat-tiles/internal/api"
	"github.com/joeblew999/plat-tiles/internal/metrics"
	imw "github.com/joeblew999/plat-tiles/internal/middleware"
	"github.com/joeblew999/plat-tiles/internal/service"
)

// Config holds the server configuration.
type Config struct {
	Host string
	Port int
	// MetricsPath mounts the Prometheus handler; empty disables it.
	MetricsPath string
}

// Server is the tile HTTP server.
type Server struct {
	config  Config
	router  chi.Router
	humaAPI huma.API
	svc     *api.Services
	log     *slog.Logger
}

// New builds the router. prov may be nil, which disables metrics.
func New(cfg Config, svc *api.Services, prov *metrics.Provider, log *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(imw.RequestID())
	r.Use(imw.Recover(log))
	r.Use(imw.Logging(log))
	r.Use(imw.CORS())
	if prov != nil {
		httpm := metrics.NewHTTP(prov.Registerer())
		r.Use(httpm.Middleware())
		if svc.CacheStats == nil {
			svc.CacheStats = httpm
		}
	}
	if svc.Log == nil {
		svc.Log = log
	}
	if svc.Events == nil {
		svc.Events = service.NewEventBus()
	}

	version := svc.Build.Version
	if version == "" {
		version = "dev"
	}
	humaConfig := huma.DefaultConfig("plat-tiles API", version)
	humaConfig.Info.Description = "Vector tile server rendering Mapbox Vector Tiles from PostGIS, DuckDB or GeoJSON layers."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%d", displayHost(cfg.Host), cfg.Port), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	s := &Server{
		config:  cfg,
		router:  r,
		humaAPI: humachi.New(r, humaConfig),
		svc:     svc,
		log:     log,
	}
	s.routes(prov)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// OpenAPI returns the generated API description.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

func (s *Server) routes(prov *metrics.Provider) {
	api.RegisterRoutes(s.humaAPI, s.svc)

	if prov != nil && s.config.MetricsPath != "" {
		s.router.Method(http.MethodGet, s.config.MetricsPath, prov.Handler())
	}

	// Whole archives for PMTiles clients, which read them with range requests.
	s.router.Get("/archives/{name}", s.handleArchive)

	s.router.Get("/", s.handleRoot)
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	path, err := s.svc.Archives.Path(chi.URLParam(r, "name"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.pmtiles")
	http.ServeFile(w, r, path)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/docs", http.StatusFound)
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// BaseURL is the address clients reach the server on.
func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", displayHost(s.config.Host), s.config.Port)
}

func displayHost(host string) string {
	if host == "" || host == "0.0.0.0" {
		return "localhost"
	}
	return host
}
