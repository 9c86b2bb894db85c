// Package server wires the portal together: registry core, render
// surface, raster catalog, clip client, persistence, and the HTTP API.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/rs/zerolog"

	"github.com/vmrc/geoportal/internal/api"
	"github.com/vmrc/geoportal/internal/api/mapsse"
	"github.com/vmrc/geoportal/internal/catalog"
	"github.com/vmrc/geoportal/internal/config"
	"github.com/vmrc/geoportal/internal/core"
	"github.com/vmrc/geoportal/internal/db"
	"github.com/vmrc/geoportal/internal/geo"
	"github.com/vmrc/geoportal/internal/raster"
	"github.com/vmrc/geoportal/internal/store"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and the viewer page
}

// Server is the portal HTTP server.
type Server struct {
	config   Config
	portal   config.Portal
	mux      *http.ServeMux
	humaAPI  huma.API
	db       *sql.DB
	ctrl     *core.Controller
	surface  *mapsse.Surface
	verifier *core.Verifier
	registry *store.Registry
	log      zerolog.Logger
	cancel   context.CancelFunc
}

// New creates a portal server.
func New(cfg Config, portal config.Portal, log zerolog.Logger) (*Server, error) {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("geoportal API", "1.0.0")
	humaConfig.Info.Description = "GIS portal API for managing regions of interest and their derived raster overlays."
	humaConfig.Servers = []*huma.Server{
		{URL: fmt.Sprintf("http://%s:%s", cfg.Host, cfg.Port), Description: "Local server"},
	}
	humaConfig.Transformers = append(humaConfig.Transformers, api.LinkTransformer())

	humaAPI := humago.New(mux, humaConfig)

	conn, err := db.Get(db.Config{DataDir: cfg.DataDir, DBName: "portal"})
	if err != nil {
		return nil, fmt.Errorf("opening portal database: %w", err)
	}

	surface := mapsse.NewSurface(log)
	ctrl := core.NewController(core.ControllerConfig{
		Surface:    surface,
		Logger:     log,
		RetryDelay: portal.RetryDelay(),
	})
	verifier := core.NewVerifier(ctrl)
	verifier.EnableRepair()

	cat, err := catalog.NewService(conn, portal.RasterRoot, log)
	if err != nil {
		return nil, fmt.Errorf("initializing raster catalog: %w", err)
	}
	registry, err := store.NewRegistry(conn, log)
	if err != nil {
		return nil, fmt.Errorf("initializing registry store: %w", err)
	}

	s := &Server{
		config:   cfg,
		portal:   portal,
		mux:      mux,
		humaAPI:  humaAPI,
		db:       conn,
		ctrl:     ctrl,
		surface:  surface,
		verifier: verifier,
		registry: registry,
		log:      log,
	}

	s.installBaseAOI()
	if err := registry.Replay(ctrl); err != nil {
		log.Warn().Err(err).Msg("registry replay failed, starting empty")
	}
	if portal.RasterRoot != "" {
		if _, err := cat.Refresh(); err != nil {
			log.Warn().Err(err).Msg("raster discovery failed, catalog may be stale")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go registry.Run(ctx, ctrl)

	s.routes(cat)
	return s, nil
}

// installBaseAOI registers the permanent locked base region from the
// configured GeoJSON file.
func (s *Server) installBaseAOI() {
	if s.portal.BaseAOIPath == "" {
		return
	}
	geom, _, err := geo.LoadBaseAOI(s.portal.BaseAOIPath)
	if err != nil {
		s.log.Warn().Err(err).Msg("base AOI unavailable")
		return
	}
	if _, err := s.ctrl.UpsertRegion(geo.BaseRegionID, geom, core.KindBase); err != nil {
		s.log.Error().Err(err).Msg("installing base AOI failed")
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the generated OpenAPI spec.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// Controller exposes the registry controller, mainly for tests.
func (s *Server) Controller() *core.Controller {
	return s.ctrl
}

// Close stops the persistence subscriber and closes server resources.
func (s *Server) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return db.Close()
}

func (s *Server) routes(cat *catalog.Service) {
	services := &api.Services{
		Ctrl:     s.ctrl,
		Verifier: s.verifier,
		Catalog:  cat,
		Clipper:  raster.NewHTTPClipper(s.portal.ClipServiceURL, s.log),
	}
	api.NewAPIHandler(services).RegisterRoutes(s.humaAPI)
	api.NewInfoHandler(s.config.DataDir, s.db != nil).RegisterRoutes(s.humaAPI)
	api.NewDBHandler(s.db).RegisterRoutes(s.humaAPI)
	mapsse.NewEventHandler(s.surface).RegisterRoutes(s.humaAPI)

	// Static files and the viewer page
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
		s.mux.HandleFunc("/viewer", s.handleViewer)
	}
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "geoportal",
		"status":  "running",
	})
}

func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	templatePath := filepath.Join(s.config.WebDir, "templates", "viewer.html")
	http.ServeFile(w, r, templatePath)
}
