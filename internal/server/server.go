package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/api"
	"github.com/joeblew999/plat-canopy/internal/api/live"
	"github.com/joeblew999/plat-canopy/internal/apiclient"
	"github.com/joeblew999/plat-canopy/internal/config"
	"github.com/joeblew999/plat-canopy/internal/humastar"
	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/route"
	"github.com/joeblew999/plat-canopy/internal/session"
	"github.com/joeblew999/plat-canopy/internal/store"
	"github.com/joeblew999/plat-canopy/internal/templates"
	"github.com/joeblew999/plat-canopy/internal/tiles"
)

// Config holds the server configuration.
type Config struct {
	Host    string
	Port    string
	DataDir string
	WebDir  string // Path to web/ directory for static files and templates

	// BackendURL is the indicator API root. Empty disables the backend and
	// every proxy answers degraded.
	BackendURL string
	// TileURL is the vector tile server root. Empty serves tiles from the
	// archives in TilesDir.
	TileURL  string
	TilesDir string
	// SharedConfig overrides the embedded shared config.
	SharedConfig string
	// MainMap is initialised at startup; empty defaults to "main".
	MainMap string
	// WatchTemplates reloads fragment overrides from WebDir when they change.
	WatchTemplates bool
	// SessionTTL closes browser views idle for this long; zero means
	// session.DefaultTTL.
	SessionTTL time.Duration

	Logger *zap.Logger
}

// Server is the canopy HTTP server.
type Server struct {
	config   Config
	mux      *http.ServeMux
	humaAPI  huma.API
	logger   *zap.Logger
	maps     *mapview.Coordinator
	sessions *session.Manager
	store    *store.Store
	archives *tiles.Archives
	backend  *api.BackendHandler
	services *api.Services
	renderer *templates.Renderer
	links    *humastar.Links
	cancel   context.CancelFunc
}

// New creates a new canopy server. A database that fails to open is
// logged and the store endpoints answer 503.
func New(cfg Config) (*Server, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MainMap == "" {
		cfg.MainMap = "main"
	}
	mux := http.NewServeMux()
	links := humastar.NewLinks()

	humaConfig := huma.DefaultConfig("plat-canopy API", api.Version)
	humaConfig.Info.Description = "Urban heat and tree plantability map: layers, filters, popups and indicator proxies."
	humaConfig.Servers = []*huma.Server{
		{URL: baseURL(cfg), Description: "Local server"},
	}
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}
	humaConfig.Transformers = append(humaConfig.Transformers, links.Transformer())

	humaAPI := humago.New(mux, humaConfig)

	shared, err := config.Load(cfg.SharedConfig)
	if err != nil {
		return nil, fmt.Errorf("load shared config: %w", err)
	}

	renderer, err := templates.New(fragmentsDir(cfg.WebDir))
	if err != nil {
		return nil, fmt.Errorf("load fragment templates: %w", err)
	}

	var backend *apiclient.Client
	if cfg.BackendURL != "" {
		backend, err = apiclient.New(apiclient.Options{BaseURL: cfg.BackendURL, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("backend client: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		mux:      mux,
		humaAPI:  humaAPI,
		logger:   logger,
		renderer: renderer,
		links:    links,
		cancel:   cancel,
	}
	if dir := fragmentsDir(cfg.WebDir); dir != "" && cfg.WatchTemplates {
		if err := renderer.Watch(ctx, dir, logger); err != nil {
			logger.Warn("fragment templates not watched", zap.Error(err))
		}
	}

	opts := mapview.Options{
		Factory:     mapview.StyleFactory(mapview.StyleOptions{}),
		Renderer:    renderer,
		Logger:      logger,
		TileBaseURL: cfg.TileURL,
	}
	if cfg.TileURL == "" && cfg.TilesDir != "" {
		s.archives = tiles.NewArchives(cfg.TilesDir)
		opts.TileBaseURL = baseURL(cfg)
		opts.Locator = tiles.NewLocator(s.archives, 0, logger)
	} else if cfg.TileURL != "" {
		opts.Locator = tiles.NewLocator(tiles.NewHTTPSource(cfg.TileURL, nil, logger), 0, logger)
	}
	if backend != nil {
		opts.Details = backend
	}
	s.maps = mapview.New(opts)
	if _, err := s.maps.InitMap(cfg.MainMap); err != nil {
		s.maps.Close()
		cancel()
		return nil, fmt.Errorf("init map %q: %w", cfg.MainMap, err)
	}
	s.sessions = session.New(session.Config{
		Options: opts,
		MainMap: cfg.MainMap,
		TTL:     cfg.SessionTTL,
		Logger:  logger,
	})

	st, err := store.Open(context.Background(), store.Config{DataDir: cfg.DataDir}, logger)
	if err != nil {
		logger.Warn("database unavailable", zap.Error(err))
	} else {
		s.store = st
	}

	s.services = &api.Services{
		Maps:     s.maps,
		Backend:  backend,
		Store:    s.store,
		Shared:   shared,
		Archives: s.archives,
		Logger:   logger,
		DataDir:  cfg.DataDir,
	}

	s.routes()
	return s, nil
}

func baseURL(cfg Config) string {
	host := cfg.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%s", host, cfg.Port)
}

// fragmentsDir returns the fragment override directory under webDir, or
// "" for the embedded fragments.
func fragmentsDir(webDir string) string {
	if webDir == "" {
		return ""
	}
	dir := filepath.Join(webDir, "templates", "fragments")
	if _, err := os.Stat(dir); err != nil {
		return ""
	}
	return dir
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// OpenAPI returns the OpenAPI document of the API.
func (s *Server) OpenAPI() *huma.OpenAPI {
	return s.humaAPI.OpenAPI()
}

// RouteInfo is one documented operation.
type RouteInfo struct {
	Method      string
	Path        string
	OperationID string
	Tags        []string
}

// Routes lists the documented operations sorted by path and method.
func (s *Server) Routes() []RouteInfo {
	var out []RouteInfo
	for path, item := range s.OpenAPI().Paths {
		for method, op := range map[string]*huma.Operation{
			http.MethodGet:    item.Get,
			http.MethodPost:   item.Post,
			http.MethodPut:    item.Put,
			http.MethodPatch:  item.Patch,
			http.MethodDelete: item.Delete,
		} {
			if op != nil {
				out = append(out, RouteInfo{Method: method, Path: path, OperationID: op.OperationID, Tags: op.Tags})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Method < out[j].Method
	})
	return out
}

// Preload fetches the backend reference data. It is a no-op without a
// backend.
func (s *Server) Preload(ctx context.Context) error {
	if s.services.Backend == nil {
		return nil
	}
	return s.backend.Preload(ctx)
}

// Close closes server resources.
func (s *Server) Close() error {
	s.cancel()
	s.sessions.Close()
	s.maps.Close()
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.archives != nil {
		errs = append(errs, s.archives.Close())
	}
	return errors.Join(errs...)
}

func (s *Server) routes() {
	// Session views must be attached before any operation is registered
	s.humaAPI.UseMiddleware(s.sessions.Middleware())

	// Register Huma REST API routes (OpenAPI-documented JSON endpoints)
	s.backend = api.RegisterRoutes(s.humaAPI, s.services)

	// Datastar SSE routes: popup fragments, toasts and state signals
	live.New(s.maps, s.renderer, s.logger).RegisterRoutes(s.humaAPI)

	api.AddLinks(s.links)
	s.links.Discover(s.humaAPI)

	if s.archives != nil {
		s.mux.Handle(api.TilePattern, api.TileServer(s.archives, s.logger))
	}

	// Static files
	if s.config.WebDir != "" {
		staticDir := filepath.Join(s.config.WebDir, "static")
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}

	// Page routes: the root and map deep links
	s.mux.HandleFunc("/", s.handleRoot)
}

func (s *Server) indexPage() (string, bool) {
	if s.config.WebDir == "" {
		return "", false
	}
	p := filepath.Join(s.config.WebDir, "templates", "index.html")
	if _, err := os.Stat(p); err != nil {
		return "", false
	}
	return p, true
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.handleMapLink(w, r)
		return
	}
	if _, err := s.sessions.Start(w, r, s.sessions.DefaultView()); err != nil {
		s.logger.Error("start session", zap.Error(err))
		http.Error(w, "map view unavailable", http.StatusInternalServerError)
		return
	}
	if p, ok := s.indexPage(); ok {
		http.ServeFile(w, r, p)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"service": "plat-canopy",
		"status":  "running",
	})
}

// handleMapLink serves the page for a deep link and rebuilds the caller's
// view from it. Bare links are redirected to their canonical form.
func (s *Server) handleMapLink(w http.ResponseWriter, r *http.Request) {
	res, err := route.Parse(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	if res.Redirect {
		http.Redirect(w, r, res.View.Path(), http.StatusFound)
		return
	}
	view := session.View{DataType: res.View.DataType, Center: res.View.Center(), Zoom: res.View.Zoom}
	if _, err := s.sessions.Start(w, r, view); err != nil {
		s.logger.Error("start session", zap.Error(err), zap.String("path", r.URL.Path))
		http.Error(w, "map view unavailable", http.StatusInternalServerError)
		return
	}
	if p, ok := s.indexPage(); ok {
		http.ServeFile(w, r, p)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"view": res.View,
		"path": res.View.Path(),
	})
}
