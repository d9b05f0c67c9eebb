// Package session gives every browser its own map view. A view is built when
// a page loads, rebuilt on the next page load, and closed once it has been
// idle for the session TTL.
package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-canopy/internal/mapview"
	"github.com/joeblew999/plat-canopy/internal/service"
)

// CookieName is the cookie carrying the session id.
const CookieName = "canopy_session"

const (
	DefaultTTL         = 30 * time.Minute
	DefaultMaxSessions = 1024
)

// View is the initial state of a session's map.
type View struct {
	DataType service.DataType
	Center   service.Coordinates
	Zoom     float64
}

// Config configures a Manager.
type Config struct {
	// Options is the template of every session coordinator. Its registries,
	// bus and toast queue are ignored so sessions share nothing.
	Options mapview.Options
	// MainMap is the widget created in every view; empty means "main".
	MainMap string
	// Default is the view of a plain page load.
	Default     View
	TTL         time.Duration
	MaxSessions int
	Logger      *zap.Logger
}

// Manager holds the per-session coordinators. The least recently used
// session is closed when MaxSessions is reached.
type Manager struct {
	cfg    Config
	logger *zap.Logger

	// mu orders replacements against lookups; the cache has its own lock.
	mu    sync.Mutex
	views *expirable.LRU[string, *mapview.Coordinator]
}

// New creates a session manager.
func New(cfg Config) *Manager {
	if cfg.MainMap == "" {
		cfg.MainMap = "main"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.Default.DataType == "" {
		cfg.Default.DataType = service.Plantability
	}
	if cfg.Default.Center == (service.Coordinates{}) {
		cfg.Default.Center = mapview.DefaultCenter
	}
	if cfg.Default.Zoom == 0 {
		cfg.Default.Zoom = mapview.DefaultZoom
	}
	cfg.Options.Layers = nil
	cfg.Options.Filters = nil
	cfg.Options.Bus = nil
	cfg.Options.Toasts = nil

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{cfg: cfg, logger: logger.Named("session")}
	m.views = expirable.NewLRU(cfg.MaxSessions, m.evicted, cfg.TTL)
	return m
}

// evicted runs under the cache lock and must not call back into the cache.
func (m *Manager) evicted(id string, c *mapview.Coordinator) {
	c.Close()
	m.logger.Debug("session closed", zap.String("session", id))
}

// DefaultView returns the view of a plain page load.
func (m *Manager) DefaultView() View { return m.cfg.Default }

// Load builds a fresh view for session id from v and replaces whatever
// view the session had.
func (m *Manager) Load(id string, v View) (*mapview.Coordinator, error) {
	opts := m.cfg.Options
	opts.Center = v.Center
	opts.Zoom = v.Zoom
	c := mapview.New(opts)
	if _, err := c.InitMap(m.cfg.MainMap); err != nil {
		c.Close()
		return nil, fmt.Errorf("init map %q: %w", m.cfg.MainMap, err)
	}
	if v.DataType != "" {
		if err := c.ChangeDataType(v.DataType); err != nil {
			c.Close()
			return nil, err
		}
	}

	m.mu.Lock()
	replaced := m.views.Remove(id)
	m.views.Add(id, c)
	m.mu.Unlock()
	m.logger.Debug("session loaded", zap.String("session", id),
		zap.String("dataType", string(v.DataType)), zap.Bool("replaced", replaced))
	return c, nil
}

// Get returns the view of session id and restarts its idle timer.
func (m *Manager) Get(id string) (*mapview.Coordinator, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.views.Get(id)
	if ok {
		m.views.Add(id, c)
	}
	return c, ok
}

// Len reports the number of live sessions.
func (m *Manager) Len() int { return m.views.Len() }

// Close closes every session view.
func (m *Manager) Close() {
	m.views.Purge()
}

// Start rebuilds the caller's view from v, issuing a session cookie to
// callers that have none.
func (m *Manager) Start(w http.ResponseWriter, r *http.Request, v View) (*mapview.Coordinator, error) {
	id := ""
	if ck, err := r.Cookie(CookieName); err == nil && validID(ck.Value) {
		id = ck.Value
	}
	if id == "" {
		id = uuid.NewString()
	}
	c, err := m.Load(id, v)
	if err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c, nil
}

// Middleware attaches the caller's view to the request context. Requests
// without a session cookie keep the server's default view; a cookie whose
// session has expired gets a fresh default view.
func (m *Manager) Middleware() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		id := cookieValue(ctx.Header("Cookie"))
		if id == "" {
			next(ctx)
			return
		}
		c, ok := m.Get(id)
		if !ok {
			var err error
			if c, err = m.Load(id, m.cfg.Default); err != nil {
				m.logger.Warn("session not restored", zap.String("session", id), zap.Error(err))
				next(ctx)
				return
			}
		}
		next(huma.WithValue(ctx, ctxKey{}, c))
	}
}

type ctxKey struct{}

// WithView returns a context carrying c as the caller's view.
func WithView(ctx context.Context, c *mapview.Coordinator) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller's view, if the request has a session.
func FromContext(ctx context.Context) (*mapview.Coordinator, bool) {
	c, ok := ctx.Value(ctxKey{}).(*mapview.Coordinator)
	return c, ok && c != nil
}

func cookieValue(header string) string {
	if header == "" {
		return ""
	}
	cookies, err := http.ParseCookie(header)
	if err != nil {
		return ""
	}
	for _, ck := range cookies {
		if ck.Name == CookieName && validID(ck.Value) {
			return ck.Value
		}
	}
	return ""
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
