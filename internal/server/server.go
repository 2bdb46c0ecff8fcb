package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantumportal/quantumportal/internal/assets"
	"github.com/quantumportal/quantumportal/internal/cache"
	"github.com/quantumportal/quantumportal/internal/config"
	"github.com/quantumportal/quantumportal/internal/contact"
	"github.com/quantumportal/quantumportal/internal/content"
	"github.com/quantumportal/quantumportal/internal/logging"
	"github.com/quantumportal/quantumportal/internal/metrics"
	"github.com/quantumportal/quantumportal/internal/session"
)

// sessionCookie carries the visitor's session id.
const sessionCookie = "qp_session"

// Options configure a Server. Config, Content and Sessions are required.
type Options struct {
	Config   *config.Config
	Content  *content.Live
	Sessions *session.Manager

	// Contact handles the contact form. When nil the form endpoints
	// answer 503.
	Contact *contact.Service

	// Metrics is served at /metrics when metrics are enabled.
	Metrics *metrics.Metrics

	Logger *zap.Logger
}

// Server is the portal's HTTP and WebSocket host.
type Server struct {
	cfg      *config.Config
	content  *content.Live
	sessions *session.Manager
	contact  *contact.Service
	metrics  *metrics.Metrics
	log      *zap.Logger

	templates    *template.Template
	pages        *cache.PageCache
	assetVersion string
	upgrader     websocket.Upgrader
	handler      http.Handler

	stopRateLimit context.CancelFunc
	rateLimitDone <-chan struct{}

	connMu      sync.RWMutex
	connections map[*wsConn]struct{}

	watcher   *Watcher
	closeOnce sync.Once
}

// New creates a server and builds its routes.
func New(opts Options) (*Server, error) {
	if opts.Config == nil {
		return nil, errors.New("server: config is required")
	}
	if opts.Content == nil {
		return nil, errors.New("server: content is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("server: session manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	tmpl, err := assets.Templates(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	version, err := computeAssetVersion()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          opts.Config,
		content:      opts.Content,
		sessions:     opts.Sessions,
		contact:      opts.Contact,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		templates:    tmpl,
		pages:        cache.NewPageCache(10 * time.Minute),
		assetVersion: version,
		connections:  make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.content.OnReload(func(*content.Catalog) {
		s.pages.InvalidateAll()
		s.BroadcastReload()
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.stopRateLimit = cancel
	s.handler = s.buildHandler(ctx)
	return s, nil
}

// computeAssetVersion fingerprints the client files for cache busting.
func computeAssetVersion() (string, error) {
	js, err := assets.GetClientJS()
	if err != nil {
		return "", fmt.Errorf("failed to read client script: %w", err)
	}
	css, err := assets.GetClientCSS()
	if err != nil {
		return "", fmt.Errorf("failed to read stylesheet: %w", err)
	}
	h := sha256.New()
	h.Write(js)
	h.Write(css)
	return hex.EncodeToString(h.Sum(nil))[:12], nil
}

func (s *Server) buildHandler(ctx context.Context) http.Handler {
	srv := s.cfg.Server
	r := mux.NewRouter()

	r.HandleFunc("/", s.handleHome).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/{lang:pl|en|fi}", s.handleLanguage).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/privacy", s.handlePrivacy).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/robots.txt", s.handleRobots).Methods(http.MethodGet)
	r.HandleFunc("/sitemap.xml", s.handleSitemap).Methods(http.MethodGet)
	r.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", assetHandler()))
	if s.metrics != nil && s.cfg.Metrics.IsEnabled() {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}

	limit, done := RateLimitMiddleware(ctx, logging.Named(s.log, logging.HTTP),
		srv.GetRateLimitRPS(), srv.GetRateLimitBurst(), srv.GetRateLimitMaxIPs())
	s.rateLimitDone = done

	api := r.PathPrefix("/api").Subrouter()
	api.Use(limit)
	s.registerAPI(api)

	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	api.MethodNotAllowedHandler = r.MethodNotAllowedHandler

	var h http.Handler = r
	if srv.IsCompressionEnabled() {
		h = WithCompression(h)
	}
	h = CORSMiddleware(srv.CORSOrigins, s.cfg.Admin.GetHeaderName())(h)
	h = SecurityHeadersMiddleware()(h)
	h = handlers.CustomLoggingHandler(io.Discard, h, s.accessLog)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logging.StdLog(logging.Named(s.log, logging.HTTP))),
		handlers.PrintRecoveryStack(srv.Debug),
	)(h)
	return h
}

// accessLog writes one structured line per request.
func (s *Server) accessLog(_ io.Writer, p handlers.LogFormatterParams) {
	fields := []zap.Field{
		zap.String("method", p.Request.Method),
		zap.String("path", p.URL.Path),
		zap.Int("status", p.StatusCode),
		zap.Int("size", p.Size),
		zap.Duration("duration", time.Since(p.TimeStamp)),
		zap.String("remote", getClientIP(p.Request)),
	}
	log := logging.Named(s.log, logging.HTTP)
	switch {
	case p.StatusCode >= 500:
		log.Error("request", fields...)
	case p.URL.Path == "/healthz" || p.URL.Path == "/metrics":
		log.Debug("request", fields...)
	default:
		log.Info("request", fields...)
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// checkOrigin accepts same-host WebSocket upgrades and configured CORS
// origins. Requests without an Origin header come from non-browser clients.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.Server.CORSOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// resolveSession returns the visitor's session, creating one when the cookie
// is missing or stale. The returned cookie is non-nil for new sessions and
// must be sent to the client.
func (s *Server) resolveSession(r *http.Request) (*session.Session, *http.Cookie, error) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, created, err := s.sessions.GetOrCreate(id)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		return sess, nil, nil
	}
	return sess, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		MaxAge:   int(s.cfg.Session.GetIdleTTL() / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	}, nil
}

// session resolves the visitor's session and sets the cookie on w.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	sess, cookie, err := s.resolveSession(r)
	if err != nil {
		return nil, err
	}
	if cookie != nil {
		http.SetCookie(w, cookie)
	}
	return sess, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	http.NotFound(w, r)
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
}

// EnableWatch reloads content when files in the content directory change.
func (s *Server) EnableWatch() error {
	dir := s.content.Dir()
	if dir == "" {
		return errors.New("content.dir is not set, nothing to watch")
	}
	log := logging.Named(s.log, logging.Watch)
	watcher, err := NewWatcher(dir, func(string) error {
		return s.content.Reload()
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()
	log.Info("content watcher started", zap.String("dir", dir))
	return nil
}

// Close stops the watcher and the rate limiter, drops the page cache and
// disconnects every WebSocket client. Sessions are left to their manager.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			err = s.watcher.Stop()
		}
		s.stopRateLimit()
		<-s.rateLimitDone
		s.pages.Stop()

		s.connMu.RLock()
		conns := make([]*wsConn, 0, len(s.connections))
		for c := range s.connections {
			conns = append(conns, c)
		}
		s.connMu.RUnlock()
		for _, c := range conns {
			c.close()
		}
	})
	return err
}
