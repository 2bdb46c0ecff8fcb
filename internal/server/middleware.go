package server

import (
	"container/list"
	"context"
	"crypto/subtle"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quantumportal/quantumportal/internal/config"
)

// CORSMiddleware lets the listed origins call the JSON API from other sites.
// With no origins the handler is returned unchanged. adminHeader is accepted
// in preflight requests next to the usual API headers.
func CORSMiddleware(origins []string, adminHeader string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	allowHeaders := []string{"Content-Type", "Authorization", "X-API-Key"}
	if adminHeader != "" {
		allowHeaders = append(allowHeaders, adminHeader)
	}
	return handlers.CORS(
		handlers.AllowedOrigins(origins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodHead, http.MethodPost}),
		handlers.AllowedHeaders(allowHeaders),
		handlers.MaxAge(600),
	)
}

var contentSecurityPolicy = strings.Join([]string{
	"default-src 'self'",
	"script-src 'self'",
	"style-src 'self' 'unsafe-inline'",
	"img-src 'self' data:",
	"font-src 'self' data:",
	// same-origin ws:// and wss:// are covered by 'self'
	"connect-src 'self'",
	"frame-ancestors 'none'",
}, "; ")

// SecurityHeadersMiddleware sets the browser hardening headers on every response.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", contentSecurityPolicy)
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			next.ServeHTTP(w, r)
		})
	}
}

const (
	defaultMaxTrackedIPs = 10000
	limiterIdleTTL       = 10 * time.Minute
	limiterSweepInterval = 5 * time.Minute
	evictionLogInterval  = 30 * time.Second
)

type limiterEntry struct {
	ip       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiters holds one token bucket per client address. The list keeps the
// most recently used entry at the front; when full, the back is dropped.
type ipLimiters struct {
	rps      rate.Limit
	burst    int
	capacity int
	log      *zap.Logger

	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
	evicted  int
	lastWarn time.Time
}

func newIPLimiters(log *zap.Logger, rps float64, burst, capacity int) *ipLimiters {
	if capacity <= 0 {
		capacity = defaultMaxTrackedIPs
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ipLimiters{
		rps:      rate.Limit(rps),
		burst:    burst,
		capacity: capacity,
		log:      log,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

func (l *ipLimiters) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if elem, ok := l.entries[ip]; ok {
		l.lru.MoveToFront(elem)
		e := elem.Value.(*limiterEntry)
		e.lastSeen = now
		return e.limiter.AllowN(now, 1)
	}

	if l.lru.Len() >= l.capacity {
		l.evictOldest(now)
	}
	e := &limiterEntry{ip: ip, limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now}
	l.entries[ip] = l.lru.PushFront(e)
	return e.limiter.AllowN(now, 1)
}

// evictOldest must be called with mu held.
func (l *ipLimiters) evictOldest(now time.Time) {
	back := l.lru.Back()
	if back == nil {
		return
	}
	l.lru.Remove(back)
	delete(l.entries, back.Value.(*limiterEntry).ip)
	l.evicted++
	if now.Sub(l.lastWarn) >= evictionLogInterval {
		l.log.Warn("rate limiter at capacity, evicting least recent clients",
			zap.Int("evicted", l.evicted),
			zap.Int("capacity", l.capacity))
		l.lastWarn = now
		l.evicted = 0
	}
}

// sweep drops entries idle longer than limiterIdleTTL. Recency order is by
// access, so the whole list is scanned.
func (l *ipLimiters) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for elem := l.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if e := elem.Value.(*limiterEntry); now.Sub(e.lastSeen) > limiterIdleTTL {
			l.lru.Remove(elem)
			delete(l.entries, e.ip)
			removed++
		}
		elem = prev
	}
	return removed
}

func (l *ipLimiters) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lru.Len()
}

func (l *ipLimiters) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			if n := l.sweep(now); n > 0 {
				l.log.Debug("rate limiter swept idle clients", zap.Int("removed", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// RateLimitMiddleware applies a per-client token bucket of rps requests per
// second with the given burst, tracking at most maxIPs clients.
//
// The sweep goroutine runs until ctx is cancelled; the returned channel is
// closed once it has exited.
func RateLimitMiddleware(ctx context.Context, log *zap.Logger, rps float64, burst int, maxIPs int) (func(http.Handler) http.Handler, <-chan struct{}) {
	limiters := newIPLimiters(log, rps, burst, maxIPs)
	done := make(chan struct{})
	go limiters.run(ctx, done)

	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.allow(getClientIP(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	return mw, done
}

// getClientIP returns the peer address. Forwarding headers are honoured only
// when the peer is a loopback or private address, i.e. a reverse proxy.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil {
		return host
	}
	if peer.IsLoopback() || peer.IsPrivate() {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	return peer.String()
}

// AuthMiddleware requires the admin API key in the configured header.
// A nil or keyless config answers 404 so admin routes stay hidden until a
// key is set.
func AuthMiddleware(adminCfg *config.AdminConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		apiKey := adminCfg.GetAPIKey()
		headerName := adminCfg.GetHeaderName()
		bearer := http.CanonicalHeaderKey(headerName) == "Authorization"

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				writeJSONError(w, http.StatusNotFound, "not found")
				return
			}
			token := r.Header.Get(headerName)
			if token == "" {
				writeJSONError(w, http.StatusUnauthorized, "authentication required")
				return
			}
			if bearer {
				var ok bool
				if token, ok = strings.CutPrefix(token, "Bearer "); !ok || token == "" {
					writeJSONError(w, http.StatusUnauthorized, "invalid authorization format, expected Bearer token")
					return
				}
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
				writeJSONError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
