package server

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// adminGate protects mutating endpoints with a bearer token.
type adminGate struct {
	token string
	log   *slog.Logger
}

func newAdminGate(token string, log *slog.Logger) *adminGate {
	if log == nil {
		log = slog.Default()
	}
	if token == "" {
		log.Warn("ADMIN_TOKEN not set - admin endpoints are UNPROTECTED, configure it for production")
	}
	return &adminGate{token: token, log: log}
}

// require wraps next with a bearer check. An empty configured token passes
// everything through (dev mode).
func (g *adminGate) require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if bearer, ok := strings.CutPrefix(auth, "Bearer "); ok {
			if subtle.ConstantTimeCompare([]byte(bearer), []byte(g.token)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		g.log.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("remote_addr", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Bearer realm="emote-tally admin"`)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}

// ipLimiter rate limits admin calls per client IP. Entries idle for over ten
// minutes are swept.
type ipLimiter struct {
	mu      sync.Mutex
	clients map[string]*ipClient
}

type ipClient struct {
	lim  *rate.Limiter
	seen time.Time
}

func newIPLimiter(ctx context.Context) *ipLimiter {
	l := &ipLimiter{clients: make(map[string]*ipClient)}
	go l.sweepLoop(ctx)
	return l
}

// allow admits up to one admin call per second per IP with a small burst.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.clients[ip]
	if !ok {
		c = &ipClient{lim: rate.NewLimiter(rate.Limit(1), 5)}
		l.clients[ip] = c
	}
	c.seen = time.Now()
	return c.lim.Allow()
}

func (l *ipLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			cutoff := time.Now().Add(-10 * time.Minute)
			for ip, c := range l.clients {
				if c.seen.Before(cutoff) {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

func rateLimit(next http.Handler, limiter *ipLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			slog.Warn("admin rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller address, honoring X-Forwarded-For from proxies.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.Index(forwarded, ","); idx >= 0 {
			ip = strings.TrimSpace(forwarded[:idx])
		} else {
			ip = strings.TrimSpace(forwarded)
		}
	}
	if idx := strings.LastIndex(ip, ":"); idx >= 0 {
		ip = ip[:idx]
	}
	return ip
}

// withCORS allows browser overlays to consume the SSE feed. Dev mode (the
// default) is permissive; set ENV=production and CORS_ALLOWED_ORIGINS to
// restrict.
func withCORS(next http.Handler) http.Handler {
	env := strings.ToLower(os.Getenv("ENV"))
	permissive := env == "" || env == "dev" || env == "development"
	allowed := map[string]bool{}
	for _, o := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case permissive:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if w.Header().Get("Access-Control-Allow-Origin") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Correlation-ID")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
