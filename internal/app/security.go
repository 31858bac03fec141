package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"etesti/internal/app/apiresp"

	"github.com/redis/go-redis/v9"
)

const csrfCookieName = "etesti_csrf"
const csrfHeaderName = "X-CSRF-Token"

// Limiter decides whether another request for key fits the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type rateBucket struct {
	Count      int
	WindowEnds time.Time
}

type IPRateLimiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	store  map[string]rateBucket
	sweep  time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:    max,
		window: window,
		store:  make(map[string]rateBucket),
	}
}

func (l *IPRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.sweep) {
		for k, b := range l.store {
			if now.After(b.WindowEnds) {
				delete(l.store, k)
			}
		}
		l.sweep = now.Add(l.window)
	}

	b := l.store[key]
	if now.After(b.WindowEnds) {
		b = rateBucket{Count: 0, WindowEnds: now.Add(l.window)}
	}
	if b.Count >= l.max {
		l.store[key] = b
		return false, nil
	}
	b.Count++
	l.store[key] = b
	return true, nil
}

// RedisRateLimiter is a fixed window shared by every instance behind the
// same Redis.
type RedisRateLimiter struct {
	client *redis.Client
	max    int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, prefix string, max int, window time.Duration) *RedisRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisRateLimiter{client: client, max: max, window: window, prefix: prefix}
}

func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(l.window)
	k := l.prefix + ":" + key + ":" + strconv.FormatInt(slot, 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("redis rate limit: %w", err)
	}
	return incr.Val() <= int64(l.max), nil
}

// OpenRedis parses a redis:// URL and pings the server.
func OpenRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// RateLimitMiddleware keys requests by client IP within scope. Limiter
// errors let the request through.
func RateLimitMiddleware(l Limiter, scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + "|" + clientIP(r)
			ok, err := l.Allow(r.Context(), key)
			if err != nil {
				log.Printf("rate limiter: %v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "Too many requests, please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CSRFMiddleware(enforced bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enforced {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			c, err := r.Cookie(csrfCookieName)
			if err != nil || strings.TrimSpace(c.Value) == "" {
				apiresp.WriteError(w, r, http.StatusForbidden, "csrf token missing")
				return
			}
			h := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if h == "" || h != c.Value {
				apiresp.WriteError(w, r, http.StatusForbidden, "csrf token invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORSMiddleware allows the comma separated origins, or any origin for "*".
func CORSMiddleware(origins string) func(http.Handler) http.Handler {
	allowed := map[string]bool{}
	anyOrigin := false
	for _, o := range strings.Split(origins, ",") {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			anyOrigin = true
		}
		if o != "" {
			allowed[o] = true
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (anyOrigin || allowed[origin]) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
				if r.Method == http.MethodOptions {
					h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
					h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-CSRF-Token, X-Request-Id")
					h.Set("Access-Control-Max-Age", "600")
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// BodyLimitMiddleware rejects declared oversize bodies with 413 and caps
// the rest while they are read.
func BodyLimitMiddleware(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limit > 0 && r.Body != nil {
				if r.ContentLength > limit {
					apiresp.WriteError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
