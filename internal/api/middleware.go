package api

import (
	"math"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"igharvest/pkg/logger"
)

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// recoverer answers a panicking handler with a generic 500.
func recoverer(log logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					log.ErrorWithFields("Panic recovered", map[string]interface{}{
						"panic":  rec,
						"method": r.Method,
						"path":   r.URL.Path,
						"stack":  string(debug.Stack()),
					})
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs every request and records it under its route pattern.
func requestLogger(log logger.Logger, rec Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			route := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				route = rctx.RoutePattern()
			}
			logger.LogRequest(log, r.Method, r.URL.Path, sr.statusCode, duration)
			rec.RecordHTTPRequest(r.Method, route, sr.statusCode, duration)
		})
	}
}

type clientLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// loginLimiter throttles login attempts per client address.
type loginLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu      sync.Mutex
	clients map[string]*clientLimiter
	swept   time.Time
}

func newLoginLimiter(perMinute, burst int) *loginLimiter {
	if burst < 1 {
		burst = 1
	}
	return &loginLimiter{
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   burst,
		ttl:     10 * time.Minute,
		clients: make(map[string]*clientLimiter),
		swept:   time.Now(),
	}
}

func (l *loginLimiter) allow(key string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.swept) > l.ttl {
		for k, c := range l.clients {
			if now.Sub(c.lastAccess) > l.ttl {
				delete(l.clients, k)
			}
		}
		l.swept = now
	}

	c, ok := l.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastAccess = now
	return c.limiter.AllowN(now, 1)
}

func (l *loginLimiter) middleware(log logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientAddr(r)
			if !l.allow(client) {
				log.WarnWithFields("Login rate limit exceeded", map[string]interface{}{
					"client": client,
					"path":   r.URL.Path,
				})
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfter()))
				writeError(w, http.StatusTooManyRequests, "too many login attempts, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *loginLimiter) retryAfter() int {
	if l.limit <= 0 {
		return 60
	}
	sec := int(math.Ceil(1.0 / float64(l.limit)))
	if sec < 1 {
		sec = 1
	}
	return sec
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
