// ABOUTME: HTTP middleware for correlation IDs, request timing and rate limiting
// ABOUTME: Mirrors the request pipeline order: correlate, time, limit, authenticate

package gateway

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/uptotrial/chat-gateway/internal/ratelimit"
)

// correlationHeader carries the client-chosen request identifier.
const correlationHeader = "X-Correlation-ID"

// correlationKey is the context key for the request's correlation ID.
type correlationKey struct{}

// correlationID returns the request's correlation ID, or "" outside the
// middleware chain.
func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// exemptPath reports whether a path skips correlation-ID and rate-limit
// enforcement.
func exemptPath(path string) bool {
	return path == "/health" || path == "/" || path == "/favicon.ico"
}

// correlationMiddleware requires a valid UUID correlation ID on API
// paths, generates one for exempt paths, and echoes it back on the
// response.
func (g *Gateway) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPath(r.URL.Path) {
			id := uuid.New().String()
			w.Header().Set(correlationHeader, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
			return
		}

		id := r.Header.Get(correlationHeader)
		if id == "" {
			g.logger.Warn("missing correlation ID", "path", r.URL.Path)
			sendJSONError(w, http.StatusBadRequest, correlationHeader+" header is required")
			return
		}
		if _, err := uuid.Parse(id); err != nil {
			g.logger.Warn("invalid correlation ID", "correlation_id", id)
			sendJSONError(w, http.StatusBadRequest, correlationHeader+" must be a valid UUID")
			return
		}

		w.Header().Set(correlationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

// timingWriter stamps X-Process-Time just before the first byte of the
// response goes out.
type timingWriter struct {
	http.ResponseWriter
	start       time.Time
	wroteHeader bool
}

func (t *timingWriter) WriteHeader(code int) {
	if !t.wroteHeader {
		t.wroteHeader = true
		t.Header().Set("X-Process-Time", strconv.FormatFloat(time.Since(t.start).Seconds(), 'f', -1, 64))
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *timingWriter) Write(b []byte) (int, error) {
	if !t.wroteHeader {
		t.WriteHeader(http.StatusOK)
	}
	return t.ResponseWriter.Write(b)
}

// Flush passes through so streaming handlers still see an http.Flusher.
func (t *timingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// timingMiddleware records request processing time on every response.
func timingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&timingWriter{ResponseWriter: w, start: time.Now()}, r)
	})
}

// rateLimitMiddleware applies two fixed-window tiers: a global limit
// keyed by client IP and a tighter limit keyed by correlation ID.
func (g *Gateway) rateLimitMiddleware(global, perCorrelation *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			ip := clientIP(r)
			if allowed, retryAfter := global.Allow(ip); !allowed {
				g.logger.Warn("global rate limit exceeded", "ip", ip)
				sendRateLimited(w, retryAfter, "Global rate limit exceeded")
				return
			}

			if id := correlationID(r.Context()); id != "" {
				if allowed, retryAfter := perCorrelation.Allow(id); !allowed {
					g.logger.Warn("correlation ID rate limit exceeded", "correlation_id", id)
					sendRateLimited(w, retryAfter, "Correlation ID rate limit exceeded")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func sendRateLimited(w http.ResponseWriter, retryAfter time.Duration, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
	sendJSONError(w, http.StatusTooManyRequests, message)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"detail":%q}`, message)
}
