package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/softcane/spot-optimizer/internal/identity"
)

type contextKey string

const (
	ctxKeyClient    contextKey = "client"
	ctxKeyRequestID contextKey = "request_id"
)

// clientFrom returns the authenticated client stored by authMiddleware.
func clientFrom(ctx context.Context) identity.Client {
	c, _ := ctx.Value(ctxKeyClient).(identity.Client)
	return c
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()[:8]
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		s.logger.Info("request",
			"request_id", r.Context().Value(ctxKeyRequestID),
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapper.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote", r.RemoteAddr)
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware resolves the bearer token and stores the client in
// the request context. Applied to the API subrouter only; health and
// metrics stay open.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		client, err := s.resolver.Resolve(r.Context(), token)
		if err != nil {
			writeError(w, s.logger, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyClient, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(h, "Bearer "); ok {
		return after
	}
	// Agents configured before bearer support send the raw token.
	return r.Header.Get("X-API-Token")
}

// rateLimitMiddleware applies a per-client token bucket. Runs after
// auth so the key is the resolved client, not the remote address.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientFrom(r.Context())
		if !s.limiters.allow(client.ID) {
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterPool holds one token bucket per client. Entries live for the
// process lifetime; the client population is bounded.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[int64]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[int64]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (p *limiterPool) allow(clientID int64) bool {
	p.mu.Lock()
	l, ok := p.limiters[clientID]
	if !ok {
		l = rate.NewLimiter(p.rps, p.burst)
		p.limiters[clientID] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
