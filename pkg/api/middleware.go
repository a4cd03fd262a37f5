package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/seidata/curator/pkg/auth"
	"github.com/seidata/curator/pkg/types"
)

type contextKey string

const userContextKey contextKey = "curator-user"

// userFrom returns the authenticated user stored on the request
// context.
func userFrom(r *http.Request) *types.User {
	user, _ := r.Context().Value(userContextKey).(*types.User)
	return user
}

// sessionRequired resolves the session cookie to a user and rejects
// unauthenticated requests.
func (s *Server) sessionRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if cookie, err := r.Cookie(sessionCookie); err == nil {
			token = cookie.Value
		}

		user, err := s.auth.UserForToken(token)
		if err != nil {
			if errors.Is(err, auth.ErrUnauthenticated) {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminRequired rejects non-administrators.
func (s *Server) adminRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := userFrom(r)
		if user == nil || user.Role != types.RoleAdmin {
			http.Error(w, "administrator role required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("client", clientIP(r)).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}

// ipLimiter holds one token bucket per client IP for the upload
// endpoint.
type ipLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) limiter(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[ip]
	if !ok {
		// Uploads are heavyweight; a burst of a few per client is plenty.
		limiter = rate.NewLimiter(rate.Every(time.Second), 5)
		l.limiters[ip] = limiter
	}
	return limiter
}

// rateLimited throttles a handler per client IP.
func (s *Server) rateLimited(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.limiter(clientIP(r)).Allow() {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the originating client address, honoring proxy
// headers.
func clientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
