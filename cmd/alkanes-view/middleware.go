package main

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logrus.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path}).Debug("view request")
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware throttles the whole server to one shared token bucket,
// matching the teacher's single package-level VM opcode limiter rather than
// a per-client bucket, since a view server has no per-caller identity to key
// on without introducing auth this spec does not ask for.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
