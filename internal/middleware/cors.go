// Package middleware provides HTTP middleware shared by the rewards API.
package middleware

import (
	"net/http"
	"strings"
)

// CORS answers preflight requests and stamps the usual cross-origin headers.
// The mobile client is served from a different origin, so the default
// deployment allows everything; a restricted origin list can be configured.
type CORS struct {
	allowedOrigins []string
	allowAll       bool
}

// NewCORS builds the middleware from the configured origin list. A "*" entry
// allows every origin.
func NewCORS(allowedOrigins []string) *CORS {
	c := &CORS{allowedOrigins: allowedOrigins}
	for _, origin := range allowedOrigins {
		if origin == "*" {
			c.allowAll = true
			break
		}
	}
	return c
}

// Handler wraps next with CORS handling. Preflight OPTIONS requests are
// answered here and never reach the API handlers.
func (c *CORS) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		switch {
		case c.allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case c.allowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *CORS) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	for _, allowed := range c.allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
