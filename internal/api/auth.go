package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// CallerHeader carries the id of the end user on whose behalf the
// transport is calling.
const CallerHeader = "X-Caller-ID"

type callerKey struct{}

func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) || subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireCaller rejects requests without a caller id and stores it in the
// request context.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := strings.TrimSpace(r.Header.Get(CallerHeader))
		if caller == "" {
			httpError(w, http.StatusUnauthorized, "authentication_error", "missing %s header", CallerHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
	})
}

func callerFrom(r *http.Request) string {
	c, _ := r.Context().Value(callerKey{}).(string)
	return c
}
