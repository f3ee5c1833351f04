package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"mailflow/internal/pkg/errors"
)

// CronAuthMiddleware guards the /cron endpoints with the internal shared
// secret, supplied either as x-cron-secret or a bearer token.
type CronAuthMiddleware struct {
	internalAPIKey string
}

func NewCronAuthMiddleware(internalAPIKey string) *CronAuthMiddleware {
	return &CronAuthMiddleware{internalAPIKey: internalAPIKey}
}

func (m *CronAuthMiddleware) Handle(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		supplied := r.Header.Get("x-cron-secret")
		if supplied == "" {
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				supplied = strings.TrimPrefix(authHeader, "Bearer ")
			}
		}

		if m.internalAPIKey == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(m.internalAPIKey)) != 1 {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid cron secret", nil)
			return
		}

		next(w, r)
	}
}
