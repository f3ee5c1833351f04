package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	apiContext "mailflow/internal/api/context"
	"mailflow/internal/pkg/errors"
	"mailflow/internal/platform/config"
)

// RateLimiter is a token-bucket limiter keyed by workspace (or client IP when
// no tenant is resolved) and limit class.
type RateLimiter struct {
	store  *sync.Map // map[string]*bucket
	limits map[string]int
}

type bucket struct {
	tokens     int
	lastRefill time.Time
	lastAccess time.Time
	mu         sync.Mutex
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	limits := map[string]int{
		"webhook":   cfg.WebhookPerMinute,
		"api_read":  cfg.APIReadPerMinute,
		"api_write": cfg.APIWritePerMinute,
	}
	for class, limit := range limits {
		if limit <= 0 {
			limits[class] = 100
		}
	}

	rl := &RateLimiter{
		store:  &sync.Map{},
		limits: limits,
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		rl.store.Range(func(key, value interface{}) bool {
			b := value.(*bucket)
			b.mu.Lock()
			if now.Sub(b.lastAccess) > 10*time.Minute {
				rl.store.Delete(key)
			}
			b.mu.Unlock()
			return true
		})
	}
}

func (rl *RateLimiter) Allow(key string, limit int) bool {
	now := time.Now()

	val, _ := rl.store.LoadOrStore(key, &bucket{
		tokens:     limit,
		lastRefill: now,
		lastAccess: now,
	})

	b := val.(*bucket)
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastAccess = now

	// Refill at limit/60 tokens per second
	elapsed := now.Sub(b.lastRefill)
	refillTokens := int(elapsed.Seconds() * float64(limit) / 60.0)
	if refillTokens > 0 {
		b.tokens += refillTokens
		if b.tokens > limit {
			b.tokens = limit
		}
		b.lastRefill = now
	}

	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

func (rl *RateLimiter) Limit(limitType string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			var key string
			if tenant, ok := r.Context().Value(apiContext.Tenant).(*TenantContext); ok && tenant != nil {
				key = fmt.Sprintf("%s:%s", tenant.WorkspaceID, limitType)
			} else if wsID := r.URL.Query().Get("workspace_id"); wsID != "" {
				key = fmt.Sprintf("%s:%s", wsID, limitType)
			} else {
				key = fmt.Sprintf("%s:%s", r.RemoteAddr, limitType)
			}

			limit, ok := rl.limits[limitType]
			if !ok {
				limit = 100
			}

			if !rl.Allow(key, limit) {
				w.Header().Set("Retry-After", "60")
				errors.WriteError(w, http.StatusTooManyRequests, errors.ErrCodeRateLimitExceeded, "Rate limit exceeded", nil)
				return
			}

			next(w, r)
		}
	}
}
