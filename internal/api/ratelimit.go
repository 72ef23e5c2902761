package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/jonidaniel/jobsai/internal/ratelimit"
)

// rateLimitMiddleware admits or rejects by client identity and always reports
// the window through X-RateLimit-* headers.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.deps.Limiter.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		identity := ratelimit.ClientIdentity(r)
		decision, err := s.deps.Limiter.Allow(r.Context(), identity)
		if err != nil {
			s.logger.Warn("rate limit check degraded", zap.String("identity", identity), zap.Error(err))
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(math.Ceil(time.Until(decision.ResetAt).Seconds()))
			h.Set("Retry-After", strconv.Itoa(max(1, retryAfter)))
			s.logger.Warn("rate limit exceeded",
				zap.String("identity", identity),
				zap.Time("reset_at", decision.ResetAt),
			)
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":    "too_many_requests",
				"detail":   "Rate limit exceeded. Please try again later.",
				"reset_at": decision.ResetAt.Unix(),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
