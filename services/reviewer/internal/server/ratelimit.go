package server

import (
	"math"
	"net/http"
	"strconv"

	"examreviewer/internal/util"
)

// limited applies the per-client budget to model-backed routes. A limiter
// outage lets requests through.
func (s *Server) limited(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil || r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		ip := util.ClientIP(r, s.trusted)
		decision, err := s.limiter.Allow(r.Context(), "llm:"+ip)
		if err != nil {
			util.LoggerFromContext(r.Context()).Warn("rate limiter unavailable", "client_ip", ip, "err", err)
			next(w, r)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	})
}
