package util

import (
	"net/http"
	"strings"
)

// SecurityHeaders sets API-safe response headers. Origins listed in
// frameAncestors may embed responses, which lets the reader UI show the
// stored PDF in an iframe; with none, framing is denied outright.
func SecurityHeaders(frameAncestors []string) func(http.Handler) http.Handler {
	ancestors := make([]string, 0, len(frameAncestors))
	for _, origin := range frameAncestors {
		origin = strings.TrimSpace(origin)
		if origin != "" && origin != "*" {
			ancestors = append(ancestors, origin)
		}
	}
	csp := "default-src 'none'; frame-ancestors 'none'; base-uri 'none'"
	frameOptions := "DENY"
	if len(ancestors) > 0 {
		csp = "default-src 'none'; frame-ancestors 'self' " + strings.Join(ancestors, " ") + "; base-uri 'none'"
		frameOptions = ""
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			if frameOptions != "" {
				h.Set("X-Frame-Options", frameOptions)
			}
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "geolocation=(), camera=(), microphone=()")
			h.Set("Content-Security-Policy", csp)

			// HSTS only over HTTPS, direct or forwarded.
			if r.TLS != nil || strings.EqualFold(strings.TrimSpace(r.Header.Get("X-Forwarded-Proto")), "https") {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}
