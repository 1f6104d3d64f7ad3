package transport

import "net/http"

// withCORS adapts services/gateway-svc/internal/middleware/cors.go's
// origin-matching rule (§4.11: "if `*` not present, Origin is matched
// exactly") to this gateway's simpler, allow-origin-only surface.
func withCORS(allowedOrigins []string, next http.Handler) http.Handler {
	wildcard := false
	for _, o := range allowedOrigins {
		if o == "*" {
			wildcard = true
			break
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			allowed := wildcard
			allowedOrigin := origin
			if wildcard {
				allowedOrigin = "*"
			} else {
				for _, o := range allowedOrigins {
					if o == origin {
						allowed = true
						break
					}
				}
			}
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+clientIDHeader)
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
