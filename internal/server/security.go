// security.go - Response security headers.
package server

import "net/http"

// securityHeadersMiddleware adds security headers to all responses.
// Page images are embedded by the reader front end on other origins, so
// the asset routes relax Cross-Origin-Resource-Policy.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// Prevent clickjacking
		h.Set("X-Frame-Options", "DENY")
		// Prevent MIME sniffing
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "no-referrer")

		h.Set("Content-Security-Policy", "default-src 'none'; img-src 'self' data:; frame-ancestors 'none'")
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")

		if len(r.URL.Path) >= len(assetPrefix) && r.URL.Path[:len(assetPrefix)] == assetPrefix {
			h.Set("Cross-Origin-Resource-Policy", "cross-origin")
		} else {
			h.Set("Cross-Origin-Resource-Policy", "same-origin")
		}

		next.ServeHTTP(w, r)
	})
}
