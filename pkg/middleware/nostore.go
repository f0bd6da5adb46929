package middleware

import "net/http"

// NoStore marks responses as private and uncacheable. Mounted on routes
// that return personal data such as addresses and profiles.
func NoStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store, private")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}
