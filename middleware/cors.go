package middleware

import "net/http"

// CORSMiddleware lets annotator clients embedded in any page reach the
// store. Preflight requests are answered without reaching next.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Expose-Headers", "Content-Length, Content-Type, Location")

		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Headers", "Content-Length, Content-Type, "+TokenHeader+", X-Requested-With, Authorization")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
