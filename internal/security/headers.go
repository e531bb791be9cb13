package security

import "net/http"

// apiHeaders are set on every local API response. Bodies carry live cart and
// payment state and are never rendered as documents.
var apiHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
}

// Headers toggles the response hardening headers.
type Headers struct {
	Enable bool
}

// Middleware writes the headers before the handler runs so handlers may
// still override them.
func (h Headers) Middleware(next http.Handler) http.Handler {
	if !h.Enable {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dst := w.Header()
		for _, kv := range apiHeaders {
			dst.Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}
