package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForWebsocket wraps a compression middleware so websocket
// upgrade requests bypass it. The upgrade needs the raw connection; a
// compressing response writer does not implement http.Hijacker.
func SkipCompressionForWebsocket(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}
