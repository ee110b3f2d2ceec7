package auth

import (
	"net/http"
	"strings"
)

// BearerFromRequest extracts the bearer credential from an HTTP request.
// Both "Bearer <token>" and "Token <token>" Authorization schemes are
// accepted; browser websocket clients cannot set headers, so a "token"
// query parameter is honored as a fallback.
func BearerFromRequest(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw != "" {
		parts := strings.Fields(raw)
		switch {
		case len(parts) == 2:
			scheme := strings.ToLower(parts[0])
			if scheme == "bearer" || scheme == "token" {
				return parts[1]
			}
		case len(parts) == 1:
			return parts[0]
		}
		return ""
	}

	return strings.TrimSpace(r.URL.Query().Get("token"))
}
