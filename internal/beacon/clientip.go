package beacon

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the best-effort client address. The first X-Forwarded-For
// hop is trusted as-is: the edge proxy is expected to prepend the real client
// address. This is attribution, not authentication.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
