package common

import (
	"net"
	"net/http"
	"strings"
)

// TerminalHeader identifies the cashier terminal driving the local API.
const TerminalHeader = "X-Terminal-ID"

// ClientKey identifies the caller for rate limiting: the terminal header when
// present, the remote address otherwise. chi's RealIP middleware has already
// folded forwarding headers into RemoteAddr.
func ClientKey(r *http.Request) string {
	if r == nil {
		return ""
	}
	if id := strings.TrimSpace(r.Header.Get(TerminalHeader)); id != "" {
		return "terminal:" + id
	}
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return "ip:" + addr
}
