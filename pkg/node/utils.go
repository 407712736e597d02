package node

import (
	"net"
	"strings"
)

// DefaultPort is the UDP port peers listen on when an address has none.
const DefaultPort = "9000"

// NormalizeHostPort cuts a udp:// prefix from the input address and adds a
// default port.
func NormalizeHostPort(addr, defPort string) string {
	if rest, ok := strings.CutPrefix(addr, "udp://"); ok {
		addr = rest
	}

	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}

	return net.JoinHostPort(addr, defPort)
}
