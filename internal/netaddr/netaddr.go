// Package netaddr normalizes the address forms game servers and clients
// present: bare IPv4/IPv6 literals, ip:port, and [ipv6]:port.
package netaddr

import (
	"net"
	"strconv"
	"strings"
)

// Pair holds the IPv4 and IPv6 forms recorded for a peer. At most one side
// is set for a given literal; a peer row may carry both from separate
// observations.
type Pair struct {
	V4 string
	V6 string
}

// Parse classifies an address literal into a Pair. A trailing :port (or
// [v6]:port bracket form) is tolerated and ignored. Unparseable input
// yields the zero Pair.
func Parse(s string) Pair {
	host, _ := SplitPort(s)
	ip := net.ParseIP(host)
	if ip == nil {
		return Pair{}
	}
	if v4 := ip.To4(); v4 != nil {
		return Pair{V4: v4.String()}
	}
	return Pair{V6: ip.String()}
}

// SplitPort splits host:port and [host]:port forms. Port is 0 when absent
// or invalid.
func SplitPort(s string) (string, int) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return strings.Trim(s, "[]"), 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		port = 0
	}
	return host, port
}

// Matches reports whether q matches p on either address family. A family
// only counts when both sides have it recorded.
func (p Pair) Matches(q Pair) bool {
	if p.V4 != "" && p.V4 == q.V4 {
		return true
	}
	if p.V6 != "" && p.V6 == q.V6 {
		return true
	}
	return false
}

func (p Pair) IsZero() bool {
	return p.V4 == "" && p.V6 == ""
}

func (p Pair) String() string {
	if p.V4 != "" {
		return p.V4
	}
	return p.V6
}
