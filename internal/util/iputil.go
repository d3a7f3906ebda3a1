package util

import (
	"fmt"
	"net"
)

// NormalizeIP validates the textual address and returns its canonical form
// plus the binary representation persisted alongside the text.
func NormalizeIP(raw string) (string, []byte, error) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", nil, fmt.Errorf("invalid ip address: %q", raw)
	}
	if v4 := ip.To4(); v4 != nil {
		return v4.String(), v4, nil
	}
	return ip.String(), ip.To16(), nil
}

// NetworkOf returns the containing /24 (or /64 for IPv6) in CIDR notation.
// Trust aggregation and lookup both key networks this way.
func NetworkOf(raw string) (string, error) {
	ip := net.ParseIP(raw)
	if ip == nil {
		return "", fmt.Errorf("invalid ip address: %q", raw)
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return fmt.Sprintf("%s/24", masked.String()), nil
	}
	masked := ip.Mask(net.CIDRMask(64, 128))
	return fmt.Sprintf("%s/64", masked.String()), nil
}
