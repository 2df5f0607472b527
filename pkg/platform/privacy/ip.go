// Package privacy holds helpers that strip identifying detail before values reach logs.
package privacy

import "net/netip"

// AnonymizeIP truncates an address to its /24 (IPv4) or /48 (IPv6) network so
// logs keep coarse origin information without the full client address.
// Unparseable input yields "invalid".
func AnonymizeIP(raw string) string {
	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return "invalid"
	}
	bits := 24
	if addr.Is6() && !addr.Is4In6() {
		bits = 48
	}
	prefix, err := addr.Unmap().Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.String()
}
