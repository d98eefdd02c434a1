package config

import (
	"net"
	"os"
	"strings"
)

// AllowedNetworks returns CIDR blocks from SMSBRIDGE_ALLOW_NETWORKS. Bare IPs
// become single-host networks. Unparseable entries are skipped.
func AllowedNetworks() []*net.IPNet {
	value := strings.TrimSpace(os.Getenv("SMSBRIDGE_ALLOW_NETWORKS"))
	if value == "" {
		return nil
	}
	var result []*net.IPNet
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "/") {
			if ip := net.ParseIP(part); ip != nil {
				bits := len(ip) * 8
				if v4 := ip.To4(); v4 != nil {
					ip, bits = v4, 32
				}
				result = append(result, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			}
			continue
		}
		if _, network, err := net.ParseCIDR(part); err == nil {
			result = append(result, network)
		}
	}
	return result
}

// AddrAllowed reports whether addr falls inside one of networks. An empty
// allowlist admits everyone.
func AddrAllowed(addr net.Addr, networks []*net.IPNet) bool {
	if len(networks) == 0 {
		return true
	}
	var ip net.IP
	switch a := addr.(type) {
	case *net.TCPAddr:
		ip = a.IP
	case *net.UDPAddr:
		ip = a.IP
	default:
		if addr == nil {
			return false
		}
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			host = addr.String()
		}
		ip = net.ParseIP(host)
	}
	if ip == nil {
		return false
	}
	for _, network := range networks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
