// ABOUTME: LAN address resolution for URLs handed to receivers
// ABOUTME: Picks an interface address that other devices on the network can reach
package netutil

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ErrNoReachableAddress is returned when only loopback addresses are available
var ErrNoReachableAddress = errors.New("no LAN-reachable address")

// probeAddr is never contacted; dialing UDP only selects a route
const probeAddr = "8.8.8.8:80"

// Resolver finds the address receivers should use to reach this host
type Resolver struct {
	// PublicHost overrides detection when set
	PublicHost string

	outbound   func() (net.IP, error)
	interfaces func() ([]net.IP, error)
}

// NewResolver creates a resolver using the host's routing table and interfaces
func NewResolver(publicHost string) *Resolver {
	return &Resolver{
		PublicHost: publicHost,
		outbound:   OutboundIPv4,
		interfaces: LocalIPv4s,
	}
}

// Host returns a non-loopback host name or address
func (r *Resolver) Host() (string, error) {
	if r.PublicHost != "" {
		if IsLoopbackHost(r.PublicHost) {
			return "", fmt.Errorf("%w: public host %q is a loopback address", ErrNoReachableAddress, r.PublicHost)
		}
		return r.PublicHost, nil
	}

	if ip, err := r.outbound(); err == nil && !ip.IsLoopback() && !ip.IsUnspecified() {
		return ip.String(), nil
	}

	ips, err := r.interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to list interfaces: %w", err)
	}
	for _, ip := range ips {
		if !ip.IsLoopback() {
			return ip.String(), nil
		}
	}
	return "", ErrNoReachableAddress
}

// IsLoopbackHost reports whether host names this machine only
func IsLoopbackHost(host string) bool {
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// OutboundIPv4 returns the local address the kernel would use for external traffic
func OutboundIPv4() (net.IP, error) {
	conn, err := net.Dial("udp4", probeAddr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}
	return addr.IP, nil
}

// LocalIPv4s returns the IPv4 addresses of all up, non-loopback interfaces
func LocalIPv4s() ([]net.IP, error) {
	ips := []net.IP{}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ip4 := ipnet.IP.To4(); ip4 != nil {
					ips = append(ips, ip4)
				}
			}
		}
	}

	return ips, nil
}
