// Package netiface computes directed IPv4 broadcast addresses for the
// beacon's outbound interfaces. This is plain stdlib net.Interface
// enumeration: nothing in the retrieval pack wraps interface discovery in
// a third-party library, and the computation itself (ipv4 | ~mask) is a
// handful of bitwise lines that would gain nothing from a dependency.
package netiface

import (
	"fmt"
	"net"
)

// Endpoint is one viable outbound interface: its broadcast address paired
// with the interface name it came from, for logging.
type Endpoint struct {
	InterfaceName string
	Broadcast     net.IP
}

// DirectedBroadcasts resolves the directed broadcast address for each
// named interface. Interfaces that are down, loopback-only with no IPv4,
// or unresolvable are skipped. An empty result is an error: the beacon
// cannot advertise with zero viable interfaces.
func DirectedBroadcasts(names []string) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, name := range names {
		ep, err := directedBroadcast(name)
		if err != nil {
			continue
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("netiface: no viable outbound interface among %v", names)
	}
	return endpoints, nil
}

func directedBroadcast(name string) (Endpoint, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Endpoint{}, fmt.Errorf("netiface: lookup interface %s: %w", name, err)
	}
	if iface.Flags&net.FlagUp == 0 {
		return Endpoint{}, fmt.Errorf("netiface: interface %s is not up", name)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return Endpoint{}, fmt.Errorf("netiface: addrs for %s: %w", name, err)
	}

	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil {
			continue
		}
		mask := ipNet.Mask
		if len(mask) != net.IPv4len {
			mask = mask[len(mask)-net.IPv4len:]
		}

		broadcast := make(net.IP, net.IPv4len)
		for i := range broadcast {
			broadcast[i] = ip4[i] | ^mask[i]
		}
		return Endpoint{InterfaceName: name, Broadcast: broadcast}, nil
	}

	return Endpoint{}, fmt.Errorf("netiface: interface %s has no usable IPv4 address", name)
}

// InboundAddress resolves the IPv4 address a listener should bind to for
// the named inbound interface.
func InboundAddress(name string) (net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("netiface: lookup interface %s: %w", name, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("netiface: addrs for %s: %w", name, err)
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("netiface: interface %s has no usable IPv4 address", name)
}
