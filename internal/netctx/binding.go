// Package netctx builds the immutable InterfaceBinding spec.md §3 describes:
// the bound interface, its IPv4 address, MAC, netmask and default gateway,
// plus the derived subnet quantities the discovery engine sweeps over.
package netctx

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net"

	"arpengine/internal/neterr"
)

// Binding is immutable for the lifetime of a run, matching spec.md §3.
type Binding struct {
	Iface      *net.Interface
	OwnIP      net.IP
	OwnMAC     net.HardwareAddr
	Netmask    net.IPMask
	GatewayIP  net.IP
}

func ip4ToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return binary.BigEndian.Uint32(v4)
}

func uint32ToIP(v uint32) net.IP {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return net.IP(buf[:])
}

// NetworkAddr returns own_ip & netmask.
func (b Binding) NetworkAddr() net.IP {
	return uint32ToIP(ip4ToUint32(b.OwnIP) & ip4ToUint32(net.IP(b.Netmask)))
}

// BroadcastAddr returns own_ip | ^netmask.
func (b Binding) BroadcastAddr() net.IP {
	mask := ip4ToUint32(net.IP(b.Netmask))
	return uint32ToIP(ip4ToUint32(b.OwnIP) | ^mask)
}

// PrefixLen returns the popcount of the netmask.
func (b Binding) PrefixLen() int {
	return bits.OnesCount32(ip4ToUint32(net.IP(b.Netmask)))
}

// HostsInRange returns every address strictly between network and broadcast,
// in numerical order. Grounded on the teacher's ips() helper in arp.go.
// Neither endpoint is ever yielded.
func HostsInRange(network, broadcast net.IP) []net.IP {
	lo := ip4ToUint32(network)
	hi := ip4ToUint32(broadcast)

	var out []net.IP
	for v := lo + 1; v < hi; v++ {
		out = append(out, uint32ToIP(v))
	}
	return out
}

// Hosts returns every host address of the binding's subnet, excluding
// network, broadcast and own_ip, per spec.md §4.3's sweep enumeration rule.
func (b Binding) Hosts() []net.IP {
	own := ip4ToUint32(b.OwnIP)
	all := HostsInRange(b.NetworkAddr(), b.BroadcastAddr())

	out := make([]net.IP, 0, len(all))
	for _, ip := range all {
		if ip4ToUint32(ip) == own {
			continue
		}
		out = append(out, ip)
	}
	return out
}

// Validate checks that the binding carries everything the core needs to run.
func (b Binding) Validate() error {
	if b.Iface == nil {
		return fmt.Errorf("netctx: %w", neterr.ErrNoInterface)
	}
	if b.OwnIP.To4() == nil {
		return fmt.Errorf("netctx: own IP %q is not IPv4", b.OwnIP)
	}
	if len(b.OwnMAC) != 6 {
		return fmt.Errorf("netctx: own MAC %q is not 6 bytes", b.OwnMAC)
	}
	if len(b.Netmask) != 4 {
		return fmt.Errorf("netctx: netmask %q is not 4 bytes", b.Netmask)
	}
	return nil
}
