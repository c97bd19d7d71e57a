//go:build linux

package netctx

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	sysfsPath            = "/sys/class/net"
	sysfsVirtualDevsPath = "/sys/devices/virtual"
)

// virtualNamePrefixes catches interfaces whose sysfs symlink can't be read
// at all — common inside container sandboxes with a restricted /sys view —
// but whose names still give away that they're virtual, so IsPhysical
// doesn't have to fall back to a blanket "unreadable means virtual" guess.
var virtualNamePrefixes = []string{"docker", "veth", "br-", "virbr", "tun", "tap", "wg", "lo"}

// IsPhysical reports whether iface is backed by real hardware rather than a
// tunnel, bridge or other virtual device. Grounded on the teacher's
// nic_linux.go isPhysicalNIC, which trusted the /sys/class/net symlink
// alone; here an unreadable symlink falls through to a name-prefix check
// instead of being treated as conclusively virtual, since some container
// runtimes expose interfaces without populating /sys/class/net at all.
func IsPhysical(iface net.Interface) bool {
	dst, err := os.Readlink(filepath.Join(sysfsPath, iface.Name))
	if err != nil {
		return !hasVirtualNamePrefix(iface.Name)
	}
	abs := filepath.Clean(filepath.Join(sysfsPath, dst))
	return !strings.HasPrefix(abs, sysfsVirtualDevsPath)
}

func hasVirtualNamePrefix(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range virtualNamePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// PhysicalInterfaces lists up, non-loopback, non-point-to-point, physical
// interfaces — candidates cmd/arpcli offers for selection. Interface
// selection itself stays an external-collaborator concern per spec.md §6;
// this is only the filtering helper the teacher's getInterfaces used.
func PhysicalInterfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	out := make([]net.Interface, 0, len(all))
	for _, iface := range all {
		if iface.Flags&net.FlagPointToPoint != 0 ||
			iface.Flags&net.FlagLoopback != 0 ||
			iface.Flags&net.FlagUp == 0 {
			continue
		}
		if !IsPhysical(iface) {
			continue
		}
		out = append(out, iface)
	}
	return out, nil
}

// GatewayIP reads the kernel IPv4 routing table for the default route's
// gateway, scoped to iface when non-empty.
func GatewayIP(iface string) (net.IP, error) {
	f, err := os.Open("/proc/net/route")
	if err != nil {
		return nil, fmt.Errorf("netctx: reading route table: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Scan() // header line
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		ifaceName, destHex, gwHex := fields[0], fields[1], fields[2]
		if iface != "" && ifaceName != iface {
			continue
		}
		if destHex != "00000000" {
			continue // not the default route
		}
		gw, err := hexLittleEndianToIP(gwHex)
		if err != nil {
			continue
		}
		return gw, nil
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("netctx: no default route found for interface %q", iface)
}

func hexLittleEndianToIP(hexStr string) (net.IP, error) {
	v, err := strconv.ParseUint(hexStr, 16, 32)
	if err != nil {
		return nil, err
	}
	var buf [4]byte
	// /proc/net/route stores addresses in host byte order little-endian on
	// every architecture Linux runs this on; reverse into big-endian IPv4.
	binary.LittleEndian.PutUint32(buf[:], uint32(v))
	return net.IP(buf[:]), nil
}

// NewBindingForInterface builds a Binding for the named interface: its
// first IPv4 address/netmask and the kernel's default-gateway IP.
func NewBindingForInterface(name string) (Binding, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return Binding{}, fmt.Errorf("netctx: %w", err)
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return Binding{}, fmt.Errorf("netctx: reading addrs for %s: %w", name, err)
	}

	var ownIP net.IP
	var mask net.IPMask
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if v4 := ipnet.IP.To4(); v4 != nil {
			ownIP = v4
			mask = ipnet.Mask[len(ipnet.Mask)-4:]
			break
		}
	}
	if ownIP == nil {
		return Binding{}, fmt.Errorf("netctx: interface %s has no IPv4 address", name)
	}

	gw, err := GatewayIP(name)
	if err != nil {
		return Binding{}, err
	}

	return Binding{
		Iface:     iface,
		OwnIP:     ownIP,
		OwnMAC:    iface.HardwareAddr,
		Netmask:   mask,
		GatewayIP: gw,
	}, nil
}
