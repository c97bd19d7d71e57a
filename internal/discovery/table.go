package discovery

import (
	"net"
	"sort"
	"sync"
	"time"
)

// Table is the concurrently readable/writable DeviceTable of spec.md §3,
// keyed by MAC. At most one entry ever has IsGateway = true, and if present
// its IP equals the binding's gateway IP.
type Table struct {
	mu      sync.RWMutex
	devices map[MACKey]*Device
}

// NewTable returns an empty DeviceTable.
func NewTable() *Table {
	return &Table{devices: make(map[MACKey]*Device)}
}

// Upsert inserts a new Device or refreshes LastSeen (and IP, to resolve the
// rare mid-run address change spec.md §3 allows) on an existing one, keyed
// by MAC. Returns the stored Device and whether it was newly created.
func (t *Table) Upsert(ip net.IP, mac net.HardwareAddr, isGateway bool, now time.Time) (*Device, bool) {
	key, ok := macKey(mac)
	if !ok {
		return nil, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if isGateway {
		for k, other := range t.devices {
			if k != key {
				other.IsGateway = false
			}
		}
	}

	if d, exists := t.devices[key]; exists {
		d.IP = ip
		d.IsGateway = isGateway
		d.LastSeen = now
		return d, false
	}

	d := &Device{
		IP:           ip,
		MAC:          mac,
		IsGateway:    isGateway,
		DiscoveredAt: now,
		LastSeen:     now,
	}
	t.devices[key] = d
	return d, true
}

// Get looks up a Device by MAC.
func (t *Table) Get(mac net.HardwareAddr) (*Device, bool) {
	key, ok := macKey(mac)
	if !ok {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	d, exists := t.devices[key]
	return d, exists
}

// Gateway returns the device flagged IsGateway, if any has been discovered.
func (t *Table) Gateway() (*Device, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, d := range t.devices {
		if d.IsGateway {
			return d, true
		}
	}
	return nil, false
}

// SetHostname updates a Device's Hostname in place; silent no-op if the MAC
// is unknown, matching the "failure is silent" rule of spec.md §4.3's
// reverse-DNS post-processing step.
func (t *Table) SetHostname(mac net.HardwareAddr, hostname string) {
	key, ok := macKey(mac)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, exists := t.devices[key]; exists {
		d.Hostname = hostname
	}
}

// SetVendor updates a Device's Vendor in place; silent no-op if unknown.
func (t *Table) SetVendor(mac net.HardwareAddr, vendor string) {
	key, ok := macKey(mac)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, exists := t.devices[key]; exists {
		d.Vendor = vendor
	}
}

// SetBlocked flips IsBlocked on the Device identified by mac. Used by the
// blocking engine under its own BlockedSet critical section so the pairing
// invariant of spec.md §5 holds.
func (t *Table) SetBlocked(mac net.HardwareAddr, blocked bool) {
	key, ok := macKey(mac)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if d, exists := t.devices[key]; exists {
		d.IsBlocked = blocked
	}
}

// Snapshot returns a copy of every known Device, ordered by the last octet
// of IP for display, per spec.md §3.
func (t *Table) Snapshot() []Device {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Device, 0, len(t.devices))
	for _, d := range t.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		return lastOctet(out[i].IP) < lastOctet(out[j].IP)
	})
	return out
}

func lastOctet(ip net.IP) byte {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return v4[3]
}
