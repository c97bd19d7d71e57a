// Package discovery implements C3: the subnet sweep and the DeviceTable it
// maintains, per spec.md §4.3.
package discovery

import (
	"context"
	"net"
	"net/netip"
	"time"

	"github.com/mdlayher/arp"
	"golang.org/x/sync/errgroup"

	"arpengine/internal/clock"
	"arpengine/internal/frame"
	"arpengine/internal/hostname"
	"arpengine/internal/logbus"
	"arpengine/internal/netctx"
	"arpengine/pkg/vendormac"
)

const (
	// defaultInterPacketGap is the sweep's pacing target (spec.md §4.3: "2-5ms").
	defaultInterPacketGap = 3 * time.Millisecond
	// defaultGracePeriod is the post-sweep wait for late replies (spec.md §4.3: "≈1s").
	defaultGracePeriod = time.Second
	// hostnameWorkers bounds the reverse-DNS fan-out (spec.md's optional step).
	hostnameWorkers = 8
)

// Tuning overrides the fixed sweep-pacing defaults spec.md §6 lists as
// configuration knobs. Zero values fall back to the spec defaults.
type Tuning struct {
	InterPacketGap time.Duration
	GracePeriod    time.Duration
}

func (t Tuning) withDefaults() Tuning {
	if t.InterPacketGap <= 0 {
		t.InterPacketGap = defaultInterPacketGap
	}
	if t.GracePeriod <= 0 {
		t.GracePeriod = defaultGracePeriod
	}
	return t
}

// injector is the subset of capture.Channel the engine depends on, kept
// narrow so tests can substitute a fake.
type injector interface {
	Inject(raw []byte) error
}

// Engine is C3: it drives the codec and capture channel to sweep the
// subnet and maintains the DeviceTable from the capture ingress stream.
type Engine struct {
	binding netctx.Binding
	table   *Table
	channel injector
	bus     *logbus.Bus
	tuning  Tuning
}

// New builds a discovery Engine bound to the given subnet and capture
// channel, applying spec.md's fixed sweep-pacing defaults. Use
// NewWithTuning to override them.
func New(binding netctx.Binding, channel injector, bus *logbus.Bus) *Engine {
	return NewWithTuning(binding, channel, bus, Tuning{})
}

// NewWithTuning is New with explicit tunables (internal/config's Config
// feeds this from the environment in cmd/arpengined).
func NewWithTuning(binding netctx.Binding, channel injector, bus *logbus.Bus, tuning Tuning) *Engine {
	return &Engine{binding: binding, table: NewTable(), channel: channel, bus: bus, tuning: tuning.withDefaults()}
}

// Table exposes the underlying DeviceTable (blocking.Engine needs it to
// look up the gateway and victims by MAC).
func (e *Engine) Table() *Table { return e.table }

// Devices returns a display-ready snapshot of every known Device.
func (e *Engine) Devices() []Device { return e.table.Snapshot() }

// Scan enumerates the binding's host IPs and emits one ARP request per
// candidate, pacing between packets, then waits a grace period for late
// replies before returning. progress receives non-decreasing percentages
// in [0,100]. Returns ctx.Err() if cancelled mid-sweep.
func (e *Engine) Scan(ctx context.Context, progress func(int)) error {
	hosts := e.binding.Hosts()
	if progress != nil {
		progress(0)
	}

	for i, ip := range hosts {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw := frame.EncodeRequest(e.binding.OwnMAC, e.binding.OwnIP, ip)
		if err := e.channel.Inject(raw); err != nil {
			e.bus.Errorf("discovery: sweep request to %s failed: %v", ip, err)
		}

		if progress != nil {
			progress(percentOf(i+1, len(hosts)))
		}

		if i < len(hosts)-1 {
			if clock.Sleep(ctx, e.tuning.InterPacketGap) {
				return ctx.Err()
			}
		}
	}

	if progress != nil {
		progress(100)
	}

	// Grace period for late replies — spec.md §9's open question: replies
	// landing in this window are recorded even though progress already
	// reached 100%.
	clock.Sleep(ctx, e.tuning.GracePeriod)
	return ctx.Err()
}

func percentOf(done, total int) int {
	if total == 0 {
		return 100
	}
	pct := done * 100 / total
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Ingest is called by the capture callback for every decoded ARP frame. On
// a reply (op 2) it upserts the sender as a Device; on a request (op 1) it
// opportunistically records the sender too, per spec.md §4.3/§9 — neither
// deduplicates against the other, matching the source behavior the spec
// preserves. Frames sourced from our own MAC are ignored.
func (e *Engine) Ingest(f frame.Frame) {
	if f.SenderMAC.String() == e.binding.OwnMAC.String() {
		return
	}
	if f.Op != 1 && f.Op != 2 {
		return
	}
	if f.SenderIP == nil || len(f.SenderMAC) != 6 {
		return
	}

	isGateway := f.SenderIP.Equal(e.binding.GatewayIP)
	device, created := e.table.Upsert(f.SenderIP, f.SenderMAC, isGateway, time.Now())
	if created {
		vendor := vendormac.Lookup(f.SenderMAC)
		e.table.SetVendor(f.SenderMAC, vendor)
		kind := "reply"
		if f.Op == 1 {
			kind = "request"
		}
		e.bus.Logf("discovery: new device %s (%s) via ARP %s%s", f.SenderIP, f.SenderMAC, kind,
			gatewaySuffix(isGateway))
	}
	_ = device
}

func gatewaySuffix(isGateway bool) string {
	if isGateway {
		return " [gateway]"
	}
	return ""
}

// Request performs a targeted single-host probe, used to resolve the
// gateway when a sweep missed it. It injects a broadcast ARP request through
// the capture channel and, as a secondary resolution path grounded on the
// rest of the retrieved example pack, also attempts a direct
// mdlayher/arp.Resolve against the binding's interface — useful exactly
// when a raw sweep reply would otherwise race the grace window. A
// successful direct resolution is ingested into the table immediately.
func (e *Engine) Request(ctx context.Context, ip net.IP) error {
	raw := frame.EncodeRequest(e.binding.OwnMAC, e.binding.OwnIP, ip)
	if err := e.channel.Inject(raw); err != nil {
		e.bus.Errorf("discovery: targeted request to %s failed: %v", ip, err)
	}

	if e.binding.Iface == nil {
		return nil
	}

	client, err := arp.Dial(e.binding.Iface)
	if err != nil {
		// No direct-resolve fallback available (e.g. insufficient
		// privilege for a second raw socket); the broadcast request above
		// still stands a chance via the normal capture pipeline.
		return nil
	}
	defer client.Close()

	deadline := time.Now().Add(200 * time.Millisecond)
	_ = client.SetDeadline(deadline)

	addr, ok := netipAddr(ip)
	if !ok {
		return nil
	}
	mac, err := client.Resolve(addr)
	if err != nil {
		return nil
	}

	e.Ingest(frame.Frame{Op: 2, SenderMAC: mac, SenderIP: ip})
	return nil
}

// ResolveHostnames runs the optional reverse-DNS enrichment step over every
// currently known device, bounded to hostnameWorkers concurrent lookups.
// Failures are silent per spec.md §4.3, surfaced only as an absent hostname.
func (e *Engine) ResolveHostnames(ctx context.Context) error {
	devices := e.table.Snapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(hostnameWorkers)

	for _, d := range devices {
		d := d
		g.Go(func() error {
			name := hostname.Resolve(gctx, d.IP)
			if name != "" {
				e.table.SetHostname(d.MAC, name)
			}
			return nil
		})
	}
	return g.Wait()
}

func netipAddr(ip net.IP) (netip.Addr, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return netip.Addr{}, false
	}
	return netip.AddrFromSlice(v4)
}
