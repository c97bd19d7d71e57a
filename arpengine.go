// Package arpengine is the single entry point spec.md §6 describes: a UI
// constructs an ArpEngine from a chosen interface binding, and — once the
// gateway is resolved — a BlockingEngine from that ArpEngine and the
// resolved gateway device.
package arpengine

import (
	"context"
	"log/slog"
	"net"

	"arpengine/internal/blocking"
	"arpengine/internal/capture"
	"arpengine/internal/config"
	"arpengine/internal/discovery"
	"arpengine/internal/frame"
	"arpengine/internal/logbus"
	"arpengine/internal/netctx"
)

// ArpEngine wires C1 (frame codec, used statically) to C2 (capture channel)
// and C3 (discovery engine) for one bound interface.
type ArpEngine struct {
	Binding   netctx.Binding
	channel   *capture.Channel
	discovery *discovery.Engine
	bus       *logbus.Bus
	cfg       config.Config
}

// NewArpEngine opens the capture channel for binding.Iface and builds the
// discovery engine; captured frames reach its Ingest once Start is called.
// The channel stays open until Close is called. cfg supplies spec.md §6's tunables;
// pass config.Config{} (or the result of config.Load()) for its defaults.
func NewArpEngine(binding netctx.Binding, cfg config.Config, logger *slog.Logger) (*ArpEngine, error) {
	if err := binding.Validate(); err != nil {
		return nil, err
	}

	bus := logbus.New(cfg.MaxLogLines, logger)
	channel, err := capture.Open(binding.Iface.Name, bus)
	if err != nil {
		return nil, err
	}

	disc := discovery.NewWithTuning(binding, channel, bus, discovery.Tuning{
		InterPacketGap: cfg.SweepInterPacketGap,
		GracePeriod:    cfg.SweepGracePeriod,
	})
	eng := &ArpEngine{Binding: binding, channel: channel, discovery: disc, bus: bus, cfg: cfg}
	return eng, nil
}

// Start begins asynchronous capture; every decoded ARP frame is fed to the
// discovery engine. Non-ARP or malformed frames are silently dropped, per
// spec.md §4.1/§7.
func (e *ArpEngine) Start(ctx context.Context) {
	e.channel.Start(ctx, func(raw []byte) {
		f, err := frame.Decode(raw)
		if err != nil {
			return
		}
		e.discovery.Ingest(f)
	})
}

// Scan drives one subnet sweep to completion or cancellation.
func (e *ArpEngine) Scan(ctx context.Context, progress func(int)) error {
	return e.discovery.Scan(ctx, progress)
}

// Request performs a targeted single-host probe, used to resolve the
// gateway when a sweep missed it.
func (e *ArpEngine) Request(ctx context.Context, ip net.IP) error {
	return e.discovery.Request(ctx, ip)
}

// Devices returns a display-ready snapshot of the DeviceTable.
func (e *ArpEngine) Devices() []discovery.Device {
	return e.discovery.Devices()
}

// ResolveHostnames runs the optional reverse-DNS enrichment step.
func (e *ArpEngine) ResolveHostnames(ctx context.Context) error {
	return e.discovery.ResolveHostnames(ctx)
}

// Gateway returns the discovered gateway Device, if any.
func (e *ArpEngine) Gateway() (discovery.Device, bool) {
	d, ok := e.discovery.Table().Gateway()
	if !ok {
		return discovery.Device{}, false
	}
	return *d, true
}

// Logs subscribes to the engine's bounded log-event stream. Call the
// returned func to unsubscribe.
func (e *ArpEngine) Logs() (<-chan logbus.Event, func()) {
	return e.bus.Subscribe()
}

// Close releases the capture channel. Idempotent.
func (e *ArpEngine) Close() error {
	return e.channel.Close()
}

// BlockingEngine is C4, built once the gateway is known.
type BlockingEngine struct {
	eng   *ArpEngine
	inner *blocking.Engine
}

// NewBlockingEngine builds a BlockingEngine for eng's interface binding and
// the given resolved gateway device. Per spec.md §4.4, gateway must already
// be present with a non-empty MAC; Start will refuse otherwise.
func NewBlockingEngine(eng *ArpEngine, gateway discovery.Device) *BlockingEngine {
	inner := blocking.NewWithTuning(eng.Binding.OwnMAC, gateway, eng.discovery.Table(), eng.channel, eng.bus, blocking.Tuning{
		TickPeriod:    eng.cfg.SpoofTickPeriod,
		RestoreRounds: eng.cfg.RestoreRounds,
		RestoreGap:    eng.cfg.RestoreGap,
	})
	return &BlockingEngine{eng: eng, inner: inner}
}

// Start launches the periodic spoof task. Returns neterr.ErrNoGateway if
// the gateway wasn't actually resolved.
func (b *BlockingEngine) Start(ctx context.Context) error {
	return b.inner.Start(ctx)
}

// Block marks device as blocked and sends the immediate poison pair.
// Blocking the gateway is rejected with a log line, not a propagated error,
// per spec.md §4.4 — the inner engine's own gateway safeguard handles it.
func (b *BlockingEngine) Block(device discovery.Device) error {
	return b.inner.Block(device)
}

// Unblock removes device from the blocked set and restores true MACs.
func (b *BlockingEngine) Unblock(device discovery.Device) error {
	return b.inner.Unblock(device)
}

// Stop cancels the periodic task and restores every outstanding victim
// before returning.
func (b *BlockingEngine) Stop() {
	b.inner.Stop()
}

// BlockedDevices returns a snapshot of currently blocked victims.
func (b *BlockingEngine) BlockedDevices() []*blocking.Info {
	return b.inner.Set().Snapshot()
}
