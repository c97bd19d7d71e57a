package blocking

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"arpengine/internal/discovery"
	"arpengine/internal/frame"
	"arpengine/internal/logbus"
)

type fakeInjector struct {
	mu     sync.Mutex
	frames []frame.Frame
}

func (f *fakeInjector) Inject(raw []byte) error {
	decoded, err := frame.Decode(raw)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, decoded)
	f.mu.Unlock()
	return nil
}

func (f *fakeInjector) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

func (f *fakeInjector) snapshot() []frame.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]frame.Frame{}, f.frames...)
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func newTestEngine(t *testing.T) (*Engine, *fakeInjector, discovery.Device) {
	t.Helper()
	ownMAC := mustMAC(t, "cc:cc:cc:cc:cc:cc")
	gateway := discovery.Device{
		IP:        net.ParseIP("10.0.0.2").To4(),
		MAC:       mustMAC(t, "aa:aa:aa:aa:aa:aa"),
		IsGateway: true,
	}
	table := discovery.NewTable()
	table.Upsert(gateway.IP, gateway.MAC, true, time.Now())
	// The victim returned by victimDevice is a known device, as every
	// blocked device is.
	victim := victimDevice(t)
	table.Upsert(victim.IP, victim.MAC, false, time.Now())

	fi := &fakeInjector{}
	eng := New(ownMAC, gateway, table, fi, logbus.New(10, nil))
	return eng, fi, gateway
}

func victimDevice(t *testing.T) discovery.Device {
	return discovery.Device{
		IP:  net.ParseIP("10.0.0.5").To4(),
		MAC: mustMAC(t, "bb:bb:bb:bb:bb:bb"),
	}
}

func TestBlockEmitsImmediatePoisonPair(t *testing.T) {
	eng, fi, gateway := newTestEngine(t)
	victim := victimDevice(t)

	err := eng.Block(victim)
	require.NoError(t, err)
	require.Equal(t, 2, fi.count())

	frames := fi.snapshot()
	require.EqualValues(t, 2, frames[0].Op)
	require.True(t, frames[0].SenderIP.Equal(gateway.IP))
	require.Equal(t, victim.MAC.String(), frames[0].TargetMAC.String())

	require.EqualValues(t, 2, frames[1].Op)
	require.True(t, frames[1].SenderIP.Equal(victim.IP))
	require.Equal(t, gateway.MAC.String(), frames[1].TargetMAC.String())

	require.True(t, eng.Set().Contains(victim.MAC))
}

func TestBlockGatewayIsNoOp(t *testing.T) {
	eng, fi, gateway := newTestEngine(t)
	gwDevice := discovery.Device{IP: gateway.IP, MAC: gateway.MAC, IsGateway: true}

	err := eng.Block(gwDevice)
	require.NoError(t, err)
	require.Equal(t, 0, fi.count())
	require.Equal(t, 0, eng.Set().Len())
}

func TestBlockIsIdempotent(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	victim := victimDevice(t)

	require.NoError(t, eng.Block(victim))
	require.NoError(t, eng.Block(victim))

	require.Equal(t, 2, fi.count())
	require.Equal(t, 1, eng.Set().Len())
}

func TestUnblockEmitsTenRestorationFrames(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	victim := victimDevice(t)

	require.NoError(t, eng.Block(victim))
	start := time.Now()
	require.NoError(t, eng.Unblock(victim))
	elapsed := time.Since(start)

	require.Equal(t, 12, fi.count()) // 2 immediate + 10 restoration
	require.GreaterOrEqual(t, elapsed, 400*time.Millisecond)

	d, ok := eng.table.Get(victim.MAC)
	require.True(t, ok)
	require.False(t, d.IsBlocked)
	require.Equal(t, 0, eng.Set().Len())
}

func TestUnblockUnknownDeviceIsNoOp(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	victim := victimDevice(t)
	require.NoError(t, eng.Unblock(victim))
	require.Equal(t, 0, fi.count())
}

func TestTickCountOverFiveSeconds(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	victim := victimDevice(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	require.NoError(t, eng.Block(victim))

	time.Sleep(5 * time.Second)
	n := fi.count()
	require.GreaterOrEqual(t, n, 8)
	require.LessOrEqual(t, n, 10)
}

func TestStopRestoresOutstandingVictims(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	v1 := victimDevice(t)
	v2 := discovery.Device{IP: net.ParseIP("10.0.0.6").To4(), MAC: mustMAC(t, "dd:dd:dd:dd:dd:dd")}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, eng.Start(ctx))
	require.NoError(t, eng.Block(v1))
	require.NoError(t, eng.Block(v2))

	before := fi.count()
	eng.Stop()
	after := fi.count()

	require.GreaterOrEqual(t, after-before, 20) // 2 victims x 5 rounds x 2 frames
	require.Equal(t, 0, eng.Set().Len())
}

func TestConcurrentBlockIsAtMostOnce(t *testing.T) {
	eng, fi, _ := newTestEngine(t)
	victim := victimDevice(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = eng.Block(victim)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, eng.Set().Len())
	require.Equal(t, 2, fi.count())
}

// TestConcurrentBlockUnblockMaintainsPairingInvariant hammers Block and
// Unblock on the same device from many goroutines while a monitor goroutine
// continuously checks that BlockedSet membership and Device.IsBlocked never
// disagree, then makes one final deterministic call and asserts it settled
// the state — spec.md §8's "pairing invariant holds under concurrent
// Block/Unblock" and "final is_blocked state equals the last operation's
// intent" properties.
func TestConcurrentBlockUnblockMaintainsPairingInvariant(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	victim := victimDevice(t)

	stop := make(chan struct{})
	var violations atomic.Int64

	var monitorWG sync.WaitGroup
	monitorWG.Add(1)
	go func() {
		defer monitorWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Sample both sides under Set.mu, the critical section in which
			// Block and Unblock mutate them, so the two reads see one state.
			key, _ := toMACKey(victim.MAC)
			eng.set.mu.Lock()
			_, inSet := eng.set.entries[key]
			d, ok := eng.table.Get(victim.MAC)
			isBlocked := ok && d.IsBlocked
			eng.set.mu.Unlock()
			if inSet != isBlocked {
				violations.Add(1)
			}
		}
	}()

	var workersWG sync.WaitGroup
	for i := 0; i < 20; i++ {
		workersWG.Add(1)
		go func(i int) {
			defer workersWG.Done()
			if i%2 == 0 {
				_ = eng.Block(victim)
			} else {
				_ = eng.Unblock(victim)
			}
		}(i)
	}
	workersWG.Wait()

	close(stop)
	monitorWG.Wait()

	require.Zero(t, violations.Load(), "BlockedSet membership and Device.IsBlocked disagreed at some point")

	require.NoError(t, eng.Block(victim))
	require.True(t, eng.Set().Contains(victim.MAC))
	d, ok := eng.table.Get(victim.MAC)
	require.True(t, ok)
	require.True(t, d.IsBlocked)

	require.NoError(t, eng.Unblock(victim))
	require.False(t, eng.Set().Contains(victim.MAC))
	d, ok = eng.table.Get(victim.MAC)
	require.True(t, ok)
	require.False(t, d.IsBlocked)
}
