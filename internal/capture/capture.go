// Package capture owns the single live-capture handle spec.md §4.2
// describes: one interface, opened promiscuous with a sub-second read
// timeout, delivering every captured frame to one callback and accepting
// outbound frames for injection.
package capture

import (
	"context"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"

	"arpengine/internal/logbus"
	"arpengine/internal/neterr"
)

const (
	snaplen     = 65536
	readTimeout = 500 * time.Millisecond
)

// Channel wraps one pcap handle. It performs no BPF filtering itself —
// spec.md §4.2 leaves filtering to the discovery/blocking engines so a
// single capture thread can serve both.
type Channel struct {
	handle *pcap.Handle
	bus    *logbus.Bus

	closeOnce sync.Once
	closed    chan struct{}
}

// Open binds a new Channel to the named interface.
func Open(ifaceName string, bus *logbus.Bus) (*Channel, error) {
	handle, err := pcap.OpenLive(ifaceName, snaplen, true, readTimeout)
	if err != nil {
		return nil, err
	}
	return &Channel{handle: handle, bus: bus, closed: make(chan struct{})}, nil
}

// Start begins asynchronous delivery on its own goroutine; each captured
// frame's raw bytes are handed to onFrame exactly once. Capture errors are
// logged, never fatal to the channel, per spec.md §4.2/§7.
func (c *Channel) Start(ctx context.Context, onFrame func([]byte)) {
	go func() {
		src := gopacket.NewPacketSource(c.handle, c.handle.LinkType())
		packets := src.Packets()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.closed:
				return
			case pkt, ok := <-packets:
				if !ok {
					return
				}
				if err := pkt.ErrorLayer(); err != nil {
					c.bus.Errorf("capture: decode error: %v", err.Error())
					continue
				}
				onFrame(pkt.Data())
			}
		}
	}()
}

// Inject emits one Ethernet frame, synchronous best-effort. A failure is
// logged and also returned to the caller; nothing is retried here.
func (c *Channel) Inject(raw []byte) error {
	select {
	case <-c.closed:
		return neterr.ErrClosed
	default:
	}
	if err := c.handle.WritePacketData(raw); err != nil {
		c.bus.Errorf("capture: injection failed: %v", err)
		return err
	}
	return nil
}

// Close idempotently releases the handle. Any blocked reader unblocks
// within the read timeout once the handle is closed.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.handle.Close()
		c.bus.Logf("capture: channel closed")
	})
	return nil
}
