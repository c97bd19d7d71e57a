// Package logbus implements the "log-event stream" spec.md §6 asks the core
// to expose to its surrounding UI: a bounded, drop-oldest broadcast of
// free-form event strings with timestamps attached.
package logbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Event is one log-bus entry delivered to subscribers.
type Event struct {
	Time time.Time
	Msg  string
}

// Bus fans events out to any number of subscribers. Each subscriber gets its
// own bounded channel; when a slow subscriber can't keep up, the oldest
// buffered event is dropped rather than blocking the producer, per spec.md
// §9 ("a bounded queue with drop-oldest is preferred over unbounded
// buffering").
type Bus struct {
	mu       sync.Mutex
	subs     map[chan Event]struct{}
	capacity int
	logger   *slog.Logger
}

// New creates a Bus with the given per-subscriber buffer capacity (spec.md
// §6's "max retained log lines"). A nil logger falls back to
// slog.Default(); a non-positive capacity falls back to 100.
func New(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[chan Event]struct{}), capacity: capacity, logger: logger}
}

// Subscribe registers a new receiver. Call the returned func to unsubscribe.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, b.capacity)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, unsubscribe
}

// Logf records msg at slog.LevelInfo and broadcasts it to all subscribers.
func (b *Bus) Logf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.logger.Info(msg)
	b.publish(Event{Time: time.Now(), Msg: msg})
}

// Errorf is Logf at slog.LevelError, used for observability events that are
// not propagated as Go errors (injection failures, decode drops, etc — spec.md §7).
func (b *Bus) Errorf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.logger.Error(msg)
	b.publish(Event{Time: time.Now(), Msg: msg})
}

func (b *Bus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			// Drop the oldest buffered event to make room, per spec.md §9.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
			default:
			}
		}
	}
}
