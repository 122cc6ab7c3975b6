// Package events provides the typed in-process pub/sub bus that fans out
// fills, vetoes, allocation updates, and administrative events to observers
// such as the checkpoint writer and dashboard publishers.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Kind identifies an event category. The set is closed; observers switch on
// it rather than on string tags.
type Kind int

const (
	KindFill Kind = iota
	KindVeto
	KindKillSwitch
	KindAllocation
	KindBreaker
	KindModeChange
	kindCount
)

var kindNames = [...]string{
	KindFill:       "fill",
	KindVeto:       "veto",
	KindKillSwitch: "kill_switch",
	KindAllocation: "allocation",
	KindBreaker:    "breaker",
	KindModeChange: "mode_change",
}

func (k Kind) String() string {
	if !k.valid() {
		return "unknown"
	}
	return kindNames[k]
}

func (k Kind) valid() bool {
	return k >= 0 && k < kindCount
}

// Event is a single published occurrence. Payload carries the concrete type
// owned by the publishing package (execution.Fill, risk.Veto, ...).
type Event struct {
	Kind      Kind
	Timestamp time.Time
	Payload   interface{}
}

// Bus fans events out to per-kind subscriber channels. Publish never blocks:
// a subscriber that cannot keep up loses events, counted in Dropped.
type Bus struct {
	mu      sync.RWMutex
	subs    [kindCount][]chan Event
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriber channels hold up to buffer events.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{buffer: buffer}
}

// Subscribe returns a channel receiving every subsequent event of the given
// kind. The channel is closed when the bus closes. An unknown kind yields a
// channel that is already closed.
func (b *Bus) Subscribe(kind Kind) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed || !kind.valid() {
		close(ch)
		return ch
	}
	b.subs[kind] = append(b.subs[kind], ch)
	return ch
}

// Publish delivers the event to all subscribers of its kind without blocking.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed || !evt.Kind.valid() {
		return
	}
	for _, ch := range b.subs[evt.Kind] {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded due to slow subscribers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes all subscriber channels. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for kind := range b.subs {
		for _, ch := range b.subs[kind] {
			close(ch)
		}
		b.subs[kind] = nil
	}
}
