// Package events implements the Engine's internal publish-subscribe bus
// (spec.md §9): a typed, closed set of event kinds that decouples the
// Engine from the subsystems that react to it (Capture, Output Manager,
// As-Run Log, Control Server) without the Engine knowing about any of
// them directly.
package events

import (
	"sync"

	"github.com/veles-productions/playout-core/internal/logging"
)

var log = logging.L("events")

// Kind is the closed set of event kinds the Engine emits.
type Kind string

const (
	KindState      Kind = "state"
	KindTake       Kind = "take"
	KindClear      Kind = "clear"
	KindFreeze     Kind = "freeze"
	KindMixStart   Kind = "mixStart"
	KindMixCancel  Kind = "mixCancel"
	KindLoad       Kind = "load"
	KindUpdatePgm  Kind = "updatePgm"
	KindNext       Kind = "next"
	KindPgmChanged Kind = "pgmChanged"
)

// Event is one message on the bus: a kind plus an opaque payload whose
// concrete type is determined by Kind (EngineSnapshot for KindState,
// MixStartPayload for KindMixStart, and so on — see internal/model).
type Event struct {
	Kind    Kind
	Payload any
}

// Subscriber receives events in the exact order the Bus published them.
// Handlers must not block: per-subscriber channels are independent, and
// an event is dropped for a subscriber whose channel is full.
type Subscriber chan Event

// Bus is a single Engine instance's event fan-out. Zero value is not
// usable; call New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Kind][]Subscriber
	// bufSize controls backlog tolerance per subscriber channel before a
	// publish drops the event for that subscriber rather than blocking
	// the Engine's single logical writer context (spec.md §5).
	bufSize int
}

// New creates an event bus. bufSize is the per-subscriber channel
// capacity; 0 chooses a sane default.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 32
	}
	return &Bus{
		subs:    make(map[Kind][]Subscriber),
		bufSize: bufSize,
	}
}

// Subscribe registers a new channel for the given kinds and returns it.
// Call Unsubscribe with the same channel to stop receiving.
func (b *Bus) Subscribe(kinds ...Kind) Subscriber {
	ch := make(Subscriber, b.bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range kinds {
		b.subs[k] = append(b.subs[k], ch)
	}
	return ch
}

// Unsubscribe removes ch from every kind it was registered under and
// closes it. Safe to call once; a second call is a no-op.
func (b *Bus) Unsubscribe(ch Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	removed := false
	for k, list := range b.subs {
		for i, s := range list {
			if s == ch {
				b.subs[k] = append(list[:i], list[i+1:]...)
				removed = true
				break
			}
		}
	}
	if removed {
		close(ch)
	}
}

// Publish sends ev to every subscriber registered for ev.Kind, in
// registration order. A subscriber whose channel is full is skipped
// with a warning rather than blocking the publisher — the Engine must
// never stall because a downstream listener is slow (spec.md §5).
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[ev.Kind]...)
	b.mu.RUnlock()

	for _, s := range subs {
		select {
		case s <- ev:
		default:
			log.Warn("subscriber channel full, dropping event", "kind", string(ev.Kind))
		}
	}
}
