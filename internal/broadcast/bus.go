// Package broadcast implements the in-process group broadcast bus that fans
// resource state changes out to every connection attached to a resource.
//
// Groups are keyed by resource ("shell:3", "document:7"). Connections
// subscribe on attach and unsubscribe on detach; publishes carry a delivery
// mode that selects the recipients relative to the sender. There is no
// replay: a connection subscribing after a publish never sees it.
package broadcast

import "sync"

// Mode selects which subscribers of a group receive a publish.
type Mode string

const (
	// ModeAll delivers to every subscriber, including the sender.
	ModeAll Mode = "all"
	// ModeExcludeSender delivers to every subscriber except the sender.
	ModeExcludeSender Mode = "exclude-sender"
	// ModeSenderOnly delivers only to the sender's own subscription.
	ModeSenderOnly Mode = "sender-only"
)

// Listener receives a published payload. Listeners are called synchronously
// on the publisher's goroutine; slow consumers should hand off internally.
type Listener func(payload []byte)

// Bus is the group broadcast bus. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	groups map[string]map[string]Listener // group key → connection id → listener
}

func New() *Bus {
	return &Bus{
		groups: make(map[string]map[string]Listener),
	}
}

// Subscribe registers a connection's listener on a group. Subscribing the
// same connection id again replaces its listener.
func (b *Bus) Subscribe(group, connID string, fn Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.groups[group]
	if !ok {
		subs = make(map[string]Listener)
		b.groups[group] = subs
	}
	subs[connID] = fn
}

// Unsubscribe removes a connection from a group. Idempotent: removing an
// unknown connection or group is a no-op.
func (b *Bus) Unsubscribe(group, connID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.groups[group]
	if !ok {
		return
	}
	delete(subs, connID)
	if len(subs) == 0 {
		delete(b.groups, group)
	}
}

// Publish delivers payload to the group's current subscribers according to
// mode. Publishing to a group with no subscribers is a no-op. Delivery is
// at-least-once to connections subscribed at publish time.
func (b *Bus) Publish(group string, payload []byte, mode Mode, senderID string) {
	b.mu.RLock()
	subs := b.groups[group]
	// Snapshot under the read lock so listeners run without holding it.
	targets := make([]Listener, 0, len(subs))
	for id, fn := range subs {
		switch mode {
		case ModeSenderOnly:
			if id != senderID {
				continue
			}
		case ModeExcludeSender:
			if id == senderID {
				continue
			}
		}
		targets = append(targets, fn)
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(payload)
	}
}

// SubscriberCount returns the number of connections subscribed to a group.
func (b *Bus) SubscriberCount(group string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[group])
}
