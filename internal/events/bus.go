// Package events delivers printer connection status to observers.
package events

import "sync"

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateError        State = "error"
)

// Status is published on every connection state transition
type Status struct {
	DeviceID   string
	DeviceName string
	State      State
}

type Listener func(Status)

// Subscription identifies a listener for Unsubscribe
type Subscription uint64

// Bus is a synchronous publish/subscribe hub. Publish calls every listener
// subscribed when it started, in subscription order, on the caller's
// goroutine. Listeners added during a publish see the next one.
type Bus struct {
	mu        sync.Mutex
	next      Subscription
	listeners []entry
}

type entry struct {
	id Subscription
	fn Listener
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	b.listeners = append(b.listeners, entry{id: b.next, fn: fn})
	return b.next
}

// Unsubscribe removes a listener. Unknown subscriptions are ignored.
func (b *Bus) Unsubscribe(id Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, e := range b.listeners {
		if e.id == id {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(s Status) {
	b.mu.Lock()
	snapshot := make([]entry, len(b.listeners))
	copy(snapshot, b.listeners)
	b.mu.Unlock()

	for _, e := range snapshot {
		e.fn(s)
	}
}
