// Package signal carries "the order list changed" wake-ups between execution
// contexts. Payloads are informational; receivers re-read the source of
// truth instead of trusting them.
package signal

import (
	"sync"

	"github.com/yeremiapane/restaurant-sync/models"
)

// Change is one published change. Origin identifies the publishing context.
type Change struct {
	Origin    string         `json:"origin"`
	Namespace string         `json:"namespace,omitempty"`
	Orders    []models.Order `json:"orders,omitempty"`
}

// ChangeSignal is a narrow pub/sub. A subscriber registered with the same
// origin as a published change does not receive it.
type ChangeSignal interface {
	Subscribe(origin string, fn func(Change)) (unsubscribe func())
	Publish(ch Change)
}

type subscriber struct {
	origin string
	fn     func(Change)
}

// Bus is the in-process ChangeSignal, the equivalent of storage events
// between tabs of one browser. Delivery is synchronous on the publisher's
// goroutine, so callbacks must not block.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

func (b *Bus) Subscribe(origin string, fn func(Change)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{origin: origin, fn: fn}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bus) Publish(ch Change) {
	b.mu.RLock()
	targets := make([]func(Change), 0, len(b.subs))
	for _, s := range b.subs {
		if s.origin != "" && s.origin == ch.Origin {
			continue
		}
		targets = append(targets, s.fn)
	}
	b.mu.RUnlock()

	for _, fn := range targets {
		fn(ch)
	}
}
