// Package localcache keeps the last known order list on the device. It is a
// replica: nothing in it is authoritative over the order store.
package localcache

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/signal"
)

// DefaultNamespace is the key the order list is stored under.
const DefaultNamespace = "restaurant-orders"

// Backend is the key-value persistence primitive.
type Backend interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte) error
}

type Cache struct {
	backend   Backend
	bus       signal.ChangeSignal
	namespace string
	origin    string
	log       logrus.FieldLogger
}

type Option func(*Cache)

func WithNamespace(ns string) Option {
	return func(c *Cache) {
		if ns != "" {
			c.namespace = ns
		}
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

// New wraps backend. bus may be nil when no other context shares the device.
func New(backend Backend, bus signal.ChangeSignal, opts ...Option) *Cache {
	c := &Cache{
		backend:   backend,
		bus:       bus,
		namespace: DefaultNamespace,
		origin:    uuid.NewString(),
		log:       logrus.StandardLogger().WithField("component", "localcache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Origin identifies this cache instance on the signal bus.
func (c *Cache) Origin() string {
	return c.origin
}

func (c *Cache) Namespace() string {
	return c.namespace
}

// Read returns the stored list; false means nothing was ever written.
func (c *Cache) Read() ([]models.Order, bool, error) {
	raw, ok, err := c.backend.Get(c.namespace)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", c.namespace, err)
	}
	if !ok || len(raw) == 0 {
		return nil, false, nil
	}
	var orders []models.Order
	if err := json.Unmarshal(raw, &orders); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", c.namespace, err)
	}
	return orders, true, nil
}

// Write replaces the stored list and signals the other contexts.
func (c *Cache) Write(orders []models.Order) error {
	if orders == nil {
		orders = []models.Order{}
	}
	raw, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.namespace, err)
	}
	if err := c.backend.Put(c.namespace, raw); err != nil {
		return fmt.Errorf("write %s: %w", c.namespace, err)
	}
	if c.bus != nil {
		c.bus.Publish(signal.Change{Origin: c.origin, Namespace: c.namespace, Orders: orders})
	}
	return nil
}

// Subscribe registers fn for writes made by other contexts in this namespace.
func (c *Cache) Subscribe(fn func(signal.Change)) func() {
	if c.bus == nil {
		return func() {}
	}
	return c.bus.Subscribe(c.origin, func(ch signal.Change) {
		if ch.Namespace != "" && ch.Namespace != c.namespace {
			return
		}
		fn(ch)
	})
}
