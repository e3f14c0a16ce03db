package cart

import (
	"context"
	"sync"

	"github.com/irsalhamdi/e-commerce-cart/storage"
	"github.com/sirupsen/logrus"
)

// Manager hands out one engine per cart scope key, hydrating each from
// storage the first time the key is seen. Engines share the pricing policy,
// store and coupon validator.
type Manager struct {
	mu      sync.Mutex
	engines map[string]*Engine

	policy  Policy
	store   storage.Store
	coupons CouponValidator
	log     logrus.FieldLogger
}

func NewManager(policy Policy, store storage.Store, coupons CouponValidator, log logrus.FieldLogger) *Manager {
	return &Manager{
		engines: make(map[string]*Engine),
		policy:  policy,
		store:   store,
		coupons: coupons,
		log:     log,
	}
}

// Get returns the engine for the key, building and loading it on first use.
func (m *Manager) Get(ctx context.Context, key string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.engines[key]; ok {
		return e
	}

	e := NewEngine(key, m.policy, m.store, m.coupons, m.log)
	e.Load(ctx)
	m.engines[key] = e
	return e
}

// Flush waits for every engine's in-flight snapshot writes; called on
// shutdown so the last mutations reach storage.
func (m *Manager) Flush() {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		e.Flush()
	}
}
