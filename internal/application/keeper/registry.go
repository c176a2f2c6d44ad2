package keeper

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/telemetry"
)

// Pool holds the pending orders of one market.
type Pool struct {
	market common.Address

	mu     sync.RWMutex
	orders map[string]domain.Order
}

func newPool(market common.Address) *Pool {
	return &Pool{market: market, orders: make(map[string]domain.Order)}
}

// Market returns the pair address the pool is keyed by.
func (p *Pool) Market() common.Address { return p.market }

// Len returns the number of orders in the pool.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.orders)
}

// Orders returns a snapshot of the pool's orders in no particular order.
func (p *Pool) Orders() []domain.Order {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Order, 0, len(p.orders))
	for _, o := range p.orders {
		out = append(out, o)
	}
	return out
}

// Registry groups pending orders by market. A pool exists while it owns at
// least one order; the last removal deletes it.
type Registry struct {
	mu      sync.Mutex
	pools   map[common.Address]*Pool
	tracked int

	onCreate func(market common.Address)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[common.Address]*Pool)}
}

// OnPoolCreated registers the hook run (outside the registry lock) every
// time a market pool is created.
func (r *Registry) OnPoolCreated(fn func(market common.Address)) {
	r.mu.Lock()
	r.onCreate = fn
	r.mu.Unlock()
}

// GetOrCreate returns the market's pool, creating it when absent. The
// creation hook runs outside the registry lock; until its first order lands
// the new pool is empty but already visible to Has.
func (r *Registry) GetOrCreate(market common.Address) *Pool {
	r.mu.Lock()
	pool, created := r.getOrCreateLocked(market)
	hook := r.onCreate
	r.mu.Unlock()

	if created && hook != nil {
		hook(market)
	}
	return pool
}

// AddOrder inserts (or replaces) an order in its market's pool.
func (r *Registry) AddOrder(market common.Address, order domain.Order) {
	for {
		pool := r.GetOrCreate(market)

		r.mu.Lock()
		if r.pools[market] != pool {
			// emptied and dropped between lookup and insert
			r.mu.Unlock()
			continue
		}
		pool.mu.Lock()
		if _, exists := pool.orders[order.Key()]; !exists {
			r.tracked++
		}
		pool.orders[order.Key()] = order
		pool.mu.Unlock()
		tracked := r.tracked
		r.mu.Unlock()

		telemetry.TrackedOrdersGauge.Set(float64(tracked))
		return
	}
}

// RemoveOrder drops an order from its market's pool. Removing an unknown
// order is a no-op. Returns true when something was removed; the pool goes
// away with its last order.
func (r *Registry) RemoveOrder(market common.Address, orderID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	pool, ok := r.pools[market]
	if !ok {
		return false
	}

	pool.mu.Lock()
	_, found := pool.orders[orderID]
	delete(pool.orders, orderID)
	empty := len(pool.orders) == 0
	pool.mu.Unlock()

	if !found {
		return false
	}
	if empty {
		delete(r.pools, market)
	}
	r.tracked--
	telemetry.TrackedOrdersGauge.Set(float64(r.tracked))
	return true
}

// Has reports whether the market has a pool, including one just created
// whose first order is still being inserted.
func (r *Registry) Has(market common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pools[market]
	return ok
}

// Count returns the number of orders tracked for a market (0 when absent).
func (r *Registry) Count(market common.Address) int {
	r.mu.Lock()
	pool, ok := r.pools[market]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	return pool.Len()
}

// Orders returns a snapshot of a market's orders.
func (r *Registry) Orders(market common.Address) []domain.Order {
	r.mu.Lock()
	pool, ok := r.pools[market]
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return pool.Orders()
}

// Markets returns every market currently holding orders.
func (r *Registry) Markets() []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]common.Address, 0, len(r.pools))
	for m := range r.pools {
		out = append(out, m)
	}
	return out
}

// Tracked returns the total number of orders across all pools.
func (r *Registry) Tracked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tracked
}

func (r *Registry) getOrCreateLocked(market common.Address) (*Pool, bool) {
	if pool, ok := r.pools[market]; ok {
		return pool, false
	}
	pool := newPool(market)
	r.pools[market] = pool
	return pool, true
}
