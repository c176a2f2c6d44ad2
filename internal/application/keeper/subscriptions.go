package keeper

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
)

// Manager owns the order lifecycle streams and one price sync stream per
// tracked market.
type Manager struct {
	book    ports.OrderBook
	pricing ports.MarketPricing
	opts    StreamOptions

	onOrder func(ctx context.Context, ev domain.OrderEvent)
	onSync  func(ctx context.Context, ev domain.SyncEvent)
	fatal   func(name string, err error)

	mu        sync.Mutex
	ctx       context.Context
	closed    bool
	lifecycle []*Stream[domain.OrderEvent]
	markets   map[common.Address]*Stream[domain.SyncEvent]
}

// NewManager creates a manager. Nothing is subscribed until Start.
func NewManager(
	book ports.OrderBook,
	pricing ports.MarketPricing,
	opts StreamOptions,
	onOrder func(ctx context.Context, ev domain.OrderEvent),
	onSync func(ctx context.Context, ev domain.SyncEvent),
	fatal func(name string, err error),
) *Manager {
	return &Manager{
		book:    book,
		pricing: pricing,
		opts:    opts,
		onOrder: onOrder,
		onSync:  onSync,
		fatal:   fatal,
		markets: make(map[common.Address]*Stream[domain.SyncEvent]),
	}
}

// Start opens the three order lifecycle streams.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ctx != nil {
		return
	}
	m.ctx = ctx

	for _, kind := range domain.OrderEventKinds {
		kind := kind
		subscribe := func(ctx context.Context, sink chan<- domain.OrderEvent) (ethereum.Subscription, error) {
			return m.book.SubscribeOrders(ctx, kind, sink)
		}
		s := NewStream(kind.String(), subscribe, m.onOrder, m.fatal, m.opts)
		m.lifecycle = append(m.lifecycle, s)
		s.Start(ctx)
	}
	slog.Info("keeper: order lifecycle streams started", "streams", len(m.lifecycle))
}

// EnsureMarket opens the market's sync stream unless one is already open.
// Calls before Start or after StopAll are ignored.
func (m *Manager) EnsureMarket(market common.Address) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ctx == nil {
		return
	}
	if _, ok := m.markets[market]; ok {
		return
	}

	subscribe := func(ctx context.Context, sink chan<- domain.SyncEvent) (ethereum.Subscription, error) {
		return m.pricing.SubscribePairSync(ctx, market, sink)
	}
	s := NewStream("sync:"+market.Hex(), subscribe, m.onSync, m.fatal, m.opts)
	m.markets[market] = s
	s.Start(m.ctx)
	slog.Info("keeper: market sync stream started", "market", market.Hex())
}

// ReleaseMarket stops the market's sync stream unless stillNeeded reports
// otherwise. stillNeeded runs under the manager lock so a concurrent
// EnsureMarket cannot interleave with the decision.
func (m *Manager) ReleaseMarket(market common.Address, stillNeeded func() bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.markets[market]
	if !ok {
		return false
	}
	if stillNeeded != nil && stillNeeded() {
		return false
	}
	delete(m.markets, market)
	s.Stop()
	slog.Info("keeper: market sync stream stopped", "market", market.Hex())
	return true
}

// Markets returns the markets with an open sync stream.
func (m *Manager) Markets() []common.Address {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]common.Address, 0, len(m.markets))
	for market := range m.markets {
		out = append(out, market)
	}
	return out
}

// Handles returns every live stream handle.
func (m *Manager) Handles() []StreamHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StreamHandle, 0, len(m.lifecycle)+len(m.markets))
	for _, s := range m.lifecycle {
		out = append(out, s)
	}
	for _, s := range m.markets {
		out = append(out, s)
	}
	return out
}

// StopAll stops every stream and refuses new ones. Safe to call repeatedly.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.closed = true
	lifecycle := m.lifecycle
	markets := m.markets
	m.lifecycle = nil
	m.markets = make(map[common.Address]*Stream[domain.SyncEvent])
	m.mu.Unlock()

	for _, s := range lifecycle {
		s.Stop()
	}
	for _, s := range markets {
		s.Stop()
	}
	if len(lifecycle)+len(markets) > 0 {
		slog.Info("keeper: subscriptions stopped", "lifecycle", len(lifecycle), "markets", len(markets))
	}
}
