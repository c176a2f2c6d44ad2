package keeper

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/keeper/internal/domain"
)

func newTestManager(book *fakeBook, pricing *fakePricing) *Manager {
	noopOrder := func(context.Context, domain.OrderEvent) {}
	noopSync := func(context.Context, domain.SyncEvent) {}
	return NewManager(book, pricing, fastStreams, noopOrder, noopSync, nil)
}

func TestManager_StartOpensLifecycleStreams(t *testing.T) {
	book := newFakeBook()
	m := newTestManager(book, newFakePricing(true))
	m.Start(context.Background())
	defer m.StopAll()

	for _, kind := range domain.OrderEventKinds {
		kind := kind
		require.Eventually(t, func() bool { return book.sink(kind) != nil }, time.Second, time.Millisecond, kind.String())
	}
	assert.Len(t, m.Handles(), 3)
}

func TestManager_EnsureMarketIsIdempotent(t *testing.T) {
	pricing := newFakePricing(true)
	m := newTestManager(newFakeBook(), pricing)

	m.EnsureMarket(testMarket)
	assert.Empty(t, m.Markets(), "ignored before Start")

	m.Start(context.Background())
	defer m.StopAll()
	m.EnsureMarket(testMarket)
	m.EnsureMarket(testMarket)

	require.Eventually(t, func() bool { return pricing.syncSubscriptions(testMarket) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []common.Address{testMarket}, m.Markets())
}

func TestManager_ReleaseMarket(t *testing.T) {
	m := newTestManager(newFakeBook(), newFakePricing(true))
	m.Start(context.Background())
	defer m.StopAll()
	m.EnsureMarket(testMarket)

	assert.False(t, m.ReleaseMarket(testMarket, func() bool { return true }), "still needed")
	assert.Len(t, m.Markets(), 1)

	assert.True(t, m.ReleaseMarket(testMarket, func() bool { return false }))
	assert.Empty(t, m.Markets())
	assert.False(t, m.ReleaseMarket(testMarket, nil), "already released")
}

func TestManager_StopAllStopsEverything(t *testing.T) {
	m := newTestManager(newFakeBook(), newFakePricing(true))
	m.Start(context.Background())
	m.EnsureMarket(testMarket)
	handles := m.Handles()
	require.Len(t, handles, 4)

	m.StopAll()
	for _, h := range handles {
		h := h
		require.Eventually(t, func() bool { return h.State() == StreamStopped }, time.Second, time.Millisecond, h.Name())
	}

	m.EnsureMarket(common.HexToAddress("0x1234"))
	assert.Empty(t, m.Markets(), "closed manager refuses new streams")
	m.StopAll()
}
