package keeper

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
)

var (
	tokenA     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	tokenB     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	testMarket = common.HexToAddress("0x0000000000000000000000000000000000000c3d")
	testMaker  = common.HexToAddress("0x0000000000000000000000000000000000000eee")
)

func makeOrder(id int64, fee int64) domain.Order {
	return domain.Order{
		ID:          big.NewInt(id),
		Kind:        domain.KindLimit,
		Maker:       testMaker,
		TokenIn:     tokenA,
		TokenOut:    tokenB,
		AmountIn:    big.NewInt(1_000),
		ExpectedOut: big.NewInt(900),
		ExecutorFee: big.NewInt(fee),
		Deposited:   big.NewInt(1_000 + fee),
		State:       domain.OrderPlaced,
	}
}

// fakeSub is a subscription whose error channel is driven by the test.
type fakeSub struct {
	errc chan error
	once sync.Once
	done chan struct{}
}

func newFakeSub() *fakeSub {
	return &fakeSub{errc: make(chan error, 1), done: make(chan struct{})}
}

func (s *fakeSub) Err() <-chan error { return s.errc }

func (s *fakeSub) Unsubscribe() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSub) fail(err error) { s.errc <- err }

type fakeAccount struct{}

func (fakeAccount) Address() common.Address { return testMaker }

type fakeBook struct {
	mu      sync.Mutex
	orders  []domain.Order
	listErr error
	sinks   map[domain.OrderEventKind]chan<- domain.OrderEvent
	subs    map[domain.OrderEventKind]*fakeSub

	execReceipt domain.ExecutionReceipt
	execErr     error
	// gate, when set, blocks ExecuteOrder until closed; started is
	// signalled as soon as ExecuteOrder is entered.
	gate    chan struct{}
	started chan struct{}
	execs   atomic.Int32
}

func newFakeBook(orders ...domain.Order) *fakeBook {
	return &fakeBook{
		orders: orders,
		sinks:  make(map[domain.OrderEventKind]chan<- domain.OrderEvent),
		subs:   make(map[domain.OrderEventKind]*fakeSub),
	}
}

func (b *fakeBook) ListOrders(context.Context) ([]domain.Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.orders, b.listErr
}

func (b *fakeBook) SubscribeOrders(_ context.Context, kind domain.OrderEventKind, sink chan<- domain.OrderEvent) (ethereum.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := newFakeSub()
	b.sinks[kind] = sink
	b.subs[kind] = sub
	return sub, nil
}

func (b *fakeBook) sink(kind domain.OrderEventKind) chan<- domain.OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinks[kind]
}

func (b *fakeBook) sub(kind domain.OrderEventKind) *fakeSub {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[kind]
}

func (b *fakeBook) ExecuteOrder(_ context.Context, _ domain.Order, _ uint64, _ *big.Int) (domain.ExecutionReceipt, error) {
	b.execs.Add(1)
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.gate != nil {
		<-b.gate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.execReceipt, b.execErr
}

func (b *fakeBook) Receipt(context.Context, common.Hash) (domain.ExecutionReceipt, error) {
	return domain.ExecutionReceipt{}, errors.New("not found")
}

type fakePricing struct {
	mu         sync.Mutex
	inTheMoney bool
	pricingErr error
	checks     atomic.Int32
	syncSinks  map[common.Address]chan<- domain.SyncEvent
	syncSubs   map[common.Address]int
}

func newFakePricing(inTheMoney bool) *fakePricing {
	return &fakePricing{
		inTheMoney: inTheMoney,
		syncSinks:  make(map[common.Address]chan<- domain.SyncEvent),
		syncSubs:   make(map[common.Address]int),
	}
}

func (p *fakePricing) PairAddress(context.Context, common.Address, common.Address) (common.Address, error) {
	return testMarket, nil
}

func (p *fakePricing) IsInTheMoney(context.Context, domain.Order) (bool, error) {
	p.checks.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inTheMoney, p.pricingErr
}

func (p *fakePricing) SubscribePairSync(_ context.Context, pair common.Address, sink chan<- domain.SyncEvent) (ethereum.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.syncSinks[pair] = sink
	p.syncSubs[pair]++
	return newFakeSub(), nil
}

func (p *fakePricing) syncSink(pair common.Address) chan<- domain.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncSinks[pair]
}

func (p *fakePricing) syncSubscriptions(pair common.Address) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncSubs[pair]
}

type fakeGas struct {
	mu          sync.Mutex
	estimate    uint64
	estimateErr error
	price       *big.Int
	priceErr    error
	// onEstimate, when set, runs at the start of every estimate.
	onEstimate func()
}

func (g *fakeGas) EstimateExecutionGas(context.Context, *big.Int) (uint64, error) {
	if g.onEstimate != nil {
		g.onEstimate()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.estimate, g.estimateErr
}

func (g *fakeGas) PreferredGasPrice(context.Context) (*big.Int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.price, g.priceErr
}

func (g *fakeGas) setEstimate(v uint64) {
	g.mu.Lock()
	g.estimate = v
	g.mu.Unlock()
}

type failureLog struct {
	mu    sync.Mutex
	gases []uint64
}

func (f *failureLog) RecordFailure(gasUsed uint64) {
	f.mu.Lock()
	f.gases = append(f.gases, gasUsed)
	f.mu.Unlock()
}

func (f *failureLog) recorded() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.gases...)
}

type fakeNotifier struct {
	mu    sync.Mutex
	codes []domain.ExitCode
	err   error
}

func (n *fakeNotifier) NotifyShutdown(_ context.Context, code domain.ExitCode, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes = append(n.codes, code)
	return n.err
}

func (n *fakeNotifier) notified() []domain.ExitCode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.ExitCode(nil), n.codes...)
}

type memJournal struct {
	mu       sync.Mutex
	attempts []domain.ExecutionAttempt
	trips    []domain.BreakerTrip
}

func (j *memJournal) RecordAttempt(_ context.Context, a domain.ExecutionAttempt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts = append(j.attempts, a)
	return nil
}

func (j *memJournal) RecordTrip(_ context.Context, t domain.BreakerTrip) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trips = append(j.trips, t)
	return nil
}

func (j *memJournal) recordedTrips() []domain.BreakerTrip {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.BreakerTrip(nil), j.trips...)
}

func (j *memJournal) recordedAttempts() []domain.ExecutionAttempt {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]domain.ExecutionAttempt(nil), j.attempts...)
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()
}

func (e *exitRecorder) calls() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}


// size reports how many lock entries remain.
func (l *lockSet) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
