package keeper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
)

// Config holds everything the keeper core needs besides its collaborators.
type Config struct {
	Engine  EngineConfig
	Breaker BreakerConfig
	Streams StreamOptions
	// EvaluationWorkers bounds concurrent evaluations within one sync tick.
	EvaluationWorkers int
}

// DefaultConfig returns a config with the non-required knobs filled in.
func DefaultConfig() Config {
	return Config{
		Engine:            EngineConfig{BadOrderRetries: 3, CallTimeout: 20 * time.Second},
		Streams:           DefaultStreamOptions(),
		EvaluationWorkers: 4,
	}
}

// Deps are the keeper's collaborators. Notifier and Journal are optional.
type Deps struct {
	Account   ports.Account
	OrderBook ports.OrderBook
	Pricing   ports.MarketPricing
	Gas       ports.GasOracle
	Notifier  ports.Notifier
	Journal   ports.ExecutionJournal
	// Closers are closed during shutdown, after subscriptions stop.
	Closers []io.Closer
}

func (d Deps) validate() error {
	var missing []string
	if d.Account == nil {
		missing = append(missing, "account")
	}
	if d.OrderBook == nil {
		missing = append(missing, "order book")
	}
	if d.Pricing == nil {
		missing = append(missing, "market pricing")
	}
	if d.Gas == nil {
		missing = append(missing, "gas oracle")
	}
	if len(missing) > 0 {
		return fmt.Errorf("keeper.New: %v: %w", missing, domain.ErrMissingCollaborator)
	}
	return nil
}

type fatalSignal struct {
	code   domain.ExitCode
	reason string
}

// Keeper wires the registry, subscriptions, decision engine, breaker and
// shutdown coordinator together.
type Keeper struct {
	cfg  Config
	deps Deps

	pools    *Registry
	engine   *Engine
	breaker  *Breaker
	subs     *Manager
	shutdown *Shutdown

	fatalCh chan fatalSignal
}

// New validates the collaborators and builds a keeper. exit is called once
// with the final process exit code (os.Exit in production).
func New(cfg Config, deps Deps, exit func(code int)) (*Keeper, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.EvaluationWorkers <= 0 {
		cfg.EvaluationWorkers = 1
	}

	k := &Keeper{
		cfg:     cfg,
		deps:    deps,
		pools:   NewRegistry(),
		fatalCh: make(chan fatalSignal, 1),
	}
	k.breaker = NewBreaker(cfg.Breaker, k.raise, deps.Journal)
	k.engine = NewEngine(cfg.Engine, deps.Pricing, deps.Gas, deps.OrderBook, k.pools, k.breaker, deps.Journal)
	k.subs = NewManager(deps.OrderBook, deps.Pricing, cfg.Streams, k.handleOrderEvent, k.handleSync, k.streamFailed)

	closers := append([]io.Closer{breakerCloser{k.breaker}}, deps.Closers...)
	k.shutdown = NewShutdown(k.subs, deps.Notifier, closers, exit)
	return k, nil
}

// Registry exposes the market pools.
func (k *Keeper) Registry() *Registry { return k.pools }

// Subscriptions exposes the stream manager.
func (k *Keeper) Subscriptions() *Manager { return k.subs }

// Engine exposes the decision engine.
func (k *Keeper) Engine() *Engine { return k.engine }

// Breaker exposes the circuit breaker.
func (k *Keeper) Breaker() *Breaker { return k.breaker }

// Run loads the open orders, starts the streams and blocks until ctx is
// cancelled or a fatal condition occurs. It then shuts down and returns the
// exit code handed to exit.
func (k *Keeper) Run(ctx context.Context) domain.ExitCode {
	slog.Info("keeper: starting", "account", k.deps.Account.Address().Hex())

	if err := k.bootstrap(ctx); err != nil {
		slog.Error("keeper: bootstrap failed", "err", err)
		return k.shutdown.Shutdown(domain.ExitFailure, err.Error())
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	k.pools.OnPoolCreated(k.subs.EnsureMarket)
	k.subs.Start(streamCtx)
	for _, market := range k.pools.Markets() {
		k.subs.EnsureMarket(market)
	}
	slog.Info("keeper: running", "markets", len(k.pools.Markets()), "orders", k.pools.Tracked())

	var sig fatalSignal
	select {
	case <-ctx.Done():
		sig = fatalSignal{code: domain.ExitOK, reason: "signal received"}
	case sig = <-k.fatalCh:
	}
	for _, h := range k.subs.Handles() {
		slog.Debug("keeper: stream state at shutdown", "stream", h.Name(), "state", h.State().String())
	}
	return k.shutdown.Shutdown(sig.code, sig.reason)
}

// bootstrap places every open order into its market pool.
func (k *Keeper) bootstrap(ctx context.Context) error {
	orders, err := k.deps.OrderBook.ListOrders(ctx)
	if err != nil {
		return fmt.Errorf("keeper.bootstrap: list orders: %w", err)
	}

	loaded := 0
	for _, order := range orders {
		if order.State != domain.OrderPlaced {
			continue
		}
		market, err := k.deps.Pricing.PairAddress(ctx, order.TokenIn, order.TokenOut)
		if err != nil {
			slog.Warn("keeper: skipping order without market", "order", order.Key(), "err", err)
			continue
		}
		k.pools.AddOrder(market, order)
		loaded++
	}
	slog.Info("keeper: open orders loaded", "listed", len(orders), "tracked", loaded)
	return nil
}

func (k *Keeper) handleOrderEvent(ctx context.Context, ev domain.OrderEvent) {
	order := ev.Order
	id := order.Key()

	market, err := k.deps.Pricing.PairAddress(ctx, order.TokenIn, order.TokenOut)
	if err != nil {
		slog.Warn("keeper: cannot resolve market for order event",
			"event", ev.Kind.String(), "order", id, "tx", ev.TxHash.Hex(), "err", err)
		return
	}

	switch ev.Kind {
	case domain.EventOrderPlaced:
		slog.Info("keeper: order placed", "order", id, "market", market.Hex(), "block", ev.Block)
		if k.engine.Evaluate(ctx, market, order) {
			return
		}
		k.pools.AddOrder(market, order)

	case domain.EventOrderCancelled, domain.EventOrderExecuted:
		removed := k.pools.RemoveOrder(market, id)
		k.engine.Forget(id)
		slog.Info("keeper: order left the book",
			"event", ev.Kind.String(), "order", id, "market", market.Hex(), "tracked", removed)
	}
}

// handleSync re-evaluates every order of the ticking market and drops the
// market's stream once its pool is empty.
func (k *Keeper) handleSync(ctx context.Context, ev domain.SyncEvent) {
	market := ev.Market
	orders := k.pools.Orders(market)
	slog.Debug("keeper: sync tick", "market", market.Hex(), "orders", len(orders), "block", ev.Block)

	executed := k.evaluateAll(ctx, market, orders)
	for _, id := range executed {
		k.pools.RemoveOrder(market, id)
	}

	if !k.pools.Has(market) {
		k.subs.ReleaseMarket(market, func() bool { return k.pools.Has(market) })
	}
}

// evaluateAll runs Evaluate over orders with a bounded worker pool and
// returns the ids that were executed.
func (k *Keeper) evaluateAll(ctx context.Context, market common.Address, orders []domain.Order) []string {
	if len(orders) == 0 {
		return nil
	}
	workers := min(k.cfg.EvaluationWorkers, len(orders))

	workCh := make(chan domain.Order, len(orders))
	for _, o := range orders {
		workCh <- o
	}
	close(workCh)

	var (
		mu       sync.Mutex
		executed []string
		wg       sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for o := range workCh {
				if k.engine.Evaluate(ctx, market, o) {
					mu.Lock()
					executed = append(executed, o.Key())
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	return executed
}

// raise requests shutdown with code. The first request wins.
func (k *Keeper) raise(code domain.ExitCode, reason string) {
	select {
	case k.fatalCh <- fatalSignal{code: code, reason: reason}:
	default:
	}
}

func (k *Keeper) streamFailed(name string, err error) {
	k.raise(domain.ExitFailure, fmt.Sprintf("stream %s: %v", name, err))
}

type breakerCloser struct{ b *Breaker }

func (c breakerCloser) Close() error {
	c.b.Stop()
	return nil
}
