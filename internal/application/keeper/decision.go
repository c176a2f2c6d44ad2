package keeper

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
	"github.com/alejandrodnm/keeper/internal/telemetry"
)

// FailureRecorder receives failed executions (the Breaker).
type FailureRecorder interface {
	RecordFailure(gasUsed uint64)
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	// BadOrderRetries is how many consecutive gas estimation failures an
	// order survives; the next one evicts it.
	BadOrderRetries int
	// CallTimeout bounds each profitability/gas lookup. Zero means no timeout.
	CallTimeout time.Duration
}

// Engine decides, per order, whether to hold or execute.
type Engine struct {
	pricing  ports.MarketPricing
	gas      ports.GasOracle
	book     ports.OrderBook
	pools    *Registry
	failures FailureRecorder
	journal  ports.ExecutionJournal
	cfg      EngineConfig

	locks   *lockSet
	retries *retryCounter
}

// NewEngine wires the decision engine. journal may be nil.
func NewEngine(
	cfg EngineConfig,
	pricing ports.MarketPricing,
	gas ports.GasOracle,
	book ports.OrderBook,
	pools *Registry,
	failures FailureRecorder,
	journal ports.ExecutionJournal,
) *Engine {
	return &Engine{
		pricing:  pricing,
		gas:      gas,
		book:     book,
		pools:    pools,
		failures: failures,
		journal:  journal,
		cfg:      cfg,
		locks:    newLockSet(),
		retries:  newRetryCounter(),
	}
}

// Evaluate runs the execute-or-hold decision for one order of market.
// It returns true only when an execution transaction succeeded; the caller
// then drops the order from its pool. At most one attempt per order id is
// in flight at any time.
func (e *Engine) Evaluate(ctx context.Context, market common.Address, order domain.Order) bool {
	id := order.Key()

	if e.locks.isHeld(id) {
		outcome("skipped_locked")
		return false
	}
	if order.State != domain.OrderPlaced {
		outcome("skipped_state")
		return false
	}
	if !e.locks.tryAcquire(id) {
		outcome("skipped_locked")
		return false
	}

	executed := false
	defer func() {
		if !executed {
			e.locks.release(id)
		}
	}()

	inTheMoney, err := e.isInTheMoney(ctx, order)
	if err != nil {
		slog.Warn("keeper: profitability check failed", "order", id, "market", market.Hex(), "err", err)
		outcome("not_profitable")
		return false
	}
	if !inTheMoney {
		slog.Debug("keeper: order not in the money", "order", id, "market", market.Hex())
		outcome("not_profitable")
		return false
	}

	gasEstimate, err := e.estimateGas(ctx, order)
	if err != nil {
		e.onEstimateFailure(market, order, err)
		outcome("gas_estimate_failed")
		return false
	}
	e.retries.reset(id)
	if gasEstimate == 0 {
		slog.Debug("keeper: no usable gas estimate", "order", id)
		outcome("no_estimate")
		return false
	}

	gasPrice, err := e.gasPrice(ctx)
	if err != nil || gasPrice == nil || gasPrice.Sign() <= 0 {
		slog.Warn("keeper: preferred gas price unavailable", "order", id, "err", err)
		outcome("no_gas_price")
		return false
	}

	cost, ok := executionCost(gasEstimate, gasPrice)
	if !ok || !coversCost(order, cost) {
		slog.Info("keeper: executor fee does not cover gas cost, holding order",
			"order", id,
			"market", market.Hex(),
			"gas_estimate", gasEstimate,
			"gas_price", gasPrice.String(),
			"estimated_cost", cost.Dec(),
			"executor_fee", order.ExecutorFee.String(),
		)
		outcome("fee_too_low")
		return false
	}

	slog.Info("keeper: executing order",
		"order", id,
		"market", market.Hex(),
		"gas_estimate", gasEstimate,
		"gas_price", gasPrice.String(),
		"estimated_cost", cost.Dec(),
		"executor_fee", order.ExecutorFee.String(),
	)

	attempt := domain.ExecutionAttempt{
		ID:          uuid.New().String(),
		OrderID:     id,
		Market:      market,
		GasEstimate: gasEstimate,
		GasPrice:    gasPrice,
		ExecutorFee: order.ExecutorFee,
		AttemptedAt: time.Now().UTC(),
	}

	receipt, err := e.book.ExecuteOrder(ctx, order, gasEstimate, gasPrice)
	attempt.TxHash = receipt.TxHash
	attempt.GasUsed = receipt.GasUsed
	attempt.Success = err == nil
	if err != nil {
		attempt.Error = err.Error()
	}
	e.journalAttempt(attempt)

	if err != nil {
		slog.Error("keeper: execution failed",
			"order", id,
			"market", market.Hex(),
			"tx", receipt.TxHash.Hex(),
			"gas_used", receipt.GasUsed,
			"err", err,
		)
		telemetry.ExecutionsCounter.WithLabelValues("failure").Inc()
		outcome("execution_failed")
		e.failures.RecordFailure(receipt.GasUsed)
		return false
	}

	executed = true
	e.locks.settle(id)
	slog.Info("keeper: order executed",
		"order", id,
		"market", market.Hex(),
		"tx", receipt.TxHash.Hex(),
		"gas_used", receipt.GasUsed,
	)
	telemetry.ExecutionsCounter.WithLabelValues("success").Inc()
	outcome("executed")
	return true
}

// Forget drops bookkeeping for an order that left the book on-chain.
func (e *Engine) Forget(orderID string) {
	e.retries.reset(orderID)
	e.locks.forget(orderID)
}

func (e *Engine) onEstimateFailure(market common.Address, order domain.Order, err error) {
	id := order.Key()
	if e.locks.orphaned(id) {
		slog.Debug("keeper: gas estimation failed for an order that left the book", "order", id, "err", err)
		return
	}
	failures := e.retries.inc(id)
	slog.Warn("keeper: gas estimation failed",
		"order", id,
		"market", market.Hex(),
		"failures", failures,
		"max_retries", e.cfg.BadOrderRetries,
		"err", err,
	)
	if failures <= e.cfg.BadOrderRetries {
		return
	}
	e.pools.RemoveOrder(market, id)
	e.retries.reset(id)
	telemetry.EvictionsCounter.Inc()
	slog.Warn("keeper: evicted untrackable order", "order", id, "market", market.Hex(), "failures", failures)
}

func (e *Engine) isInTheMoney(ctx context.Context, order domain.Order) (bool, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.pricing.IsInTheMoney(ctx, order)
}

func (e *Engine) estimateGas(ctx context.Context, order domain.Order) (uint64, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.gas.EstimateExecutionGas(ctx, order.ID)
}

func (e *Engine) gasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := e.callContext(ctx)
	defer cancel()
	return e.gas.PreferredGasPrice(ctx)
}

func (e *Engine) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.cfg.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.CallTimeout)
}

func (e *Engine) journalAttempt(a domain.ExecutionAttempt) {
	if e.journal == nil {
		return
	}
	if err := e.journal.RecordAttempt(context.Background(), a); err != nil {
		slog.Warn("keeper: error journaling execution attempt", "order", a.OrderID, "err", err)
	}
}

// executionCost returns gas × price in 256-bit arithmetic; ok is false on overflow.
func executionCost(gas uint64, gasPrice *big.Int) (*uint256.Int, bool) {
	price, overflow := uint256.FromBig(gasPrice)
	if overflow {
		return new(uint256.Int).SetAllOne(), false
	}
	cost, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(gas), price)
	if overflow {
		return new(uint256.Int).SetAllOne(), false
	}
	return cost, true
}

// coversCost reports whether the executor fee strictly exceeds cost.
func coversCost(order domain.Order, cost *uint256.Int) bool {
	if order.ExecutorFee == nil || order.ExecutorFee.Sign() <= 0 {
		return false
	}
	fee, overflow := uint256.FromBig(order.ExecutorFee)
	if overflow {
		return true
	}
	return cost.Lt(fee)
}

func outcome(name string) {
	telemetry.EvaluationsCounter.WithLabelValues(name).Inc()
}
