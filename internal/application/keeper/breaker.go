package keeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/keeper/internal/domain"
	"github.com/alejandrodnm/keeper/internal/ports"
	"github.com/alejandrodnm/keeper/internal/telemetry"
)

// BreakerConfig sets the failure thresholds. Zero disables a threshold;
// a zero Window disables the reset timer.
type BreakerConfig struct {
	MaxFailedTxs   int
	MaxFailedGas   uint64
	Window         time.Duration
	ResetOnFailure bool
}

// timer is the part of *time.Timer the breaker needs.
type timer interface {
	Stop() bool
}

// Breaker counts failed executions and the gas they burned inside a window
// and trips once a threshold is reached.
type Breaker struct {
	cfg       BreakerConfig
	trip      func(code domain.ExitCode, reason string)
	journal   ports.ExecutionJournal
	afterFunc func(d time.Duration, f func()) timer

	mu        sync.Mutex
	failedTxs int
	gasLost   uint64
	timer     timer
	gen       uint64 // guards against a stopped timer firing late
}

// NewBreaker creates a breaker calling trip when a threshold is reached.
// journal may be nil.
func NewBreaker(cfg BreakerConfig, trip func(code domain.ExitCode, reason string), journal ports.ExecutionJournal) *Breaker {
	return &Breaker{
		cfg:     cfg,
		trip:    trip,
		journal: journal,
		afterFunc: func(d time.Duration, f func()) timer {
			return time.AfterFunc(d, f)
		},
	}
}

// RecordFailure adds one failed execution that consumed gasUsed.
func (b *Breaker) RecordFailure(gasUsed uint64) {
	b.mu.Lock()
	b.failedTxs++
	b.gasLost += gasUsed
	failed, lost := b.failedTxs, b.gasLost

	code := domain.ExitOK
	switch {
	case b.cfg.MaxFailedTxs > 0 && failed >= b.cfg.MaxFailedTxs:
		code = domain.ExitTooManyFailures
	case b.cfg.MaxFailedGas > 0 && lost >= b.cfg.MaxFailedGas:
		code = domain.ExitTooMuchGasLost
	}

	if code == domain.ExitOK && b.cfg.Window > 0 {
		switch {
		case b.timer == nil:
			b.startTimerLocked()
		case b.cfg.ResetOnFailure:
			b.timer.Stop()
			b.startTimerLocked()
		}
	}
	b.mu.Unlock()

	slog.Warn("breaker: failed execution recorded",
		"failed_txs", failed,
		"gas_lost", lost,
		"max_failed_txs", b.cfg.MaxFailedTxs,
		"max_failed_gas", b.cfg.MaxFailedGas,
	)

	if code == domain.ExitOK {
		return
	}

	slog.Error("breaker: tripped", "reason", code.String(), "failed_txs", failed, "gas_lost", lost)
	telemetry.BreakerTripsCounter.WithLabelValues(code.String()).Inc()
	if b.journal != nil {
		trip := domain.BreakerTrip{Code: code, FailedTxs: failed, GasLost: lost, TrippedAt: time.Now().UTC()}
		if err := b.journal.RecordTrip(context.Background(), trip); err != nil {
			slog.Warn("breaker: error journaling trip", "err", err)
		}
	}
	if b.trip != nil {
		b.trip(code, "circuit breaker: "+code.String())
	}
}

// Snapshot returns the current window counters.
func (b *Breaker) Snapshot() (failedTxs int, gasLost uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failedTxs, b.gasLost
}

// Stop cancels the reset timer.
func (b *Breaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
		b.gen++
	}
}

func (b *Breaker) startTimerLocked() {
	b.gen++
	gen := b.gen
	b.timer = b.afterFunc(b.cfg.Window, func() { b.expire(gen) })
}

func (b *Breaker) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}
	slog.Info("breaker: failure window expired, counters reset",
		"failed_txs", b.failedTxs, "gas_lost", b.gasLost)
	b.failedTxs = 0
	b.gasLost = 0
	b.timer = nil
}
