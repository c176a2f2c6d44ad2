package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ExecutionReceipt is the ledger outcome of an execution transaction.
// A zero TxHash means the transaction never reached the ledger.
type ExecutionReceipt struct {
	TxHash            common.Hash
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	Block             uint64
	Success           bool
}

// ExecutionAttempt is one journaled executeOrder attempt.
type ExecutionAttempt struct {
	ID          string // UUID
	OrderID     string
	Market      common.Address
	GasEstimate uint64
	GasPrice    *big.Int
	ExecutorFee *big.Int
	TxHash      common.Hash
	GasUsed     uint64
	Success     bool
	Error       string
	AttemptedAt time.Time
}

// BreakerTrip records the failure window state at the moment the breaker tripped.
type BreakerTrip struct {
	Code      ExitCode
	FailedTxs int
	GasLost   uint64
	TrippedAt time.Time
}

// JournalStats aggregates the execution journal.
type JournalStats struct {
	Attempts     int
	Succeeded    int
	Failed       int
	GasUsedTotal uint64
	GasLost      uint64
	Trips        int
	FirstAttempt time.Time
	LastAttempt  time.Time
}
