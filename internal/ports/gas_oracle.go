package ports

import (
	"context"
	"math/big"
)

// GasOracle prices execution transactions.
type GasOracle interface {
	// EstimateExecutionGas returns the gas an executeOrder call would use.
	// Zero means no usable estimate.
	EstimateExecutionGas(ctx context.Context, orderID *big.Int) (uint64, error)

	// PreferredGasPrice returns the gas price for the configured tier.
	PreferredGasPrice(ctx context.Context) (*big.Int, error)
}
