package domain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderState represents the on-chain lifecycle of an order.
type OrderState uint8

const (
	OrderPlaced OrderState = iota
	OrderCancelled
	OrderExecuted
)

func (s OrderState) String() string {
	switch s {
	case OrderPlaced:
		return "PLACED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderExecuted:
		return "EXECUTED"
	default:
		return fmt.Sprintf("STATE(%d)", uint8(s))
	}
}

// OrderKind is the order type as encoded by the order book contract.
type OrderKind uint8

const (
	KindLimit OrderKind = iota
	KindStopLoss
)

func (k OrderKind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindStopLoss:
		return "STOP_LOSS"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Order is a resting swap request as observed on-chain. The keeper never
// mutates it; bookkeeping (locks, retry counts) lives outside.
type Order struct {
	ID           *big.Int
	Kind         OrderKind
	Maker        common.Address
	TokenIn      common.Address
	TokenOut     common.Address
	AmountIn     *big.Int
	ExpectedOut  *big.Int
	ExecutorFee  *big.Int // paid to whoever triggers execution
	Deposited    *big.Int
	State        OrderState
	Deflationary bool // fee-on-transfer token involved
}

// Key is the map key used by every per-order container.
func (o Order) Key() string {
	if o.ID == nil {
		return ""
	}
	return o.ID.String()
}

// Validate rejects payloads missing fields the keeper relies on.
func (o Order) Validate() error {
	switch {
	case o.ID == nil:
		return fmt.Errorf("%w: order id missing", ErrMalformedEvent)
	case o.TokenIn == (common.Address{}) || o.TokenOut == (common.Address{}):
		return fmt.Errorf("%w: order %s: token address missing", ErrMalformedEvent, o.ID)
	case o.AmountIn == nil || o.ExpectedOut == nil || o.ExecutorFee == nil:
		return fmt.Errorf("%w: order %s: amount missing", ErrMalformedEvent, o.ID)
	case o.State > OrderExecuted:
		return fmt.Errorf("%w: order %s: unknown state %d", ErrMalformedEvent, o.ID, o.State)
	}
	return nil
}
