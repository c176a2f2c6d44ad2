package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OrderEventKind tags the three order lifecycle streams.
type OrderEventKind uint8

const (
	EventOrderPlaced OrderEventKind = iota
	EventOrderCancelled
	EventOrderExecuted
)

// OrderEventKinds lists every lifecycle stream the keeper opens.
var OrderEventKinds = []OrderEventKind{EventOrderPlaced, EventOrderCancelled, EventOrderExecuted}

func (k OrderEventKind) String() string {
	switch k {
	case EventOrderPlaced:
		return "OrderPlaced"
	case EventOrderCancelled:
		return "OrderCancelled"
	case EventOrderExecuted:
		return "OrderExecuted"
	default:
		return "Unknown"
	}
}

// OrderEvent is a validated lifecycle event. Order is always populated.
type OrderEvent struct {
	Kind   OrderEventKind
	Order  Order
	TxHash common.Hash
	Block  uint64
}

// SyncEvent is a price update on a market (pair reserves changed).
type SyncEvent struct {
	Market   common.Address
	Reserve0 *big.Int
	Reserve1 *big.Int
	Block    uint64
}
