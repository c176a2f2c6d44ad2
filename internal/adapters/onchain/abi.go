package onchain

// abi.go holds the contract ABIs the keeper talks to:
//
//   - the order book (open order listing, lifecycle events, executeOrder)
//   - the pair factory (getPair)
//   - the router (getAmountsOut quotes)
//   - the pair itself (Sync events on every reserve update)

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alejandrodnm/keeper/internal/domain"
)

const orderTupleJSON = `{"name": "order", "type": "tuple", "internalType": "struct OrderBook.Order", "components": [
	{"name": "id", "type": "uint256"},
	{"name": "orderType", "type": "uint8"},
	{"name": "maker", "type": "address"},
	{"name": "inputToken", "type": "address"},
	{"name": "outputToken", "type": "address"},
	{"name": "inputAmount", "type": "uint256"},
	{"name": "expectedOutput", "type": "uint256"},
	{"name": "executorFee", "type": "uint256"},
	{"name": "deposited", "type": "uint256"},
	{"name": "status", "type": "uint8"},
	{"name": "isDeflationary", "type": "bool"}
]}`

var (
	orderBookABI abi.ABI
	factoryABI   abi.ABI
	routerABI    abi.ABI
	pairABI      abi.ABI
)

func init() {
	var err error

	orderBookABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getOpenOrders",
			"type": "function",
			"stateMutability": "view",
			"inputs": [],
			"outputs": [{"name": "orders", "type": "tuple[]", "internalType": "struct OrderBook.Order[]", "components": [
				{"name": "id", "type": "uint256"},
				{"name": "orderType", "type": "uint8"},
				{"name": "maker", "type": "address"},
				{"name": "inputToken", "type": "address"},
				{"name": "outputToken", "type": "address"},
				{"name": "inputAmount", "type": "uint256"},
				{"name": "expectedOutput", "type": "uint256"},
				{"name": "executorFee", "type": "uint256"},
				{"name": "deposited", "type": "uint256"},
				{"name": "status", "type": "uint8"},
				{"name": "isDeflationary", "type": "bool"}
			]}]
		},
		{
			"name": "executeOrder",
			"type": "function",
			"inputs": [{"name": "orderId", "type": "uint256"}],
			"outputs": []
		},
		{
			"name": "OrderPlaced",
			"type": "event",
			"anonymous": false,
			"inputs": [{"name": "orderId", "type": "uint256", "indexed": true}, ` + orderTupleJSON + `]
		},
		{
			"name": "OrderCancelled",
			"type": "event",
			"anonymous": false,
			"inputs": [{"name": "orderId", "type": "uint256", "indexed": true}, ` + orderTupleJSON + `]
		},
		{
			"name": "OrderExecuted",
			"type": "event",
			"anonymous": false,
			"inputs": [{"name": "orderId", "type": "uint256", "indexed": true}, ` + orderTupleJSON + `]
		}
	]`))
	if err != nil {
		panic("order book abi parse: " + err.Error())
	}

	factoryABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getPair",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "tokenA", "type": "address"},
				{"name": "tokenB", "type": "address"}
			],
			"outputs": [{"name": "pair", "type": "address"}]
		}
	]`))
	if err != nil {
		panic("factory abi parse: " + err.Error())
	}

	routerABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "getAmountsOut",
			"type": "function",
			"stateMutability": "view",
			"inputs": [
				{"name": "amountIn", "type": "uint256"},
				{"name": "path", "type": "address[]"}
			],
			"outputs": [{"name": "amounts", "type": "uint256[]"}]
		}
	]`))
	if err != nil {
		panic("router abi parse: " + err.Error())
	}

	pairABI, err = abi.JSON(strings.NewReader(`[
		{
			"name": "Sync",
			"type": "event",
			"anonymous": false,
			"inputs": [
				{"name": "reserve0", "type": "uint112", "indexed": false},
				{"name": "reserve1", "type": "uint112", "indexed": false}
			]
		}
	]`))
	if err != nil {
		panic("pair abi parse: " + err.Error())
	}
}

// orderTuple mirrors the contract's Order struct.
type orderTuple struct {
	Id             *big.Int
	OrderType      uint8
	Maker          common.Address
	InputToken     common.Address
	OutputToken    common.Address
	InputAmount    *big.Int
	ExpectedOutput *big.Int
	ExecutorFee    *big.Int
	Deposited      *big.Int
	Status         uint8
	IsDeflationary bool
}

func (t orderTuple) toDomain() (domain.Order, error) {
	o := domain.Order{
		ID:           t.Id,
		Kind:         domain.OrderKind(t.OrderType),
		Maker:        t.Maker,
		TokenIn:      t.InputToken,
		TokenOut:     t.OutputToken,
		AmountIn:     t.InputAmount,
		ExpectedOut:  t.ExpectedOutput,
		ExecutorFee:  t.ExecutorFee,
		Deposited:    t.Deposited,
		State:        domain.OrderState(t.Status),
		Deflationary: t.IsDeflationary,
	}
	if err := o.Validate(); err != nil {
		return domain.Order{}, err
	}
	return o, nil
}

func fromDomain(o domain.Order) orderTuple {
	return orderTuple{
		Id:             o.ID,
		OrderType:      uint8(o.Kind),
		Maker:          o.Maker,
		InputToken:     o.TokenIn,
		OutputToken:    o.TokenOut,
		InputAmount:    o.AmountIn,
		ExpectedOutput: o.ExpectedOut,
		ExecutorFee:    o.ExecutorFee,
		Deposited:      o.Deposited,
		Status:         uint8(o.State),
		IsDeflationary: o.Deflationary,
	}
}

// convert runs abi.ConvertType, turning its panics into ErrMalformedEvent.
func convert[T any](in any) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrMalformedEvent, r)
		}
	}()
	return *abi.ConvertType(in, new(T)).(*T), nil
}

// decodeOpenOrders unpacks a getOpenOrders result.
func decodeOpenOrders(data []byte) ([]domain.Order, error) {
	out, err := orderBookABI.Unpack("getOpenOrders", data)
	if err != nil {
		return nil, fmt.Errorf("onchain.decodeOpenOrders: unpack: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("onchain.decodeOpenOrders: expected 1 value, got %d", len(out))
	}
	tuples, err := convert[[]orderTuple](out[0])
	if err != nil {
		return nil, fmt.Errorf("onchain.decodeOpenOrders: %w", err)
	}

	orders := make([]domain.Order, 0, len(tuples))
	for _, t := range tuples {
		o, err := t.toDomain()
		if err != nil {
			return nil, fmt.Errorf("onchain.decodeOpenOrders: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// decodeOrderEvent turns a lifecycle log into a validated OrderEvent.
// Any decoding failure wraps domain.ErrMalformedEvent.
func decodeOrderEvent(kind domain.OrderEventKind, l types.Log) (domain.OrderEvent, error) {
	name := kind.String()
	ev, ok := orderBookABI.Events[name]
	if !ok {
		return domain.OrderEvent{}, fmt.Errorf("%w: unknown event %s", domain.ErrMalformedEvent, name)
	}
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return domain.OrderEvent{}, fmt.Errorf("%w: %s: topic mismatch", domain.ErrMalformedEvent, name)
	}

	out, err := orderBookABI.Unpack(name, l.Data)
	if err != nil || len(out) != 1 {
		return domain.OrderEvent{}, fmt.Errorf("%w: %s: unpack: %v", domain.ErrMalformedEvent, name, err)
	}
	tuple, err := convert[orderTuple](out[0])
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("onchain.decodeOrderEvent: %s: %w", name, err)
	}
	order, err := tuple.toDomain()
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("onchain.decodeOrderEvent: %s: %w", name, err)
	}

	return domain.OrderEvent{
		Kind:   kind,
		Order:  order,
		TxHash: l.TxHash,
		Block:  l.BlockNumber,
	}, nil
}

// decodeSync turns a pair Sync log into a SyncEvent.
func decodeSync(l types.Log) (domain.SyncEvent, error) {
	ev := pairABI.Events["Sync"]
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return domain.SyncEvent{}, fmt.Errorf("%w: Sync: topic mismatch", domain.ErrMalformedEvent)
	}
	out, err := pairABI.Unpack("Sync", l.Data)
	if err != nil || len(out) != 2 {
		return domain.SyncEvent{}, fmt.Errorf("%w: Sync: unpack: %v", domain.ErrMalformedEvent, err)
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	if !ok0 || !ok1 {
		return domain.SyncEvent{}, fmt.Errorf("%w: Sync: unexpected reserve types", domain.ErrMalformedEvent)
	}
	return domain.SyncEvent{
		Market:   l.Address,
		Reserve0: r0,
		Reserve1: r1,
		Block:    l.BlockNumber,
	}, nil
}
