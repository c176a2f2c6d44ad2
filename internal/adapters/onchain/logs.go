package onchain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/event"
)

const logBuffer = 128

// watchLogs subscribes to q and pumps decoded values into sink, the way
// generated contract bindings do. The returned subscription fails with the
// decoder's error on the first malformed log and with the node's error on
// disconnect.
func watchLogs[T any](
	ctx context.Context,
	backend Backend,
	q ethereum.FilterQuery,
	decode func(types.Log) (T, error),
	sink chan<- T,
) (ethereum.Subscription, error) {
	logs := make(chan types.Log, logBuffer)
	sub, err := backend.SubscribeFilterLogs(ctx, q, logs)
	if err != nil {
		return nil, fmt.Errorf("onchain.watchLogs: subscribe: %w", err)
	}

	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer sub.Unsubscribe()
		for {
			select {
			case l := <-logs:
				if l.Removed {
					continue // reorged out
				}
				v, err := decode(l)
				if err != nil {
					return err
				}
				select {
				case sink <- v:
				case err := <-sub.Err():
					return err
				case <-quit:
					return nil
				}
			case err := <-sub.Err():
				return err
			case <-quit:
				return nil
			}
		}
	}), nil
}
