package ports

import "github.com/ethereum/go-ethereum/common"

// Account is the signing identity executing orders.
type Account interface {
	Address() common.Address
}
