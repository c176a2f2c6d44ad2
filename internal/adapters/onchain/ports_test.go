package onchain

import "github.com/alejandrodnm/keeper/internal/ports"

var (
	_ ports.Account       = (*Wallet)(nil)
	_ ports.OrderBook     = (*OrderBook)(nil)
	_ ports.MarketPricing = (*Pricing)(nil)
	_ ports.GasOracle     = (*GasOracle)(nil)
	_ Backend             = (*Client)(nil)
)
