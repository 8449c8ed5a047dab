package web3

import "context"

// ChainSnapshot represents summarized network metadata attached to on-chain
// tool receipts.
type ChainSnapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
	Notes       string `json:"notes,omitempty"`
}

// Client is the read-only chain access the on-chain tool relies on.
type Client interface {
	FetchChainSnapshot(ctx context.Context) (ChainSnapshot, error)
	BalanceOf(ctx context.Context, address string) (string, error)
	Close()
}
