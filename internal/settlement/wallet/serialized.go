package wallet

import (
	"context"
	"sync"
)

// SerializedGateway wraps a Gateway with per-blockchain mutual exclusion.
// The hot wallet signing capability is a single shared resource per chain;
// concurrent transfers from the same wallet risk nonce/UTXO races, so
// transfers are serialized here rather than assumed safe downstream.
type SerializedGateway struct {
	inner Gateway

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSerializedGateway wraps a gateway with per-chain serialization.
func NewSerializedGateway(inner Gateway) *SerializedGateway {
	return &SerializedGateway{inner: inner, locks: make(map[string]*sync.Mutex)}
}

func (g *SerializedGateway) lockFor(blockchainKey string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[blockchainKey]
	if !ok {
		l = &sync.Mutex{}
		g.locks[blockchainKey] = l
	}
	return l
}

// Address delegates to the wrapped gateway.
func (g *SerializedGateway) Address(ctx context.Context, blockchainKey string) (string, error) {
	return g.inner.Address(ctx, blockchainKey)
}

// Transfer holds the chain lock for the duration of the submission.
func (g *SerializedGateway) Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error) {
	l := g.lockFor(req.BlockchainKey)
	l.Lock()
	defer l.Unlock()
	return g.inner.Transfer(ctx, req)
}
