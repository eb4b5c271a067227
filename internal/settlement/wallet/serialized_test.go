package wallet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingGateway tracks how many transfers run concurrently per chain.
type countingGateway struct {
	inFlight map[string]*int32
	maxSeen  map[string]*int32
}

func newCountingGateway(chains ...string) *countingGateway {
	g := &countingGateway{
		inFlight: make(map[string]*int32),
		maxSeen:  make(map[string]*int32),
	}
	for _, c := range chains {
		g.inFlight[c] = new(int32)
		g.maxSeen[c] = new(int32)
	}
	return g
}

func (g *countingGateway) Address(_ context.Context, blockchainKey string) (string, error) {
	return "hot-" + blockchainKey, nil
}

func (g *countingGateway) Transfer(_ context.Context, req *TransferRequest) (*TransferResult, error) {
	n := atomic.AddInt32(g.inFlight[req.BlockchainKey], 1)
	for {
		seen := atomic.LoadInt32(g.maxSeen[req.BlockchainKey])
		if n <= seen || atomic.CompareAndSwapInt32(g.maxSeen[req.BlockchainKey], seen, n) {
			break
		}
	}
	atomic.AddInt32(g.inFlight[req.BlockchainKey], -1)
	return &TransferResult{TxHash: "tx-" + req.Reference}, nil
}

func TestSerializedGatewayOneTransferPerChain(t *testing.T) {
	inner := newCountingGateway("ethereum", "bitcoin")
	gw := NewSerializedGateway(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		chain := "ethereum"
		if i%2 == 0 {
			chain = "bitcoin"
		}
		wg.Add(1)
		go func(chain string, i int) {
			defer wg.Done()
			_, err := gw.Transfer(context.Background(), &TransferRequest{
				BlockchainKey: chain,
				Amount:        decimal.NewFromInt(int64(i + 1)),
			})
			assert.NoError(t, err)
		}(chain, i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(inner.maxSeen["ethereum"]))
	assert.Equal(t, int32(1), atomic.LoadInt32(inner.maxSeen["bitcoin"]))
}

func TestSerializedGatewayDelegatesAddress(t *testing.T) {
	inner := newCountingGateway("ethereum")
	gw := NewSerializedGateway(inner)

	addr, err := gw.Address(context.Background(), "ethereum")
	require.NoError(t, err)
	assert.Equal(t, "hot-ethereum", addr)
}
