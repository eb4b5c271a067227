// Package chains provides the blockchain RPC clients consumed by the
// settlement pipeline. Each blockchain is treated as a black-box network
// reachable through a liveness probe, fee-condition queries and a
// transaction-status query.
package chains

import (
	"context"
	"math/big"
)

// TxStatus is the normalized result of a confirmation-status query.
type TxStatus struct {
	Confirmed     bool
	Confirmations uint64
	Failed        bool
	FailureReason string
}

// StatusClient is the minimal contract the processor (liveness probe) and
// the confirmation monitor need from any chain.
type StatusClient interface {
	LatestHeight(ctx context.Context) (uint64, error)
	TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error)
}

// FeeHistory is a normalized EIP-1559 fee-history window.
type FeeHistory struct {
	// BaseFee per block, oldest first; one extra entry for the next block.
	BaseFee []*big.Int
	// Reward percentiles per block, as requested in the query.
	Reward [][]*big.Int
}

// EVMSource exposes the fee-market queries of an account-based EVM chain.
type EVMSource interface {
	StatusClient
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*FeeHistory, error)
}

// BitcoinFeeTiers are mempool-derived recommended fee rates in sat/vByte.
type BitcoinFeeTiers struct {
	Fastest  int64
	HalfHour int64
	Hour     int64
}

// BitcoinSource exposes Bitcoin fee estimation. RecommendedFees is the
// primary API; FallbackFees maps fixed block-confirmation targets to rates
// and has different tier semantics.
type BitcoinSource interface {
	StatusClient
	RecommendedFees(ctx context.Context) (*BitcoinFeeTiers, error)
	FallbackFees(ctx context.Context) (map[int]int64, error)
}

// SolanaSource exposes Solana's prioritization-fee model.
type SolanaSource interface {
	StatusClient
	RecentPrioritizationFees(ctx context.Context) ([]uint64, error)
}
