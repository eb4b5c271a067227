package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// FeePriority selects how aggressively a transfer bids for block space.
type FeePriority string

const (
	FeeSlow     FeePriority = "slow"
	FeeStandard FeePriority = "standard"
	FeeFast     FeePriority = "fast"
)

// Multiplier returns the uniform fee multiplier for the priority tier.
func (p FeePriority) Multiplier() decimal.Decimal {
	switch p {
	case FeeSlow:
		return decimal.NewFromFloat(0.8)
	case FeeFast:
		return decimal.NewFromFloat(1.5)
	default:
		return decimal.NewFromInt(1)
	}
}

// NetworkFeeEstimate is an ephemeral fee quote, recomputed per attempt and
// never persisted verbatim.
type NetworkFeeEstimate struct {
	Amount        decimal.Decimal
	Unit          string
	EstimatedTime time.Duration

	// EVM-only detail; nil for other chain families.
	GasPriceWei *big.Int
	GasLimit    uint64
}
