// Package fees implements the network fee oracle. Estimates are layered:
// a primary chain-specific query, a secondary degraded query, and a static
// conservative default. The oracle never fails its caller; every branch has
// a fallback and each tier's failure is logged at the point of fallback.
package fees

import (
	"context"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/chains"
	"github.com/lendblock/lendblock/internal/settlement/metrics"
	"github.com/lendblock/lendblock/internal/settlement/model"
)

const (
	// EIP-1559 fee-history window and reward percentiles.
	feeHistoryBlocks = 10

	// Static last-resort defaults.
	staticGasPriceGwei = 25
	staticSatPerVByte  = 25

	// Solana base fee per signature, in lamports.
	solanaBaseFeeLamports = 5000

	gasLimitNativeTransfer = 21000
	gasLimitTokenTransfer  = 65000

	lamportsPerSol = 1_000_000_000
	satsPerBitcoin = 100_000_000
	weiPerEther    = 1e18
)

var feeHistoryPercentiles = []float64{25, 50, 75}

type evmEntry struct {
	source     chains.EVMSource
	nativeUnit string
}

// Oracle estimates network fees across the supported blockchain families.
type Oracle struct {
	evm    map[string]evmEntry
	btc    map[string]chains.BitcoinSource
	sol    map[string]chains.SolanaSource
	logger *zap.Logger
}

// NewOracle builds an empty oracle; chains are registered at startup.
func NewOracle(logger *zap.Logger) *Oracle {
	return &Oracle{
		evm:    make(map[string]evmEntry),
		btc:    make(map[string]chains.BitcoinSource),
		sol:    make(map[string]chains.SolanaSource),
		logger: logger,
	}
}

// RegisterEVM binds an EVM fee source under a blockchain key.
func (o *Oracle) RegisterEVM(blockchainKey, nativeUnit string, src chains.EVMSource) {
	o.evm[blockchainKey] = evmEntry{source: src, nativeUnit: nativeUnit}
}

// RegisterBitcoin binds a Bitcoin fee source under a blockchain key.
func (o *Oracle) RegisterBitcoin(blockchainKey string, src chains.BitcoinSource) {
	o.btc[blockchainKey] = src
}

// RegisterSolana binds a Solana fee source under a blockchain key.
func (o *Oracle) RegisterSolana(blockchainKey string, src chains.SolanaSource) {
	o.sol[blockchainKey] = src
}

// Estimate returns a usable fee estimate for the given chain, token and
// priority. It never returns an error: callers rely on always receiving an
// estimate, degraded if necessary.
func (o *Oracle) Estimate(ctx context.Context, blockchainKey, tokenID string, amount decimal.Decimal, priority model.FeePriority) *model.NetworkFeeEstimate {
	if entry, ok := o.evm[blockchainKey]; ok {
		return o.estimateEVM(ctx, blockchainKey, entry, tokenID, priority)
	}
	if src, ok := o.btc[blockchainKey]; ok {
		return o.estimateBitcoin(ctx, blockchainKey, src, amount, priority)
	}
	if src, ok := o.sol[blockchainKey]; ok {
		return o.estimateSolana(ctx, blockchainKey, src, priority)
	}

	o.logger.Warn("fee estimate requested for unknown blockchain, using conservative default",
		zap.String("blockchain", blockchainKey),
		zap.String("token", tokenID))
	metrics.FeeFallbacks.WithLabelValues(blockchainKey, "default").Inc()
	return &model.NetworkFeeEstimate{
		Amount:        decimal.NewFromFloat(0.001),
		Unit:          tokenID,
		EstimatedTime: 10 * time.Minute,
	}
}

// --- EVM ---

func (o *Oracle) estimateEVM(ctx context.Context, key string, entry evmEntry, tokenID string, priority model.FeePriority) *model.NetworkFeeEstimate {
	gasLimit := uint64(gasLimitNativeTransfer)
	if tokenID != "" && tokenID != entry.nativeUnit {
		gasLimit = gasLimitTokenTransfer
	}

	// Primary: EIP-1559 base fee + priority fee from recent history.
	if gasPrice, err := o.eip1559GasPrice(ctx, entry.source, priority); err == nil {
		return evmEstimate(gasPrice, gasLimit, entry.nativeUnit, priority)
	} else {
		o.logger.Warn("EIP-1559 fee history unavailable, falling back to legacy gas price",
			zap.String("blockchain", key), zap.Error(err))
		metrics.FeeFallbacks.WithLabelValues(key, "secondary").Inc()
	}

	// Secondary: legacy suggested gas price scaled by the priority multiplier.
	if suggested, err := entry.source.SuggestGasPrice(ctx); err == nil {
		scaled := mulBigInt(suggested, priority.Multiplier())
		return evmEstimate(scaled, gasLimit, entry.nativeUnit, priority)
	} else {
		o.logger.Warn("legacy gas price unavailable, falling back to static gas price",
			zap.String("blockchain", key), zap.Error(err))
		metrics.FeeFallbacks.WithLabelValues(key, "static").Inc()
	}

	// Static: conservative fixed gas price.
	static := new(big.Int).Mul(big.NewInt(staticGasPriceGwei), big.NewInt(1e9))
	return evmEstimate(mulBigInt(static, priority.Multiplier()), gasLimit, entry.nativeUnit, priority)
}

// eip1559GasPrice derives baseFee + priorityFee from a 10-block fee-history
// window. The tip comes from the median (50th percentile) rewards, adjusted
// by the priority tier.
func (o *Oracle) eip1559GasPrice(ctx context.Context, src chains.EVMSource, priority model.FeePriority) (*big.Int, error) {
	hist, err := src.FeeHistory(ctx, feeHistoryBlocks, feeHistoryPercentiles)
	if err != nil {
		return nil, err
	}

	baseFee := hist.BaseFee[len(hist.BaseFee)-1]

	tip := big.NewInt(0)
	count := 0
	for _, rewards := range hist.Reward {
		if len(rewards) > 1 && rewards[1] != nil {
			tip.Add(tip, rewards[1])
			count++
		}
	}
	if count > 0 {
		tip.Div(tip, big.NewInt(int64(count)))
	}

	// The priority tier adjusts only the tip component.
	switch priority {
	case model.FeeSlow:
		tip = mulBigInt(tip, decimal.NewFromFloat(0.8))
	case model.FeeFast:
		tip = mulBigInt(tip, decimal.NewFromFloat(1.5))
	}

	return new(big.Int).Add(baseFee, tip), nil
}

func evmEstimate(gasPriceWei *big.Int, gasLimit uint64, unit string, priority model.FeePriority) *model.NetworkFeeEstimate {
	totalWei := new(big.Int).Mul(gasPriceWei, new(big.Int).SetUint64(gasLimit))
	amount := decimal.NewFromBigInt(totalWei, 0).Div(decimal.NewFromFloat(weiPerEther))

	est := 3 * time.Minute
	switch priority {
	case model.FeeFast:
		est = time.Minute
	case model.FeeSlow:
		est = 5 * time.Minute
	}
	return &model.NetworkFeeEstimate{
		Amount:        amount,
		Unit:          unit,
		EstimatedTime: est,
		GasPriceWei:   gasPriceWei,
		GasLimit:      gasLimit,
	}
}

// --- Bitcoin ---

func (o *Oracle) estimateBitcoin(ctx context.Context, key string, src chains.BitcoinSource, amount decimal.Decimal, priority model.FeePriority) *model.NetworkFeeEstimate {
	vsize := bitcoinVirtualSize(amount)

	// Primary: mempool-derived recommended tiers.
	if tiers, err := src.RecommendedFees(ctx); err == nil {
		var rate int64
		var est time.Duration
		switch priority {
		case model.FeeFast:
			rate, est = tiers.Fastest, 10*time.Minute
		case model.FeeSlow:
			rate, est = tiers.Hour, time.Hour
		default:
			rate, est = tiers.HalfHour, 30*time.Minute
		}
		return bitcoinEstimate(rate, vsize, est)
	} else {
		o.logger.Warn("primary bitcoin fee API unavailable, falling back to block-target estimator",
			zap.String("blockchain", key), zap.Error(err))
		metrics.FeeFallbacks.WithLabelValues(key, "secondary").Inc()
	}

	// Secondary: estimator keyed by fixed confirmation targets 1/3/6/144.
	if targets, err := src.FallbackFees(ctx); err == nil {
		target := 3
		est := 30 * time.Minute
		switch priority {
		case model.FeeFast:
			target, est = 1, 10*time.Minute
		case model.FeeSlow:
			target, est = 6, time.Hour
		}
		if rate, ok := pickTarget(targets, target); ok {
			return bitcoinEstimate(rate, vsize, est)
		}
		o.logger.Warn("block-target estimator returned no usable target",
			zap.String("blockchain", key), zap.Int("target", target))
	} else {
		o.logger.Warn("fallback bitcoin fee API unavailable, using static fee rate",
			zap.String("blockchain", key), zap.Error(err))
	}
	metrics.FeeFallbacks.WithLabelValues(key, "static").Inc()

	// Static: conservative fixed rate scaled by priority.
	rate := decimal.NewFromInt(staticSatPerVByte).Mul(priority.Multiplier()).IntPart()
	return bitcoinEstimate(rate, vsize, 30*time.Minute)
}

// bitcoinVirtualSize estimates transaction vsize assuming one input per
// 0.01 BTC of amount and two outputs (destination plus change).
func bitcoinVirtualSize(amount decimal.Decimal) int64 {
	inputs := int64(1)
	if amount.IsPositive() {
		chunks := amount.Div(decimal.NewFromFloat(0.01))
		inputs = chunks.Ceil().IntPart()
		if inputs < 1 {
			inputs = 1
		}
	}
	return inputs*148 + 2*34 + 10
}

func bitcoinEstimate(satPerVByte, vsize int64, est time.Duration) *model.NetworkFeeEstimate {
	sats := satPerVByte * vsize
	return &model.NetworkFeeEstimate{
		Amount:        decimal.NewFromInt(sats).Div(decimal.NewFromInt(satsPerBitcoin)),
		Unit:          "BTC",
		EstimatedTime: est,
	}
}

func pickTarget(targets map[int]int64, want int) (int64, bool) {
	if rate, ok := targets[want]; ok {
		return rate, true
	}
	// Use the nearest available target when the exact one is missing.
	best, bestDist := int64(0), math.MaxInt
	found := false
	for target, rate := range targets {
		dist := target - want
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist, found = rate, dist, true
		}
	}
	return best, found
}

// --- Solana ---

func (o *Oracle) estimateSolana(ctx context.Context, key string, src chains.SolanaSource, priority model.FeePriority) *model.NetworkFeeEstimate {
	base := decimal.NewFromInt(solanaBaseFeeLamports)

	fees, err := src.RecentPrioritizationFees(ctx)
	if err != nil {
		o.logger.Warn("solana prioritization fees unavailable, using base fee",
			zap.String("blockchain", key), zap.Error(err))
		metrics.FeeFallbacks.WithLabelValues(key, "static").Inc()

		total := base
		if priority == model.FeeFast {
			total = total.Add(base.Mul(decimal.NewFromInt(2)))
		}
		return solanaEstimate(total, priority)
	}

	var sum uint64
	for _, f := range fees {
		sum += f
	}
	avg := decimal.Zero
	if len(fees) > 0 {
		avg = decimal.NewFromInt(int64(sum / uint64(len(fees))))
	}

	multiplier := decimal.NewFromInt(1)
	switch priority {
	case model.FeeSlow:
		multiplier = decimal.NewFromFloat(0.5)
	case model.FeeFast:
		multiplier = decimal.NewFromInt(2)
	}

	total := base.Add(avg.Mul(multiplier))
	return solanaEstimate(total, priority)
}

func solanaEstimate(lamports decimal.Decimal, priority model.FeePriority) *model.NetworkFeeEstimate {
	est := 10 * time.Second
	switch priority {
	case model.FeeFast:
		est = 5 * time.Second
	case model.FeeSlow:
		est = 20 * time.Second
	}
	return &model.NetworkFeeEstimate{
		Amount:        lamports.Div(decimal.NewFromInt(lamportsPerSol)),
		Unit:          "SOL",
		EstimatedTime: est,
	}
}

func mulBigInt(v *big.Int, m decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(v, 0).Mul(m).BigInt()
}
