package chains

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// EVMClient implements EVMSource over a go-ethereum RPC connection. One
// client per EVM chain (Ethereum, BSC, ...) is constructed at startup.
type EVMClient struct {
	client *ethclient.Client
	logger *zap.Logger
}

// DialEVM connects to an EVM JSON-RPC endpoint.
func DialEVM(rpcURL string, logger *zap.Logger) (*EVMClient, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial EVM RPC %s: %w", rpcURL, err)
	}
	return &EVMClient{client: client, logger: logger}, nil
}

// LatestHeight returns the current block number.
func (c *EVMClient) LatestHeight(ctx context.Context) (uint64, error) {
	height, err := c.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to query block number: %w", err)
	}
	return height, nil
}

// SuggestGasPrice returns the node's legacy gas-price suggestion in wei.
func (c *EVMClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	price, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to suggest gas price: %w", err)
	}
	return price, nil
}

// FeeHistory queries the EIP-1559 fee history for the most recent blocks.
func (c *EVMClient) FeeHistory(ctx context.Context, blockCount uint64, rewardPercentiles []float64) (*FeeHistory, error) {
	hist, err := c.client.FeeHistory(ctx, blockCount, nil, rewardPercentiles)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee history: %w", err)
	}
	if len(hist.BaseFee) == 0 {
		return nil, errors.New("fee history returned no base fees")
	}
	return &FeeHistory{BaseFee: hist.BaseFee, Reward: hist.Reward}, nil
}

// TransactionStatus resolves the receipt of a transaction. A missing receipt
// means the transaction is still pending, not an error.
func (c *EVMClient) TransactionStatus(ctx context.Context, txHash string) (*TxStatus, error) {
	receipt, err := c.client.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &TxStatus{}, nil
		}
		return nil, fmt.Errorf("failed to query receipt for %s: %w", txHash, err)
	}

	height, err := c.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query block number: %w", err)
	}

	var confirmations uint64
	if block := receipt.BlockNumber.Uint64(); height >= block {
		confirmations = height - block + 1
	}

	if receipt.Status == 0 {
		c.logger.Warn("EVM transaction reverted",
			zap.String("tx_hash", txHash),
			zap.Uint64("block", receipt.BlockNumber.Uint64()))
		return &TxStatus{
			Failed:        true,
			Confirmations: confirmations,
			FailureReason: "transaction reverted on chain",
		}, nil
	}

	return &TxStatus{Confirmed: true, Confirmations: confirmations}, nil
}

// Close releases the underlying RPC connection.
func (c *EVMClient) Close() {
	c.client.Close()
}
