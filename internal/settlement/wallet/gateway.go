// Package wallet abstracts the custodial hot wallet used for outbound
// transfers. Key custody and signing live in an external custody provider;
// this package only speaks its transfer API.
package wallet

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds indicates the hot wallet cannot cover the transfer.
var ErrInsufficientFunds = errors.New("hot wallet has insufficient funds")

// TransferRequest describes an outbound transfer from a hot wallet.
type TransferRequest struct {
	BlockchainKey string
	TokenID       string
	From          string
	To            string
	Amount        decimal.Decimal
	// Reference ties the custody-side transaction back to the withdrawal.
	Reference string
}

// TransferResult carries the submitted transaction hash.
type TransferResult struct {
	TxHash string
}

// Gateway is the custodial signing wallet per blockchain.
type Gateway interface {
	// Address returns the hot wallet address for a blockchain.
	Address(ctx context.Context, blockchainKey string) (string, error)

	// Transfer signs and broadcasts an outbound transfer.
	Transfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)
}
