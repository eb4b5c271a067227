// Package model defines the withdrawal settlement data model.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// WithdrawalState represents the lifecycle state of a withdrawal.
type WithdrawalState string

const (
	StateRequested       WithdrawalState = "REQUESTED"
	StateSent            WithdrawalState = "SENT"
	StateConfirmed       WithdrawalState = "CONFIRMED"
	StateFailed          WithdrawalState = "FAILED"
	StateRefundRequested WithdrawalState = "REFUND_REQUESTED"
	StateRefundApproved  WithdrawalState = "REFUND_APPROVED"
	StateRefundRejected  WithdrawalState = "REFUND_REJECTED"
)

// Withdrawal is the unit of work of the settlement pipeline.
type Withdrawal struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID        uuid.UUID `gorm:"type:uuid;index;not null"`
	BeneficiaryID uuid.UUID `gorm:"type:uuid;not null"`

	// Currency is a blockchain key plus a token identifier, e.g.
	// ("ethereum", "usdc") or ("bitcoin", "btc").
	BlockchainKey string `gorm:"size:32;not null"`
	TokenID       string `gorm:"size:32;not null"`

	DestinationAddress string `gorm:"size:128;not null"`

	Amount              decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	PlatformFee         decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	EstimatedNetworkFee decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	ActualNetworkFee    decimal.Decimal `gorm:"type:numeric(36,18)"`
	NetAmount           decimal.Decimal `gorm:"type:numeric(36,18);not null"`
	SentAmount          decimal.Decimal `gorm:"type:numeric(36,18)"`

	State         WithdrawalState `gorm:"size:24;index;not null"`
	TxHash        string          `gorm:"size:128;index"`
	FailureReason string          `gorm:"size:512"`

	RequestedAt time.Time `gorm:"not null"`
	SentAt      *time.Time
	ConfirmedAt *time.Time
	FailedAt    *time.Time
}

// NewWithdrawal builds a withdrawal in state Requested and enforces the
// creation invariant netAmount = amount - platformFee - networkFee > 0.
func NewWithdrawal(userID, beneficiaryID uuid.UUID, blockchainKey, tokenID, destination string, amount, platformFee, networkFee decimal.Decimal) (*Withdrawal, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("withdrawal amount must be positive, got %s", amount)
	}
	net := amount.Sub(platformFee).Sub(networkFee)
	if net.LessThanOrEqual(decimal.Zero) {
		return nil, fmt.Errorf("net amount %s is not positive (amount %s, platform fee %s, network fee %s)",
			net, amount, platformFee, networkFee)
	}
	return &Withdrawal{
		ID:                  uuid.New(),
		UserID:              userID,
		BeneficiaryID:       beneficiaryID,
		BlockchainKey:       blockchainKey,
		TokenID:             tokenID,
		DestinationAddress:  destination,
		Amount:              amount,
		PlatformFee:         platformFee,
		EstimatedNetworkFee: networkFee,
		NetAmount:           net,
		State:               StateRequested,
		RequestedAt:         time.Now().UTC(),
	}, nil
}

// IsTerminal reports whether the withdrawal can no longer be mutated by the
// settlement core. Refund sub-states are set by the admin flow and are
// terminal-adjacent; the core never overwrites them.
func (w *Withdrawal) IsTerminal() bool {
	switch w.State {
	case StateConfirmed, StateFailed, StateRefundRequested, StateRefundApproved, StateRefundRejected:
		return true
	}
	return false
}

// Currency returns the composite currency key, e.g. "ethereum/usdc".
func (w *Withdrawal) Currency() string {
	return w.BlockchainKey + "/" + w.TokenID
}
