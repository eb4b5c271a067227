// Package interfaces declares the collaborator contracts consumed by the
// settlement core. Persistence, notification delivery, auth verification
// and refund handling live outside this core and are injected at startup.
package interfaces

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lendblock/lendblock/internal/settlement/model"
)

// Repository persists withdrawal records. The settlement core drives every
// state transition through these narrow mutations so that a crashed worker
// can resume from the last persisted state.
type Repository interface {
	GetWithdrawal(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error)
	CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error
	MarkSent(ctx context.Context, id uuid.UUID, txHash string, sentAmount, actualFee decimal.Decimal, at time.Time) error
	MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, reason string) error
	DailyWithdrawalTotal(ctx context.Context, userID uuid.UUID, blockchainKey, tokenID string, since time.Time) (decimal.Decimal, error)
}

// Notifier enqueues a notification for delivery. Fire-and-forget: failures
// must never abort the settlement pipeline.
type Notifier interface {
	Enqueue(ctx context.Context, n *model.Notification) error
}

// RefundSignaler flags a failed withdrawal as eligible for automatic refund.
// The refund queue itself is an external collaborator.
type RefundSignaler interface {
	RequestRefund(ctx context.Context, withdrawalID uuid.UUID, reason string) error
}

// KYCService reports whether a user has passed identity verification.
type KYCService interface {
	IsApproved(ctx context.Context, userID uuid.UUID) (bool, error)
}

// TwoFactorService verifies a withdrawal 2FA code.
type TwoFactorService interface {
	Verify(ctx context.Context, userID uuid.UUID, code string) (bool, error)
}

// BalanceService exposes the user's available balance per currency.
type BalanceService interface {
	Available(ctx context.Context, userID uuid.UUID, blockchainKey, tokenID string) (decimal.Decimal, error)
}

// BeneficiaryService resolves a beneficiary and verifies ownership.
type BeneficiaryService interface {
	GetOwned(ctx context.Context, userID, beneficiaryID uuid.UUID) (*model.Beneficiary, error)
}
