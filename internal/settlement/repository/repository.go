// Package repository provides the gorm-backed withdrawal store.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/lendblock/lendblock/internal/settlement/model"
)

// ErrNotFound is returned when a withdrawal does not exist.
var ErrNotFound = errors.New("withdrawal not found")

// WithdrawalRepository implements interfaces.Repository over PostgreSQL.
type WithdrawalRepository struct {
	db *gorm.DB
}

// New builds the repository and migrates the withdrawal table.
func New(db *gorm.DB) (*WithdrawalRepository, error) {
	if err := db.AutoMigrate(&model.Withdrawal{}); err != nil {
		return nil, fmt.Errorf("failed to migrate withdrawal schema: %w", err)
	}
	return &WithdrawalRepository{db: db}, nil
}

// GetWithdrawal loads a withdrawal by id.
func (r *WithdrawalRepository) GetWithdrawal(ctx context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	var w model.Withdrawal
	if err := r.db.WithContext(ctx).First(&w, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load withdrawal %s: %w", id, err)
	}
	return &w, nil
}

// CreateWithdrawal persists a new withdrawal in state Requested.
func (r *WithdrawalRepository) CreateWithdrawal(ctx context.Context, w *model.Withdrawal) error {
	if err := r.db.WithContext(ctx).Create(w).Error; err != nil {
		return fmt.Errorf("failed to create withdrawal %s: %w", w.ID, err)
	}
	return nil
}

// MarkSent transitions Requested -> Sent. The state predicate in the WHERE
// clause serializes transitions without in-memory locking.
func (r *WithdrawalRepository) MarkSent(ctx context.Context, id uuid.UUID, txHash string, sentAmount, actualFee decimal.Decimal, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ? AND state = ?", id, model.StateRequested).
		Updates(map[string]interface{}{
			"state":              model.StateSent,
			"tx_hash":            txHash,
			"sent_amount":        sentAmount,
			"actual_network_fee": actualFee,
			"sent_at":            at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark withdrawal %s sent: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("withdrawal %s not in state %s", id, model.StateRequested)
	}
	return nil
}

// MarkConfirmed transitions Sent -> Confirmed.
func (r *WithdrawalRepository) MarkConfirmed(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ? AND state = ?", id, model.StateSent).
		Updates(map[string]interface{}{
			"state":        model.StateConfirmed,
			"confirmed_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark withdrawal %s confirmed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("withdrawal %s not in state %s", id, model.StateSent)
	}
	return nil
}

// MarkFailed transitions a non-terminal withdrawal to Failed. Refund
// sub-states set by the admin flow are never overwritten.
func (r *WithdrawalRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, reason string) error {
	res := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Where("id = ? AND state IN ?", id, []model.WithdrawalState{model.StateRequested, model.StateSent}).
		Updates(map[string]interface{}{
			"state":          model.StateFailed,
			"failed_at":      at,
			"failure_reason": reason,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark withdrawal %s failed: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("withdrawal %s already terminal", id)
	}
	return nil
}

// DailyWithdrawalTotal sums a user's non-failed withdrawals for a currency
// since the given time.
func (r *WithdrawalRepository) DailyWithdrawalTotal(ctx context.Context, userID uuid.UUID, blockchainKey, tokenID string, since time.Time) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).Model(&model.Withdrawal{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("user_id = ? AND blockchain_key = ? AND token_id = ? AND requested_at >= ? AND state <> ?",
			userID, blockchainKey, tokenID, since, model.StateFailed).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum daily withdrawals: %w", err)
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
