// Package validation orchestrates the pre-flight checks for a withdrawal
// request and hands the created withdrawal off to the settlement queue.
package validation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/interfaces"
	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/queue"
)

// Validation sentinels surfaced to the API layer.
var (
	ErrKYCRequired         = errors.New("KYC approval required")
	ErrTwoFactorFailed     = errors.New("two-factor verification failed")
	ErrBeneficiaryInvalid  = errors.New("beneficiary not found or not owned by user")
	ErrBelowMinimum        = errors.New("amount below minimum withdrawal")
	ErrAboveMaximum        = errors.New("amount above maximum withdrawal")
	ErrDailyLimitExceeded  = errors.New("daily withdrawal limit exceeded")
	ErrInsufficientBalance = errors.New("insufficient available balance")
)

// CurrencyLimit is the consumed currency metadata: min/max per withdrawal,
// daily cap and flat platform fee. Live pricing is out of scope.
type CurrencyLimit struct {
	Min         decimal.Decimal
	Max         decimal.Decimal
	DailyLimit  decimal.Decimal
	PlatformFee decimal.Decimal
}

// FeeEstimator produces network fee estimates. Satisfied by *fees.Oracle.
type FeeEstimator interface {
	Estimate(ctx context.Context, blockchainKey, tokenID string, amount decimal.Decimal, priority model.FeePriority) *model.NetworkFeeEstimate
}

// Enqueuer schedules the processing job. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name, id string, payload interface{}, opts queue.Options) error
}

// Request is a user withdrawal request after transport-level decoding.
type Request struct {
	UserID        uuid.UUID
	BeneficiaryID uuid.UUID
	BlockchainKey string
	TokenID       string
	Amount        decimal.Decimal
	TwoFactorCode string
}

// Service runs the pre-flight checks and creates the withdrawal record.
type Service struct {
	repo          interfaces.Repository
	kyc           interfaces.KYCService
	twoFactor     interfaces.TwoFactorService
	balances      interfaces.BalanceService
	beneficiaries interfaces.BeneficiaryService
	oracle        FeeEstimator
	queue         Enqueuer
	limits        map[string]CurrencyLimit
	logger        *zap.Logger
}

// New wires the validation service.
func New(
	repo interfaces.Repository,
	kyc interfaces.KYCService,
	twoFactor interfaces.TwoFactorService,
	balances interfaces.BalanceService,
	beneficiaries interfaces.BeneficiaryService,
	oracle FeeEstimator,
	enqueuer Enqueuer,
	limits map[string]CurrencyLimit,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:          repo,
		kyc:           kyc,
		twoFactor:     twoFactor,
		balances:      balances,
		beneficiaries: beneficiaries,
		oracle:        oracle,
		queue:         enqueuer,
		limits:        limits,
		logger:        logger,
	}
}

// RequestWithdrawal validates the request, creates the withdrawal in state
// Requested and enqueues the processing job.
func (s *Service) RequestWithdrawal(ctx context.Context, req *Request) (*model.Withdrawal, error) {
	approved, err := s.kyc.IsApproved(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to check KYC status: %w", err)
	}
	if !approved {
		return nil, ErrKYCRequired
	}

	ok, err := s.twoFactor.Verify(ctx, req.UserID, req.TwoFactorCode)
	if err != nil {
		return nil, fmt.Errorf("failed to verify 2FA code: %w", err)
	}
	if !ok {
		return nil, ErrTwoFactorFailed
	}

	beneficiary, err := s.beneficiaries.GetOwned(ctx, req.UserID, req.BeneficiaryID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve beneficiary: %w", err)
	}
	if beneficiary == nil || beneficiary.BlockchainKey != req.BlockchainKey {
		return nil, ErrBeneficiaryInvalid
	}

	limit, err := s.checkLimits(ctx, req)
	if err != nil {
		return nil, err
	}

	available, err := s.balances.Available(ctx, req.UserID, req.BlockchainKey, req.TokenID)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance: %w", err)
	}
	if available.LessThan(req.Amount) {
		return nil, fmt.Errorf("%w: available %s, requested %s", ErrInsufficientBalance, available, req.Amount)
	}

	estimate := s.oracle.Estimate(ctx, req.BlockchainKey, req.TokenID, req.Amount, model.FeeStandard)

	w, err := model.NewWithdrawal(
		req.UserID,
		beneficiary.ID,
		req.BlockchainKey,
		req.TokenID,
		beneficiary.Address,
		req.Amount,
		limit.PlatformFee,
		estimate.Amount,
	)
	if err != nil {
		return nil, fmt.Errorf("withdrawal rejected: %w", err)
	}

	if err := s.repo.CreateWithdrawal(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to persist withdrawal: %w", err)
	}

	payload := model.ProcessJob{WithdrawalID: w.ID, UserID: w.UserID}
	err = s.queue.Enqueue(ctx, model.JobProcessWithdrawal, "process:"+w.ID.String(), payload, queue.Options{
		MaxAttempts: queue.MaxProcessAttempts,
		Priority:    10,
	})
	if err != nil {
		// The record stays in Requested; operators can requeue it through
		// the ops server.
		s.logger.Error("failed to enqueue processing job",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to enqueue withdrawal processing: %w", err)
	}

	s.logger.Info("withdrawal requested",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("user_id", req.UserID.String()),
		zap.String("currency", w.Currency()),
		zap.String("amount", req.Amount.String()),
		zap.String("net_amount", w.NetAmount.String()))
	return w, nil
}

func (s *Service) checkLimits(ctx context.Context, req *Request) (CurrencyLimit, error) {
	limit, ok := s.limits[req.BlockchainKey+"/"+req.TokenID]
	if !ok {
		// No metadata for the currency means no platform fee and no caps.
		return CurrencyLimit{}, nil
	}
	if limit.Min.IsPositive() && req.Amount.LessThan(limit.Min) {
		return limit, fmt.Errorf("%w: minimum %s", ErrBelowMinimum, limit.Min)
	}
	if limit.Max.IsPositive() && req.Amount.GreaterThan(limit.Max) {
		return limit, fmt.Errorf("%w: maximum %s", ErrAboveMaximum, limit.Max)
	}
	if limit.DailyLimit.IsPositive() {
		since := time.Now().UTC().Truncate(24 * time.Hour)
		used, err := s.repo.DailyWithdrawalTotal(ctx, req.UserID, req.BlockchainKey, req.TokenID, since)
		if err != nil {
			return limit, fmt.Errorf("failed to check daily withdrawal total: %w", err)
		}
		if used.Add(req.Amount).GreaterThan(limit.DailyLimit) {
			return limit, fmt.Errorf("%w: limit %s, used %s, requested %s",
				ErrDailyLimitExceeded, limit.DailyLimit, used, req.Amount)
		}
	}
	return limit, nil
}
