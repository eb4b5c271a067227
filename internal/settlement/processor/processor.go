// Package processor implements the process-withdrawal job: the orchestrated
// execution of a validated withdrawal against the target blockchain.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/address"
	"github.com/lendblock/lendblock/internal/settlement/chains"
	"github.com/lendblock/lendblock/internal/settlement/escalate"
	"github.com/lendblock/lendblock/internal/settlement/interfaces"
	"github.com/lendblock/lendblock/internal/settlement/metrics"
	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/queue"
	"github.com/lendblock/lendblock/internal/settlement/repository"
	"github.com/lendblock/lendblock/internal/settlement/wallet"
)

// Relative fee variance beyond which a queued withdrawal's stored estimate
// is considered stale and the withdrawal is rejected.
var maxFeeVariance = decimal.NewFromFloat(0.5)

// FeeEstimator produces network fee estimates. Satisfied by *fees.Oracle.
type FeeEstimator interface {
	Estimate(ctx context.Context, blockchainKey, tokenID string, amount decimal.Decimal, priority model.FeePriority) *model.NetworkFeeEstimate
}

// Enqueuer schedules follow-up jobs. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name, id string, payload interface{}, opts queue.Options) error
}

// Processor consumes process-withdrawal jobs.
type Processor struct {
	repo      interfaces.Repository
	oracle    FeeEstimator
	registry  *chains.Registry
	gateway   wallet.Gateway
	queue     Enqueuer
	escalator *escalate.Escalator
	notifier  interfaces.Notifier
	profiles  map[string]model.NetworkProfile
	logger    *zap.Logger
}

// New wires the processor with its collaborators.
func New(
	repo interfaces.Repository,
	oracle FeeEstimator,
	registry *chains.Registry,
	gateway wallet.Gateway,
	enqueuer Enqueuer,
	escalator *escalate.Escalator,
	notifier interfaces.Notifier,
	profiles map[string]model.NetworkProfile,
	logger *zap.Logger,
) *Processor {
	return &Processor{
		repo:      repo,
		oracle:    oracle,
		registry:  registry,
		gateway:   gateway,
		queue:     enqueuer,
		escalator: escalator,
		notifier:  notifier,
		profiles:  profiles,
		logger:    logger,
	}
}

// Handle executes one processing attempt. Validation failures abort without
// consuming retries; execution failures re-throw so the queue retries, and
// only the final exhausted attempt marks the withdrawal failed.
func (p *Processor) Handle(ctx context.Context, job *queue.Job) error {
	var payload model.ProcessJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("undecodable process job payload: %w", queue.ErrAbort)
	}

	w, err := p.repo.GetWithdrawal(ctx, payload.WithdrawalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			p.logger.Warn("withdrawal no longer exists, skipping",
				zap.String("withdrawal_id", payload.WithdrawalID.String()))
			return queue.ErrSkip
		}
		return p.executionFailure(ctx, nil, job, fmt.Errorf("failed to load withdrawal %s: %w", payload.WithdrawalID, err))
	}
	// Re-validate: still Requested, still owned by the requesting user.
	if w.State != model.StateRequested || w.UserID != payload.UserID {
		p.logger.Info("withdrawal no longer processable, skipping",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("state", string(w.State)))
		return queue.ErrSkip
	}

	// Network liveness probe.
	client, ok := p.registry.Client(w.BlockchainKey)
	if !ok {
		return p.validationFailure(ctx, w, model.FailureNetworkError,
			fmt.Sprintf("no chain client registered for %s", w.BlockchainKey))
	}
	if _, err := client.LatestHeight(ctx); err != nil {
		return p.validationFailure(ctx, w, model.FailureNetworkError,
			fmt.Sprintf("%s network is not operational: %v", w.BlockchainKey, err))
	}

	// Fresh fee estimate at standard priority.
	estimate := p.oracle.Estimate(ctx, w.BlockchainKey, w.TokenID, w.Amount, model.FeeStandard)

	// Destination address format check.
	if res := address.Validate(w.DestinationAddress, w.BlockchainKey); !res.Valid {
		return p.validationFailure(ctx, w, model.FailureInvalidAddress,
			fmt.Sprintf("invalid destination address: %s", res.Reason))
	}

	// Fee re-validation guards against stale quotes during queue delay.
	if reason, ok := validateFee(w, estimate.Amount); !ok {
		return p.validationFailure(ctx, w, model.FailureFeeValidation, reason)
	}

	actualFee := estimate.Amount
	sendAmount := w.Amount.Sub(actualFee)

	hotAddress, err := p.gateway.Address(ctx, w.BlockchainKey)
	if err != nil {
		return p.executionFailure(ctx, w, job, fmt.Errorf("failed to resolve hot wallet address: %w", err))
	}

	start := time.Now()
	result, err := p.gateway.Transfer(ctx, &wallet.TransferRequest{
		BlockchainKey: w.BlockchainKey,
		TokenID:       w.TokenID,
		From:          hotAddress,
		To:            w.DestinationAddress,
		Amount:        sendAmount,
		Reference:     w.ID.String(),
	})
	metrics.TransferDuration.WithLabelValues(w.BlockchainKey).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, wallet.ErrInsufficientFunds) {
			return p.validationFailure(ctx, w, model.FailureInsufficientFunds, err.Error())
		}
		return p.executionFailure(ctx, w, job, fmt.Errorf("transfer execution failed: %w", err))
	}

	now := time.Now().UTC()
	if err := p.repo.MarkSent(ctx, w.ID, result.TxHash, sendAmount, actualFee, now); err != nil {
		// The transfer is on the wire; retrying would double-send. Surface
		// loudly and leave reconciliation to the admin flow.
		p.logger.Error("transfer submitted but state update failed, manual reconciliation required",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("tx_hash", result.TxHash),
			zap.Error(err))
		return fmt.Errorf("state update after transfer failed: %w", queue.ErrAbort)
	}

	p.logger.Info("withdrawal sent",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("blockchain", w.BlockchainKey),
		zap.String("tx_hash", result.TxHash),
		zap.String("send_amount", sendAmount.String()),
		zap.String("network_fee", actualFee.String()))

	p.scheduleMonitoring(ctx, w, result.TxHash)
	p.notifySent(ctx, w, result.TxHash)
	return nil
}

// validateFee applies the fee re-validation rules: reject when the relative
// variance against the stored estimate exceeds 50%, or when the withdrawal
// amount does not exceed the fee.
func validateFee(w *model.Withdrawal, current decimal.Decimal) (string, bool) {
	if w.Amount.LessThanOrEqual(current) {
		return fmt.Sprintf("withdrawal amount %s does not exceed network fee %s", w.Amount, current), false
	}
	if w.EstimatedNetworkFee.IsPositive() {
		variance := current.Sub(w.EstimatedNetworkFee).Abs().Div(w.EstimatedNetworkFee)
		if variance.GreaterThan(maxFeeVariance) {
			return fmt.Sprintf("network fee variance %s exceeds threshold (estimated %s, current %s)",
				variance.Round(4), w.EstimatedNetworkFee, current), false
		}
	}
	return "", true
}

// validationFailure records a terminal failure on first occurrence without
// consuming queue retries.
func (p *Processor) validationFailure(ctx context.Context, w *model.Withdrawal, failureType model.FailureType, reason string) error {
	rec := p.escalator.Escalate(ctx, w, failureType, reason)
	if err := p.repo.MarkFailed(ctx, w.ID, time.Now().UTC(), fmt.Sprintf("%s: %s", rec.Type, rec.Reason)); err != nil {
		p.logger.Error("failed to mark withdrawal failed",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
	return fmt.Errorf("%s: %w", reason, queue.ErrAbort)
}

// executionFailure re-throws transient errors so the queue retries; the
// final exhausted attempt marks the withdrawal failed with
// MAX_RETRIES_EXCEEDED.
func (p *Processor) executionFailure(ctx context.Context, w *model.Withdrawal, job *queue.Job, cause error) error {
	if !job.IsFinalAttempt() {
		return cause
	}
	if w != nil {
		rec := p.escalator.Escalate(ctx, w, model.FailureMaxRetries,
			fmt.Sprintf("processing failed after %d attempts: %v", job.Attempt, cause))
		if err := p.repo.MarkFailed(ctx, w.ID, time.Now().UTC(), fmt.Sprintf("%s: %s", rec.Type, rec.Reason)); err != nil {
			p.logger.Error("failed to mark withdrawal failed",
				zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
		}
	}
	return cause
}

func (p *Processor) scheduleMonitoring(ctx context.Context, w *model.Withdrawal, txHash string) {
	profile := model.ProfileFor(p.profiles, w.BlockchainKey)
	job := model.ConfirmationJob{
		WithdrawalID:  w.ID,
		TxHash:        txHash,
		BlockchainKey: w.BlockchainKey,
		Attempt:       1,
	}
	id := fmt.Sprintf("monitor:%s:1", w.ID)
	err := p.queue.Enqueue(ctx, model.JobMonitorConfirmation, id, job, queue.Options{
		Delay:       profile.InitialMonitorDelay,
		MaxAttempts: queue.MonitorJobAttempts,
	})
	if err != nil {
		// Money has moved; monitoring must not be silently lost.
		p.logger.Error("failed to schedule confirmation monitoring, manual follow-up required",
			zap.String("withdrawal_id", w.ID.String()),
			zap.String("tx_hash", txHash),
			zap.Error(err))
	}
}

func (p *Processor) notifySent(ctx context.Context, w *model.Withdrawal, txHash string) {
	n := &model.Notification{
		Channel: model.ChannelUser,
		UserID:  w.UserID,
		Type:    "withdrawal_sent",
		Subject: "Withdrawal on its way",
		Message: "Your withdrawal has been submitted to the network and is awaiting confirmation.",
		Metadata: map[string]string{
			"withdrawal_id": w.ID.String(),
			"tx_hash":       txHash,
		},
	}
	if err := p.notifier.Enqueue(ctx, n); err != nil {
		p.logger.Warn("failed to enqueue sent notification",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
}
