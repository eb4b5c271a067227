// Package monitor implements the monitor-confirmation job: polling a sent
// withdrawal's transaction until it confirms, fails or times out.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/chains"
	"github.com/lendblock/lendblock/internal/settlement/escalate"
	"github.com/lendblock/lendblock/internal/settlement/interfaces"
	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/queue"
	"github.com/lendblock/lendblock/internal/settlement/repository"
)

// ConfirmationTimeout is the sent-to-confirmed window. It is evaluated on
// every poll rather than via a separate timer, so it survives restarts.
const ConfirmationTimeout = 24 * time.Hour

// Enqueuer schedules the next poll. Satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, name, id string, payload interface{}, opts queue.Options) error
}

// Monitor consumes monitor-confirmation jobs.
type Monitor struct {
	repo      interfaces.Repository
	registry  *chains.Registry
	queue     Enqueuer
	escalator *escalate.Escalator
	notifier  interfaces.Notifier
	refunds   interfaces.RefundSignaler
	profiles  map[string]model.NetworkProfile
	logger    *zap.Logger
}

// New wires the monitor with its collaborators.
func New(
	repo interfaces.Repository,
	registry *chains.Registry,
	enqueuer Enqueuer,
	escalator *escalate.Escalator,
	notifier interfaces.Notifier,
	refunds interfaces.RefundSignaler,
	profiles map[string]model.NetworkProfile,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		repo:      repo,
		registry:  registry,
		queue:     enqueuer,
		escalator: escalator,
		notifier:  notifier,
		refunds:   refunds,
		profiles:  profiles,
		logger:    logger,
	}
}

// Handle executes one confirmation poll.
func (m *Monitor) Handle(ctx context.Context, job *queue.Job) error {
	var payload model.ConfirmationJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("undecodable confirmation job payload: %w", queue.ErrAbort)
	}

	w, err := m.repo.GetWithdrawal(ctx, payload.WithdrawalID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return queue.ErrSkip
		}
		return m.pollFailure(ctx, nil, payload, fmt.Errorf("failed to load withdrawal: %w", err))
	}
	// Idempotent no-op for withdrawals no longer in Sent: handles races
	// with manual admin intervention and stale duplicate jobs.
	if w.State != model.StateSent {
		return queue.ErrSkip
	}

	if w.SentAt != nil && time.Since(*w.SentAt) > ConfirmationTimeout {
		return m.timeout(ctx, w, payload)
	}

	client, ok := m.registry.Client(payload.BlockchainKey)
	if !ok {
		return m.pollFailure(ctx, w, payload,
			fmt.Errorf("no chain client registered for %s", payload.BlockchainKey))
	}

	status, err := client.TransactionStatus(ctx, payload.TxHash)
	if err != nil {
		return m.pollFailure(ctx, w, payload, err)
	}

	required := model.ProfileFor(m.profiles, payload.BlockchainKey).RequiredConfirmations

	switch {
	case status.Failed:
		return m.rejected(ctx, w, status)
	case status.Confirmations >= required:
		return m.confirmed(ctx, w, status.Confirmations)
	default:
		return m.reschedule(ctx, w, payload, status.Confirmations, required)
	}
}

func (m *Monitor) confirmed(ctx context.Context, w *model.Withdrawal, confirmations uint64) error {
	if err := m.repo.MarkConfirmed(ctx, w.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark withdrawal confirmed: %w", err)
	}
	m.logger.Info("withdrawal confirmed",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("blockchain", w.BlockchainKey),
		zap.String("tx_hash", w.TxHash),
		zap.Uint64("confirmations", confirmations))

	n := &model.Notification{
		Channel: model.ChannelUser,
		UserID:  w.UserID,
		Type:    "withdrawal_confirmed",
		Subject: "Withdrawal complete",
		Message: "Your withdrawal has been confirmed on the network.",
		Metadata: map[string]string{
			"withdrawal_id": w.ID.String(),
			"tx_hash":       w.TxHash,
		},
	}
	if err := m.notifier.Enqueue(ctx, n); err != nil {
		m.logger.Warn("failed to enqueue confirmation notification",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
	return nil
}

// rejected handles a chain-reported transaction failure: always terminal,
// always refund-eligible.
func (m *Monitor) rejected(ctx context.Context, w *model.Withdrawal, status *chains.TxStatus) error {
	reason := status.FailureReason
	if reason == "" {
		reason = "transaction rejected by the network"
	}
	rec := m.escalator.Escalate(ctx, w, model.FailureBlockchainRejection, reason)
	if err := m.repo.MarkFailed(ctx, w.ID, time.Now().UTC(), fmt.Sprintf("%s: %s", rec.Type, rec.Reason)); err != nil {
		return fmt.Errorf("failed to mark rejected withdrawal failed: %w", err)
	}
	if err := m.refunds.RequestRefund(ctx, w.ID, reason); err != nil {
		m.logger.Error("failed to signal automatic refund",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}
	return nil
}

// timeout handles the 24-hour window expiry: a failure variant distinct
// from rejection, kept with its transaction hash for later review.
func (m *Monitor) timeout(ctx context.Context, w *model.Withdrawal, payload model.ConfirmationJob) error {
	reason := fmt.Sprintf("transaction %s unconfirmed after %s, likely network congestion",
		payload.TxHash, ConfirmationTimeout)
	rec := m.escalator.Escalate(ctx, w, model.FailureTransactionTimeout, reason)
	if err := m.repo.MarkFailed(ctx, w.ID, time.Now().UTC(), fmt.Sprintf("%s: %s", rec.Type, rec.Reason)); err != nil {
		return fmt.Errorf("failed to mark timed-out withdrawal failed: %w", err)
	}
	return nil
}

// reschedule enqueues the next poll with exponential backoff, or escalates
// as a monitoring failure once the attempt budget is exhausted.
func (m *Monitor) reschedule(ctx context.Context, w *model.Withdrawal, payload model.ConfirmationJob, confirmations, required uint64) error {
	// The poll budget is 20 total: a job still pending on its 20th poll
	// exhausts here and no further poll is scheduled.
	if payload.Attempt >= queue.MaxMonitorAttempts {
		return m.exhausted(ctx, w, payload,
			fmt.Sprintf("still pending after %d monitoring attempts (%d/%d confirmations)",
				payload.Attempt, confirmations, required))
	}

	next := model.ConfirmationJob{
		WithdrawalID:  payload.WithdrawalID,
		TxHash:        payload.TxHash,
		BlockchainKey: payload.BlockchainKey,
		Attempt:       payload.Attempt + 1,
	}
	delay := queue.NextMonitorDelay(payload.Attempt)
	id := fmt.Sprintf("monitor:%s:%d", payload.WithdrawalID, next.Attempt)
	if err := m.queue.Enqueue(ctx, model.JobMonitorConfirmation, id, next, queue.Options{
		Delay:       delay,
		MaxAttempts: queue.MonitorJobAttempts,
	}); err != nil {
		return fmt.Errorf("failed to reschedule confirmation monitoring: %w", err)
	}

	m.logger.Debug("confirmation pending, rescheduled",
		zap.String("withdrawal_id", w.ID.String()),
		zap.Uint64("confirmations", confirmations),
		zap.Uint64("required", required),
		zap.Int("next_attempt", next.Attempt),
		zap.Duration("delay", delay))
	return nil
}

// pollFailure handles errors from the status query itself. Transient while
// the attempt budget lasts; past it, a monitoring failure requiring manual
// admin check, never conflated with a blockchain-reported rejection.
func (m *Monitor) pollFailure(ctx context.Context, w *model.Withdrawal, payload model.ConfirmationJob, cause error) error {
	if payload.Attempt >= queue.MaxMonitorAttempts {
		if w == nil {
			return fmt.Errorf("monitoring exhausted without withdrawal context: %v: %w", cause, queue.ErrAbort)
		}
		return m.exhausted(ctx, w, payload,
			fmt.Sprintf("status query failed on attempt %d: %v", payload.Attempt, cause))
	}

	m.logger.Warn("confirmation poll failed, rescheduling",
		zap.String("withdrawal_id", payload.WithdrawalID.String()),
		zap.Int("attempt", payload.Attempt),
		zap.Error(cause))

	next := model.ConfirmationJob{
		WithdrawalID:  payload.WithdrawalID,
		TxHash:        payload.TxHash,
		BlockchainKey: payload.BlockchainKey,
		Attempt:       payload.Attempt + 1,
	}
	id := fmt.Sprintf("monitor:%s:%d", payload.WithdrawalID, next.Attempt)
	if err := m.queue.Enqueue(ctx, model.JobMonitorConfirmation, id, next, queue.Options{
		Delay:       queue.NextMonitorDelay(payload.Attempt),
		MaxAttempts: queue.MonitorJobAttempts,
	}); err != nil {
		return fmt.Errorf("failed to reschedule after poll failure: %w", err)
	}
	return nil
}

// exhausted escalates monitoring exhaustion as its own failure class.
func (m *Monitor) exhausted(ctx context.Context, w *model.Withdrawal, payload model.ConfirmationJob, reason string) error {
	rec := m.escalator.Escalate(ctx, w, model.FailureMonitoring, reason)
	if err := m.repo.MarkFailed(ctx, w.ID, time.Now().UTC(), fmt.Sprintf("%s: %s", rec.Type, rec.Reason)); err != nil {
		return fmt.Errorf("failed to mark withdrawal failed after monitoring exhaustion: %w", err)
	}
	m.logger.Error("confirmation monitoring exhausted, manual check required",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("tx_hash", payload.TxHash),
		zap.Int("attempts", payload.Attempt))
	return nil
}
