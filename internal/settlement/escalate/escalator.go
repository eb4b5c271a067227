// Package escalate classifies terminal settlement failures and raises the
// corresponding admin and user notifications. Every terminal failure path
// passes through here so admin visibility is never skipped.
package escalate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/interfaces"
	"github.com/lendblock/lendblock/internal/settlement/metrics"
	"github.com/lendblock/lendblock/internal/settlement/model"
)

// Message shown to the end user for any settlement failure. Internal
// diagnostics stay in the admin notification and logs.
const userFacingMessage = "A technical issue occurred while processing your withdrawal. Our team has been notified and is investigating."

// Escalator classifies failures and emits notifications.
type Escalator struct {
	notifier      interfaces.Notifier
	reviewBaseURL string
	logger        *zap.Logger
}

// New builds an escalator. reviewBaseURL points at the admin review panel.
func New(notifier interfaces.Notifier, reviewBaseURL string, logger *zap.Logger) *Escalator {
	return &Escalator{notifier: notifier, reviewBaseURL: reviewBaseURL, logger: logger}
}

// Classify maps a failure type to its priority and recommended action.
// The switch is exhaustive over the closed taxonomy; anything outside it is
// a system error by construction.
func Classify(failureType model.FailureType, reason string) model.FailureRecord {
	rec := model.FailureRecord{Type: failureType, Reason: reason}
	switch failureType {
	case model.FailureTransactionTimeout:
		rec.Priority = model.PriorityHigh
		rec.RecommendedAction = "review for refund, likely network congestion"
	case model.FailureNetworkError, model.FailureMaxRetries:
		rec.Priority = model.PriorityHigh
		rec.RecommendedAction = "check network status"
	case model.FailureBlockchainRejection:
		rec.Priority = model.PriorityHigh
		rec.RecommendedAction = "investigate, may require refund"
	case model.FailureInsufficientFunds:
		rec.Priority = model.PriorityCritical
		rec.RecommendedAction = "check hot wallet balance"
	case model.FailureInvalidAddress:
		rec.Priority = model.PriorityMedium
		rec.RecommendedAction = "likely user error"
	case model.FailureFeeValidation:
		rec.Priority = model.PriorityMedium
		rec.RecommendedAction = "fee quote drifted during queue delay, safe to retry"
	case model.FailureMonitoring:
		rec.Priority = model.PriorityHigh
		rec.RecommendedAction = "manual check of on-chain transaction status required"
	case model.FailureUserError:
		rec.Priority = model.PriorityLow
		rec.RecommendedAction = "no action required"
	default:
		rec.Type = model.FailureSystemError
		rec.Priority = model.PriorityCritical
		rec.RecommendedAction = "platform responsibility likely"
	}
	return rec
}

// Escalate classifies the failure and emits both notifications. Notification
// failures are logged, never rethrown: escalation must not abort the
// pipeline that invoked it.
func (e *Escalator) Escalate(ctx context.Context, w *model.Withdrawal, failureType model.FailureType, reason string) model.FailureRecord {
	rec := Classify(failureType, reason)
	metrics.FailuresTotal.WithLabelValues(string(rec.Type)).Inc()

	e.logger.Error("withdrawal failure escalated",
		zap.String("withdrawal_id", w.ID.String()),
		zap.String("blockchain", w.BlockchainKey),
		zap.String("failure_type", string(rec.Type)),
		zap.String("priority", string(rec.Priority)),
		zap.String("reason", rec.Reason))

	admin := &model.Notification{
		Channel: model.ChannelAdmin,
		Type:    "withdrawal_failure",
		Subject: fmt.Sprintf("[%s] Withdrawal failure: %s", rec.Priority, rec.Type),
		Message: fmt.Sprintf("Withdrawal %s on %s failed: %s. Recommended action: %s.",
			w.ID, w.BlockchainKey, rec.Reason, rec.RecommendedAction),
		Metadata: map[string]string{
			"withdrawal_id": w.ID.String(),
			"failure_type":  string(rec.Type),
			"priority":      string(rec.Priority),
			"tx_hash":       w.TxHash,
			"review_link":   fmt.Sprintf("%s/withdrawals/%s", e.reviewBaseURL, w.ID),
		},
	}
	if err := e.notifier.Enqueue(ctx, admin); err != nil {
		e.logger.Warn("failed to enqueue admin failure notification",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}

	user := &model.Notification{
		Channel: model.ChannelUser,
		UserID:  w.UserID,
		Type:    "withdrawal_failed",
		Subject: "Withdrawal update",
		Message: userFacingMessage,
	}
	if err := e.notifier.Enqueue(ctx, user); err != nil {
		e.logger.Warn("failed to enqueue user failure notification",
			zap.String("withdrawal_id", w.ID.String()), zap.Error(err))
	}

	return rec
}
