package escalate

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/model"
)

type fakeNotifier struct {
	sent []*model.Notification
	err  error
}

func (f *fakeNotifier) Enqueue(_ context.Context, n *model.Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func TestClassify(t *testing.T) {
	cases := []struct {
		failureType model.FailureType
		priority    model.FailurePriority
	}{
		{model.FailureTransactionTimeout, model.PriorityHigh},
		{model.FailureNetworkError, model.PriorityHigh},
		{model.FailureMaxRetries, model.PriorityHigh},
		{model.FailureBlockchainRejection, model.PriorityHigh},
		{model.FailureInsufficientFunds, model.PriorityCritical},
		{model.FailureInvalidAddress, model.PriorityMedium},
		{model.FailureFeeValidation, model.PriorityMedium},
		{model.FailureMonitoring, model.PriorityHigh},
		{model.FailureUserError, model.PriorityLow},
		{model.FailureSystemError, model.PriorityCritical},
	}
	for _, tc := range cases {
		t.Run(string(tc.failureType), func(t *testing.T) {
			rec := Classify(tc.failureType, "boom")
			assert.Equal(t, tc.failureType, rec.Type)
			assert.Equal(t, tc.priority, rec.Priority)
			assert.Equal(t, "boom", rec.Reason)
			assert.NotEmpty(t, rec.RecommendedAction)
		})
	}
}

// Anything outside the closed taxonomy collapses to a critical system error.
func TestClassifyUnknownTypeIsSystemError(t *testing.T) {
	rec := Classify(model.FailureType("SOMETHING_NEW"), "weird")
	assert.Equal(t, model.FailureSystemError, rec.Type)
	assert.Equal(t, model.PriorityCritical, rec.Priority)
}

func TestEscalateSendsAdminAndUserNotifications(t *testing.T) {
	notifier := &fakeNotifier{}
	esc := New(notifier, "https://admin.example.com", zap.NewNop())

	w := &model.Withdrawal{ID: uuid.New(), UserID: uuid.New(), BlockchainKey: "ethereum", TxHash: "0xdead"}
	rec := esc.Escalate(context.Background(), w, model.FailureInsufficientFunds, "hot wallet dry")

	assert.Equal(t, model.FailureInsufficientFunds, rec.Type)
	require.Len(t, notifier.sent, 2)

	admin := notifier.sent[0]
	assert.Equal(t, model.ChannelAdmin, admin.Channel)
	assert.Contains(t, admin.Message, "hot wallet dry")
	assert.Contains(t, admin.Message, "check hot wallet balance")
	assert.Equal(t, "https://admin.example.com/withdrawals/"+w.ID.String(), admin.Metadata["review_link"])
	assert.Equal(t, "0xdead", admin.Metadata["tx_hash"])

	user := notifier.sent[1]
	assert.Equal(t, model.ChannelUser, user.Channel)
	assert.Equal(t, w.UserID, user.UserID)
	// The user never sees internal diagnostics.
	assert.NotContains(t, user.Message, "hot wallet")
	assert.Equal(t, userFacingMessage, user.Message)
}

// Notification failures are swallowed: escalation must not abort the caller.
func TestEscalateToleratesNotifierFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("kafka down")}
	esc := New(notifier, "https://admin.example.com", zap.NewNop())

	w := &model.Withdrawal{ID: uuid.New(), UserID: uuid.New(), BlockchainKey: "bitcoin"}
	rec := esc.Escalate(context.Background(), w, model.FailureTransactionTimeout, "24h elapsed")
	assert.Equal(t, model.FailureTransactionTimeout, rec.Type)
	assert.Equal(t, model.PriorityHigh, rec.Priority)
}
