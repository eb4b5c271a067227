package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/chains"
	"github.com/lendblock/lendblock/internal/settlement/escalate"
	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/queue"
	"github.com/lendblock/lendblock/internal/settlement/repository"
)

type fakeRepo struct {
	withdrawals map[uuid.UUID]*model.Withdrawal

	confirmedID      uuid.UUID
	failedID         uuid.UUID
	failedReason     string
	markConfirmedErr error
}

func (r *fakeRepo) GetWithdrawal(_ context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	w, ok := r.withdrawals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return w, nil
}

func (r *fakeRepo) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	r.withdrawals[w.ID] = w
	return nil
}

func (r *fakeRepo) MarkSent(_ context.Context, id uuid.UUID, _ string, _, _ decimal.Decimal, _ time.Time) error {
	r.withdrawals[id].State = model.StateSent
	return nil
}

func (r *fakeRepo) MarkConfirmed(_ context.Context, id uuid.UUID, _ time.Time) error {
	if r.markConfirmedErr != nil {
		return r.markConfirmedErr
	}
	r.confirmedID = id
	r.withdrawals[id].State = model.StateConfirmed
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id uuid.UUID, _ time.Time, reason string) error {
	r.failedID, r.failedReason = id, reason
	r.withdrawals[id].State = model.StateFailed
	return nil
}

func (r *fakeRepo) DailyWithdrawalTotal(context.Context, uuid.UUID, string, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

type fakeStatusClient struct {
	status    *chains.TxStatus
	statusErr error
}

func (c *fakeStatusClient) LatestHeight(context.Context) (uint64, error) { return 1000, nil }
func (c *fakeStatusClient) TransactionStatus(context.Context, string) (*chains.TxStatus, error) {
	return c.status, c.statusErr
}

type enqueued struct {
	name    string
	id      string
	payload interface{}
	opts    queue.Options
}

type fakeEnqueuer struct {
	jobs []enqueued
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, name, id string, payload interface{}, opts queue.Options) error {
	e.jobs = append(e.jobs, enqueued{name: name, id: id, payload: payload, opts: opts})
	return nil
}

type fakeNotifier struct {
	sent []*model.Notification
}

func (n *fakeNotifier) Enqueue(_ context.Context, notification *model.Notification) error {
	n.sent = append(n.sent, notification)
	return nil
}

type fakeRefunds struct {
	requestedID uuid.UUID
	reason      string
}

func (f *fakeRefunds) RequestRefund(_ context.Context, withdrawalID uuid.UUID, reason string) error {
	f.requestedID, f.reason = withdrawalID, reason
	return nil
}

type fixture struct {
	repo     *fakeRepo
	client   *fakeStatusClient
	enqueuer *fakeEnqueuer
	notifier *fakeNotifier
	refunds  *fakeRefunds
	mon      *Monitor
}

func newFixture(t *testing.T, w *model.Withdrawal, status *chains.TxStatus) *fixture {
	t.Helper()
	f := &fixture{
		repo:     &fakeRepo{withdrawals: map[uuid.UUID]*model.Withdrawal{w.ID: w}},
		client:   &fakeStatusClient{status: status},
		enqueuer: &fakeEnqueuer{},
		notifier: &fakeNotifier{},
		refunds:  &fakeRefunds{},
	}
	registry := chains.NewRegistry()
	registry.Register(w.BlockchainKey, f.client)
	escalator := escalate.New(f.notifier, "https://admin.example.com", zap.NewNop())
	f.mon = New(f.repo, registry, f.enqueuer, escalator, f.notifier, f.refunds,
		model.DefaultProfiles(), zap.NewNop())
	return f
}

func sentWithdrawal(t *testing.T, blockchainKey string, sentAgo time.Duration) *model.Withdrawal {
	t.Helper()
	w, err := model.NewWithdrawal(uuid.New(), uuid.New(), blockchainKey, "native",
		"destination", decimal.NewFromInt(100), decimal.Zero, decimal.NewFromInt(1))
	require.NoError(t, err)
	w.State = model.StateSent
	w.TxHash = "0xfeed"
	sentAt := time.Now().UTC().Add(-sentAgo)
	w.SentAt = &sentAt
	return w
}

func confirmationJob(t *testing.T, w *model.Withdrawal, attempt int) *queue.Job {
	t.Helper()
	payload, err := json.Marshal(model.ConfirmationJob{
		WithdrawalID:  w.ID,
		TxHash:        w.TxHash,
		BlockchainKey: w.BlockchainKey,
		Attempt:       attempt,
	})
	require.NoError(t, err)
	return &queue.Job{
		Name:        model.JobMonitorConfirmation,
		Payload:     payload,
		Attempt:     1,
		MaxAttempts: queue.MonitorJobAttempts,
	}
}

func TestHandleConfirmed(t *testing.T) {
	w := sentWithdrawal(t, "solana", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmed: true, Confirmations: 32})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 1))
	require.NoError(t, err)

	assert.Equal(t, w.ID, f.repo.confirmedID)
	assert.Equal(t, model.StateConfirmed, w.State)
	assert.Empty(t, f.enqueuer.jobs)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, "withdrawal_confirmed", f.notifier.sent[0].Type)
	assert.Equal(t, model.ChannelUser, f.notifier.sent[0].Channel)
}

func TestHandlePendingReschedulesWithBackoff(t *testing.T) {
	w := sentWithdrawal(t, "solana", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmations: 2})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 3))
	require.NoError(t, err)

	assert.Equal(t, model.StateSent, w.State)
	require.Len(t, f.enqueuer.jobs, 1)
	job := f.enqueuer.jobs[0]
	assert.Equal(t, model.JobMonitorConfirmation, job.name)
	assert.Equal(t, queue.NextMonitorDelay(3), job.opts.Delay)
	assert.Equal(t, queue.MonitorJobAttempts, job.opts.MaxAttempts)

	next := job.payload.(model.ConfirmationJob)
	assert.Equal(t, 4, next.Attempt)
	assert.Equal(t, w.TxHash, next.TxHash)
}

func TestHandleSkipsTerminalStates(t *testing.T) {
	for _, state := range []model.WithdrawalState{model.StateConfirmed, model.StateFailed, model.StateRequested} {
		w := sentWithdrawal(t, "ethereum", time.Minute)
		w.State = state
		f := newFixture(t, w, &chains.TxStatus{Confirmations: 12})

		err := f.mon.Handle(context.Background(), confirmationJob(t, w, 1))
		assert.ErrorIs(t, err, queue.ErrSkip, "state %s", state)
		assert.Empty(t, f.enqueuer.jobs)
	}
}

func TestHandleSkipsMissingWithdrawal(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmations: 12})
	delete(f.repo.withdrawals, w.ID)

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 1))
	assert.ErrorIs(t, err, queue.ErrSkip)
}

func TestHandleTimeout(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", 25*time.Hour)
	f := newFixture(t, w, &chains.TxStatus{Confirmations: 3})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 10))
	require.NoError(t, err)

	assert.Equal(t, model.StateFailed, w.State)
	assert.Contains(t, f.repo.failedReason, string(model.FailureTransactionTimeout))
	// The transaction hash is kept for later review.
	assert.Equal(t, "0xfeed", w.TxHash)
	assert.Empty(t, f.enqueuer.jobs)
}

func TestHandleRejectionRequestsRefund(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Failed: true, FailureReason: "transaction reverted on chain"})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 2))
	require.NoError(t, err)

	assert.Equal(t, model.StateFailed, w.State)
	assert.Contains(t, f.repo.failedReason, string(model.FailureBlockchainRejection))
	assert.Equal(t, w.ID, f.refunds.requestedID)
	assert.Contains(t, f.refunds.reason, "reverted")
}

// Exhaustion while still pending is a monitoring failure, never conflated
// with an on-chain rejection.
func TestHandleExhaustedAttemptsIsMonitoringFailure(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmations: 5})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, queue.MaxMonitorAttempts))
	require.NoError(t, err)

	assert.Equal(t, model.StateFailed, w.State)
	assert.Contains(t, f.repo.failedReason, string(model.FailureMonitoring))
	assert.NotContains(t, f.repo.failedReason, string(model.FailureBlockchainRejection))
	assert.Empty(t, f.enqueuer.jobs)
	// No refund on monitoring exhaustion: the transaction may yet confirm.
	assert.Equal(t, uuid.Nil, f.refunds.requestedID)
}

func TestHandlePollFailureReschedules(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, nil)
	f.client.statusErr = errors.New("rpc timeout")

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, 4))
	require.NoError(t, err)

	assert.Equal(t, model.StateSent, w.State)
	require.Len(t, f.enqueuer.jobs, 1)
	next := f.enqueuer.jobs[0].payload.(model.ConfirmationJob)
	assert.Equal(t, 5, next.Attempt)
	assert.Equal(t, queue.MonitorJobAttempts, f.enqueuer.jobs[0].opts.MaxAttempts)
}

// A failed state write must surface as a retryable error so the queue runs
// the poll again, instead of stranding the withdrawal in Sent with no job
// left to re-poll it.
func TestHandleConfirmStoreFailureIsRetried(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmed: true, Confirmations: 12})
	f.repo.markConfirmedErr = errors.New("db connection reset")

	job := confirmationJob(t, w, 5)
	err := f.mon.Handle(context.Background(), job)
	require.Error(t, err)
	assert.NotErrorIs(t, err, queue.ErrSkip)
	assert.NotErrorIs(t, err, queue.ErrAbort)
	// The queue has budget left to run this poll again.
	assert.False(t, job.IsFinalAttempt())
	assert.Equal(t, model.StateSent, w.State)

	// Re-running the same poll after the store recovers is a clean confirm.
	f.repo.markConfirmedErr = nil
	require.NoError(t, f.mon.Handle(context.Background(), job))
	assert.Equal(t, model.StateConfirmed, w.State)
}

// The poll budget is 20 total: the 19th pending poll schedules the 20th,
// and the 20th escalates instead of scheduling a 21st.
func TestHandlePollBudgetBoundary(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, &chains.TxStatus{Confirmations: 5})

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, queue.MaxMonitorAttempts-1))
	require.NoError(t, err)
	require.Len(t, f.enqueuer.jobs, 1)
	next := f.enqueuer.jobs[0].payload.(model.ConfirmationJob)
	assert.Equal(t, queue.MaxMonitorAttempts, next.Attempt)
	assert.Equal(t, model.StateSent, w.State)
}

func TestHandlePollFailureExhaustedEscalates(t *testing.T) {
	w := sentWithdrawal(t, "ethereum", time.Minute)
	f := newFixture(t, w, nil)
	f.client.statusErr = errors.New("rpc timeout")

	err := f.mon.Handle(context.Background(), confirmationJob(t, w, queue.MaxMonitorAttempts))
	require.NoError(t, err)

	assert.Equal(t, model.StateFailed, w.State)
	assert.Contains(t, f.repo.failedReason, string(model.FailureMonitoring))
}
