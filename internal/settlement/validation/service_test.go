package validation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lendblock/lendblock/internal/settlement/model"
	"github.com/lendblock/lendblock/internal/settlement/queue"
	"github.com/lendblock/lendblock/internal/settlement/repository"
)

type fakeRepo struct {
	created    *model.Withdrawal
	dailyTotal decimal.Decimal
}

func (r *fakeRepo) GetWithdrawal(_ context.Context, id uuid.UUID) (*model.Withdrawal, error) {
	return nil, repository.ErrNotFound
}

func (r *fakeRepo) CreateWithdrawal(_ context.Context, w *model.Withdrawal) error {
	r.created = w
	return nil
}

func (r *fakeRepo) MarkSent(context.Context, uuid.UUID, string, decimal.Decimal, decimal.Decimal, time.Time) error {
	return nil
}

func (r *fakeRepo) MarkConfirmed(context.Context, uuid.UUID, time.Time) error { return nil }

func (r *fakeRepo) MarkFailed(context.Context, uuid.UUID, time.Time, string) error { return nil }

func (r *fakeRepo) DailyWithdrawalTotal(context.Context, uuid.UUID, string, string, time.Time) (decimal.Decimal, error) {
	return r.dailyTotal, nil
}

type fakeKYC struct{ approved bool }

func (k *fakeKYC) IsApproved(context.Context, uuid.UUID) (bool, error) { return k.approved, nil }

type fakeTwoFactor struct{ ok bool }

func (f *fakeTwoFactor) Verify(context.Context, uuid.UUID, string) (bool, error) {
	return f.ok, nil
}

type fakeBalances struct{ available decimal.Decimal }

func (b *fakeBalances) Available(context.Context, uuid.UUID, string, string) (decimal.Decimal, error) {
	return b.available, nil
}

type fakeBeneficiaries struct{ beneficiary *model.Beneficiary }

func (b *fakeBeneficiaries) GetOwned(context.Context, uuid.UUID, uuid.UUID) (*model.Beneficiary, error) {
	return b.beneficiary, nil
}

type fakeOracle struct{ fee decimal.Decimal }

func (o *fakeOracle) Estimate(context.Context, string, string, decimal.Decimal, model.FeePriority) *model.NetworkFeeEstimate {
	return &model.NetworkFeeEstimate{Amount: o.fee, Unit: "ETH"}
}

type enqueued struct {
	name string
	id   string
	opts queue.Options
}

type fakeEnqueuer struct {
	jobs []enqueued
}

func (e *fakeEnqueuer) Enqueue(_ context.Context, name, id string, _ interface{}, opts queue.Options) error {
	e.jobs = append(e.jobs, enqueued{name: name, id: id, opts: opts})
	return nil
}

type fixture struct {
	repo          *fakeRepo
	kyc           *fakeKYC
	twoFactor     *fakeTwoFactor
	balances      *fakeBalances
	beneficiaries *fakeBeneficiaries
	enqueuer      *fakeEnqueuer
	svc           *Service
	userID        uuid.UUID
	beneficiaryID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	userID, beneficiaryID := uuid.New(), uuid.New()
	f := &fixture{
		repo:      &fakeRepo{},
		kyc:       &fakeKYC{approved: true},
		twoFactor: &fakeTwoFactor{ok: true},
		balances:  &fakeBalances{available: decimal.NewFromInt(5000)},
		beneficiaries: &fakeBeneficiaries{beneficiary: &model.Beneficiary{
			ID:            beneficiaryID,
			UserID:        userID,
			BlockchainKey: "ethereum",
			TokenID:       "usdc",
			Address:       "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		}},
		enqueuer:      &fakeEnqueuer{},
		userID:        userID,
		beneficiaryID: beneficiaryID,
	}
	limits := map[string]CurrencyLimit{
		"ethereum/usdc": {
			Min:         decimal.NewFromInt(10),
			Max:         decimal.NewFromInt(2000),
			DailyLimit:  decimal.NewFromInt(3000),
			PlatformFee: decimal.NewFromInt(1),
		},
	}
	f.svc = New(f.repo, f.kyc, f.twoFactor, f.balances, f.beneficiaries,
		&fakeOracle{fee: decimal.NewFromInt(5)}, f.enqueuer, limits, zap.NewNop())
	return f
}

func (f *fixture) request(amount int64) *Request {
	return &Request{
		UserID:        f.userID,
		BeneficiaryID: f.beneficiaryID,
		BlockchainKey: "ethereum",
		TokenID:       "usdc",
		Amount:        decimal.NewFromInt(amount),
		TwoFactorCode: "123456",
	}
}

func TestRequestWithdrawalHappyPath(t *testing.T) {
	f := newFixture(t)

	w, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	require.NoError(t, err)

	assert.Equal(t, model.StateRequested, w.State)
	assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", w.DestinationAddress)
	// net = 1000 - 1 platform - 5 network.
	assert.True(t, w.NetAmount.Equal(decimal.NewFromInt(994)))
	require.NotNil(t, f.repo.created)
	assert.Equal(t, w.ID, f.repo.created.ID)

	require.Len(t, f.enqueuer.jobs, 1)
	job := f.enqueuer.jobs[0]
	assert.Equal(t, model.JobProcessWithdrawal, job.name)
	assert.Equal(t, "process:"+w.ID.String(), job.id)
	assert.Equal(t, queue.MaxProcessAttempts, job.opts.MaxAttempts)
}

func TestRequestWithdrawalRequiresKYC(t *testing.T) {
	f := newFixture(t)
	f.kyc.approved = false

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	assert.ErrorIs(t, err, ErrKYCRequired)
	assert.Nil(t, f.repo.created)
}

func TestRequestWithdrawalRequiresTwoFactor(t *testing.T) {
	f := newFixture(t)
	f.twoFactor.ok = false

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	assert.ErrorIs(t, err, ErrTwoFactorFailed)
	assert.Nil(t, f.repo.created)
}

func TestRequestWithdrawalRejectsForeignBeneficiary(t *testing.T) {
	f := newFixture(t)
	f.beneficiaries.beneficiary = nil

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	assert.ErrorIs(t, err, ErrBeneficiaryInvalid)
}

func TestRequestWithdrawalRejectsChainMismatch(t *testing.T) {
	f := newFixture(t)
	f.beneficiaries.beneficiary.BlockchainKey = "bitcoin"

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	assert.ErrorIs(t, err, ErrBeneficiaryInvalid)
}

func TestRequestWithdrawalEnforcesLimits(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(5))
	assert.ErrorIs(t, err, ErrBelowMinimum)

	f = newFixture(t)
	f.balances.available = decimal.NewFromInt(100000)
	_, err = f.svc.RequestWithdrawal(context.Background(), f.request(2001))
	assert.ErrorIs(t, err, ErrAboveMaximum)
}

func TestRequestWithdrawalEnforcesDailyLimit(t *testing.T) {
	f := newFixture(t)
	f.repo.dailyTotal = decimal.NewFromInt(2500)

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(600))
	assert.ErrorIs(t, err, ErrDailyLimitExceeded)

	// Exactly at the limit still passes.
	f = newFixture(t)
	f.repo.dailyTotal = decimal.NewFromInt(2500)
	_, err = f.svc.RequestWithdrawal(context.Background(), f.request(500))
	assert.NoError(t, err)
}

func TestRequestWithdrawalRequiresBalance(t *testing.T) {
	f := newFixture(t)
	f.balances.available = decimal.NewFromInt(999)

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(1000))
	assert.ErrorIs(t, err, ErrInsufficientBalance)
}

func TestRequestWithdrawalRejectsNonPositiveNet(t *testing.T) {
	f := newFixture(t)
	// A network fee quote that swallows the whole amount must reject the
	// request before anything is persisted.
	limits := map[string]CurrencyLimit{
		"ethereum/usdc": {Min: decimal.NewFromInt(10), PlatformFee: decimal.NewFromInt(1)},
	}
	f.svc = New(f.repo, f.kyc, f.twoFactor, f.balances, f.beneficiaries,
		&fakeOracle{fee: decimal.NewFromInt(20)}, f.enqueuer, limits, zap.NewNop())

	_, err := f.svc.RequestWithdrawal(context.Background(), f.request(20))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not positive")
	assert.Nil(t, f.repo.created)
}

func TestRequestWithdrawalUnknownCurrencyHasNoLimits(t *testing.T) {
	f := newFixture(t)
	f.beneficiaries.beneficiary.BlockchainKey = "solana"
	f.beneficiaries.beneficiary.TokenID = "sol"

	req := f.request(3)
	req.BlockchainKey = "solana"
	req.TokenID = "sol"

	// No currency metadata: no min/max, no platform fee; network fee 5
	// still applies, so amount must exceed it.
	_, err := f.svc.RequestWithdrawal(context.Background(), req)
	require.Error(t, err)

	req = f.request(100)
	req.BlockchainKey = "solana"
	req.TokenID = "sol"
	w, err := f.svc.RequestWithdrawal(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, w.PlatformFee.IsZero())
}
