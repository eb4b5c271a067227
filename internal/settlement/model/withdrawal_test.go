package model

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithdrawal(t *testing.T) {
	userID, benID := uuid.New(), uuid.New()
	w, err := NewWithdrawal(userID, benID, "ethereum", "usdc", "0xabc",
		decimal.NewFromInt(100), decimal.NewFromInt(1), decimal.NewFromInt(2))
	require.NoError(t, err)

	assert.Equal(t, StateRequested, w.State)
	assert.Equal(t, userID, w.UserID)
	assert.True(t, w.NetAmount.Equal(decimal.NewFromInt(97)))
	assert.Equal(t, "ethereum/usdc", w.Currency())
	assert.False(t, w.RequestedAt.IsZero())
	assert.NotEqual(t, uuid.Nil, w.ID)
}

func TestNewWithdrawalRejectsNonPositiveNet(t *testing.T) {
	_, err := NewWithdrawal(uuid.New(), uuid.New(), "ethereum", "eth", "0xabc",
		decimal.NewFromInt(3), decimal.NewFromInt(1), decimal.NewFromInt(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not positive")

	_, err = NewWithdrawal(uuid.New(), uuid.New(), "ethereum", "eth", "0xabc",
		decimal.NewFromInt(2), decimal.NewFromInt(1), decimal.NewFromInt(2))
	require.Error(t, err)
}

func TestNewWithdrawalRejectsNonPositiveAmount(t *testing.T) {
	_, err := NewWithdrawal(uuid.New(), uuid.New(), "bitcoin", "btc", "bc1q...",
		decimal.Zero, decimal.Zero, decimal.Zero)
	require.Error(t, err)
}

func TestIsTerminal(t *testing.T) {
	w := &Withdrawal{}
	for state, terminal := range map[WithdrawalState]bool{
		StateRequested:       false,
		StateSent:            false,
		StateConfirmed:       true,
		StateFailed:          true,
		StateRefundRequested: true,
		StateRefundApproved:  true,
		StateRefundRejected:  true,
	} {
		w.State = state
		assert.Equal(t, terminal, w.IsTerminal(), "state %s", state)
	}
}

func TestFeePriorityMultiplier(t *testing.T) {
	assert.True(t, FeeSlow.Multiplier().Equal(decimal.NewFromFloat(0.8)))
	assert.True(t, FeeStandard.Multiplier().Equal(decimal.NewFromInt(1)))
	assert.True(t, FeeFast.Multiplier().Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, FeePriority("bogus").Multiplier().Equal(decimal.NewFromInt(1)))
}

func TestProfileFor(t *testing.T) {
	profiles := DefaultProfiles()

	eth := ProfileFor(profiles, "ethereum")
	assert.Equal(t, uint64(12), eth.RequiredConfirmations)

	btc := ProfileFor(profiles, "bitcoin")
	assert.Equal(t, uint64(3), btc.RequiredConfirmations)

	sol := ProfileFor(profiles, "solana")
	assert.Equal(t, uint64(32), sol.RequiredConfirmations)

	unknown := ProfileFor(profiles, "dogecoin")
	assert.Equal(t, DefaultProfile, unknown)
}
