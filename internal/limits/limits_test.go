package limits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianpay/riskengine/internal/kyc"
	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

func newTestEnforcer(t *testing.T) (*Enforcer, *kyc.StaticProvider) {
	t.Helper()
	provider := kyc.NewStaticProvider()
	e := NewEnforcer(store.NewMemoryStore(), provider, DefaultHistoryCap, zaptest.NewLogger(t).Sugar())
	return e, provider
}

func TestCheckLimitDailyBreach(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// 2000 already used today against the LEVEL_1 daily limit of 2500.
	require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(2000), models.TransactionTypeSwap,
		time.Now().UTC().Add(-2*time.Hour), "tx-prev", ""))

	_, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(600), models.TransactionTypeSwap)
	le, ok := models.IsLimitExceeded(err)
	require.True(t, ok, "expected a limit breach, got %v", err)
	assert.Equal(t, models.PeriodDaily, le.Period)
	assert.True(t, le.Limit.Equal(decimal.NewFromInt(2500)), "limit = %s", le.Limit)
	assert.True(t, le.CurrentVolume.Equal(decimal.NewFromInt(2000)), "current = %s", le.CurrentVolume)
	assert.True(t, le.Remaining.Equal(decimal.NewFromInt(500)), "remaining = %s", le.Remaining)

	// 400 more still fits: 2000 + 400x1.0 = 2400 <= 2500.
	res, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(400), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(500)))
}

func TestCheckLimitWeightsByType(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// A 2000-unit P2P transfer weighs 2000 x 1.8 = 3600 against the 2500
	// daily allowance even on an empty history.
	_, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(2000), models.TransactionTypeP2P)
	le, ok := models.IsLimitExceeded(err)
	require.True(t, ok)
	assert.Equal(t, models.PeriodDaily, le.Period)

	// The same amount as a deposit weighs 1600 and passes.
	res, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(2000), models.TransactionTypeDeposit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestCheckLimitHistoryIsAccountWide(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// A recorded withdrawal counts at its own 1.5 multiplier toward all
	// later checks, regardless of the candidate's type.
	require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(1000), models.TransactionTypeWithdrawal,
		time.Now().UTC().Add(-time.Hour), "tx-1", ""))

	res, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(100), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.True(t, res.CurrentVolume.Equal(decimal.NewFromInt(1500)), "volume = %s", res.CurrentVolume)
	assert.True(t, res.Remaining.Equal(decimal.NewFromInt(1000)))
}

func TestCheckLimitKycGate(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)

	// Unassigned users are NONE/PENDING: swaps are AML-gated.
	_, err := e.CheckLimit(ctx, "u-nobody", decimal.NewFromInt(10), models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrKycRequired)

	// Deposits are exempt from the AML gate.
	res, err := e.CheckLimit(ctx, "u-nobody", decimal.NewFromInt(10), models.TransactionTypeDeposit)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// A LEVEL_1 tier that is still PENDING does not pass either.
	provider.SetTier("u-pending", models.KycTierLevel1, models.KycStatusPending)
	_, err = e.CheckLimit(ctx, "u-pending", decimal.NewFromInt(10), models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrKycRequired)
}

func TestCheckLimitRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	_, err := e.CheckLimit(ctx, "", decimal.NewFromInt(10), models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.CheckLimit(ctx, "u1", decimal.NewFromInt(-5), models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.CheckLimit(ctx, "u1", decimal.NewFromInt(10), models.TransactionType("wire"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestCheckAndRecordClosesDoubleSubmissionRace(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// Two concurrent 1500-unit swaps against a 2500 daily limit: exactly one
	// may pass.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.CheckAndRecord(ctx, &models.TransactionRequest{
				TransactionID: "tx-race-" + string(rune('a'+i)),
				UserID:        "u1",
				Type:          models.TransactionTypeSwap,
				Amount:        decimal.NewFromInt(1500),
			})
		}(i)
	}
	wg.Wait()

	var allowed, breached int
	for _, err := range errs {
		if err == nil {
			allowed++
		} else if _, ok := models.IsLimitExceeded(err); ok {
			breached++
		} else {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, allowed, "exactly one concurrent attempt may pass")
	assert.Equal(t, 1, breached)

	// Only the winner left a history record behind.
	entries, err := e.history.Recent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestHighValueGateFirstTimeAtLevel1(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// First-ever high-value transaction (>= 1000 at LEVEL_1) needs approval.
	res, err := e.CheckLimit(ctx, "u1", decimal.NewFromInt(1200), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.RequiresApproval)
	assert.NotEmpty(t, res.ApprovalReasons)

	// Below the threshold the gate stays silent.
	res, err = e.CheckLimit(ctx, "u1", decimal.NewFromInt(900), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.False(t, res.RequiresApproval)
}

// stubKyc reports a fixed tier with a configurable limit schedule.
type stubKyc struct {
	tier   kyc.TierStatus
	limits kyc.TierLimits
}

func (s *stubKyc) GetTier(ctx context.Context, userID string) (kyc.TierStatus, error) {
	return s.tier, nil
}

func (s *stubKyc) GetTierLimits(ctx context.Context, tier models.KycTier) (kyc.TierLimits, error) {
	return s.limits, nil
}

func TestHighValueGateRepeatedIn24h(t *testing.T) {
	ctx := context.Background()
	// Generous allowances so the gate, not the hard limit, is what trips.
	provider := &stubKyc{
		tier: kyc.TierStatus{Tier: models.KycTierLevel2, Status: models.KycStatusVerified},
		limits: kyc.TierLimits{
			Daily:   decimal.NewFromInt(200000),
			Weekly:  decimal.NewFromInt(1000000),
			Monthly: decimal.NewFromInt(4000000),
			Annual:  decimal.NewFromInt(50000000),
		},
	}
	e := NewEnforcer(store.NewMemoryStore(), provider, DefaultHistoryCap, zaptest.NewLogger(t).Sugar())

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RecordTransaction(ctx, "u2", decimal.NewFromInt(11000), models.TransactionTypeSwap,
			now.Add(-time.Duration(i+1)*time.Hour), "tx-hv-"+string(rune('a'+i)), ""))
	}

	// Fourth high-value attempt inside 24h trips the gate (threshold 10000
	// at LEVEL_2).
	res, err := e.CheckLimit(ctx, "u2", decimal.NewFromInt(10500), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.True(t, res.RequiresApproval)
}

func TestFlagHighRiskOrigin(t *testing.T) {
	res := &Result{Allowed: true}
	FlagHighRiskOrigin(res)
	assert.True(t, res.RequiresApproval)
	assert.Contains(t, res.ApprovalReasons[0], "high-risk")

	// A denied result is left untouched.
	denied := &Result{Allowed: false}
	FlagHighRiskOrigin(denied)
	assert.False(t, denied.RequiresApproval)
}

func TestHistoryCapTrimsOldest(t *testing.T) {
	ctx := context.Background()
	provider := kyc.NewStaticProvider()
	e := NewEnforcer(store.NewMemoryStore(), provider, 5, zaptest.NewLogger(t).Sugar())

	now := time.Now().UTC()
	for i := 0; i < 8; i++ {
		require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(int64(i+1)), models.TransactionTypeDeposit,
			now.Add(time.Duration(i)*time.Second), "tx-"+string(rune('a'+i)), ""))
	}

	entries, err := e.history.Recent(ctx, "u1", 100)
	require.NoError(t, err)
	require.Len(t, entries, 5)
	// Newest first; the three oldest were trimmed.
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(8)))
	assert.True(t, entries[4].Amount.Equal(decimal.NewFromInt(4)))
}
