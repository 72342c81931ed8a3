package limits

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianpay/riskengine/internal/models"
)

func TestDetectRapidSuccessionRoundAmounts(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// Four 1000-unit deposits in the last ten minutes; the fifth is the
	// candidate under evaluation.
	now := time.Now().UTC()
	for i := 0; i < 4; i++ {
		require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(1000), models.TransactionTypeDeposit,
			now.Add(-time.Duration(i+1)*2*time.Minute), fmt.Sprintf("tx-%d", i), ""))
	}

	report, err := e.DetectSuspiciousActivity(ctx, "u1", decimal.NewFromInt(1000), models.TransactionTypeDeposit)
	require.NoError(t, err)

	// Rapid succession (+25) and large round amount (+15) both fire.
	assert.GreaterOrEqual(t, report.RiskScore, float64(scoreRapidSuccession+scoreRoundAmount))
	assert.True(t, report.Flagged)
	assert.NotEmpty(t, report.Patterns)
}

func TestDetectQuietHistoryIsNotFlagged(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	now := time.Now().UTC()
	// A handful of ordinary, spread-out transactions.
	for i := 0; i < 3; i++ {
		require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(int64(120+i*10)), models.TransactionTypeSwap,
			now.Add(-time.Duration(i+1)*24*time.Hour), fmt.Sprintf("tx-%d", i), ""))
	}

	report, err := e.DetectSuspiciousActivity(ctx, "u1", decimal.NewFromInt(135), models.TransactionTypeSwap)
	require.NoError(t, err)
	// The unusual-hour signal may contribute depending on wall clock; alone
	// it is below the flag threshold.
	assert.LessOrEqual(t, report.RiskScore, float64(scoreUnusualHour))
	assert.False(t, report.Flagged)
}

func TestDetectStructuring(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// Two prior amounts parked at ~88% of the 2500 daily limit.
	now := time.Now().UTC()
	require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(2200), models.TransactionTypeDeposit,
		now.Add(-30*time.Hour), "tx-1", ""))
	require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(2150), models.TransactionTypeDeposit,
		now.Add(-28*time.Hour), "tx-2", ""))

	structured, err := e.isStructuring(ctx, "u1", decimal.NewFromInt(2250), nil)
	require.NoError(t, err)
	assert.False(t, structured, "needs the two most recent history entries in band")

	recent, err := e.history.Recent(ctx, "u1", structuringLookback)
	require.NoError(t, err)
	structured, err = e.isStructuring(ctx, "u1", decimal.NewFromInt(2250), recent)
	require.NoError(t, err)
	assert.True(t, structured)

	// An amount outside the 80-95% band breaks the pattern.
	structured, err = e.isStructuring(ctx, "u1", decimal.NewFromInt(1000), recent)
	require.NoError(t, err)
	assert.False(t, structured)
}

func TestDetectAverageDeviation(t *testing.T) {
	ctx := context.Background()
	e, provider := newTestEnforcer(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, e.RecordTransaction(ctx, "u1", decimal.NewFromInt(40), models.TransactionTypeSwap,
			now.Add(-time.Duration(i+2)*24*time.Hour), fmt.Sprintf("tx-%d", i), ""))
	}

	// 350 is over 8x the personal average of 40.
	report, err := e.DetectSuspiciousActivity(ctx, "u1", decimal.NewFromInt(350), models.TransactionTypeSwap)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, report.RiskScore, float64(scoreAverageDeviation))
	found := false
	for _, p := range report.Patterns {
		if strings.Contains(p, "personal average") {
			found = true
		}
	}
	assert.True(t, found, "expected the average-deviation pattern in %v", report.Patterns)
}

func TestDetectRejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEnforcer(t)

	_, err := e.DetectSuspiciousActivity(ctx, "", decimal.NewFromInt(10), models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = e.DetectSuspiciousActivity(ctx, "u1", decimal.Zero, models.TransactionTypeSwap)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestIsRoundAmount(t *testing.T) {
	assert.True(t, isRoundAmount(decimal.NewFromInt(1000)))
	assert.True(t, isRoundAmount(decimal.NewFromInt(7500)))
	assert.True(t, isRoundAmount(decimal.NewFromInt(9100)))
	assert.False(t, isRoundAmount(decimal.NewFromInt(1037)))
	assert.False(t, isRoundAmount(decimal.NewFromFloat(999.99)))
}
