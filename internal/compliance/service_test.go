package compliance

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianpay/riskengine/internal/cases"
	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/geo"
	"github.com/meridianpay/riskengine/internal/kyc"
	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

func newTestService(t *testing.T) (*Service, *kyc.StaticProvider) {
	t.Helper()
	provider := kyc.NewStaticProvider()
	svc := New(store.NewMemoryStore(), provider, geo.NewStaticResolver(), nil, Options{}, nil, zaptest.NewLogger(t).Sugar())
	return svc, provider
}

func swapRequest(userID string, amount int64) *models.TransactionRequest {
	return &models.TransactionRequest{
		UserID:    userID,
		Type:      models.TransactionTypeSwap,
		Amount:    decimal.NewFromInt(amount),
		Currency:  "EUR",
		Timestamp: time.Date(2026, 5, 11, 15, 0, 0, 0, time.UTC),
	}
}

func TestProcessTransactionAllowRecordsHistory(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	analysis, limitRes, err := svc.ProcessTransaction(ctx, swapRequest("u1", 150))
	require.NoError(t, err)
	assert.Equal(t, models.DecisionAllow, analysis.Decision)
	assert.True(t, limitRes.Allowed)

	entries, err := svc.Limits().History().Recent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Amount.Equal(decimal.NewFromInt(150)))
}

func TestProcessTransactionLimitBreachLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	require.NoError(t, svc.RecordTransaction(ctx, "u1", decimal.NewFromInt(2000), models.TransactionTypeSwap,
		time.Now().UTC().Add(-time.Hour)))

	_, _, err := svc.ProcessTransaction(ctx, swapRequest("u1", 600))
	le, ok := models.IsLimitExceeded(err)
	require.True(t, ok, "expected limit breach, got %v", err)
	assert.Equal(t, models.PeriodDaily, le.Period)
	assert.True(t, le.Remaining.Equal(decimal.NewFromInt(500)))

	entries, err := svc.Limits().History().Recent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the rejected attempt must not be recorded")
}

func TestProcessTransactionReviewHoldsRecord(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	_, err := svc.Directory().Add(ctx, directory.EntityTypeEmail, "bad@example.com", directory.ListKindBlacklist,
		directory.SeverityHigh, directory.SourceFraudTeam, "fraud ring", "analyst", nil)
	require.NoError(t, err)

	req := swapRequest("u1", 50)
	req.Email = "bad@example.com"
	analysis, limitRes, err := svc.ProcessTransaction(ctx, req)
	require.NoError(t, err)
	assert.True(t, limitRes.Allowed)
	assert.Equal(t, models.DecisionReview, analysis.Decision)
	assert.GreaterOrEqual(t, analysis.RiskScore, float64(60))
	assert.NotEmpty(t, analysis.CaseID)

	// REVIEW leaves the history untouched.
	entries, err := svc.Limits().History().Recent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// A case with priority HIGH was opened for the transaction.
	c, err := svc.Cases().Get(ctx, analysis.CaseID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelHigh, c.Priority)
	assert.Equal(t, cases.TypeRiskReview, c.Type)
	assert.Equal(t, req.TransactionID, c.TransactionID)
}

func TestProcessTransactionBlocksCriticalMatch(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	_, err := svc.Directory().Add(ctx, directory.EntityTypeWallet, "0xsanctioned", directory.ListKindBlacklist,
		directory.SeverityCritical, directory.SourceSanctionsFeed, "OFAC match", "feed", nil)
	require.NoError(t, err)

	req := swapRequest("u1", 50)
	req.DestinationWallet = "0xSANCTIONED"
	analysis, _, err := svc.ProcessTransaction(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.DecisionBlock, analysis.Decision)
	assert.Equal(t, float64(100), analysis.RiskScore)

	entries, err := svc.Limits().History().Recent(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcessTransactionHighRiskOriginNeedsApproval(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	// 5.x resolves to a high-risk country; 1200 sits above the LEVEL_1
	// high-value threshold.
	req := swapRequest("u1", 1200)
	req.IP = "5.45.12.9"
	analysis, limitRes, err := svc.ProcessTransaction(ctx, req)
	require.NoError(t, err)
	assert.True(t, limitRes.Allowed)
	assert.True(t, limitRes.RequiresApproval)
	assert.NotEmpty(t, limitRes.ApprovalReasons)

	// Held for approval: not recorded even though the analysis allowed it.
	if analysis.Decision == models.DecisionAllow {
		entries, err := svc.Limits().History().Recent(ctx, "u1", 10)
		require.NoError(t, err)
		assert.Empty(t, entries)
	}
}

func TestCheckTransactionLimitKycGate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.CheckTransactionLimit(ctx, "u-unverified", decimal.NewFromInt(10), models.TransactionTypeWithdrawal)
	assert.ErrorIs(t, err, models.ErrKycRequired)
}

func TestServiceMetricsAggregation(t *testing.T) {
	ctx := context.Background()
	svc, provider := newTestService(t)
	provider.SetTier("u1", models.KycTierLevel1, models.KycStatusVerified)

	_, err := svc.Directory().Add(ctx, directory.EntityTypeEmail, "x@y.z", directory.ListKindBlacklist,
		directory.SeverityLow, directory.SourceManual, "note", "a", nil)
	require.NoError(t, err)
	_, err = svc.Cases().Open(ctx, cases.OpenRequest{
		Type: cases.TypeManual, UserID: "u1", TransactionID: "tx-m",
	})
	require.NoError(t, err)

	m, err := svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Directory.TotalBlacklist)
	assert.Equal(t, 1, m.Cases.Total)
}

func TestScreenEntity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Directory().Add(ctx, directory.EntityTypeEmail, "mule@example.com", directory.ListKindBlacklist,
		directory.SeverityMedium, directory.SourceFraudTeam, "mule network", "analyst", nil)
	require.NoError(t, err)

	matches, err := svc.ScreenEntity(ctx, directory.EntityTypeEmail, "mule@exampie.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "mule@example.com", matches[0].Entry.NormalizedValue)
}
