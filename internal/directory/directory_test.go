package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

func newTestDirectory(t *testing.T) *Directory {
	t.Helper()
	return New(store.NewMemoryStore(), nil, zaptest.NewLogger(t).Sugar())
}

func TestAddAndIsListed(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	entry, err := d.Add(ctx, EntityTypeEmail, "Fraud@Example.COM", ListKindBlacklist,
		SeverityHigh, SourceFraudTeam, "chargeback ring", "analyst-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "fraud@example.com", entry.NormalizedValue)
	assert.Equal(t, SeverityHigh, entry.Severity)

	// Lookup normalizes the same way, so case differences still hit.
	res, err := d.IsListed(ctx, EntityTypeEmail, "FRAUD@example.com")
	require.NoError(t, err)
	assert.True(t, res.OnBlacklist)
	assert.False(t, res.OnWhitelist)
	assert.Equal(t, SeverityHigh, res.Severity)
	assert.Equal(t, []Action{ActionBlockTransaction, ActionAlert, ActionLog}, res.AppliedActions)

	res, err = d.IsListed(ctx, EntityTypeEmail, "clean@example.com")
	require.NoError(t, err)
	assert.False(t, res.OnBlacklist)
	assert.False(t, res.OnWhitelist)
}

func TestAddUpgradeOnlySeverity(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityTypeWallet, "0xABCDEF1234", ListKindBlacklist,
		SeverityMedium, SourceAutomated, "velocity alerts", "system", nil)
	require.NoError(t, err)

	// Upgrading raises the severity.
	entry, err := d.Add(ctx, EntityTypeWallet, "0xabcdef1234", ListKindBlacklist,
		SeverityCritical, SourceSanctionsFeed, "sanctions match", "feed", nil)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, entry.Severity)

	// Re-adding with a lower severity never downgrades.
	entry, err = d.Add(ctx, EntityTypeWallet, "0xabcdef1234", ListKindBlacklist,
		SeverityLow, SourceManual, "manual note", "analyst-2", nil)
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, entry.Severity)

	res, err := d.IsListed(ctx, EntityTypeWallet, "0xABCDEF1234")
	require.NoError(t, err)
	assert.Equal(t, SeverityCritical, res.Severity)
}

func TestWhitelistOverridesBlacklist(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityTypeUser, "user-77", ListKindBlacklist,
		SeverityHigh, SourceAutomated, "pattern hits", "system", nil)
	require.NoError(t, err)
	_, err = d.Add(ctx, EntityTypeUser, "user-77", ListKindWhitelist,
		"", SourceManual, "verified institutional account", "compliance-lead", nil)
	require.NoError(t, err)

	res, err := d.IsListed(ctx, EntityTypeUser, "user-77")
	require.NoError(t, err)
	assert.True(t, res.OnWhitelist)
	assert.False(t, res.OnBlacklist, "whitelist must short-circuit the blacklist entry")
	assert.Empty(t, res.AppliedActions)
}

func TestAddRejectsBadEnums(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityType("passport"), "x", ListKindBlacklist,
		SeverityLow, SourceManual, "r", "a", nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = d.Add(ctx, EntityTypeEmail, "x@y.z", ListKindBlacklist,
		Severity("extreme"), SourceManual, "r", "a", nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = d.Add(ctx, EntityTypeEmail, "", ListKindBlacklist,
		SeverityLow, SourceManual, "r", "a", nil)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Remove(ctx, EntityTypeEmail, "gone@example.com", ListKindBlacklist, "cleanup", "analyst")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = d.Add(ctx, EntityTypeEmail, "gone@example.com", ListKindBlacklist,
		SeverityLow, SourceManual, "test", "analyst", nil)
	require.NoError(t, err)

	removed, err := d.Remove(ctx, EntityTypeEmail, "GONE@example.com", ListKindBlacklist, "false positive", "analyst")
	require.NoError(t, err)
	assert.Equal(t, "gone@example.com", removed.NormalizedValue)

	res, err := d.IsListed(ctx, EntityTypeEmail, "gone@example.com")
	require.NoError(t, err)
	assert.False(t, res.OnBlacklist)
}

func TestCacheInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	// Prime the cache with a miss.
	res, err := d.IsListed(ctx, EntityTypeIP, "203.0.113.7")
	require.NoError(t, err)
	require.False(t, res.OnBlacklist)

	_, err = d.Add(ctx, EntityTypeIP, "203.0.113.7", ListKindBlacklist,
		SeverityMedium, SourceAutomated, "botnet exit", "system", nil)
	require.NoError(t, err)

	// The write must have evicted the cached miss.
	res, err = d.IsListed(ctx, EntityTypeIP, "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, res.OnBlacklist)
}

func TestBatchCheckSkipsInvalidRefs(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityTypeEmail, "bad@example.com", ListKindBlacklist,
		SeverityHigh, SourceFraudTeam, "fraud", "analyst", nil)
	require.NoError(t, err)

	results, err := d.BatchCheck(ctx, []EntityRef{
		{EntityType: EntityTypeEmail, Value: "bad@example.com"},
		{EntityType: EntityTypeWallet, Value: ""}, // skipped, not fatal
		{EntityType: EntityTypeUser, Value: "user-1"},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OnBlacklist)
	assert.False(t, results[1].OnBlacklist)
}

func TestBatchCheckCancelledContext(t *testing.T) {
	d := newTestDirectory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.BatchCheck(ctx, []EntityRef{{EntityType: EntityTypeUser, Value: "u"}})
	assert.ErrorIs(t, err, models.ErrDependencyUnavailable)
}

func TestAuditTrailMasksValues(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityTypeEmail, "suspect@example.com", ListKindBlacklist,
		SeverityHigh, SourceFraudTeam, "fraud", "analyst-7", nil)
	require.NoError(t, err)
	_, err = d.Remove(ctx, EntityTypeEmail, "suspect@example.com", ListKindBlacklist, "cleared", "analyst-7")
	require.NoError(t, err)

	records, err := d.Audit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "add", records[0].Action)
	assert.Equal(t, "remove", records[1].Action)
	for _, rec := range records {
		assert.NotContains(t, rec.MaskedValue, "suspect", "raw identifier leaked into audit output")
		assert.Contains(t, rec.MaskedValue, "@example.com")
		assert.Equal(t, "analyst-7", rec.Actor)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	d := newTestDirectory(t)

	_, err := d.Add(ctx, EntityTypeEmail, "a@b.c", ListKindBlacklist, SeverityHigh, SourceFraudTeam, "r", "a", nil)
	require.NoError(t, err)
	_, err = d.Add(ctx, EntityTypeWallet, "0xdead", ListKindBlacklist, SeverityCritical, SourceSanctionsFeed, "r", "a", nil)
	require.NoError(t, err)
	_, err = d.Add(ctx, EntityTypeUser, "trusted", ListKindWhitelist, "", SourceManual, "r", "a", nil)
	require.NoError(t, err)

	stats, err := d.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBlacklist)
	assert.Equal(t, 1, stats.TotalWhitelist)
	assert.Equal(t, 1, stats.BySeverity[SeverityHigh])
	assert.Equal(t, 1, stats.BySeverity[SeverityCritical])
	assert.Equal(t, 3, stats.AddedLast24Hours)
}
