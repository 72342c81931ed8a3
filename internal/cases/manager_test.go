package cases

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(store.NewMemoryStore(), zaptest.NewLogger(t).Sugar())
}

func openReq(txID string) OpenRequest {
	return OpenRequest{
		Type:          TypeRiskReview,
		Priority:      models.RiskLevelHigh,
		UserID:        "u1",
		TransactionID: txID,
		RiskScore:     72,
		Reasons:       []string{"velocity", "blacklist"},
	}
}

func TestOpenIsIdempotentPerTransaction(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	first, err := m.Open(ctx, openReq("tx-1"))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, first.Status)
	assert.Equal(t, models.RiskLevelHigh, first.Priority)
	assert.NotEmpty(t, first.CaseNumber)

	second, err := m.Open(ctx, openReq("tx-1"))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same transaction and type must reuse the case")

	// A different case type for the same transaction opens separately.
	blocked := openReq("tx-1")
	blocked.Type = TypeBlocked
	third, err := m.Open(ctx, blocked)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, third.ID)
}

func TestOpenConcurrentSameTransaction(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Open(ctx, openReq("tx-concurrent"))
			if err == nil {
				ids[i] = c.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.NotEmpty(t, id)
		assert.Equal(t, ids[0], id)
	}
}

func TestOpenValidatesInput(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Open(ctx, OpenRequest{Type: TypeRiskReview, UserID: "u1"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = m.Open(ctx, OpenRequest{TransactionID: "tx", UserID: "u1"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	c, err := m.Open(ctx, openReq("tx-1"))
	require.NoError(t, err)

	c, err = m.Update(ctx, c.ID, UpdatePatch{Status: StatusInProgress, AssignedTo: "analyst-3", UpdatedBy: "lead"})
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, c.Status)
	assert.Equal(t, "analyst-3", c.AssignedTo)

	c, err = m.Update(ctx, c.ID, UpdatePatch{Status: StatusClosed, Notes: "cleared after review"})
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, c.Status)
	require.NotNil(t, c.ClosedAt)
	assert.Contains(t, c.Notes, "cleared after review")

	// Reopening a closed case is an invalid transition.
	_, err = m.Update(ctx, c.ID, UpdatePatch{Status: StatusOpen})
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// Unknown status values are invalid input, not a transition error.
	_, err = m.Update(ctx, c.ID, UpdatePatch{Status: Status("REOPENED")})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestUpdateAppendsNotesAndTimeline(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	c, err := m.Open(ctx, openReq("tx-1"))
	require.NoError(t, err)
	initialTimeline := len(c.Timeline)

	c, err = m.Update(ctx, c.ID, UpdatePatch{Notes: "first note"})
	require.NoError(t, err)
	c, err = m.Update(ctx, c.ID, UpdatePatch{Notes: "second note"})
	require.NoError(t, err)

	assert.Contains(t, c.Notes, "first note")
	assert.Contains(t, c.Notes, "second note")
	assert.GreaterOrEqual(t, len(c.Timeline), initialTimeline)
}

func TestUpdateUnknownCase(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.Update(ctx, "no-such-case", UpdatePatch{Status: StatusClosed})
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = m.Get(ctx, "no-such-case")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListFiltersAndOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a, err := m.Open(ctx, openReq("tx-a"))
	require.NoError(t, err)
	b := openReq("tx-b")
	b.UserID = "u2"
	b.Priority = models.RiskLevelCritical
	opened, err := m.Open(ctx, b)
	require.NoError(t, err)
	_, err = m.Update(ctx, opened.ID, UpdatePatch{Status: StatusInProgress})
	require.NoError(t, err)

	all, err := m.List(ctx, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	critical, err := m.List(ctx, ListFilter{Priority: models.RiskLevelCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "u2", critical[0].UserID)

	open, err := m.List(ctx, ListFilter{Status: StatusOpen})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, a.ID, open[0].ID)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	a, err := m.Open(ctx, openReq("tx-a"))
	require.NoError(t, err)
	_, err = m.Open(ctx, openReq("tx-b"))
	require.NoError(t, err)
	_, err = m.Update(ctx, a.ID, UpdatePatch{Status: StatusClosed})
	require.NoError(t, err)

	stats, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Open)
	assert.Equal(t, 1, stats.Closed)
	assert.Equal(t, 2, stats.ByPriority[models.RiskLevelHigh])
}
