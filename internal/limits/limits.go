// Package limits enforces KYC-tiered rolling-window volume limits and runs
// the velocity- and volume-based suspicious-pattern detectors. Per-user state
// is mutated under a per-user exclusive lock so a limit check and the record
// that follows it form one atomic unit.
package limits

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/kyc"
	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

// PeriodUsage reports one rolling window's state after a limit check.
type PeriodUsage struct {
	Period         Period          `json:"period"`
	Limit          decimal.Decimal `json:"limit"`
	CurrentVolume  decimal.Decimal `json:"current_volume"`
	Remaining      decimal.Decimal `json:"remaining"`
	UtilizationPct string          `json:"utilization_pct"`
}

// Period aliases the shared window enum for this package's exported surface.
type Period = models.Period

// Result is the outcome of a limit check.
type Result struct {
	Allowed bool `json:"allowed"`
	// BreachedPeriod is set when Allowed is false: the breached window with
	// the tightest remaining headroom.
	BreachedPeriod Period          `json:"breached_period,omitempty"`
	CurrentVolume  decimal.Decimal `json:"current_volume"`
	Limit          decimal.Decimal `json:"limit"`
	Remaining      decimal.Decimal `json:"remaining"`
	Usage          []PeriodUsage   `json:"usage"`
	// RequiresApproval marks high-value transactions that need additional
	// sign-off rather than an automatic denial.
	RequiresApproval bool     `json:"requires_approval,omitempty"`
	ApprovalReasons  []string `json:"approval_reasons,omitempty"`
}

// Enforcer tracks rolling transaction volume per user and checks it against
// the user's KYC tier allowance.
type Enforcer struct {
	logger  *zap.SugaredLogger
	history *HistoryLog
	kyc     kyc.StatusProvider

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewEnforcer creates a limit enforcer over the given store.
func NewEnforcer(s store.Store, kycProvider kyc.StatusProvider, historyCap int, logger *zap.SugaredLogger) *Enforcer {
	return &Enforcer{
		logger:    logger,
		history:   NewHistoryLog(s, historyCap, logger),
		kyc:       kycProvider,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// History exposes the underlying log to read-only consumers (the scoring
// engine's velocity and pattern checks).
func (e *Enforcer) History() *HistoryLog { return e.history }

// userLock returns the exclusive lock owning the user's rolling state.
func (e *Enforcer) userLock(userID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		e.userLocks[userID] = l
	}
	return l
}

// CheckLimit verifies that the transaction fits the user's rolling limits.
// It is advisory: state is not reserved. Callers that will record the
// transaction on success should use CheckAndRecord instead so the check and
// the record are atomic against concurrent attempts for the same user.
func (e *Enforcer) CheckLimit(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType) (*Result, error) {
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return e.checkLocked(ctx, userID, amount, txType, time.Now().UTC())
}

// CheckAndRecord performs the limit check and, when allowed, appends the
// transaction to the user's history in the same critical section. This is
// the race-closing path: two concurrent attempts that jointly exceed a
// window can never both pass.
func (e *Enforcer) CheckAndRecord(ctx context.Context, req *models.TransactionRequest) (*Result, error) {
	lock := e.userLock(req.UserID)
	lock.Lock()
	defer lock.Unlock()

	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res, err := e.checkLocked(ctx, req.UserID, req.Amount, req.Type, now)
	if err != nil {
		return res, err
	}
	if err := e.history.Append(ctx, models.TransactionHistoryEntry{
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		Type:          req.Type,
		Amount:        req.Amount,
		Timestamp:     now,
		IP:            req.IP,
	}); err != nil {
		return res, err
	}
	return res, nil
}

// RecordTransaction appends a confirmed transaction to the user's history and
// refreshes the rolling sums. It must be called exactly once per confirmed
// transaction, never speculatively.
func (e *Enforcer) RecordTransaction(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType, at time.Time, txID, ip string) error {
	if !txType.Valid() {
		return fmt.Errorf("record transaction: type %q: %w", txType, models.ErrInvalidInput)
	}
	lock := e.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return e.history.Append(ctx, models.TransactionHistoryEntry{
		TransactionID: txID,
		UserID:        userID,
		Type:          txType,
		Amount:        amount,
		Timestamp:     at,
		IP:            ip,
	})
}

// checkLocked runs the limit evaluation. Caller holds the user's lock.
func (e *Enforcer) checkLocked(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType, now time.Time) (*Result, error) {
	if userID == "" || !txType.Valid() || amount.Sign() <= 0 {
		return nil, fmt.Errorf("limit check for %q: %w", userID, models.ErrInvalidInput)
	}

	tier, err := e.kyc.GetTier(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("kyc tier lookup: %w", models.ErrDependencyUnavailable)
	}

	// AML-gated types need a verified tier of at least LEVEL_1.
	if txType.RequiresAML() {
		if !tier.Tier.AtLeast(models.KycTierLevel1) || tier.Status != models.KycStatusVerified {
			return nil, fmt.Errorf("%s requires a verified tier: %w", txType, models.ErrKycRequired)
		}
	}

	limits, err := e.kyc.GetTierLimits(ctx, tier.Tier)
	if err != nil {
		return nil, fmt.Errorf("tier limits lookup: %w", models.ErrDependencyUnavailable)
	}

	// One scan covers every window: the annual lookback subsumes the rest.
	entries, err := e.history.Window(ctx, userID, now.Add(-models.PeriodAnnual.Lookback()))
	if err != nil {
		return nil, err
	}

	weighted := amount.Mul(txType.RiskMultiplier())
	res := &Result{Allowed: true}
	var breach *PeriodUsage

	for _, period := range models.Periods {
		since := now.Add(-period.Lookback())
		volume := decimal.Zero
		for _, entry := range entries {
			if entry.Timestamp.Before(since) {
				continue
			}
			// Limits are account-wide: every type counts, weighted by its
			// own channel multiplier.
			volume = volume.Add(entry.Amount.Mul(entry.Type.RiskMultiplier()))
		}

		limit, remaining := allowanceFor(limits, period, volume)
		usage := PeriodUsage{
			Period:         period,
			Limit:          limit,
			CurrentVolume:  volume.Round(2),
			Remaining:      remaining.Round(2),
			UtilizationPct: utilization(volume, limit),
		}
		res.Usage = append(res.Usage, usage)

		if volume.Add(weighted).GreaterThan(limit) {
			if breach == nil || usage.Remaining.LessThan(breach.Remaining) {
				u := usage
				breach = &u
			}
		}
	}

	if breach != nil {
		res.Allowed = false
		res.BreachedPeriod = breach.Period
		res.CurrentVolume = breach.CurrentVolume
		res.Limit = breach.Limit
		res.Remaining = breach.Remaining
		e.logger.Infow("transaction over limit",
			"user_id", userID,
			"type", txType,
			"amount", amount.StringFixed(2),
			"period", breach.Period,
			"remaining", breach.Remaining.StringFixed(2))
		return res, &models.LimitExceededError{
			Period:        breach.Period,
			Limit:         breach.Limit,
			CurrentVolume: breach.CurrentVolume,
			Remaining:     breach.Remaining,
		}
	}

	// Daily window headline numbers for the allowed path.
	daily := res.Usage[0]
	res.CurrentVolume = daily.CurrentVolume
	res.Limit = daily.Limit
	res.Remaining = daily.Remaining

	e.applyHighValueGate(ctx, res, userID, amount, tier.Tier, entries, now)
	return res, nil
}

// applyHighValueGate flags transactions above the tier's high-value threshold
// that also trip one of the additional-approval conditions.
func (e *Enforcer) applyHighValueGate(ctx context.Context, res *Result, userID string, amount decimal.Decimal, tier models.KycTier, entries []models.TransactionHistoryEntry, now time.Time) {
	threshold := kyc.HighValueThreshold(tier)
	if amount.LessThan(threshold) {
		return
	}

	var reasons []string

	recentHighValue := 0
	everHighValue := false
	dayAgo := now.Add(-24 * time.Hour)
	for _, entry := range entries {
		if entry.Amount.GreaterThanOrEqual(threshold) {
			everHighValue = true
			if !entry.Timestamp.Before(dayAgo) {
				recentHighValue++
			}
		}
	}
	if recentHighValue >= 3 {
		reasons = append(reasons, fmt.Sprintf("%d high-value transactions in the last 24h", recentHighValue))
	}
	if !everHighValue && tier == models.KycTierLevel1 {
		reasons = append(reasons, "first high-value transaction at LEVEL_1")
	}

	if len(reasons) > 0 {
		res.RequiresApproval = true
		res.ApprovalReasons = reasons
		e.logger.Infow("high-value transaction requires approval",
			"user_id", userID,
			"amount", amount.StringFixed(2),
			"reasons", reasons)
	}
}

// FlagHighRiskOrigin marks an allowed result as requiring approval because
// the origin IP is flagged high-risk. The geolocation signal lives with the
// caller, so the gate's third condition is applied from outside.
func FlagHighRiskOrigin(res *Result) {
	if res == nil || !res.Allowed {
		return
	}
	res.RequiresApproval = true
	res.ApprovalReasons = append(res.ApprovalReasons, "origin IP flagged high-risk")
}

func allowanceFor(limits kyc.TierLimits, period Period, volume decimal.Decimal) (limit, remaining decimal.Decimal) {
	limit = limits.ForPeriod(period)
	remaining = limit.Sub(volume)
	if remaining.Sign() < 0 {
		remaining = decimal.Zero
	}
	return limit, remaining
}

// utilization renders volume/limit as a percentage with 1 decimal place.
func utilization(volume, limit decimal.Decimal) string {
	if limit.Sign() <= 0 {
		return "0.0"
	}
	return volume.Div(limit).Mul(decimal.NewFromInt(100)).StringFixed(1)
}
