// Package kyc exposes the engine's view of the identity-verification
// subsystem. The verification workflow itself (document upload, biometric
// sessions) lives elsewhere; the risk engine only consumes a user's current
// tier and the limit schedule attached to each tier.
package kyc

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/riskengine/internal/models"
)

// TierStatus is a user's current verification tier and its state.
type TierStatus struct {
	Tier   models.KycTier   `json:"tier"`
	Status models.KycStatus `json:"status"`
}

// TierLimits is the per-window allowance schedule for a tier, in currency units.
type TierLimits struct {
	Daily   decimal.Decimal `json:"daily"`
	Weekly  decimal.Decimal `json:"weekly"`
	Monthly decimal.Decimal `json:"monthly"`
	Annual  decimal.Decimal `json:"annual"`
}

// ForPeriod returns the allowance for the given rolling window.
func (l TierLimits) ForPeriod(p models.Period) decimal.Decimal {
	switch p {
	case models.PeriodDaily:
		return l.Daily
	case models.PeriodWeekly:
		return l.Weekly
	case models.PeriodMonthly:
		return l.Monthly
	case models.PeriodAnnual:
		return l.Annual
	}
	return decimal.Zero
}

// StatusProvider is the external KYC collaborator consumed by the limit
// enforcer and the orchestrating service.
type StatusProvider interface {
	GetTier(ctx context.Context, userID string) (TierStatus, error)
	GetTierLimits(ctx context.Context, tier models.KycTier) (TierLimits, error)
}

// defaultTierLimits is the standard allowance schedule. Unverified accounts
// get a deposit-only trickle; each tier roughly an order of magnitude more.
var defaultTierLimits = map[models.KycTier]TierLimits{
	models.KycTierNone: {
		Daily:   decimal.NewFromInt(100),
		Weekly:  decimal.NewFromInt(500),
		Monthly: decimal.NewFromInt(1000),
		Annual:  decimal.NewFromInt(5000),
	},
	models.KycTierLevel1: {
		Daily:   decimal.NewFromInt(2500),
		Weekly:  decimal.NewFromInt(10000),
		Monthly: decimal.NewFromInt(25000),
		Annual:  decimal.NewFromInt(100000),
	},
	models.KycTierLevel2: {
		Daily:   decimal.NewFromInt(25000),
		Weekly:  decimal.NewFromInt(100000),
		Monthly: decimal.NewFromInt(250000),
		Annual:  decimal.NewFromInt(1000000),
	},
	models.KycTierLevel3: {
		Daily:   decimal.NewFromInt(100000),
		Weekly:  decimal.NewFromInt(500000),
		Monthly: decimal.NewFromInt(1500000),
		Annual:  decimal.NewFromInt(10000000),
	},
}

// HighValueThreshold returns the amount at which a transaction counts as
// high-value for the tier and becomes subject to the additional-approval gate.
func HighValueThreshold(tier models.KycTier) decimal.Decimal {
	switch tier {
	case models.KycTierLevel1:
		return decimal.NewFromInt(1000)
	case models.KycTierLevel2:
		return decimal.NewFromInt(10000)
	case models.KycTierLevel3:
		return decimal.NewFromInt(50000)
	}
	return decimal.NewFromInt(100)
}

// StaticProvider is an in-memory StatusProvider for tests and deployments
// where tier assignments are pushed in by the identity service.
type StaticProvider struct {
	mu     sync.RWMutex
	tiers  map[string]TierStatus
	limits map[models.KycTier]TierLimits
}

// NewStaticProvider creates a provider with the default limit schedule.
// Users without an explicit assignment report tier NONE / PENDING.
func NewStaticProvider() *StaticProvider {
	limits := make(map[models.KycTier]TierLimits, len(defaultTierLimits))
	for k, v := range defaultTierLimits {
		limits[k] = v
	}
	return &StaticProvider{
		tiers:  make(map[string]TierStatus),
		limits: limits,
	}
}

// SetTier assigns a tier and status to a user.
func (p *StaticProvider) SetTier(userID string, tier models.KycTier, status models.KycStatus) {
	p.mu.Lock()
	p.tiers[userID] = TierStatus{Tier: tier, Status: status}
	p.mu.Unlock()
}

func (p *StaticProvider) GetTier(ctx context.Context, userID string) (TierStatus, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if ts, ok := p.tiers[userID]; ok {
		return ts, nil
	}
	return TierStatus{Tier: models.KycTierNone, Status: models.KycStatusPending}, nil
}

func (p *StaticProvider) GetTierLimits(ctx context.Context, tier models.KycTier) (TierLimits, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if l, ok := p.limits[tier]; ok {
		return l, nil
	}
	return TierLimits{}, models.ErrInvalidInput
}
