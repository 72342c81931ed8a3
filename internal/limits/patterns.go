package limits

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/riskengine/internal/models"
)

// Pattern scores. Each check contributes independently; the sum is capped
// at 100 and anything above the flag threshold marks the report flagged.
const (
	scoreRapidSuccession  = 25
	scoreRoundAmount      = 15
	scoreStructuring      = 20
	scoreUnusualHour      = 10
	scoreAverageDeviation = 30

	flagThreshold = 30

	// structuringLookback is the trailing-transaction window over which
	// "consecutive occurrences" is evaluated. The upstream heuristic left the
	// window undefined; trailing 10 matches the personal-average window.
	structuringLookback = 10
)

// SuspiciousReport is the output of the pattern detector.
type SuspiciousReport struct {
	Flagged   bool     `json:"flagged"`
	RiskScore float64  `json:"risk_score"`
	Patterns  []string `json:"patterns,omitempty"`
}

// DetectSuspiciousActivity scores the transaction against the volume-tied
// pattern checks: rapid succession, large round amounts, structuring against
// the daily limit, unusual hours, and deviation from the personal average.
// The candidate transaction itself is counted as if it had occurred.
func (e *Enforcer) DetectSuspiciousActivity(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType) (*SuspiciousReport, error) {
	if userID == "" || !txType.Valid() || amount.Sign() <= 0 {
		return nil, fmt.Errorf("suspicious activity check for %q: %w", userID, models.ErrInvalidInput)
	}

	now := time.Now().UTC()
	report := &SuspiciousReport{}

	recent, err := e.history.Recent(ctx, userID, structuringLookback)
	if err != nil {
		return nil, err
	}

	// Rapid succession: five or more transactions in the trailing hour,
	// counting the attempt under evaluation.
	hourAgo := now.Add(-time.Hour)
	inHour := 1
	for _, entry := range recent {
		if !entry.Timestamp.Before(hourAgo) {
			inHour++
		}
	}
	if inHour >= 5 {
		report.RiskScore += scoreRapidSuccession
		report.Patterns = append(report.Patterns,
			fmt.Sprintf("rapid succession: %d transactions in the last hour", inHour))
	}

	// Large round amounts are a classic layering tell. Sub-1000 round
	// amounts are everyday retail noise and do not count.
	if isRoundAmount(amount) && amount.GreaterThanOrEqual(decimal.NewFromInt(1000)) {
		report.RiskScore += scoreRoundAmount
		report.Patterns = append(report.Patterns,
			fmt.Sprintf("large round amount %s", amount.StringFixed(2)))
	}

	// Structuring: three consecutive amounts (including this one) parked
	// just under the daily limit.
	structured, err := e.isStructuring(ctx, userID, amount, recent)
	if err != nil {
		return nil, err
	}
	if structured {
		report.RiskScore += scoreStructuring
		report.Patterns = append(report.Patterns,
			"structuring: repeated amounts at 80-95% of the daily limit")
	}

	// Unusual hours, evaluated in UTC.
	if hour := now.Hour(); hour <= 6 || hour == 23 {
		report.RiskScore += scoreUnusualHour
		report.Patterns = append(report.Patterns,
			fmt.Sprintf("transaction at unusual hour %02d:00", hour))
	}

	// Deviation from the personal trailing-10 average.
	if avg := averageAmount(recent); avg.Sign() > 0 && amount.GreaterThan(avg.Mul(decimal.NewFromInt(5))) {
		report.RiskScore += scoreAverageDeviation
		report.Patterns = append(report.Patterns,
			fmt.Sprintf("amount %s exceeds 5x the personal average %s",
				amount.StringFixed(2), avg.StringFixed(2)))
	}

	if report.RiskScore > 100 {
		report.RiskScore = 100
	}
	report.Flagged = report.RiskScore > flagThreshold

	if report.Flagged {
		e.logger.Infow("suspicious activity flagged",
			"user_id", userID,
			"score", report.RiskScore,
			"patterns", report.Patterns)
	}
	return report, nil
}

// isStructuring reports whether the candidate amount and the two most recent
// history entries all fall inside [80%, 95%] of the user's daily limit.
func (e *Enforcer) isStructuring(ctx context.Context, userID string, amount decimal.Decimal, recent []models.TransactionHistoryEntry) (bool, error) {
	tier, err := e.kyc.GetTier(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("kyc tier lookup: %w", models.ErrDependencyUnavailable)
	}
	limits, err := e.kyc.GetTierLimits(ctx, tier.Tier)
	if err != nil {
		return false, fmt.Errorf("tier limits lookup: %w", models.ErrDependencyUnavailable)
	}
	daily := limits.Daily
	if daily.Sign() <= 0 {
		return false, nil
	}

	inBand := func(v decimal.Decimal) bool {
		ratio := v.Div(daily)
		return ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.80)) &&
			ratio.LessThanOrEqual(decimal.NewFromFloat(0.95))
	}

	if !inBand(amount) {
		return false, nil
	}
	if len(recent) < 2 {
		return false, nil
	}
	// recent is newest first.
	return inBand(recent[0].Amount) && inBand(recent[1].Amount), nil
}

func isRoundAmount(amount decimal.Decimal) bool {
	for _, d := range []int64{1000, 500, 100} {
		if amount.Mod(decimal.NewFromInt(d)).IsZero() {
			return true
		}
	}
	return false
}

func averageAmount(entries []models.TransactionHistoryEntry) decimal.Decimal {
	if len(entries) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum.Div(decimal.NewFromInt(int64(len(entries))))
}
