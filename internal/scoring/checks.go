package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/models"
)

// Check weight caps. Each check contributes risk in [0, cap]; contributions
// are summed and clamped to [0, 100].
const (
	weightBlacklist = 60
	weightVelocity  = 20
	weightAmount    = 15
	weightGeo       = 10
	weightBehavior  = 5
	weightPattern   = 15
)

// Severity contributions for non-critical blacklist hits. A high-severity
// hit alone lands the score in the review band.
var severityRisk = map[directory.Severity]float64{
	directory.SeverityLow:    10,
	directory.SeverityMedium: 30,
	directory.SeverityHigh:   60,
}

// checkBlacklist folds the batch directory results into one contribution,
// scaled by the highest non-critical severity found. Whitelisted identifiers
// contribute nothing. Critical hits never reach here; Analyze short-circuits
// on them first.
func checkBlacklist(results []*directory.ListResult) models.CheckResult {
	out := models.CheckResult{Name: "blacklist"}
	var worst float64
	for _, r := range results {
		if r.OnWhitelist {
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("%s %s is whitelisted", r.EntityType, r.Value))
			continue
		}
		if !r.OnBlacklist {
			continue
		}
		risk := severityRisk[r.Severity]
		if risk > worst {
			worst = risk
		}
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("%s is blacklisted (severity=%s): %s", r.EntityType, r.Severity, r.Reason))
	}
	if worst > weightBlacklist {
		worst = weightBlacklist
	}
	out.Risk = worst
	return out
}

// velocityThresholds are soft limits, deliberately looser than the hard
// tier limits: tripping them raises the score without rejecting outright.
type velocityThresholds struct {
	HourlyCount int
	DailyCount  int
	DailyVolume decimal.Decimal
}

func defaultVelocityThresholds() velocityThresholds {
	return velocityThresholds{
		HourlyCount: 10,
		DailyCount:  30,
		DailyVolume: decimal.NewFromInt(50000),
	}
}

// checkVelocity scores rolling transaction counts and volume against the
// soft thresholds.
func (e *Engine) checkVelocity(ctx context.Context, req *models.TransactionRequest, now time.Time) (models.CheckResult, error) {
	out := models.CheckResult{Name: "velocity"}

	dayEntries, err := e.history.Window(ctx, req.UserID, now.Add(-24*time.Hour))
	if err != nil {
		return out, fmt.Errorf("velocity history read: %w", err)
	}

	hourAgo := now.Add(-time.Hour)
	hourCount := 0
	dayVolume := decimal.Zero
	for _, entry := range dayEntries {
		if !entry.Timestamp.Before(hourAgo) {
			hourCount++
		}
		dayVolume = dayVolume.Add(entry.Amount)
	}

	t := e.velocity
	if hourCount >= t.HourlyCount {
		out.Risk += 10
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("%d transactions in the last hour (soft limit %d)", hourCount, t.HourlyCount))
	}
	if len(dayEntries) >= t.DailyCount {
		out.Risk += 5
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("%d transactions in the last 24h (soft limit %d)", len(dayEntries), t.DailyCount))
	}
	if dayVolume.Add(req.Amount).GreaterThan(t.DailyVolume) {
		out.Risk += 10
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("24h volume %s exceeds soft threshold %s",
				dayVolume.Add(req.Amount).StringFixed(2), t.DailyVolume.StringFixed(2)))
	}
	if out.Risk > weightVelocity {
		out.Risk = weightVelocity
	}
	return out, nil
}

// checkAmount combines the high-absolute-value signal with deviation from
// the user's personal average.
func (e *Engine) checkAmount(ctx context.Context, req *models.TransactionRequest) (models.CheckResult, error) {
	out := models.CheckResult{Name: "amount"}

	if req.Amount.GreaterThanOrEqual(decimal.NewFromInt(10000)) {
		out.Risk += 8
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("high absolute amount %s", req.Amount.StringFixed(2)))
	}

	recent, err := e.history.Recent(ctx, req.UserID, 10)
	if err != nil {
		return out, fmt.Errorf("amount history read: %w", err)
	}
	if len(recent) >= 3 {
		sum := decimal.Zero
		for _, entry := range recent {
			sum = sum.Add(entry.Amount)
		}
		avg := sum.Div(decimal.NewFromInt(int64(len(recent))))
		if avg.Sign() > 0 && req.Amount.GreaterThan(avg.Mul(decimal.NewFromInt(3))) {
			out.Risk += 7
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("amount %s is over 3x the personal average %s",
					req.Amount.StringFixed(2), avg.StringFixed(2)))
		}
	}
	if out.Risk > weightAmount {
		out.Risk = weightAmount
	}
	return out, nil
}

// checkGeolocation scores high-risk origins and countries the user has not
// transacted from before.
func (e *Engine) checkGeolocation(ctx context.Context, req *models.TransactionRequest) (models.CheckResult, error) {
	out := models.CheckResult{Name: "geolocation"}
	if req.IP == "" {
		return out, nil
	}

	loc, err := e.geo.ResolveCountry(ctx, req.IP)
	if err != nil {
		// A malformed IP is a signal in itself, not a dependency failure.
		out.Risk = 3
		out.Reasons = append(out.Reasons, fmt.Sprintf("unresolvable origin IP %q", req.IP))
		return out, nil
	}

	if loc.HighRisk {
		out.Risk += 7
		out.Reasons = append(out.Reasons,
			fmt.Sprintf("origin country %s is high-risk", loc.Country))
	}

	recent, err := e.history.Recent(ctx, req.UserID, 10)
	if err != nil {
		return out, fmt.Errorf("geolocation history read: %w", err)
	}
	if len(recent) > 0 {
		seen := false
		for _, entry := range recent {
			if entry.IP == "" {
				continue
			}
			prev, err := e.geo.ResolveCountry(ctx, entry.IP)
			if err == nil && prev.Country == loc.Country {
				seen = true
				break
			}
		}
		if !seen {
			out.Risk += 3
			out.Reasons = append(out.Reasons,
				fmt.Sprintf("first transaction from country %s", loc.Country))
		}
	}
	if out.Risk > weightGeo {
		out.Risk = weightGeo
	}
	return out, nil
}

// checkBehavior scores activity at hours this user never transacts at.
func (e *Engine) checkBehavior(ctx context.Context, req *models.TransactionRequest, now time.Time) (models.CheckResult, error) {
	out := models.CheckResult{Name: "behavior"}

	hour := now.Hour()
	if hour > 6 && hour < 23 {
		return out, nil
	}

	recent, err := e.history.Recent(ctx, req.UserID, 50)
	if err != nil {
		return out, fmt.Errorf("behavior history read: %w", err)
	}
	for _, entry := range recent {
		h := entry.Timestamp.UTC().Hour()
		if h <= 6 || h == 23 {
			// The user habitually transacts off-hours; nothing unusual.
			return out, nil
		}
	}

	out.Risk = weightBehavior
	out.Reasons = append(out.Reasons,
		fmt.Sprintf("transaction at %02d:00 UTC is unusual for this user", hour))
	return out, nil
}

// checkPattern folds the limit enforcer's suspicious-activity score (0-100)
// into this check's weight band.
func (e *Engine) checkPattern(ctx context.Context, req *models.TransactionRequest) (models.CheckResult, error) {
	out := models.CheckResult{Name: "pattern"}

	report, err := e.patterns.DetectSuspiciousActivity(ctx, req.UserID, req.Amount, req.Type)
	if err != nil {
		return out, fmt.Errorf("pattern detection: %w", err)
	}
	out.Risk = report.RiskScore * weightPattern / 100
	out.Reasons = append(out.Reasons, report.Patterns...)
	if report.Flagged {
		e.metrics.SuspiciousFlags.Inc()
	}
	return out, nil
}
