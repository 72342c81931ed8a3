// Package scoring implements the per-transaction multi-factor risk analysis.
// An analysis runs the blacklist check first (a critical hit is terminal),
// then five independent, order-insensitive checks whose contributions sum
// into a single score and decision.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/cases"
	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/geo"
	"github.com/meridianpay/riskengine/internal/limits"
	"github.com/meridianpay/riskengine/internal/metrics"
	"github.com/meridianpay/riskengine/internal/models"
)

// Decision thresholds.
const (
	blockScore  = 85
	reviewScore = 60
	// elevatedScore triggers REVIEW when enough independent checks agree.
	elevatedScore     = 30
	elevatedMinChecks = 3

	// DefaultDirectoryTimeout bounds the aggregate batched directory lookup.
	DefaultDirectoryTimeout = 300 * time.Millisecond
)

// DirectoryReader is the directory surface the engine consumes.
type DirectoryReader interface {
	BatchCheck(ctx context.Context, refs []directory.EntityRef) ([]*directory.ListResult, error)
}

// HistoryReader provides read access to the per-user transaction log.
type HistoryReader interface {
	Window(ctx context.Context, userID string, since time.Time) ([]models.TransactionHistoryEntry, error)
	Recent(ctx context.Context, userID string, n int) ([]models.TransactionHistoryEntry, error)
}

// PatternDetector runs the volume-tied suspicious-pattern checks.
type PatternDetector interface {
	DetectSuspiciousActivity(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType) (*limits.SuspiciousReport, error)
}

// CaseOpener opens investigation cases for REVIEW and BLOCK outcomes.
type CaseOpener interface {
	Open(ctx context.Context, req cases.OpenRequest) (*cases.Case, error)
}

// Config tunes the engine.
type Config struct {
	// FailOpen controls the policy on internal failure: when true (the
	// default) the engine returns ALLOW with riskLevel UNKNOWN; when false
	// the failure is surfaced to the caller as DependencyUnavailable.
	FailOpen bool
	// DirectoryTimeout bounds the batched directory lookup.
	DirectoryTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{FailOpen: true, DirectoryTimeout: DefaultDirectoryTimeout}
}

// Engine is the risk scoring engine.
type Engine struct {
	logger   *zap.SugaredLogger
	cfg      Config
	dir      DirectoryReader
	history  HistoryReader
	patterns PatternDetector
	geo      geo.Resolver
	cases    CaseOpener
	metrics  *metrics.Metrics
	velocity velocityThresholds
}

// NewEngine wires the engine's collaborators. Every dependency is an
// interface so each can be faked in tests.
func NewEngine(cfg Config, dir DirectoryReader, history HistoryReader, patterns PatternDetector, geoResolver geo.Resolver, caseOpener CaseOpener, m *metrics.Metrics, logger *zap.SugaredLogger) *Engine {
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = DefaultDirectoryTimeout
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Engine{
		logger:   logger,
		cfg:      cfg,
		dir:      dir,
		history:  history,
		patterns: patterns,
		geo:      geoResolver,
		cases:    caseOpener,
		metrics:  m,
		velocity: defaultVelocityThresholds(),
	}
}

// Analyze runs the full multi-factor analysis and returns an immutable
// RiskAnalysis. Invalid input is rejected before any state is touched;
// internal failures follow the configured fail-open policy.
func (e *Engine) Analyze(ctx context.Context, req *models.TransactionRequest) (*models.RiskAnalysis, error) {
	if req == nil || req.UserID == "" || !req.Type.Valid() || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("analyze: %w", models.ErrInvalidInput)
	}

	started := time.Now()
	defer func() {
		e.metrics.AnalysisDuration.Observe(time.Since(started).Seconds())
	}()

	now := req.Timestamp
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Stage 1: batched directory check, bounded. A confirmed sanctions match
	// is terminal; nothing else needs to run.
	dirResults, err := e.batchCheckDirectory(ctx, req)
	if err != nil {
		return e.failNarrow(ctx, req, now, "directory", err)
	}
	for _, r := range dirResults {
		if r.OnBlacklist && r.Severity == directory.SeverityCritical {
			return e.finish(ctx, req, now, &models.RiskAnalysis{
				TransactionID: req.TransactionID,
				UserID:        req.UserID,
				RiskScore:     100,
				RiskLevel:     models.RiskLevelCritical,
				Decision:      models.DecisionBlock,
				Breakdown: []models.CheckResult{{
					Name: "blacklist",
					Risk: 100,
					Reasons: []string{fmt.Sprintf(
						"%s is blacklisted with critical severity: %s", r.EntityType, r.Reason)},
				}},
				Reasons:         []string{"critical blacklist match, analysis short-circuited"},
				Recommendations: []string{"freeze account pending sanctions review"},
				Timestamp:       now,
			})
		}
		if r.OnBlacklist {
			e.metrics.DirectoryHits.WithLabelValues(string(r.Severity)).Inc()
		}
	}

	// Stage 2: the independent checks. Order does not matter; each returns
	// its contribution and reasons.
	breakdown := []models.CheckResult{checkBlacklist(dirResults)}

	type namedCheck struct {
		name string
		run  func() (models.CheckResult, error)
	}
	checks := []namedCheck{
		{"velocity", func() (models.CheckResult, error) { return e.checkVelocity(ctx, req, now) }},
		{"amount", func() (models.CheckResult, error) { return e.checkAmount(ctx, req) }},
		{"geolocation", func() (models.CheckResult, error) { return e.checkGeolocation(ctx, req) }},
		{"behavior", func() (models.CheckResult, error) { return e.checkBehavior(ctx, req, now) }},
		{"pattern", func() (models.CheckResult, error) { return e.checkPattern(ctx, req) }},
	}
	for _, c := range checks {
		res, err := c.run()
		if err != nil {
			return e.failNarrow(ctx, req, now, c.name, err)
		}
		breakdown = append(breakdown, res)
	}

	// Stage 3: sum, clamp, decide.
	var score float64
	nonzero := 0
	var reasons []string
	for _, c := range breakdown {
		score += c.Risk
		if c.Risk > 0 {
			nonzero++
		}
		reasons = append(reasons, c.Reasons...)
	}
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	decision := models.DecisionAllow
	switch {
	case score >= blockScore:
		decision = models.DecisionBlock
	case score >= reviewScore:
		decision = models.DecisionReview
	case score >= elevatedScore && nonzero >= elevatedMinChecks:
		decision = models.DecisionReview
		reasons = append(reasons, fmt.Sprintf("%d independent checks raised risk", nonzero))
	}

	analysis := &models.RiskAnalysis{
		TransactionID:   req.TransactionID,
		UserID:          req.UserID,
		RiskScore:       score,
		RiskLevel:       models.RiskLevelForScore(score),
		Decision:        decision,
		Breakdown:       breakdown,
		Reasons:         reasons,
		Recommendations: recommendationsFor(decision, breakdown),
		Timestamp:       now,
	}
	return e.finish(ctx, req, now, analysis)
}

// batchCheckDirectory collects the transaction's identifiers and checks them
// in one bounded call.
func (e *Engine) batchCheckDirectory(ctx context.Context, req *models.TransactionRequest) ([]*directory.ListResult, error) {
	refs := make([]directory.EntityRef, 0, 6)
	add := func(t directory.EntityType, v string) {
		if v != "" {
			refs = append(refs, directory.EntityRef{EntityType: t, Value: v})
		}
	}
	add(directory.EntityTypeUser, req.UserID)
	add(directory.EntityTypeEmail, req.Email)
	add(directory.EntityTypeWallet, req.SourceWallet)
	add(directory.EntityTypeWallet, req.DestinationWallet)
	add(directory.EntityTypeBankAccount, req.BankAccount)
	add(directory.EntityTypeIP, req.IP)

	checkCtx, cancel := context.WithTimeout(ctx, e.cfg.DirectoryTimeout)
	defer cancel()
	results, err := e.dir.BatchCheck(checkCtx, refs)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDependencyUnavailable, err)
	}
	return results, nil
}

// failNarrow applies the fail-open policy after an internal failure. With
// fail-open enabled the analysis completes as ALLOW/UNKNOWN and the failure
// is observable via log and metric; with fail-closed the caller gets the
// error and decides.
func (e *Engine) failNarrow(ctx context.Context, req *models.TransactionRequest, now time.Time, dependency string, cause error) (*models.RiskAnalysis, error) {
	e.metrics.FailOpen.WithLabelValues(dependency).Inc()
	e.logger.Warnw("risk analysis degraded, applying fail policy",
		"transaction_id", req.TransactionID,
		"user_id", req.UserID,
		"dependency", dependency,
		"fail_open", e.cfg.FailOpen,
		"error", cause)

	if !e.cfg.FailOpen {
		return nil, fmt.Errorf("analysis dependency %s failed: %w", dependency, models.ErrDependencyUnavailable)
	}

	analysis := &models.RiskAnalysis{
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		RiskScore:     0,
		RiskLevel:     models.RiskLevelUnknown,
		Decision:      models.DecisionAllow,
		Reasons: []string{fmt.Sprintf(
			"analysis degraded: %s unavailable (%v); transaction allowed by fail-open policy", dependency, cause)},
		Recommendations: []string{"investigate degraded dependency: " + dependency},
		Timestamp:       now,
	}
	e.metrics.Decisions.WithLabelValues(string(analysis.Decision)).Inc()
	return analysis, nil
}

// finish records metrics and opens a case for REVIEW/BLOCK outcomes.
func (e *Engine) finish(ctx context.Context, req *models.TransactionRequest, now time.Time, analysis *models.RiskAnalysis) (*models.RiskAnalysis, error) {
	e.metrics.Decisions.WithLabelValues(string(analysis.Decision)).Inc()
	e.metrics.RiskScores.Observe(analysis.RiskScore)

	if analysis.Decision == models.DecisionReview || analysis.Decision == models.DecisionBlock {
		caseType := cases.TypeRiskReview
		if analysis.Decision == models.DecisionBlock {
			caseType = cases.TypeBlocked
		}
		c, err := e.openCase(ctx, req, analysis, caseType)
		if err != nil {
			// Case management being down must not turn a verdict into an
			// outage; the verdict stands and the failure is observable.
			e.metrics.FailOpen.WithLabelValues("cases").Inc()
			e.logger.Warnw("failed to open investigation case",
				"transaction_id", req.TransactionID, "error", err)
		} else {
			analysis.CaseID = c.ID
			e.metrics.CasesOpened.WithLabelValues(string(caseType)).Inc()
		}
	}

	e.logger.Infow("transaction analyzed",
		"transaction_id", req.TransactionID,
		"user_id", req.UserID,
		"risk_score", analysis.RiskScore,
		"risk_level", analysis.RiskLevel,
		"decision", analysis.Decision)

	return analysis, nil
}

func (e *Engine) openCase(ctx context.Context, req *models.TransactionRequest, analysis *models.RiskAnalysis, caseType cases.Type) (*cases.Case, error) {
	evidence := map[string]interface{}{
		"breakdown": analysis.Breakdown,
		"amount":    req.Amount.StringFixed(2),
		"type":      req.Type,
		"ip":        req.IP,
	}
	// Snapshot the user's recent activity as it stood at decision time.
	if snapshot, err := e.history.Recent(ctx, req.UserID, 10); err == nil {
		evidence["recent_history"] = snapshot
	}

	return e.cases.Open(ctx, cases.OpenRequest{
		Type:          caseType,
		Priority:      casePriority(analysis.RiskLevel),
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		RiskScore:     analysis.RiskScore,
		Reasons:       analysis.Reasons,
		Evidence:      evidence,
	})
}

func casePriority(level models.RiskLevel) models.RiskLevel {
	switch level {
	case models.RiskLevelCritical, models.RiskLevelHigh:
		return level
	default:
		return models.RiskLevelMedium
	}
}

func recommendationsFor(decision models.Decision, breakdown []models.CheckResult) []string {
	switch decision {
	case models.DecisionBlock:
		return []string{"reject the transaction", "review account for related activity"}
	case models.DecisionReview:
		recs := []string{"hold the transaction for manual review"}
		for _, c := range breakdown {
			if c.Name == "blacklist" && c.Risk > 0 {
				recs = append(recs, "verify the blacklisted identifier against the source list")
			}
		}
		return recs
	default:
		return nil
	}
}
