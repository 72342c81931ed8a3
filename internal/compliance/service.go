// Package compliance is the orchestrating surface of the risk engine: the
// transaction orchestrator calls it once per attempt, and the administrative
// API manages directory entries and investigation cases through it. The
// service never executes payments; it only returns verdicts.
package compliance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/cases"
	"github.com/meridianpay/riskengine/internal/directory"
	"github.com/meridianpay/riskengine/internal/geo"
	"github.com/meridianpay/riskengine/internal/kyc"
	"github.com/meridianpay/riskengine/internal/limits"
	"github.com/meridianpay/riskengine/internal/metrics"
	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/scoring"
	"github.com/meridianpay/riskengine/internal/store"
)

// Service is the engine facade consumed by the transaction orchestrator and
// the administrative API.
type Service struct {
	logger   *zap.SugaredLogger
	metrics  *metrics.Metrics
	dir      *directory.Directory
	matcher  *directory.FuzzyMatcher
	enforcer *limits.Enforcer
	engine   *scoring.Engine
	cases    *cases.Manager
	geo      geo.Resolver
	kyc      kyc.StatusProvider
}

// Options tunes the assembled engine. Zero values fall back to each
// component's defaults.
type Options struct {
	Scoring scoring.Config
	// FuzzyThreshold is the minimum similarity for screening matches.
	FuzzyThreshold float64
	// HistoryCap bounds the per-user transaction log.
	HistoryCap int
}

// New wires the full engine over the given store and collaborators.
func New(s store.Store, kycProvider kyc.StatusProvider, geoResolver geo.Resolver, cache directory.Cache, opts Options, m *metrics.Metrics, logger *zap.SugaredLogger) *Service {
	if m == nil {
		m = metrics.NewNop()
	}
	if opts.Scoring == (scoring.Config{}) {
		opts.Scoring = scoring.DefaultConfig()
	}
	if cache == nil {
		cache = directory.NewMemoryCache(directory.DefaultCacheTTL)
	}
	dir := directory.New(s, directory.WithMissCounter(cache, m.DirectoryCacheMiss), logger)
	enforcer := limits.NewEnforcer(s, kycProvider, opts.HistoryCap, logger)
	caseMgr := cases.NewManager(s, logger)
	engine := scoring.NewEngine(opts.Scoring, dir, enforcer.History(), enforcer, geoResolver, caseMgr, m, logger)

	return &Service{
		logger:   logger,
		metrics:  m,
		dir:      dir,
		matcher:  directory.NewFuzzyMatcher(dir, opts.FuzzyThreshold, logger),
		enforcer: enforcer,
		engine:   engine,
		cases:    caseMgr,
		geo:      geoResolver,
		kyc:      kycProvider,
	}
}

// Directory exposes the directory for the administrative surface.
func (s *Service) Directory() *directory.Directory { return s.dir }

// Cases exposes the case manager for the administrative surface.
func (s *Service) Cases() *cases.Manager { return s.cases }

// Limits exposes the limit enforcer.
func (s *Service) Limits() *limits.Enforcer { return s.enforcer }

// ScreenEntity fuzzy-matches a free-text identifier against blacklist
// entries of the given type.
func (s *Service) ScreenEntity(ctx context.Context, entityType directory.EntityType, query string) ([]directory.NameMatch, error) {
	return s.matcher.Screen(ctx, entityType, query)
}

// CheckTransactionLimit verifies the transaction against the user's rolling
// tier limits without reserving anything.
func (s *Service) CheckTransactionLimit(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType) (*limits.Result, error) {
	res, err := s.enforcer.CheckLimit(ctx, userID, amount, txType)
	if le, ok := models.IsLimitExceeded(err); ok {
		s.metrics.LimitBreaches.WithLabelValues(string(le.Period)).Inc()
	}
	return res, err
}

// AnalyzeTransaction runs the full risk analysis. The IP's geolocation also
// feeds the high-value approval gate when the limit result accompanies the
// call via ProcessTransaction.
func (s *Service) AnalyzeTransaction(ctx context.Context, req *models.TransactionRequest) (*models.RiskAnalysis, error) {
	return s.engine.Analyze(ctx, req)
}

// RecordTransaction appends a confirmed transaction to the user's history.
// It must be called exactly once per confirmed transaction, after limit
// check and analysis both passed.
func (s *Service) RecordTransaction(ctx context.Context, userID string, amount decimal.Decimal, txType models.TransactionType, at time.Time) error {
	return s.enforcer.RecordTransaction(ctx, userID, amount, txType, at, uuid.NewString(), "")
}

// ProcessTransaction is the combined hot path: limit check and record form
// one atomic unit per user, with the risk analysis in between. A REVIEW or
// BLOCK verdict, or a limit rejection, leaves no history record behind.
func (s *Service) ProcessTransaction(ctx context.Context, req *models.TransactionRequest) (*models.RiskAnalysis, *limits.Result, error) {
	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}

	limitRes, err := s.enforcer.CheckLimit(ctx, req.UserID, req.Amount, req.Type)
	if err != nil {
		if le, ok := models.IsLimitExceeded(err); ok {
			s.metrics.LimitBreaches.WithLabelValues(string(le.Period)).Inc()
		}
		return nil, limitRes, err
	}

	// The origin IP feeds the third condition of the high-value gate.
	if limitRes.Allowed && req.IP != "" {
		if loc, gerr := s.geo.ResolveCountry(ctx, req.IP); gerr == nil && loc.HighRisk {
			if req.Amount.GreaterThanOrEqual(s.highValueThreshold(ctx, req.UserID)) {
				limits.FlagHighRiskOrigin(limitRes)
			}
		}
	}

	analysis, err := s.engine.Analyze(ctx, req)
	if err != nil {
		return nil, limitRes, err
	}

	if analysis.Decision == models.DecisionAllow && !limitRes.RequiresApproval {
		// Confirmed: the check-and-record unit closes the double-submission
		// race for this user.
		if _, err := s.enforcer.CheckAndRecord(ctx, req); err != nil {
			if le, ok := models.IsLimitExceeded(err); ok {
				s.metrics.LimitBreaches.WithLabelValues(string(le.Period)).Inc()
			}
			return analysis, limitRes, err
		}
	}
	return analysis, limitRes, nil
}

// highValueThreshold resolves the user's tiered high-value cutoff. The
// strictest threshold applies when the KYC provider is unavailable.
func (s *Service) highValueThreshold(ctx context.Context, userID string) decimal.Decimal {
	if ts, err := s.kyc.GetTier(ctx, userID); err == nil {
		return kyc.HighValueThreshold(ts.Tier)
	}
	return kyc.HighValueThreshold(models.KycTierNone)
}

// EngineMetrics is the aggregate administrative view across components.
type EngineMetrics struct {
	Directory *directory.Metrics `json:"directory"`
	Cases     *cases.Statistics  `json:"cases"`
}

// Metrics aggregates directory and case statistics for the admin surface.
func (s *Service) Metrics(ctx context.Context) (*EngineMetrics, error) {
	dirStats, err := s.dir.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("directory stats: %w", err)
	}
	caseStats, err := s.cases.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("case stats: %w", err)
	}
	return &EngineMetrics{Directory: dirStats, Cases: caseStats}, nil
}
