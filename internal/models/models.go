package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType represents the type of a financial transaction
type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "DEPOSIT"
	TransactionTypeSwap        TransactionType = "SWAP"
	TransactionTypeWithdrawal  TransactionType = "WITHDRAWAL"
	TransactionTypeBillPayment TransactionType = "BILL_PAYMENT"
	TransactionTypeP2P         TransactionType = "P2P"
)

// Valid reports whether the transaction type is a known enum value.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeSwap, TransactionTypeWithdrawal,
		TransactionTypeBillPayment, TransactionTypeP2P:
		return true
	}
	return false
}

// RiskMultiplier weights a transaction type's contribution to rolling volume.
// Riskier channels consume a user's allowance faster.
func (t TransactionType) RiskMultiplier() decimal.Decimal {
	switch t {
	case TransactionTypeDeposit:
		return decimal.NewFromFloat(0.8)
	case TransactionTypeSwap:
		return decimal.NewFromInt(1)
	case TransactionTypeWithdrawal:
		return decimal.NewFromFloat(1.5)
	case TransactionTypeBillPayment:
		return decimal.NewFromFloat(1.2)
	case TransactionTypeP2P:
		return decimal.NewFromFloat(1.8)
	}
	return decimal.NewFromInt(1)
}

// RequiresAML reports whether the transaction type is gated on a verified
// KYC tier. Deposits are exempt; everything that moves value out is not.
func (t TransactionType) RequiresAML() bool {
	return t != TransactionTypeDeposit
}

// RiskLevel represents the risk level of a transaction or case priority
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
	// RiskLevelUnknown marks analyses that completed through the fail-open path.
	RiskLevelUnknown RiskLevel = "UNKNOWN"
)

// Decision is the engine's verdict for a transaction attempt
type Decision string

const (
	DecisionAllow  Decision = "ALLOW"
	DecisionReview Decision = "REVIEW"
	DecisionBlock  Decision = "BLOCK"
)

// Period identifies a rolling limit window
type Period string

const (
	PeriodDaily   Period = "DAILY"
	PeriodWeekly  Period = "WEEKLY"
	PeriodMonthly Period = "MONTHLY"
	PeriodAnnual  Period = "ANNUAL"
)

// Lookback returns the fixed lookback window for the period.
func (p Period) Lookback() time.Duration {
	switch p {
	case PeriodDaily:
		return 24 * time.Hour
	case PeriodWeekly:
		return 7 * 24 * time.Hour
	case PeriodMonthly:
		return 30 * 24 * time.Hour
	case PeriodAnnual:
		return 365 * 24 * time.Hour
	}
	return 24 * time.Hour
}

// Periods lists all limit windows, tightest first.
var Periods = []Period{PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAnnual}

// KycTier is a user's identity-verification level
type KycTier string

const (
	KycTierNone   KycTier = "NONE"
	KycTierLevel1 KycTier = "LEVEL_1"
	KycTierLevel2 KycTier = "LEVEL_2"
	KycTierLevel3 KycTier = "LEVEL_3"
)

// AtLeast reports whether the tier meets or exceeds the given tier.
func (k KycTier) AtLeast(other KycTier) bool {
	return k.rank() >= other.rank()
}

func (k KycTier) rank() int {
	switch k {
	case KycTierLevel1:
		return 1
	case KycTierLevel2:
		return 2
	case KycTierLevel3:
		return 3
	}
	return 0
}

// KycStatus is the verification state of a user's current tier
type KycStatus string

const (
	KycStatusVerified KycStatus = "VERIFIED"
	KycStatusPending  KycStatus = "PENDING"
	KycStatusRejected KycStatus = "REJECTED"
	KycStatusExpired  KycStatus = "EXPIRED"
)

// TransactionRequest is the input to limit checks and risk analysis
type TransactionRequest struct {
	TransactionID     string          `json:"transaction_id"`
	UserID            string          `json:"user_id"`
	Type              TransactionType `json:"type"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Email             string          `json:"email,omitempty"`
	SourceWallet      string          `json:"source_wallet,omitempty"`
	DestinationWallet string          `json:"destination_wallet,omitempty"`
	BankAccount       string          `json:"bank_account,omitempty"`
	IP                string          `json:"ip,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// TransactionHistoryEntry is one confirmed transaction in a user's log
type TransactionHistoryEntry struct {
	TransactionID string          `json:"transaction_id"`
	UserID        string          `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Timestamp     time.Time       `json:"timestamp"`
	IP            string          `json:"ip,omitempty"`
	Decision      Decision        `json:"decision,omitempty"`
	RiskScore     float64         `json:"risk_score,omitempty"`
}

// CheckResult is one scoring check's contribution to a risk analysis
type CheckResult struct {
	Name    string   `json:"name"`
	Risk    float64  `json:"risk"`
	Reasons []string `json:"reasons,omitempty"`
}

// RiskAnalysis is the immutable output of a transaction analysis
type RiskAnalysis struct {
	TransactionID   string        `json:"transaction_id"`
	UserID          string        `json:"user_id"`
	RiskScore       float64       `json:"risk_score"`
	RiskLevel       RiskLevel     `json:"risk_level"`
	Decision        Decision      `json:"decision"`
	Breakdown       []CheckResult `json:"breakdown"`
	Reasons         []string      `json:"reasons,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	CaseID          string        `json:"case_id,omitempty"`
	Timestamp       time.Time     `json:"timestamp"`
}

// RiskLevelForScore maps a clamped score to its risk band.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= 85:
		return RiskLevelCritical
	case score >= 60:
		return RiskLevelHigh
	case score >= 30:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}
