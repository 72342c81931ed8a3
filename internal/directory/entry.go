// Package directory implements the blacklist/whitelist store for sanctioned
// and trusted entities: normalization, cached lookups, upgrade-only writes,
// and a masked audit trail. The scoring engine consults it for every
// identifier on a transaction.
package directory

import (
	"time"

	"github.com/meridianpay/riskengine/internal/models"
)

// EntityType identifies what kind of value a directory entry holds
type EntityType string

const (
	EntityTypeUser        EntityType = "user"
	EntityTypeWallet      EntityType = "wallet"
	EntityTypeEmail       EntityType = "email"
	EntityTypeIP          EntityType = "ip"
	EntityTypePhone       EntityType = "phone"
	EntityTypeDocument    EntityType = "document"
	EntityTypeBankAccount EntityType = "bank_account"
)

// Valid reports whether the entity type is a known enum value.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeUser, EntityTypeWallet, EntityTypeEmail, EntityTypeIP,
		EntityTypePhone, EntityTypeDocument, EntityTypeBankAccount:
		return true
	}
	return false
}

// ListKind distinguishes the two lists
type ListKind string

const (
	ListKindBlacklist ListKind = "blacklist"
	ListKindWhitelist ListKind = "whitelist"
)

// Severity grades a blacklist entry
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known enum value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Rank orders severities for upgrade-only comparisons.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Source identifies where an entry came from
type Source string

const (
	SourceManual        Source = "manual"
	SourceSanctionsFeed Source = "sanctions_feed"
	SourceFraudTeam     Source = "fraud_team"
	SourceAutomated     Source = "automated"
	SourcePartner       Source = "partner"
)

// Valid reports whether the source is a known enum value.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceSanctionsFeed, SourceFraudTeam, SourceAutomated, SourcePartner:
		return true
	}
	return false
}

// Action is a handling directive attached to a severity grade
type Action string

const (
	ActionLog              Action = "log"
	ActionBlockTransaction Action = "block_transaction"
	ActionAlert            Action = "alert"
	ActionBlockAll         Action = "block_all"
	ActionFreezeAccount    Action = "freeze_account"
	ActionEscalate         Action = "escalate"
)

// ActionsForSeverity is the static severity to handling-directive table
// consumed by the scoring engine to translate a hit into a risk contribution.
func ActionsForSeverity(s Severity) []Action {
	switch s {
	case SeverityLow:
		return []Action{ActionLog}
	case SeverityMedium:
		return []Action{ActionBlockTransaction, ActionLog}
	case SeverityHigh:
		return []Action{ActionBlockTransaction, ActionAlert, ActionLog}
	case SeverityCritical:
		return []Action{ActionBlockAll, ActionFreezeAccount, ActionAlert, ActionEscalate}
	}
	return nil
}

// Entry is a single blacklist or whitelist record. At most one active entry
// exists per (list kind, entity type, normalized value).
type Entry struct {
	EntityType      EntityType        `json:"entity_type"`
	NormalizedValue string            `json:"normalized_value"`
	ListKind        ListKind          `json:"list_kind"`
	Severity        Severity          `json:"severity,omitempty"`
	Source          Source            `json:"source"`
	Reason          string            `json:"reason"`
	AddedAt         time.Time         `json:"added_at"`
	AddedBy         string            `json:"added_by"`
	UpdatedAt       time.Time         `json:"updated_at"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// ListResult is the outcome of an isListed lookup. A whitelist match always
// wins: OnBlacklist is reported false even when a blacklist entry exists.
type ListResult struct {
	EntityType     EntityType `json:"entity_type"`
	Value          string     `json:"value"`
	OnWhitelist    bool       `json:"on_whitelist"`
	OnBlacklist    bool       `json:"on_blacklist"`
	Severity       Severity   `json:"severity,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	Source         Source     `json:"source,omitempty"`
	AppliedActions []Action   `json:"applied_actions,omitempty"`
}

// EntityRef names one identifier to check in a batch lookup.
type EntityRef struct {
	EntityType EntityType `json:"entity_type"`
	Value      string     `json:"value"`
}

// Metrics is the aggregate view exposed on the administrative surface.
type Metrics struct {
	TotalBlacklist   int                `json:"total_blacklist"`
	TotalWhitelist   int                `json:"total_whitelist"`
	BySeverity       map[Severity]int   `json:"by_severity"`
	ByEntityType     map[EntityType]int `json:"by_entity_type"`
	BySource         map[Source]int     `json:"by_source"`
	AddedLast24Hours int                `json:"added_last_24h"`
}

func validateRef(entityType EntityType, rawValue string) error {
	if !entityType.Valid() {
		return models.ErrInvalidInput
	}
	if rawValue == "" {
		return models.ErrInvalidInput
	}
	return nil
}
