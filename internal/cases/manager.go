// Package cases opens, tracks, and closes investigation cases for REVIEW and
// BLOCK outcomes. Opening is idempotent per (transaction, case type); the
// status machine only moves forward.
package cases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

// Status is an investigation case's lifecycle state
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusClosed     Status = "CLOSED"
)

func (s Status) rank() int {
	switch s {
	case StatusOpen:
		return 1
	case StatusInProgress:
		return 2
	case StatusClosed:
		return 3
	}
	return 0
}

// Type categorizes why a case was opened
type Type string

const (
	TypeRiskReview    Type = "risk_review"
	TypeBlocked       Type = "blocked_transaction"
	TypeManual        Type = "manual"
	TypeHighValueHold Type = "high_value_hold"
)

// TimelineEntry is one event in a case's history.
type TimelineEntry struct {
	ID          string    `json:"id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	PerformedBy string    `json:"performed_by"`
	Timestamp   time.Time `json:"timestamp"`
}

// Case is a single investigation case.
type Case struct {
	ID            string           `json:"id"`
	CaseNumber    string           `json:"case_number"`
	Type          Type             `json:"type"`
	Status        Status           `json:"status"`
	Priority      models.RiskLevel `json:"priority"`
	UserID        string           `json:"user_id"`
	TransactionID string           `json:"transaction_id"`
	RiskScore     float64          `json:"risk_score"`
	Reasons       []string         `json:"reasons,omitempty"`
	AssignedTo    string           `json:"assigned_to,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	// Evidence carries the analysis breakdown and a snapshot of the user's
	// recent history at the time the case was opened.
	Evidence  map[string]interface{} `json:"evidence,omitempty"`
	Timeline  []TimelineEntry        `json:"timeline,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	ClosedAt  *time.Time             `json:"closed_at,omitempty"`
}

// OpenRequest carries everything needed to open a case.
type OpenRequest struct {
	Type          Type
	Priority      models.RiskLevel
	UserID        string
	TransactionID string
	RiskScore     float64
	Reasons       []string
	Evidence      map[string]interface{}
	OpenedBy      string
}

// UpdatePatch mutates a case. Zero-valued fields are left untouched.
type UpdatePatch struct {
	Status     Status           `json:"status,omitempty"`
	Priority   models.RiskLevel `json:"priority,omitempty"`
	AssignedTo string           `json:"assigned_to,omitempty"`
	Notes      string           `json:"notes,omitempty"`
	UpdatedBy  string           `json:"updated_by,omitempty"`
}

// ListFilter narrows List output. Zero-valued fields match everything.
type ListFilter struct {
	Status     Status
	Priority   models.RiskLevel
	UserID     string
	AssignedTo string
}

// Statistics aggregates case counts for the administrative surface.
type Statistics struct {
	Total            int                      `json:"total"`
	Open             int                      `json:"open"`
	Closed           int                      `json:"closed"`
	ByStatus         map[Status]int           `json:"by_status"`
	ByPriority       map[models.RiskLevel]int `json:"by_priority"`
	AverageCloseTime time.Duration            `json:"average_close_time"`
}

const (
	caseKeyPrefix  = "case:"
	caseIdxPrefix  = "caseidx:"
	openLockStripe = 64
)

// Manager is the case-management service.
type Manager struct {
	logger *zap.SugaredLogger
	store  store.Store

	// openLocks serialize idempotent opens per (transaction, case type).
	openLocks [openLockStripe]sync.Mutex
	// seq disambiguates case numbers created in the same instant.
	mu  sync.Mutex
	seq int
}

// NewManager creates a case manager over the given store.
func NewManager(s store.Store, logger *zap.SugaredLogger) *Manager {
	return &Manager{logger: logger, store: s}
}

func caseKey(id string) string { return caseKeyPrefix + id }

func idxKey(transactionID string, caseType Type) string {
	return fmt.Sprintf("%s%s:%s", caseIdxPrefix, transactionID, caseType)
}

func (m *Manager) openLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &m.openLocks[h.Sum32()%openLockStripe]
}

// Open creates a case, or returns the existing one when a case for the same
// (transaction, case type) pair was already opened.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Case, error) {
	if req.UserID == "" || req.TransactionID == "" || req.Type == "" {
		return nil, fmt.Errorf("open case: %w", models.ErrInvalidInput)
	}

	idx := idxKey(req.TransactionID, req.Type)
	lock := m.openLock(idx)
	lock.Lock()
	defer lock.Unlock()

	if existingID, err := m.store.Get(ctx, idx); err == nil {
		existing, err := m.Get(ctx, string(existingID))
		if err == nil {
			return existing, nil
		}
		// Dangling index: fall through and recreate.
		m.logger.Warnw("case index points at missing case, recreating",
			"transaction_id", req.TransactionID, "case_type", req.Type)
	} else if !errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("case index read failed: %w", err)
	}

	now := time.Now().UTC()
	priority := req.Priority
	if priority == "" {
		priority = models.RiskLevelMedium
	}
	openedBy := req.OpenedBy
	if openedBy == "" {
		openedBy = "risk-engine"
	}

	c := &Case{
		ID:            uuid.NewString(),
		CaseNumber:    m.nextCaseNumber(now),
		Type:          req.Type,
		Status:        StatusOpen,
		Priority:      priority,
		UserID:        req.UserID,
		TransactionID: req.TransactionID,
		RiskScore:     req.RiskScore,
		Reasons:       req.Reasons,
		Evidence:      req.Evidence,
		CreatedAt:     now,
		UpdatedAt:     now,
		Timeline: []TimelineEntry{{
			ID:          uuid.NewString(),
			Action:      "case_created",
			Description: fmt.Sprintf("Case opened (%s) for transaction %s", req.Type, req.TransactionID),
			PerformedBy: openedBy,
			Timestamp:   now,
		}},
	}

	if err := m.put(ctx, c); err != nil {
		return nil, err
	}
	if err := m.store.Put(ctx, idx, []byte(c.ID)); err != nil {
		return nil, fmt.Errorf("failed to persist case index: %w", err)
	}

	m.logger.Infow("investigation case opened",
		"case_id", c.ID,
		"case_number", c.CaseNumber,
		"case_type", c.Type,
		"user_id", c.UserID,
		"transaction_id", c.TransactionID,
		"priority", c.Priority)

	return c, nil
}

// Update applies a patch. Status may only move forward through
// OPEN -> IN_PROGRESS -> CLOSED; anything else is InvalidTransition.
func (m *Manager) Update(ctx context.Context, caseID string, patch UpdatePatch) (*Case, error) {
	c, err := m.Get(ctx, caseID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updatedBy := patch.UpdatedBy
	if updatedBy == "" {
		updatedBy = "operator"
	}

	if patch.Status != "" && patch.Status != c.Status {
		if patch.Status.rank() == 0 {
			return nil, fmt.Errorf("update case %s: status %q: %w", caseID, patch.Status, models.ErrInvalidInput)
		}
		if patch.Status.rank() < c.Status.rank() {
			return nil, fmt.Errorf("update case %s: %s -> %s: %w", caseID, c.Status, patch.Status, models.ErrInvalidTransition)
		}
		c.Timeline = append(c.Timeline, TimelineEntry{
			ID:          uuid.NewString(),
			Action:      "status_updated",
			Description: fmt.Sprintf("Status changed from %s to %s", c.Status, patch.Status),
			PerformedBy: updatedBy,
			Timestamp:   now,
		})
		c.Status = patch.Status
		if c.Status == StatusClosed {
			c.ClosedAt = &now
		}
	}

	if patch.Priority != "" {
		c.Priority = patch.Priority
	}
	if patch.AssignedTo != "" {
		c.AssignedTo = patch.AssignedTo
		c.Timeline = append(c.Timeline, TimelineEntry{
			ID:          uuid.NewString(),
			Action:      "case_assigned",
			Description: fmt.Sprintf("Case assigned to %s", patch.AssignedTo),
			PerformedBy: updatedBy,
			Timestamp:   now,
		})
	}
	if patch.Notes != "" {
		if c.Notes != "" {
			c.Notes += "\n\n"
		}
		c.Notes += fmt.Sprintf("[%s] %s", now.Format("2006-01-02 15:04:05"), patch.Notes)
	}

	c.UpdatedAt = now
	if err := m.put(ctx, c); err != nil {
		return nil, err
	}

	m.logger.Infow("case updated",
		"case_id", c.ID,
		"status", c.Status,
		"assigned_to", c.AssignedTo,
		"updated_by", updatedBy)

	return c, nil
}

// Get retrieves a case by ID.
func (m *Manager) Get(ctx context.Context, caseID string) (*Case, error) {
	raw, err := m.store.Get(ctx, caseKey(caseID))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, fmt.Errorf("case %s: %w", caseID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("case read failed: %w", err)
	}
	var c Case
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("case %s is corrupt: %w", caseID, err)
	}
	return &c, nil
}

// List returns cases matching the filter, newest first.
func (m *Manager) List(ctx context.Context, filter ListFilter) ([]*Case, error) {
	var out []*Case
	err := m.store.ScanPrefix(ctx, caseKeyPrefix, func(kv store.KV) error {
		var c Case
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			m.logger.Warnw("skipping corrupt case record", "key", kv.Key, "error", err)
			return nil
		}
		if filter.Status != "" && c.Status != filter.Status {
			return nil
		}
		if filter.Priority != "" && c.Priority != filter.Priority {
			return nil
		}
		if filter.UserID != "" && c.UserID != filter.UserID {
			return nil
		}
		if filter.AssignedTo != "" && c.AssignedTo != filter.AssignedTo {
			return nil
		}
		out = append(out, &c)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Stats aggregates counts over all cases.
func (m *Manager) Stats(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByStatus:   make(map[Status]int),
		ByPriority: make(map[models.RiskLevel]int),
	}
	var totalClose time.Duration
	var closed int

	err := m.store.ScanPrefix(ctx, caseKeyPrefix, func(kv store.KV) error {
		var c Case
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			return nil
		}
		stats.Total++
		stats.ByStatus[c.Status]++
		stats.ByPriority[c.Priority]++
		switch c.Status {
		case StatusOpen, StatusInProgress:
			stats.Open++
		case StatusClosed:
			stats.Closed++
			if c.ClosedAt != nil {
				totalClose += c.ClosedAt.Sub(c.CreatedAt)
				closed++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if closed > 0 {
		stats.AverageCloseTime = totalClose / time.Duration(closed)
	}
	return stats, nil
}

func (m *Manager) put(ctx context.Context, c *Case) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal case: %w", err)
	}
	if err := m.store.Put(ctx, caseKey(c.ID), raw); err != nil {
		return fmt.Errorf("failed to persist case: %w", err)
	}
	return nil
}

func (m *Manager) nextCaseNumber(now time.Time) string {
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()
	return fmt.Sprintf("CASE-%s-%04d", now.Format("20060102"), seq)
}
