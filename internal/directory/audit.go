package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianpay/riskengine/internal/store"
)

// AuditRecord is an immutable trail entry for a directory mutation. Values
// are masked before the record is written; the raw identifier never reaches
// audit storage.
type AuditRecord struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"` // "add", "upgrade", "remove"
	EntityType  EntityType `json:"entity_type"`
	ListKind    ListKind   `json:"list_kind"`
	MaskedValue string     `json:"masked_value"`
	Severity    Severity   `json:"severity,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	Actor       string     `json:"actor"`
	Timestamp   time.Time  `json:"timestamp"`
}

const auditKeyPrefix = "audit:directory:"

func auditKey(at time.Time, id string) string {
	// Nanosecond timestamp first so prefix scans come back chronologically.
	return fmt.Sprintf("%s%020d:%s", auditKeyPrefix, at.UnixNano(), id)
}

// appendAudit writes one audit record. Audit failures are reported to the
// caller; directory mutations log them but do not roll back.
func appendAudit(ctx context.Context, s store.Store, rec AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}
	return s.Put(ctx, auditKey(rec.Timestamp, rec.ID), raw)
}

// AuditTrail returns up to limit audit records, oldest first. Corrupt
// records are skipped.
func AuditTrail(ctx context.Context, s store.Store, limit int) ([]AuditRecord, error) {
	var out []AuditRecord
	err := s.ScanPrefix(ctx, auditKeyPrefix, func(kv store.KV) error {
		var rec AuditRecord
		if err := json.Unmarshal(kv.Value, &rec); err != nil {
			return nil
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			return errStopScan
		}
		return nil
	})
	if err != nil && err != errStopScan {
		return nil, err
	}
	return out, nil
}

var errStopScan = fmt.Errorf("stop scan")

// Audit returns the directory's masked audit trail, oldest first.
func (d *Directory) Audit(ctx context.Context, limit int) ([]AuditRecord, error) {
	return AuditTrail(ctx, d.store, limit)
}
