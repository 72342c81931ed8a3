package limits

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

const (
	historyKeyPrefix = "history:"

	// DefaultHistoryCap bounds the per-user transaction log. Oldest entries
	// are dropped beyond the cap; every window the engine evaluates fits
	// comfortably inside it.
	DefaultHistoryCap = 1000
)

// HistoryLog is the append-only, ring-bounded per-user transaction log.
// It feeds both the rolling-limit sums and the velocity/pattern detectors.
type HistoryLog struct {
	logger *zap.SugaredLogger
	store  store.Store
	cap    int
}

// NewHistoryLog creates a history log over the given store. A cap <= 0 uses
// DefaultHistoryCap.
func NewHistoryLog(s store.Store, cap int, logger *zap.SugaredLogger) *HistoryLog {
	if cap <= 0 {
		cap = DefaultHistoryCap
	}
	return &HistoryLog{logger: logger, store: s, cap: cap}
}

func historyUserPrefix(userID string) string {
	return historyKeyPrefix + userID + ":"
}

func historyKey(userID string, at time.Time, txID string) string {
	// Zero-padded nanosecond timestamp keeps prefix scans chronological.
	return fmt.Sprintf("%s%020d:%s", historyUserPrefix(userID), at.UnixNano(), txID)
}

// Append writes one confirmed transaction and enforces the ring bound.
func (h *HistoryLog) Append(ctx context.Context, entry models.TransactionHistoryEntry) error {
	if entry.UserID == "" || entry.TransactionID == "" {
		return fmt.Errorf("history append: %w", models.ErrInvalidInput)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}
	if err := h.store.Put(ctx, historyKey(entry.UserID, entry.Timestamp, entry.TransactionID), raw); err != nil {
		return fmt.Errorf("failed to persist history entry: %w", err)
	}
	return h.trim(ctx, entry.UserID)
}

// trim drops the oldest entries beyond the ring cap.
func (h *HistoryLog) trim(ctx context.Context, userID string) error {
	var keys []string
	if err := h.store.ScanPrefix(ctx, historyUserPrefix(userID), func(kv store.KV) error {
		keys = append(keys, kv.Key)
		return nil
	}); err != nil {
		return err
	}
	for i := 0; i < len(keys)-h.cap; i++ {
		if err := h.store.Delete(ctx, keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Window returns the user's entries timestamped at or after since, oldest
// first. Entries older than the window are skipped, not deleted; expiry is
// lazy. Corrupt records are logged and skipped.
func (h *HistoryLog) Window(ctx context.Context, userID string, since time.Time) ([]models.TransactionHistoryEntry, error) {
	var out []models.TransactionHistoryEntry
	err := h.store.ScanPrefix(ctx, historyUserPrefix(userID), func(kv store.KV) error {
		var e models.TransactionHistoryEntry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			h.logger.Warnw("skipping corrupt history entry", "key", kv.Key, "error", err)
			return nil
		}
		if e.Timestamp.Before(since) {
			return nil
		}
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Recent returns the user's newest n entries, newest first.
func (h *HistoryLog) Recent(ctx context.Context, userID string, n int) ([]models.TransactionHistoryEntry, error) {
	all, err := h.Window(ctx, userID, time.Time{})
	if err != nil {
		return nil, err
	}
	if len(all) > n {
		all = all[len(all)-n:]
	}
	// Reverse into newest-first order.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}
