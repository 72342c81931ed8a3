package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meridianpay/riskengine/internal/models"
	"github.com/meridianpay/riskengine/internal/store"
)

const (
	entryKeyPrefix = "directory:"
	// DefaultCacheTTL bounds how stale a cached lookup may be.
	DefaultCacheTTL = 5 * time.Minute

	lockStripes = 64
)

// Reader is the lookup surface consumed by the scoring engine.
type Reader interface {
	IsListed(ctx context.Context, entityType EntityType, rawValue string) (*ListResult, error)
	BatchCheck(ctx context.Context, refs []EntityRef) ([]*ListResult, error)
}

// Directory is the blacklist/whitelist store. Reads go through a TTL cache;
// writes take a short per-key lock and invalidate that key's cache entry
// atomically with the write.
type Directory struct {
	logger *zap.SugaredLogger
	store  store.Store
	cache  Cache

	keyLocks [lockStripes]sync.Mutex
}

// New creates a directory over the given store. A nil cache gets the default
// in-memory cache with DefaultCacheTTL.
func New(s store.Store, cache Cache, logger *zap.SugaredLogger) *Directory {
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL)
	}
	return &Directory{
		logger: logger,
		store:  s,
		cache:  cache,
	}
}

func entryKey(kind ListKind, entityType EntityType, normalized string) string {
	return fmt.Sprintf("%s%s:%s:%s", entryKeyPrefix, kind, entityType, normalized)
}

func cacheKey(entityType EntityType, normalized string) string {
	return string(entityType) + ":" + normalized
}

func (d *Directory) lockFor(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &d.keyLocks[h.Sum32()%lockStripes]
}

// IsListed reports whether the identifier appears on either list. The raw
// value is normalized per entity type before lookup; a whitelist match
// short-circuits and reports OnBlacklist=false even when a blacklist entry
// exists. Results are cached for the configured TTL.
func (d *Directory) IsListed(ctx context.Context, entityType EntityType, rawValue string) (*ListResult, error) {
	if err := validateRef(entityType, rawValue); err != nil {
		return nil, fmt.Errorf("isListed %s: %w", entityType, err)
	}
	normalized := Normalize(entityType, rawValue)

	ck := cacheKey(entityType, normalized)
	if cached, ok := d.cache.Get(ctx, ck); ok {
		return cached, nil
	}

	result := &ListResult{EntityType: entityType, Value: normalized}

	wl, err := d.loadEntry(ctx, ListKindWhitelist, entityType, normalized)
	if err != nil {
		return nil, err
	}
	if wl != nil {
		result.OnWhitelist = true
		result.Reason = wl.Reason
		result.Source = wl.Source
		d.cache.Set(ctx, ck, result)
		return result, nil
	}

	bl, err := d.loadEntry(ctx, ListKindBlacklist, entityType, normalized)
	if err != nil {
		return nil, err
	}
	if bl != nil {
		result.OnBlacklist = true
		result.Severity = bl.Severity
		result.Reason = bl.Reason
		result.Source = bl.Source
		result.AppliedActions = ActionsForSeverity(bl.Severity)
	}

	d.cache.Set(ctx, ck, result)
	return result, nil
}

// BatchCheck looks up several identifiers from one transaction. Lookups run
// sequentially and share the cache; the caller bounds the aggregate time via
// ctx. A deadline hit surfaces as DependencyUnavailable with whatever
// results were collected so far.
func (d *Directory) BatchCheck(ctx context.Context, refs []EntityRef) ([]*ListResult, error) {
	results := make([]*ListResult, 0, len(refs))
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("batch check aborted: %w", models.ErrDependencyUnavailable)
		}
		res, err := d.IsListed(ctx, ref.EntityType, ref.Value)
		if err != nil {
			if errors.Is(err, models.ErrInvalidInput) {
				// Malformed identifiers in a batch are skipped, not fatal:
				// transactions carry optional fields that may be empty.
				continue
			}
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// Add inserts or upgrades an entry. If an entry already exists for the
// normalized key the operation only ever raises its severity; downgrades are
// ignored. Every call appends a masked audit record.
func (d *Directory) Add(ctx context.Context, entityType EntityType, rawValue string, kind ListKind, severity Severity, source Source, reason, actor string, metadata map[string]string) (*Entry, error) {
	if err := validateRef(entityType, rawValue); err != nil {
		return nil, fmt.Errorf("add %s: %w", entityType, err)
	}
	if kind == ListKindBlacklist && !severity.Valid() {
		return nil, fmt.Errorf("add %s: severity %q: %w", entityType, severity, models.ErrInvalidInput)
	}
	if !source.Valid() {
		return nil, fmt.Errorf("add %s: source %q: %w", entityType, source, models.ErrInvalidInput)
	}

	normalized := Normalize(entityType, rawValue)
	key := entryKey(kind, entityType, normalized)

	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	action := "add"

	existing, err := d.loadEntry(ctx, kind, entityType, normalized)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		EntityType:      entityType,
		NormalizedValue: normalized,
		ListKind:        kind,
		Severity:        severity,
		Source:          source,
		Reason:          reason,
		AddedAt:         now,
		AddedBy:         actor,
		UpdatedAt:       now,
		Metadata:        metadata,
	}
	if kind == ListKindWhitelist {
		entry.Severity = ""
	}

	if existing != nil {
		action = "upgrade"
		entry.AddedAt = existing.AddedAt
		entry.AddedBy = existing.AddedBy
		if kind == ListKindBlacklist && existing.Severity.Rank() > severity.Rank() {
			// Never downgrade an established grade.
			entry.Severity = existing.Severity
		}
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal directory entry: %w", err)
	}
	if err := d.store.Put(ctx, key, raw); err != nil {
		return nil, fmt.Errorf("failed to persist directory entry: %w", err)
	}
	d.cache.Invalidate(ctx, cacheKey(entityType, normalized))

	if err := appendAudit(ctx, d.store, AuditRecord{
		Action:      action,
		EntityType:  entityType,
		ListKind:    kind,
		MaskedValue: Mask(entityType, normalized),
		Severity:    entry.Severity,
		Reason:      reason,
		Actor:       actor,
		Timestamp:   now,
	}); err != nil {
		d.logger.Warnw("failed to append directory audit record",
			"action", action, "entity_type", entityType, "error", err)
	}

	d.logger.Infow("directory entry written",
		"action", action,
		"list", kind,
		"entity_type", entityType,
		"value", Mask(entityType, normalized),
		"severity", entry.Severity)

	return entry, nil
}

// Remove deletes an entry, returning it, or NotFound if no entry exists for
// the normalized key.
func (d *Directory) Remove(ctx context.Context, entityType EntityType, rawValue string, kind ListKind, reason, actor string) (*Entry, error) {
	if err := validateRef(entityType, rawValue); err != nil {
		return nil, fmt.Errorf("remove %s: %w", entityType, err)
	}
	normalized := Normalize(entityType, rawValue)
	key := entryKey(kind, entityType, normalized)

	lock := d.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := d.loadEntry(ctx, kind, entityType, normalized)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("remove %s %s: %w", kind, entityType, models.ErrNotFound)
	}

	if err := d.store.Delete(ctx, key); err != nil {
		return nil, fmt.Errorf("failed to delete directory entry: %w", err)
	}
	d.cache.Invalidate(ctx, cacheKey(entityType, normalized))

	now := time.Now().UTC()
	if err := appendAudit(ctx, d.store, AuditRecord{
		Action:      "remove",
		EntityType:  entityType,
		ListKind:    kind,
		MaskedValue: Mask(entityType, normalized),
		Severity:    existing.Severity,
		Reason:      reason,
		Actor:       actor,
		Timestamp:   now,
	}); err != nil {
		d.logger.Warnw("failed to append directory audit record",
			"action", "remove", "entity_type", entityType, "error", err)
	}

	d.logger.Infow("directory entry removed",
		"list", kind,
		"entity_type", entityType,
		"value", Mask(entityType, normalized),
		"reason", reason)

	return existing, nil
}

// List returns entries of one list kind, optionally filtered by entity type.
func (d *Directory) List(ctx context.Context, kind ListKind, entityType EntityType) ([]*Entry, error) {
	prefix := entryKeyPrefix + string(kind) + ":"
	if entityType != "" {
		if !entityType.Valid() {
			return nil, fmt.Errorf("list %s: %w", entityType, models.ErrInvalidInput)
		}
		prefix += string(entityType) + ":"
	}
	var out []*Entry
	err := d.store.ScanPrefix(ctx, prefix, func(kv store.KV) error {
		var e Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			// A corrupt record is logged and skipped, never propagated.
			d.logger.Warnw("skipping corrupt directory entry", "key", kv.Key, "error", err)
			return nil
		}
		out = append(out, &e)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stats aggregates directory counts for the administrative metrics surface.
func (d *Directory) Stats(ctx context.Context) (*Metrics, error) {
	m := &Metrics{
		BySeverity:   make(map[Severity]int),
		ByEntityType: make(map[EntityType]int),
		BySource:     make(map[Source]int),
	}
	cutoff := time.Now().Add(-24 * time.Hour)
	err := d.store.ScanPrefix(ctx, entryKeyPrefix, func(kv store.KV) error {
		var e Entry
		if err := json.Unmarshal(kv.Value, &e); err != nil {
			d.logger.Warnw("skipping corrupt directory entry", "key", kv.Key, "error", err)
			return nil
		}
		switch e.ListKind {
		case ListKindBlacklist:
			m.TotalBlacklist++
			m.BySeverity[e.Severity]++
		case ListKindWhitelist:
			m.TotalWhitelist++
		}
		m.ByEntityType[e.EntityType]++
		m.BySource[e.Source]++
		if e.UpdatedAt.After(cutoff) {
			m.AddedLast24Hours++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Directory) loadEntry(ctx context.Context, kind ListKind, entityType EntityType, normalized string) (*Entry, error) {
	raw, err := d.store.Get(ctx, entryKey(kind, entityType, normalized))
	if errors.Is(err, store.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory read failed: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		d.logger.Warnw("corrupt directory entry treated as absent",
			"list", kind, "entity_type", entityType, "error", err)
		return nil, nil
	}
	return &e, nil
}
