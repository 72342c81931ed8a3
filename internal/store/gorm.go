package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// kvRecord is the relational shape of a Store entry.
type kvRecord struct {
	Key   string `gorm:"primaryKey;column:key;size:512"`
	Value []byte `gorm:"column:value"`
}

func (kvRecord) TableName() string { return "risk_engine_kv" }

// GormStore is a Store backed by a relational key-value table, for
// deployments that mandate Postgres (or sqlite for local runs) over an
// embedded KV store.
type GormStore struct {
	db *gorm.DB
}

// NewPostgresStore opens a Postgres-backed store using the given DSN.
func NewPostgresStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return newGormStore(db)
}

// NewSQLiteStore opens a sqlite-backed store at path.
func NewSQLiteStore(path string) (*GormStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store at %s: %w", path, err)
	}
	return newGormStore(db)
}

func newGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&kvRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate kv schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec kvRecord
	err := s.db.WithContext(ctx).First(&rec, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec.Value, nil
}

func (s *GormStore) Put(ctx context.Context, key string, value []byte) error {
	rec := kvRecord{Key: key, Value: value}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *GormStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&kvRecord{}, "key = ?", key).Error
}

func (s *GormStore) ScanPrefix(ctx context.Context, prefix string, fn func(kv KV) error) error {
	// Escape LIKE metacharacters so a literal prefix scan stays literal.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(prefix)
	rows, err := s.db.WithContext(ctx).
		Model(&kvRecord{}).
		Where(`key LIKE ? ESCAPE '\'`, escaped+"%").
		Order("key asc").
		Rows()
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rec kvRecord
		if err := s.db.ScanRows(rows, &rec); err != nil {
			return err
		}
		if err := fn(KV{Key: rec.Key, Value: rec.Value}); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
