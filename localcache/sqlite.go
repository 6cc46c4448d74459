package localcache

import (
	"errors"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Entry is one cached value.
type Entry struct {
	Key       string `gorm:"primaryKey;type:varchar(100)"`
	Value     []byte
	UpdatedAt time.Time
}

func (Entry) TableName() string {
	return "cache_entries"
}

// SQLiteBackend stores entries in a per-device sqlite file so every process
// on the device sees the same snapshot.
type SQLiteBackend struct {
	DB *gorm.DB
}

// OpenSQLite opens (or creates) the cache file at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return NewSQLiteBackend(db)
}

// NewSQLiteBackend uses an already opened database.
func NewSQLiteBackend(db *gorm.DB) (*SQLiteBackend, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &SQLiteBackend{DB: db}, nil
}

func (s *SQLiteBackend) Get(key string) ([]byte, bool, error) {
	var e Entry
	err := s.DB.First(&e, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e.Value, true, nil
}

func (s *SQLiteBackend) Put(key string, value []byte) error {
	e := Entry{Key: key, Value: value, UpdatedAt: time.Now()}
	return s.DB.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&e).Error
}

func (s *SQLiteBackend) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
