package sqlstore

import (
	"context"
	"errors"
	"time"

	"github.com/suPer8Hu/ola-suite/internal/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entry struct {
	Key       string    `gorm:"primaryKey;type:varchar(128)"`
	Value     string    `gorm:"type:text;not null"`
	UpdatedAt time.Time
}

func (entry) TableName() string { return "client_kv" }

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var e entry
	if err := s.db.WithContext(ctx).First(&e, "`key` = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", store.ErrNotFound
		}
		return "", err
	}
	return e.Value, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&entry{Key: key, Value: value}).Error
}

func (s *Store) Remove(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&entry{}, "`key` = ?", key).Error
}
