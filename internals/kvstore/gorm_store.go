package kvstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EntryModel backs the relational store. Rows past expires_at are treated
// as absent and removed by PurgeExpired.
type EntryModel struct {
	Key       string     `gorm:"column:kv_key;type:varchar(255);primaryKey" json:"key"`
	Value     string     `gorm:"column:value;type:text;not null" json:"value"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index" json:"expires_at,omitempty"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (EntryModel) TableName() string { return "kv_entries" }

type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db, now: time.Now}
}

func (s *GormStore) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := s.now().Add(ttl).UTC()
	return &t
}

func (s *GormStore) live(tx *gorm.DB) *gorm.DB {
	return tx.Where("(expires_at IS NULL OR expires_at > ?)", s.now().UTC())
}

func (s *GormStore) find(tx *gorm.DB, key string, forUpdate bool) (*EntryModel, error) {
	q := s.live(tx).Where("kv_key = ?", key)
	if forUpdate && tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row EntryModel
	if err := q.Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *GormStore) put(tx *gorm.DB, key, value string, expiresAt *time.Time) error {
	row := EntryModel{Key: key, Value: value, ExpiresAt: expiresAt}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kv_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&row).Error
}

func (s *GormStore) Get(ctx context.Context, key string) (string, error) {
	row, err := s.find(s.db.WithContext(ctx), key, false)
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *GormStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.put(s.db.WithContext(ctx), key, value, s.expiry(ttl))
}

func (s *GormStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	db := s.db.WithContext(ctx)
	row := EntryModel{Key: key, Value: value, ExpiresAt: s.expiry(ttl)}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	// An expired row still occupies the key; take it over.
	res = db.Model(&EntryModel{}).
		Where("kv_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, s.now().UTC()).
		Updates(map[string]any{"value": value, "expires_at": row.ExpiresAt})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expiresAt := s.expiry(ttl)
		row, err := s.find(tx, key, true)
		switch {
		case errors.Is(err, ErrNotFound):
			n = 1
		case err != nil:
			return err
		default:
			cur, perr := strconv.ParseInt(row.Value, 10, 64)
			if perr != nil {
				return perr
			}
			n = cur + 1
			expiresAt = row.ExpiresAt
		}
		return s.put(tx, key, strconv.FormatInt(n, 10), expiresAt)
	})
	return n, err
}

func (s *GormStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Where("kv_key IN ?", keys).Delete(&EntryModel{}).Error
}

func (s *GormStore) LPush(ctx context.Context, key, value string, capacity int, ttl time.Duration) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var list []string
		row, err := s.find(tx, key, true)
		switch {
		case errors.Is(err, ErrNotFound):
		case err != nil:
			return err
		default:
			if err := sonic.UnmarshalString(row.Value, &list); err != nil {
				return err
			}
		}
		list = append([]string{value}, list...)
		if capacity > 0 && len(list) > capacity {
			list = list[:capacity]
		}
		raw, err := sonic.MarshalString(list)
		if err != nil {
			return err
		}
		return s.put(tx, key, raw, s.expiry(ttl))
	})
}

func (s *GormStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	row, err := s.find(s.db.WithContext(ctx), key, false)
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var list []string
	if err := sonic.UnmarshalString(row.Value, &list); err != nil {
		return nil, err
	}
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	return list[start : stop+1], nil
}

// PurgeExpired deletes rows past their expiry and returns how many went.
func (s *GormStore) PurgeExpired(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Delete(&EntryModel{})
	return res.RowsAffected, res.Error
}
