package kvstore

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&EntryModel{}))
	return db
}

type fixture struct {
	store   Store
	advance func(time.Duration)
}

func stores(t *testing.T) map[string]func(t *testing.T) fixture {
	return map[string]func(t *testing.T) fixture{
		"gorm": func(t *testing.T) fixture {
			s := NewGormStore(openSQLite(t))
			now := time.Now()
			s.now = func() time.Time { return now }
			return fixture{store: s, advance: func(d time.Duration) { now = now.Add(d) }}
		},
		"redis": func(t *testing.T) fixture {
			mr := miniredis.RunT(t)
			rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = rdb.Close() })
			return fixture{store: NewRedisStore(rdb), advance: mr.FastForward}
		},
	}
}

func TestStore_GetSetExpiry(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := mk(t)

			_, err := f.store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, f.store.Set(ctx, "payment_setup:cus_1", "pending", time.Minute))
			v, err := f.store.Get(ctx, "payment_setup:cus_1")
			require.NoError(t, err)
			assert.Equal(t, "pending", v)

			f.advance(2 * time.Minute)
			_, err = f.store.Get(ctx, "payment_setup:cus_1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_SetNX(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := mk(t)

			ok, err := f.store.SetNX(ctx, "processed_setup:seti_1", "1", time.Hour)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = f.store.SetNX(ctx, "processed_setup:seti_1", "1", time.Hour)
			require.NoError(t, err)
			assert.False(t, ok)

			f.advance(2 * time.Hour)
			ok, err = f.store.SetNX(ctx, "processed_setup:seti_1", "2", time.Hour)
			require.NoError(t, err)
			assert.True(t, ok, "expired key can be claimed again")
		})
	}
}

func TestStore_IncrKeepsFirstExpiry(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := mk(t)
			key := VerifyAttemptKey("seti_1")

			for want := int64(1); want <= 3; want++ {
				n, err := f.store.Incr(ctx, key, VerifyAttemptTTL)
				require.NoError(t, err)
				assert.Equal(t, want, n)
				f.advance(5 * time.Minute)
			}

			f.advance(VerifyAttemptTTL)
			n, err := f.store.Incr(ctx, key, VerifyAttemptTTL)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "counter restarts after the window")
		})
	}
}

func TestStore_ListCapped(t *testing.T) {
	for name, mk := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			f := mk(t)

			for i := 0; i < 5; i++ {
				require.NoError(t, f.store.LPush(ctx, NotificationsKey, fmt.Sprintf("n%d", i), 3, NotificationTTL))
			}
			got, err := f.store.LRange(ctx, NotificationsKey, 0, -1)
			require.NoError(t, err)
			assert.Equal(t, []string{"n4", "n3", "n2"}, got)

			got, err = f.store.LRange(ctx, NotificationsKey, 0, 0)
			require.NoError(t, err)
			assert.Equal(t, []string{"n4"}, got)

			require.NoError(t, f.store.Del(ctx, NotificationsKey))
			got, err = f.store.LRange(ctx, NotificationsKey, 0, -1)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestGormStore_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	s := NewGormStore(openSQLite(t))
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", "1", time.Minute))
	require.NoError(t, s.Set(ctx, "b", "1", 0))
	now = now.Add(time.Hour)

	n, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := Exists(ctx, s, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}
