// Package bootstrap opens the shared infrastructure used by both the HTTP
// server and the admin CLI.
package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"tuitionpay_backend/internals/configs"
	database "tuitionpay_backend/internals/databases"
	"tuitionpay_backend/internals/kvstore"
	"tuitionpay_backend/internals/processor"
)

type Runtime struct {
	DB        *gorm.DB
	KV        kvstore.Store
	Processor processor.Client

	closers []func()
}

// Open connects Postgres, then Redis when REDIS_URL is set. Without Redis the
// KV store lives in the kv_entries table.
func Open(ctx context.Context, cfg configs.Config, log *zap.Logger) (*Runtime, error) {
	db, err := database.ConnectDB(cfg, log)
	if err != nil {
		return nil, err
	}
	database.TunePool(db, log)
	rt := &Runtime{DB: db, closers: []func(){func() { database.Close(db) }}}

	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		rs, err := kvstore.OpenRedis(pingCtx, cfg.RedisURL)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.KV = rs
		rt.closers = append(rt.closers, func() { _ = rs.Close() })
		log.Info("kv store: redis")
	} else {
		rt.KV = kvstore.NewGormStore(db)
		log.Info("kv store: postgres fallback")
	}

	rt.Processor = processor.NewStripeClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret, cfg.StripeProductID)
	return rt, nil
}

// Close releases resources in reverse order of acquisition.
func (r *Runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
