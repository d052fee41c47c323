package database

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"tuitionpay_backend/internals/configs"
	billingModel "tuitionpay_backend/internals/features/billing/model"
	enrollmentModel "tuitionpay_backend/internals/features/enrollment/model"
	studentModel "tuitionpay_backend/internals/features/students/model"
	webhookModel "tuitionpay_backend/internals/features/webhooks/model"
	"tuitionpay_backend/internals/kvstore"
)

// ConnectDB opens the Postgres pool. statement_timeout keeps a stuck query
// from outliving the HTTP timeout.
func ConnectDB(cfg configs.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database url is empty")
	}
	log.Info("connecting to postgres")

	level := gormLogger.Warn
	if !cfg.IsProduction() {
		level = gormLogger.Info
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  withStatementTimeout(cfg.DatabaseURL),
		PreferSimpleProtocol: true, // PgBouncer transaction pooling
	}), &gorm.Config{
		Logger: configs.NewGormLogger(log, level),
	})
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	log.Info("db connected")
	return db, nil
}

func TunePool(db *gorm.DB, log *zap.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("pool tune failed", zap.Error(err))
		return
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(60 * time.Second)
	sqlDB.SetConnMaxLifetime(10 * time.Minute)
}

// WarmUp fills the pool in the background so the first webhook does not pay
// for the handshake.
func WarmUp(db *gorm.DB, log *zap.Logger) {
	go func() {
		time.Sleep(500 * time.Millisecond)
		if err := Ping(context.Background(), db); err != nil {
			log.Warn("warm-up ping failed", zap.Error(err))
		}
	}()
}

func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func Close(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// Models lists every table owned by this service, in dependency order.
func Models() []any {
	return []any{
		&studentModel.BatchModel{},
		&studentModel.SiblingGroupModel{},
		&studentModel.PayerModel{},
		&studentModel.StudentModel{},
		&enrollmentModel.EnrollmentModel{},
		&enrollmentModel.EnrollmentStudentModel{},
		&billingModel.SubscriptionModel{},
		&billingModel.StudentPaymentModel{},
		&webhookModel.WebhookEventModel{},
		&kvstore.EntryModel{},
	}
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}

func withStatementTimeout(dsn string) string {
	sep := "?"
	for i := 0; i < len(dsn); i++ {
		if dsn[i] == '?' {
			sep = "&"
			break
		}
	}
	return dsn + sep + "options=-c%20statement_timeout%3D5000"
}
