package service

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	billingModel "tuitionpay_backend/internals/features/billing/model"
	billingService "tuitionpay_backend/internals/features/billing/service"
	studentModel "tuitionpay_backend/internals/features/students/model"
	"tuitionpay_backend/internals/processor"
)

const (
	InvoicePageSize = 100
	SyncConcurrency = 5
)

type BackfillSummary struct {
	Subscriptions     int      `json:"subscriptions"`
	InvoicesProcessed int      `json:"invoices_processed"`
	RowsCreated       int      `json:"rows_created"`
	SkippedNotFound   []string `json:"skipped_not_found,omitempty"`
	SkippedUnknown    []string `json:"skipped_unknown,omitempty"`
	Failed            []string `json:"failed,omitempty"`
	DurationMillis    int64    `json:"duration_ms"`
}

type SyncSummary struct {
	Checked        int      `json:"checked"`
	Changed        int      `json:"changed"`
	NotFound       []string `json:"not_found,omitempty"`
	Failed         []string `json:"failed,omitempty"`
	DurationMillis int64    `json:"duration_ms"`
}

// ReconcileService pulls processor state back into the local store. Both jobs
// are safe to re-run: payment rows are keyed by (student, invoice) and status
// mirroring is a plain overwrite.
type ReconcileService struct {
	DB            *gorm.DB
	Processor     processor.Client
	Subscriptions *billingService.SubscriptionService
	Log           *zap.Logger
}

func NewReconcileService(db *gorm.DB, proc processor.Client, subs *billingService.SubscriptionService, log *zap.Logger) *ReconcileService {
	return &ReconcileService{DB: db, Processor: proc, Subscriptions: subs, Log: log}
}

// KnownSubscriptionIDs unions the ids referenced by students with the ones in
// the subscriptions table. Students carry the id even for subscriptions that
// predate the local table.
func (s *ReconcileService) KnownSubscriptionIDs(ctx context.Context) ([]string, error) {
	db := s.DB.WithContext(ctx)
	var fromStudents, fromSubs []string
	if err := db.Model(&studentModel.StudentModel{}).
		Where("student_subscription_id IS NOT NULL AND student_subscription_id <> ''").
		Distinct().Pluck("student_subscription_id", &fromStudents).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&billingModel.SubscriptionModel{}).
		Where("subscription_processor_id IS NOT NULL").
		Pluck("subscription_processor_id", &fromSubs).Error; err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(fromStudents)+len(fromSubs))
	out := make([]string, 0, len(fromStudents)+len(fromSubs))
	for _, id := range append(fromStudents, fromSubs...) {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// ======================
// backfill
// ======================

// BackfillPayments records every paid invoice of every known subscription.
// A subscription the processor does not know is skipped with a warning; any
// other per-subscription failure is counted and the job moves on.
func (s *ReconcileService) BackfillPayments(ctx context.Context) (*BackfillSummary, error) {
	started := time.Now()
	ids, err := s.KnownSubscriptionIDs(ctx)
	if err != nil {
		return nil, err
	}
	sum := &BackfillSummary{Subscriptions: len(ids)}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		log := s.Log.With(zap.String("subscription_id", id))

		sub, err := s.localSubscription(ctx, id)
		if errors.Is(err, billingService.ErrSubscriptionNotFound) {
			log.Warn("backfill: subscription has no local record")
			sum.SkippedUnknown = append(sum.SkippedUnknown, id)
			continue
		}
		if err != nil {
			return sum, err
		}

		invoices, created := 0, 0
		err = s.Processor.ListPaidInvoices(ctx, id, InvoicePageSize, func(inv processor.Invoice) error {
			if inv.SubscriptionID == "" {
				inv.SubscriptionID = id
			}
			n, err := billingService.RecordInvoicePayment(ctx, s.DB, *sub, inv, billingModel.PaymentSourceBackfill)
			if err != nil {
				return err
			}
			invoices++
			created += n
			return nil
		})
		sum.InvoicesProcessed += invoices
		sum.RowsCreated += created

		switch {
		case err == nil:
			log.Info("backfill: subscription done", zap.Int("invoices", invoices), zap.Int("rows_created", created))
		case processor.IsNotFound(err):
			log.Warn("backfill: subscription not found on processor, skipping")
			sum.SkippedNotFound = append(sum.SkippedNotFound, id)
		case ctx.Err() != nil:
			return sum, ctx.Err()
		default:
			log.Error("backfill: subscription failed", zap.Error(err))
			sum.Failed = append(sum.Failed, id)
		}
	}

	sum.DurationMillis = time.Since(started).Milliseconds()
	s.Log.Info("backfill finished",
		zap.Int("subscriptions", sum.Subscriptions),
		zap.Int("invoices", sum.InvoicesProcessed),
		zap.Int("rows_created", sum.RowsCreated),
		zap.Int("skipped", len(sum.SkippedNotFound)+len(sum.SkippedUnknown)),
		zap.Int("failed", len(sum.Failed)))
	return sum, nil
}

// localSubscription falls back to a synthetic record built from the students
// that reference id, for subscriptions created before the local table existed.
func (s *ReconcileService) localSubscription(ctx context.Context, id string) (*billingModel.SubscriptionModel, error) {
	sub, err := s.Subscriptions.FindByProcessorID(ctx, s.DB, id)
	if err == nil || !errors.Is(err, billingService.ErrSubscriptionNotFound) {
		return sub, err
	}
	var n int64
	if err := s.DB.WithContext(ctx).Model(&studentModel.StudentModel{}).
		Where("student_subscription_id = ?", id).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, err
	}
	processorID := id
	return &billingModel.SubscriptionModel{SubscriptionProcessorID: &processorID}, nil
}

// ======================
// status sync
// ======================

// SyncSubscriptionStatuses mirrors every local, non-terminal subscription
// from the processor with bounded concurrency. Individual failures are
// collected; the job itself only fails on a local query error.
func (s *ReconcileService) SyncSubscriptionStatuses(ctx context.Context) (*SyncSummary, error) {
	started := time.Now()
	var ids []string
	if err := s.DB.WithContext(ctx).Model(&billingModel.SubscriptionModel{}).
		Where("subscription_processor_id IS NOT NULL").
		Where("subscription_status NOT IN ?", []billingModel.SubscriptionStatus{
			billingModel.SubscriptionStatusCanceled,
			billingModel.SubscriptionStatusIncompleteExpired,
		}).
		Order("subscription_created_at ASC").
		Pluck("subscription_processor_id", &ids).Error; err != nil {
		return nil, err
	}

	type result struct {
		id       string
		changed  bool
		notFound bool
		err      error
	}
	results := make([]result, len(ids))
	var changed atomic.Int32

	// errors stay in results so one failure never cancels the others
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(SyncConcurrency)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r := result{id: id}
			ps, err := s.Processor.GetSubscription(gctx, id)
			switch {
			case processor.IsNotFound(err):
				r.notFound = true
			case err != nil:
				r.err = err
			default:
				r.changed, r.err = s.Subscriptions.MirrorProcessorSubscription(gctx, ps)
				if r.changed {
					changed.Add(1)
				}
			}
			results[i] = r
			return nil
		})
	}
	_ = g.Wait()

	sum := &SyncSummary{Checked: len(ids), Changed: int(changed.Load())}
	for _, r := range results {
		switch {
		case r.notFound:
			s.Log.Warn("sync: subscription not found on processor", zap.String("subscription_id", r.id))
			sum.NotFound = append(sum.NotFound, r.id)
		case r.err != nil:
			s.Log.Error("sync: subscription failed", zap.String("subscription_id", r.id), zap.Error(r.err))
			sum.Failed = append(sum.Failed, r.id)
		}
	}
	sum.DurationMillis = time.Since(started).Milliseconds()
	s.Log.Info("subscription sync finished",
		zap.Int("checked", sum.Checked),
		zap.Int("changed", sum.Changed),
		zap.Int("failed", len(sum.Failed)))
	return sum, ctx.Err()
}
