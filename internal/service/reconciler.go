package service

import (
	"context"
	"time"

	"lipa/internal/domain"
	"lipa/internal/repository"
	"lipa/pkg/payment"

	"go.uber.org/zap"
)

type ReconcilerConfig struct {
	Interval     time.Duration
	PendingAfter time.Duration
	BatchSize    int
}

// Reconciler recovers from lost callbacks and from order updates that failed
// after a payment succeeded.
type Reconciler struct {
	intents repository.IntentStore
	gateway payment.Gateway
	settler *Settler
	cfg     ReconcilerConfig
	logger  *zap.Logger
	now     func() time.Time
}

func NewReconciler(intents repository.IntentStore, gateway payment.Gateway, settler *Settler, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Reconciler{intents: intents, gateway: gateway, settler: settler, cfg: cfg, logger: logger, now: time.Now}
}

// Start runs until ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("reconciler stopped")
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce does one pass and returns how many intents it settled and orders it synced.
func (r *Reconciler) RunOnce(ctx context.Context) (settled, synced int) {
	return r.resolveStale(ctx), r.syncOrders(ctx)
}

func (r *Reconciler) resolveStale(ctx context.Context) int {
	stale, err := r.intents.ListStalePending(ctx, r.now().Add(-r.cfg.PendingAfter), r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("list stale pending intents", zap.Error(err))
		return 0
	}
	settled := 0
	for i := range stale {
		p := &stale[i]
		res, err := r.gateway.QueryPush(ctx, p.CheckoutID())
		if err != nil {
			r.logger.Warn("stk query failed", zap.Uint("intent_id", p.ID), zap.Error(err))
			continue
		}
		if !res.Final {
			continue
		}
		changed, err := r.settler.Apply(ctx, p, repository.Transition{
			Status:            domain.Outcome(res.ResultCode),
			ResultCode:        res.ResultCode,
			ResultDescription: res.ResultDesc,
			RawPayload:        res.Raw,
		}, "reconciler")
		if err != nil {
			r.logger.Error("reconcile transition failed", zap.Uint("intent_id", p.ID), zap.Error(err))
			continue
		}
		if changed {
			settled++
		}
	}
	if settled > 0 {
		r.logger.Info("reconciled stale intents", zap.Int("count", settled))
	}
	return settled
}

func (r *Reconciler) syncOrders(ctx context.Context) int {
	unsynced, err := r.intents.ListUnsyncedSucceeded(ctx, r.cfg.BatchSize)
	if err != nil {
		r.logger.Error("list unsynced intents", zap.Error(err))
		return 0
	}
	synced := 0
	for i := range unsynced {
		if r.settler.SyncOrder(ctx, &unsynced[i]) {
			synced++
		}
	}
	return synced
}
