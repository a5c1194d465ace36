package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tradecopier/src/model"
	"tradecopier/src/repository"
)

// Reconciler is the recovery sweep for the ledger: a crash between "insert
// pending" and "settle outcome" strands a pending row, and nothing inside
// the request path can fix that. The sweep finds pending rows past their
// age limit and settles them as timed out.
type Reconciler struct {
	logger     *logrus.Entry
	operations *repository.CopyOperationRepository
	events     *repository.SystemEventRepository
	notifier   Notifier
	config     Config
	now        func() time.Time
}

func NewReconciler(
	logger *logrus.Entry,
	operations *repository.CopyOperationRepository,
	events *repository.SystemEventRepository,
	notifier Notifier,
	config Config,
) *Reconciler {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Reconciler{
		logger:     logger,
		operations: operations,
		events:     events,
		notifier:   notifier,
		config:     config,
		now:        time.Now,
	}
}

// Run sweeps on a fixed period until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.config.SweepPeriod)
	defer ticker.Stop()

	r.logger.WithFields(logrus.Fields{
		"period":  r.config.SweepPeriod,
		"max_age": r.config.PendingMaxAge,
	}).Info("reconciler loop started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler loop stopped")
			return nil

		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil {
				r.logger.WithError(err).Error("reconciler sweep failed")
			}
		}
	}
}

// SweepOnce settles every pending ledger row older than the configured age
// limit and returns how many rows it settled.
func (r *Reconciler) SweepOnce(ctx context.Context) (int, error) {
	cutoff := r.now().UTC().Add(-r.config.PendingMaxAge)

	settled, err := r.operations.SweepStale(ctx, cutoff)
	if err != nil {
		return len(settled), err
	}

	for i := range settled {
		op := &settled[i]

		event := &model.SystemEvent{
			EventType: model.EventCopyOperationTimedOut,
			Severity:  model.SeverityError,
			Message:   fmt.Sprintf("Copy operation %d timed out in pending state", op.ID),
			Metadata: map[string]any{
				"operation_id":    op.ID,
				"master_trade_id": op.MasterTradeID,
				"copy_rule_id":    op.CopyRuleID,
				"operation_type":  op.OperationType,
			},
		}
		r.events.Log(ctx, event)

		if r.notifier != nil {
			r.notifier.CopyOperationChanged("update", op)
			r.notifier.SystemEventLogged(event)
		}
	}

	if len(settled) > 0 {
		r.logger.WithField("settled", len(settled)).Warn("stale pending copy operations settled as timed out")
	}

	return len(settled), nil
}
