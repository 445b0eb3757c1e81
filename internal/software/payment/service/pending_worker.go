package service

import (
	"context"
	"errors"
	"time"

	"ride-dispatch/internal/domain/ledger"
)

// settleEvery is the retry cadence for pending transfers.
const settleEvery = 5 * time.Minute

// RunPendingSettler retries pending transfers until ctx is cancelled. Each
// transfer settles in its own transaction so one short balance cannot hold up
// the rest.
func (il *Interlock) RunPendingSettler(ctx context.Context) {
	ticker := time.NewTicker(settleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			il.SettlePendingOnce(ctx)
		}
	}
}

// SettlePendingOnce makes one pass over the pending transfer queue.
func (il *Interlock) SettlePendingOnce(ctx context.Context) {
	var pending []*ledger.Transfer
	err := il.uow.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pending, err = il.ledger.PendingTransfers(ctx)
		return err
	})
	if err != nil {
		il.logger.Error(ctx, "pending_list_failed", "Failed to list pending transfers", err, nil)
		return
	}
	if len(pending) == 0 {
		return
	}

	settled := 0
	for _, t := range pending {
		err := il.uow.WithinTx(ctx, func(ctx context.Context) error {
			return il.ledger.SettlePending(ctx, t.ID)
		})
		switch {
		case err == nil:
			settled++
			il.metrics.TransfersSettled.WithLabelValues(t.Kind).Inc()
		case errors.Is(err, ledger.ErrInsufficientFunds):
			// source still short; stays pending for the next pass
		default:
			il.logger.Error(ctx, "pending_settle_failed", "Failed to settle pending transfer", err, map[string]any{
				"transfer_id": t.ID,
				"kind":        t.Kind,
			})
		}
	}

	il.logger.Info(ctx, "pending_settle_pass", "Pending transfer pass finished", map[string]any{
		"pending": len(pending),
		"settled": settled,
	})
}
