package service

import (
	"context"
	"errors"
	"math"

	"ride-dispatch/internal/domain/dispatch"
	"ride-dispatch/internal/domain/ledger"
	"ride-dispatch/internal/domain/trip"
	"ride-dispatch/internal/general/contracts"
	"ride-dispatch/internal/general/logger"
	"ride-dispatch/internal/general/metrics"
	"ride-dispatch/internal/ports"
)

// Interlock runs the money side of acceptance and completion. Every call
// joins the caller's transaction: a failed status CAS rolls the transfers
// back with it.
type Interlock struct {
	logger  *logger.Logger
	uow     ports.UnitOfWork
	ledger  ports.Ledger
	metrics *metrics.Metrics
	cfg     func() *dispatch.Config
}

// NewInterlock constructs the payment interlock.
func NewInterlock(logger *logger.Logger, uow ports.UnitOfWork, l ports.Ledger, m *metrics.Metrics, cfg func() *dispatch.Config) *Interlock {
	return &Interlock{logger: logger, uow: uow, ledger: l, metrics: m, cfg: cfg}
}

// roundShare converts a fare share to minor units, rounding half away from
// zero.
func roundShare(amount int64, rate float64) int64 {
	return int64(math.Round(float64(amount) * rate))
}

// DebitOnAcceptance moves the vault deduction from the captain to the house.
// ledger.ErrInsufficientFunds means acceptance must be refused.
func (il *Interlock) DebitOnAcceptance(ctx context.Context, captainID string, fareAmount int64) (int64, error) {
	deduction := roundShare(fareAmount, il.cfg().MainVaultDeductionRate)
	if deduction <= 0 {
		return 0, nil
	}

	var amount int64
	err := il.uow.WithinTx(ctx, func(ctx context.Context) error {
		from := ledger.Party{ID: captainID, Role: ledger.RoleCaptain}
		t, err := il.ledger.Transfer(ctx, from, ledger.HouseVault, deduction, ledger.KindVaultDeduction)
		if err != nil {
			return err
		}
		amount = t.Amount
		return nil
	})
	if err != nil {
		return 0, err
	}

	il.metrics.TransfersSettled.WithLabelValues(ledger.KindVaultDeduction).Inc()
	return amount, nil
}

// SettleOnCompletion runs the commission and overage transfers for a
// submitted payment. Commission always settles (the fare was collected in
// cash outside the ledger); an overage the captain cannot cover is parked as
// a pending transfer and retried by the settler loop.
func (il *Interlock) SettleOnCompletion(ctx context.Context, t *trip.Trip, received int64) (*contracts.PaymentBreakdown, error) {
	if t.DriverID == nil {
		return nil, trip.ErrDriverRequired
	}
	captainParty := ledger.Party{ID: *t.DriverID, Role: ledger.RoleCaptain}
	passengerParty := ledger.Party{ID: t.PassengerID, Role: ledger.RolePassenger}

	expected := t.Fare.Amount
	commission := roundShare(expected, il.cfg().CommissionRate)
	overage := received - expected

	breakdown := &contracts.PaymentBreakdown{
		RideID:         t.ID,
		Expected:       expected,
		Received:       received,
		Commission:     commission,
		Classification: "full",
	}
	if received < expected {
		breakdown.Classification = "partial"
	}

	err := il.uow.WithinTx(ctx, func(ctx context.Context) error {
		if commission > 0 {
			if _, err := il.ledger.ForceTransfer(ctx, captainParty, ledger.HouseVault, commission, ledger.KindCommission); err != nil {
				return err
			}
			il.metrics.TransfersSettled.WithLabelValues(ledger.KindCommission).Inc()
		}

		if overage > 0 {
			breakdown.Overage = overage
			_, err := il.ledger.Transfer(ctx, captainParty, passengerParty, overage, ledger.KindOverageRefund)
			switch {
			case err == nil:
				il.metrics.TransfersSettled.WithLabelValues(ledger.KindOverageRefund).Inc()
			case errors.Is(err, ledger.ErrInsufficientFunds):
				// completion must not block on the refund; park it
				if _, err := il.ledger.EnqueuePending(ctx, captainParty, passengerParty, overage, ledger.KindOverageRefund); err != nil {
					return err
				}
				breakdown.OveragePending = true
			default:
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	il.logger.Info(il.logger.WithTripID(ctx, t.ID), "payment_settled", "Completion transfers recorded", map[string]any{
		"expected":        expected,
		"received":        received,
		"commission":      commission,
		"overage":         breakdown.Overage,
		"overage_pending": breakdown.OveragePending,
		"classification":  breakdown.Classification,
	})
	return breakdown, nil
}
