package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
)

// deleteDependentPricings удаляет расчёты финансовой единицы, идущие после (valueDate, bookingID)
// в порядке использования. Вызывается под блокировкой финансовой единицы.
func (e *Engine) deleteDependentPricings(ctx context.Context, tx repository.Tx, businessUnitID int64, valueDate time.Time, bookingID int64, reason string) (int, error) {
	pricings, err := tx.ListPricingsAfter(ctx, businessUnitID, valueDate, bookingID)
	if err != nil {
		return 0, err
	}
	if len(pricings) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(pricings))
	bookingIDs := make([]int64, 0, len(pricings))
	for _, p := range pricings {
		if !p.Status.IsDeletable() {
			e.logger.Error("found non-deletable pricing for a booking used after another being priced or cancelled",
				zap.Int64("pricingID", p.ID),
				zap.String("status", string(p.Status)),
				zap.Int64("bookingID", bookingID),
				zap.Int64("dependentBookingID", p.BookingID))
			return 0, fmt.Errorf("%w: pricing %d is %s", ErrNonCancellablePricing, p.ID, p.Status)
		}
		ids = append(ids, p.ID)
		bookingIDs = append(bookingIDs, p.BookingID)
	}

	if err := tx.DeletePricings(ctx, ids); err != nil {
		return 0, err
	}
	metrics.PricingsDeleted.Add(float64(len(ids)))
	e.logger.Info("deleted dependent pricings",
		zap.Int64("bookingID", bookingID),
		zap.String("reason", reason),
		zap.Int64s("pricingIDs", ids),
		zap.Int64s("dependentBookingIDs", bookingIDs))
	return len(ids), nil
}

// CancelPricing отменяет действующий расчёт бронирования и удаляет все расчёты, идущие после него,
// чтобы их можно было пересчитать по порядку. Если расчёта нет, ничего не делает и возвращает nil.
func (e *Engine) CancelPricing(ctx context.Context, bookingID int64, reason model.PricingLogReason) (*model.Pricing, error) {
	var (
		pricing   *model.Pricing
		cancelled bool
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pricing, cancelled = nil, false

		current, err := tx.GetNonCancelledPricing(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}

		if err := tx.LockBusinessUnit(ctx, current.BusinessUnitID); err != nil {
			return fmt.Errorf("lock business unit: %w", err)
		}

		// Перечитываем под блокировкой: расчёт мог быть отменён или удалён параллельно.
		current, err = tx.GetNonCancelledPricing(ctx, bookingID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if !current.Status.IsCancellable() {
			return fmt.Errorf("%w: pricing %d is %s", ErrNonCancellablePricing, current.ID, current.Status)
		}

		if _, err := e.deleteDependentPricings(ctx, tx, current.BusinessUnitID, current.ValueDate, current.BookingID, string(reason)); err != nil {
			return err
		}

		if err := tx.CreatePricingLog(ctx, &model.PricingLog{
			PricingID:    current.ID,
			StatusBefore: current.Status,
			StatusAfter:  model.PricingStatusCancelled,
			Reason:       reason,
			Timestamp:    e.now(),
		}); err != nil {
			return err
		}
		if err := tx.UpdatePricingStatus(ctx, current.ID, model.PricingStatusCancelled); err != nil {
			return err
		}

		current.Status = model.PricingStatusCancelled
		pricing, cancelled = current, true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if cancelled {
		metrics.PricingsCancelled.Inc()
		e.logger.Info("pricing cancelled",
			zap.Int64("bookingID", bookingID),
			zap.Int64("pricingID", pricing.ID),
			zap.String("reason", string(reason)))
	}
	return pricing, nil
}
