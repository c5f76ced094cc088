// Package finance реализует расчёт возмещений по использованным бронированиям и каскадную
// отмену зависящих от них расчётов.
package finance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/passculture/pass-culture-core/internal/metrics"
	"github.com/passculture/pass-culture-core/internal/model"
	"github.com/passculture/pass-culture-core/internal/repository"
	"github.com/passculture/pass-culture-core/internal/validation"
)

// minUsageAge - бронирования, использованные позже now-minUsageAge, ещё не рассчитываются пакетом.
const minUsageAge = time.Minute

// Engine рассчитывает возмещения. Все изменения расчётов финансовой единицы выполняются
// под блокировкой её строки.
type Engine struct {
	store  repository.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine создаёт движок расчётов.
func NewEngine(store repository.Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// PriceBookingByID читает бронирование и рассчитывает его.
func (e *Engine) PriceBookingByID(ctx context.Context, bookingID int64) (*model.Pricing, error) {
	var booking *model.Booking
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		booking, err = tx.GetBooking(ctx, bookingID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return e.PriceBooking(ctx, *booking)
}

// History - все расчёты бронирования, включая отменённые, и журнал смены их статусов.
type History struct {
	Pricings []model.Pricing
	Logs     []model.PricingLog
}

// PricingHistory возвращает историю расчётов бронирования. Удалённые каскадом расчёты в неё не попадают.
func (e *Engine) PricingHistory(ctx context.Context, bookingID int64) (*History, error) {
	var h *History
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		h = nil
		if _, err := tx.GetBooking(ctx, bookingID); err != nil {
			return err
		}
		pricings, err := tx.ListPricings(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("list pricings: %w", err)
		}
		logs, err := tx.ListPricingLogs(ctx, bookingID)
		if err != nil {
			return fmt.Errorf("list pricing logs: %w", err)
		}
		h = &History{Pricings: pricings, Logs: logs}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// PriceBooking рассчитывает использованное бронирование. Возвращает nil, если рассчитывать нечего:
// у площадки нет финансовой единицы с корректным SIRET или бронирование больше не использовано.
// Повторный вызов возвращает уже существующий расчёт.
func (e *Engine) PriceBooking(ctx context.Context, booking model.Booking) (*model.Pricing, error) {
	if booking.BusinessUnit == nil {
		return nil, nil
	}
	if !validation.IsValidSiret(booking.BusinessUnit.Siret) {
		e.logger.Warn("business unit has no valid siret, booking not priced",
			zap.Int64("bookingID", booking.ID), zap.Int64("businessUnitID", booking.BusinessUnit.ID))
		return nil, nil
	}
	businessUnitID := booking.BusinessUnit.ID

	var (
		pricing *model.Pricing
		created bool
	)
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		pricing, created = nil, false

		if err := tx.LockBusinessUnit(ctx, businessUnitID); err != nil {
			return fmt.Errorf("lock business unit: %w", err)
		}

		fresh, err := tx.GetBooking(ctx, booking.ID)
		if err != nil {
			return err
		}
		if fresh.Status != model.BookingStatusUsed || fresh.DateUsed == nil {
			return nil
		}
		if fresh.BusinessUnit == nil || fresh.BusinessUnit.ID != businessUnitID {
			return nil
		}

		existing, err := tx.GetNonCancelledPricing(ctx, fresh.ID)
		switch {
		case err == nil:
			pricing = existing
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if _, err := e.deleteDependentPricings(ctx, tx, businessUnitID, *fresh.DateUsed, fresh.ID, "newly used booking"); err != nil {
			return err
		}

		pricing, err = e.computePricing(ctx, tx, *fresh)
		if err != nil {
			return err
		}
		if err := tx.CreatePricing(ctx, pricing); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if created {
		metrics.PricingsCreated.Inc()
		e.logger.Info("booking priced",
			zap.Int64("bookingID", pricing.BookingID),
			zap.Int64("pricingID", pricing.ID),
			zap.Int64("amount", pricing.Amount),
			zap.Int64("revenue", pricing.Revenue))
	}
	return pricing, nil
}

func (e *Engine) computePricing(ctx context.Context, tx repository.Tx, booking model.Booking) (*model.Pricing, error) {
	businessUnit := booking.BusinessUnit

	var baseline int64
	latest, err := tx.GetLatestPricing(ctx, businessUnit.ID)
	switch {
	case err == nil:
		baseline = latest.Revenue
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	revenue := baseline + model.ToEurocents(booking.TotalAmount())

	customRules, err := tx.ListCustomReimbursementRules(ctx, booking)
	if err != nil {
		return nil, err
	}
	rule := ResolveRule(booking, customRules, model.ToEuros(revenue))

	amount := -model.ToEurocents(rule.Apply(booking))
	offererRevenue := -model.ToEurocents(booking.TotalAmount())

	return &model.Pricing{
		BookingID:      booking.ID,
		BusinessUnitID: businessUnit.ID,
		Siret:          businessUnit.Siret,
		Status:         model.PricingStatusValidated,
		Amount:         amount,
		Revenue:        revenue,
		ValueDate:      *booking.DateUsed,
		CreationDate:   e.now(),
		StandardRule:   rule.Description,
		CustomRuleID:   rule.CustomRuleID,
		Lines: []model.PricingLine{
			{Category: model.PricingLineOffererRevenue, Amount: offererRevenue},
			{Category: model.PricingLineOffererContribution, Amount: amount - offererRevenue},
		},
	}, nil
}

// PriceBookingsResult - итог пакетного расчёта.
type PriceBookingsResult struct {
	Priced int
	// FailedBusinessUnits - финансовые единицы, пропущенные до конца прогона после ошибки.
	FailedBusinessUnits []int64
}

// PriceBookings рассчитывает бронирования, использованные в окне [now-maxAge, now-1min], в порядке
// использования. После ошибки по бронированию остальные бронирования той же финансовой единицы
// пропускаются до конца прогона, остальные единицы обрабатываются дальше.
func (e *Engine) PriceBookings(ctx context.Context, maxAge time.Duration) (PriceBookingsResult, error) {
	now := e.now()
	logger := e.logger.With(zap.String("runID", uuid.NewString()))

	var bookings []model.Booking
	err := e.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		bookings, err = tx.ListBookingsToPrice(ctx, now.Add(-maxAge), now.Add(-minUsageAge))
		return err
	})
	if err != nil {
		return PriceBookingsResult{}, fmt.Errorf("list bookings to price: %w", err)
	}
	logger.Info("pricing run started", zap.Int("bookings", len(bookings)))

	var res PriceBookingsResult
	failed := make(map[int64]struct{})
	for _, b := range bookings {
		if b.BusinessUnit == nil {
			continue
		}
		businessUnitID := b.BusinessUnit.ID
		if _, skip := failed[businessUnitID]; skip {
			continue
		}

		pricing, err := e.PriceBooking(ctx, b)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			logger.Error("could not price booking",
				zap.Int64("bookingID", b.ID),
				zap.Int64("businessUnitID", businessUnitID),
				zap.Error(err))
			metrics.PricingFailures.Inc()
			failed[businessUnitID] = struct{}{}
			res.FailedBusinessUnits = append(res.FailedBusinessUnits, businessUnitID)
			continue
		}
		if pricing != nil {
			res.Priced++
		}
	}

	logger.Info("pricing run finished",
		zap.Int("priced", res.Priced),
		zap.Int64s("failedBusinessUnits", res.FailedBusinessUnits))
	return res, nil
}
